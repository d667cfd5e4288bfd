// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	goctx "context"
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

// JobSubmitter queues a reference for asynchronous analysis.
type JobSubmitter interface {
	Submit(ctx goctx.Context, ref *model.VideoReference) (*model.AnalysisJob, error)
}

// AnalysisJobSubmitter hands references from bucket notifications to the
// analysis service. A full queue is an error so the message is redelivered.
type AnalysisJobSubmitter struct {
	cor.BaseCommand
	submitter JobSubmitter
}

func NewAnalysisJobSubmitter(name string, submitter JobSubmitter) *AnalysisJobSubmitter {
	return &AnalysisJobSubmitter{BaseCommand: *cor.NewBaseCommand(name), submitter: submitter}
}

func (s *AnalysisJobSubmitter) IsExecutable(context cor.Context) bool {
	_, ok := context.Get(s.GetInputParam()).(*model.VideoReference)
	return s.BaseCommand.IsExecutable(context) && ok
}

func (s *AnalysisJobSubmitter) Execute(context cor.Context) {
	ref := context.Get(s.GetInputParam()).(*model.VideoReference)

	job, err := s.submitter.Submit(context.GetContext(), ref)
	if err != nil {
		s.Fail(context, fmt.Errorf("submit %s: %w", ref.Describe(), err))
		return
	}
	slog.InfoContext(context.GetContext(), "submitted analysis job", "job_id", job.ID, "source", job.Source)

	s.Succeed(context)
	context.Add(ParamJobID, job.ID)
	context.Add(s.GetOutputParam(), job)
}
