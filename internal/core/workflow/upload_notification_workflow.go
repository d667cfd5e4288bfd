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

package workflow

import (
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/commands"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
)

// UploadNotificationWorkflow turns a Cloud Storage finalize notification for
// a video into an asynchronous analysis job. Notifications for other objects
// pass without doing anything, so the listener acks them.
type UploadNotificationWorkflow struct {
	cor.BaseCommand
	chain cor.Chain
}

func NewUploadNotificationWorkflow(submitter commands.JobSubmitter) *UploadNotificationWorkflow {
	chain := cor.NewBaseChain("upload-notification")
	chain.AddCommand(commands.NewMediaTriggerToReference("media-trigger-to-reference"))
	chain.AddCommand(commands.NewAnalysisJobSubmitter("submit-analysis-job", submitter))

	return &UploadNotificationWorkflow{
		BaseCommand: *cor.NewBaseCommand("upload-notification-workflow"),
		chain:       chain,
	}
}

func (u *UploadNotificationWorkflow) Execute(context cor.Context) {
	u.chain.Execute(context)
}
