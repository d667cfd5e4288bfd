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

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an AnalysisJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobProcessing, JobFailed},
	JobProcessing: {JobCompleted, JobFailed},
}

// CanTransition reports whether a job may move from s to next. Terminal
// states have no way out.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// AnalysisJob tracks one asynchronous analysis.
type AnalysisJob struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Result    *Recipe   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAnalysisJob creates a pending job with a random id.
func NewAnalysisJob(source string) *AnalysisJob {
	now := time.Now().UTC()
	return &AnalysisJob{
		ID:        uuid.NewString(),
		Status:    JobPending,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition returns a copy of the job moved to next. The receiver is left
// untouched so stores can swap the whole value atomically. result is kept
// only for completed jobs and errMsg only for failed ones.
func (j *AnalysisJob) Transition(next JobStatus, result *Recipe, errMsg string) (*AnalysisJob, error) {
	if !j.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: job %s from %s to %s", ErrInvalidTransition, j.ID, j.Status, next)
	}
	out := *j
	out.Status = next
	out.UpdatedAt = time.Now().UTC()
	out.Result = nil
	out.Error = ""
	switch next {
	case JobCompleted:
		out.Result = result
	case JobFailed:
		out.Error = errMsg
	}
	return &out, nil
}
