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

// Package services contains the application logic behind the HTTP and
// Pub/Sub surfaces: running analyses, tracking asynchronous jobs, reporting
// health and signing archive URLs. This file defines the job store.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

const (
	defaultJobTTL        = 24 * time.Hour
	defaultJobMaxEntries = 10000
)

// ErrJobNotFound is returned for unknown, expired and evicted job ids.
var ErrJobNotFound = errors.New("job not found")

// JobStore keeps analysis jobs. Transition must be atomic with respect to
// other transitions of the same job and must refuse illegal status changes
// with model.ErrInvalidTransition.
type JobStore interface {
	Create(ctx context.Context, job *model.AnalysisJob) error
	Get(ctx context.Context, id string) (*model.AnalysisJob, error)
	Transition(ctx context.Context, id string, next model.JobStatus, result *model.Recipe, errMsg string) (*model.AnalysisJob, error)
	Ping(ctx context.Context) error
}

// NewJobStore creates the store selected by config.Jobs.Backend.
func NewJobStore(config *cloud.Config) (JobStore, error) {
	switch config.Jobs.Backend {
	case cloud.JobBackendRedis:
		return NewRedisJobStore(config.Jobs)
	default:
		return NewMemoryJobStore(config.Jobs), nil
	}
}

// jobTTL is the configured lifetime of a job after its last update.
func jobTTL(config cloud.Jobs) time.Duration {
	if config.TTLSeconds > 0 {
		return time.Duration(config.TTLSeconds) * time.Second
	}
	return defaultJobTTL
}

// MemoryJobStore keeps jobs in a size bounded LRU whose entries expire after
// the job TTL. Every write replaces the stored value with a fresh copy, so
// readers never observe a half updated job.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs *expirable.LRU[string, *model.AnalysisJob]
}

func NewMemoryJobStore(config cloud.Jobs) *MemoryJobStore {
	size := config.MaxEntries
	if size <= 0 {
		size = defaultJobMaxEntries
	}
	return &MemoryJobStore{jobs: expirable.NewLRU[string, *model.AnalysisJob](size, nil, jobTTL(config))}
}

func (m *MemoryJobStore) Create(_ context.Context, job *model.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *job
	m.jobs.Add(job.ID, &stored)
	return nil
}

func (m *MemoryJobStore) Get(_ context.Context, id string) (*model.AnalysisJob, error) {
	job, ok := m.jobs.Get(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	out := *job
	return &out, nil
}

func (m *MemoryJobStore) Transition(_ context.Context, id string, next model.JobStatus, result *model.Recipe, errMsg string) (*model.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.jobs.Get(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	updated, err := current.Transition(next, result, errMsg)
	if err != nil {
		return nil, err
	}
	m.jobs.Add(id, updated)
	out := *updated
	return &out, nil
}

func (m *MemoryJobStore) Ping(_ context.Context) error {
	return nil
}
