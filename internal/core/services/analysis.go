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
// Pub/Sub surfaces. This file defines the AnalysisService, which runs the
// recipe analysis workflow synchronously or on a bounded worker pool.
//
// Logic Flow:
//  1. Every request gets its own staging directory under
//     acquisition.upload_dir. The directory is removed when the analysis
//     ends, whatever the outcome.
//  2. Analyze runs the workflow in the caller's goroutine.
//  3. Submit stores a pending job and queues it. A full queue is refused
//     with ErrQueueFull instead of blocking the caller.
//  4. Workers move each job to processing and then to completed or failed.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/commands"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultAnalysisTimeout = 15 * time.Minute
	defaultQueueSize       = 16
)

var (
	// ErrQueueFull means every worker is busy and the queue is at capacity.
	ErrQueueFull = errors.New("analysis queue is full")
	// ErrServiceClosed is returned by Submit after Close.
	ErrServiceClosed = errors.New("analysis service is shutting down")
)

type analysisTask struct {
	job *model.AnalysisJob
	ref *model.VideoReference
}

// AnalysisService runs the recipe analysis workflow.
type AnalysisService struct {
	workflow  cor.Command
	store     JobStore
	uploadDir string
	timeout   time.Duration
	workers   int

	mu     sync.RWMutex
	closed bool
	tasks  chan *analysisTask
	wg     sync.WaitGroup
}

func NewAnalysisService(config *cloud.Config, analysis cor.Command, store JobStore) *AnalysisService {
	timeout := defaultAnalysisTimeout
	if config.Application.SyncTimeoutSeconds > 0 {
		timeout = time.Duration(config.Application.SyncTimeoutSeconds) * time.Second
	}
	workers := config.Application.ThreadPoolSize
	if workers <= 0 {
		workers = 1
	}
	queueSize := config.Jobs.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &AnalysisService{
		workflow:  analysis,
		store:     store,
		uploadDir: config.Acquisition.UploadDir,
		timeout:   timeout,
		workers:   workers,
		tasks:     make(chan *analysisTask, queueSize),
	}
}

// Store returns the job store, for polling handlers.
func (s *AnalysisService) Store() JobStore {
	return s.store
}

// Start launches the workers. They stop when Close drains the queue or when
// ctx is cancelled, which also cancels the analyses in flight.
func (s *AnalysisService) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func(worker int) {
			defer s.wg.Done()
			for task := range s.tasks {
				if ctx.Err() != nil {
					s.fail(context.WithoutCancel(ctx), task, ctx.Err())
					continue
				}
				s.process(ctx, worker, task)
			}
		}(i)
	}
}

// Close stops accepting jobs and waits for the queued ones to finish.
func (s *AnalysisService) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.tasks)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// NewStagingDir creates a private directory for one request under the
// upload dir.
func (s *AnalysisService) NewStagingDir() (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	return os.MkdirTemp(s.uploadDir, workflow.StagingDirPattern)
}

func (s *AnalysisService) ensureStagingDir(ref *model.VideoReference) error {
	if ref.StagingDir != "" {
		return nil
	}
	dir, err := s.NewStagingDir()
	if err != nil {
		return err
	}
	ref.StagingDir = dir
	return nil
}

// Analyze runs the whole pipeline for ref and returns the recipe.
func (s *AnalysisService) Analyze(ctx context.Context, ref *model.VideoReference) (*model.Recipe, error) {
	if err := s.ensureStagingDir(ref); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.run(ctx, "", ref)
}

// Submit stores a pending job for ref and queues it. The reference's staging
// directory belongs to the job from here on.
func (s *AnalysisService) Submit(ctx context.Context, ref *model.VideoReference) (*model.AnalysisJob, error) {
	if err := s.ensureStagingDir(ref); err != nil {
		return nil, err
	}
	job := model.NewAnalysisJob(ref.Describe())
	if err := s.store.Create(ctx, job); err != nil {
		_ = os.RemoveAll(ref.StagingDir)
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	reject := func(err error) (*model.AnalysisJob, error) {
		_ = os.RemoveAll(ref.StagingDir)
		if _, terr := s.store.Transition(ctx, job.ID, model.JobFailed, nil, err.Error()); terr != nil {
			slog.WarnContext(ctx, "failed to mark rejected job", "job_id", job.ID, "error", terr)
		}
		return nil, err
	}
	if s.closed {
		return reject(ErrServiceClosed)
	}
	select {
	case s.tasks <- &analysisTask{job: job, ref: ref}:
		slog.InfoContext(ctx, "queued analysis job", "job_id", job.ID, "source", job.Source)
		return job, nil
	default:
		return reject(ErrQueueFull)
	}
}

func (s *AnalysisService) process(ctx context.Context, worker int, task *analysisTask) {
	ctx, span := otel.Tracer("analysis-worker").Start(ctx, "process-job")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", task.job.ID), attribute.Int("worker", worker))

	if _, err := s.store.Transition(ctx, task.job.ID, model.JobProcessing, nil, ""); err != nil {
		slog.ErrorContext(ctx, "failed to start job", "job_id", task.job.ID, "error", err)
		_ = os.RemoveAll(task.ref.StagingDir)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	recipe, err := s.run(runCtx, task.job.ID, task.ref)
	cancel()

	// The outcome is recorded even when shutdown cancelled the run.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.fail(ctx, task, err)
		return
	}

	if _, err := s.store.Transition(ctx, task.job.ID, model.JobCompleted, recipe, ""); err != nil {
		slog.ErrorContext(ctx, "failed to complete job", "job_id", task.job.ID, "error", err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
	slog.InfoContext(ctx, "analysis job completed", "job_id", task.job.ID, "title", recipe.Title, "degraded", recipe.Degraded)
}

func (s *AnalysisService) fail(ctx context.Context, task *analysisTask, cause error) {
	_ = os.RemoveAll(task.ref.StagingDir)
	if _, err := s.store.Transition(ctx, task.job.ID, model.JobFailed, nil, PublicMessage(cause)); err != nil {
		slog.ErrorContext(ctx, "failed to mark job failed", "job_id", task.job.ID, "error", err)
		return
	}
	slog.WarnContext(ctx, "analysis job failed", "job_id", task.job.ID, "source", task.job.Source, "error", cause)
}

// run executes the workflow once. The staging directory is removed when run
// returns, including after a panic in the workflow.
func (s *AnalysisService) run(ctx context.Context, jobID string, ref *model.VideoReference) (recipe *model.Recipe, err error) {
	chainCtx := cor.NewBaseContext()
	defer chainCtx.Close()
	chainCtx.AddTempFile(ref.StagingDir)
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "analysis panicked", "source", ref.Describe(), "panic", r, "stack", string(debug.Stack()))
			recipe, err = nil, fmt.Errorf("analysis of %s panicked: %v", ref.Describe(), r)
		}
	}()

	chainCtx.SetContext(ctx)
	chainCtx.Add(cor.CtxIn, ref)
	chainCtx.Add(commands.ParamReference, ref)
	if jobID != "" {
		chainCtx.Add(commands.ParamJobID, jobID)
	}

	if !s.workflow.IsExecutable(chainCtx) {
		return nil, model.NewAcquisitionError("reference cannot be analyzed", false, model.ErrInvalidReference)
	}
	s.workflow.Execute(chainCtx)
	if err := chainCtx.Err(); err != nil {
		return nil, err
	}
	recipe, ok := chainCtx.Get(commands.ParamRecipe).(*model.Recipe)
	if !ok {
		return nil, errors.New("analysis produced no recipe")
	}
	return recipe, nil
}

// PublicMessage is the client facing text for an analysis error. Causes
// are logged, not returned.
func PublicMessage(err error) string {
	var acqErr *model.AcquisitionError
	var extractionErr *model.ExtractionError
	var synthErr *model.SynthesisError
	switch {
	case errors.As(err, &acqErr):
		return "video could not be acquired: " + acqErr.Reason
	case errors.As(err, &extractionErr):
		return "no text could be extracted from the video"
	case errors.As(err, &synthErr):
		return "recipe generation failed, try again later"
	case errors.Is(err, ErrQueueFull):
		return ErrQueueFull.Error()
	case errors.Is(err, ErrServiceClosed):
		return ErrServiceClosed.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "analysis timed out"
	case errors.Is(err, context.Canceled):
		return "analysis was cancelled"
	default:
		return "analysis failed"
	}
}
