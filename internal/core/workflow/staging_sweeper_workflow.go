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

// Package workflow assembles commands into the pipelines the service runs.
// This file implements the background sweeper for staging directories.
package workflow

import (
	goctx "context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// StagingDirPattern is the os.MkdirTemp pattern of per-request staging
// directories. The sweeper only touches directories matching it.
const StagingDirPattern = "staging-*"

const defaultStaleAfter = 60 * time.Minute

// StagingSweeperWorkflow removes staging directories older than the stale
// threshold. Requests clean up after themselves; the sweeper handles what a
// crashed or killed process left behind.
type StagingSweeperWorkflow struct {
	cor.BaseCommand
	root       string
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time
}

func NewStagingSweeperWorkflow(config *cloud.Config) *StagingSweeperWorkflow {
	staleAfter := defaultStaleAfter
	if config.Acquisition.StaleAfterMinutes > 0 {
		staleAfter = time.Duration(config.Acquisition.StaleAfterMinutes) * time.Minute
	}
	return &StagingSweeperWorkflow{
		BaseCommand: *cor.NewBaseCommand("staging-sweeper"),
		root:        config.Acquisition.UploadDir,
		staleAfter:  staleAfter,
		interval:    time.Duration(config.Acquisition.SweepIntervalSeconds) * time.Second,
		now:         time.Now,
	}
}

// IsExecutable needs nothing from the context.
func (s *StagingSweeperWorkflow) IsExecutable(context cor.Context) bool {
	return context != nil && s.root != ""
}

// Execute removes every stale staging directory under the upload dir and
// puts the number removed in cor.CtxOut.
func (s *StagingSweeperWorkflow) Execute(context cor.Context) {
	ctx := context.GetContext()
	matches, err := filepath.Glob(filepath.Join(s.root, StagingDirPattern))
	if err != nil {
		s.Fail(context, err)
		return
	}

	cutoff := s.now().Add(-s.staleAfter)
	removed := 0
	for _, dir := range matches {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			slog.WarnContext(ctx, "failed to remove stale staging directory", "dir", dir, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.InfoContext(ctx, "removed stale staging directories", "count", removed, "root", s.root)
	}
	s.Succeed(context)
	context.Add(cor.CtxOut, removed)
}

// StartTimer sweeps once per interval until ctx is cancelled. A zero
// interval disables the sweeper.
func (s *StagingSweeperWorkflow) StartTimer(ctx goctx.Context) {
	if s.interval <= 0 || s.root == "" {
		slog.InfoContext(ctx, "staging sweeper disabled")
		return
	}
	tracer := otel.Tracer("staging-sweeper")
	ticker := time.NewTicker(s.interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				traceCtx, span := tracer.Start(ctx, "sweep-staging")
				chainCtx := cor.NewBaseContext()
				chainCtx.SetContext(traceCtx)

				s.Execute(chainCtx)

				if chainCtx.HasErrors() {
					span.SetStatus(codes.Error, "failed to sweep staging directories")
				} else {
					span.SetStatus(codes.Ok, "swept staging directories")
				}
				span.End()
			case <-ctx.Done():
				return
			}
		}
	}()
}
