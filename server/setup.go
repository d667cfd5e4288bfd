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

// Package main contains the setup and initialization logic for the application's state.
// This file creates the centralized state manager that holds all shared
// dependencies: configuration, Google Cloud clients, the recipe analysis
// workflow and the services built on top of it.
//
// Functions:
//   - SetupOS: Points the configuration loader at the configs directory,
//     unless the environment already does.
//   - GetConfig: Loads and validates the configuration once.
//   - InitState: Creates the clients, the workflow, the job store and the
//     analysis service, and starts the background workers.
//   - CloseState: Stops the workers and releases every client.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/extractors"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/services"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/workflow"
)

// StateManager holds all the shared dependencies for the application.
type StateManager struct {
	config          *cloud.Config
	cloud           *cloud.ServiceClients
	analysis        *workflow.RecipeAnalysisWorkflow
	jobStore        services.JobStore
	analysisService *services.AnalysisService
	archiveService  *services.RecipeArchiveService
	healthService   *services.HealthService
	cancel          context.CancelFunc
}

// state is a package-level variable that holds the single instance of StateManager.
var state = &StateManager{}

// SetupOS sets the environment variables the configuration loader reads,
// keeping values the deployment already provides.
func SetupOS() (err error) {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err = os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		err = os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return err
}

// GetConfig loads the configuration on first use and returns the cached
// value afterwards.
func GetConfig() (*cloud.Config, error) {
	if state.config != nil {
		return state.config, nil
	}
	if err := SetupOS(); err != nil {
		return nil, fmt.Errorf("failed to setup os: %w", err)
	}
	config := cloud.NewConfig()
	if err := cloud.LoadConfig(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	state.config = config
	return config, nil
}

// InitState wires the application.
//
// Inputs:
//   - ctx: The root context. Workers, listeners and the sweeper stop when it
//     is cancelled.
//   - background: Start the Pub/Sub listeners and the staging sweeper. The
//     one-shot CLI leaves them off.
//
// This function performs the following steps:
//  1. Creates the Google Cloud clients the configuration enables.
//  2. Builds the recipe analysis workflow and its sinks.
//  3. Opens the job store and starts the analysis workers.
//  4. Prepares the archive and health services.
//  5. Optionally starts the sweeper and the listeners.
func InitState(ctx context.Context, background bool) error {
	config, err := GetConfig()
	if err != nil {
		return err
	}

	cloudClients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return err
	}
	state.cloud = cloudClients

	analysis, err := workflow.NewRecipeAnalysisPipeline(config, cloudClients)
	if err != nil {
		return err
	}
	state.analysis = analysis

	store, err := services.NewJobStore(config)
	if err != nil {
		return err
	}
	state.jobStore = store

	workerCtx, cancel := context.WithCancel(ctx)
	state.cancel = cancel
	state.analysisService = services.NewAnalysisService(config, analysis, store)
	state.analysisService.Start(workerCtx)

	state.archiveService = services.NewRecipeArchiveService(config, cloudClients)

	sources := make([]string, 0)
	health := &services.HealthService{
		FFmpeg:      extractors.NewFFmpeg(config.Extraction.FfmpegPath, extractors.ExecRunner{}),
		Synthesizer: analysis.Synthesizer(),
		Store:       store,
	}
	for _, extractor := range analysis.Extractors() {
		health.Sources = append(health.Sources, extractor.Source())
		sources = append(sources, string(extractor.Source()))
	}
	state.healthService = health
	slog.InfoContext(ctx, "analysis pipeline ready", "extractors", sources, "model", analysis.Synthesizer().Name(), "job_backend", config.Jobs.Backend)

	if background {
		workflow.NewStagingSweeperWorkflow(config).StartTimer(workerCtx)
		SetupListeners(workerCtx, cloudClients, state.analysisService)
	}
	return nil
}

// CloseState cancels the analyses in flight, marks queued jobs failed and
// closes the clients.
func CloseState() {
	if state.cancel != nil {
		state.cancel()
	}
	if state.analysisService != nil {
		state.analysisService.Close()
	}
	if closer, ok := state.jobStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("failed to close job store", "error", err)
		}
	}
	if state.cloud != nil {
		state.cloud.Close()
	}
}
