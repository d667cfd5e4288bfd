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

// Package main is the entry point for the recipe extractor.
//
// The binary has two commands:
//   - serve (the default): runs the REST API with the Gin framework, the
//     analysis workers, the staging sweeper and the Pub/Sub listeners for
//     bucket uploads. The server is instrumented with OpenTelemetry.
//   - analyze <url|gs://bucket/object|path>: runs one analysis in the
//     foreground and prints the recipe JSON to stdout.
//
// Both commands read the TOML configuration selected by GCP_CONFIG_PREFIX
// and GCP_RUNTIME.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/api"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/services"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const shutdownTimeout = 10 * time.Second

var (
	servePort  int
	outputFile string
)

var rootCmd = &cobra.Command{
	Use:   "recipe-extractor",
	Short: "Turns cooking videos into structured, time-aligned recipes",
	Long: `recipe-extractor reads the on-screen text, captions and narration of a cooking
video and asks a generative model to write the recipe it teaches.

Without a subcommand it runs the HTTP server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the analysis workers and the upload listeners",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <url|gs://bucket/object|path>",
	Short: "Analyze one video and print the recipe JSON",
	Long: `Analyze one video in the foreground and print the recipe JSON.

Examples:
  recipe-extractor analyze https://www.youtube.com/watch?v=abc123
  recipe-extractor analyze gs://my-uploads/kimchi-stew.mp4
  recipe-extractor analyze ./kimchi-stew.mp4 -o recipe.json`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides application.http_port)")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
	analyzeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the recipe to a file instead of stdout")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads the configuration and installs logging and telemetry.
// The returned function flushes both.
func bootstrap(ctx context.Context) (func(), error) {
	config, err := GetConfig()
	if err != nil {
		return nil, err
	}
	closeLog := telemetry.SetupLogging(config)
	slog.Info("Logging initialized", "level", config.Application.LogLevel)

	shutdown, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("failed to setup OpenTelemetry: %w", err)
	}
	slog.Info("Tracing initialized", "enabled", config.Application.TelemetryEnabled)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("failed to flush telemetry", "error", err)
		}
		closeLog()
	}, nil
}

// runServe starts the server and blocks until SIGINT or SIGTERM, then shuts
// down gracefully.
func runServe(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := InitState(ctx, true); err != nil {
		slog.Error("failed to initialize state", "error", err)
		CloseState()
		return err
	}
	defer CloseState()
	slog.Info("Initialized State")

	config := state.config
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(config.Application.Name))
	r.Use(cors.Default())

	apiV1 := r.Group("/api/v1")
	{
		api.AnalysisRouter(apiV1, state.analysisService, config.Acquisition.MaxUploadBytes)
		api.JobsRouter(apiV1, state.jobStore, state.archiveService)
		api.HealthRouter(apiV1, state.healthService)
	}

	port := config.Application.HTTPPort
	if servePort > 0 {
		port = servePort
	}
	if port == 0 {
		port = 8080
	}
	// Synchronous analyses hold the connection for the whole pipeline.
	writeTimeout := time.Duration(config.Application.SyncTimeoutSeconds)*time.Second + time.Minute
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           r,
		ReadHeaderTimeout: 20 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to listen", "error", err)
			cancel()
		}
	}()
	slog.Info("Server ready", "port", port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	slog.Info("Shutdown Server ...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server Shutdown Failed", "error", err)
	}
	slog.Info("Server exiting")
	return nil
}

// runAnalyze runs one analysis without the HTTP server or listeners.
func runAnalyze(_ *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	// stdout carries the recipe.
	slog.SetDefault(slog.New(telemetry.NewLogHandler(telemetry.ParseLevel(state.config.Application.LogLevel), os.Stderr)))

	ref, err := referenceFor(args[0])
	if err != nil {
		return err
	}

	if err := InitState(ctx, false); err != nil {
		CloseState()
		return err
	}
	defer CloseState()

	recipe, err := state.analysisService.Analyze(ctx, ref)
	if err != nil {
		slog.Error("analysis failed", "source", ref.Describe(), "error", err)
		return errors.New(services.PublicMessage(err))
	}

	out, err := json.MarshalIndent(recipe, "", "  ")
	if err != nil {
		return err
	}
	if outputFile != "" {
		return os.WriteFile(outputFile, append(out, '\n'), 0o644)
	}
	_, err = fmt.Println(string(out))
	return err
}

// referenceFor accepts an http(s) URL, a gs:// URI or a local file path.
func referenceFor(arg string) (*model.VideoReference, error) {
	if strings.Contains(arg, "://") {
		return model.NewRemoteReference(arg)
	}
	path, err := filepath.Abs(arg)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", arg, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", arg)
	}
	ref := model.NewUploadReference(path, filepath.Base(path), "", info.Size())
	for _, ext := range []string{".vtt", ".srt"} {
		sidecar := strings.TrimSuffix(path, filepath.Ext(path)) + ext
		if _, err := os.Stat(sidecar); err == nil {
			ref.CaptionPath = sidecar
			break
		}
	}
	return ref, nil
}
