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

// Package cloud provides components for interacting with Google Cloud services.
// This file contains general-purpose helpers for the package: hierarchical
// configuration loading, client options and the instrumented call into a
// generative model.
//
// Functions:
//   - LoadConfig: reads a base configuration file and then overwrites values
//     with an environment-specific file (e.g., .env.local.toml, .env.test.toml).
//     The environment is determined by an environment variable.
//   - GenerateMultiModalResponse: calls a GenerativeModel with bounded retries
//     and records token usage and retries as OpenTelemetry metrics.
//   - ClientOptions: credentials shared by every Google Cloud client.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/api/option"
	"google.golang.org/genai"
)

// Cloud Constants define key strings and values used throughout the package,
// primarily for configuration loading and API interaction policies.
const (
	ConfigFileBaseName  = ".env"              // The base name for configuration files (e.g., ".env.toml").
	ConfigFileExtension = ".toml"             // The file extension for configuration files.
	ConfigSeparator     = "."                 // The separator used in config file names (e.g., ".env.local.toml").
	EnvConfigFilePrefix = "GCP_CONFIG_PREFIX" // The environment variable for specifying the config directory.
	EnvConfigRuntime    = "GCP_RUNTIME"       // The environment variable for specifying the runtime context (e.g., "local", "test", "prod").
	DefaultRuntime      = "test"              // Used when GCP_RUNTIME is unset.
	MaxRetries          = 3                   // Default number of retries for a failed model call.
)

const defaultRetryBackoff = 2 * time.Second

// retryBackoff is the wait before the first retry; it doubles per attempt.
var retryBackoff = defaultRetryBackoff

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// LoadConfig provides a hierarchical configuration loading mechanism. It
// decodes `<prefix>.env.toml` and then `<prefix>.env.<runtime>.toml` into
// baseConfig, so values in the runtime file win. The prefix comes from
// GCP_CONFIG_PREFIX and the runtime from GCP_RUNTIME (default "test").
// Missing files are skipped; malformed files are an error.
func LoadConfig(baseConfig interface{}) error {
	configurationFilePrefix := os.Getenv(EnvConfigFilePrefix)
	if len(configurationFilePrefix) > 0 && !strings.HasSuffix(configurationFilePrefix, string(os.PathSeparator)) {
		configurationFilePrefix = configurationFilePrefix + string(os.PathSeparator)
	}

	runtimeEnvironment := os.Getenv(EnvConfigRuntime)
	if runtimeEnvironment == "" {
		runtimeEnvironment = DefaultRuntime
	}

	baseConfigFileName := configurationFilePrefix + ConfigFileBaseName + ConfigFileExtension
	envConfigFileName := configurationFilePrefix + ConfigFileBaseName + ConfigSeparator + runtimeEnvironment + ConfigFileExtension
	slog.Debug("loading configuration", "base", baseConfigFileName, "environment", envConfigFileName)

	if fileExists(baseConfigFileName) {
		if _, err := toml.DecodeFile(baseConfigFileName, baseConfig); err != nil {
			return fmt.Errorf("failed to decode base configuration file %s: %w", baseConfigFileName, err)
		}
	}

	if fileExists(envConfigFileName) {
		if _, err := toml.DecodeFile(envConfigFileName, baseConfig); err != nil {
			return fmt.Errorf("failed to decode environment configuration file %s: %w", envConfigFileName, err)
		}
	}
	return nil
}

// ClientOptions returns the options every Google Cloud client is created
// with. An explicit credentials file (or inline JSON key) overrides
// Application Default Credentials.
func ClientOptions(config *Config) []option.ClientOption {
	opts := make([]option.ClientOption, 0, 1)
	creds := strings.TrimSpace(config.Application.CredentialsFile)
	if creds == "" {
		return opts
	}
	if strings.HasPrefix(creds, "{") {
		return append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	return append(opts, option.WithCredentialsFile(creds))
}

// GenerateMultiModalResponse is a helper function for executing requests
// against a generative model. It includes logic for retries and telemetry.
//
// Inputs:
//   - ctx: The context for the request, which controls cancellation and tracing.
//   - inputTokenCounter: An OpenTelemetry counter for prompt tokens used.
//   - outputTokenCounter: An OpenTelemetry counter for response tokens generated.
//   - retryCounter: An OpenTelemetry counter for tracking the number of retries.
//   - tryCount: The current attempt number for this request (starts at 0).
//   - maxRetries: How many times a failed call is retried; 0 disables retries.
//   - model: The generative model to call.
//   - content: The prompt contents.
//
// Outputs:
//   - string: The concatenated text of every candidate part, unmodified.
//   - error: The last error once retries are exhausted or ctx is done.
func GenerateMultiModalResponse(
	ctx context.Context,
	inputTokenCounter metric.Int64Counter,
	outputTokenCounter metric.Int64Counter,
	retryCounter metric.Int64Counter,
	tryCount int,
	maxRetries int,
	model GenerativeModel,
	content []*genai.Content) (value string, err error) {
	resp, err := model.GenerateContent(ctx, content)
	if err != nil {
		if tryCount >= maxRetries || ctx.Err() != nil {
			return "", err
		}
		retryCounter.Add(ctx, 1)
		slog.WarnContext(ctx, "generative model call failed, retrying", "model", model.Name(), "attempt", tryCount+1, "error", err)
		select {
		case <-ctx.Done():
			return "", errors.Join(err, ctx.Err())
		case <-time.After(retryBackoff << tryCount):
		}
		return GenerateMultiModalResponse(ctx, inputTokenCounter, outputTokenCounter, retryCounter, tryCount+1, maxRetries, model, content)
	}

	if resp.UsageMetadata != nil {
		inputTokenCounter.Add(ctx, int64(resp.UsageMetadata.PromptTokenCount))
		outputTokenCounter.Add(ctx, int64(resp.UsageMetadata.CandidatesTokenCount))
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String(), nil
}
