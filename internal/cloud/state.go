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
// This file initializes and holds every client the service needs. The
// resulting ServiceClients value is created once at startup and passed to the
// workflows, services and API handlers.
//
// Logic Flow:
//  1. NewCloudServiceClients is called at application startup with the config.
//  2. Clients are created only for the features the configuration enables, so
//     a caption-only deployment never needs Vision or Speech credentials.
//  3. Pub/Sub listeners and generative models are created from their config
//     maps and stored by logical name.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/pubsub"
	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/storage"
	videointelligence "cloud.google.com/go/videointelligence/apiv1"
	vision "cloud.google.com/go/vision/v2/apiv1"
	"google.golang.org/genai"
)

// ServiceClients is a struct that acts as a central container for all the
// clients that interact with external services. Fields for disabled features
// are nil.
type ServiceClients struct {
	StorageClient           *storage.Client                   // Client for Google Cloud Storage (GCS).
	PubsubClient            *pubsub.Client                    // Client for Google Cloud Pub/Sub.
	GenAIClient             *genai.Client                     // Client for Gemini on Vertex AI.
	BiqQueryClient          *bigquery.Client                  // Client for Google Cloud BigQuery.
	IAMClient               *credentials.IamCredentialsClient // Client for IAM to sign GCS URLs.
	VisionClient            *vision.ImageAnnotatorClient      // Client for Cloud Vision OCR.
	SpeechClient            *speech.Client                    // Client for Cloud Speech-to-Text.
	VideoIntelligenceClient *videointelligence.Client         // Client for Video Intelligence text detection.
	PubSubListeners         map[string]*PubSubListener        // Active Pub/Sub listeners, keyed by their config name.
	AgentModels             map[string]*QuotaAwareGenerativeAIModel
	Synthesizer             GenerativeModel // The model selected by synthesis config.
}

// Close releases every client that was created.
func (c *ServiceClients) Close() {
	closers := []interface{ Close() error }{}
	if c.StorageClient != nil {
		closers = append(closers, c.StorageClient)
	}
	if c.PubsubClient != nil {
		closers = append(closers, c.PubsubClient)
	}
	if c.BiqQueryClient != nil {
		closers = append(closers, c.BiqQueryClient)
	}
	if c.IAMClient != nil {
		closers = append(closers, c.IAMClient)
	}
	if c.VisionClient != nil {
		closers = append(closers, c.VisionClient)
	}
	if c.SpeechClient != nil {
		closers = append(closers, c.SpeechClient)
	}
	if c.VideoIntelligenceClient != nil {
		closers = append(closers, c.VideoIntelligenceClient)
	}
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			slog.Warn("failed to close client", "error", err)
		}
	}
}

// NewCloudServiceClients is a factory function that initializes the clients
// required by the configuration.
//
// Inputs:
//   - ctx: The root context.Context for the application, used to manage the lifecycle of the clients.
//   - config: A pointer to the loaded application configuration (`Config`).
//
// Outputs:
//   - *ServiceClients: A pointer to the initialized ServiceClients struct.
//   - error: An error if any of the clients fail to initialize. Clients
//     created before the failure are closed.
func NewCloudServiceClients(ctx context.Context, config *Config) (cloud *ServiceClients, err error) {
	opts := ClientOptions(config)
	cloud = &ServiceClients{
		PubSubListeners: make(map[string]*PubSubListener),
		AgentModels:     make(map[string]*QuotaAwareGenerativeAIModel),
	}
	defer func() {
		if err != nil {
			cloud.Close()
			cloud = nil
		}
	}()

	if cloud.StorageClient, err = storage.NewClient(ctx, opts...); err != nil {
		return cloud, fmt.Errorf("storage client: %w", err)
	}

	if len(config.TopicSubscriptions) > 0 {
		if cloud.PubsubClient, err = pubsub.NewClient(ctx, config.Application.GoogleProjectId, opts...); err != nil {
			return cloud, fmt.Errorf("pubsub client: %w", err)
		}
		// Commands are attached later, once the workflows are built.
		for subKey, values := range config.TopicSubscriptions {
			listener, err := NewPubSubListener(cloud.PubsubClient, values.Name, nil)
			if err != nil {
				return cloud, err
			}
			cloud.PubSubListeners[subKey] = listener
		}
	}

	if config.BigQueryDataSource.DatasetName != "" && config.BigQueryDataSource.RecipeTable != "" {
		if cloud.BiqQueryClient, err = bigquery.NewClient(ctx, config.Application.GoogleProjectId, opts...); err != nil {
			return cloud, fmt.Errorf("bigquery client: %w", err)
		}
	}

	if config.Application.SignerServiceAccountEmail != "" {
		if cloud.IAMClient, err = credentials.NewIamCredentialsClient(ctx, opts...); err != nil {
			return cloud, fmt.Errorf("iam credentials client: %w", err)
		}
	}

	if config.Extraction.EnableVisual {
		if config.Extraction.VisualBackend == VisualBackendVideoIntelligence {
			if cloud.VideoIntelligenceClient, err = videointelligence.NewClient(ctx, opts...); err != nil {
				return cloud, fmt.Errorf("videointelligence client: %w", err)
			}
		}
		// Vision also serves gs:// sources' fallback and every non-gs:// source.
		if cloud.VisionClient, err = vision.NewImageAnnotatorClient(ctx, opts...); err != nil {
			return cloud, fmt.Errorf("vision client: %w", err)
		}
	}

	if config.Extraction.EnableSpeech {
		if cloud.SpeechClient, err = speech.NewClient(ctx, opts...); err != nil {
			return cloud, fmt.Errorf("speech client: %w", err)
		}
	}

	if err = cloud.initModels(ctx, config); err != nil {
		return cloud, err
	}
	return cloud, nil
}

func (c *ServiceClients) initModels(ctx context.Context, config *Config) (err error) {
	switch config.Synthesis.Provider {
	case "", ProviderVertex:
		clientConfig := &genai.ClientConfig{
			Project:  config.Application.GoogleProjectId,
			Location: config.Application.GoogleLocation,
			Backend:  genai.BackendVertexAI,
		}
		if c.GenAIClient, err = genai.NewClient(ctx, clientConfig); err != nil {
			return fmt.Errorf("genai client: %w", err)
		}
		for amKey, values := range config.AgentModels {
			c.AgentModels[amKey] = NewQuotaAwareModel(NewGenerateContentConfig(values), values.Model, c.GenAIClient.Models, values.RateLimit)
		}
		model, ok := c.AgentModels[config.Synthesis.AgentModel]
		if !ok {
			return fmt.Errorf("synthesis agent model %q is not configured", config.Synthesis.AgentModel)
		}
		c.Synthesizer = model
	default:
		instructions := ""
		if values, ok := config.AgentModels[config.Synthesis.AgentModel]; ok {
			instructions = values.SystemInstructions
		}
		model, err := NewLangChainModel(config.Synthesis, instructions)
		if err != nil {
			return err
		}
		c.Synthesizer = model
	}
	if c.Synthesizer == nil {
		return errors.New("no synthesis model configured")
	}
	return nil
}

// NewGenerateContentConfig translates model settings into a genai request
// config with the default safety settings.
func NewGenerateContentConfig(values VertexAiLLMModel) *genai.GenerateContentConfig {
	out := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](values.Temperature),
		TopP:             genai.Ptr[float32](values.TopP),
		TopK:             genai.Ptr[float32](values.TopK),
		MaxOutputTokens:  values.MaxTokens,
		SafetySettings:   DefaultSafetySettings,
		ResponseMIMEType: values.OutputFormat,
	}
	if values.SystemInstructions != "" {
		out.SystemInstruction = genai.NewContentFromText(values.SystemInstructions, genai.RoleUser)
	}
	return out
}
