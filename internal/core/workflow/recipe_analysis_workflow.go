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
// This file implements the recipe analysis workflow, the full path from a
// VideoReference to a recovered Recipe.
package workflow

import (
	"fmt"
	"text/template"
	"time"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/commands"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/extractors"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

// RecipeAnalysisWorkflow runs acquisition, concurrent text extraction,
// aggregation, synthesis and recovery, then hands the recipe to the
// configured sinks. The first failing stage stops the chain; recovery and the
// sinks never fail it.
type RecipeAnalysisWorkflow struct {
	cor.BaseCommand
	config         *cloud.Config
	acquisition    cor.Command
	extractors     []extractors.Extractor
	synthesizer    cloud.GenerativeModel
	recipeTemplate *template.Template
	sinks          []cor.Command
	chain          cor.Chain
}

// Execute analyzes the *model.VideoReference in the input parameter. On
// success the recipe is in commands.ParamRecipe and in cor.CtxOut.
func (m *RecipeAnalysisWorkflow) Execute(context cor.Context) {
	m.chain.Execute(context)
}

func (m *RecipeAnalysisWorkflow) IsExecutable(context cor.Context) bool {
	_, ok := context.Get(m.GetInputParam()).(*model.VideoReference)
	return m.BaseCommand.IsExecutable(context) && ok
}

// Extractors returns the extractors the workflow runs, for health reporting.
func (m *RecipeAnalysisWorkflow) Extractors() []extractors.Extractor {
	return m.extractors
}

// Synthesizer returns the model that writes the recipe.
func (m *RecipeAnalysisWorkflow) Synthesizer() cloud.GenerativeModel {
	return m.synthesizer
}

func (m *RecipeAnalysisWorkflow) initializeChain() {
	out := cor.NewBaseChain(m.GetName())

	// Step 1: VideoReference -> MediaAsset.
	out.AddCommand(m.acquisition)

	// Step 2: run every extractor against the asset at once. Failing
	// extractors degrade to empty text; all empty stops the chain here.
	timeout := time.Duration(m.config.Extraction.TimeoutSeconds) * time.Second
	out.AddCommand(commands.NewTextExtraction("text-extraction", timeout, m.extractors...))

	// Step 3: merge the texts into one source tagged corpus.
	out.AddCommand(commands.NewCorpusAggregator("corpus-aggregator"))

	// Step 4: ask the model for the recipe JSON.
	out.AddCommand(commands.NewRecipeSynthesizer("recipe-synthesizer", m.synthesizer, m.recipeTemplate, m.config.Synthesis))

	// Step 5: get a Recipe out of whatever the model wrote.
	out.AddCommand(commands.NewRecipeRecovery("recipe-recovery"))

	// Step 6: best effort hand-off to the warehouse and the archive.
	for _, sink := range m.sinks {
		out.AddCommand(sink)
	}

	m.chain = out
}

// NewRecipeAnalysisWorkflow assembles the workflow from its collaborators.
// The prompt template is parsed from config.PromptTemplates.RecipePrompt.
func NewRecipeAnalysisWorkflow(
	config *cloud.Config,
	acquisition cor.Command,
	exts []extractors.Extractor,
	synthesizer cloud.GenerativeModel,
	sinks ...cor.Command) (*RecipeAnalysisWorkflow, error) {

	if len(exts) == 0 {
		return nil, fmt.Errorf("no extractor is enabled")
	}
	if synthesizer == nil {
		return nil, fmt.Errorf("no synthesis model is configured")
	}
	recipeTemplate, err := template.New("recipe-template").Parse(config.PromptTemplates.RecipePrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recipe prompt: %w", err)
	}

	out := &RecipeAnalysisWorkflow{
		BaseCommand:    *cor.NewBaseCommand("recipe-analysis-workflow"),
		config:         config,
		acquisition:    acquisition,
		extractors:     exts,
		synthesizer:    synthesizer,
		recipeTemplate: recipeTemplate,
		sinks:          sinks,
	}
	out.initializeChain()
	return out, nil
}

// NewRecipeAnalysisPipeline builds the production workflow from the service
// clients: extractors and sinks follow what the configuration enables and
// what clients exist.
func NewRecipeAnalysisPipeline(config *cloud.Config, serviceClients *cloud.ServiceClients) (*RecipeAnalysisWorkflow, error) {
	runner := extractors.ExecRunner{}
	return NewRecipeAnalysisWorkflow(
		config,
		NewMediaAcquisitionWorkflow(config, serviceClients.StorageClient, runner),
		NewExtractors(config, serviceClients, runner),
		serviceClients.Synthesizer,
		NewRecipeSinks(config, serviceClients)...,
	)
}

// NewExtractors creates one extractor per enabled source whose client
// exists, in source priority order.
func NewExtractors(config *cloud.Config, serviceClients *cloud.ServiceClients, runner extractors.CommandRunner) []extractors.Extractor {
	ffmpeg := extractors.NewFFmpeg(config.Extraction.FfmpegPath, runner)
	out := make([]extractors.Extractor, 0, 3)

	if config.Extraction.EnableCaption {
		out = append(out, extractors.NewCaptionExtractor())
	}

	if config.Extraction.EnableSpeech && serviceClients.SpeechClient != nil {
		var stager extractors.AudioStager
		if config.Storage.StagingBucket != "" && serviceClients.StorageClient != nil {
			stager = extractors.NewGCSAudioStager(serviceClients.StorageClient, config.Storage.StagingBucket)
		}
		transcriber := cloud.NewSpeechTranscriber(serviceClients.SpeechClient, config.Extraction)
		out = append(out, extractors.NewSpeechExtractor(ffmpeg, transcriber, stager, config.Storage))
	}

	if config.Extraction.EnableVisual && serviceClients.VisionClient != nil {
		var video extractors.VideoTextDetector
		if serviceClients.VideoIntelligenceClient != nil {
			video = cloud.NewVideoTextAnnotator(serviceClients.VideoIntelligenceClient, config.Extraction.LanguageHints)
		}
		detector := cloud.NewVisionTextDetector(serviceClients.VisionClient, config.Extraction.LanguageHints)
		out = append(out, extractors.NewVisualExtractor(ffmpeg, detector, video, config.Extraction))
	}
	return out
}

// NewRecipeSinks creates the warehouse and archive commands that are
// configured.
func NewRecipeSinks(config *cloud.Config, serviceClients *cloud.ServiceClients) []cor.Command {
	out := make([]cor.Command, 0, 2)
	if serviceClients.BiqQueryClient != nil {
		out = append(out, commands.NewRecipePersistToBigQuery(
			"write-to-bigquery",
			serviceClients.BiqQueryClient,
			config.BigQueryDataSource.DatasetName,
			config.BigQueryDataSource.RecipeTable))
	}
	if config.Storage.ArchiveBucket != "" && serviceClients.StorageClient != nil {
		out = append(out, commands.NewRecipeArchive(
			"archive-recipe",
			serviceClients.StorageClient,
			config.Storage.ArchiveBucket,
			config.Storage.ArchivePrefix))
	}
	return out
}
