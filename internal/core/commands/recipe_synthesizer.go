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

// Package commands provides the concrete implementations of the Chain of
// Responsibility (COR) pattern's Command interface. This file defines the
// command that asks a generative model for the recipe.
//
// Logic Flow:
//  1. Receives the aggregated `model.Corpus`.
//  2. Renders the recipe prompt template with the corpus, a description of
//     the source, an example recipe and, for untimed corpora, a note that
//     timestamps are estimates.
//  3. Calls the configured model through `cloud.GenerateMultiModalResponse`,
//     which counts tokens and retries transport failures.
//  4. Places the raw response text, unparsed, in the output parameter.
package commands

import (
	"bytes"
	goctx "context"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"
)

const (
	defaultSynthesisTimeout = 3 * time.Minute

	// UntimedCorpusNote is rendered as TIMING_NOTE when no extracted text
	// carried timing.
	UntimedCorpusNote = "The transcript has no timing information. Still give every step a start_time and end_time, " +
		"estimated from the order and length of the instructions; they will be marked as estimates."
	// TimedCorpusNote is rendered as TIMING_NOTE for timed corpora.
	TimedCorpusNote = "Lines prefixed with HH:MM:SS-HH:MM:SS give the position of that text in the video. " +
		"Derive step start_time and end_time from them."
)

// RecipeSynthesizer renders the recipe prompt and calls the generative model.
type RecipeSynthesizer struct {
	cor.BaseCommand
	generativeAIModel        cloud.GenerativeModel
	template                 *template.Template
	maxRetries               int
	timeout                  time.Duration
	geminiInputTokenCounter  metric.Int64Counter
	geminiOutputTokenCounter metric.Int64Counter
	geminiRetryCounter       metric.Int64Counter
}

func NewRecipeSynthesizer(
	name string,
	generativeAIModel cloud.GenerativeModel,
	template *template.Template,
	config cloud.Synthesis) *RecipeSynthesizer {

	timeout := defaultSynthesisTimeout
	if config.TimeoutSeconds > 0 {
		timeout = time.Duration(config.TimeoutSeconds) * time.Second
	}
	out := &RecipeSynthesizer{
		BaseCommand:       *cor.NewBaseCommand(name),
		generativeAIModel: generativeAIModel,
		template:          template,
		maxRetries:        config.MaxRetries,
		timeout:           timeout,
	}
	out.InputParamName = ParamCorpus

	out.geminiInputTokenCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.gemini.token.input", out.GetName()))
	out.geminiOutputTokenCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.gemini.token.output", out.GetName()))
	out.geminiRetryCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.gemini.retry", out.GetName()))

	return out
}

// GenerateParams builds the template vocabulary for corpus.
func (t *RecipeSynthesizer) GenerateParams(context cor.Context, corpus *model.Corpus) map[string]interface{} {
	params := make(map[string]interface{})

	source := ""
	if ref, ok := context.Get(ParamReference).(*model.VideoReference); ok {
		source = ref.Describe()
	} else if asset, ok := context.Get(ParamAsset).(*model.MediaAsset); ok {
		source = asset.Source
	}
	params["SOURCE"] = source
	params["CORPUS"] = corpus.Text

	exampleRecipe, _ := json.Marshal(model.GetExampleRecipe())
	params["EXAMPLE_JSON"] = string(exampleRecipe)

	if corpus.Timed {
		params["TIMING_NOTE"] = TimedCorpusNote
	} else {
		params["TIMING_NOTE"] = UntimedCorpusNote
	}
	return params
}

func (t *RecipeSynthesizer) Execute(context cor.Context) {
	corpus := context.Get(t.GetInputParam()).(*model.Corpus)

	var buffer bytes.Buffer
	if err := t.template.Execute(&buffer, t.GenerateParams(context, corpus)); err != nil {
		t.Fail(context, fmt.Errorf("failed to execute prompt template: %w", err))
		return
	}

	contents := []*genai.Content{genai.NewContentFromText(buffer.String(), genai.RoleUser)}

	ctx, cancel := goctx.WithTimeout(context.GetContext(), t.timeout)
	defer cancel()

	started := time.Now()
	out, err := cloud.GenerateMultiModalResponse(ctx, t.geminiInputTokenCounter, t.geminiOutputTokenCounter, t.geminiRetryCounter, 0, t.maxRetries, t.generativeAIModel, contents)
	if err != nil {
		t.Fail(context, &model.SynthesisError{Model: t.generativeAIModel.Name(), Err: err})
		return
	}
	slog.InfoContext(ctx, "recipe synthesized", "model", t.generativeAIModel.Name(), "characters", len(out), "elapsed", time.Since(started))

	t.Succeed(context)
	context.Add(ParamRawRecipe, out)
	context.Add(t.GetOutputParam(), out)
}
