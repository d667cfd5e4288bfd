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

package commands

import (
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

// CorpusAggregator merges the extracted texts into one corpus.
type CorpusAggregator struct {
	cor.BaseCommand
}

func NewCorpusAggregator(name string) *CorpusAggregator {
	return &CorpusAggregator{BaseCommand: *cor.NewBaseCommand(name)}
}

func (a *CorpusAggregator) Execute(context cor.Context) {
	texts, ok := context.Get(a.GetInputParam()).([]*model.ExtractedText)
	if !ok {
		a.Fail(context, fmt.Errorf("expected extracted texts, got %T", context.Get(a.GetInputParam())))
		return
	}

	corpus := model.Aggregate(texts)
	if corpus.IsEmpty() {
		a.Fail(context, &model.ExtractionError{})
		return
	}
	slog.InfoContext(context.GetContext(), "corpus aggregated", "sources", corpus.Sources, "segments", len(corpus.Segments), "timed", corpus.Timed, "characters", len(corpus.Text))

	a.Succeed(context)
	context.Add(ParamCorpus, corpus)
	context.Add(a.GetOutputParam(), corpus)
}
