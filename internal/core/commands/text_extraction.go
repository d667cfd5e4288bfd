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
// extraction stage.
//
// Logic Flow:
//  1. Receives the validated `model.MediaAsset`.
//  2. Fans out to every configured extractor with an errgroup, each under its
//     own timeout and its own span.
//  3. A failing extractor is logged and replaced by an empty result; it never
//     fails the stage on its own.
//  4. When no extractor produced text the stage records an
//     `model.ExtractionError` and the chain stops before synthesis.
package commands

import (
	goctx "context"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/extractors"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const defaultExtractorTimeout = 5 * time.Minute

// TextExtraction runs the extractors concurrently and joins their output.
type TextExtraction struct {
	cor.BaseCommand
	extractors []extractors.Extractor
	timeout    time.Duration
}

func NewTextExtraction(name string, timeout time.Duration, exts ...extractors.Extractor) *TextExtraction {
	if timeout <= 0 {
		timeout = defaultExtractorTimeout
	}
	out := &TextExtraction{
		BaseCommand: *cor.NewBaseCommand(name),
		extractors:  exts,
		timeout:     timeout,
	}
	out.InputParamName = ParamAsset
	return out
}

func (t *TextExtraction) Execute(context cor.Context) {
	asset := context.Get(t.GetInputParam()).(*model.MediaAsset)
	parent := context.GetContext()

	results := make([]*model.ExtractedText, len(t.extractors))
	failures := make([]error, len(t.extractors))

	var g errgroup.Group
	for i, extractor := range t.extractors {
		g.Go(func() error {
			source := extractor.Source()
			ctx, span := t.GetTracer().Start(parent, "extract_"+string(source))
			defer span.End()
			ctx, cancel := goctx.WithTimeout(ctx, t.timeout)
			defer cancel()

			started := time.Now()
			out, err := extractor.Extract(ctx, asset)
			if err == nil && out == nil {
				out = model.NewEmptyExtractedText(source)
			}
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				slog.WarnContext(ctx, "extractor failed, continuing without it", "source", source, "asset", asset.Source, "error", err)
				failures[i] = err
				out = model.NewEmptyExtractedText(source)
			} else {
				span.SetStatus(codes.Ok, "")
			}
			out.Source = source
			span.SetAttributes(
				attribute.Int("characters", len(out.Text)),
				attribute.Int("segments", len(out.Segments)),
			)
			slog.InfoContext(ctx, "extractor finished", "source", source, "characters", len(out.Text), "segments", len(out.Segments), "elapsed", time.Since(started))
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	if err := parent.Err(); err != nil {
		t.Fail(context, err)
		return
	}

	nonEmpty := 0
	for _, r := range results {
		if !r.IsEmpty() {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		extractionErr := &model.ExtractionError{Failures: make(map[model.Source]error, len(t.extractors))}
		for i, extractor := range t.extractors {
			extractionErr.Failures[extractor.Source()] = failures[i]
		}
		t.Fail(context, extractionErr)
		return
	}

	t.Succeed(context)
	context.Add(ParamTexts, results)
	context.Add(t.GetOutputParam(), results)
}
