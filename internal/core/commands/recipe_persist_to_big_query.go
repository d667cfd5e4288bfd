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
// recipe warehouse sink.
//
// Logic Flow:
//  1. Reads the recovered `model.Recipe` and the job id from the context.
//  2. Flattens it into a `RecipeRow` (queryable columns plus the full JSON
//     document) and streams it into BigQuery.
//  3. Sinks are best effort: a failed insert is logged and counted, and the
//     recipe still reaches the caller.
package commands

import (
	goctx "context"
	"encoding/json"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

// RecipeRow is the BigQuery schema of a stored recipe.
type RecipeRow struct {
	JobID           string    `bigquery:"job_id"`
	Source          string    `bigquery:"source"`
	Title           string    `bigquery:"title"`
	Degraded        bool      `bigquery:"degraded"`
	TimingEstimated bool      `bigquery:"timing_estimated"`
	StepCount       int       `bigquery:"step_count"`
	CreatedAt       time.Time `bigquery:"created_at"`
	Document        string    `bigquery:"document"`
}

// NewRecipeRow flattens recipe for insertion.
func NewRecipeRow(jobID string, recipe *model.Recipe, now time.Time) (*RecipeRow, error) {
	doc, err := json.Marshal(recipe)
	if err != nil {
		return nil, err
	}
	return &RecipeRow{
		JobID:           jobID,
		Source:          recipe.Source,
		Title:           recipe.Title,
		Degraded:        recipe.Degraded,
		TimingEstimated: recipe.TimingEstimated,
		StepCount:       len(recipe.Steps),
		CreatedAt:       now.UTC(),
		Document:        string(doc),
	}, nil
}

// RowInserter is satisfied by *bigquery.Inserter.
type RowInserter interface {
	Put(ctx goctx.Context, src interface{}) error
}

// RecipePersistToBigQuery writes the recipe to the warehouse table.
type RecipePersistToBigQuery struct {
	cor.BaseCommand
	inserter RowInserter
}

func NewRecipePersistToBigQuery(name string, client *bigquery.Client, dataset string, table string) *RecipePersistToBigQuery {
	return NewRecipePersistWithInserter(name, client.Dataset(dataset).Table(table).Inserter())
}

func NewRecipePersistWithInserter(name string, inserter RowInserter) *RecipePersistToBigQuery {
	out := &RecipePersistToBigQuery{BaseCommand: *cor.NewBaseCommand(name), inserter: inserter}
	out.InputParamName = ParamRecipe
	return out
}

func (s *RecipePersistToBigQuery) Execute(context cor.Context) {
	recipe := context.Get(s.GetInputParam()).(*model.Recipe)
	ctx := context.GetContext()

	row, err := NewRecipeRow(jobIDFrom(context), recipe, time.Now())
	if err == nil {
		err = s.inserter.Put(ctx, row)
	}
	if err != nil {
		s.GetErrorCounter().Add(ctx, 1)
		slog.ErrorContext(ctx, "failed to persist recipe", "title", recipe.Title, "source", recipe.Source, "error", err)
	} else {
		s.Succeed(context)
		slog.InfoContext(ctx, "persisted recipe", "title", recipe.Title, "job_id", row.JobID)
	}
	context.Add(cor.CtxOut, recipe)
}

// jobIDFrom returns the job id of an async run, or assigns one to a
// synchronous run so every sink uses the same id.
func jobIDFrom(context cor.Context) string {
	if id, ok := context.Get(ParamJobID).(string); ok && id != "" {
		return id
	}
	id := uuid.NewString()
	context.Add(ParamJobID, id)
	return id
}
