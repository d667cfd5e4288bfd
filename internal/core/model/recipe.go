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

// Package model defines the data structures that flow through the recipe
// pipeline. This file holds the recipe document itself: the structure the
// generative model is asked to emit and the value handed to the recipe sinks.
//
// The generative model is untrusted, so scalar fields that models commonly
// emit as either strings or numbers ("servings": 2 vs "servings": "2인분")
// use the lenient Text and Int types instead of plain string and int. A
// schema mismatch on one of those fields would otherwise reject an otherwise
// perfectly usable recipe.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DegradedRecipeTitle is the placeholder title of a recipe that could not be
// recovered from the model response.
const DegradedRecipeTitle = "요리 레시피"

// DegradedRecipeDescription explains a degraded recipe to the reader.
const DegradedRecipeDescription = "영상에서 레시피를 구조화하지 못했습니다. 원본 분석 결과는 raw_response 필드에 보존되어 있습니다."

// Text is a string that also accepts JSON numbers and booleans. Literal is
// set when the value arrived unquoted; it is written back unquoted, so
// "servings": 2 stays a number.
type Text struct {
	Value   string
	Literal bool
}

// NewText returns a Text that serializes as a JSON string.
func NewText(s string) Text {
	return Text{Value: s}
}

// LiteralText returns a Text that serializes as the bare JSON literal s,
// such as 2, 4.5 or true.
func LiteralText(s string) Text {
	return Text{Value: s, Literal: true}
}

// UnmarshalJSON accepts a JSON string, number, boolean or null.
func (t *Text) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*t = Text{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*t = NewText(s)
		return nil
	case '{', '[':
		return fmt.Errorf("cannot use %s as text", trimmed)
	default:
		if !json.Valid(trimmed) {
			return fmt.Errorf("cannot use %s as text", trimmed)
		}
		*t = LiteralText(string(trimmed))
		return nil
	}
}

// MarshalJSON writes literals back in their original spelling.
func (t Text) MarshalJSON() ([]byte, error) {
	if t.Literal && json.Valid([]byte(t.Value)) {
		return []byte(t.Value), nil
	}
	return json.Marshal(t.Value)
}

// IsZero reports whether t is empty, for omitzero.
func (t Text) IsZero() bool {
	return t.Value == ""
}

func (t Text) String() string {
	return t.Value
}

// Int is an integer that also accepts numeric JSON strings such as "3".
type Int int

// UnmarshalJSON accepts a JSON number, a numeric string or null.
func (i *Int) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*i = 0
		return nil
	}
	raw := string(trimmed)
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
	}
	if n, err := strconv.Atoi(raw); err == nil {
		*i = Int(n)
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("cannot use %q as an integer: %w", raw, err)
	}
	*i = Int(f)
	return nil
}

// Ingredient is one entry of the recipe's ingredient list.
type Ingredient struct {
	Name   string `json:"name"`
	Amount Text   `json:"amount"`
	Unit   string `json:"unit"`
}

// Action is the atomic unit of work inside a step.
type Action struct {
	Action      string   `json:"action"`
	Ingredients []string `json:"ingredients"`
	Tools       []string `json:"tools"`
	Time        Text     `json:"time"`
	Tip         string   `json:"tip,omitempty"`
}

// Step is a numbered cooking step anchored to an approximate time range of
// the source video. StartTime and EndTime use HH:MM:SS.
type Step struct {
	StepNumber Int       `json:"step_number"`
	Title      string    `json:"title"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	Actions    []*Action `json:"actions"`
}

// Recipe is the structured, time aligned recipe produced by the pipeline.
//
// Degraded, RawResponse, TimingEstimated and Source are diagnostics added by
// the pipeline, never by the model. A degraded recipe carries the verbatim
// model output in RawResponse, and so does a recipe recovered from a cut or
// coerced response.
type Recipe struct {
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Ingredients []*Ingredient `json:"ingredients"`
	Tools       []string      `json:"tools"`
	Steps       []*Step       `json:"steps"`
	CookingTime Text          `json:"cooking_time,omitzero"`
	Servings    Text          `json:"servings,omitzero"`
	Difficulty  string        `json:"difficulty,omitempty"`
	Tags        []string      `json:"tags,omitempty"`

	Degraded        bool   `json:"degraded,omitempty"`
	RawResponse     string `json:"raw_response,omitempty"`
	TimingEstimated bool   `json:"timing_estimated,omitempty"`
	Source          string `json:"source,omitempty"`
}

// NewDegradedRecipe returns the placeholder recipe used when no structured
// object could be recovered from raw. raw is preserved verbatim.
func NewDegradedRecipe(raw string) *Recipe {
	return &Recipe{
		Title:       DegradedRecipeTitle,
		Description: DegradedRecipeDescription,
		Ingredients: make([]*Ingredient, 0),
		Tools:       make([]string, 0),
		Steps:       make([]*Step, 0),
		Tags:        make([]string, 0),
		Degraded:    true,
		RawResponse: raw,
	}
}

// TimelineWarnings checks the best-effort step invariants: steps ordered by
// step number, parseable times, start before end, and no overlap with the
// following step. The recipe is never modified; callers log the findings.
func (r *Recipe) TimelineWarnings() []string {
	warnings := make([]string, 0)
	if r == nil {
		return warnings
	}
	var prev *Step
	var prevEnd float64
	for i, step := range r.Steps {
		if step == nil {
			warnings = append(warnings, fmt.Sprintf("step at index %d is null", i))
			continue
		}
		if prev != nil && step.StepNumber <= prev.StepNumber {
			warnings = append(warnings, fmt.Sprintf("step %d follows step %d out of order", step.StepNumber, prev.StepNumber))
		}
		start, startErr := ParseTimecode(step.StartTime)
		end, endErr := ParseTimecode(step.EndTime)
		switch {
		case startErr != nil:
			warnings = append(warnings, fmt.Sprintf("step %d has an invalid start_time %q", step.StepNumber, step.StartTime))
		case endErr != nil:
			warnings = append(warnings, fmt.Sprintf("step %d has an invalid end_time %q", step.StepNumber, step.EndTime))
		default:
			if end < start {
				warnings = append(warnings, fmt.Sprintf("step %d ends (%s) before it starts (%s)", step.StepNumber, step.EndTime, step.StartTime))
			}
			if prev != nil && start < prevEnd {
				warnings = append(warnings, fmt.Sprintf("step %d starts at %s before step %d ends at %s", step.StepNumber, step.StartTime, prev.StepNumber, prev.EndTime))
			}
			prevEnd = end
		}
		prev = step
	}
	return warnings
}
