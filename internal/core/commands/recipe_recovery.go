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
// Responsibility (COR) pattern's Command interface. This file turns the raw
// model response into a Recipe.
//
// Logic Flow:
// Models wrap JSON in prose, put it in markdown fences, or stop mid-object
// when they hit the token limit. RecoverRecipe tries, in order and stopping
// at the first success:
//  1. the whole response as a JSON object;
//  2. the contents of each fenced code block;
//  3. the span from the first '{' to the last '}';
//  4. the first complete object decoded from each top-level '{' position;
//  5. the longest prefix of the first unterminated object that can be closed
//     into valid JSON (truncated output);
//  6. a degraded recipe that carries the response verbatim.
//
// A field of an unexpected shape ("tools": "냄비") is coerced instead of
// rejecting the whole object. When a field was coerced or the object was
// cut, the recipe keeps the response in RawResponse.
//
// It never fails. Every attempt is logged with its outcome.
package commands

import (
	"bytes"
	goctx "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

// Recovery strategy names, as logged.
const (
	StrategyDirect   = "direct"
	StrategyFenced   = "fenced"
	StrategyBraces   = "brace_span"
	StrategyScan     = "object_scan"
	StrategyRepair   = "truncation_repair"
	StrategyDegraded = "degraded"
)

const (
	maxScanPositions  = 64
	maxRepairAttempts = 64
)

var (
	fencePattern    = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\\n?(.*?)```")
	errNotAnObject  = errors.New("not a JSON object")
	errNoRecipeKeys = errors.New("object has no recipe fields")
)

// recipeKeys are the root fields that mark an object as a recipe rather
// than a fragment of one.
var recipeKeys = []string{"title", "ingredients", "steps"}

// RecoverRecipe returns the best recipe that can be read from raw.
func RecoverRecipe(ctx goctx.Context, raw string) *model.Recipe {
	recipe, _ := RecoverRecipeWithStrategy(ctx, raw)
	return recipe
}

// recovered is a recipe read by one strategy. lossy lists the fields that
// had to be coerced or cut; the raw response then stays on the recipe.
type recovered struct {
	recipe *model.Recipe
	lossy  []string
}

// RecoverRecipeWithStrategy is RecoverRecipe that also reports which
// strategy produced the result.
func RecoverRecipeWithStrategy(ctx goctx.Context, raw string) (*model.Recipe, string) {
	strategies := []struct {
		name string
		run  func(string) (*recovered, error)
	}{
		{StrategyDirect, recoverDirect},
		{StrategyFenced, recoverFenced},
		{StrategyBraces, recoverBraceSpan},
		{StrategyScan, recoverScan},
		{StrategyRepair, recoverTruncated},
	}
	for _, s := range strategies {
		result, err := s.run(raw)
		if err != nil {
			slog.DebugContext(ctx, "recipe recovery", "strategy", s.name, "outcome", "failed", "error", err)
			continue
		}
		recipe := normalizeRecipe(result.recipe)
		if len(result.lossy) > 0 {
			recipe.RawResponse = raw
			slog.WarnContext(ctx, "recipe recovery kept the raw response", "strategy", s.name, "fields", result.lossy)
		}
		slog.InfoContext(ctx, "recipe recovery", "strategy", s.name, "outcome", "success")
		return recipe, s.name
	}
	slog.WarnContext(ctx, "recipe recovery", "strategy", StrategyDegraded, "outcome", "success", "characters", len(raw))
	return model.NewDegradedRecipe(raw), StrategyDegraded
}

// decodeRecipe reads candidate, which must be exactly one JSON object with
// at least one recipe key at its root. Well-formed documents decode as is;
// otherwise each field is coerced on its own.
func decodeRecipe(candidate string) (*recovered, error) {
	candidate = strings.TrimSpace(candidate)
	if !strings.HasPrefix(candidate, "{") {
		return nil, errNotAnObject
	}
	var root map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &root); err != nil {
		return nil, err
	}
	if !hasRecipeKey(root) {
		return nil, errNoRecipeKeys
	}
	recipe := &model.Recipe{}
	if err := json.Unmarshal([]byte(candidate), recipe); err == nil {
		return &recovered{recipe: recipe}, nil
	}
	c := &fieldCoercer{}
	recipe = c.recipe(root)
	return &recovered{recipe: recipe, lossy: c.coerced}, nil
}

func hasRecipeKey(root map[string]json.RawMessage) bool {
	for _, key := range recipeKeys {
		if _, ok := root[key]; ok {
			return true
		}
	}
	return false
}

func recoverDirect(raw string) (*recovered, error) {
	return decodeRecipe(raw)
}

func recoverFenced(raw string) (*recovered, error) {
	matches := fencePattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, errors.New("no fenced block")
	}
	var errs []error
	for _, m := range matches {
		result, err := decodeRecipe(m[1])
		if err == nil {
			return result, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func recoverBraceSpan(raw string) (*recovered, error) {
	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first < 0 || last <= first {
		return nil, errors.New("no brace span")
	}
	return decodeRecipe(raw[first : last+1])
}

// recoverScan decodes one object from each top-level '{'. Braces inside an
// object already read belong to that object's fields and are never tried on
// their own.
func recoverScan(raw string) (*recovered, error) {
	pos := nextBrace(raw, 0)
	if pos < 0 {
		return nil, errors.New("no opening brace")
	}
	tried := 0
	for ; pos >= 0 && tried < maxScanPositions; tried++ {
		dec := json.NewDecoder(strings.NewReader(raw[pos:]))
		var object json.RawMessage
		err := dec.Decode(&object)
		switch {
		case err == nil:
			if result, err := decodeRecipe(string(object)); err == nil && hasContent(result.recipe) {
				return result, nil
			}
			pos = nextBrace(raw, pos+int(dec.InputOffset()))
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("object at offset %d is truncated", pos)
		default:
			if end, ok := objectEnd(raw[pos:]); ok {
				pos = nextBrace(raw, pos+end)
			} else {
				pos = nextBrace(raw, pos+1)
			}
		}
	}
	return nil, fmt.Errorf("no recipe object at %d top-level positions", tried)
}

func nextBrace(raw string, from int) int {
	if from >= len(raw) {
		return -1
	}
	i := strings.IndexByte(raw[from:], '{')
	if i < 0 {
		return -1
	}
	return from + i
}

// objectEnd returns the length of the balanced object doc starts with.
func objectEnd(doc string) (int, bool) {
	cuts := scanCutPoints(doc)
	if n := len(cuts); n > 0 && cuts[n-1].open == "" {
		return cuts[n-1].end, true
	}
	return 0, false
}

// cutPoint is a prefix length at which the document can be closed by
// appending the closers for the brackets still open.
type cutPoint struct {
	end  int
	open string
}

// recoverTruncated repairs the first top-level object that never closes, or
// that closes but is not valid JSON. Complete valid objects were already
// judged by the earlier strategies and are skipped.
func recoverTruncated(raw string) (*recovered, error) {
	start := nextBrace(raw, 0)
	if start < 0 {
		return nil, errors.New("no opening brace")
	}
	var errs []error
	for start >= 0 {
		doc := raw[start:]
		cuts := scanCutPoints(doc)
		end, closed := objectEnd(doc)
		if closed && json.Valid([]byte(doc[:end])) {
			start = nextBrace(raw, start+end)
			continue
		}
		result, err := repairPrefix(doc, cuts)
		if err == nil {
			return result, nil
		}
		errs = append(errs, err)
		if !closed {
			break
		}
		start = nextBrace(raw, start+end)
	}
	if len(errs) == 0 {
		return nil, errors.New("no object to repair")
	}
	return nil, errors.Join(errs...)
}

func repairPrefix(doc string, cuts []cutPoint) (*recovered, error) {
	attempts := 0
	for i := len(cuts) - 1; i >= 0 && attempts < maxRepairAttempts; i-- {
		attempts++
		result, err := decodeRecipe(doc[:cuts[i].end] + closers(cuts[i].open))
		if errors.Is(err, errNoRecipeKeys) {
			return nil, err
		}
		if err != nil {
			continue
		}
		if !hasContent(result.recipe) {
			return nil, errors.New("repaired object has no recipe content")
		}
		result.lossy = append(result.lossy, fmt.Sprintf("truncated at offset %d", cuts[i].end))
		return result, nil
	}
	return nil, fmt.Errorf("no repairable prefix among %d cut points", len(cuts))
}

// scanCutPoints walks doc, which starts with '{', and records every position
// where a complete value has just ended. It stops when the first object
// closes.
func scanCutPoints(doc string) []cutPoint {
	var (
		cuts      []cutPoint
		stack     []byte
		expectKey []bool
		inString  bool
		escaped   bool
		isKey     bool
	)
	snapshot := func(end int) {
		cuts = append(cuts, cutPoint{end: end, open: string(stack)})
	}

	for i := 0; i < len(doc); i++ {
		ch := doc[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
				if !isKey {
					snapshot(i + 1)
				}
			}
			continue
		}
		top := len(stack) - 1
		switch ch {
		case '"':
			inString = true
			isKey = top >= 0 && stack[top] == '{' && expectKey[top]
		case '{', '[':
			stack = append(stack, ch)
			expectKey = append(expectKey, ch == '{')
			// Closing a nested container right after it opens would add
			// empty entries; only the root is cut there.
			if len(stack) == 1 {
				snapshot(i + 1)
			}
		case '}', ']':
			if top < 0 {
				return cuts
			}
			stack = stack[:top]
			expectKey = expectKey[:top]
			if len(stack) == 0 {
				return append(cuts, cutPoint{end: i + 1})
			}
			snapshot(i + 1)
		case ',':
			if top >= 0 {
				snapshot(i)
				if stack[top] == '{' {
					expectKey[top] = true
				}
			}
		case ':':
			if top >= 0 {
				expectKey[top] = false
			}
		}
	}
	return cuts
}

func closers(open string) string {
	var b bytes.Buffer
	for i := len(open) - 1; i >= 0; i-- {
		if open[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

func hasContent(r *model.Recipe) bool {
	return r.Title != "" || len(r.Ingredients) > 0 || len(r.Steps) > 0
}

// normalizeRecipe replaces nil lists so recovered recipes serialize like
// degraded ones, and drops diagnostics only the pipeline may set.
func normalizeRecipe(r *model.Recipe) *model.Recipe {
	r.Degraded = false
	r.RawResponse = ""
	if r.Ingredients == nil {
		r.Ingredients = make([]*model.Ingredient, 0)
	}
	if r.Tools == nil {
		r.Tools = make([]string, 0)
	}
	if r.Steps == nil {
		r.Steps = make([]*model.Step, 0)
	}
	return r
}

// RecipeRecovery is the chain step around RecoverRecipe. It never records an
// error.
type RecipeRecovery struct {
	cor.BaseCommand
}

func NewRecipeRecovery(name string) *RecipeRecovery {
	out := &RecipeRecovery{BaseCommand: *cor.NewBaseCommand(name)}
	out.InputParamName = ParamRawRecipe
	return out
}

func (r *RecipeRecovery) Execute(context cor.Context) {
	raw, _ := context.Get(r.GetInputParam()).(string)
	ctx := context.GetContext()

	recipe, strategy := RecoverRecipeWithStrategy(ctx, raw)

	if ref, ok := context.Get(ParamReference).(*model.VideoReference); ok {
		recipe.Source = ref.Describe()
	} else if asset, ok := context.Get(ParamAsset).(*model.MediaAsset); ok {
		recipe.Source = asset.Source
	}
	if corpus, ok := context.Get(ParamCorpus).(*model.Corpus); ok && !corpus.Timed {
		recipe.TimingEstimated = true
	}
	for _, warning := range recipe.TimelineWarnings() {
		slog.WarnContext(ctx, "recipe timeline", "source", recipe.Source, "warning", warning)
	}
	slog.InfoContext(ctx, "recipe recovered", "strategy", strategy, "degraded", recipe.Degraded, "steps", len(recipe.Steps), "timing_estimated", recipe.TimingEstimated)

	r.Succeed(context)
	context.Add(ParamRecipe, recipe)
	context.Add(r.GetOutputParam(), recipe)
}
