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

package commands_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/commands"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	test "github.com/jaycherian/gcp-go-recipe-extractor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverRecipeValidJSON(t *testing.T) {
	recipe, strategy := commands.RecoverRecipeWithStrategy(context.Background(), test.TestRecipeJSON)
	assert.Equal(t, commands.StrategyDirect, strategy)

	var want model.Recipe
	require.NoError(t, json.Unmarshal([]byte(test.TestRecipeJSON), &want))
	assert.Equal(t, &want, recipe)
	assert.False(t, recipe.Degraded)
}

func TestRecoverRecipeKeepsNumericLiterals(t *testing.T) {
	raw := `{"title":"계란말이","ingredients":[{"name":"계란","amount":3,"unit":"개"}],"tools":["팬"],` +
		`"steps":[{"step_number":1,"title":"굽기","start_time":"00:00:00","end_time":"00:01:00",` +
		`"actions":[{"action":"굽는다","ingredients":["계란"],"tools":["팬"],"time":90}]}],"servings":2}`

	recipe, strategy := commands.RecoverRecipeWithStrategy(context.Background(), raw)
	assert.Equal(t, commands.StrategyDirect, strategy)
	assert.Empty(t, recipe.RawResponse)

	encoded, err := json.Marshal(recipe)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(encoded))
}

// stewWithSteps returns a two-step recipe with the given ingredient, tools
// and first step number spliced in.
func stewWithSteps(ingredientJSON, toolsJSON, stepNumberJSON string) string {
	return `{"title":"김치찌개","ingredients":[` + ingredientJSON + `],"tools":` + toolsJSON + `,` +
		`"steps":[{"step_number":` + stepNumberJSON + `,"title":"볶기","start_time":"00:00:10","end_time":"00:01:00",` +
		`"actions":[{"action":"김치를 볶는다","ingredients":["김치"],"tools":["냄비"],"time":"5분"}]},` +
		`{"step_number":2,"title":"끓이기","start_time":"00:01:00","end_time":"00:05:00","actions":[]}]}`
}

func TestRecoverRecipeCoercesMismatchedFields(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		ingredient *model.Ingredient
		tools      []string
		firstStep  model.Int
	}{
		{
			name:       "amount object",
			raw:        stewWithSteps(`{"name":"김치","amount":{"value":300,"unit":"g"}}`, `["냄비"]`, `1`),
			ingredient: &model.Ingredient{Name: "김치", Amount: model.LiteralText("300"), Unit: "g"},
			tools:      []string{"냄비"},
			firstStep:  1,
		},
		{
			name:       "tools string",
			raw:        stewWithSteps(`{"name":"김치","amount":"300","unit":"g"}`, `"냄비"`, `1`),
			ingredient: &model.Ingredient{Name: "김치", Amount: model.NewText("300"), Unit: "g"},
			tools:      []string{"냄비"},
			firstStep:  1,
		},
		{
			name:       "step number word",
			raw:        stewWithSteps(`{"name":"김치","amount":"300","unit":"g"}`, `["냄비"]`, `"first"`),
			ingredient: &model.Ingredient{Name: "김치", Amount: model.NewText("300"), Unit: "g"},
			tools:      []string{"냄비"},
			firstStep:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, json.Valid([]byte(tt.raw)))

			recipe, strategy := commands.RecoverRecipeWithStrategy(context.Background(), tt.raw)
			assert.Equal(t, commands.StrategyDirect, strategy)
			assert.False(t, recipe.Degraded)
			assert.Equal(t, "김치찌개", recipe.Title)
			assert.Equal(t, tt.raw, recipe.RawResponse)

			require.Len(t, recipe.Ingredients, 1)
			assert.Equal(t, tt.ingredient, recipe.Ingredients[0])
			assert.Equal(t, tt.tools, recipe.Tools)

			require.Len(t, recipe.Steps, 2)
			assert.Equal(t, tt.firstStep, recipe.Steps[0].StepNumber)
			assert.Equal(t, "볶기", recipe.Steps[0].Title)
			require.Len(t, recipe.Steps[0].Actions, 1)
			assert.Equal(t, "김치를 볶는다", recipe.Steps[0].Actions[0].Action)
			assert.Equal(t, "끓이기", recipe.Steps[1].Title)
		})
	}
}

func TestRecoverRecipeCoercesInsideProse(t *testing.T) {
	raw := "Here you go:\n" + stewWithSteps(`{"name":"김치","amount":{"value":300,"unit":"g"}}`, `"냄비"`, `"first"`) + "\nEnjoy!"

	recipe, strategy := commands.RecoverRecipeWithStrategy(context.Background(), raw)
	assert.Equal(t, commands.StrategyBraces, strategy)
	assert.Equal(t, "김치찌개", recipe.Title)
	assert.Len(t, recipe.Steps, 2)
	assert.Equal(t, raw, recipe.RawResponse)
}

func TestRecoverRecipeNeverReturnsNestedObject(t *testing.T) {
	// A complete JSON document without recipe fields at its root.
	raw := `{"result":{"title":"볶기","actions":[{"action":"김치를 볶는다"}]}}`
	recipe, strategy := commands.RecoverRecipeWithStrategy(context.Background(), raw)
	assert.Equal(t, commands.StrategyDegraded, strategy)
	assert.True(t, recipe.Degraded)
	assert.Equal(t, raw, recipe.RawResponse)

	// Inside prose, followed by a stray brace so the brace span fails too.
	raw = `Answer: {"result":{"title":"볶기","actions":[]}} {sic}`
	recipe, strategy = commands.RecoverRecipeWithStrategy(context.Background(), raw)
	assert.Equal(t, commands.StrategyDegraded, strategy)
	assert.Equal(t, raw, recipe.RawResponse)
}

func TestRecoverRecipeTruncatedAfterCompleteStep(t *testing.T) {
	raw := `{"title":"김치찌개","steps":[{"step_number":1,"title":"볶기","actions":[]},{"step_number":2,"ti`

	recipe, strategy := commands.RecoverRecipeWithStrategy(context.Background(), raw)
	assert.Equal(t, commands.StrategyRepair, strategy)
	assert.False(t, recipe.Degraded)
	assert.Equal(t, "김치찌개", recipe.Title)
	require.Len(t, recipe.Steps, 2)
	assert.Equal(t, "볶기", recipe.Steps[0].Title)
	assert.Equal(t, model.Int(2), recipe.Steps[1].StepNumber)
	assert.Equal(t, raw, recipe.RawResponse)
}

func TestRecoverRecipeFencedBlock(t *testing.T) {
	raw := "Here is the recipe you asked for:\n```json\n{\"title\":\"김치찌개\",\"ingredients\":[]}\n```\nEnjoy {cooking}!"

	recipe, strategy := commands.RecoverRecipeWithStrategy(context.Background(), raw)
	assert.Equal(t, commands.StrategyFenced, strategy)
	assert.Equal(t, "김치찌개", recipe.Title)
	assert.NotNil(t, recipe.Ingredients)
	assert.Empty(t, recipe.Ingredients)
	assert.False(t, recipe.Degraded)

	encoded, err := json.Marshal(recipe)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"김치찌개","ingredients":[],"tools":[],"steps":[]}`, string(encoded))
}

func TestRecoverRecipeBareFence(t *testing.T) {
	raw := "```\n{\"title\":\"된장찌개\"}\n```"
	recipe, strategy := commands.RecoverRecipeWithStrategy(context.Background(), raw)
	assert.Equal(t, commands.StrategyFenced, strategy)
	assert.Equal(t, "된장찌개", recipe.Title)
}

func TestRecoverRecipeProseAroundObject(t *testing.T) {
	raw := `Sure! {"title":"계란말이","servings":2} Let me know if you need more.`
	recipe, strategy := commands.RecoverRecipeWithStrategy(context.Background(), raw)
	assert.Equal(t, commands.StrategyBraces, strategy)
	assert.Equal(t, "계란말이", recipe.Title)
	assert.Equal(t, model.LiteralText("2"), recipe.Servings)
}

func TestRecoverRecipeObjectScan(t *testing.T) {
	// The brace span runs into the trailing "{note}", so only the scan finds
	// the complete object.
	raw := `Result: {"title":"잡채","tools":["팬"]} and a {note} afterwards`
	recipe, strategy := commands.RecoverRecipeWithStrategy(context.Background(), raw)
	assert.Equal(t, commands.StrategyScan, strategy)
	assert.Equal(t, "잡채", recipe.Title)
	assert.Equal(t, []string{"팬"}, recipe.Tools)
}

func TestRecoverRecipeTruncated(t *testing.T) {
	raw := `{"title":"김치찌개","ingredients":[{"name":"김치","amount":300,"unit":"g"},{"name":"돼지`
	recipe, strategy := commands.RecoverRecipeWithStrategy(context.Background(), raw)
	assert.Equal(t, commands.StrategyRepair, strategy)
	assert.Equal(t, "김치찌개", recipe.Title)
	require.Len(t, recipe.Ingredients, 1)
	assert.Equal(t, &model.Ingredient{Name: "김치", Amount: model.LiteralText("300"), Unit: "g"}, recipe.Ingredients[0])

	raw = `{"title":"비빔밥","steps":[{"step_number":1,"title":"밥 짓기","start_time":"00:00:10","end_time":"00:01:00","actions":[{"action":"쌀을 씻`
	recipe, strategy = commands.RecoverRecipeWithStrategy(context.Background(), raw)
	assert.Equal(t, commands.StrategyRepair, strategy)
	require.Len(t, recipe.Steps, 1)
	assert.Equal(t, "밥 짓기", recipe.Steps[0].Title)
	assert.Empty(t, recipe.Steps[0].Actions)
}

func TestRecoverRecipeDegraded(t *testing.T) {
	for _, raw := range []string{
		"죄송합니다. 이 영상에서는 레시피를 찾을 수 없습니다.",
		"",
		"{ this is not json",
		`["not", "an", "object"]`,
	} {
		recipe, strategy := commands.RecoverRecipeWithStrategy(context.Background(), raw)
		assert.Equal(t, commands.StrategyDegraded, strategy, raw)
		assert.True(t, recipe.Degraded)
		assert.Equal(t, model.DegradedRecipeTitle, recipe.Title)
		assert.Equal(t, raw, recipe.RawResponse)
		assert.NotNil(t, recipe.Ingredients)
		assert.Empty(t, recipe.Steps)
	}
}

func TestRecoverRecipeIgnoresModelDiagnostics(t *testing.T) {
	recipe := commands.RecoverRecipe(context.Background(), `{"title":"떡볶이","degraded":true,"raw_response":"x"}`)
	assert.False(t, recipe.Degraded)
	assert.Empty(t, recipe.RawResponse)
}

func TestRecoverRecipeNeverPanics(t *testing.T) {
	inputs := []string{"{", "}", "{{{{", "]]]", `{"a":"\"}`, "```", "``````", "{\"title\":\"x\",", strings.Repeat("{", 200)}
	for _, raw := range inputs {
		assert.NotPanics(t, func() { commands.RecoverRecipe(context.Background(), raw) }, raw)
	}
}
