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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

// scalarKeys are read, in order, when an object stands where a scalar was
// expected, e.g. "amount": {"value": 300, "unit": "g"}.
var scalarKeys = []string{"value", "amount", "quantity", "text", "name", "title"}

// fieldCoercer maps a recipe object field by field. Every field that did not
// have the expected shape is recorded in coerced by its path.
type fieldCoercer struct {
	coerced []string
}

func (c *fieldCoercer) note(path string) {
	c.coerced = append(c.coerced, path)
}

func (c *fieldCoercer) recipe(root map[string]json.RawMessage) *model.Recipe {
	out := &model.Recipe{
		Title:       c.str("title", root["title"]),
		Description: c.str("description", root["description"]),
		Tools:       c.strs("tools", root["tools"]),
		CookingTime: c.text("cooking_time", root["cooking_time"]),
		Servings:    c.text("servings", root["servings"]),
		Difficulty:  c.str("difficulty", root["difficulty"]),
		Tags:        c.strs("tags", root["tags"]),
	}
	for i, item := range c.list("ingredients", root["ingredients"]) {
		if ingredient := c.ingredient(fmt.Sprintf("ingredients[%d]", i), item); ingredient != nil {
			out.Ingredients = append(out.Ingredients, ingredient)
		}
	}
	for i, item := range c.list("steps", root["steps"]) {
		if step := c.step(fmt.Sprintf("steps[%d]", i), i, item); step != nil {
			out.Steps = append(out.Steps, step)
		}
	}
	return out
}

func (c *fieldCoercer) ingredient(path string, raw json.RawMessage) *model.Ingredient {
	fields, ok := c.object(path, raw)
	if !ok {
		if name := flatten(raw).Value; name != "" {
			return &model.Ingredient{Name: name}
		}
		return nil
	}
	out := &model.Ingredient{
		Name:   c.str(path+".name", fields["name"]),
		Amount: c.text(path+".amount", fields["amount"]),
		Unit:   c.str(path+".unit", fields["unit"]),
	}
	if out.Unit == "" {
		var amount map[string]json.RawMessage
		if json.Unmarshal(fields["amount"], &amount) == nil {
			out.Unit = flatten(amount["unit"]).Value
		}
	}
	return out
}

func (c *fieldCoercer) step(path string, index int, raw json.RawMessage) *model.Step {
	fields, ok := c.object(path, raw)
	if !ok {
		if title := flatten(raw).Value; title != "" {
			return &model.Step{StepNumber: model.Int(index + 1), Title: title}
		}
		return nil
	}
	out := &model.Step{
		StepNumber: c.integer(path+".step_number", fields["step_number"], index+1),
		Title:      c.str(path+".title", fields["title"]),
		StartTime:  c.str(path+".start_time", fields["start_time"]),
		EndTime:    c.str(path+".end_time", fields["end_time"]),
	}
	for i, item := range c.list(path+".actions", fields["actions"]) {
		if action := c.action(fmt.Sprintf("%s.actions[%d]", path, i), item); action != nil {
			out.Actions = append(out.Actions, action)
		}
	}
	return out
}

func (c *fieldCoercer) action(path string, raw json.RawMessage) *model.Action {
	fields, ok := c.object(path, raw)
	if !ok {
		if text := flatten(raw).Value; text != "" {
			return &model.Action{Action: text}
		}
		return nil
	}
	return &model.Action{
		Action:      c.str(path+".action", fields["action"]),
		Ingredients: c.strs(path+".ingredients", fields["ingredients"]),
		Tools:       c.strs(path+".tools", fields["tools"]),
		Time:        c.text(path+".time", fields["time"]),
		Tip:         c.str(path+".tip", fields["tip"]),
	}
}

// object decodes raw as a JSON object. It reports false for null and for
// any other shape, noting the latter.
func (c *fieldCoercer) object(path string, raw json.RawMessage) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err == nil && fields != nil {
		return fields, true
	}
	if !isNull(raw) {
		c.note(path)
	}
	return nil, false
}

// list returns the elements of an array. A single value stands for a list
// of one.
func (c *fieldCoercer) list(path string, raw json.RawMessage) []json.RawMessage {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		return items
	}
	c.note(path)
	return []json.RawMessage{raw}
}

func (c *fieldCoercer) text(path string, raw json.RawMessage) model.Text {
	if isNull(raw) {
		return model.Text{}
	}
	var t model.Text
	if err := json.Unmarshal(raw, &t); err == nil {
		return t
	}
	c.note(path)
	return flatten(raw)
}

func (c *fieldCoercer) str(path string, raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	c.note(path)
	return flatten(raw).Value
}

func (c *fieldCoercer) strs(path string, raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		c.note(path)
		if s := flatten(raw).Value; s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		if s := c.str(fmt.Sprintf("%s[%d]", path, i), item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// integer falls back to fallback when raw holds no number.
func (c *fieldCoercer) integer(path string, raw json.RawMessage, fallback int) model.Int {
	if isNull(raw) {
		return 0
	}
	var n model.Int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	c.note(path)
	return model.Int(fallback)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// flatten reduces any JSON value to one piece of text: scalars keep their
// spelling, objects yield their first scalarKeys member (or their compact
// JSON) and arrays join their elements.
func flatten(raw json.RawMessage) model.Text {
	if isNull(raw) {
		return model.Text{}
	}
	var t model.Text
	if err := json.Unmarshal(raw, &t); err == nil {
		return t
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err == nil {
		for _, key := range scalarKeys {
			if value := flatten(fields[key]); value.Value != "" {
				return value
			}
		}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if s := flatten(item).Value; s != "" {
				parts = append(parts, s)
			}
		}
		return model.NewText(strings.Join(parts, ", "))
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err == nil {
		return model.NewText(compact.String())
	}
	return model.NewText(string(raw))
}
