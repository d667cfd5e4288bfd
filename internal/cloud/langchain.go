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

package cloud

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/genai"
)

// LangChainModel adapts a langchaingo model to GenerativeModel so the recipe
// synthesizer can run against Ollama, OpenAI or Anthropic instead of Gemini.
type LangChainModel struct {
	llm                llms.Model
	modelName          string
	systemInstructions string
	options            []llms.CallOption
}

// NewLangChainModel builds the provider selected in synthesis config.
func NewLangChainModel(config Synthesis, systemInstructions string) (*LangChainModel, error) {
	var model llms.Model
	var err error

	apiKey := ""
	if config.APIKeyEnv != "" {
		apiKey = os.Getenv(config.APIKeyEnv)
	}

	switch config.Provider {
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(config.Model)}
		if config.ServerURL != "" {
			opts = append(opts, ollama.WithServerURL(config.ServerURL))
		}
		model, err = ollama.New(opts...)
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("openai provider needs an api key in $%s", config.APIKeyEnv)
		}
		model, err = openai.New(openai.WithToken(apiKey), openai.WithModel(config.Model))
	case ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic provider needs an api key in $%s", config.APIKeyEnv)
		}
		model, err = anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(config.Model))
	default:
		return nil, fmt.Errorf("unsupported langchain provider: %s", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", config.Provider, err)
	}
	return NewLangChainModelFrom(model, config, systemInstructions), nil
}

// NewLangChainModelFrom wraps an existing langchaingo model.
func NewLangChainModelFrom(model llms.Model, config Synthesis, systemInstructions string) *LangChainModel {
	options := make([]llms.CallOption, 0, 2)
	if config.Temperature > 0 {
		options = append(options, llms.WithTemperature(config.Temperature))
	}
	if config.MaxTokens > 0 {
		options = append(options, llms.WithMaxTokens(config.MaxTokens))
	}
	return &LangChainModel{
		llm:                model,
		modelName:          config.Provider + "/" + config.Model,
		systemInstructions: systemInstructions,
		options:            options,
	}
}

func (m *LangChainModel) Name() string {
	return m.modelName
}

// GenerateContent flattens the text parts of contents into one human message
// and returns the first choice as a single-candidate genai response. Non-text
// parts are ignored.
func (m *LangChainModel) GenerateContent(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	var prompt strings.Builder
	for _, content := range contents {
		if content == nil {
			continue
		}
		for _, part := range content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			if prompt.Len() > 0 {
				prompt.WriteString("\n")
			}
			prompt.WriteString(part.Text)
		}
	}

	messages := make([]llms.MessageContent, 0, 2)
	if m.systemInstructions != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, m.systemInstructions))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt.String()))

	resp, err := m.llm.GenerateContent(ctx, messages, m.options...)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", m.modelName)
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(resp.Choices[0].Content, genai.RoleModel)},
		},
	}, nil
}
