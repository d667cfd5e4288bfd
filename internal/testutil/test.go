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

// Package test provides helpers and fakes shared by the test suites: the test
// configuration, sample bucket notifications, a minimal video file, and fake
// implementations of the generative model and the extractors so no test needs
// cloud access.
package test

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	"google.golang.org/genai"
)

// StateManager caches the configuration across the tests of one package.
type StateManager struct {
	once   sync.Once
	config *cloud.Config
}

var state = &StateManager{}

// ConfigDir returns the repository's configs directory, independent of the
// package the test runs in.
func ConfigDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "configs"
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "configs")
}

// SetupOS points the configuration loader at configs/.env.test.toml.
func SetupOS() (err error) {
	if err = os.Setenv(cloud.EnvConfigFilePrefix, ConfigDir()); err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig loads the test configuration once and returns the cached value.
// Tests that change settings must copy it first.
func GetConfig() *cloud.Config {
	state.once.Do(func() {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup environment for test: %v\n", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			log.Fatalf("failed to load test configuration: %v\n", err)
		}
		state.config = config
	})
	return state.config
}

// GetTestUploadMessageText simulates the Cloud Storage notification for a
// video finalized in the upload bucket.
func GetTestUploadMessageText() string {
	return `{
  "kind": "storage#object",
  "id": "recipe_video_uploads/kimchi-stew.mp4/1728615848664286",
  "name": "kimchi-stew.mp4",
  "bucket": "recipe_video_uploads",
  "generation": "1728615848664286",
  "contentType": "video/mp4",
  "timeCreated": "2024-10-11T03:04:08.672Z",
  "size": "25934803",
  "metadata": { "uploader": "test" }
}`
}

// GetTestImageMessageText simulates the notification for a thumbnail, which
// the pipeline ignores.
func GetTestImageMessageText() string {
	return `{
  "kind": "storage#object",
  "name": "kimchi-stew.jpg",
  "bucket": "recipe_video_uploads",
  "contentType": "image/jpeg",
  "size": "20480"
}`
}

// MP4Header is the start of an ISO base media file, enough for MIME sniffing.
func MP4Header() []byte {
	header := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}
	return append(header, make([]byte, 512)...)
}

// WriteTestVideo writes an MP4-looking file named name into dir.
func WriteTestVideo(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, MP4Header(), 0o600); err != nil {
		t.Fatalf("write test video: %v", err)
	}
	return p
}

// FakeModel is a cloud.GenerativeModel that returns Responses in order,
// repeating the last one, and records every prompt.
type FakeModel struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Prompts   []string
}

func (f *FakeModel) Name() string { return "fake-model" }

func (f *FakeModel) GenerateContent(_ context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prompt := ""
	for _, c := range contents {
		for _, p := range c.Parts {
			prompt += p.Text
		}
	}
	f.Prompts = append(f.Prompts, prompt)
	if f.Err != nil {
		return nil, f.Err
	}
	text := ""
	if n := len(f.Responses); n > 0 {
		i := len(f.Prompts) - 1
		if i >= n {
			i = n - 1
		}
		text = f.Responses[i]
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}, nil
}

// Calls returns how many times the model was called.
func (f *FakeModel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Prompts)
}

// FakeExtractor returns a fixed result.
type FakeExtractor struct {
	mu     sync.Mutex
	From   model.Source
	Result *model.ExtractedText
	Err    error
	calls  int
}

func (f *FakeExtractor) Source() model.Source { return f.From }

func (f *FakeExtractor) Extract(ctx context.Context, _ *model.MediaAsset) (*model.ExtractedText, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Result == nil {
		return model.NewEmptyExtractedText(f.From), nil
	}
	return f.Result, nil
}

// Calls returns how many times Extract ran.
func (f *FakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// CaptionOnlyExtractors is the caption-only scenario: a single timed caption
// cue, and empty visual and speech results.
func CaptionOnlyExtractors() (caption, visual, speech *FakeExtractor) {
	caption = &FakeExtractor{
		From:   model.SourceCaption,
		Result: model.NewSegmentedText(model.SourceCaption, []model.Segment{{Text: "재료를 준비합니다", Start: 0, End: 5}}),
	}
	visual = &FakeExtractor{From: model.SourceVisual}
	speech = &FakeExtractor{From: model.SourceSpeech}
	return caption, visual, speech
}

// TestRecipeJSON is the model response of the caption-only scenario.
const TestRecipeJSON = `{"title":"테스트 요리","description":"테스트용 레시피","ingredients":[{"name":"김치","amount":"1","unit":"컵"}],"tools":["냄비"],"steps":[{"step_number":1,"title":"재료 준비","start_time":"00:00:00","end_time":"00:00:05","actions":[{"action":"재료를 준비합니다","ingredients":["김치"],"tools":["냄비"],"time":"5초"}]}],"cooking_time":"5분","servings":"1인분","difficulty":"쉬움","tags":["테스트"]}`
