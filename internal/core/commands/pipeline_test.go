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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"text/template"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/commands"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/extractors"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	test "github.com/jaycherian/gcp-go-recipe-extractor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analysisChain(t *testing.T, llm cloud.GenerativeModel, exts ...extractors.Extractor) cor.Chain {
	t.Helper()
	config := test.GetConfig()
	prompt, err := template.New("recipe").Parse(config.PromptTemplates.RecipePrompt)
	require.NoError(t, err)

	return cor.NewBaseChain("test-analysis").
		AddCommand(commands.NewTextExtraction("test-extraction", 0, exts...)).
		AddCommand(commands.NewCorpusAggregator("test-aggregator")).
		AddCommand(commands.NewRecipeSynthesizer("test-synthesizer", llm, prompt, config.Synthesis)).
		AddCommand(commands.NewRecipeRecovery("test-recovery"))
}

func assetContext(t *testing.T) (cor.Context, *model.MediaAsset) {
	t.Helper()
	dir := t.TempDir()
	asset := &model.MediaAsset{Path: test.WriteTestVideo(t, dir, "test.mp4"), MimeType: "video/mp4", Source: "upload:test.mp4"}
	chainCtx := cor.NewBaseContext()
	t.Cleanup(chainCtx.Close)
	chainCtx.SetContext(context.Background())
	chainCtx.Add(commands.ParamAsset, asset)
	chainCtx.Add(cor.CtxIn, asset)
	return chainCtx, asset
}

func TestCaptionOnlyScenario(t *testing.T) {
	caption, visual, speech := test.CaptionOnlyExtractors()
	llm := &test.FakeModel{Responses: []string{test.TestRecipeJSON}}
	chainCtx, _ := assetContext(t)

	analysisChain(t, llm, visual, caption, speech).Execute(chainCtx)
	require.NoError(t, chainCtx.Err())

	require.Equal(t, 1, llm.Calls())
	assert.Contains(t, llm.Prompts[0], "00:00:00-00:00:05: 재료를 준비합니다")
	assert.Contains(t, llm.Prompts[0], "=== caption ===")
	assert.Contains(t, llm.Prompts[0], "upload:test.mp4")
	assert.Contains(t, llm.Prompts[0], commands.TimedCorpusNote)
	assert.Contains(t, llm.Prompts[0], `"title":"김치찌개"`, "example recipe is rendered")

	var want model.Recipe
	require.NoError(t, json.Unmarshal([]byte(test.TestRecipeJSON), &want))
	want.Source = "upload:test.mp4"

	recipe, ok := chainCtx.Get(commands.ParamRecipe).(*model.Recipe)
	require.True(t, ok)
	assert.Equal(t, &want, recipe)
	assert.False(t, recipe.TimingEstimated)
	assert.Equal(t, recipe, chainCtx.Get(cor.CtxOut), "the recipe is the chain's output")
}

func TestAllExtractorsEmptyStopsBeforeSynthesis(t *testing.T) {
	visual := &test.FakeExtractor{From: model.SourceVisual, Err: errors.New("vision quota exceeded")}
	caption := &test.FakeExtractor{From: model.SourceCaption}
	speech := &test.FakeExtractor{From: model.SourceSpeech, Result: &model.ExtractedText{Source: model.SourceSpeech, Text: "  \n"}}
	llm := &test.FakeModel{Responses: []string{test.TestRecipeJSON}}
	chainCtx, _ := assetContext(t)

	analysisChain(t, llm, visual, caption, speech).Execute(chainCtx)

	var extractionErr *model.ExtractionError
	require.ErrorAs(t, chainCtx.Err(), &extractionErr)
	assert.Len(t, extractionErr.Failures, 3)
	assert.ErrorContains(t, extractionErr.Failures[model.SourceVisual], "quota")
	assert.Nil(t, extractionErr.Failures[model.SourceCaption])
	assert.Equal(t, 0, llm.Calls())
	assert.Nil(t, chainCtx.Get(commands.ParamRecipe))
	for _, ext := range []*test.FakeExtractor{visual, caption, speech} {
		assert.Equal(t, 1, ext.Calls())
	}
}

func TestFailingExtractorDegrades(t *testing.T) {
	caption, _, _ := test.CaptionOnlyExtractors()
	visual := &test.FakeExtractor{From: model.SourceVisual, Err: errors.New("ffmpeg not found")}
	speech := &test.FakeExtractor{From: model.SourceSpeech, Result: &model.ExtractedText{Source: model.SourceSpeech, Text: "물 500ml를 넣어요"}}
	llm := &test.FakeModel{Responses: []string{"no recipe here"}}
	chainCtx, _ := assetContext(t)

	analysisChain(t, llm, visual, caption, speech).Execute(chainCtx)
	require.NoError(t, chainCtx.Err())

	assert.Contains(t, llm.Prompts[0], "물 500ml를 넣어요")
	assert.NotContains(t, llm.Prompts[0], "=== visual ===")
	recipe := chainCtx.Get(commands.ParamRecipe).(*model.Recipe)
	assert.True(t, recipe.Degraded)
	assert.Equal(t, "no recipe here", recipe.RawResponse)
}

func TestUntimedCorpusIsMarkedEstimated(t *testing.T) {
	visual := &test.FakeExtractor{From: model.SourceVisual, Result: &model.ExtractedText{Source: model.SourceVisual, Text: "김치 300g\n두부 1모"}}
	llm := &test.FakeModel{Responses: []string{"```json\n" + test.TestRecipeJSON + "\n```"}}
	chainCtx, _ := assetContext(t)

	analysisChain(t, llm, visual).Execute(chainCtx)
	require.NoError(t, chainCtx.Err())

	assert.Contains(t, llm.Prompts[0], commands.UntimedCorpusNote)
	recipe := chainCtx.Get(commands.ParamRecipe).(*model.Recipe)
	assert.Equal(t, "테스트 요리", recipe.Title)
	assert.True(t, recipe.TimingEstimated)
}

func TestSynthesisFailure(t *testing.T) {
	caption, _, _ := test.CaptionOnlyExtractors()
	llm := &test.FakeModel{Err: errors.New("503 unavailable")}
	chainCtx, _ := assetContext(t)

	analysisChain(t, llm, caption).Execute(chainCtx)

	var synthErr *model.SynthesisError
	require.ErrorAs(t, chainCtx.Err(), &synthErr)
	assert.Equal(t, "fake-model", synthErr.Model)
	assert.Equal(t, 1, llm.Calls(), "max_retries is 0 in the test config")
	assert.Nil(t, chainCtx.Get(commands.ParamRecipe))
}

func TestMediaTriggerToReference(t *testing.T) {
	cmd := commands.NewMediaTriggerToReference("test-trigger")

	chainCtx := cor.NewBaseContext()
	defer chainCtx.Close()
	chainCtx.SetContext(context.Background())
	chainCtx.Add(cor.CtxIn, test.GetTestUploadMessageText())
	cmd.Execute(chainCtx)
	require.NoError(t, chainCtx.Err())

	ref := chainCtx.Get(cor.CtxOut).(*model.VideoReference)
	assert.Equal(t, model.ReferenceGCS, ref.Kind)
	assert.Equal(t, "gs://recipe_video_uploads/kimchi-stew.mp4", ref.URL)
	assert.Equal(t, "kimchi-stew.mp4", ref.FileName)

	chainCtx = cor.NewBaseContext()
	chainCtx.SetContext(context.Background())
	chainCtx.Add(cor.CtxIn, test.GetTestImageMessageText())
	cmd.Execute(chainCtx)
	assert.NoError(t, chainCtx.Err())
	assert.Nil(t, chainCtx.Get(cor.CtxOut), "non-video objects are skipped")

	chainCtx = cor.NewBaseContext()
	chainCtx.SetContext(context.Background())
	chainCtx.Add(cor.CtxIn, "not json")
	cmd.Execute(chainCtx)
	assert.Error(t, chainCtx.Err())
}

func TestMediaValidator(t *testing.T) {
	dir := t.TempDir()
	video := test.WriteTestVideo(t, dir, "clip.mp4")

	asset, err := commands.ValidateMedia(model.NewUploadReference(video, "clip.mp4", "video/mp4", 0), 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", asset.MimeType)
	assert.Equal(t, "upload:clip.mp4", asset.Source)

	_, err = commands.ValidateMedia(model.NewUploadReference(video, "clip.mp4", "video/mp4", 0), 10)
	assert.ErrorIs(t, err, model.ErrMediaTooLarge)

	_, err = commands.ValidateMedia(model.NewUploadReference(video, "clip.mp4", "image/png", 0), 1<<20)
	assert.ErrorIs(t, err, model.ErrUnsupportedMedia)

	text := filepath.Join(dir, "notes.mp4")
	require.NoError(t, os.WriteFile(text, []byte(strings.Repeat("김치찌개 레시피\n", 40)), 0o600))
	_, err = commands.ValidateMedia(model.NewUploadReference(text, "notes.mp4", "video/mp4", 0), 1<<20)
	var acqErr *model.AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.False(t, acqErr.Temporary)
	assert.ErrorIs(t, err, model.ErrUnsupportedMedia)
}

// ytDlpRunner writes what yt-dlp would produce into the -o directory.
type ytDlpRunner struct {
	files map[string][]byte
	err   error
	args  []string
}

func (y *ytDlpRunner) Run(_ context.Context, _ string, args ...string) error {
	y.args = args
	if y.err != nil {
		return y.err
	}
	var dir string
	for i, a := range args {
		if a == "-o" {
			dir = filepath.Dir(args[i+1])
		}
	}
	for name, content := range y.files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o600); err != nil {
			return err
		}
	}
	return nil
}

func downloadContext(t *testing.T, url string) cor.Context {
	t.Helper()
	ref, err := model.NewRemoteReference(url)
	require.NoError(t, err)
	ref.StagingDir = t.TempDir()
	chainCtx := cor.NewBaseContext()
	t.Cleanup(chainCtx.Close)
	chainCtx.SetContext(context.Background())
	chainCtx.Add(cor.CtxIn, ref)
	return chainCtx
}

func TestRemoteMediaDownloader(t *testing.T) {
	runner := &ytDlpRunner{files: map[string][]byte{
		"video.mp4":    test.MP4Header(),
		"video.en.vtt": []byte("WEBVTT\n"),
		"video.ko.vtt": []byte("WEBVTT\n"),
	}}
	config := cloud.Acquisition{AllowedHosts: []string{"youtube.com"}, CaptionLanguages: []string{"ko", "en"}, MaxUploadBytes: 1 << 20}
	cmd := commands.NewRemoteMediaDownloader("test-download", runner, config)

	chainCtx := downloadContext(t, "https://m.youtube.com/watch?v=abc")
	require.True(t, cmd.IsExecutable(chainCtx))
	cmd.Execute(chainCtx)
	require.NoError(t, chainCtx.Err())

	ref := chainCtx.Get(cor.CtxOut).(*model.VideoReference)
	assert.Equal(t, "video.mp4", filepath.Base(ref.LocalPath))
	assert.Equal(t, "video.ko.vtt", filepath.Base(ref.CaptionPath))
	assert.Contains(t, runner.args, "--write-auto-subs")
	assert.Contains(t, runner.args, "ko,en")
	assert.Equal(t, "https://m.youtube.com/watch?v=abc", runner.args[len(runner.args)-1])
}

func TestRemoteMediaDownloaderRejects(t *testing.T) {
	config := cloud.Acquisition{AllowedHosts: []string{"youtube.com"}}

	runner := &ytDlpRunner{}
	cmd := commands.NewRemoteMediaDownloader("test-download", runner, config)
	chainCtx := downloadContext(t, "https://notyoutube.com/watch?v=abc")
	cmd.Execute(chainCtx)
	assert.ErrorIs(t, chainCtx.Err(), model.ErrUnsupportedHost)
	assert.Nil(t, runner.args, "yt-dlp never runs for a rejected host")

	runner = &ytDlpRunner{err: errors.New("ERROR: [youtube] abc: Video unavailable")}
	cmd = commands.NewRemoteMediaDownloader("test-download", runner, config)
	chainCtx = downloadContext(t, "https://youtu.be.youtube.com/abc")
	cmd.Execute(chainCtx)
	var acqErr *model.AcquisitionError
	require.ErrorAs(t, chainCtx.Err(), &acqErr)
	assert.False(t, acqErr.Temporary)

	runner = &ytDlpRunner{err: errors.New("ERROR: HTTP Error 503: Service Unavailable")}
	cmd = commands.NewRemoteMediaDownloader("test-download", runner, config)
	chainCtx = downloadContext(t, "https://www.youtube.com/watch?v=abc")
	cmd.Execute(chainCtx)
	require.ErrorAs(t, chainCtx.Err(), &acqErr)
	assert.True(t, acqErr.Temporary)

	gcsCtx := downloadContext(t, "gs://bucket/video.mp4")
	assert.False(t, cmd.IsExecutable(gcsCtx), "only remote references are downloaded")
}

type fakeInserter struct {
	rows []interface{}
	err  error
}

func (f *fakeInserter) Put(_ context.Context, src interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, src)
	return nil
}

func recipeContext(t *testing.T) (cor.Context, *model.Recipe) {
	t.Helper()
	var recipe model.Recipe
	require.NoError(t, json.Unmarshal([]byte(test.TestRecipeJSON), &recipe))
	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(context.Background())
	chainCtx.Add(commands.ParamRecipe, &recipe)
	chainCtx.Add(commands.ParamJobID, "job-1")
	return chainCtx, &recipe
}

func TestRecipePersistToBigQuery(t *testing.T) {
	inserter := &fakeInserter{}
	cmd := commands.NewRecipePersistWithInserter("test-persist", inserter)
	chainCtx, recipe := recipeContext(t)

	cmd.Execute(chainCtx)
	require.NoError(t, chainCtx.Err())
	require.Len(t, inserter.rows, 1)
	row := inserter.rows[0].(*commands.RecipeRow)
	assert.Equal(t, "job-1", row.JobID)
	assert.Equal(t, "테스트 요리", row.Title)
	assert.Equal(t, 1, row.StepCount)
	assert.Contains(t, row.Document, `"tools":["냄비"]`)
	assert.Equal(t, recipe, chainCtx.Get(cor.CtxOut))
}

func TestRecipePersistIsBestEffort(t *testing.T) {
	cmd := commands.NewRecipePersistWithInserter("test-persist", &fakeInserter{err: errors.New("table not found")})
	chainCtx, recipe := recipeContext(t)

	cmd.Execute(chainCtx)
	assert.NoError(t, chainCtx.Err(), "a sink failure never fails the job")
	assert.Equal(t, recipe, chainCtx.Get(cor.CtxOut))
}

func TestArchiveObjectName(t *testing.T) {
	assert.Equal(t, "recipes/job-1.json", commands.ArchiveObjectName("recipes", "job-1"))
	assert.Equal(t, "job-1.json", commands.ArchiveObjectName("", "job-1"))
}
