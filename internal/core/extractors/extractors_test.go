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

package extractors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner imitates ffmpeg: frame sampling writes one file per entry of
// frames (the file content is the text the fake OCR will "see"), audio
// extraction writes audio bytes.
type fakeRunner struct {
	frames []string
	audio  []byte
	err    error
	calls  [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return f.err
	}
	out := args[len(args)-1]
	if strings.Contains(out, "frame_%05d") {
		for i, text := range f.frames {
			p := filepath.Join(filepath.Dir(out), fmt.Sprintf("frame_%05d.jpg", i+1))
			if err := os.WriteFile(p, []byte(text), 0o600); err != nil {
				return err
			}
		}
		return nil
	}
	return os.WriteFile(out, f.audio, 0o600)
}

// echoDetector returns the image bytes as the detected text.
type echoDetector struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (e *echoDetector) DetectText(_ context.Context, img []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.fail[string(img)] {
		return "", errors.New("quota exceeded")
	}
	return string(img), nil
}

func stagedAsset(t *testing.T) *model.MediaAsset {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(p, []byte("not really a video"), 0o600))
	return &model.MediaAsset{Path: p, MimeType: "video/mp4"}
}

func TestFrameArgs(t *testing.T) {
	args := FrameArgs("/in.mp4", "/out", 2, 640, 50)
	assert.Contains(t, args, "fps=0.500000,scale=640:-2")
	assert.Contains(t, args, "-frames:v")
	assert.Equal(t, "/out/frame_%05d.jpg", args[len(args)-1])

	args = AudioArgs("/in.mp4", "/out.wav")
	assert.Equal(t, []string{"-hide_banner", "-loglevel", "error", "-y", "-i", "/in.mp4", "-vn", "-ac", "1", "-ar", "16000", "-acodec", "pcm_s16le", "-f", "wav", "/out.wav"}, args)
}

func TestVisualExtractorCollapsesDuplicates(t *testing.T) {
	runner := &fakeRunner{frames: []string{"김치 300g", "김치  300g", "", "돼지고기 200g", "돼지고기 200g"}}
	detector := &echoDetector{}
	asset := stagedAsset(t)
	extractor := NewVisualExtractor(NewFFmpeg("ffmpeg", runner), detector, nil, cloud.Extraction{
		FrameIntervalSeconds: 2, OCRWorkers: 2, RetainFrameTimestamps: true,
	})

	out, err := extractor.Extract(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, 5, detector.calls)
	assert.Equal(t, model.SourceVisual, out.Source)
	assert.Equal(t, "김치 300g\n돼지고기 200g", out.Text)
	require.Len(t, out.Segments, 2)
	assert.Equal(t, model.Segment{Text: "김치 300g", Start: 0, End: 4}, out.Segments[0])
	assert.Equal(t, model.Segment{Text: "돼지고기 200g", Start: 6, End: 10}, out.Segments[1])

	entries, err := os.ReadDir(filepath.Dir(asset.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "frame directory is removed")
}

func TestVisualExtractorUntimedByDefault(t *testing.T) {
	runner := &fakeRunner{frames: []string{"양파 1개", "bad", "대파 1대"}}
	detector := &echoDetector{fail: map[string]bool{"bad": true}}
	extractor := NewVisualExtractor(NewFFmpeg("", runner), detector, nil, cloud.Extraction{FrameIntervalSeconds: 1})

	out, err := extractor.Extract(context.Background(), stagedAsset(t))
	require.NoError(t, err)
	assert.Equal(t, "양파 1개\n대파 1대", out.Text)
	assert.Empty(t, out.Segments)
}

func TestVisualExtractorAllFramesFail(t *testing.T) {
	runner := &fakeRunner{frames: []string{"a", "b"}}
	detector := &echoDetector{fail: map[string]bool{"a": true, "b": true}}
	extractor := NewVisualExtractor(NewFFmpeg("", runner), detector, nil, cloud.Extraction{FrameIntervalSeconds: 1})

	_, err := extractor.Extract(context.Background(), stagedAsset(t))
	assert.ErrorContains(t, err, "ocr failed for all 2 frames")
}

type fakeVideoText struct {
	segments []cloud.TranscriptSegment
	err      error
}

func (f *fakeVideoText) AnnotateText(context.Context, string) ([]cloud.TranscriptSegment, error) {
	return f.segments, f.err
}

func TestVisualExtractorVideoBackend(t *testing.T) {
	video := &fakeVideoText{segments: []cloud.TranscriptSegment{{Text: "고춧가루 1큰술", Start: 12, End: 15}}}
	runner := &fakeRunner{}
	extractor := NewVisualExtractor(NewFFmpeg("", runner), &echoDetector{}, video, cloud.Extraction{})

	asset := stagedAsset(t)
	asset.GCSURI = "gs://uploads/stew.mp4"
	out, err := extractor.Extract(context.Background(), asset)
	require.NoError(t, err)
	assert.Empty(t, runner.calls)
	assert.Equal(t, []model.Segment{{Text: "고춧가루 1큰술", Start: 12, End: 15}}, out.Segments)

	video.err = errors.New("permission denied")
	runner.frames = []string{"고춧가루"}
	out, err = extractor.Extract(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, "고춧가루", out.Text, "falls back to frame ocr")
}

func TestCaptionExtractor(t *testing.T) {
	asset := stagedAsset(t)
	out, err := NewCaptionExtractor().Extract(context.Background(), asset)
	require.NoError(t, err)
	assert.True(t, out.IsEmpty(), "no caption track is not an error")

	asset.CaptionPath = filepath.Join(filepath.Dir(asset.Path), "video.ko.vtt")
	require.NoError(t, os.WriteFile(asset.CaptionPath, []byte("WEBVTT\n\n00:00:00.000 --> 00:00:05.000\n재료를 준비합니다\n"), 0o600))
	out, err = NewCaptionExtractor().Extract(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, []model.Segment{{Text: "재료를 준비합니다", Start: 0, End: 5}}, out.Segments)
}

type fakeTranscriber struct {
	inline, uri int
	lastURI     string
}

func (f *fakeTranscriber) TranscribeContent(context.Context, []byte) ([]cloud.TranscriptSegment, error) {
	f.inline++
	return []cloud.TranscriptSegment{{Text: "물을 끓여 주세요", Start: 1, End: 3.5}}, nil
}

func (f *fakeTranscriber) TranscribeURI(_ context.Context, uri string) ([]cloud.TranscriptSegment, error) {
	f.uri++
	f.lastURI = uri
	return []cloud.TranscriptSegment{{Text: "불을 줄입니다", Start: 60, End: 62}}, nil
}

type fakeStager struct {
	cleaned bool
}

func (f *fakeStager) Stage(context.Context, string) (string, func(), error) {
	return "gs://staging/audio.wav", func() { f.cleaned = true }, nil
}

func TestSpeechExtractor(t *testing.T) {
	transcriber := &fakeTranscriber{}
	runner := &fakeRunner{audio: []byte("RIFF....WAVE")}
	extractor := NewSpeechExtractor(NewFFmpeg("", runner), transcriber, nil, cloud.Storage{})

	asset := stagedAsset(t)
	out, err := extractor.Extract(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, 1, transcriber.inline)
	assert.Equal(t, "물을 끓여 주세요", out.Text)

	entries, err := os.ReadDir(filepath.Dir(asset.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "extracted audio is removed")

	stager := &fakeStager{}
	extractor = NewSpeechExtractor(NewFFmpeg("", runner), transcriber, stager, cloud.Storage{})
	extractor.inlineMax = 4
	out, err = extractor.Extract(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, 1, transcriber.uri)
	assert.Equal(t, "gs://staging/audio.wav", transcriber.lastURI)
	assert.True(t, stager.cleaned)
	assert.Equal(t, []model.Segment{{Text: "불을 줄입니다", Start: 60, End: 62}}, out.Segments)
}

func TestSpeechExtractorFfmpegFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("no audio stream")}
	extractor := NewSpeechExtractor(NewFFmpeg("", runner), &fakeTranscriber{}, nil, cloud.Storage{})
	_, err := extractor.Extract(context.Background(), stagedAsset(t))
	assert.ErrorContains(t, err, "no audio stream")
}
