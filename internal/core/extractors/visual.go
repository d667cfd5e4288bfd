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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

// TextDetector reads the text in a single image.
type TextDetector interface {
	DetectText(ctx context.Context, img []byte) (string, error)
}

// VideoTextDetector reads timed on-screen text from a video in Cloud Storage.
type VideoTextDetector interface {
	AnnotateText(ctx context.Context, gcsURI string) ([]cloud.TranscriptSegment, error)
}

// VisualExtractor reads on-screen text (recipe cards, subtitles burned into
// the picture, ingredient labels). Frames are sampled with ffmpeg and sent to
// OCR on a bounded worker pool. When a VideoTextDetector is configured and the
// asset lives in Cloud Storage, the whole video is annotated server side
// instead.
type VisualExtractor struct {
	ffmpeg    *FFmpeg
	detector  TextDetector
	video     VideoTextDetector
	config    cloud.Extraction
	workers   int
	frameStep float64
}

func NewVisualExtractor(ffmpeg *FFmpeg, detector TextDetector, video VideoTextDetector, config cloud.Extraction) *VisualExtractor {
	workers := config.OCRWorkers
	if workers <= 0 {
		workers = 4
	}
	step := config.FrameIntervalSeconds
	if step <= 0 {
		step = defaultFrameInterval
	}
	return &VisualExtractor{
		ffmpeg:    ffmpeg,
		detector:  detector,
		video:     video,
		config:    config,
		workers:   workers,
		frameStep: step,
	}
}

func (v *VisualExtractor) Source() model.Source {
	return model.SourceVisual
}

func (v *VisualExtractor) Extract(ctx context.Context, asset *model.MediaAsset) (*model.ExtractedText, error) {
	if v.video != nil && asset.GCSURI != "" {
		out, err := v.extractFromVideo(ctx, asset.GCSURI)
		if err == nil {
			return out, nil
		}
		if v.detector == nil {
			return nil, err
		}
		slog.WarnContext(ctx, "video text detection failed, falling back to frame ocr", "uri", asset.GCSURI, "error", err)
	}
	if v.detector == nil {
		return nil, fmt.Errorf("no text detector configured")
	}
	return v.extractFromFrames(ctx, asset.Path)
}

func (v *VisualExtractor) extractFromVideo(ctx context.Context, uri string) (*model.ExtractedText, error) {
	annotations, err := v.video.AnnotateText(ctx, uri)
	if err != nil {
		return nil, err
	}
	segments := make([]model.Segment, 0, len(annotations))
	for _, a := range annotations {
		segments = append(segments, model.Segment{Text: a.Text, Start: a.Start, End: a.End})
	}
	return model.NewSegmentedText(model.SourceVisual, collapseSegments(segments)), nil
}

type frameResult struct {
	index int
	text  string
	err   error
}

func (v *VisualExtractor) extractFromFrames(ctx context.Context, input string) (*model.ExtractedText, error) {
	frameDir, err := os.MkdirTemp(filepath.Dir(input), "frames-")
	if err != nil {
		return nil, fmt.Errorf("create frame directory: %w", err)
	}
	defer os.RemoveAll(frameDir)

	frames, err := v.ffmpeg.SampleFrames(ctx, input, frameDir, v.frameStep, v.config.FrameWidth, v.config.MaxFrames)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return model.NewEmptyExtractedText(model.SourceVisual), nil
	}

	var wg sync.WaitGroup
	jobs := make(chan int, len(frames))
	results := make(chan frameResult, len(frames))

	for w := 0; w < v.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					results <- frameResult{index: i, err: ctx.Err()}
					continue
				}
				img, err := os.ReadFile(frames[i].Path)
				if err != nil {
					results <- frameResult{index: i, err: err}
					continue
				}
				text, err := v.detector.DetectText(ctx, img)
				results <- frameResult{index: i, text: text, err: err}
			}
		}()
	}
	for i := range frames {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(results)

	texts := make([]string, len(frames))
	var failures int
	var lastErr error
	for r := range results {
		if r.err != nil {
			failures++
			lastErr = r.err
			continue
		}
		texts[r.index] = r.text
	}
	if failures == len(frames) {
		return nil, fmt.Errorf("ocr failed for all %d frames: %w", len(frames), lastErr)
	}
	if failures > 0 {
		slog.WarnContext(ctx, "ocr failed for some frames", "failed", failures, "frames", len(frames), "error", lastErr)
	}

	segments := make([]model.Segment, 0, len(frames))
	for i, f := range frames {
		segments = append(segments, model.Segment{Text: texts[i], Start: f.Timestamp, End: f.Timestamp + v.frameStep})
	}
	segments = collapseSegments(segments)

	if v.config.RetainFrameTimestamps {
		return model.NewSegmentedText(model.SourceVisual, segments), nil
	}
	out := model.NewSegmentedText(model.SourceVisual, segments)
	out.Segments = make([]model.Segment, 0)
	return out, nil
}

// collapseSegments drops empty segments and merges runs of segments whose
// normalized text is identical, extending the first one to cover the run.
func collapseSegments(segments []model.Segment) []model.Segment {
	out := make([]model.Segment, 0, len(segments))
	last := ""
	for _, seg := range segments {
		key := normalizeText(seg.Text)
		if key == "" {
			last = ""
			continue
		}
		if key == last && len(out) > 0 {
			if seg.End > out[len(out)-1].End {
				out[len(out)-1].End = seg.End
			}
			continue
		}
		seg.Text = strings.TrimSpace(seg.Text)
		out = append(out, seg)
		last = key
	}
	return out
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
