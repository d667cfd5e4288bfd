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
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultFfmpegPath    = "ffmpeg"
	framePattern         = "frame_%05d.jpg"
	frameGlob            = "frame_*.jpg"
	audioSampleRate      = "16000"
	defaultFrameWidth    = 960
	defaultFrameInterval = 2.0
)

// Frame is one sampled still and its approximate position in the video.
type Frame struct {
	Path      string
	Timestamp float64
}

// FFmpeg wraps the two ffmpeg invocations the extractors need.
type FFmpeg struct {
	path   string
	runner CommandRunner
}

func NewFFmpeg(path string, runner CommandRunner) *FFmpeg {
	if path == "" {
		path = DefaultFfmpegPath
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFmpeg{path: path, runner: runner}
}

// Probe checks that the binary can be started.
func (f *FFmpeg) Probe(ctx context.Context) error {
	return f.runner.Run(ctx, f.path, "-hide_banner", "-version")
}

// FrameArgs builds the arguments for sampling one frame every interval
// seconds, scaled to width, into outDir.
func FrameArgs(input, outDir string, interval float64, width, maxFrames int) []string {
	if interval <= 0 {
		interval = defaultFrameInterval
	}
	if width <= 0 {
		width = defaultFrameWidth
	}
	fps := strconv.FormatFloat(1/interval, 'f', 6, 64)
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-vf", fmt.Sprintf("fps=%s,scale=%d:-2", fps, width),
		"-q:v", "3",
	}
	if maxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(maxFrames))
	}
	return append(args, filepath.Join(outDir, framePattern))
}

// AudioArgs builds the arguments for extracting 16kHz mono PCM audio.
func AudioArgs(input, output string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-vn", "-ac", "1", "-ar", audioSampleRate,
		"-acodec", "pcm_s16le", "-f", "wav",
		output,
	}
}

// SampleFrames writes frames into outDir and returns them in playback order.
// Frame n (1-based) is stamped at (n-1)*interval.
func (f *FFmpeg) SampleFrames(ctx context.Context, input, outDir string, interval float64, width, maxFrames int) ([]Frame, error) {
	if interval <= 0 {
		interval = defaultFrameInterval
	}
	if err := f.runner.Run(ctx, f.path, FrameArgs(input, outDir, interval, width, maxFrames)...); err != nil {
		return nil, fmt.Errorf("sample frames: %w", err)
	}
	paths, err := filepath.Glob(filepath.Join(outDir, frameGlob))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	frames := make([]Frame, 0, len(paths))
	for _, p := range paths {
		n, err := frameNumber(p)
		if err != nil {
			continue
		}
		frames = append(frames, Frame{Path: p, Timestamp: float64(n-1) * interval})
	}
	if maxFrames > 0 && len(frames) > maxFrames {
		frames = frames[:maxFrames]
	}
	return frames, nil
}

// ExtractAudio writes the audio track of input to output as WAV.
func (f *FFmpeg) ExtractAudio(ctx context.Context, input, output string) error {
	if err := f.runner.Run(ctx, f.path, AudioArgs(input, output)...); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	info, err := os.Stat(output)
	if err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("extract audio: %s is empty", output)
	}
	return nil
}

func frameNumber(path string) (int, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strconv.Atoi(strings.TrimPrefix(base, "frame_"))
}
