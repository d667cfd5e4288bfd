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

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

const defaultInlineAudioMiB = 10

// Transcriber converts 16kHz mono LINEAR16 audio to timed text.
type Transcriber interface {
	TranscribeContent(ctx context.Context, audio []byte) ([]cloud.TranscriptSegment, error)
	TranscribeURI(ctx context.Context, gcsURI string) ([]cloud.TranscriptSegment, error)
}

// AudioStager makes a local audio file reachable by URI. The returned
// cleanup removes the staged copy.
type AudioStager interface {
	Stage(ctx context.Context, localPath string) (uri string, cleanup func(), err error)
}

// SpeechExtractor transcribes the audio track. Audio up to the inline limit
// is sent with the request; longer audio goes through the stager.
type SpeechExtractor struct {
	ffmpeg      *FFmpeg
	transcriber Transcriber
	stager      AudioStager
	inlineMax   int64
}

func NewSpeechExtractor(ffmpeg *FFmpeg, transcriber Transcriber, stager AudioStager, config cloud.Storage) *SpeechExtractor {
	mib := config.InlineAudioMaxMiB
	if mib <= 0 {
		mib = defaultInlineAudioMiB
	}
	return &SpeechExtractor{
		ffmpeg:      ffmpeg,
		transcriber: transcriber,
		stager:      stager,
		inlineMax:   int64(mib) << 20,
	}
}

func (s *SpeechExtractor) Source() model.Source {
	return model.SourceSpeech
}

func (s *SpeechExtractor) Extract(ctx context.Context, asset *model.MediaAsset) (*model.ExtractedText, error) {
	audioPath := filepath.Join(filepath.Dir(asset.Path), "audio-"+uuid.NewString()+".wav")
	defer os.Remove(audioPath)

	if err := s.ffmpeg.ExtractAudio(ctx, asset.Path, audioPath); err != nil {
		return nil, err
	}
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, err
	}

	var results []cloud.TranscriptSegment
	if info.Size() <= s.inlineMax || s.stager == nil {
		if info.Size() > s.inlineMax {
			return nil, fmt.Errorf("audio is %d bytes, over the inline limit of %d, and no staging bucket is configured", info.Size(), s.inlineMax)
		}
		audio, err := os.ReadFile(audioPath)
		if err != nil {
			return nil, err
		}
		results, err = s.transcriber.TranscribeContent(ctx, audio)
		if err != nil {
			return nil, err
		}
	} else {
		uri, cleanup, err := s.stager.Stage(ctx, audioPath)
		if err != nil {
			return nil, fmt.Errorf("stage audio: %w", err)
		}
		defer cleanup()
		if results, err = s.transcriber.TranscribeURI(ctx, uri); err != nil {
			return nil, err
		}
	}

	segments := make([]model.Segment, 0, len(results))
	for _, r := range results {
		segments = append(segments, model.Segment{Text: r.Text, Start: r.Start, End: r.End})
	}
	return model.NewSegmentedText(model.SourceSpeech, segments), nil
}

// GCSAudioStager uploads audio to a staging bucket for long running
// recognition.
type GCSAudioStager struct {
	client *storage.Client
	bucket string
}

func NewGCSAudioStager(client *storage.Client, bucket string) *GCSAudioStager {
	return &GCSAudioStager{client: client, bucket: bucket}
}

func (g *GCSAudioStager) Stage(ctx context.Context, localPath string) (string, func(), error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	name := "speech-staging/" + uuid.NewString() + ".wav"
	obj, err := cloud.UploadObject(ctx, g.client, g.bucket, name, "audio/wav", f)
	if err != nil {
		return "", nil, err
	}
	cleanup := func() {
		// The request context may already be done; deletion must still run.
		if err := g.client.Bucket(obj.Bucket).Object(obj.Name).Delete(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to delete staged audio", "uri", obj.URI(), "error", err)
		}
	}
	return obj.URI(), cleanup, nil
}
