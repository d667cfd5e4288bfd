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
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TranscriptSegment is one recognition result with its time range in seconds.
type TranscriptSegment struct {
	Text  string
	Start float64
	End   float64
}

// SpeechTranscriber runs Cloud Speech-to-Text long running recognition on
// 16kHz mono LINEAR16 audio.
type SpeechTranscriber struct {
	client         *speech.Client
	languageCode   string
	altLanguages   []string
	model          string
	maxRetries     int
	initialBackoff time.Duration
}

func NewSpeechTranscriber(client *speech.Client, config Extraction) *SpeechTranscriber {
	language := config.SpeechLanguage
	if language == "" {
		language = "ko-KR"
	}
	return &SpeechTranscriber{
		client:         client,
		languageCode:   language,
		altLanguages:   config.SpeechAltLanguages,
		model:          config.SpeechModel,
		maxRetries:     4,
		initialBackoff: 750 * time.Millisecond,
	}
}

// TranscribeContent recognizes inline audio bytes.
func (s *SpeechTranscriber) TranscribeContent(ctx context.Context, audio []byte) ([]TranscriptSegment, error) {
	if len(audio) == 0 {
		return nil, nil
	}
	return s.recognize(ctx, &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}})
}

// TranscribeURI recognizes audio already uploaded to gs://.
func (s *SpeechTranscriber) TranscribeURI(ctx context.Context, gcsURI string) ([]TranscriptSegment, error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return nil, fmt.Errorf("gcsURI must be gs://... got %q", gcsURI)
	}
	return s.recognize(ctx, &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: gcsURI}})
}

func (s *SpeechTranscriber) recognize(ctx context.Context, audio *speechpb.RecognitionAudio) ([]TranscriptSegment, error) {
	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            16000,
			AudioChannelCount:          1,
			LanguageCode:               s.languageCode,
			AlternativeLanguageCodes:   s.altLanguages,
			Model:                      s.model,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
		},
		Audio: audio,
	}

	resp, err := withTransientRetry(ctx, s.maxRetries, s.initialBackoff, func() (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := s.client.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("speech LongRunningRecognize: %w", err)
	}
	return parseRecognitionResults(resp.GetResults()), nil
}

// parseRecognitionResults keeps one segment per result. The range comes from
// the first and last word offsets; results without word offsets start where
// the previous one ended and end at their ResultEndTime.
func parseRecognitionResults(results []*speechpb.SpeechRecognitionResult) []TranscriptSegment {
	out := make([]TranscriptSegment, 0, len(results))
	var cursor float64
	for _, r := range results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}
		start, end := cursor, r.GetResultEndTime().AsDuration().Seconds()
		if words := alt.GetWords(); len(words) > 0 {
			start = words[0].GetStartTime().AsDuration().Seconds()
			end = words[len(words)-1].GetEndTime().AsDuration().Seconds()
		}
		if end < start {
			end = start
		}
		out = append(out, TranscriptSegment{Text: text, Start: start, End: end})
		cursor = end
	}
	return out
}

// withTransientRetry retries fn on Unavailable, ResourceExhausted and
// DeadlineExceeded with exponential backoff capped at ten seconds.
func withTransientRetry[T any](ctx context.Context, maxRetries int, backoff time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var last error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return zero, err
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return zero, last
}
