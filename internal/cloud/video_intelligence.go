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
	"sort"
	"strings"
	"time"

	videointelligence "cloud.google.com/go/videointelligence/apiv1"
	"cloud.google.com/go/videointelligence/apiv1/videointelligencepb"
)

// VideoTextAnnotator detects timed on-screen text in a video stored in Cloud
// Storage. It is the alternate visual backend for gs:// sources.
type VideoTextAnnotator struct {
	client        *videointelligence.Client
	languageHints []string
	maxRetries    int
}

func NewVideoTextAnnotator(client *videointelligence.Client, languageHints []string) *VideoTextAnnotator {
	return &VideoTextAnnotator{client: client, languageHints: languageHints, maxRetries: 3}
}

// AnnotateText returns one segment per detected text occurrence, ordered by
// start time.
func (v *VideoTextAnnotator) AnnotateText(ctx context.Context, gcsURI string) ([]TranscriptSegment, error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return nil, fmt.Errorf("gcsURI must be gs://... got %q", gcsURI)
	}
	req := &videointelligencepb.AnnotateVideoRequest{
		InputUri: gcsURI,
		Features: []videointelligencepb.Feature{videointelligencepb.Feature_TEXT_DETECTION},
		VideoContext: &videointelligencepb.VideoContext{
			TextDetectionConfig: &videointelligencepb.TextDetectionConfig{LanguageHints: v.languageHints},
		},
	}
	resp, err := withTransientRetry(ctx, v.maxRetries, 750*time.Millisecond, func() (*videointelligencepb.AnnotateVideoResponse, error) {
		op, err := v.client.AnnotateVideo(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("videointelligence AnnotateVideo: %w", err)
	}
	if len(resp.GetAnnotationResults()) == 0 {
		return nil, nil
	}
	return parseTextAnnotations(resp.AnnotationResults[0].GetTextAnnotations()), nil
}

func parseTextAnnotations(annotations []*videointelligencepb.TextAnnotation) []TranscriptSegment {
	out := make([]TranscriptSegment, 0, len(annotations))
	for _, annotation := range annotations {
		text := strings.TrimSpace(annotation.GetText())
		if text == "" {
			continue
		}
		for _, seg := range annotation.GetSegments() {
			span := seg.GetSegment()
			if span == nil {
				continue
			}
			out = append(out, TranscriptSegment{
				Text:  text,
				Start: span.GetStartTimeOffset().AsDuration().Seconds(),
				End:   span.GetEndTimeOffset().AsDuration().Seconds(),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start == out[j].Start {
			return out[i].End < out[j].End
		}
		return out[i].Start < out[j].Start
	})
	return out
}
