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

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
)

// VisionTextDetector runs DOCUMENT_TEXT_DETECTION on single images.
type VisionTextDetector struct {
	client        *vision.ImageAnnotatorClient
	languageHints []string
}

func NewVisionTextDetector(client *vision.ImageAnnotatorClient, languageHints []string) *VisionTextDetector {
	return &VisionTextDetector{client: client, languageHints: languageHints}
}

// DetectText returns the full text annotation of img, or "" when the image
// carries no text.
func (v *VisionTextDetector) DetectText(ctx context.Context, img []byte) (string, error) {
	if len(img) == 0 {
		return "", nil
	}
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image:        &visionpb.Image{Content: img},
				Features:     []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
				ImageContext: &visionpb.ImageContext{LanguageHints: v.languageHints},
			},
		},
	}
	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if len(resp.GetResponses()) == 0 || resp.Responses[0] == nil {
		return "", nil
	}
	first := resp.Responses[0]
	if first.GetError().GetMessage() != "" {
		return "", fmt.Errorf("vision annotate error: %s", first.Error.Message)
	}
	return strings.TrimSpace(first.GetFullTextAnnotation().GetText()), nil
}
