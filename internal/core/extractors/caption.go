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

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

// CaptionExtractor reads the caption track acquired next to the video.
type CaptionExtractor struct{}

func NewCaptionExtractor() *CaptionExtractor {
	return &CaptionExtractor{}
}

func (c *CaptionExtractor) Source() model.Source {
	return model.SourceCaption
}

// Extract returns an empty result when the asset has no caption track.
func (c *CaptionExtractor) Extract(ctx context.Context, asset *model.MediaAsset) (*model.ExtractedText, error) {
	if asset.CaptionPath == "" {
		return model.NewEmptyExtractedText(model.SourceCaption), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(asset.CaptionPath)
	if errors.Is(err, os.ErrNotExist) {
		return model.NewEmptyExtractedText(model.SourceCaption), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read caption track: %w", err)
	}
	segments, err := ParseSubtitles(data)
	if err != nil {
		return nil, err
	}
	return model.NewSegmentedText(model.SourceCaption, segments), nil
}
