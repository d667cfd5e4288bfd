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

// Package extractors turns a validated media asset into text. Each extractor
// covers one modality (on-screen text, captions, speech) and is independent
// of the others so the extraction stage can run them concurrently.
//
// Extractors return an empty ExtractedText, not an error, when the asset
// simply has nothing for them (no caption track, a silent video). An error
// means the extractor itself could not run; the extraction stage logs it and
// carries on with the other sources.
package extractors

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

// Extractor produces text of one source from a media asset.
type Extractor interface {
	Source() model.Source
	Extract(ctx context.Context, asset *model.MediaAsset) (*model.ExtractedText, error)
}

// CommandRunner runs an external program. It is the seam tests use in place
// of ffmpeg and yt-dlp.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec. Stderr is captured and attached to
// the returned error.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return fmt.Errorf("%s failed: %w: %s", name, err, msg)
	}
	return nil
}
