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

package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/h2non/filetype"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

// sniffLength covers the magic numbers filetype knows about.
const sniffLength = 262

// MediaValidator checks a staged reference and turns it into a MediaAsset.
// The size cap is re-checked on disk and the container is sniffed from its
// magic bytes; the declared MIME type is never trusted on its own.
type MediaValidator struct {
	cor.BaseCommand
	maxBytes int64
}

func NewMediaValidator(name string, maxBytes int64) *MediaValidator {
	out := &MediaValidator{BaseCommand: *cor.NewBaseCommand(name), maxBytes: maxBytes}
	out.OutputParamName = ParamAsset
	return out
}

func (v *MediaValidator) IsExecutable(context cor.Context) bool {
	ref, ok := context.Get(v.GetInputParam()).(*model.VideoReference)
	return v.BaseCommand.IsExecutable(context) && ok && ref.LocalPath != ""
}

func (v *MediaValidator) Execute(context cor.Context) {
	ref := context.Get(v.GetInputParam()).(*model.VideoReference)

	asset, err := ValidateMedia(ref, v.maxBytes)
	if err != nil {
		v.Fail(context, err)
		return
	}

	v.Succeed(context)
	context.Add(v.GetOutputParam(), asset)
	context.Add(cor.CtxOut, asset)
}

// ValidateMedia stats and sniffs ref.LocalPath.
func ValidateMedia(ref *model.VideoReference, maxBytes int64) (*model.MediaAsset, error) {
	info, err := os.Stat(ref.LocalPath)
	if err != nil {
		return nil, model.NewAcquisitionError("staged video is missing", true, err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, model.NewAcquisitionError(fmt.Sprintf("video is %d bytes, the limit is %d", info.Size(), maxBytes), false, model.ErrMediaTooLarge)
	}
	if info.Size() == 0 {
		return nil, model.NewAcquisitionError("video is empty", false, model.ErrUnsupportedMedia)
	}
	if ref.DeclaredMIME != "" && !strings.HasPrefix(strings.ToLower(ref.DeclaredMIME), "video/") {
		return nil, model.NewAcquisitionError(fmt.Sprintf("declared type %s is not a video", ref.DeclaredMIME), false, model.ErrUnsupportedMedia)
	}

	mimeType, err := SniffVideo(ref.LocalPath)
	if err != nil {
		return nil, err
	}

	asset := &model.MediaAsset{
		Path:        ref.LocalPath,
		MimeType:    mimeType,
		Size:        info.Size(),
		CaptionPath: ref.CaptionPath,
		Source:      ref.Describe(),
	}
	if ref.Kind == model.ReferenceGCS {
		asset.GCSURI = ref.URL
	}
	return asset, nil
}

// SniffVideo returns the video MIME type of the file at path.
func SniffVideo(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", model.NewAcquisitionError("staged video is missing", true, err)
	}
	defer f.Close()

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", model.NewAcquisitionError("failed to read staged video", true, err)
	}
	head = head[:n]

	if !filetype.IsVideo(head) {
		kind, _ := filetype.Match(head)
		detected := kind.MIME.Value
		if detected == "" {
			detected = "unknown"
		}
		return "", model.NewAcquisitionError(fmt.Sprintf("file is not a video (detected %s)", detected), false, model.ErrUnsupportedMedia)
	}
	kind, _ := filetype.Match(head)
	return kind.MIME.Value, nil
}
