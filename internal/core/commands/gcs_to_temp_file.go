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

// Package commands provides the concrete implementations of the Chain of
// Responsibility (COR) pattern's Command interface. This file defines a
// command for downloading a Cloud Storage video into the request's staging
// directory.
//
// Logic Flow:
//  1. Receives a gs:// `model.VideoReference` from the context.
//  2. Streams the object into the staging directory, refusing to write more
//     than the configured size cap.
//  3. Looks for a sidecar caption object (`<object>.vtt`, then `<object>.srt`)
//     and stages it next to the video when present.
//  4. Tracks every staged file for cleanup and passes a copy of the reference,
//     now pointing at the local file, to the next command.
package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

var captionSidecarExtensions = []string{".vtt", ".srt"}

// GCSToTempFile downloads a gs:// reference to local disk.
type GCSToTempFile struct {
	cor.BaseCommand
	client   *storage.Client
	maxBytes int64
}

func NewGCSToTempFile(name string, client *storage.Client, maxBytes int64) *GCSToTempFile {
	return &GCSToTempFile{
		BaseCommand: *cor.NewBaseCommand(name),
		client:      client,
		maxBytes:    maxBytes,
	}
}

// IsExecutable only accepts Cloud Storage references.
func (c *GCSToTempFile) IsExecutable(context cor.Context) bool {
	ref, ok := context.Get(c.GetInputParam()).(*model.VideoReference)
	return c.BaseCommand.IsExecutable(context) && ok && ref.Kind == model.ReferenceGCS
}

func (c *GCSToTempFile) Execute(context cor.Context) {
	ref := context.Get(c.GetInputParam()).(*model.VideoReference)
	ctx := context.GetContext()

	if ref.StagingDir == "" {
		c.Fail(context, model.NewAcquisitionError("no staging directory", false, errors.New("reference has no staging directory")))
		return
	}

	localPath := filepath.Join(ref.StagingDir, uuid.NewString()+path.Ext(ref.Object))
	context.AddTempFile(localPath)
	written, err := c.download(context, ref.Bucket, ref.Object, localPath, c.maxBytes)
	if err != nil {
		c.Fail(context, err)
		return
	}
	slog.InfoContext(ctx, "downloaded object", "uri", ref.URL, "path", localPath, "bytes", written)

	out := *ref
	out.LocalPath = localPath
	out.Size = written

	for _, ext := range captionSidecarExtensions {
		captionPath := filepath.Join(ref.StagingDir, "captions"+ext)
		if _, err := c.download(context, ref.Bucket, ref.Object+ext, captionPath, 0); err != nil {
			if !errors.Is(err, storage.ErrObjectNotExist) {
				slog.WarnContext(ctx, "failed to fetch caption sidecar", "uri", ref.URL+ext, "error", err)
			}
			continue
		}
		context.AddTempFile(captionPath)
		out.CaptionPath = captionPath
		break
	}

	c.Succeed(context)
	context.Add(ParamReference, &out)
	context.Add(c.GetOutputParam(), &out)
}

// download copies bucket/object to dest. limit > 0 caps the object size.
func (c *GCSToTempFile) download(context cor.Context, bucket, object, dest string, limit int64) (int64, error) {
	reader, err := c.client.Bucket(bucket).Object(object).NewReader(context.GetContext())
	if errors.Is(err, storage.ErrObjectNotExist) {
		return 0, model.NewAcquisitionError(fmt.Sprintf("gs://%s/%s does not exist", bucket, object), false, err)
	}
	if err != nil {
		return 0, model.NewAcquisitionError("failed to open cloud storage object", true, err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			slog.WarnContext(context.GetContext(), "failed to close GCS reader", "error", err)
		}
	}()

	if limit > 0 && reader.Attrs.Size > limit {
		return 0, model.NewAcquisitionError("video exceeds the size limit", false, model.ErrMediaTooLarge)
	}

	file, err := os.Create(dest)
	if err != nil {
		return 0, model.NewAcquisitionError("failed to stage object", true, err)
	}
	var src io.Reader = reader
	if limit > 0 {
		src = io.LimitReader(reader, limit+1)
	}
	written, err := io.Copy(file, src)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		slog.WarnContext(context.GetContext(), "partial copy of cloud storage object", "bytes", written, "error", err)
		return written, model.NewAcquisitionError("failed to download cloud storage object", true, err)
	}
	if limit > 0 && written > limit {
		return written, model.NewAcquisitionError("video exceeds the size limit", false, model.ErrMediaTooLarge)
	}
	return written, nil
}
