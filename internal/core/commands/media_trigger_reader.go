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
// Responsibility (COR) pattern's Command interface. This file defines the
// entry command for workflows triggered by Cloud Storage notifications.
//
// Logic Flow:
//  1. The command receives the raw Pub/Sub message data as a JSON string.
//  2. It unmarshals it into a `cloud.GCSPubSubNotification`.
//  3. Objects that are not videos are skipped without an error so the message
//     is acknowledged and never redelivered.
//  4. Video objects become a gs:// `model.VideoReference`, placed in the output
//     parameter and under ParamReference.
package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

// MediaTriggerToReference parses a GCS Pub/Sub notification into a
// VideoReference.
type MediaTriggerToReference struct {
	cor.BaseCommand
}

func NewMediaTriggerToReference(name string) *MediaTriggerToReference {
	return &MediaTriggerToReference{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *MediaTriggerToReference) Execute(context cor.Context) {
	in, ok := context.Get(c.GetInputParam()).(string)
	if !ok {
		c.Fail(context, fmt.Errorf("expected notification payload, got %T", context.Get(c.GetInputParam())))
		return
	}

	var out cloud.GCSPubSubNotification
	if err := json.Unmarshal([]byte(in), &out); err != nil {
		c.Fail(context, fmt.Errorf("failed to unmarshal GCS notification: %w", err))
		return
	}

	if !strings.HasPrefix(strings.ToLower(out.ContentType), "video/") {
		slog.InfoContext(context.GetContext(), "ignoring non-video object", "bucket", out.Bucket, "object", out.Name, "content_type", out.ContentType)
		c.Succeed(context)
		return
	}

	obj := &cloud.GCSObject{Bucket: out.Bucket, Name: out.Name, MIMEType: out.ContentType}
	ref := &model.VideoReference{
		Kind:         model.ReferenceGCS,
		URL:          obj.URI(),
		Bucket:       obj.Bucket,
		Object:       obj.Name,
		FileName:     path.Base(obj.Name),
		DeclaredMIME: obj.MIMEType,
	}

	c.Succeed(context)
	context.Add(ParamReference, ref)
	context.Add(c.GetOutputParam(), ref)
}
