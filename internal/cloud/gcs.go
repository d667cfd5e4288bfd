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

// Package cloud contains data structures and utilities for interacting with Google Cloud services.
// This file defines the Cloud Storage side: the JSON payload of a bucket
// notification, a lightweight object reference, and the upload helper shared
// by speech staging and the recipe archive.
package cloud

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSPubSubNotification is the JSON payload Cloud Storage publishes for an
// OBJECT_FINALIZE event. Only the fields the pipeline reads are mapped.
type GCSPubSubNotification struct {
	Kind        string            `json:"kind"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Bucket      string            `json:"bucket"`
	Generation  string            `json:"generation"`
	ContentType string            `json:"contentType"`
	TimeCreated string            `json:"timeCreated"`
	Size        string            `json:"size"`
	MetaData    map[string]string `json:"metadata"`
}

// GCSObject is a simplified, internal reference to a Cloud Storage object.
type GCSObject struct {
	Bucket   string // The name of the GCS bucket.
	Name     string // The name of the object.
	MIMEType string // The MIME type of the object (e.g., "video/mp4").
}

// URI returns the gs:// form of the object.
func (o *GCSObject) URI() string {
	return fmt.Sprintf("gs://%s/%s", o.Bucket, o.Name)
}

// ParseGCSURI splits gs://bucket/object.
func ParseGCSURI(uri string) (*GCSObject, error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return nil, fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, name, found := strings.Cut(rest, "/")
	if !found || bucket == "" || name == "" {
		return nil, fmt.Errorf("gs:// uri needs a bucket and an object: %q", uri)
	}
	return &GCSObject{Bucket: bucket, Name: name}, nil
}

// UploadObject streams r into bucket/name and returns the written object.
// The writer is closed on every path; a failed close is the upload error.
func UploadObject(ctx context.Context, client *storage.Client, bucket, name, contentType string, r io.Reader) (*GCSObject, error) {
	writer := client.Bucket(bucket).Object(name).NewWriter(ctx)
	writer.ContentType = contentType

	if written, err := io.Copy(writer, r); err != nil {
		slog.WarnContext(ctx, "partial write to cloud storage", "bucket", bucket, "object", name, "written", written, "error", err)
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write gs://%s/%s: %w", bucket, name, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize gs://%s/%s: %w", bucket, name, err)
	}
	return &GCSObject{Bucket: bucket, Name: name, MIMEType: contentType}, nil
}
