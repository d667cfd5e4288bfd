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

package model

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ReferenceKind says how a VideoReference locates its video.
type ReferenceKind string

const (
	ReferenceRemote ReferenceKind = "remote"
	ReferenceGCS    ReferenceKind = "gcs"
	ReferenceUpload ReferenceKind = "upload"
)

// VideoReference is the request scoped input of one analysis. It is owned by
// the request that created it; StagingDir and everything inside it are
// removed once the pipeline is done with the reference.
type VideoReference struct {
	Kind         ReferenceKind `json:"kind"`
	URL          string        `json:"url,omitempty"`
	Bucket       string        `json:"bucket,omitempty"`
	Object       string        `json:"object,omitempty"`
	LocalPath    string        `json:"local_path,omitempty"`
	CaptionPath  string        `json:"caption_path,omitempty"`
	FileName     string        `json:"file_name,omitempty"`
	DeclaredMIME string        `json:"declared_mime,omitempty"`
	Size         int64         `json:"size,omitempty"`
	StagingDir   string        `json:"-"`
}

// NewRemoteReference validates a submitted locator. http(s) URLs become
// remote references and gs://bucket/object becomes a Cloud Storage reference.
// Anything else is malformed input.
func NewRemoteReference(locator string) (*VideoReference, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, NewAcquisitionError("missing video url", false, ErrInvalidReference)
	}
	u, err := url.Parse(locator)
	if err != nil {
		return nil, NewAcquisitionError("malformed video url", false, fmt.Errorf("%w: %v", ErrInvalidReference, err))
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return nil, NewAcquisitionError("video url has no host", false, ErrInvalidReference)
		}
		return &VideoReference{Kind: ReferenceRemote, URL: locator}, nil
	case "gs":
		object := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || object == "" {
			return nil, NewAcquisitionError("gs:// reference needs a bucket and an object", false, ErrInvalidReference)
		}
		return &VideoReference{
			Kind:     ReferenceGCS,
			URL:      locator,
			Bucket:   u.Host,
			Object:   object,
			FileName: path.Base(object),
		}, nil
	default:
		return nil, NewAcquisitionError(fmt.Sprintf("unsupported url scheme %q", u.Scheme), false, ErrInvalidReference)
	}
}

// NewUploadReference describes a file already staged on local disk.
func NewUploadReference(localPath, fileName, declaredMIME string, size int64) *VideoReference {
	return &VideoReference{
		Kind:         ReferenceUpload,
		LocalPath:    localPath,
		FileName:     fileName,
		DeclaredMIME: declaredMIME,
		Size:         size,
	}
}

// Describe is the human readable source of the reference, used in logs, in
// the prompt and as Recipe.Source.
func (v *VideoReference) Describe() string {
	if v == nil {
		return ""
	}
	switch v.Kind {
	case ReferenceRemote, ReferenceGCS:
		return v.URL
	default:
		if v.FileName != "" {
			return "upload:" + v.FileName
		}
		return "upload:" + path.Base(v.LocalPath)
	}
}

// MediaAsset is the validated, locally decodable video produced by
// acquisition.
type MediaAsset struct {
	Path        string `json:"path"`
	MimeType    string `json:"mime_type"`
	Size        int64  `json:"size"`
	CaptionPath string `json:"caption_path,omitempty"`
	GCSURI      string `json:"gcs_uri,omitempty"`
	Source      string `json:"source"`
}
