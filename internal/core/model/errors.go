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
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidReference  = errors.New("invalid video reference")
	ErrUnsupportedHost   = errors.New("unsupported video host")
	ErrUnsupportedMedia  = errors.New("unsupported media type")
	ErrMediaTooLarge     = errors.New("media exceeds the size limit")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// AcquisitionError means the video could not be turned into a local asset.
// Temporary is set for transient fetch failures (worth retrying later) and
// clear for malformed input.
type AcquisitionError struct {
	Reason    string
	Temporary bool
	Err       error
}

func NewAcquisitionError(reason string, temporary bool, err error) *AcquisitionError {
	return &AcquisitionError{Reason: reason, Temporary: temporary, Err: err}
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return "acquisition failed: " + e.Reason
	}
	return fmt.Sprintf("acquisition failed: %s: %v", e.Reason, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// ExtractionError means no extractor produced any text. Failures holds the
// error of every extractor that failed; extractors that ran cleanly but found
// nothing map to nil.
type ExtractionError struct {
	Failures map[Source]error
}

func (e *ExtractionError) Error() string {
	if len(e.Failures) == 0 {
		return "extraction failed: no extractor produced text"
	}
	keys := make([]string, 0, len(e.Failures))
	for source := range e.Failures {
		keys = append(keys, string(source))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := e.Failures[Source(key)]; err != nil {
			parts = append(parts, fmt.Sprintf("%s: %v", key, err))
		} else {
			parts = append(parts, key+": no text")
		}
	}
	return "extraction failed: no extractor produced text (" + strings.Join(parts, "; ") + ")"
}

func (e *ExtractionError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// SynthesisError means the generative model call failed. Callers may retry.
type SynthesisError struct {
	Model string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("recipe synthesis with %s failed: %v", e.Model, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
