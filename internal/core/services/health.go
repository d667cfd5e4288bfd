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

package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

const healthProbeTimeout = 5 * time.Second

const storeUnreachable = "unreachable"

var errNoFFmpeg = errors.New("not configured")

// Capability is the health of one part of the pipeline.
type Capability struct {
	Configured bool   `json:"configured"`
	Reachable  bool   `json:"reachable"`
	Detail     string `json:"detail,omitempty"`
}

// HealthReport is what /health returns.
type HealthReport struct {
	Healthy      bool                  `json:"-"`
	Capabilities map[string]Capability `json:"capabilities"`
}

// Prober checks a local dependency, such as the ffmpeg binary.
type Prober interface {
	Probe(ctx context.Context) error
}

// HealthService reports which extractors, which model and which job store
// the running service can use. It makes no billable calls.
type HealthService struct {
	Sources     []model.Source        // Sources of the extractors in the workflow.
	FFmpeg      Prober                // Needed by the visual and speech extractors.
	Synthesizer cloud.GenerativeModel // nil when no model is configured.
	Store       JobStore
}

// Report probes the dependencies. The service is healthy when synthesis and
// at least one extractor are usable.
func (h *HealthService) Report(ctx context.Context) *HealthReport {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	configured := make(map[model.Source]bool, len(h.Sources))
	for _, source := range h.Sources {
		configured[source] = true
	}

	var ffmpegErr error
	if configured[model.SourceVisual] || configured[model.SourceSpeech] {
		if h.FFmpeg == nil {
			ffmpegErr = errNoFFmpeg
		} else {
			ffmpegErr = h.FFmpeg.Probe(ctx)
		}
	}

	out := &HealthReport{Capabilities: make(map[string]Capability)}
	extractorUp := false
	for _, source := range model.SourcePriority {
		c := Capability{Configured: configured[source]}
		if c.Configured {
			c.Reachable = true
			if source != model.SourceCaption && ffmpegErr != nil {
				c.Reachable = false
				c.Detail = "ffmpeg: " + ffmpegErr.Error()
			}
		}
		extractorUp = extractorUp || c.Reachable
		out.Capabilities[string(source)] = c
	}

	synthesis := Capability{Configured: h.Synthesizer != nil}
	if synthesis.Configured {
		synthesis.Reachable = true
		synthesis.Detail = h.Synthesizer.Name()
	}
	out.Capabilities["synthesis"] = synthesis

	store := Capability{Configured: h.Store != nil}
	if store.Configured {
		if err := h.Store.Ping(ctx); err != nil {
			// the cause names internal addresses; it goes to the log only
			slog.WarnContext(ctx, "job store ping failed", "error", err)
			store.Detail = storeUnreachable
		} else {
			store.Reachable = true
		}
	}
	out.Capabilities["job_store"] = store

	out.Healthy = synthesis.Reachable && extractorUp
	return out
}
