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

// Package workflow assembles commands into the pipelines the service runs.
// This file implements acquisition: turning any VideoReference into a
// validated MediaAsset on local disk.
package workflow

import (
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/commands"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/extractors"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

// MediaAcquisitionWorkflow fetches the video of a reference into its staging
// directory and validates it. Each step only runs for the reference kinds it
// understands, so one chain serves remote URLs, gs:// objects and uploads.
type MediaAcquisitionWorkflow struct {
	cor.BaseCommand
	config        *cloud.Config
	storageClient *storage.Client
	runner        extractors.CommandRunner
	chain         cor.Chain
}

// Execute runs the acquisition chain. The input is a *model.VideoReference;
// the output is a *model.MediaAsset.
func (m *MediaAcquisitionWorkflow) Execute(context cor.Context) {
	ref := context.Get(m.GetInputParam()).(*model.VideoReference)
	m.chain.Execute(context)
	if context.HasErrors() {
		return
	}
	if _, ok := context.Get(commands.ParamAsset).(*model.MediaAsset); !ok {
		m.Fail(context, model.NewAcquisitionError(
			fmt.Sprintf("%s references cannot be acquired by this deployment", ref.Kind), false, model.ErrInvalidReference))
	}
}

func (m *MediaAcquisitionWorkflow) IsExecutable(context cor.Context) bool {
	_, ok := context.Get(m.GetInputParam()).(*model.VideoReference)
	return m.BaseCommand.IsExecutable(context) && ok
}

func (m *MediaAcquisitionWorkflow) initializeChain() {
	maxBytes := m.config.Acquisition.MaxUploadBytes
	out := cor.NewBaseChain(m.GetName())

	// http(s) references: yt-dlp into the staging directory, with captions.
	out.AddCommand(commands.NewRemoteMediaDownloader("remote-media-downloader", m.runner, m.config.Acquisition))

	// gs:// references: stream the object and its caption sidecar.
	if m.storageClient != nil {
		out.AddCommand(commands.NewGCSToTempFile("gcs-to-temp-file", m.storageClient, maxBytes))
	}

	// Every kind: size cap, magic bytes, MIME type.
	out.AddCommand(commands.NewMediaValidator("media-validator", maxBytes))

	m.chain = out
}

// NewMediaAcquisitionWorkflow builds the acquisition chain. A nil
// storageClient leaves gs:// references unsupported; a nil runner runs
// yt-dlp with os/exec.
func NewMediaAcquisitionWorkflow(
	config *cloud.Config,
	storageClient *storage.Client,
	runner extractors.CommandRunner) *MediaAcquisitionWorkflow {

	out := &MediaAcquisitionWorkflow{
		BaseCommand:   *cor.NewBaseCommand("media-acquisition-workflow"),
		config:        config,
		storageClient: storageClient,
		runner:        runner,
	}
	out.initializeChain()
	return out
}
