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

// Package main contains the logic for setting up and starting the Pub/Sub message listeners.
// Every configured subscription receives Cloud Storage finalize notifications
// and turns each uploaded video into an asynchronous analysis job.
package main

import (
	"context"
	"log/slog"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/commands"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/workflow"
)

// SetupListeners attaches the upload notification workflow to every
// listener and starts them. Listeners stop when ctx is cancelled.
func SetupListeners(ctx context.Context, cloudClients *cloud.ServiceClients, submitter commands.JobSubmitter) {
	if len(cloudClients.PubSubListeners) == 0 {
		slog.InfoContext(ctx, "no pub/sub subscriptions configured")
		return
	}
	uploads := workflow.NewUploadNotificationWorkflow(submitter)
	for name, listener := range cloudClients.PubSubListeners {
		listener.SetCommand(uploads)
		listener.Listen(ctx)
		slog.InfoContext(ctx, "started listener", "name", name)
	}
}
