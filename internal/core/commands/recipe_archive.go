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
	"bytes"
	"encoding/json"
	"log/slog"
	"path"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

// ArchiveObjectName is where the recipe of jobID is archived.
func ArchiveObjectName(prefix, jobID string) string {
	return path.Join(prefix, jobID+".json")
}

// RecipeArchive uploads the recipe JSON to the archive bucket. Like the
// warehouse sink it is best effort.
type RecipeArchive struct {
	cor.BaseCommand
	client *storage.Client
	bucket string
	prefix string
}

func NewRecipeArchive(name string, client *storage.Client, bucket string, prefix string) *RecipeArchive {
	out := &RecipeArchive{BaseCommand: *cor.NewBaseCommand(name), client: client, bucket: bucket, prefix: prefix}
	out.InputParamName = ParamRecipe
	return out
}

func (c *RecipeArchive) Execute(context cor.Context) {
	recipe := context.Get(c.GetInputParam()).(*model.Recipe)
	ctx := context.GetContext()
	defer context.Add(cor.CtxOut, recipe)

	doc, err := json.MarshalIndent(recipe, "", "  ")
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		slog.ErrorContext(ctx, "failed to encode recipe for archive", "error", err)
		return
	}

	name := ArchiveObjectName(c.prefix, jobIDFrom(context))
	obj, err := cloud.UploadObject(ctx, c.client, c.bucket, name, "application/json", bytes.NewReader(doc))
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		slog.ErrorContext(ctx, "failed to archive recipe", "bucket", c.bucket, "object", name, "error", err)
		return
	}

	c.Succeed(context)
	context.Add(ParamArchiveURI, obj.URI())
	slog.InfoContext(ctx, "archived recipe", "uri", obj.URI())
}
