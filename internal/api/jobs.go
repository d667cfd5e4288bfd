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

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/services"
)

// JobReader looks up asynchronous jobs.
type JobReader interface {
	Get(ctx context.Context, id string) (*model.AnalysisJob, error)
}

// ArchiveLinker hands out download links for archived recipes.
type ArchiveLinker interface {
	Enabled() bool
	SignedURL(ctx context.Context, jobID string) (string, error)
}

// JobsRouter registers the polling endpoints. archive may be nil.
func JobsRouter(r *gin.RouterGroup, jobs JobReader, archive ArchiveLinker) {
	group := r.Group("/jobs")
	{
		// GET /jobs/:id
		group.GET("/:id", func(c *gin.Context) {
			job, err := jobs.Get(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, "poll", err)
				return
			}
			c.JSON(http.StatusOK, job)
		})

		// GET /jobs/:id/archive returns a short lived URL of the archived
		// recipe JSON.
		group.GET("/:id/archive", func(c *gin.Context) {
			if archive == nil || !archive.Enabled() {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": services.ErrArchiveDisabled.Error()})
				return
			}
			id := c.Param("id")
			job, err := jobs.Get(c.Request.Context(), id)
			if err != nil {
				abortWithError(c, "archive", err)
				return
			}
			if job.Status != model.JobCompleted {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{"success": false, "error": "job is " + string(job.Status)})
				return
			}
			url, err := archive.SignedURL(c.Request.Context(), id)
			if err != nil {
				if errors.Is(err, services.ErrJobNotFound) {
					c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "recipe archive not found"})
					return
				}
				abortWithError(c, "archive", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
		})
	}
}
