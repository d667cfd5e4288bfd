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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/services"
)

// HealthReporter produces the capability report.
type HealthReporter interface {
	Report(ctx context.Context) *services.HealthReport
}

// HealthRouter registers GET /health. It answers 503 when the service
// cannot produce recipes.
func HealthRouter(r *gin.RouterGroup, health HealthReporter) {
	r.GET("/health", func(c *gin.Context) {
		report := health.Report(c.Request.Context())
		status, code := "ok", http.StatusOK
		if !report.Healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"success":      report.Healthy,
			"status":       status,
			"capabilities": report.Capabilities,
		})
	})
}
