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

// Package api contains the gin route definitions of the recipe service.
//
// Functions:
//   - AnalysisRouter: POST /analyze and POST /analyze/upload.
//   - JobsRouter: GET /jobs/:id and GET /jobs/:id/archive.
//   - HealthRouter: GET /health.
//
// Every failure is answered with {"success": false, "error": "..."} where the
// message never carries internal error text. The status code follows the
// error kind: malformed input is a 4xx, failures of upstream services a 5xx.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/services"
)

// StatusFor maps an analysis error to its HTTP status.
func StatusFor(err error) int {
	var acqErr *model.AcquisitionError
	var extractionErr *model.ExtractionError
	var synthErr *model.SynthesisError
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr), errors.Is(err, model.ErrMediaTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, model.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &acqErr):
		if acqErr.Temporary {
			return http.StatusBadGateway
		}
		return http.StatusBadRequest
	case errors.As(err, &extractionErr):
		return http.StatusInternalServerError
	case errors.As(err, &synthErr):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrQueueFull), errors.Is(err, services.ErrServiceClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError logs err with its cause and answers with the sanitized
// message.
func abortWithError(c *gin.Context, stage string, err error) {
	status := StatusFor(err)
	message := services.PublicMessage(err)
	switch {
	case errors.Is(err, services.ErrJobNotFound):
		message = services.ErrJobNotFound.Error()
	case status == http.StatusRequestEntityTooLarge:
		message = "video exceeds the upload size limit"
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "stage", stage, "path", c.FullPath(), "status", status, "error", err)
	} else {
		slog.WarnContext(c.Request.Context(), "request rejected", "stage", stage, "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": message})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": message})
}
