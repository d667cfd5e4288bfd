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
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/commands"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

const (
	// multipartOverhead is the allowance for boundaries, headers and the
	// small form fields around the video part.
	multipartOverhead = 1 << 20
	maxCaptionBytes   = 8 << 20
)

// Analyzer is the part of services.AnalysisService the handlers use.
type Analyzer interface {
	Analyze(ctx context.Context, ref *model.VideoReference) (*model.Recipe, error)
	Submit(ctx context.Context, ref *model.VideoReference) (*model.AnalysisJob, error)
	NewStagingDir() (string, error)
}

type analyzeRequest struct {
	URL   string `json:"url"`
	Async bool   `json:"async"`
}

// AnalysisRouter registers the two submission endpoints. maxUploadBytes caps
// the size of an uploaded video.
func AnalysisRouter(r *gin.RouterGroup, analyzer Analyzer, maxUploadBytes int64) {
	analyze := r.Group("/analyze")
	{
		// POST /analyze {"url": "...", "async": false}
		analyze.POST("", func(c *gin.Context) {
			var req analyzeRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "request body must be JSON with a url field")
				return
			}
			ref, err := model.NewRemoteReference(req.URL)
			if err != nil {
				abortWithError(c, "reference", err)
				return
			}
			respond(c, analyzer, ref, req.Async)
		})

		// POST /analyze/upload, multipart with "file", optional "captions"
		// and "async".
		analyze.POST("/upload", func(c *gin.Context) {
			limit := maxUploadBytes + multipartOverhead
			if c.Request.ContentLength > limit {
				abortWithError(c, "upload", model.NewAcquisitionError("upload exceeds the size limit", false, model.ErrMediaTooLarge))
				return
			}
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

			dir, err := analyzer.NewStagingDir()
			if err != nil {
				abortWithError(c, "staging", err)
				return
			}
			upload, err := stageUpload(c.Request, dir, maxUploadBytes)
			if err != nil {
				_ = os.RemoveAll(dir)
				abortWithError(c, "upload", err)
				return
			}
			if _, err := commands.SniffVideo(upload.ref.LocalPath); err != nil {
				_ = os.RemoveAll(dir)
				abortWithError(c, "upload", err)
				return
			}
			upload.ref.StagingDir = dir
			respond(c, analyzer, upload.ref, upload.async)
		})
	}
}

// respond runs ref synchronously or queues it, and writes the result.
func respond(c *gin.Context, analyzer Analyzer, ref *model.VideoReference, async bool) {
	if async {
		job, err := analyzer.Submit(c.Request.Context(), ref)
		if err != nil {
			abortWithError(c, "submit", err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"success": true, "job_id": job.ID, "status": job.Status})
		return
	}
	recipe, err := analyzer.Analyze(c.Request.Context(), ref)
	if err != nil {
		abortWithError(c, "analyze", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "recipe": recipe})
}

type stagedUpload struct {
	ref   *model.VideoReference
	async bool
}

// stageUpload streams the multipart body into dir. The video is written
// part by part so an oversize file never sits in memory.
func stageUpload(req *http.Request, dir string, maxBytes int64) (*stagedUpload, error) {
	reader, err := req.MultipartReader()
	if err != nil {
		return nil, model.NewAcquisitionError("request must be multipart/form-data", false, fmt.Errorf("%w: %v", model.ErrInvalidReference, err))
	}

	out := &stagedUpload{}
	var captionPath string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, uploadReadError(err)
		}

		switch part.FormName() {
		case "file":
			if out.ref != nil {
				part.Close()
				return nil, model.NewAcquisitionError("only one file may be uploaded", false, model.ErrInvalidReference)
			}
			out.ref, err = stageVideoPart(part, dir, maxBytes)
		case "captions":
			captionPath, err = stageCaptionPart(part, dir)
		case "async":
			out.async, err = readBoolPart(part)
		}
		part.Close()
		if err != nil {
			return nil, err
		}
	}

	if out.ref == nil {
		return nil, model.NewAcquisitionError("missing file part", false, model.ErrInvalidReference)
	}
	out.ref.CaptionPath = captionPath
	return out, nil
}

func stageVideoPart(part *multipart.Part, dir string, maxBytes int64) (*model.VideoReference, error) {
	declared := strings.TrimSpace(part.Header.Get("Content-Type"))
	if declared == "" {
		return nil, model.NewAcquisitionError("file part declares no content type", false, model.ErrUnsupportedMedia)
	}
	if !strings.HasPrefix(strings.ToLower(declared), "video/") {
		return nil, model.NewAcquisitionError(fmt.Sprintf("declared type %s is not a video", declared), false, model.ErrUnsupportedMedia)
	}
	name := sanitizeFileName(part.FileName(), "upload.mp4")
	path := filepath.Join(dir, name)
	size, err := writeLimited(path, part, maxBytes)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, model.NewAcquisitionError("video is empty", false, model.ErrUnsupportedMedia)
	}
	return model.NewUploadReference(path, name, declared, size), nil
}

func stageCaptionPart(part *multipart.Part, dir string) (string, error) {
	ext := strings.ToLower(filepath.Ext(part.FileName()))
	if ext != ".srt" {
		ext = ".vtt"
	}
	path := filepath.Join(dir, "captions"+ext)
	if _, err := writeLimited(path, part, maxCaptionBytes); err != nil {
		return "", err
	}
	return path, nil
}

func readBoolPart(part *multipart.Part) (bool, error) {
	raw, err := io.ReadAll(io.LimitReader(part, 16))
	if err != nil {
		return false, uploadReadError(err)
	}
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, model.NewAcquisitionError("async must be true or false", false, model.ErrInvalidReference)
	}
	return b, nil
}

// writeLimited copies r to path and fails with ErrMediaTooLarge once more
// than limit bytes arrive. The partial file is left for the caller's
// directory cleanup.
func writeLimited(path string, r io.Reader, limit int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if err != nil {
		return n, uploadReadError(err)
	}
	if n > limit {
		return n, model.NewAcquisitionError(fmt.Sprintf("%s is larger than %d bytes", filepath.Base(path), limit), false, model.ErrMediaTooLarge)
	}
	return n, nil
}

func uploadReadError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return model.NewAcquisitionError("upload exceeds the size limit", false, model.ErrMediaTooLarge)
	}
	return model.NewAcquisitionError("failed to read upload", false, fmt.Errorf("%w: %v", model.ErrInvalidReference, err))
}

// sanitizeFileName keeps the base name of a client supplied file name.
func sanitizeFileName(name, fallback string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" || strings.HasPrefix(name, "..") {
		return fallback
	}
	if strings.HasPrefix(name, "captions.") {
		return "video-" + name
	}
	return name
}
