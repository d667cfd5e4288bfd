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

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/api"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/extractors"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/services"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/workflow"
	test "github.com/jaycherian/gcp-go-recipe-extractor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	config  *cloud.Config
	router  *gin.Engine
	service *services.AnalysisService
	store   *services.MemoryJobStore
	llm     *test.FakeModel
	caption *test.FakeExtractor
	visual  *test.FakeExtractor
	speech  *test.FakeExtractor
}

type fakeArchive struct {
	enabled bool
	url     string
	err     error
}

func (f *fakeArchive) Enabled() bool { return f.enabled }

func (f *fakeArchive) SignedURL(_ context.Context, jobID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url + jobID, nil
}

func newHarness(t *testing.T, maxUploadBytes int64, archive api.ArchiveLinker) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	config := *test.GetConfig()
	config.Acquisition.UploadDir = t.TempDir()
	config.Acquisition.MaxUploadBytes = maxUploadBytes

	h := &harness{config: &config, llm: &test.FakeModel{Responses: []string{test.TestRecipeJSON}}}
	h.caption, h.visual, h.speech = test.CaptionOnlyExtractors()

	acquisition := workflow.NewMediaAcquisitionWorkflow(h.config, nil, nil)
	analysis, err := workflow.NewRecipeAnalysisWorkflow(h.config, acquisition,
		[]extractors.Extractor{h.visual, h.caption, h.speech}, h.llm)
	require.NoError(t, err)

	h.store = services.NewMemoryJobStore(config.Jobs)
	h.service = services.NewAnalysisService(h.config, analysis, h.store)
	ctx, cancel := context.WithCancel(context.Background())
	h.service.Start(ctx)
	t.Cleanup(func() {
		h.service.Close()
		cancel()
	})

	health := &services.HealthService{
		Sources:     []model.Source{model.SourceCaption},
		Synthesizer: h.llm,
		Store:       h.store,
	}

	h.router = gin.New()
	v1 := h.router.Group("/api/v1")
	api.AnalysisRouter(v1, h.service, maxUploadBytes)
	api.JobsRouter(v1, h.store, archive)
	api.HealthRouter(v1, health)
	return h
}

func (h *harness) do(req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	body := map[string]interface{}{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func (h *harness) extractorCalls() int {
	return h.caption.Calls() + h.visual.Calls() + h.speech.Calls()
}

func (h *harness) stagingDirs(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.config.Acquisition.UploadDir, workflow.StagingDirPattern))
	require.NoError(t, err)
	return matches
}

type part struct {
	field, fileName, contentType string
	data                         []byte
}

func uploadRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.fileName == "" {
			require.NoError(t, mw.WriteField(p.field, string(p.data)))
			continue
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.fileName+`"`)
		header.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func videoPart() part {
	return part{field: "file", fileName: "kimchi-stew.mp4", contentType: "video/mp4", data: test.MP4Header()}
}

func jsonRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestUploadSync(t *testing.T) {
	h := newHarness(t, 1<<20, nil)

	w, body := h.do(uploadRequest(t, videoPart(),
		part{field: "captions", fileName: "kimchi-stew.vtt", contentType: "text/vtt", data: []byte("WEBVTT\n\n00:00.000 --> 00:05.000\n재료를 준비합니다\n")}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])
	recipe := body["recipe"].(map[string]interface{})
	assert.Equal(t, "테스트 요리", recipe["title"])
	assert.Equal(t, "upload:kimchi-stew.mp4", recipe["source"])
	assert.Equal(t, 1, h.caption.Calls())
	assert.Empty(t, h.stagingDirs(t))
}

func TestUploadTooLarge(t *testing.T) {
	t.Run("declared length", func(t *testing.T) {
		h := newHarness(t, 1024, nil)
		req := uploadRequest(t, videoPart())
		req.ContentLength = 1024 + 2<<20

		w, body := h.do(req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, 0, h.extractorCalls())
		assert.Equal(t, 0, h.llm.Calls())
		assert.Empty(t, h.stagingDirs(t))
	})

	t.Run("streamed body", func(t *testing.T) {
		h := newHarness(t, 1024, nil)
		big := append(test.MP4Header(), make([]byte, 4096)...)

		w, body := h.do(uploadRequest(t, part{field: "file", fileName: "big.mp4", contentType: "video/mp4", data: big}))

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "video exceeds the upload size limit", body["error"])
		assert.Equal(t, 0, h.extractorCalls())
		assert.Empty(t, h.stagingDirs(t))
	})
}

func TestUploadRejectsNonVideo(t *testing.T) {
	tests := []struct {
		name string
		part part
	}{
		{"sniffed", part{field: "file", fileName: "notes.mp4", contentType: "video/mp4", data: []byte("1. 김치를 썬다\n2. 끓인다\n")}},
		{"declared", part{field: "file", fileName: "photo.png", contentType: "image/png", data: test.MP4Header()}},
		{"undeclared", part{field: "file", fileName: "kimchi-stew.mp4", data: test.MP4Header()}},
		{"octet stream", part{field: "file", fileName: "kimchi-stew.mp4", contentType: "application/octet-stream", data: test.MP4Header()}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, 1<<20, nil)

			w, body := h.do(uploadRequest(t, tc.part))

			assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, 0, h.extractorCalls())
			assert.Empty(t, h.stagingDirs(t))
		})
	}
}

func TestUploadMissingFile(t *testing.T) {
	h := newHarness(t, 1<<20, nil)

	w, body := h.do(uploadRequest(t, part{field: "async", data: []byte("true")}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "video could not be acquired: missing file part", body["error"])
	assert.Empty(t, h.stagingDirs(t))
}

func TestAnalyzeURLRejected(t *testing.T) {
	h := newHarness(t, 1<<20, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", "url=https://youtube.com/watch", http.StatusBadRequest},
		{"bad scheme", `{"url":"ftp://example.com/video.mp4"}`, http.StatusBadRequest},
		{"host not allowed", `{"url":"https://example.com/video.mp4"}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, body := h.do(jsonRequest(tc.body))
			assert.Equal(t, tc.want, w.Code)
			assert.Equal(t, false, body["success"])
			assert.NotContains(t, body["error"], "yt-dlp")
		})
	}
	assert.Equal(t, 0, h.extractorCalls())
	assert.Empty(t, h.stagingDirs(t))
}

func TestUploadAsyncThenPoll(t *testing.T) {
	h := newHarness(t, 1<<20, &fakeArchive{enabled: true, url: "https://storage.example/"})

	w, body := h.do(uploadRequest(t, videoPart(), part{field: "async", data: []byte("true")}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id, _ := body["job_id"].(string)
	require.NotEmpty(t, id)

	var job map[string]interface{}
	require.Eventually(t, func() bool {
		w, body := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id, nil))
		if w.Code != http.StatusOK {
			return false
		}
		job = body
		return body["status"] == string(model.JobCompleted)
	}, 5*time.Second, 10*time.Millisecond)

	result := job["result"].(map[string]interface{})
	assert.Equal(t, "테스트 요리", result["title"])
	assert.Nil(t, job["error"])
	assert.Empty(t, h.stagingDirs(t))

	w, body = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id+"/archive", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://storage.example/"+id, body["url"])
}

func TestJobNotFound(t *testing.T) {
	h := newHarness(t, 1<<20, nil)

	w, body := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/unknown", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, services.ErrJobNotFound.Error(), body["error"])
}

func TestArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, 1<<20, &fakeArchive{})
		w, _ := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/any/archive", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("pending job", func(t *testing.T) {
		h := newHarness(t, 1<<20, &fakeArchive{enabled: true})
		job := model.NewAnalysisJob("upload:pending.mp4")
		require.NoError(t, h.store.Create(ctx, job))

		w, body := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/archive", nil))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "job is pending", body["error"])
	})

	t.Run("object missing", func(t *testing.T) {
		h := newHarness(t, 1<<20, &fakeArchive{enabled: true, err: services.ErrJobNotFound})
		job := model.NewAnalysisJob("upload:done.mp4")
		require.NoError(t, h.store.Create(ctx, job))
		_, err := h.store.Transition(ctx, job.ID, model.JobProcessing, nil, "")
		require.NoError(t, err)
		_, err = h.store.Transition(ctx, job.ID, model.JobCompleted, &model.Recipe{Title: "done"}, "")
		require.NoError(t, err)

		w, _ := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/archive", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHealth(t *testing.T) {
	h := newHarness(t, 1<<20, nil)

	w, body := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	capabilities := body["capabilities"].(map[string]interface{})
	for _, name := range []string{"visual", "caption", "speech", "synthesis", "job_store"} {
		assert.Contains(t, capabilities, name)
	}
	synthesis := capabilities["synthesis"].(map[string]interface{})
	assert.Equal(t, true, synthesis["reachable"])
	assert.Equal(t, "fake-model", synthesis["detail"])

	router := gin.New()
	api.HealthRouter(router.Group("/api/v1"), &services.HealthService{Sources: []model.Source{model.SourceCaption}})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"malformed", model.NewAcquisitionError("bad", false, model.ErrInvalidReference), http.StatusBadRequest},
		{"host", model.NewAcquisitionError("host", false, model.ErrUnsupportedHost), http.StatusBadRequest},
		{"too large", model.NewAcquisitionError("big", false, model.ErrMediaTooLarge), http.StatusRequestEntityTooLarge},
		{"not video", model.NewAcquisitionError("txt", false, model.ErrUnsupportedMedia), http.StatusUnsupportedMediaType},
		{"transient fetch", model.NewAcquisitionError("down", true, errors.New("502 from host")), http.StatusBadGateway},
		{"extraction", &model.ExtractionError{Failures: map[model.Source]error{model.SourceVisual: nil}}, http.StatusInternalServerError},
		{"synthesis", &model.SynthesisError{Model: "fake-model", Err: errors.New("unavailable")}, http.StatusBadGateway},
		{"queue full", services.ErrQueueFull, http.StatusServiceUnavailable},
		{"not found", services.ErrJobNotFound, http.StatusNotFound},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, api.StatusFor(tc.err))
		})
	}
}
