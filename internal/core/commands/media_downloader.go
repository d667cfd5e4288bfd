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
	goctx "context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/cor"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/extractors"
	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

const (
	DefaultYtDlpPath       = "yt-dlp"
	downloadBaseName       = "video"
	defaultDownloadTimeout = 10 * time.Minute
)

// Messages yt-dlp prints for inputs that will never download.
var permanentDownloadFailures = []string{
	"Unsupported URL",
	"Video unavailable",
	"Private video",
	"This video is not available",
	"HTTP Error 404",
	"HTTP Error 403",
}

// RemoteMediaDownloader fetches an http(s) reference with yt-dlp into the
// request's staging directory, together with any publisher or automatic
// captions the host offers.
type RemoteMediaDownloader struct {
	cor.BaseCommand
	runner extractors.CommandRunner
	config cloud.Acquisition
}

func NewRemoteMediaDownloader(name string, runner extractors.CommandRunner, config cloud.Acquisition) *RemoteMediaDownloader {
	if runner == nil {
		runner = extractors.ExecRunner{}
	}
	return &RemoteMediaDownloader{
		BaseCommand: *cor.NewBaseCommand(name),
		runner:      runner,
		config:      config,
	}
}

// IsExecutable only accepts remote references.
func (d *RemoteMediaDownloader) IsExecutable(context cor.Context) bool {
	ref, ok := context.Get(d.GetInputParam()).(*model.VideoReference)
	return d.BaseCommand.IsExecutable(context) && ok && ref.Kind == model.ReferenceRemote
}

func (d *RemoteMediaDownloader) Execute(context cor.Context) {
	ref := context.Get(d.GetInputParam()).(*model.VideoReference)

	if err := d.checkHost(ref.URL); err != nil {
		d.Fail(context, err)
		return
	}
	if ref.StagingDir == "" {
		d.Fail(context, model.NewAcquisitionError("no staging directory", false, errors.New("reference has no staging directory")))
		return
	}

	timeout := defaultDownloadTimeout
	if d.config.DownloadTimeoutSeconds > 0 {
		timeout = time.Duration(d.config.DownloadTimeoutSeconds) * time.Second
	}
	ctx, cancel := goctx.WithTimeout(context.GetContext(), timeout)
	defer cancel()

	// Partial downloads land in the staging directory, which the context
	// removes on close.
	context.AddTempFile(ref.StagingDir)

	path := d.config.YtDlpPath
	if path == "" {
		path = DefaultYtDlpPath
	}
	err := d.runner.Run(ctx, path, d.args(ref)...)
	if err != nil {
		d.Fail(context, classifyDownloadError(ctx, err))
		return
	}

	videoPath, captionPath, err := d.locateOutputs(ref.StagingDir)
	if err != nil {
		d.Fail(context, err)
		return
	}
	slog.InfoContext(ctx, "downloaded remote video", "url", ref.URL, "path", videoPath, "captions", captionPath)

	out := *ref
	out.LocalPath = videoPath
	out.CaptionPath = captionPath

	d.Succeed(context)
	context.Add(ParamReference, &out)
	context.Add(d.GetOutputParam(), &out)
}

// checkHost matches the host against the allow list by domain suffix, so
// "youtube.com" admits "www.youtube.com" and "m.youtube.com".
func (d *RemoteMediaDownloader) checkHost(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return model.NewAcquisitionError("malformed video url", false, model.ErrInvalidReference)
	}
	if len(d.config.AllowedHosts) == 0 {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range d.config.AllowedHosts {
		allowed = strings.ToLower(strings.TrimPrefix(allowed, "."))
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return model.NewAcquisitionError(fmt.Sprintf("host %s is not supported", host), false, model.ErrUnsupportedHost)
}

func (d *RemoteMediaDownloader) args(ref *model.VideoReference) []string {
	args := []string{
		"--no-playlist", "--no-progress", "--quiet", "--no-warnings",
		"-f", "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/bv*+ba/b",
		"--merge-output-format", "mp4",
		"-o", filepath.Join(ref.StagingDir, downloadBaseName+".%(ext)s"),
	}
	if d.config.MaxUploadBytes > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(d.config.MaxUploadBytes, 10))
	}
	if len(d.config.CaptionLanguages) > 0 {
		args = append(args,
			"--write-subs", "--write-auto-subs",
			"--sub-langs", strings.Join(d.config.CaptionLanguages, ","),
			"--convert-subs", "vtt",
		)
	}
	return append(args, ref.URL)
}

// locateOutputs finds the merged video and the preferred caption track.
func (d *RemoteMediaDownloader) locateOutputs(dir string) (video, caption string, err error) {
	matches, err := filepath.Glob(filepath.Join(dir, downloadBaseName+".*"))
	if err != nil {
		return "", "", err
	}
	captions := make(map[string]string)
	for _, m := range matches {
		switch ext := strings.ToLower(filepath.Ext(m)); ext {
		case ".vtt", ".srt":
			// video.<lang>.vtt
			lang := strings.TrimPrefix(filepath.Ext(strings.TrimSuffix(m, filepath.Ext(m))), ".")
			captions[lang] = m
		case ".part", ".ytdl", ".json":
		default:
			if video == "" || ext == ".mp4" {
				video = m
			}
		}
	}
	if video == "" {
		return "", "", model.NewAcquisitionError("download produced no video file", false, model.ErrUnsupportedMedia)
	}
	for _, lang := range d.config.CaptionLanguages {
		if p, ok := captions[lang]; ok {
			return video, p, nil
		}
	}
	// Fall back to any track, e.g. "ko-KR" when "ko" was requested.
	langs := make([]string, 0, len(captions))
	for lang := range captions {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	if len(langs) > 0 {
		return video, captions[langs[0]], nil
	}
	return video, "", nil
}

func classifyDownloadError(ctx goctx.Context, err error) error {
	if errors.Is(ctx.Err(), goctx.DeadlineExceeded) {
		return model.NewAcquisitionError("download timed out", true, err)
	}
	msg := err.Error()
	for _, marker := range permanentDownloadFailures {
		if strings.Contains(msg, marker) {
			return model.NewAcquisitionError("video cannot be downloaded", false, err)
		}
	}
	return model.NewAcquisitionError("download failed", true, err)
}
