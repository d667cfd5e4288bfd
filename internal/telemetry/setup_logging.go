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

// Package telemetry wires logging, tracing and metrics for the service.
// Logs are JSON in the Cloud Logging structured format and carry the trace
// and span ids of the active OpenTelemetry span, so a log line can be opened
// next to its trace in the console.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/cloud"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/otel/trace"
)

// DefaultLogFile receives a copy of every log line next to stdout.
const DefaultLogFile = "app.log"

// spanContextLogHandler adds the Cloud Logging trace fields to records
// logged with a context that carries a valid span.
type spanContextLogHandler struct {
	slog.Handler
}

func handlerWithSpanContext(handler slog.Handler) *spanContextLogHandler {
	return &spanContextLogHandler{Handler: handler}
}

func (t *spanContextLogHandler) Handle(ctx context.Context, record slog.Record) error {
	if s := trace.SpanContextFromContext(ctx); s.IsValid() {
		// https://cloud.google.com/logging/docs/structured-logging#special-payload-fields
		record.AddAttrs(
			slog.Any("logging.googleapis.com/trace", s.TraceID()),
			slog.Any("logging.googleapis.com/spanId", s.SpanID()),
			slog.Bool("logging.googleapis.com/trace_sampled", s.TraceFlags().IsSampled()),
		)
	}
	return t.Handler.Handle(ctx, record)
}

func (t *spanContextLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return handlerWithSpanContext(t.Handler.WithAttrs(attrs))
}

func (t *spanContextLogHandler) WithGroup(name string) slog.Handler {
	return handlerWithSpanContext(t.Handler.WithGroup(name))
}

// replacer renames slog's keys to the ones Cloud Logging parses.
func replacer(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.LevelKey:
		a.Key = "severity"
		// LogSeverity spells it WARNING.
		if level, ok := a.Value.Any().(slog.Level); ok && level == slog.LevelWarn {
			a.Value = slog.StringValue("WARNING")
		}
	case slog.TimeKey:
		a.Key = "timestamp"
	case slog.MessageKey:
		a.Key = "message"
	}
	return a
}

// ParseLevel maps application.log_level to a slog level. Unknown or empty
// values log at info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogHandler fans records out to every writer as Cloud Logging JSON.
func NewLogHandler(level slog.Level, writers ...io.Writer) slog.Handler {
	handlers := make([]slog.Handler, 0, len(writers))
	for _, w := range writers {
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: replacer}))
	}
	return handlerWithSpanContext(slogmulti.Fanout(handlers...))
}

// SetupLogging installs the default slog logger, writing to stdout and to
// DefaultLogFile. The returned function closes the log file. A log file that
// cannot be opened is reported and logging continues on stdout alone.
func SetupLogging(config *cloud.Config) (closeLog func()) {
	level := slog.LevelInfo
	if config != nil {
		level = ParseLevel(config.Application.LogLevel)
	}

	writers := []io.Writer{os.Stdout}
	closeLog = func() {}
	file, err := os.OpenFile(DefaultLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging to stdout only: %v\n", err)
	} else {
		writers = append(writers, file)
		closeLog = func() { _ = file.Close() }
	}

	logger := slog.New(NewLogHandler(level, writers...))
	slog.SetDefault(logger)
	// Libraries that still use the log package end up in the same stream.
	log.SetOutput(slog.NewLogLogger(logger.Handler(), slog.LevelInfo).Writer())
	log.SetFlags(0)
	return closeLog
}
