/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package log provides centralized slog-based logging for mathsketch.
// Every record carries the app name and build version; records logged with a
// context that holds a request ID (see WithRequestID) also carry "request_id".
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"mathsketch/internal/version"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger initialization.
// Environment variables (see FromEnv):
//   - MSK_LOG_LEVEL=debug|info|warn|error
//   - MSK_LOG_FORMAT=console|json
//   - MSK_LOG_FILE=<path> (rotated JSON log in addition to the console)
//   - MSK_LOG_SOURCE=true|false
type Options struct {
	Level     string
	Format    string // "console" or "json"
	AddSource bool
	File      string
	// Writer overrides the console destination (stderr). Used by tests.
	Writer io.Writer
}

var (
	mu      sync.RWMutex
	current *slog.Logger
)

// L returns the application logger, initializing it from the environment on first use.
func L() *slog.Logger {
	mu.RLock()
	l := current
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(FromEnv())
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Init configures the global logger and installs it as slog's default.
func Init(opts Options) {
	lvl := parseLevel(opts.Level)
	out := opts.Writer
	if out == nil {
		out = os.Stderr
	}

	var console slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		console = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl, AddSource: opts.AddSource})
	default:
		console = &prettyTextHandler{opts: prettyOpts{Level: lvl, AddSource: opts.AddSource}, w: out, mu: &sync.Mutex{}}
	}
	hs := []slog.Handler{withRequestID(console)}

	if f := strings.TrimSpace(opts.File); f != "" {
		rot := &lj.Logger{Filename: f, MaxSize: 10, MaxBackups: 3, MaxAge: 28, Compress: true}
		hs = append(hs, withRequestID(slog.NewJSONHandler(rot, &slog.HandlerOptions{Level: lvl, AddSource: opts.AddSource})))
	}

	var h slog.Handler = hs[0]
	if len(hs) > 1 {
		h = &fanout{hs: hs}
	}

	logger := slog.New(h).With(
		slog.String("app", "mathsketch"),
		slog.String("ver", version.Version),
		slog.Time("ts_init", time.Now()),
	)

	mu.Lock()
	current = logger
	mu.Unlock()
	slog.SetDefault(logger)
}

// FromEnv builds Options from MSK_LOG_* environment variables.
func FromEnv() Options {
	return Options{
		Level:     getenv("MSK_LOG_LEVEL", "info"),
		Format:    getenv("MSK_LOG_FORMAT", "console"),
		AddSource: strings.EqualFold(getenv("MSK_LOG_SOURCE", "false"), "true"),
		File:      os.Getenv("MSK_LOG_FILE"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// WithComponent returns a logger with the component attribute pre-set.
func WithComponent(name string) *slog.Logger { return L().With(slog.String("component", name)) }

// WithOperation annotates the logger with an operation name.
func WithOperation(l *slog.Logger, op string) *slog.Logger { return l.With(slog.String("op", op)) }

type requestIDKey struct{}

// WithRequestID returns a context whose log records carry the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func parseLevel(s string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// fanout sends each record to every handler that accepts its level.
type fanout struct{ hs []slog.Handler }

func (m *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.hs {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *fanout) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m.hs {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(m.hs))
	for i, h := range m.hs {
		out[i] = h.WithAttrs(attrs)
	}
	return &fanout{hs: out}
}

func (m *fanout) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(m.hs))
	for i, h := range m.hs {
		out[i] = h.WithGroup(name)
	}
	return &fanout{hs: out}
}

func withRequestID(h slog.Handler) slog.Handler { return &requestIDHandler{next: h} }

// requestIDHandler copies the context's request ID onto the record.
type requestIDHandler struct{ next slog.Handler }

func (e *requestIDHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return e.next.Enabled(ctx, level)
}

func (e *requestIDHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := RequestID(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	return e.next.Handle(ctx, r)
}

func (e *requestIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &requestIDHandler{next: e.next.WithAttrs(attrs)}
}

func (e *requestIDHandler) WithGroup(name string) slog.Handler {
	return &requestIDHandler{next: e.next.WithGroup(name)}
}
