/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package server is the recognition HTTP service: it accepts canvas
// snapshots, asks the recognizer for LaTeX and serves a typeset preview.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"mathsketch/internal/domain"
	applog "mathsketch/internal/log"
	"mathsketch/internal/storage"
	"mathsketch/internal/version"
)

const headerRequestID = "X-Request-ID"

// Recognizer turns a flattened PNG into a LaTeX string.
type Recognizer interface {
	Recognize(ctx context.Context, png []byte, macros, prompt string) (string, error)
}

// Options tune request handling. Zero values pick sensible defaults.
type Options struct {
	// Model participates in the cache key so switching models never serves stale answers.
	Model         string
	MaxImageWidth int
	MaxBodyBytes  int64
}

// Server handles /convert, /preview, /healthz and /version.
type Server struct {
	rec    Recognizer
	cache  *storage.Cache // nil disables caching
	opts   Options
	schema *gojsonschema.Schema
	log    *slog.Logger
}

// New builds a server. cache may be nil.
func New(rec Recognizer, cache *storage.Cache, opts Options) (*Server, error) {
	if rec == nil {
		return nil, errors.New("server: recognizer is required")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 16 << 20
	}
	schema, err := compileConvertSchema()
	if err != nil {
		return nil, err
	}
	return &Server{rec: rec, cache: cache, opts: opts, schema: schema, log: applog.WithComponent("server")}, nil
}

// Handler returns the routed handler wrapped with request-ID middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /convert", s.handleConvert)
	mux.HandleFunc("GET /preview", s.handlePreview)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, version.String())
	})
	return s.withRequestID(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutCtx)
	}
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		ctx := applog.WithRequestID(r.Context(), id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		s.log.DebugContext(ctx, "request",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Duration("took", time.Since(start)))
	})
}

type convertRequest struct {
	ImageData *string `json:"image_data"`
	Macros    *string `json:"macros"`
	Prompt    *string `json:"prompt"`
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := applog.WithOperation(s.log, "convert")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooBig.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validateBody(s.schema, body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req convertRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSON)
		return
	}
	if deref(req.ImageData) == "" {
		writeError(w, http.StatusBadRequest, errors.New("No image data provided"))
		return
	}
	macros, prompt := deref(req.Macros), deref(req.Prompt)

	raw, err := DecodeDataURI(*req.ImageData)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	png, err := Flatten(raw, s.opts.MaxImageWidth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	key := storage.CacheKey(png, macros, prompt, s.opts.Model)
	if s.cache != nil {
		if hit, ok, err := s.cache.Get(ctx, key); err != nil {
			l.WarnContext(ctx, "cache lookup failed", slog.Any("err", err))
		} else if ok {
			hits, _ := s.cache.Hits(ctx, key)
			l.InfoContext(ctx, "served from cache", slog.Int("hits", hits))
			writeJSON(w, http.StatusOK, hit)
			return
		}
	}

	start := time.Now()
	latex, err := s.rec.Recognize(ctx, png, macros, prompt)
	if err != nil {
		l.ErrorContext(ctx, "recognize failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	res := domain.Recognition{Latex: latex, FullLatex: macros + "\n" + latex}
	l.InfoContext(ctx, "recognized", slog.Int("png_bytes", len(png)), slog.Duration("took", time.Since(start)))

	if s.cache != nil {
		if err := s.cache.Put(ctx, key, s.opts.Model, res); err != nil {
			l.WarnContext(ctx, "cache store failed", slog.Any("err", err))
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
