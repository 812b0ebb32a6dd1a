/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package ui is the desktop front end. The widgets live behind the fyne build
// tag; Session holds the toolkit-independent state they drive.
package ui

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mathsketch/internal/board"
	"mathsketch/internal/config"
	"mathsketch/internal/domain"
	"mathsketch/internal/export"
	applog "mathsketch/internal/log"
	"mathsketch/internal/sketch"
)

// Converter submits a snapshot for recognition. *backend.Client implements it.
type Converter interface {
	Convert(ctx context.Context, png []byte, macros, prompt string) (domain.Recognition, error)
	PreviewURL(latex string) string
}

// ErrNothingToConvert is returned when the snapshot could not be taken.
var ErrNothingToConvert = errors.New("nothing to convert")

// Submission is everything a conversion needs, captured on the UI thread.
type Submission struct {
	PNG    []byte
	Macros string
	Prompt string
}

// Session owns the board and the last recognition result. Board methods must
// be called from the UI thread; Send and Result are safe from any goroutine.
type Session struct {
	Board   *board.Board
	conv    Converter
	timeout time.Duration
	log     *slog.Logger

	mu   sync.Mutex
	last domain.Recognition
}

// NewSession builds a board sized and styled from cfg.
func NewSession(cfg config.AppConfig, conv Converter) (*Session, error) {
	p := sketch.DefaultPalette()
	if cfg.Canvas.PenWidth > 0 {
		p.Width = cfg.Canvas.PenWidth
	}
	b, err := board.New(cfg.Canvas.Width, cfg.Canvas.Height, p)
	if err != nil {
		return nil, err
	}
	return &Session{Board: b, conv: conv, timeout: cfg.Backend.Timeout(), log: applog.WithComponent("ui")}, nil
}

// EraserLabel is the toggle button caption for the current mode.
func (s *Session) EraserLabel() string {
	if s.Board.EraserMode() {
		return "Eraser ON"
	}
	return "Eraser OFF"
}

// Capture snapshots the surface together with the text fields.
func (s *Session) Capture(macros, prompt string) (Submission, error) {
	png, err := s.Board.Snapshot()
	if err != nil {
		return Submission{}, errors.Join(ErrNothingToConvert, err)
	}
	return Submission{PNG: png, Macros: macros, Prompt: prompt}, nil
}

// Send converts sub and remembers the result. The drawing is never touched,
// so a failed conversion leaves everything as it was.
func (s *Session) Send(ctx context.Context, sub Submission) (domain.Recognition, error) {
	if s.conv == nil {
		return domain.Recognition{}, errors.New("no recognition backend configured")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := s.conv.Convert(ctx, sub.PNG, sub.Macros, sub.Prompt)
	if err != nil {
		s.log.Error("conversion failed", slog.Any("err", err))
		return domain.Recognition{}, err
	}
	s.log.Info("conversion done", slog.Int("latex_len", len(res.Latex)), slog.Duration("took", time.Since(start)))
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	return res, nil
}

// Result is the last successful recognition.
func (s *Session) Result() domain.Recognition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// PreviewURL points at the typeset page for the last result, or "" if there is none.
func (s *Session) PreviewURL() string {
	r := s.Result()
	if r.FullLatex == "" || s.conv == nil {
		return ""
	}
	return s.conv.PreviewURL(r.FullLatex)
}

// ExportPNG and ExportPDF write the current drawing.
func (s *Session) ExportPNG(path string) error { return export.ExportPNG(path, s.Board) }

func (s *Session) ExportPDF(path string) error {
	w, h := s.Board.Size()
	return export.ExportPDF(path, s.Board.Committed(), w, h, s.Board.Background())
}

// Close releases the drawing surface.
func (s *Session) Close() error { return s.Board.Close() }
