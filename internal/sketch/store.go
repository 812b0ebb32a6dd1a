/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package sketch owns the authoritative model of what has been drawn:
// the committed strokes, the redo buffer and the single in-progress stroke.
package sketch

import (
	"errors"
	"fmt"

	"mathsketch/internal/domain"
	"mathsketch/internal/undo"
)

// ErrInvalidState is returned when a stroke is begun while another is still active.
var ErrInvalidState = errors.New("invalid state")

// EraserWidthFactor scales the base width for eraser strokes.
const EraserWidthFactor = 3

// Palette holds the fixed styles the store hands out.
// Eraser strokes use Background and EraserWidthFactor*Width.
type Palette struct {
	Ink        domain.Color
	Background domain.Color
	Width      float64
}

// DefaultPalette is black ink on white with a 4px pen.
func DefaultPalette() Palette {
	return Palette{Ink: domain.Black, Background: domain.White, Width: 4}
}

// Store is the stroke store. It is driven by one thread of control
// (pointer sequencing plus discrete history commands) and is not safe for concurrent use.
type Store struct {
	palette    Palette
	history    *undo.History[domain.Stroke]
	inProgress *domain.Stroke
	eraser     bool
}

// NewStore creates an empty store. Zero palette fields fall back to DefaultPalette.
func NewStore(p Palette) *Store {
	def := DefaultPalette()
	if p.Width <= 0 {
		p.Width = def.Width
	}
	if p.Ink == (domain.Color{}) {
		p.Ink = def.Ink
	}
	if p.Background == (domain.Color{}) {
		p.Background = def.Background
	}
	return &Store{palette: p, history: undo.NewHistory[domain.Stroke]()}
}

// Palette returns the effective palette after defaults were applied.
func (s *Store) Palette() Palette { return s.palette }

// BeginStroke starts a new in-progress stroke with the given style.
func (s *Store) BeginStroke(st domain.Style) error {
	if s.inProgress != nil {
		return fmt.Errorf("begin stroke: stroke already in progress: %w", ErrInvalidState)
	}
	s.inProgress = &domain.Stroke{Color: st.Color, Width: st.Width}
	return nil
}

// AppendPoint grows the in-progress stroke. Without one it does nothing.
func (s *Store) AppendPoint(p domain.Point) {
	if s.inProgress == nil {
		return
	}
	s.inProgress.Points = append(s.inProgress.Points, p)
}

// EndStroke finalizes the in-progress stroke. A stroke with at least one point
// is committed and the redo buffer is dropped; an empty stroke is discarded.
// It reports the committed stroke, if any.
func (s *Store) EndStroke() (domain.Stroke, bool) {
	st := s.inProgress
	s.inProgress = nil
	if st == nil || len(st.Points) == 0 {
		return domain.Stroke{}, false
	}
	s.history.Push(*st)
	return st.Clone(), true
}

// Undo moves the last committed stroke to the redo buffer.
func (s *Store) Undo() bool {
	_, ok := s.history.Undo()
	return ok
}

// Redo moves the most recently undone stroke back to the end of the drawing.
func (s *Store) Redo() bool {
	_, ok := s.history.Redo()
	return ok
}

// Clear empties the drawing and the redo buffer and cancels any stroke in progress.
func (s *Store) Clear() {
	s.history.Clear()
	s.inProgress = nil
}

// SetEraserMode selects the style for strokes begun from now on.
func (s *Store) SetEraserMode(on bool) { s.eraser = on }

// ToggleEraser flips eraser mode and returns the new state.
func (s *Store) ToggleEraser() bool {
	s.eraser = !s.eraser
	return s.eraser
}

// EraserMode reports whether strokes begun now get the eraser style.
func (s *Store) EraserMode() bool { return s.eraser }

// CurrentStyle is the style the next stroke should be begun with.
func (s *Store) CurrentStyle() domain.Style {
	if s.eraser {
		return domain.Style{Color: s.palette.Background, Width: s.palette.Width * EraserWidthFactor}
	}
	return domain.Style{Color: s.palette.Ink, Width: s.palette.Width}
}

// Committed returns the current drawing, earliest first.
func (s *Store) Committed() []domain.Stroke { return cloneAll(s.history.Applied()) }

// RedoBuffer returns the undone strokes, most recently undone last.
func (s *Store) RedoBuffer() []domain.Stroke { return cloneAll(s.history.Undone()) }

// InProgress returns a copy of the stroke being drawn, if any.
func (s *Store) InProgress() (domain.Stroke, bool) {
	if s.inProgress == nil {
		return domain.Stroke{}, false
	}
	return s.inProgress.Clone(), true
}

// Tail returns the in-progress stroke's style with at most its last two
// points, enough to paint the newest segment without copying the whole path.
func (s *Store) Tail() (domain.Stroke, bool) {
	if s.inProgress == nil {
		return domain.Stroke{}, false
	}
	pts := s.inProgress.Points
	if len(pts) > 2 {
		pts = pts[len(pts)-2:]
	}
	return domain.Stroke{
		Points: append([]domain.Point(nil), pts...),
		Color:  s.inProgress.Color,
		Width:  s.inProgress.Width,
	}, true
}

// Depth reports how many strokes are committed and how many can be redone.
func (s *Store) Depth() (committed, undone int) { return s.history.Stats() }

// Drawing reports whether a stroke is in progress.
func (s *Store) Drawing() bool { return s.inProgress != nil }

// CanUndo reports whether there is a committed stroke to undo.
func (s *Store) CanUndo() bool { return s.history.CanUndo() }

// CanRedo reports whether the redo buffer is non-empty.
func (s *Store) CanRedo() bool { return s.history.CanRedo() }

func cloneAll(in []domain.Stroke) []domain.Stroke {
	for i := range in {
		in[i] = in[i].Clone()
	}
	return in
}
