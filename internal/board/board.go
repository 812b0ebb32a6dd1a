/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package board ties pointer input and history commands to the stroke store
// and keeps the drawing surface in sync with it.
package board

import (
	"fmt"
	"image"
	"log/slog"

	"mathsketch/internal/domain"
	applog "mathsketch/internal/log"
	"mathsketch/internal/render"
	"mathsketch/internal/sketch"
)

// Board is the drawing area: one Store and the Surface that shows it.
// Like the store it is driven from a single goroutine (the UI thread).
type Board struct {
	store *sketch.Store
	surf  *render.Surface
	log   *slog.Logger

	// OnChange, if set, is called after every visible change.
	OnChange func()
}

// New creates an empty w×h board using palette p.
func New(w, h int, p sketch.Palette) (*Board, error) {
	store := sketch.NewStore(p)
	surf, err := render.NewSurface(w, h, store.Palette().Background)
	if err != nil {
		return nil, fmt.Errorf("new board: %w", err)
	}
	return &Board{store: store, surf: surf, log: applog.WithComponent("board")}, nil
}

// PointerDown begins a stroke in the current style. Points are collected by
// PointerMove; a press that never moves leaves nothing behind.
func (b *Board) PointerDown(p domain.Point) error {
	if err := b.store.BeginStroke(b.store.CurrentStyle()); err != nil {
		applog.WithOperation(b.log, "pointer_down").Warn("pointer down ignored",
			slog.Float64("x", p.X), slog.Float64("y", p.Y), slog.Any("err", err))
		return err
	}
	return nil
}

// PointerMove extends the active stroke and paints the new segment.
func (b *Board) PointerMove(p domain.Point) {
	if !b.store.Drawing() {
		return
	}
	b.store.AppendPoint(p)
	tail, _ := b.store.Tail()
	if err := b.surf.AppendSegment(tail); err != nil {
		applog.WithOperation(b.log, "pointer_move").Error("paint segment failed", slog.Any("err", err))
	}
	b.changed()
}

// PointerUp finalizes the active stroke.
func (b *Board) PointerUp() { b.finish("pointer_up") }

// PointerCancel behaves exactly like PointerUp.
func (b *Board) PointerCancel() { b.finish("pointer_cancel") }

// PointerLeave behaves exactly like PointerUp.
func (b *Board) PointerLeave() { b.finish("pointer_leave") }

func (b *Board) finish(op string) {
	if !b.store.Drawing() {
		return
	}
	st, ok := b.store.EndStroke()
	if ok {
		applog.WithOperation(b.log, op).Debug("stroke committed",
			slog.Int("points", len(st.Points)), slog.Float64("width", st.Width))
	}
	// Segments painted during the drag overlap at their caps; a full render
	// keeps the raster a function of the committed list.
	b.redraw(op)
}

// Undo removes the most recent stroke from the drawing.
func (b *Board) Undo() bool {
	if !b.store.Undo() {
		return false
	}
	b.logDepth("undo")
	b.redraw("undo")
	return true
}

// Redo restores the most recently undone stroke.
func (b *Board) Redo() bool {
	if !b.store.Redo() {
		return false
	}
	b.logDepth("redo")
	b.redraw("redo")
	return true
}

// Clear empties the drawing and its history.
func (b *Board) Clear() {
	b.store.Clear()
	b.redraw("clear")
}

// ToggleEraser flips eraser mode and returns the new state.
func (b *Board) ToggleEraser() bool {
	on := b.store.ToggleEraser()
	applog.WithOperation(b.log, "toggle_eraser").Debug("eraser mode", slog.Bool("on", on))
	b.changed()
	return on
}

// EraserMode reports whether new strokes are eraser strokes.
func (b *Board) EraserMode() bool { return b.store.EraserMode() }

// CanUndo and CanRedo report whether the matching command would do anything.
func (b *Board) CanUndo() bool { return b.store.CanUndo() }
func (b *Board) CanRedo() bool { return b.store.CanRedo() }

// Committed returns a copy of the current drawing.
func (b *Board) Committed() []domain.Stroke { return b.store.Committed() }

// Size returns the surface dimensions in pixels.
func (b *Board) Size() (w, h int) { return b.surf.Width(), b.surf.Height() }

// Background is the surface color eraser strokes paint with.
func (b *Board) Background() domain.Color { return b.surf.Background() }

// Image returns a copy of the current raster.
func (b *Board) Image() *image.RGBA { return b.surf.Image() }

// Snapshot returns the current raster as PNG bytes.
func (b *Board) Snapshot() ([]byte, error) { return b.surf.Snapshot() }

// Close releases the surface.
func (b *Board) Close() error { return b.surf.Close() }

func (b *Board) redraw(op string) {
	var ip *domain.Stroke
	if st, ok := b.store.InProgress(); ok {
		ip = &st
	}
	if err := b.surf.Render(b.store.Committed(), ip); err != nil {
		applog.WithOperation(b.log, op).Error("render failed", slog.Any("err", err))
	}
	b.changed()
}

func (b *Board) logDepth(op string) {
	committed, undone := b.store.Depth()
	applog.WithOperation(b.log, op).Debug("history", slog.Int("committed", committed), slog.Int("undone", undone))
}

func (b *Board) changed() {
	if b.OnChange != nil {
		b.OnChange()
	}
}
