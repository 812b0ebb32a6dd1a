/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package render rasterizes strokes onto a fixed-size surface.
//
// A full Render always starts from a background-filled surface, so the
// raster is a pure function of (size, background, committed strokes,
// in-progress stroke). AppendSegment is the cheap path used while a
// pointer is moving; the next full Render reconciles any difference.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"

	"github.com/gogpu/gg"
	xdraw "golang.org/x/image/draw"

	"mathsketch/internal/domain"
)

// Default canvas geometry.
const (
	DefaultWidth  = 1200
	DefaultHeight = 400
)

// ErrBadSize is returned for a surface with a non-positive dimension.
var ErrBadSize = errors.New("surface size must be positive")

// Surface is a raster the size of the drawing area.
type Surface struct {
	dc   *gg.Context
	w, h int
	bg   domain.Color
}

// SetLogger routes the rasterizer's internal diagnostics through l.
func SetLogger(l *slog.Logger) { gg.SetLogger(l) }

// NewSurface allocates a w×h surface cleared to bg.
func NewSurface(w, h int, bg domain.Color) (*Surface, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("new surface %dx%d: %w", w, h, ErrBadSize)
	}
	s := &Surface{dc: gg.NewContext(w, h), w: w, h: h, bg: bg}
	s.clear()
	return s, nil
}

// Width and Height are the surface size in pixels.
func (s *Surface) Width() int  { return s.w }
func (s *Surface) Height() int { return s.h }

// Background is the fill color and the color eraser strokes use.
func (s *Surface) Background() domain.Color { return s.bg }

func (s *Surface) clear() { s.dc.ClearWithColor(gg.FromColor(s.bg.RGBA())) }

// Render repaints the whole surface: background, then committed strokes in
// order, then the in-progress stroke (if non-nil and non-empty) on top.
func (s *Surface) Render(committed []domain.Stroke, inProgress *domain.Stroke) error {
	s.clear()
	for i := range committed {
		if err := s.drawStroke(committed[i]); err != nil {
			return fmt.Errorf("render stroke %d: %w", i, err)
		}
	}
	if inProgress != nil {
		if err := s.drawStroke(*inProgress); err != nil {
			return fmt.Errorf("render in-progress stroke: %w", err)
		}
	}
	return nil
}

// AppendSegment paints only the newest part of st: a dot for its first
// point, otherwise the segment between its last two points.
func (s *Surface) AppendSegment(st domain.Stroke) error {
	n := len(st.Points)
	switch {
	case n == 0:
		return nil
	case n == 1:
		return s.dot(st.Points[0], st)
	}
	s.setStyle(st)
	a, b := st.Points[n-2], st.Points[n-1]
	s.dc.MoveTo(a.X, a.Y)
	s.dc.LineTo(b.X, b.Y)
	return s.dc.Stroke()
}

// drawStroke draws a polyline with round caps and joins. A single point has no
// segment to stroke, so it is drawn as a filled dot of diameter Width.
func (s *Surface) drawStroke(st domain.Stroke) error {
	switch len(st.Points) {
	case 0:
		return nil
	case 1:
		return s.dot(st.Points[0], st)
	}
	s.setStyle(st)
	s.dc.MoveTo(st.Points[0].X, st.Points[0].Y)
	for _, p := range st.Points[1:] {
		s.dc.LineTo(p.X, p.Y)
	}
	return s.dc.Stroke()
}

func (s *Surface) dot(p domain.Point, st domain.Stroke) error {
	s.dc.SetColor(st.Color.RGBA())
	s.dc.DrawCircle(p.X, p.Y, st.Width/2)
	return s.dc.Fill()
}

func (s *Surface) setStyle(st domain.Stroke) {
	s.dc.SetColor(st.Color.RGBA())
	s.dc.SetStroke(gg.RoundStroke().WithWidth(st.Width))
}

// Image returns a copy of the current raster.
func (s *Surface) Image() *image.RGBA {
	_ = s.dc.FlushGPU()
	src := s.dc.Image()
	if img, ok := src.(*image.RGBA); ok {
		return img
	}
	img := image.NewRGBA(src.Bounds())
	xdraw.Draw(img, img.Bounds(), src, src.Bounds().Min, xdraw.Src)
	return img
}

// EncodePNG writes the current raster as PNG.
func (s *Surface) EncodePNG(w io.Writer) error {
	_ = s.dc.FlushGPU()
	return s.dc.EncodePNG(w)
}

// Snapshot returns the current raster as PNG bytes.
func (s *Surface) Snapshot() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Close releases the rasterizer state. The surface must not be used afterwards.
func (s *Surface) Close() error { return s.dc.Close() }

// Rasterize renders strokes onto a fresh w×h surface and returns an image
// that outlives the surface.
func Rasterize(strokes []domain.Stroke, w, h int, bg domain.Color) (*image.RGBA, error) {
	s, err := NewSurface(w, h, bg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()
	if err := s.Render(strokes, nil); err != nil {
		return nil, err
	}
	src := s.Image()
	img := image.NewRGBA(src.Bounds())
	copy(img.Pix, src.Pix)
	return img, nil
}
