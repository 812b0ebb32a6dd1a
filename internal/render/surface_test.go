/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package render

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"testing"

	"mathsketch/internal/domain"
)

func ink(pts ...domain.Point) domain.Stroke {
	return domain.Stroke{Points: pts, Color: domain.Black, Width: 4}
}

func eraser(pts ...domain.Point) domain.Stroke {
	return domain.Stroke{Points: pts, Color: domain.White, Width: 12}
}

func isDark(img *image.RGBA, x, y int) bool {
	c := img.RGBAAt(x, y)
	return c.R < 64 && c.G < 64 && c.B < 64
}

func isWhite(img *image.RGBA, x, y int) bool {
	c := img.RGBAAt(x, y)
	return c.R > 240 && c.G > 240 && c.B > 240
}

func newTestSurface(t *testing.T) *Surface {
	t.Helper()
	s, err := NewSurface(200, 100, domain.White)
	if err != nil {
		t.Fatalf("NewSurface: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSurfaceRejectsBadSize(t *testing.T) {
	if _, err := NewSurface(0, 10, domain.White); !errors.Is(err, ErrBadSize) {
		t.Fatalf("expected ErrBadSize, got %v", err)
	}
}

func TestFreshSurfaceIsBackground(t *testing.T) {
	s := newTestSurface(t)
	img := s.Image()
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 100 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	for _, p := range []image.Point{{0, 0}, {199, 99}, {100, 50}} {
		if !isWhite(img, p.X, p.Y) {
			t.Fatalf("pixel %v not background: %v", p, img.RGBAAt(p.X, p.Y))
		}
	}
}

func TestRenderScenarioStroke(t *testing.T) {
	s := newTestSurface(t)
	st := ink(domain.Point{X: 10, Y: 10}, domain.Point{X: 20, Y: 20})
	if err := s.Render([]domain.Stroke{st}, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	img := s.Image()
	if !isDark(img, 15, 15) {
		t.Fatalf("expected ink at (15,15), got %v", img.RGBAAt(15, 15))
	}
	if !isWhite(img, 100, 50) {
		t.Fatalf("expected background far from the stroke, got %v", img.RGBAAt(100, 50))
	}
}

func TestSinglePointStrokeRendersDot(t *testing.T) {
	s := newTestSurface(t)
	if err := s.Render([]domain.Stroke{ink(domain.Point{X: 50, Y: 50})}, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	img := s.Image()
	if !isDark(img, 50, 50) && !isDark(img, 49, 49) {
		t.Fatalf("single point stroke left no mark: %v", img.RGBAAt(50, 50))
	}
	if !isWhite(img, 60, 60) {
		t.Fatalf("dot is larger than its width")
	}
}

func TestEraserPaintsBackground(t *testing.T) {
	s := newTestSurface(t)
	line := ink(domain.Point{X: 10, Y: 10}, domain.Point{X: 20, Y: 20})
	er := eraser(domain.Point{X: 10, Y: 10}, domain.Point{X: 20, Y: 20})
	if err := s.Render([]domain.Stroke{line, er}, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if img := s.Image(); !isWhite(img, 15, 15) {
		t.Fatalf("eraser did not cover ink: %v", img.RGBAAt(15, 15))
	}

	// Dropping the eraser (undo) brings the ink back.
	if err := s.Render([]domain.Stroke{line}, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if img := s.Image(); !isDark(img, 15, 15) {
		t.Fatalf("ink not restored after re-render: %v", img.RGBAAt(15, 15))
	}
}

func TestRenderIsDeterministicAndStartsFromBackground(t *testing.T) {
	strokes := []domain.Stroke{
		ink(domain.Point{X: 10, Y: 10}, domain.Point{X: 60, Y: 40}, domain.Point{X: 90, Y: 15}),
		ink(domain.Point{X: 150, Y: 80}),
	}
	in := ink(domain.Point{X: 30, Y: 70}, domain.Point{X: 40, Y: 75})

	a := newTestSurface(t)
	if err := a.Render(strokes, &in); err != nil {
		t.Fatalf("Render a: %v", err)
	}

	b := newTestSurface(t)
	// Dirty b first; a full render must not depend on prior contents.
	if err := b.Render([]domain.Stroke{ink(domain.Point{X: 0, Y: 0}, domain.Point{X: 199, Y: 99})}, nil); err != nil {
		t.Fatalf("Render b (dirty): %v", err)
	}
	if err := b.Render(strokes, &in); err != nil {
		t.Fatalf("Render b: %v", err)
	}
	if !bytes.Equal(a.Image().Pix, b.Image().Pix) {
		t.Fatalf("identical inputs produced different rasters")
	}
}

func TestInProgressDrawnOnTop(t *testing.T) {
	s := newTestSurface(t)
	in := ink(domain.Point{X: 100, Y: 10}, domain.Point{X: 100, Y: 90})
	if err := s.Render(nil, &in); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if img := s.Image(); !isDark(img, 100, 50) {
		t.Fatalf("in-progress stroke not visible: %v", img.RGBAAt(100, 50))
	}
}

func TestAppendSegmentPaintsNewestSegment(t *testing.T) {
	s := newTestSurface(t)
	st := ink(domain.Point{X: 20, Y: 50})
	if err := s.AppendSegment(st); err != nil {
		t.Fatalf("AppendSegment dot: %v", err)
	}
	st.Points = append(st.Points, domain.Point{X: 80, Y: 50})
	if err := s.AppendSegment(st); err != nil {
		t.Fatalf("AppendSegment line: %v", err)
	}
	img := s.Image()
	if !isDark(img, 50, 50) {
		t.Fatalf("segment midpoint not inked: %v", img.RGBAAt(50, 50))
	}
	if err := s.AppendSegment(domain.Stroke{}); err != nil {
		t.Fatalf("empty stroke: %v", err)
	}
}

func TestSnapshotIsPNGOfSurfaceSize(t *testing.T) {
	s := newTestSurface(t)
	if err := s.Render([]domain.Stroke{ink(domain.Point{X: 10, Y: 10}, domain.Point{X: 20, Y: 20})}, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	b, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 100 {
		t.Fatalf("snapshot bounds = %v", img.Bounds())
	}
	r, g, bb, _ := img.At(15, 15).RGBA()
	if r>>8 > 64 || g>>8 > 64 || bb>>8 > 64 {
		t.Fatalf("snapshot lost the stroke")
	}
}

func TestRasterize(t *testing.T) {
	img, err := Rasterize([]domain.Stroke{ink(domain.Point{X: 10, Y: 10}, domain.Point{X: 20, Y: 20})}, 40, 30, domain.White)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if !isDark(img, 15, 15) || !isWhite(img, 35, 5) {
		t.Fatalf("unexpected raster")
	}
}
