/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"
	"mathsketch/internal/domain"
	"mathsketch/internal/version"
)

// PDF pages use points with one surface pixel mapped to one point, origin top-left.

// ExportPDF writes strokes as a single-page vector PDF of size w×h to path.
// Eraser strokes are painted in their own (background) color, the same way the
// surface shows them.
func ExportPDF(path string, strokes []domain.Stroke, w, h int, bg domain.Color) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	pdf, err := buildPDF(strokes, w, h, bg)
	if err != nil {
		return err
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// WritePDF is ExportPDF for an arbitrary writer.
func WritePDF(out io.Writer, strokes []domain.Stroke, w, h int, bg domain.Color) error {
	pdf, err := buildPDF(strokes, w, h, bg)
	if err != nil {
		return err
	}
	if err := pdf.Output(out); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func buildPDF(strokes []domain.Stroke, w, h int, bg domain.Color) (*gofpdf.Fpdf, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid page size %dx%d", w, h)
	}
	size := gofpdf.SizeType{Wd: float64(w), Ht: float64(h)}
	pdf := gofpdf.NewCustom(&gofpdf.InitType{UnitStr: "pt", Size: size})
	pdf.SetTitle("mathsketch drawing", false)
	pdf.SetCreator(version.String(), false)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)
	pdf.AddPageFormat("", size)

	setFillColor(pdf, bg)
	pdf.Rect(0, 0, size.Wd, size.Ht, "F")

	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")
	for _, st := range strokes {
		drawStroke(pdf, st)
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("build pdf: %w", err)
	}
	return pdf, nil
}

func drawStroke(pdf *gofpdf.Fpdf, st domain.Stroke) {
	switch len(st.Points) {
	case 0:
		return
	case 1:
		// a tap is a filled dot of the stroke's width
		setFillColor(pdf, st.Color)
		p := st.Points[0]
		pdf.Circle(p.X, p.Y, st.Width/2, "F")
		return
	}
	setDrawColor(pdf, st.Color)
	pdf.SetLineWidth(st.Width)
	pdf.MoveTo(st.Points[0].X, st.Points[0].Y)
	for _, p := range st.Points[1:] {
		pdf.LineTo(p.X, p.Y)
	}
	pdf.DrawPath("D")
}

func setDrawColor(pdf *gofpdf.Fpdf, c domain.Color) {
	pdf.SetDrawColor(int(c.R), int(c.G), int(c.B))
}

func setFillColor(pdf *gofpdf.Fpdf, c domain.Color) {
	pdf.SetFillColor(int(c.R), int(c.G), int(c.B))
}
