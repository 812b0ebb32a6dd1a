/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

import "image/color"

// This file defines the drawing model shared by the stroke store, the renderer
// and the export/submission collaborators.

// Point is a coordinate in surface-local pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Color is an 8-bit RGBA color tag.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

var (
	Black = Color{R: 0, G: 0, B: 0, A: 255}
	White = Color{R: 255, G: 255, B: 255, A: 255}
)

// RGBA converts to the standard library color type.
func (c Color) RGBA() color.RGBA { return color.RGBA{R: c.R, G: c.G, B: c.B, A: c.A} }

// Style is the color/width pair a stroke is begun with.
type Style struct {
	Color Color   `json:"color"`
	Width float64 `json:"width"`
}

// Stroke is one continuous pointer-down to pointer-up path with uniform style.
// Point order is draw order along the path.
type Stroke struct {
	Points []Point `json:"points"`
	Color  Color   `json:"color"`
	Width  float64 `json:"width"`
}

// Style returns the stroke's color and width.
func (s Stroke) Style() Style { return Style{Color: s.Color, Width: s.Width} }

// Clone returns a deep copy so callers can never alias a stroke's point slice.
func (s Stroke) Clone() Stroke {
	c := s
	if s.Points != nil {
		c.Points = append([]Point(nil), s.Points...)
	}
	return c
}

// Recognition is the result returned by the recognition service.
type Recognition struct {
	Latex     string `json:"latex"`
	FullLatex string `json:"full_latex"`
}
