/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package server

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // decoders accepted in image_data
	"image/png"
	"strings"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var ErrBadImage = errors.New("invalid image data")

// DecodeDataURI splits a data URI at its first comma and base64-decodes the payload.
func DecodeDataURI(s string) ([]byte, error) {
	_, payload, ok := strings.Cut(s, ",")
	if !ok {
		return nil, fmt.Errorf("%w: not a data URI", ErrBadImage)
	}
	payload = strings.TrimSpace(payload)
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some encoders drop the padding.
		if raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
		}
	}
	return raw, nil
}

// Flatten decodes raw, composites it over opaque white and re-encodes it as
// PNG. Images wider than maxWidth (if > 0) are scaled down preserving aspect.
func Flatten(raw []byte, maxWidth int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrBadImage)
	}

	flat := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(flat, flat.Bounds(), &image.Uniform{C: color.White}, image.Point{}, xdraw.Src)
	xdraw.Draw(flat, flat.Bounds(), src, b.Min, xdraw.Over)

	var out image.Image = flat
	if maxWidth > 0 && b.Dx() > maxWidth {
		h := b.Dy() * maxWidth / b.Dx()
		if h < 1 {
			h = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), flat, flat.Bounds(), xdraw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
