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
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestDecodeDataURI(t *testing.T) {
	want := []byte("hello")
	padded := "data:image/png;base64," + base64.StdEncoding.EncodeToString(want)
	raw := "data:image/png;base64," + base64.RawStdEncoding.EncodeToString(want)
	for _, in := range []string{padded, raw} {
		got, err := DecodeDataURI(in)
		if err != nil || !bytes.Equal(got, want) {
			t.Fatalf("DecodeDataURI(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := DecodeDataURI("garbage"); !errors.Is(err, ErrBadImage) {
		t.Fatalf("expected ErrBadImage, got %v", err)
	}
}

func TestFlattenDownscales(t *testing.T) {
	out, err := Flatten(transparentPNG(t, 40, 20), 10)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 5 {
		t.Fatalf("size = %v, want 10x5", b)
	}
	if _, _, _, a := img.At(9, 4).RGBA(); a>>8 != 255 {
		t.Fatalf("flattened image is not opaque")
	}
}

func TestFlattenKeepsSmallImages(t *testing.T) {
	out, err := Flatten(transparentPNG(t, 12, 7), 100)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.Width != 12 || cfg.Height != 7 {
		t.Fatalf("size = %dx%d", cfg.Width, cfg.Height)
	}
}

func TestFlattenRejectsNonImage(t *testing.T) {
	if _, err := Flatten([]byte("nope"), 0); !errors.Is(err, ErrBadImage) {
		t.Fatalf("expected ErrBadImage, got %v", err)
	}
}

func TestPreviewPage(t *testing.T) {
	ts := newTestServer(t, &fakeRecognizer{}, nil, Options{})
	q := url.Values{"latex": {`a < b \alpha`}, "macros": {`\newcommand{\R}{\mathbb{R}}`}}
	resp, err := http.Get(ts.URL + "/preview?" + q.Encode())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	page := string(b)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("status=%d type=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(page, MathJaxURL) {
		t.Fatalf("page does not load MathJax")
	}
	if !strings.Contains(page, `a &lt; b \alpha`) {
		t.Fatalf("latex not escaped into page:\n%s", page)
	}
	if !strings.Contains(page, `\newcommand{\R}{\mathbb{R}}`) {
		t.Fatalf("macros missing from page")
	}
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t, &fakeRecognizer{}, nil, Options{})
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), `"status":"ok"`) {
		t.Fatalf("healthz = %d %s", resp.StatusCode, b)
	}

	resp, err = http.Get(ts.URL + "/version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	b, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.HasPrefix(string(b), "mathsketch ") {
		t.Fatalf("version = %q", b)
	}
}
