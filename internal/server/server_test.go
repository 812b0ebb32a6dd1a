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
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"mathsketch/internal/storage"
)

type fakeRecognizer struct {
	mu     sync.Mutex
	latex  string
	err    error
	calls  int
	png    []byte
	macros string
	prompt string
}

func (f *fakeRecognizer) Recognize(_ context.Context, png []byte, macros, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.png, f.macros, f.prompt = png, macros, prompt
	return f.latex, f.err
}

// transparentPNG is a w×h fully transparent image with one opaque black pixel at (1,1).
func transparentPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.SetNRGBA(1, 1, color.NRGBA{A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func dataURI(b []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b)
}

func newTestServer(t *testing.T, rec Recognizer, cache *storage.Cache, opts Options) *httptest.Server {
	t.Helper()
	s, err := New(rec, cache, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postConvert(t *testing.T, ts *httptest.Server, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/convert", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var m map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, m
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestConvertSuccess(t *testing.T) {
	rec := &fakeRecognizer{latex: `\vct{x}^\top \mat{A}`}
	ts := newTestServer(t, rec, nil, Options{Model: "gpt-4o"})

	body := mustJSON(t, map[string]string{
		"image_data": dataURI(transparentPNG(t, 8, 8)),
		"macros":     `\newcommand{\R}{\mathbb{R}}`,
		"prompt":     "bold vectors",
	})
	resp, m := postConvert(t, ts, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, m)
	}
	if m["latex"] != `\vct{x}^\top \mat{A}` {
		t.Fatalf("latex = %q", m["latex"])
	}
	if m["full_latex"] != `\newcommand{\R}{\mathbb{R}}`+"\n"+`\vct{x}^\top \mat{A}` {
		t.Fatalf("full_latex = %q", m["full_latex"])
	}
	if resp.Header.Get(headerRequestID) == "" {
		t.Fatalf("missing request id header")
	}
	if rec.macros != `\newcommand{\R}{\mathbb{R}}` || rec.prompt != "bold vectors" {
		t.Fatalf("recognizer got macros=%q prompt=%q", rec.macros, rec.prompt)
	}

	// The recognizer sees an opaque image: transparent areas became white.
	img, err := png.Decode(bytes.NewReader(rec.png))
	if err != nil {
		t.Fatalf("decode forwarded png: %v", err)
	}
	if r, g, b, a := img.At(5, 5).RGBA(); r>>8 != 255 || g>>8 != 255 || b>>8 != 255 || a>>8 != 255 {
		t.Fatalf("background not white: %v", img.At(5, 5))
	}
	if r, _, _, _ := img.At(1, 1).RGBA(); r>>8 != 0 {
		t.Fatalf("ink pixel lost: %v", img.At(1, 1))
	}
}

func TestConvertMissingImage(t *testing.T) {
	rec := &fakeRecognizer{latex: "x"}
	ts := newTestServer(t, rec, nil, Options{})
	for _, body := range []string{`{}`, `{"image_data":""}`, `{"image_data":null,"macros":"m"}`} {
		resp, m := postConvert(t, ts, body)
		if resp.StatusCode != http.StatusBadRequest || m["error"] != "No image data provided" {
			t.Fatalf("body %s: status=%d error=%q", body, resp.StatusCode, m["error"])
		}
	}
	if rec.calls != 0 {
		t.Fatalf("recognizer must not be called without an image")
	}
}

func TestConvertRejectsBadBodies(t *testing.T) {
	ts := newTestServer(t, &fakeRecognizer{}, nil, Options{})
	cases := []string{
		`not json`,
		`{"image_data": 42}`,
		`{"image_data":"data:image/png;base64,@@@"}`,
		`{"image_data":"no-comma-here"}`,
		`{"image_data":"` + "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("not an image")) + `"}`,
	}
	for _, body := range cases {
		resp, m := postConvert(t, ts, body)
		if resp.StatusCode != http.StatusBadRequest || m["error"] == "" {
			t.Fatalf("body %q: status=%d error=%q", body, resp.StatusCode, m["error"])
		}
	}
}

func TestConvertRecognizerFailure(t *testing.T) {
	ts := newTestServer(t, &fakeRecognizer{err: errors.New("rate limited")}, nil, Options{})
	resp, m := postConvert(t, ts, mustJSON(t, map[string]string{"image_data": dataURI(transparentPNG(t, 4, 4))}))
	if resp.StatusCode != http.StatusInternalServerError || m["error"] != "rate limited" {
		t.Fatalf("status=%d error=%q", resp.StatusCode, m["error"])
	}
}

func TestConvertUsesCache(t *testing.T) {
	cache, err := storage.OpenCache(filepath.Join(t.TempDir(), "cache.sqlite"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	rec := &fakeRecognizer{latex: `\pi`}
	ts := newTestServer(t, rec, cache, Options{Model: "gpt-4o"})
	body := mustJSON(t, map[string]string{"image_data": dataURI(transparentPNG(t, 6, 6)), "macros": "M"})

	for i := 0; i < 3; i++ {
		resp, m := postConvert(t, ts, body)
		if resp.StatusCode != http.StatusOK || m["latex"] != `\pi` || m["full_latex"] != "M\n\\pi" {
			t.Fatalf("round %d: status=%d body=%v", i, resp.StatusCode, m)
		}
	}
	if rec.calls != 1 {
		t.Fatalf("recognizer called %d times, want 1", rec.calls)
	}
	if n, _ := cache.Len(context.Background()); n != 1 {
		t.Fatalf("cache entries = %d", n)
	}
}

func TestConvertFailureIsNotCached(t *testing.T) {
	cache, err := storage.OpenCache(filepath.Join(t.TempDir(), "cache.sqlite"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	ts := newTestServer(t, &fakeRecognizer{err: errors.New("boom")}, cache, Options{})
	postConvert(t, ts, mustJSON(t, map[string]string{"image_data": dataURI(transparentPNG(t, 4, 4))}))
	if n, _ := cache.Len(context.Background()); n != 0 {
		t.Fatalf("failed recognition was cached")
	}
}

func TestConvertBodyLimit(t *testing.T) {
	ts := newTestServer(t, &fakeRecognizer{}, nil, Options{MaxBodyBytes: 64})
	body := mustJSON(t, map[string]string{"image_data": dataURI(transparentPNG(t, 32, 32))})
	resp, _ := postConvert(t, ts, body)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t, &fakeRecognizer{}, nil, Options{})
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set(headerRequestID, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get(headerRequestID) != "abc-123" {
		t.Fatalf("status=%d id=%q", resp.StatusCode, resp.Header.Get(headerRequestID))
	}
}

func TestConvertRejectsGET(t *testing.T) {
	ts := newTestServer(t, &fakeRecognizer{}, nil, Options{})
	resp, err := http.Get(ts.URL + "/convert")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestNewRequiresRecognizer(t *testing.T) {
	if _, err := New(nil, nil, Options{}); err == nil {
		t.Fatalf("expected error")
	}
}
