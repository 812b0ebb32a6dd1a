/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package crash turns a panic into a crash report plus a dump of the drawing.
package crash

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"mathsketch/internal/domain"
	applog "mathsketch/internal/log"
	"mathsketch/internal/render"
	"mathsketch/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

const stampLayout = "20060102-150405.000"

// StrokeSource exposes the committed drawing. *board.Board implements it.
type StrokeSource interface {
	Committed() []domain.Stroke
}

// sizedSource is a StrokeSource that also knows its canvas, so the drawing can
// be saved as a picture too.
type sizedSource interface {
	StrokeSource
	Size() (int, int)
	Background() domain.Color
}

// Recover captures a panic, logs it with a stacktrace, writes a crash report
// into dir (os.TempDir() when empty) and, if src is non-nil, dumps the
// committed strokes next to it as JSON so the drawing is not lost. Sources
// that know their canvas size also get a PNG of the drawing.
//
// Usage: defer crash.Recover(dir, board)
func Recover(dir string, src StrokeSource) {
	r := recover()
	if r == nil {
		return
	}
	l := applog.WithComponent("crash")
	stack := debug.Stack()
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

	if dir == "" {
		dir = os.TempDir()
	}
	stamp := time.Now().Format(stampLayout)
	reportPath, err := writeReport(dir, stamp, r, stack)
	if err != nil {
		l.Error("write crash report failed", slog.Any("err", err))
	}
	if src != nil {
		if path, err := dumpStrokes(dir, stamp, src); err != nil {
			l.Error("stroke dump failed", slog.Any("err", err))
		} else {
			l.Info("stroke dump written", slog.String("path", path))
		}
		if ss, ok := src.(sizedSource); ok {
			if path, err := dumpImage(dir, stamp, ss); err != nil {
				l.Error("drawing dump failed", slog.Any("err", err))
			} else {
				l.Info("drawing dump written", slog.String("path", path))
			}
		}
	}

	if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
		l.Error("failed to write crash message to stderr", slog.Any("err", err))
	}
	if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
		l.Error("failed to write version info to stderr", slog.Any("err", err))
	}
	exitFn(2)
}

func writeReport(dir, stamp string, panicVal any, stack []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", stamp))

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "mathsketch crash report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return path, err
	}
	return path, nil
}

// dumpStrokes recovers from a second panic so a broken source cannot hide the report.
func dumpStrokes(dir, stamp string, src StrokeSource) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read strokes: %v", r)
		}
	}()
	b, err := json.MarshalIndent(src.Committed(), "", "  ")
	if err != nil {
		return "", err
	}
	path = filepath.Join(dir, fmt.Sprintf("crash-%s-strokes.json", stamp))
	return path, os.WriteFile(path, b, 0o644)
}

func dumpImage(dir, stamp string, src sizedSource) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render drawing: %v", r)
		}
	}()
	w, h := src.Size()
	img, err := render.Rasterize(src.Committed(), w, h, src.Background())
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	path = filepath.Join(dir, fmt.Sprintf("crash-%s-drawing.png", stamp))
	return path, os.WriteFile(path, buf.Bytes(), 0o644)
}
