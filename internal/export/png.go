/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export writes the drawing to files: a raster PNG of the surface and
// a vector PDF of the committed strokes.
package export

import (
	"fmt"
	"os"
	"path/filepath"
)

// Snapshotter is anything that can encode its current surface as PNG.
// *board.Board and *render.Surface both qualify.
type Snapshotter interface {
	Snapshot() ([]byte, error)
}

// ExportPNG writes src's current snapshot to path, creating parent directories.
// The file is written next to path first and renamed into place.
func ExportPNG(path string, src Snapshotter) error {
	if src == nil {
		return fmt.Errorf("nothing to export")
	}
	data, err := src.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".export-*.png")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close png: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename png: %w", err)
	}
	return nil
}
