/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mathsketch/internal/domain"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "cache", "results.sqlite"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheKeyDistinguishesParts(t *testing.T) {
	png := []byte{1, 2, 3}
	base := CacheKey(png, "m", "p", "gpt-4o")
	if base != CacheKey(png, "m", "p", "gpt-4o") {
		t.Fatalf("key is not deterministic")
	}
	others := []string{
		CacheKey([]byte{1, 2, 4}, "m", "p", "gpt-4o"),
		CacheKey(png, "mp", "", "gpt-4o"),
		CacheKey(png, "m", "p", "gpt-4o-mini"),
		CacheKey(png, "", "mp", "gpt-4o"),
	}
	for i, k := range others {
		if k == base {
			t.Fatalf("variant %d collides with base key", i)
		}
	}
	if len(base) != 64 {
		t.Fatalf("expected hex sha256, got %q", base)
	}
}

func TestCacheMissPutHit(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	key := CacheKey([]byte("png"), "macros", "prompt", "gpt-4o")

	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	want := domain.Recognition{Latex: `\alpha`, FullLatex: "macros\n\\alpha"}
	if err := c.Put(ctx, key, "gpt-4o", want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if n, _ := c.Hits(ctx, key); n != 1 {
		t.Fatalf("hits = %d, want 1", n)
	}

	// Replacing keeps a single row.
	want.Latex = `\beta`
	if err := c.Put(ctx, key, "gpt-4o", want); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	if n, _ := c.Len(ctx); n != 1 {
		t.Fatalf("len = %d, want 1", n)
	}
}

func TestCacheReopenKeepsDataAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.sqlite")
	ctx := context.Background()

	c, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	if err := c.Put(ctx, "k", "m", domain.Recognition{Latex: "x", FullLatex: "\nx"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = c.Close()

	c2, err := OpenCache(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()
	if v, err := c2.SchemaVersion(ctx); err != nil || v != schemaVersion {
		t.Fatalf("schema version = %d, %v", v, err)
	}
	if _, ok, _ := c2.Get(ctx, "k"); !ok {
		t.Fatalf("entry lost across reopen")
	}
}

func TestCachePrune(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	if err := c.Put(ctx, "old", "m", domain.Recognition{Latex: "a"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n, err := c.Prune(ctx, time.Hour); err != nil || n != 0 {
		t.Fatalf("prune fresh entries: n=%d err=%v", n, err)
	}
	time.Sleep(5 * time.Millisecond)
	if n, err := c.Prune(ctx, time.Millisecond); err != nil || n != 1 {
		t.Fatalf("prune stale entries: n=%d err=%v", n, err)
	}
	if n, _ := c.Len(ctx); n != 0 {
		t.Fatalf("len after prune = %d", n)
	}
}

func TestOpenCacheRequiresPath(t *testing.T) {
	if _, err := OpenCache("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
