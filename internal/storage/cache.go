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
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mathsketch/internal/domain"
	applog "mathsketch/internal/log"
	"mathsketch/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

// schemaVersion tracks the cache schema. Bump it and add a migration step on change.
const schemaVersion = 2

// tsLayout is fixed-width so stored timestamps sort lexicographically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Cache stores recognition results keyed by CacheKey.
// It is safe for concurrent use; database/sql serializes access.
type Cache struct {
	db   *sql.DB
	path string
	log  *slog.Logger
}

// CacheKey derives the lookup key for one recognition request. Each part is
// length-prefixed so that different splits of the same bytes never collide.
func CacheKey(png []byte, macros, prompt, model string) string {
	h := sha256.New()
	var n [8]byte
	for _, part := range [][]byte{png, []byte(macros), []byte(prompt), []byte(model)} {
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// OpenCache creates or opens the cache database at path, enables WAL mode and
// brings the schema up to date.
func OpenCache(path string) (*Cache, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "cache_open").With(slog.String("path", path))
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureVersion(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure version failed", slog.Any("err", err))
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		l.Error("migrate failed", slog.Any("err", err))
		return nil, err
	}
	l.Info("cache ready")
	return &Cache{db: db, path: path, log: applog.WithComponent("storage")}, nil
}

func ensureVersion(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS version (
		id         INTEGER PRIMARY KEY CHECK(id=1),
		schema     INTEGER NOT NULL,
		app        TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	var cur int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Fresh database: start at 0 so every migration runs.
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, 0, ?, ?, ?)`,
			version.String(), now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, version.String(), now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

var migrations = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS results (
			key        TEXT PRIMARY KEY,
			model      TEXT NOT NULL,
			latex      TEXT NOT NULL,
			full_latex TEXT NOT NULL,
			created_at TEXT NOT NULL,
			hits       INTEGER NOT NULL DEFAULT 0
		);`,
	},
	2: {
		`CREATE INDEX IF NOT EXISTS idx_results_created ON results(created_at);`,
	},
}

// migrate applies schema steps up to schemaVersion, one transaction per step.
// A database newer than this binary is left alone.
func migrate(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for next := cur + 1; next <= schemaVersion; next++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range migrations[next] {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`,
			next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
	}
	return nil
}

// SchemaVersion reports the schema version recorded in the database.
func (c *Cache) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := c.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&v)
	return v, err
}

// Get looks up a stored result and bumps its hit counter.
func (c *Cache) Get(ctx context.Context, key string) (domain.Recognition, bool, error) {
	var r domain.Recognition
	err := c.db.QueryRowContext(ctx, `SELECT latex, full_latex FROM results WHERE key=?`, key).Scan(&r.Latex, &r.FullLatex)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Recognition{}, false, nil
	}
	if err != nil {
		return domain.Recognition{}, false, fmt.Errorf("cache get: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, `UPDATE results SET hits = hits + 1 WHERE key=?`, key); err != nil {
		c.log.Warn("cache hit counter update failed", slog.Any("err", err))
	}
	return r, true, nil
}

// Put stores or replaces a result.
func (c *Cache) Put(ctx context.Context, key, model string, r domain.Recognition) error {
	_, err := c.db.ExecContext(ctx, `INSERT INTO results (key, model, latex, full_latex, created_at) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET model=excluded.model, latex=excluded.latex, full_latex=excluded.full_latex, created_at=excluded.created_at`,
		key, model, r.Latex, r.FullLatex, time.Now().UTC().Format(tsLayout))
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Hits returns how often key has been served from the cache.
func (c *Cache) Hits(ctx context.Context, key string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT hits FROM results WHERE key=?`, key).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// Len returns the number of stored results.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&n)
	return n, err
}

// Prune deletes results created before now-maxAge and returns how many were removed.
func (c *Cache) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(tsLayout)
	res, err := c.db.ExecContext(ctx, `DELETE FROM results WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	return res.RowsAffected()
}

func (c *Cache) Path() string { return c.path }

func (c *Cache) Close() error { return c.db.Close() }
