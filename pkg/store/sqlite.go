// Copyright 2026 Socratic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/socratic-labs/socbench/internal/sqlitedriver"
)

// SQLiteConfig configures the sqlite kv backend.
type SQLiteConfig struct {
	// Path is the database file path, or ":memory:" for tests.
	Path string
	// EncryptionKey enables SQLCipher encryption when the build supports
	// it. Ignored for in-memory databases.
	EncryptionKey string
}

// SQLiteKV implements KV on a single sqlite table.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV opens (creating if needed) the kv database at cfg.Path.
func NewSQLiteKV(cfg SQLiteConfig) (*SQLiteKV, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := cfg.Path
	if cfg.EncryptionKey != "" && cfg.Path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma_key=%s&_pragma_cipher_page_size=4096",
			cfg.Path, url.QueryEscape(cfg.EncryptionKey))
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; WAL keeps readers unblocked during OCC retries.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	s := &SQLiteKV{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteKV) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_items (
		pk TEXT NOT NULL,
		sk TEXT NOT NULL,
		body BLOB NOT NULL,
		version INTEGER NOT NULL,
		model_id TEXT NOT NULL DEFAULT '',
		manifest_id TEXT NOT NULL DEFAULT '',
		week TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (pk, sk)
	);
	CREATE INDEX IF NOT EXISTS idx_kv_manifest ON kv_items(manifest_id, sk);
	CREATE INDEX IF NOT EXISTS idx_kv_model ON kv_items(model_id, sk);
	CREATE INDEX IF NOT EXISTS idx_kv_week_model ON kv_items(week, model_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Put writes item unconditionally, bumping the version on replace.
func (s *SQLiteKV) Put(ctx context.Context, item Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_items (pk, sk, body, version, model_id, manifest_id, week, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(pk, sk) DO UPDATE SET
			body = excluded.body,
			version = kv_items.version + 1,
			model_id = excluded.model_id,
			manifest_id = excluded.manifest_id,
			week = excluded.week,
			updated_at = excluded.updated_at`,
		item.Partition, item.Sort, item.Body,
		item.ModelID, item.ManifestID, item.Week, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// PutIfAbsent creates item only if its key is free.
func (s *SQLiteKV) PutIfAbsent(ctx context.Context, item Item) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_items (pk, sk, body, version, model_id, manifest_id, week, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(pk, sk) DO NOTHING`,
		item.Partition, item.Sort, item.Body,
		item.ModelID, item.ManifestID, item.Week, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrConditionFailed
	}
	return nil
}

// Get returns the item at (partition, sort).
func (s *SQLiteKV) Get(ctx context.Context, partition, sort string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pk, sk, body, version, model_id, manifest_id, week, updated_at
		FROM kv_items WHERE pk = ? AND sk = ?`, partition, sort)
	return scanItem(row)
}

// UpdateIfVersion performs the optimistic-concurrency write.
func (s *SQLiteKV) UpdateIfVersion(ctx context.Context, item Item, expected int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE kv_items SET
			body = ?,
			version = version + 1,
			model_id = ?,
			manifest_id = ?,
			week = ?,
			updated_at = ?
		WHERE pk = ? AND sk = ? AND version = ?`,
		item.Body, item.ModelID, item.ManifestID, item.Week, time.Now().UnixMilli(),
		item.Partition, item.Sort, expected)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrConditionFailed
	}
	return nil
}

// QueryPrefix returns partition items whose sort key starts with sortPrefix.
func (s *SQLiteKV) QueryPrefix(ctx context.Context, partition, sortPrefix string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pk, sk, body, version, model_id, manifest_id, week, updated_at
		FROM kv_items WHERE pk = ? AND sk LIKE ? ORDER BY sk`,
		partition, sortPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// QueryByManifest returns items for a manifest via the manifest index.
func (s *SQLiteKV) QueryByManifest(ctx context.Context, manifestID, sortPrefix string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pk, sk, body, version, model_id, manifest_id, week, updated_at
		FROM kv_items WHERE manifest_id = ? AND sk LIKE ? ORDER BY pk, sk`,
		manifestID, sortPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// QueryByWeek returns items for a week label via the week index.
func (s *SQLiteKV) QueryByWeek(ctx context.Context, week, sortPrefix string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pk, sk, body, version, model_id, manifest_id, week, updated_at
		FROM kv_items WHERE week = ? AND sk LIKE ? ORDER BY pk, sk`,
		week, sortPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// Close closes the database.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var updatedAt int64
	err := row.Scan(&item.Partition, &item.Sort, &item.Body, &item.Version,
		&item.ModelID, &item.ManifestID, &item.Week, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}
	item.UpdatedAt = time.UnixMilli(updatedAt)
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

var _ KV = (*SQLiteKV)(nil)
