// SPDX-License-Identifier: MIT

// Package manifest records completed downloads so interrupted runs can resume.
package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Store provides SQLite persistence for the download manifest.
type Store struct {
	db *sql.DB
}

// Open initializes the manifest store at dbPath, creating parent directories
// and the schema as needed. busy_timeout avoids "database locked" errors when
// several workers mark files concurrently.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open manifest database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping manifest database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run manifest migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS completed_files (
		session TEXT NOT NULL,
		scan TEXT NOT NULL,
		name TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		digest TEXT NOT NULL DEFAULT '',
		downloaded_at TEXT NOT NULL,
		PRIMARY KEY (session, scan, name)
	);

	CREATE INDEX IF NOT EXISTS idx_completed_files_session ON completed_files(session);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Entry is one completed file.
type Entry struct {
	Session      string
	Scan         string
	Name         string
	Size         int64
	Digest       string
	DownloadedAt time.Time
}

// MarkComplete upserts a completed file. A re-download replaces the old row.
func (s *Store) MarkComplete(ctx context.Context, e Entry) error {
	if e.DownloadedAt.IsZero() {
		e.DownloadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO completed_files (session, scan, name, size_bytes, digest, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, scan, name) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			digest = excluded.digest,
			downloaded_at = excluded.downloaded_at`,
		e.Session, e.Scan, e.Name, e.Size, e.Digest, e.DownloadedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("mark complete %s/%s/%s: %w", e.Session, e.Scan, e.Name, err)
	}
	return nil
}

// IsComplete reports whether the file was already downloaded with this size.
// A size mismatch means the archive changed and the file must be fetched again.
func (s *Store) IsComplete(ctx context.Context, session, scan, name string, size int64) (bool, error) {
	var stored int64
	err := s.db.QueryRowContext(ctx,
		`SELECT size_bytes FROM completed_files WHERE session = ? AND scan = ? AND name = ?`,
		session, scan, name).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query manifest for %s/%s/%s: %w", session, scan, name, err)
	}
	return stored == size, nil
}

// SessionSummary returns how many files and bytes the manifest records for a session.
func (s *Store) SessionSummary(ctx context.Context, session string) (files int, bytes int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM completed_files WHERE session = ?`,
		session).Scan(&files, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("summarise session %s: %w", session, err)
	}
	return files, bytes, nil
}
