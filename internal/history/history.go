// Package history persists surfaced scan results in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/scancam/scancam/internal/vision"
)

// Entry is one recorded scan.
type Entry struct {
	ID         string
	Payload    string
	Symbology  vision.Symbology
	Confidence float64
	ScannedAt  time.Time
}

// Store is an append-mostly scan log. Consecutive re-reads of the same
// barcode are collapsed into the first entry.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	id         TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	symbology  TEXT NOT NULL,
	confidence REAL NOT NULL,
	scanned_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS scans_scanned_at ON scans (scanned_at DESC);
`

// ResolvePath selects the history database location: explicit config value,
// then XDG_DATA_HOME, then ~/.local/share.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "scancam", "history.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for history fallback")
	}
	return filepath.Join(home, ".local", "share", "scancam", "history.db"), nil
}

// Open creates or opens the scan history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db %q: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one scan. A scan identical to the latest stored entry
// (same payload and symbology) is skipped and reported as not recorded.
func (s *Store) Record(ctx context.Context, payload string, symbology vision.Symbology, confidence float64, scannedAt time.Time) (bool, error) {
	if payload == "" {
		return false, nil
	}

	var lastPayload, lastSymbology string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, symbology FROM scans ORDER BY scanned_at DESC, id LIMIT 1`,
	).Scan(&lastPayload, &lastSymbology)
	switch {
	case err == nil:
		if lastPayload == payload && lastSymbology == string(symbology) {
			return false, nil
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return false, fmt.Errorf("read latest scan: %w", err)
	}

	if scannedAt.IsZero() {
		scannedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scans (id, payload, symbology, confidence, scanned_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), payload, string(symbology), confidence, scannedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("insert scan: %w", err)
	}
	return true, nil
}

// Recent returns up to limit scans, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, symbology, confidence, scanned_at FROM scans ORDER BY scanned_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent scans: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var symbology string
		var scannedAt int64
		if err := rows.Scan(&entry.ID, &entry.Payload, &symbology, &entry.Confidence, &scannedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entry.Symbology = vision.Symbology(symbology)
		entry.ScannedAt = time.UnixMilli(scannedAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return entries, nil
}
