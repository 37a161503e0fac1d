// Package ledger records completed asset downloads in a SQLite file so a
// re-run can tell a finished file from a stale one.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the ledger's name inside a destination directory.
const FileName = ".planet-fetch.db"

var ErrNotFound = errors.New("ledger: no entry")

// Entry describes one completed download.
type Entry struct {
	ItemID      string
	AssetType   string
	Path        string
	Size        int64
	MD5         string
	CompletedAt time.Time
}

// Ledger is safe for concurrent use.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the ledger at path. ":memory:" gives a private
// in-memory ledger.
func Open(path string) (*Ledger, error) {
	conn := path
	if path == ":memory:" {
		conn = "file::memory:"
	}
	db, err := sql.Open("sqlite", conn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One writer; SQLite serialises anyway and this keeps :memory: coherent.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS downloads (
		item_id TEXT NOT NULL,
		asset_type TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		md5 TEXT NOT NULL DEFAULT '',
		completed_at TEXT NOT NULL,
		PRIMARY KEY (item_id, asset_type)
	);
	`)
	return err
}

// Record stores e, replacing any earlier entry for the same asset.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO downloads (item_id, asset_type, path, size, md5, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, asset_type) DO UPDATE SET
			path = excluded.path,
			size = excluded.size,
			md5 = excluded.md5,
			completed_at = excluded.completed_at
	`, e.ItemID, e.AssetType, e.Path, e.Size, e.MD5, e.CompletedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// Lookup returns the entry for an asset, or ErrNotFound.
func (l *Ledger) Lookup(ctx context.Context, itemID, assetType string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var e Entry
	var completed string
	err := l.db.QueryRowContext(ctx, `
		SELECT item_id, asset_type, path, size, md5, completed_at
		FROM downloads WHERE item_id = ? AND asset_type = ?
	`, itemID, assetType).Scan(&e.ItemID, &e.AssetType, &e.Path, &e.Size, &e.MD5, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, completed); err == nil {
		e.CompletedAt = t
	}
	return &e, nil
}

// Forget drops the entry for an asset. Missing entries are not an error.
func (l *Ledger) Forget(ctx context.Context, itemID, assetType string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx, `DELETE FROM downloads WHERE item_id = ? AND asset_type = ?`, itemID, assetType)
	return err
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
