package payloadlog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/velesdb/velesdb/internal/verror"
)

// Catalog is an optional, queryable view over a Store's snapshot metadata,
// backed by SQLite. It exists purely for operator tooling (velesctl
// inspect): the live read/write path never touches it, so a missing or
// stale catalog never affects Store correctness. Mirrors the teacher's
// SQLiteStore.Init DSN-pragma discipline (WAL journal, bounded busy
// timeout) without adopting SQLite as a primary index, which spec §4.5
// rules out for in-process structured indexes.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens (creating if necessary) a SQLite catalog database
// alongside a collection's payload directory.
func OpenCatalog(dir string) (*Catalog, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000",
		filepath.Join(dir, "catalog.sqlite"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, verror.Wrap("payloadlog.OpenCatalog", verror.KindIO, err)
	}
	db.SetMaxOpenConns(1) // single writer: the catalog is rebuilt wholesale on Refresh, never incrementally locked
	db.SetConnMaxLifetime(2 * time.Hour)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS points (
			id         INTEGER PRIMARY KEY,
			offset     INTEGER NOT NULL,
			length     INTEGER NOT NULL,
			indexed_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS catalog_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, verror.Wrap("payloadlog.OpenCatalog", verror.KindIO, err)
	}
	return &Catalog{db: db}, nil
}

// Refresh rebuilds the catalog's points table from a Store's live index.
// It is a point-in-time snapshot, not a replicated index: callers that
// need up-to-date introspection call Refresh before querying.
func (c *Catalog) Refresh(ctx context.Context, s *Store) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return verror.Wrap("payloadlog.Refresh", verror.KindIO, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM points`); err != nil {
		return verror.Wrap("payloadlog.Refresh", verror.KindIO, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO points (id, offset, length) VALUES (?, ?, ?)`)
	if err != nil {
		return verror.Wrap("payloadlog.Refresh", verror.KindIO, err)
	}
	defer stmt.Close()

	s.mu.RLock()
	entries := make(map[uint64]entry, len(s.idx))
	for id, e := range s.idx {
		entries[id] = e
	}
	s.mu.RUnlock()

	for id, e := range entries {
		if _, err := stmt.ExecContext(ctx, id, e.offset, e.length); err != nil {
			return verror.Wrap("payloadlog.Refresh", verror.KindIO, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO catalog_meta (key, value) VALUES ('point_count', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, fmt.Sprint(len(entries))); err != nil {
		return verror.Wrap("payloadlog.Refresh", verror.KindIO, err)
	}
	return tx.Commit()
}

// PointCount returns the number of points recorded as of the last Refresh.
func (c *Catalog) PointCount(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points`).Scan(&n)
	if err != nil {
		return 0, verror.Wrap("payloadlog.PointCount", verror.KindIO, err)
	}
	return n, nil
}

// Largest returns the n ids with the largest stored payload length, as of
// the last Refresh.
func (c *Catalog) Largest(ctx context.Context, n int) ([]uint64, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id FROM points ORDER BY length DESC LIMIT ?`, n)
	if err != nil {
		return nil, verror.Wrap("payloadlog.Largest", verror.KindIO, err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, verror.Wrap("payloadlog.Largest", verror.KindIO, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the catalog's database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}
