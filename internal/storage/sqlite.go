package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS app_settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS asset_cache (
    cache_name   TEXT NOT NULL,
    path         TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    body         BLOB NOT NULL,
    content_type TEXT NOT NULL,
    stored_at    INTEGER NOT NULL,
    PRIMARY KEY (cache_name, path)
);`

// SQLite is the default single-file backend.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) btcalert.db in dataDir. Pass ":memory:" for
// an in-memory database.
func OpenSQLite(dataDir string) (*SQLite, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "btcalert.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: page and worker share this handle, and an in-memory
	// database only exists on its own connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting journal mode: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Get returns a setting value.
func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM app_settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetMany writes all pairs in one transaction.
func (s *SQLite) SetMany(ctx context.Context, values map[string]string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for key, value := range values {
			if _, err := tx.ExecContext(ctx, `INSERT INTO app_settings (key, value, updated_at)
				VALUES (?, ?, CURRENT_TIMESTAMP)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				key, value); err != nil {
				return fmt.Errorf("set setting %s: %w", key, err)
			}
		}
		return nil
	})
}

// PutEntries stores the entries under cache in one transaction.
func (s *SQLite) PutEntries(ctx context.Context, cache string, entries []CacheEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i, entry := range entries {
			if _, err := tx.ExecContext(ctx, `INSERT INTO asset_cache (cache_name, path, seq, body, content_type, stored_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(cache_name, path) DO UPDATE SET
					seq = excluded.seq, body = excluded.body,
					content_type = excluded.content_type, stored_at = excluded.stored_at`,
				cache, entry.Path, i, entry.Body, entry.ContentType, entry.StoredAt.UnixMilli()); err != nil {
				return fmt.Errorf("put cache entry %s: %w", entry.Path, err)
			}
		}
		return nil
	})
}

// MatchEntry looks path up across all caches.
func (s *SQLite) MatchEntry(ctx context.Context, path string) (CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT cache_name, path, body, content_type, stored_at
		FROM asset_cache WHERE path = ? ORDER BY cache_name LIMIT 1`, path)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("match cache entry: %w", err)
	}
	return entry, true, nil
}

// ListEntries returns a cache's entries in manifest order.
func (s *SQLite) ListEntries(ctx context.Context, cache string) ([]CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cache_name, path, body, content_type, stored_at
		FROM asset_cache WHERE cache_name = ? ORDER BY seq`, cache)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CacheNames lists every stored cache.
func (s *SQLite) CacheNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT cache_name FROM asset_cache ORDER BY cache_name")
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteCache drops every entry of cache.
func (s *SQLite) DeleteCache(ctx context.Context, cache string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM asset_cache WHERE cache_name = ?", cache)
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", cache, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (CacheEntry, error) {
	var (
		entry    CacheEntry
		storedMs int64
	)
	if err := row.Scan(&entry.Cache, &entry.Path, &entry.Body, &entry.ContentType, &storedMs); err != nil {
		return CacheEntry{}, err
	}
	entry.StoredAt = time.UnixMilli(storedMs).UTC()
	return entry, nil
}

var _ Backend = (*SQLite)(nil)
