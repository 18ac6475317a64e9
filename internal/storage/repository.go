package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	pgSchemaSQL = `
    CREATE TABLE IF NOT EXISTS app_settings (
        key        TEXT PRIMARY KEY,
        value      TEXT NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS asset_cache (
        cache_name   TEXT NOT NULL,
        path         TEXT NOT NULL,
        seq          INTEGER NOT NULL,
        body         BYTEA NOT NULL,
        content_type TEXT NOT NULL,
        stored_at    TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (cache_name, path)
    );`

	pgGetSettingSQL = `SELECT value FROM app_settings WHERE key = $1;`

	pgUpsertSettingSQL = `INSERT INTO app_settings (key, value, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (key) DO UPDATE
    SET value = EXCLUDED.value,
        updated_at = EXCLUDED.updated_at;`

	pgUpsertEntrySQL = `INSERT INTO asset_cache (cache_name, path, seq, body, content_type, stored_at)
    VALUES ($1, $2, $3, $4, $5, $6)
    ON CONFLICT (cache_name, path) DO UPDATE
    SET seq          = EXCLUDED.seq,
        body         = EXCLUDED.body,
        content_type = EXCLUDED.content_type,
        stored_at    = EXCLUDED.stored_at;`

	pgMatchEntrySQL = `SELECT cache_name, path, body, content_type, stored_at
    FROM asset_cache
    WHERE path = $1
    ORDER BY cache_name
    LIMIT 1;`

	pgListEntriesSQL = `SELECT cache_name, path, body, content_type, stored_at
    FROM asset_cache
    WHERE cache_name = $1
    ORDER BY seq;`

	pgCacheNamesSQL  = `SELECT DISTINCT cache_name FROM asset_cache ORDER BY cache_name;`
	pgDeleteCacheSQL = `DELETE FROM asset_cache WHERE cache_name = $1;`
)

// Postgres stores settings and caches in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a Postgres backend.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate creates the tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgSchemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Get returns a setting value.
func (s *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", false, err
	}

	var value string
	if err := pool.QueryRow(ctx, pgGetSettingSQL, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetMany writes all pairs in one transaction.
func (s *Postgres) SetMany(ctx context.Context, values map[string]string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for key, value := range values {
			if _, err := tx.Exec(ctx, pgUpsertSettingSQL, key, value); err != nil {
				return fmt.Errorf("set setting %s: %w", key, err)
			}
		}
		return nil
	})
}

// PutEntries stores the entries under cache in one transaction.
func (s *Postgres) PutEntries(ctx context.Context, cache string, entries []CacheEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i, entry := range entries {
			if _, err := tx.Exec(ctx, pgUpsertEntrySQL, cache, entry.Path, i, entry.Body, entry.ContentType, entry.StoredAt.UTC()); err != nil {
				return fmt.Errorf("put cache entry %s: %w", entry.Path, err)
			}
		}
		return nil
	})
}

// MatchEntry looks path up across all caches.
func (s *Postgres) MatchEntry(ctx context.Context, path string) (CacheEntry, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return CacheEntry{}, false, err
	}

	var entry CacheEntry
	err = pool.QueryRow(ctx, pgMatchEntrySQL, path).Scan(&entry.Cache, &entry.Path, &entry.Body, &entry.ContentType, &entry.StoredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CacheEntry{}, false, nil
		}
		return CacheEntry{}, false, fmt.Errorf("match cache entry: %w", err)
	}
	return entry, true, nil
}

// ListEntries returns a cache's entries in manifest order.
func (s *Postgres) ListEntries(ctx context.Context, cache string) ([]CacheEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, pgListEntriesSQL, cache)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []CacheEntry
	for rows.Next() {
		var entry CacheEntry
		if err := rows.Scan(&entry.Cache, &entry.Path, &entry.Body, &entry.ContentType, &entry.StoredAt); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CacheNames lists every stored cache.
func (s *Postgres) CacheNames(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, pgCacheNamesSQL)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect caches: %w", err)
	}
	return names, nil
}

// DeleteCache drops every entry of cache.
func (s *Postgres) DeleteCache(ctx context.Context, cache string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tag, err := pool.Exec(ctx, pgDeleteCacheSQL, cache)
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", cache, err)
	}
	return tag.RowsAffected() > 0, nil
}

var _ Backend = (*Postgres)(nil)
