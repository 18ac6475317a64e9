package storage

import (
	"context"
	"time"
)

// Persisted keys. Values are string-serialised numbers.
const (
	KeyBelow      = "btc_below"
	KeyAbove      = "btc_above"
	KeyLastPrice  = "btc_last_price"
	KeyLastTS     = "btc_last_ts"
	KeyPermission = "notification_permission"
)

// CacheEntry is one cached shell asset.
type CacheEntry struct {
	Cache       string
	Path        string
	Body        []byte
	ContentType string
	StoredAt    time.Time
}

// KV is durable key/value storage scoped to the app.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// SetMany writes every pair or none of them.
	SetMany(ctx context.Context, values map[string]string) error
}

// CacheStore persists named asset caches for the background worker.
type CacheStore interface {
	// PutEntries stores every entry under cache, or nothing on error.
	PutEntries(ctx context.Context, cache string, entries []CacheEntry) error
	// MatchEntry searches all caches, oldest cache name first.
	MatchEntry(ctx context.Context, path string) (CacheEntry, bool, error)
	ListEntries(ctx context.Context, cache string) ([]CacheEntry, error)
	CacheNames(ctx context.Context) ([]string, error)
	DeleteCache(ctx context.Context, cache string) (bool, error)
}

// Backend is what a storage driver provides.
type Backend interface {
	KV
	CacheStore
	Close() error
}
