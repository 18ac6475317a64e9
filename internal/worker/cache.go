package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"btcalert/internal/storage"
)

// CacheErrorKind classifies asset cache failures.
type CacheErrorKind int

const (
	CacheInstallFailed CacheErrorKind = iota + 1
)

// CacheError is returned by Install. It never affects request interception:
// an empty cache simply passes every request through.
type CacheError struct {
	Kind  CacheErrorKind
	Asset string
	Err   error
}

func (e *CacheError) Error() string {
	if e.Asset != "" {
		return fmt.Sprintf("cache install failed at %s: %v", e.Asset, e.Err)
	}
	return fmt.Sprintf("cache install failed: %v", e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// Is matches any CacheError of the same kind.
func (e *CacheError) Is(target error) bool {
	var other *CacheError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// ErrInstallFailed matches every install failure.
var ErrInstallFailed = &CacheError{Kind: CacheInstallFailed}

// Install reads every shell asset and stores them under the current cache
// name. Either the whole manifest is stored or nothing is.
func (w *Worker) Install(ctx context.Context) error {
	entries := make([]storage.CacheEntry, 0, len(w.opts.ShellAssets))
	now := w.opts.Clock.Now().UTC()
	for _, asset := range w.opts.ShellAssets {
		name := assetFile(asset)
		body, err := fs.ReadFile(w.opts.Assets, name)
		if err != nil {
			return &CacheError{Kind: CacheInstallFailed, Asset: asset, Err: err}
		}
		entries = append(entries, storage.CacheEntry{
			Cache:       w.opts.CacheName,
			Path:        asset,
			Body:        body,
			ContentType: contentType(name, body),
			StoredAt:    now,
		})
	}
	if err := w.opts.Cache.PutEntries(ctx, w.opts.CacheName, entries); err != nil {
		return &CacheError{Kind: CacheInstallFailed, Err: err}
	}
	w.logger.Info().Str("cache", w.opts.CacheName).Int("assets", len(entries)).Msg("shell cached")
	return nil
}

// Activate deletes every cache except the current one and returns the names
// it removed.
func (w *Worker) Activate(ctx context.Context) ([]string, error) {
	names, err := w.opts.Cache.CacheNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	var removed []string
	for _, name := range names {
		if name == w.opts.CacheName {
			continue
		}
		if _, err := w.opts.Cache.DeleteCache(ctx, name); err != nil {
			return removed, fmt.Errorf("delete cache %s: %w", name, err)
		}
		removed = append(removed, name)
		w.logger.Info().Str("cache", name).Msg("old cache evicted")
	}
	return removed, nil
}

// ServeHTTP answers from the cache when the asset is present and otherwise
// passes the request to the origin untouched. Misses are not cached.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		entry, ok, err := w.opts.Cache.MatchEntry(r.Context(), cacheKey(r.URL.Path))
		if err != nil {
			w.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("cache lookup failed")
		}
		if ok {
			rw.Header().Set("Content-Type", entry.ContentType)
			rw.Header().Set("X-Cache", "hit")
			http.ServeContent(rw, r, entry.Path, entry.StoredAt, bytes.NewReader(entry.Body))
			return
		}
	}
	if w.opts.Origin == nil {
		http.NotFound(rw, r)
		return
	}
	w.opts.Origin.ServeHTTP(rw, r)
}

// assetFile maps a manifest entry such as "./main.js" to its file name.
func assetFile(asset string) string {
	name := strings.TrimPrefix(strings.TrimPrefix(asset, "."), "/")
	if name == "" {
		return "index.html"
	}
	return name
}

// cacheKey maps a request path to its manifest form.
func cacheKey(p string) string {
	if p == "" {
		p = "/"
	}
	return "." + p
}

func contentType(name string, body []byte) string {
	switch path.Ext(name) {
	case ".webmanifest":
		return "application/manifest+json"
	case "":
		return http.DetectContentType(body)
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(body)
}
