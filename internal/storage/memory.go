package storage

import (
	"context"
	"sort"
	"sync"
)

// Memory keeps everything in process memory. Used by tests and by
// storage.driver=memory.
type Memory struct {
	mu       sync.RWMutex
	settings map[string]string
	caches   map[string][]CacheEntry
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		settings: make(map[string]string),
		caches:   make(map[string][]CacheEntry),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *Memory) SetMany(ctx context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.settings[k] = v
	}
	return nil
}

func (m *Memory) PutEntries(ctx context.Context, cache string, entries []CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.caches[cache]
	for _, entry := range entries {
		entry.Cache = cache
		replaced := false
		for i := range existing {
			if existing[i].Path == entry.Path {
				existing[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, entry)
		}
	}
	m.caches[cache] = existing
	return nil
}

func (m *Memory) MatchEntry(ctx context.Context, path string) (CacheEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range m.sortedNames() {
		for _, entry := range m.caches[name] {
			if entry.Path == path {
				return entry, true, nil
			}
		}
	}
	return CacheEntry{}, false, nil
}

func (m *Memory) ListEntries(ctx context.Context, cache string) ([]CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CacheEntry, len(m.caches[cache]))
	copy(out, m.caches[cache])
	return out, nil
}

func (m *Memory) CacheNames(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedNames(), nil
}

func (m *Memory) DeleteCache(ctx context.Context, cache string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.caches[cache]
	delete(m.caches, cache)
	return ok, nil
}

func (m *Memory) sortedNames() []string {
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ Backend = (*Memory)(nil)
