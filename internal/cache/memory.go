package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	tags    []string
	expires time.Time
}

// MemoryBackend keeps entries in process
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	byTag   map[string]map[string]struct{}
	now     func() time.Time
}

// NewMemoryBackend creates an empty in-process backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		byTag:   make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// Get returns the stored value for key
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.deleteLocked(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key and indexes it by tags
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, tags []string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteLocked(key)
	e := memoryEntry{value: value, tags: tags}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	for _, tag := range tags {
		set, ok := m.byTag[tag]
		if !ok {
			set = make(map[string]struct{})
			m.byTag[tag] = set
		}
		set[key] = struct{}{}
	}
	return nil
}

// InvalidateTags removes every entry carrying any of tags
func (m *MemoryBackend) InvalidateTags(_ context.Context, tags ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, tag := range tags {
		for key := range m.byTag[tag] {
			if _, ok := m.entries[key]; ok {
				m.deleteLocked(key)
				removed++
			}
		}
		delete(m.byTag, tag)
	}
	return removed, nil
}

// Close is a no-op
func (m *MemoryBackend) Close() error { return nil }

func (m *MemoryBackend) deleteLocked(key string) {
	e, ok := m.entries[key]
	if !ok {
		return
	}
	delete(m.entries, key)
	for _, tag := range e.tags {
		if set, ok := m.byTag[tag]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(m.byTag, tag)
			}
		}
	}
}
