// Package cache implements the two-tier response cache used by the eBay REST
// client: a bounded in-process LRU in front of an optional shared store.
package cache

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds the memory tier when no size is configured.
const DefaultMaxEntries = 1000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a size-bounded LRU with a TTL per entry. Expired entries
// are dropped lazily on read and by PurgeExpired.
type MemoryCache struct {
	lru *lru.Cache[string, memoryEntry]
	now func() time.Time
}

// NewMemoryCache creates a memory cache holding at most size entries.
func NewMemoryCache(size int, now func() time.Time) (*MemoryCache, error) {
	if size <= 0 {
		size = DefaultMaxEntries
	}
	if now == nil {
		now = time.Now
	}
	l, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}
	return &MemoryCache{lru: l, now: now}, nil
}

// Get returns the live value for key.
func (m *MemoryCache) Get(key string) ([]byte, bool) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expiresAt) {
		m.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value for ttl. A non-positive ttl is ignored.
func (m *MemoryCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.lru.Add(key, memoryEntry{value: value, expiresAt: m.now().Add(ttl)})
}

// Delete removes key and reports whether it was present.
func (m *MemoryCache) Delete(key string) bool {
	return m.lru.Remove(key)
}

// DeletePrefix removes every key starting with prefix.
func (m *MemoryCache) DeletePrefix(prefix string) int {
	n := 0
	for _, key := range m.lru.Keys() {
		if strings.HasPrefix(key, prefix) && m.lru.Remove(key) {
			n++
		}
	}
	return n
}

// PurgeExpired drops expired entries and returns how many were removed.
func (m *MemoryCache) PurgeExpired() int {
	now := m.now()
	n := 0
	for _, key := range m.lru.Keys() {
		e, ok := m.lru.Peek(key)
		if ok && !now.Before(e.expiresAt) && m.lru.Remove(key) {
			n++
		}
	}
	return n
}

// Len returns the number of entries, including expired ones not yet purged.
func (m *MemoryCache) Len() int {
	return m.lru.Len()
}

// Clear removes every entry.
func (m *MemoryCache) Clear() {
	m.lru.Purge()
}
