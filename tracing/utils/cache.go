package utils

import (
	"sync"
	"time"
)

// SafeCache provides thread-safe caching with TTL support
type SafeCache[K comparable, V any] struct {
	mu    sync.RWMutex
	cache map[K]*CacheEntry[V]
	ttl   time.Duration
}

// CacheEntry represents a cache entry with expiration
type CacheEntry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// NewSafeCache creates a new thread-safe cache
func NewSafeCache[K comparable, V any](ttl time.Duration) *SafeCache[K, V] {
	return &SafeCache[K, V]{
		cache: make(map[K]*CacheEntry[V]),
		ttl:   ttl,
	}
}

// Get retrieves a value from cache
func (sc *SafeCache[K, V]) Get(key K) (V, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	var zero V
	entry, exists := sc.cache[key]
	if !exists {
		return zero, false
	}
	// Expired entries are left for CleanExpired to avoid a lock upgrade here.
	if time.Now().After(entry.ExpiresAt) {
		return zero, false
	}
	return entry.Value, true
}

// GetOrLoad returns the cached value or loads and stores it. Concurrent misses may load twice.
func (sc *SafeCache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := sc.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	sc.Set(key, v)
	return v, nil
}

// Set stores a value in cache
func (sc *SafeCache[K, V]) Set(key K, value V) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.cache[key] = &CacheEntry[V]{
		Value:     value,
		ExpiresAt: time.Now().Add(sc.ttl),
	}
}

// Delete removes a value from cache
func (sc *SafeCache[K, V]) Delete(key K) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	delete(sc.cache, key)
}

// CleanExpired removes expired entries
func (sc *SafeCache[K, V]) CleanExpired() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	now := time.Now()
	for key, entry := range sc.cache {
		if now.After(entry.ExpiresAt) {
			delete(sc.cache, key)
		}
	}
}

// Size returns the number of entries in cache
func (sc *SafeCache[K, V]) Size() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	return len(sc.cache)
}
