package services

import (
	"sync"
	"time"
)

type cacheItem[V any] struct {
	value   V
	expires time.Time
}

// CacheService is a TTL cache shared by the geocoder and the preview path.
type CacheService[V any] struct {
	cache           map[string]cacheItem[V]
	mu              sync.RWMutex
	ttl             time.Duration
	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

func NewCacheService[V any](ttl, cleanupInterval time.Duration) *CacheService[V] {
	cs := &CacheService[V]{
		cache:           make(map[string]cacheItem[V]),
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		done:            make(chan struct{}),
	}

	// Start cleanup goroutine
	if cleanupInterval > 0 {
		go cs.cleanupExpired()
	}

	return cs
}

// Retrieves a cache entry by key, returning false if not found or expired.
func (cs *CacheService[V]) Get(key string) (V, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	entry, ok := cs.cache[key]
	if !ok || entry.expires.Before(time.Now()) {
		var zero V
		return zero, false
	}

	return entry.value, true
}

// Stores a value that expires after the configured TTL.
func (cs *CacheService[V]) Set(key string, value V) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.cache[key] = cacheItem[V]{value: value, expires: time.Now().Add(cs.ttl)}
}

func (cs *CacheService[V]) Delete(key string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	delete(cs.cache, key)
}

func (cs *CacheService[V]) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return len(cs.cache)
}

// Close stops the cleanup goroutine.
func (cs *CacheService[V]) Close() {
	cs.closeOnce.Do(func() { close(cs.done) })
}

// Periodically removes expired entries from the cache.
// This runs in a background goroutine started by NewCacheService.
func (cs *CacheService[V]) cleanupExpired() {
	ticker := time.NewTicker(cs.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.done:
			return
		case <-ticker.C:
			cs.purge(time.Now())
		}
	}
}

func (cs *CacheService[V]) purge(now time.Time) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for k, v := range cs.cache {
		if v.expires.Before(now) {
			delete(cs.cache, k)
		}
	}
}
