package blobstore

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// CachedStore decorates a Store with a read-through LRU cache. Object keys
// are content-addressed and therefore immutable, which makes caching safe;
// mutable keys (refs, index, config) are invalidated on every write through
// this decorator. Concurrent misses for the same key are collapsed into a
// single underlying read.
type CachedStore struct {
	inner Store
	cache *lruCache
	group singleflight.Group
}

// NewCachedStore wraps inner with an LRU of maxEntries values.
func NewCachedStore(inner Store, maxEntries int) *CachedStore {
	return &CachedStore{
		inner: inner,
		cache: newLRUCache(maxEntries),
	}
}

// Get returns the cached value when present, otherwise reads through.
// ErrKeyNotFound results are not cached: the key may be written later.
func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if value, ok := s.cache.get(key); ok {
		return value, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		value, err := s.inner.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		s.cache.put(key, value)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Set writes through and updates the cache.
func (s *CachedStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.inner.Set(ctx, key, value); err != nil {
		return err
	}
	s.cache.put(key, value)
	return nil
}

// Delete writes through and invalidates the cache entry.
func (s *CachedStore) Delete(ctx context.Context, key string) error {
	if err := s.inner.Delete(ctx, key); err != nil {
		return err
	}
	s.cache.remove(key)
	return nil
}

// Exists answers from the cache when possible.
func (s *CachedStore) Exists(ctx context.Context, key string) (bool, error) {
	if _, ok := s.cache.get(key); ok {
		return true, nil
	}
	return s.inner.Exists(ctx, key)
}

// List always consults the underlying store; the cache holds no key order.
func (s *CachedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// GetBatch serves cached keys locally and fetches the rest in one call.
func (s *CachedStore) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	missing := make([]string, 0, len(keys))
	for _, key := range keys {
		if value, ok := s.cache.get(key); ok {
			result[key] = value
		} else {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		fetched, err := s.inner.GetBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for key, value := range fetched {
			s.cache.put(key, value)
			result[key] = value
		}
	}
	return result, nil
}

// SetBatch writes through and updates the cache.
func (s *CachedStore) SetBatch(ctx context.Context, entries map[string][]byte) error {
	if err := s.inner.SetBatch(ctx, entries); err != nil {
		return err
	}
	for key, value := range entries {
		s.cache.put(key, value)
	}
	return nil
}

// DeleteBatch writes through and invalidates cache entries.
func (s *CachedStore) DeleteBatch(ctx context.Context, keys []string) error {
	if err := s.inner.DeleteBatch(ctx, keys); err != nil {
		return err
	}
	for _, key := range keys {
		s.cache.remove(key)
	}
	return nil
}

// Quota reports the underlying store's quota.
func (s *CachedStore) Quota(ctx context.Context) (QuotaInfo, error) {
	return s.inner.Quota(ctx)
}

// Invalidate drops every cached entry. Callers use this after learning the
// backing medium changed externally (see Notifier).
func (s *CachedStore) Invalidate() {
	s.cache.clear()
}

// CachedLen reports the number of cached entries, for tests and metrics.
func (s *CachedStore) CachedLen() int {
	return s.cache.len()
}
