package blobstore

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store used for tests and ephemeral
// repositories. A byte quota can be enforced to exercise quota handling.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	usage int64
	quota int64 // <= 0 means unlimited
}

// NewMemoryStore creates an empty in-memory store with no quota.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// NewMemoryStoreWithQuota creates an in-memory store that rejects writes
// once total stored bytes would exceed quota.
func NewMemoryStoreWithQuota(quota int64) *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte), quota: quota}
}

// Get returns the value stored at key, or ErrKeyNotFound.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

// Set stores a copy of value at key.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := int64(len(value)) - int64(len(s.data[key]))
	if s.quota > 0 && s.usage+delta > s.quota {
		return ErrQuotaExceeded
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	s.usage += delta
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.data[key]; ok {
		s.usage -= int64(len(old))
		delete(s.data, key)
	}
	return nil
}

// Exists reports whether key has a value.
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

// List returns all keys beginning with prefix.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// GetBatch returns values for all keys that exist.
func (s *MemoryStore) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := s.Get(ctx, key)
		if err != nil {
			if err == ErrKeyNotFound {
				continue
			}
			return nil, err
		}
		result[key] = value
	}
	return result, nil
}

// SetBatch stores every entry.
func (s *MemoryStore) SetBatch(ctx context.Context, entries map[string][]byte) error {
	for key, value := range entries {
		if err := s.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// DeleteBatch removes every key.
func (s *MemoryStore) DeleteBatch(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Quota reports current usage and the configured quota.
func (s *MemoryStore) Quota(ctx context.Context) (QuotaInfo, error) {
	if err := ctx.Err(); err != nil {
		return QuotaInfo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := QuotaInfo{Usage: s.usage, Quota: s.quota}
	if s.quota > 0 {
		info.Available = s.quota - s.usage
	}
	return info, nil
}
