package kv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/osifo/clipgate/pkg/jsonx"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero = no expiry
}

// MemoryStore is an in-process Store used in tests and single-node setups.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Tests use this to drive TTL expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) live(e memoryEntry) bool {
	return e.expiresAt.IsZero() || s.now().Before(e.expiresAt)
}

// Get retrieves a value. A missing or expired key returns (false, nil).
func (s *MemoryStore) Get(_ context.Context, key string, value interface{}) (bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	live := ok && s.live(e)
	s.mu.RUnlock()
	if !live {
		return false, nil
	}
	if err := jsonx.Unmarshal(e.data, value); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return true, nil
}

// Put stores a value with the given TTL (0 = no expiry).
func (s *MemoryStore) Put(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := jsonx.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	s.mu.Lock()
	e := memoryEntry{data: data}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// SetNX stores a value only if the key is absent or expired.
func (s *MemoryStore) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := jsonx.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal value: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && s.live(e) {
		return false, nil
	}
	e := memoryEntry{data: data}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return true, nil
}
