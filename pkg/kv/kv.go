// Package kv provides the key-value store abstraction used for locks, cached
// safety reports, publish ledgers, trend scores, and A/B state. Implementations
// must treat a missing key as a miss, not an error.
package kv

import (
	"context"
	"time"
)

// Store is the minimal key-value contract every stateful component depends on.
// Put with ttl=0 stores without expiry. SetNX stores only when the key is
// absent and reports whether the write happened; it is the locking primitive.
type Store interface {
	Get(ctx context.Context, key string, value interface{}) (bool, error)
	Put(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// KeyBuilder constructs namespaced keys so multiple subsystems can share one
// store without collisions.
type KeyBuilder struct {
	namespace string
}

// NewKeyBuilder creates a KeyBuilder for the given namespace.
func NewKeyBuilder(namespace string) *KeyBuilder {
	return &KeyBuilder{namespace: namespace}
}

// Build joins the namespace, entity, and attribute into a single key.
func (kb *KeyBuilder) Build(entity, attribute string) string {
	if attribute == "" {
		return kb.namespace + ":" + entity
	}
	return kb.namespace + ":" + entity + ":" + attribute
}
