// Package cache provides the best-effort key/value store used for parsed
// feeds and HTTP validator metadata. Misses and backend failures never
// affect correctness; callers treat every error as a miss.
package cache

import (
	"context"
	"time"
)

// Store is the engine-facing cache interface.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value under key for ttl. A non-positive ttl stores
	// without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Delete removes key.
	Delete(ctx context.Context, key string)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) bool
}

// Nop is a disabled cache: every Get misses, every write is dropped.
type Nop struct{}

// Get always misses.
func (Nop) Get(context.Context, string) ([]byte, bool) { return nil, false }

// Set drops the value.
func (Nop) Set(context.Context, string, []byte, time.Duration) {}

// Delete is a no-op.
func (Nop) Delete(context.Context, string) {}

// Ping reports false.
func (Nop) Ping(context.Context) bool { return false }
