package cache

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/die-net/lrucache"
)

const memoryCacheSize = 20 * 1024 * 1024 // 20 MB, matching the old HTTP cache

// Memory is an in-process Store used when Redis is disabled or
// unreachable. Per-key TTLs are kept in an 8-byte expiry prefix since the
// underlying LRU only supports a global max age.
type Memory struct {
	lru *lrucache.LruCache
	now func() time.Time
}

// NewMemory returns a Memory store bounded at 20 MB.
func NewMemory() *Memory {
	return &Memory{
		lru: lrucache.New(memoryCacheSize, 0),
		now: time.Now,
	}
}

// Get returns the value for key, treating expired entries as misses.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	raw, ok := m.lru.Get(key)
	if !ok || len(raw) < 8 {
		return nil, false
	}
	exp := int64(binary.BigEndian.Uint64(raw[:8]))
	if exp != 0 && m.now().Unix() >= exp {
		m.lru.Delete(key)
		return nil, false
	}
	return raw[8:], true
}

// Set stores value under key for ttl.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	var exp int64
	if ttl > 0 {
		exp = m.now().Add(ttl).Unix()
	}
	raw := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(raw[:8], uint64(exp))
	copy(raw[8:], value)
	m.lru.Set(key, raw)
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) {
	m.lru.Delete(key)
}

// Ping always reports true; the store is in-process.
func (m *Memory) Ping(context.Context) bool { return true }
