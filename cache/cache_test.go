package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, ok := m.Get(ctx, "missing"); ok {
		t.Fatal("unexpected hit for missing key")
	}

	m.Set(ctx, "k", []byte("value"), time.Minute)
	got, ok := m.Get(ctx, "k")
	if !ok || string(got) != "value" {
		t.Fatalf("Get: got %q/%v", got, ok)
	}

	m.Delete(ctx, "k")
	if _, ok := m.Get(ctx, "k"); ok {
		t.Fatal("key survived Delete")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	m.Set(ctx, "k", []byte("v"), 10*time.Second)
	if _, ok := m.Get(ctx, "k"); !ok {
		t.Fatal("fresh key missing")
	}

	now = now.Add(11 * time.Second)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Fatal("expired key still served")
	}
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	m.Set(ctx, "k", []byte("v"), 0)
	now = now.Add(1000 * time.Hour)
	if _, ok := m.Get(ctx, "k"); !ok {
		t.Fatal("unexpiring key was dropped")
	}
}

func TestMemoryEmptyValue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Set(ctx, "k", nil, time.Minute)
	got, ok := m.Get(ctx, "k")
	if !ok || len(got) != 0 {
		t.Fatalf("Get: got %q/%v, want empty hit", got, ok)
	}
}

func TestNopAlwaysMisses(t *testing.T) {
	var n Nop
	ctx := context.Background()
	n.Set(ctx, "k", []byte("v"), time.Minute)
	if _, ok := n.Get(ctx, "k"); ok {
		t.Fatal("Nop returned a hit")
	}
	if n.Ping(ctx) {
		t.Fatal("Nop reports reachable")
	}
}
