package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryGetSetExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := m.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "v1" {
		t.Fatalf("Get=%q,%v", got, err)
	}
	got[0] = 'X'
	again, _ := m.Get(ctx, "k")
	if string(again) != "v1" {
		t.Fatalf("stored value must not alias returned slice")
	}

	now = now.Add(time.Minute)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected expiry at ttl, got %v", err)
	}
}

func TestMemorySetNX(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	ok, err := m.SetNX(ctx, "lock", []byte("a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX=%v,%v", ok, err)
	}
	ok, _ = m.SetNX(ctx, "lock", []byte("b"), time.Minute)
	if ok {
		t.Fatalf("second SetNX must fail")
	}
	_ = m.Delete(ctx, "lock")
	ok, _ = m.SetNX(ctx, "lock", []byte("c"), time.Minute)
	if !ok {
		t.Fatalf("SetNX after delete must succeed")
	}
}

func TestMemorySetNXConcurrent(t *testing.T) {
	m := NewMemory()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.SetNX(context.Background(), "idem", []byte("x"), time.Minute); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("exactly one reservation must win, got %d", wins.Load())
	}
}

func TestMemorySweep(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }
	ctx := context.Background()
	_ = m.Set(ctx, "short", []byte("1"), time.Second)
	_ = m.Set(ctx, "long", []byte("2"), time.Hour)
	_ = m.Set(ctx, "forever", []byte("3"), 0)

	if n := m.Sweep(now.Add(time.Minute)); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if m.Len() != 2 {
		t.Fatalf("Len=%d, want 2", m.Len())
	}
}

func TestMemoryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemory().Get(ctx, "k"); !errors.Is(err, context.Canceled) || errors.Is(err, ErrMiss) {
		t.Fatalf("cancelled lookup must not look like a miss, got %v", err)
	}
}
