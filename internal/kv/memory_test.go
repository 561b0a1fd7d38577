package kv

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryIncrDecr(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "c", time.Minute)
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if n != want {
			t.Fatalf("Incr = %d, want %d", n, want)
		}
	}
	if n, _ := s.Decr(ctx, "c"); n != 2 {
		t.Fatalf("Decr = %d, want 2", n)
	}
	// Decrement never goes below zero.
	s.Decr(ctx, "c")
	s.Decr(ctx, "c")
	if n, _ := s.Decr(ctx, "c"); n != 0 {
		t.Fatalf("Decr floor = %d, want 0", n)
	}
}

func TestMemoryIncrConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Incr(ctx, "c", time.Minute); err != nil {
				t.Errorf("Incr: %v", err)
			}
		}()
	}
	wg.Wait()
	if n, _ := s.Incr(ctx, "c", time.Minute); n != 51 {
		t.Fatalf("counter = %d, want 51", n)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Now()
	s.now = func() time.Time { return base }

	if err := s.Put(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("expected value before expiry")
	}

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("expected value to expire")
	}

	// Expired counter restarts at 1.
	s.now = func() time.Time { return base }
	s.Incr(ctx, "c", time.Minute)
	s.Incr(ctx, "c", time.Minute)
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if n, _ := s.Incr(ctx, "c", time.Minute); n != 1 {
		t.Fatalf("counter after expiry = %d, want 1", n)
	}
}

func TestMemoryPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatal("expected miss")
	}
	if err := s.Put(ctx, "k", []byte("payload"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(v) != "payload" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("expected delete to remove value")
	}
}
