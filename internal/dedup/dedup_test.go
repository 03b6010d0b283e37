package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAdmitOnce(t *testing.T) {
	w := NewWindow(10 * time.Minute)
	ctx := context.Background()

	ok, err := w.Admit(ctx, "fp-1")
	if err != nil || !ok {
		t.Fatalf("first admit failed: ok=%v err=%v", ok, err)
	}

	ok, err = w.Admit(ctx, "fp-1")
	if err != nil {
		t.Fatalf("second admit errored: %v", err)
	}
	if ok {
		t.Error("duplicate fingerprint was admitted within the window")
	}

	ok, _ = w.Admit(ctx, "fp-2")
	if !ok {
		t.Error("distinct fingerprint should be admitted")
	}
}

func TestAdmitAfterExpiry(t *testing.T) {
	w := NewWindow(10 * time.Minute)
	now := time.Now()
	w.now = func() time.Time { return now }

	if ok, _ := w.Admit(context.Background(), "fp-1"); !ok {
		t.Fatal("first admit rejected")
	}

	now = now.Add(9 * time.Minute)
	if ok, _ := w.Admit(context.Background(), "fp-1"); ok {
		t.Error("fingerprint admitted before the window elapsed")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := w.Admit(context.Background(), "fp-1"); !ok {
		t.Error("fingerprint rejected after the window elapsed")
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	w := NewWindow(time.Minute)
	now := time.Now()
	w.now = func() time.Time { return now }

	for _, fp := range []string{"a", "b", "c"} {
		w.Admit(context.Background(), fp)
	}
	if w.Size() != 3 {
		t.Fatalf("expected 3 retained fingerprints, got %d", w.Size())
	}

	now = now.Add(2 * time.Minute)
	w.Admit(context.Background(), "d")
	if w.Size() != 1 {
		t.Errorf("expected expired entries to be swept, size=%d", w.Size())
	}
}

func TestConcurrentAdmitExactlyOne(t *testing.T) {
	w := NewWindow(10 * time.Minute)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := w.Admit(context.Background(), "same-fp"); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 1 {
		t.Errorf("expected exactly one concurrent admit to win, got %d", admitted.Load())
	}
}
