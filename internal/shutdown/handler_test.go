package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewManager(t *testing.T) {
	t.Run("with custom timeout", func(t *testing.T) {
		timeout := 10 * time.Second
		sm := NewManager(timeout)
		if sm == nil {
			t.Fatal("expected manager, got nil")
		}
		if sm.shutdownTimeout != timeout {
			t.Errorf("expected timeout %v, got %v", timeout, sm.shutdownTimeout)
		}
	})

	t.Run("with zero timeout uses default", func(t *testing.T) {
		sm := NewManager(0)
		if sm.shutdownTimeout != 30*time.Second {
			t.Errorf("expected default timeout 30s, got %v", sm.shutdownTimeout)
		}
	})
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	sm := NewManager(5 * time.Second)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		sm.Add(func(ctx context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	sm.Close()

	if len(order) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(order))
	}
	if order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("expected reverse order [3,2,1], got %v", order)
	}
}

func TestCloserErrorDoesNotStopOthers(t *testing.T) {
	sm := NewManager(5 * time.Second)

	var called atomic.Bool
	sm.Add(func(ctx context.Context) error {
		called.Store(true)
		return nil
	})
	sm.Add(func(ctx context.Context) error {
		return errors.New("test error")
	})

	sm.Close()

	if !called.Load() {
		t.Error("expected the earlier closer to run despite the later error")
	}
}
