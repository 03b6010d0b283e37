// Package dedup drops tasks whose fingerprint was already admitted within a
// retention window.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Admitter decides whether a fingerprint may enter the pipeline. Admit must
// be linearizable: of N concurrent calls with the same fingerprint, exactly
// one returns true.
type Admitter interface {
	Admit(ctx context.Context, fingerprint string) (bool, error)
}

// Window is an in-memory Admitter. The window does not survive a process
// restart; redelivered messages are simply admitted again, which trades
// exactness for availability.
type Window struct {
	retention time.Duration
	now       func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewWindow creates a Window with the given retention.
func NewWindow(retention time.Duration) *Window {
	return &Window{
		retention: retention,
		now:       time.Now,
		seen:      make(map[string]time.Time),
	}
}

// Admit records the fingerprint and returns true unless it was already
// admitted within the retention window.
func (w *Window) Admit(_ context.Context, fingerprint string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if first, ok := w.seen[fingerprint]; ok && now.Sub(first) < w.retention {
		return false, nil
	}
	w.seen[fingerprint] = now
	w.sweepLocked(now)
	return true, nil
}

// Size returns the number of fingerprints currently retained.
func (w *Window) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// sweepLocked evicts expired entries. Called on every admit; the map stays
// small because the retention window is minutes, not hours.
func (w *Window) sweepLocked(now time.Time) {
	for fp, first := range w.seen {
		if now.Sub(first) >= w.retention {
			delete(w.seen, fp)
		}
	}
}
