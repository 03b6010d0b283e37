package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Manager coordinates the graceful shutdown of application components.
type Manager struct {
	shutdownTimeout time.Duration
	closers         []func(ctx context.Context) error
}

// NewManager creates a new shutdown Manager.
func NewManager(shutdownTimeout time.Duration) *Manager {
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &Manager{
		shutdownTimeout: shutdownTimeout,
	}
}

// Add adds a new cleanup function to the manager. Closers run in reverse
// registration order so later components shut down before what they depend
// on.
func (m *Manager) Add(closer func(ctx context.Context) error) {
	m.closers = append(m.closers, closer)
}

// Wait blocks until a shutdown signal is received, then gracefully shuts
// down the application.
func (m *Manager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	slog.Info("shutdown signal received", "signal", sig)

	m.Close()
}

// Close runs all cleanup functions within the shutdown timeout.
func (m *Manager) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](ctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}
	slog.Info("shutdown complete")
}
