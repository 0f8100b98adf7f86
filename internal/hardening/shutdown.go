package hardening

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// ShutdownHandler is one component's teardown step. Handlers with a lower
// Priority run first (e.g. stop accepting new work before draining
// in-flight tasks before closing storage).
type ShutdownHandler struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// ShutdownManager runs registered handlers in priority order when the
// process receives SIGINT/SIGTERM, each bounded by a shared deadline.
type ShutdownManager struct {
	mu       sync.Mutex
	handlers []ShutdownHandler
	logger   *slog.Logger
}

// NewShutdownManager builds a ShutdownManager.
func NewShutdownManager(logger *slog.Logger) *ShutdownManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownManager{logger: logger}
}

// Register adds a teardown handler.
func (m *ShutdownManager) Register(h ShutdownHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Wait blocks until SIGINT or SIGTERM arrives, then runs every registered
// handler in ascending priority order (stable within a priority) under
// the given deadline, logging and continuing past individual failures so
// one stuck handler cannot block the rest.
func (m *ShutdownManager) Wait(parent context.Context, deadline time.Duration) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	m.logger.Info("shutdown signal received, initiating graceful shutdown")
	m.Run(deadline)
}

// Run executes every registered handler immediately, without waiting for
// a signal. Exposed separately so tests and CLI commands can trigger the
// same teardown path deterministically.
func (m *ShutdownManager) Run(deadline time.Duration) {
	m.mu.Lock()
	ordered := make([]ShutdownHandler, len(m.handlers))
	copy(ordered, m.handlers)
	m.mu.Unlock()

	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	shutdownCtx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	for _, h := range ordered {
		if err := h.Fn(shutdownCtx); err != nil {
			m.logger.Error("shutdown handler failed", "handler", h.Name, "error", err)
			continue
		}
		m.logger.Info("shutdown handler completed", "handler", h.Name)
	}
}
