package logx

import (
	"context"
	"sync"
	"time"
)

// GracefulShutdown runs registered teardown functions within a bounded
// timeout, adapted from kernel/utils/graceful.go. Shutdown starts every
// function in its own goroutine (launched last-registered first) and waits
// for all of them, so the functions run concurrently rather than one after
// another. internal/runtime uses it to stop the host mailbox listener,
// worker dispatch loops, and sync threads.
type GracefulShutdown struct {
	mu      sync.Mutex
	fns     []func() error
	timeout time.Duration
	logger  *Logger
}

func NewGracefulShutdown(timeout time.Duration, logger *Logger) *GracefulShutdown {
	if logger == nil {
		logger = Default("shutdown")
	}
	return &GracefulShutdown{timeout: timeout, logger: logger}
}

func (g *GracefulShutdown) Register(fn func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fns = append(g.fns, fn)
}

func (g *GracefulShutdown) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("starting graceful shutdown", Int("components", len(g.fns)))

	shutdownCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	errs := make(chan error, len(g.fns))
	var wg sync.WaitGroup
	for i := len(g.fns) - 1; i >= 0; i-- {
		wg.Add(1)
		fn := g.fns[i]
		go func(idx int, fn func() error) {
			defer wg.Done()
			if err := fn(); err != nil {
				g.logger.Error("shutdown function failed", Int("index", idx), Err(err))
				errs <- err
			}
		}(i, fn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info("graceful shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		g.logger.Warn("graceful shutdown timed out")
		return NewError("shutdown timeout")
	}
}
