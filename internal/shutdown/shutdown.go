// Package shutdown owns the one-shot shutdown event for a pipeline run:
// signal handling (first interrupt requests a graceful stop, second one
// force-exits), the broadcast channel modules and the engine wait on,
// and the bounded-grace fan-out that drives every module's Shutdown.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eidolon/eidolon/internal/logging"
)

// Stopper is the slice of the module contract the coordinator needs:
// anything it can ask to shut down.
type Stopper interface {
	Name() string
	Shutdown(ctx context.Context) error
}

// Coordinator is the one-shot shutdown broadcaster for a single run.
type Coordinator struct {
	once     sync.Once
	ch       chan struct{}
	exitFunc func(int)

	mu      sync.Mutex
	modules []Stopper

	signalCh chan os.Signal
	stopOnce sync.Once
}

// New constructs a Coordinator. exitFunc is called on the second
// interrupt signal; pass nil for os.Exit.
func New(exitFunc func(int)) *Coordinator {
	if exitFunc == nil {
		exitFunc = os.Exit
	}
	return &Coordinator{
		ch:       make(chan struct{}),
		exitFunc: exitFunc,
	}
}

// Register adds a module to the set ShutdownApplication drives.
func (c *Coordinator) Register(m Stopper) {
	c.mu.Lock()
	c.modules = append(c.modules, m)
	c.mu.Unlock()
}

// InstallSignalHandlers starts listening for SIGINT/SIGTERM. The first
// signal triggers the shutdown event and logs a notice; the second one
// exits the process immediately with a non-zero status.
func (c *Coordinator) InstallSignalHandlers() {
	c.signalCh = make(chan os.Signal, 2)
	signal.Notify(c.signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		received := 0
		for range c.signalCh {
			received++
			if received == 1 {
				logging.Op().Info("interrupt received, shutting down (press again to force)")
				c.TriggerShutdown()
				continue
			}
			logging.Op().Error("second interrupt received, forcing exit")
			c.exitFunc(1)
			return
		}
	}()
}

// StopSignalHandlers detaches the signal listener, restoring default
// interrupt behavior.
func (c *Coordinator) StopSignalHandlers() {
	c.stopOnce.Do(func() {
		if c.signalCh != nil {
			signal.Stop(c.signalCh)
			close(c.signalCh)
		}
	})
}

// TriggerShutdown fires the shutdown event. Safe to call more than once;
// only the first call has any effect.
func (c *Coordinator) TriggerShutdown() {
	c.once.Do(func() { close(c.ch) })
}

// Done returns the broadcast channel, closed once shutdown is triggered.
func (c *Coordinator) Done() <-chan struct{} {
	return c.ch
}

// Triggered reports whether the shutdown event has fired.
func (c *Coordinator) Triggered() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// WaitForShutdown blocks until the shutdown event fires or ctx ends.
func (c *Coordinator) WaitForShutdown(ctx context.Context) {
	select {
	case <-c.ch:
	case <-ctx.Done():
	}
}

// ShutdownApplication calls Shutdown on every registered module in
// parallel, isolating per-module errors, and waits up to grace for all
// of them to return. A module that overruns the grace period is
// abandoned with a warning rather than blocking the rest of the exit.
func (c *Coordinator) ShutdownApplication(ctx context.Context, grace time.Duration) {
	c.TriggerShutdown()

	c.mu.Lock()
	mods := append([]Stopper(nil), c.modules...)
	c.mu.Unlock()

	gctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	g := new(errgroup.Group)
	for _, m := range mods {
		m := m
		g.Go(func() error {
			if err := m.Shutdown(gctx); err != nil {
				logging.Op().Warn("module shutdown failed", "module", m.Name(), "error", err)
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Op().Debug("all modules shut down", "count", len(mods))
	case <-gctx.Done():
		logging.Op().Warn("shutdown grace period expired with modules still stopping", "grace", grace)
	}
}
