// Package interrupt coordinates cooperative shutdown: a process-wide
// interrupted flag plus an ordered list of cleanup actions that run at most
// once. The controller is constructed explicitly and injected so tests can
// create isolated instances.
package interrupt

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// ExitCodeInterrupt is 128 + SIGINT, the conventional code for an
// interrupt-driven shutdown.
const ExitCodeInterrupt = 130

// Controller holds the interrupted flag and cleanup registry.
type Controller struct {
	interrupted atomic.Bool

	mu       sync.Mutex
	cleanups []func() error
	running  chan struct{} // non-nil while (or after) cleanup runs

	progress io.Writer
	exit     func(int) // defaults to os.Exit
	sigCh    chan os.Signal
}

// NewController creates a Controller. Progress output (cleanup errors) goes
// to w; pass nil for silent operation.
func NewController(w io.Writer) *Controller {
	return &Controller{
		progress: w,
		exit:     os.Exit,
	}
}

// SetExitFunc overrides process termination (for testing).
func (c *Controller) SetExitFunc(fn func(int)) {
	c.exit = fn
}

// Interrupted reports whether an interrupt has been requested. Cooperative
// cancellation points check this before starting new work.
func (c *Controller) Interrupted() bool {
	return c.interrupted.Load()
}

// RequestInterrupt sets the interrupted flag. Idempotent.
func (c *Controller) RequestInterrupt() {
	c.interrupted.Store(true)
}

// OnCleanup registers a callback to run during shutdown. Callbacks run in
// registration order.
func (c *Controller) OnCleanup(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, fn)
}

// RunCleanup drains and invokes all registered callbacks in order, swallowing
// individual errors. Safe to call concurrently: a second caller waits for the
// same in-flight cleanup instead of re-running it.
func (c *Controller) RunCleanup() {
	c.mu.Lock()
	if c.running != nil {
		done := c.running
		c.mu.Unlock()
		<-done
		return
	}
	done := make(chan struct{})
	c.running = done
	fns := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	defer close(done)
	for _, fn := range fns {
		if err := fn(); err != nil {
			c.logf("cleanup: %v", err)
		}
	}
}

// Install hooks SIGINT and SIGTERM. On the first signal the controller sets
// the interrupted flag, runs cleanup, restores default signal handling, and
// terminates with exit code 130. Returns a release function that detaches
// the handler without shutting down.
func (c *Controller) Install() func() {
	c.mu.Lock()
	if c.sigCh != nil {
		c.mu.Unlock()
		return func() {}
	}
	ch := make(chan os.Signal, 1)
	c.sigCh = ch
	c.mu.Unlock()

	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if _, ok := <-ch; !ok {
			return
		}
		c.logf("interrupt received, finishing in-flight work...")
		c.RequestInterrupt()
		c.RunCleanup()
		signal.Stop(ch)
		c.exit(ExitCodeInterrupt)
	}()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.sigCh != nil {
			signal.Stop(c.sigCh)
			close(c.sigCh)
			c.sigCh = nil
		}
	}
}

func (c *Controller) logf(format string, args ...any) {
	if c.progress != nil {
		fmt.Fprintf(c.progress, format+"\n", args...)
	}
}
