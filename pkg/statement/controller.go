// Package statement tracks in-flight import operations and lets an outside
// actor cancel them.
package statement

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
)

// Token is the cancellation view handed to every step. Check is the explicit
// interruption point a step may call between its statements.
type Token interface {
	Check(step string) error
}

// Controller holds the cancellation flag and the registry of running
// operations. The zero value is not usable, use New.
type Controller struct {
	mu        sync.Mutex
	cancelled bool
	next      uint64
	inflight  map[uint64]*operation
}

type operation struct {
	name    string
	started time.Time
	cancel  context.CancelCauseFunc
}

func New() *Controller {
	return &Controller{inflight: make(map[uint64]*operation)}
}

// Cancel sets the flag and cancels the context of every registered
// operation. pgx turns a cancelled query context into a server-side cancel
// request for the running statement.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	for _, op := range c.inflight {
		logger.Info("[Statement] Cancelling operation", "step", op.name, "running", time.Since(op.started).Round(time.Millisecond))
		op.cancel(common.ErrCancelled)
	}
}

func (c *Controller) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Reset clears the flag so the controller can serve the next import.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = false
}

func (c *Controller) Check(step string) error {
	if c.Cancelled() {
		return &common.CancelledError{Step: step}
	}
	return nil
}

// InFlight lists the names of running operations.
func (c *Controller) InFlight() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.inflight))
	for _, op := range c.inflight {
		names = append(names, op.name)
	}
	slices.Sort(names)
	return names
}

// Run executes fn as a registered operation. It refuses to start once the
// flag is set, and reports a failure that coincides with a cancellation as a
// CancelledError rather than an engine error.
func (c *Controller) Run(ctx context.Context, step string, fn func(ctx context.Context) error) error {
	opCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return &common.CancelledError{Step: step}
	}
	id := c.next
	c.next++
	c.inflight[id] = &operation{name: step, started: time.Now(), cancel: cancel}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	}()

	err := fn(opCtx)
	if err != nil && c.Cancelled() {
		return &common.CancelledError{Step: step}
	}
	return err
}
