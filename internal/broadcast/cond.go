// ABOUTME: Condition variable with bounded waits for station readers
// ABOUTME: Broadcast closes a generation channel so waiters can also select on timers
package broadcast

import (
	"context"
	"sync"
	"time"
)

// cond pairs with the station lock. Unlike sync.Cond its waits are bounded
// and cancellable, and Broadcast may be called without holding the lock.
type cond struct {
	L *sync.Mutex

	chMu sync.Mutex
	ch   chan struct{}
}

func newCond(l *sync.Mutex) *cond {
	return &cond{L: l, ch: make(chan struct{})}
}

// Broadcast wakes every goroutine blocked in Wait
func (c *cond) Broadcast() {
	c.chMu.Lock()
	close(c.ch)
	c.ch = make(chan struct{})
	c.chMu.Unlock()
}

// Wait releases L until a broadcast, the timeout or ctx cancellation, then
// reacquires it. The caller must hold L. It returns false when the wait ended
// without a broadcast.
func (c *cond) Wait(ctx context.Context, timeout time.Duration) bool {
	c.chMu.Lock()
	ch := c.ch
	c.chMu.Unlock()

	c.L.Unlock()
	defer c.L.Lock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
