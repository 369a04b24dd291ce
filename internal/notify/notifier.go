// ABOUTME: Debounced wake-up for readers blocked on the station
// ABOUTME: Coalesces bursts of data-available signals into one wake per interval
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is the minimum spacing between two wake-ups
const DefaultInterval = 50 * time.Millisecond

// Waker is woken when new data is available
type Waker interface {
	Broadcast()
}

// Stats counts how requests were resolved
type Stats struct {
	Immediate uint64
	Delayed   uint64
	Coalesced uint64
}

// Notifier turns frequent requests into at most one wake per interval.
// The first request after a quiet period wakes immediately.
type Notifier struct {
	waker       Waker
	minInterval time.Duration

	mu      sync.Mutex
	last    time.Time
	timer   *time.Timer
	pending bool
	gen     uint64 // identifies the scheduled timer

	immediate atomic.Uint64
	delayed   atomic.Uint64
	coalesced atomic.Uint64
}

// New creates a notifier that wakes w
func New(w Waker, minInterval time.Duration) *Notifier {
	if minInterval <= 0 {
		minInterval = DefaultInterval
	}
	return &Notifier{
		waker:       w,
		minInterval: minInterval,
	}
}

// Request asks for a wake-up
func (n *Notifier) Request() {
	now := time.Now()
	notifyNow := false

	n.mu.Lock()
	elapsed := now.Sub(n.last)
	switch {
	case n.last.IsZero() || elapsed >= n.minInterval:
		n.last = now
		if n.timer != nil {
			n.timer.Stop()
			n.timer = nil
		}
		n.pending = false
		notifyNow = true
	case !n.pending:
		delay := n.minInterval - elapsed
		n.gen++
		gen := n.gen
		n.timer = time.AfterFunc(delay, func() { n.fire(gen) })
		n.pending = true
		log.Debug().Dur("delay", delay).Msg("notifier: scheduled delayed wake")
	default:
		n.coalesced.Add(1)
	}
	n.mu.Unlock()

	if notifyNow {
		n.immediate.Add(1)
		n.waker.Broadcast()
	}
}

// fire runs on the timer goroutine. A timer replaced or cancelled after it
// started running finds a newer gen and does nothing.
func (n *Notifier) fire(gen uint64) {
	n.mu.Lock()
	if !n.pending || gen != n.gen {
		n.mu.Unlock()
		return
	}
	n.timer = nil
	n.pending = false
	n.last = time.Now()
	n.mu.Unlock()

	n.delayed.Add(1)
	n.waker.Broadcast()
}

// Cancel drops any scheduled wake-up
func (n *Notifier) Cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.timer != nil {
		if !n.timer.Stop() {
			log.Debug().Msg("notifier: timer already fired during cancel")
		}
		n.timer = nil
	}
	n.pending = false
}

// Pending reports whether a delayed wake-up is scheduled
func (n *Notifier) Pending() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending
}

// Stats returns request counters
func (n *Notifier) Stats() Stats {
	return Stats{
		Immediate: n.immediate.Load(),
		Delayed:   n.delayed.Load(),
		Coalesced: n.coalesced.Load(),
	}
}
