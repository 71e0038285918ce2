// Package timers implements spec.md §4.8's one-shot timers and bounded
// cross-thread waits. One-shot timer callbacks post an event onto a
// channel rather than touching shared state directly, so timer-thread
// code never races with the dispatcher goroutine.
package timers

import (
	"context"
	"sync"
	"time"
)

// DefaultReconnectInterval is spec.md §4.4's reconnect timer default.
const DefaultReconnectInterval = 500 * time.Millisecond

// DefaultReloadDelay is spec.md §6's default reload_delay.
const DefaultReloadDelay = 30 * time.Second

// MinReloadDelay and MaxReloadDelay bound the configurable reload_delay
// range (spec.md §6: [0, 300000] ms).
const (
	MinReloadDelay = 0
	MaxReloadDelay = 300 * time.Second
)

// StopBarrierTimeout bounds the stop/port-delete-done waits (spec.md §4.7).
const StopBarrierTimeout = 5 * time.Second

// OneShot is a cancelable one-shot timer. Fire is called on its own
// goroutine when the timer expires; it must not block and must not touch
// state the dispatcher owns without going through a channel.
type OneShot struct {
	mu     sync.Mutex
	timer  *time.Timer
	active bool
}

// Start arms the timer for d, replacing any previously armed timer.
// fire runs on a new goroutine when d elapses unless Stop is called first.
func (o *OneShot) Start(d time.Duration, fire func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.timer != nil {
		o.timer.Stop()
	}
	o.active = true
	o.timer = time.AfterFunc(d, func() {
		o.mu.Lock()
		stillActive := o.active
		o.mu.Unlock()
		if stillActive {
			fire()
		}
	})
}

// Stop disarms the timer. Safe to call whether or not it is running.
func (o *OneShot) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.active = false
	if o.timer != nil {
		o.timer.Stop()
	}
}

// Barrier implements a bounded wait for a set of expected bits, used for
// stop_done and port_delete_done (spec.md §4.7/§4.8). Each bit observed
// calls Signal; Wait blocks until every bit in want is observed or the
// context's deadline passes, whichever is first.
//
// Unlike a sync.Cond, waking is done by closing and replacing a channel on
// every Signal, so Wait never leaves a goroutine blocked past ctx.Done.
type Barrier struct {
	mu       sync.Mutex
	observed uint32
	wake     chan struct{}
}

// NewBarrier returns a ready-to-use Barrier.
func NewBarrier() *Barrier {
	return &Barrier{wake: make(chan struct{})}
}

// Signal ORs bit into the observed set and wakes any waiter.
func (b *Barrier) Signal(bit uint32) {
	b.mu.Lock()
	b.observed |= bit
	old := b.wake
	b.wake = make(chan struct{})
	b.mu.Unlock()
	close(old)
}

// Reset clears the observed set, for reuse across stop/start cycles.
func (b *Barrier) Reset() {
	b.mu.Lock()
	b.observed = 0
	b.mu.Unlock()
}

// Wait blocks until every bit in want has been Signal-ed or ctx is done.
// Returns the bits actually observed and whether all of want was seen.
func (b *Barrier) Wait(ctx context.Context, want uint32) (observed uint32, complete bool) {
	for {
		b.mu.Lock()
		observed = b.observed
		wake := b.wake
		b.mu.Unlock()

		if observed&want == want {
			return observed, true
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return observed, false
		}
	}
}
