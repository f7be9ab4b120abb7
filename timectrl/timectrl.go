// Package timectrl provides the clock abstraction used for ingestion
// timestamps and the periodic ticker that drives scheduled jobs.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock is an interface for reading the current time. Components depend on
// it rather than on time.Now so tests can pin the time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock returns a clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// SetTime moves the clock to t.
func (c *ManualClock) SetTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Ticker invokes registered listeners every Interval until its context is
// cancelled. Listeners run one after another on the ticker goroutine, so a
// slow listener delays the next tick rather than overlapping with it.
type Ticker struct {
	Interval time.Duration
	// Immediate fires the listeners once at start before the first interval.
	Immediate bool

	clock Clock

	mu        sync.Mutex
	listeners []func(context.Context, time.Time)
}

// NewTicker constructs a ticker reading times from clock (SystemClock when
// nil).
func NewTicker(interval time.Duration, clock Clock) *Ticker {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Ticker{Interval: interval, clock: clock}
}

// AddListener registers a callback invoked on every tick.
func (t *Ticker) AddListener(fn func(context.Context, time.Time)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Start runs the ticker in a separate goroutine. It returns a channel that
// is closed when ctx is done and the last tick has returned. With a
// non-positive Interval only the immediate tick, if any, fires.
func (t *Ticker) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		if t.Immediate {
			t.fire(ctx)
		}
		if t.Interval <= 0 {
			<-ctx.Done()
			return
		}

		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.fire(ctx)
			}
		}
	}()
	return done
}

func (t *Ticker) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	t.mu.Lock()
	listeners := append([]func(context.Context, time.Time){}, t.listeners...)
	t.mu.Unlock()

	now := t.clock.Now()
	for _, fn := range listeners {
		fn(ctx, now)
	}
}
