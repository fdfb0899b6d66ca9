// Package timeutil lets the link, control and telemetry loops run against a
// clock that tests can drive by hand.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source every periodic loop is built on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
	// AfterFunc calls f once d has elapsed. Stop on the returned Timer
	// cancels the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer mirrors *time.Timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Ticker mirrors *time.Ticker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) NewTimer(d time.Duration) Timer  { return realTimer{time.NewTimer(d)} }
func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time        { return r.t.C }
func (r realTimer) Stop() bool                 { return r.t.Stop() }
func (r realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time   { return r.t.C }
func (r realTicker) Stop()                 { r.t.Stop() }
func (r realTicker) Reset(d time.Duration) { r.t.Reset(d) }

// MockClock only moves when told to. Advance fires whatever became due:
// timers first, then tickers. A ticker delivers at most one tick per
// Advance and, like time.Ticker, drops ticks nobody is reading.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	events []*mockEvent
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Set jumps to t without firing anything.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d and fires what is due. AfterFunc
// callbacks run synchronously, with no clock lock held, before Advance
// returns.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	events := append([]*mockEvent(nil), c.events...)
	c.mu.Unlock()

	for _, periodic := range []bool{false, true} {
		for _, e := range events {
			if e.periodic() != periodic {
				continue
			}
			if fn := e.fire(now); fn != nil {
				fn()
			}
		}
	}
	c.prune()
}

func (c *MockClock) NewTimer(d time.Duration) Timer {
	return mockTimer{c.add(d, 0, nil)}
}

func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	return mockTimer{c.add(d, 0, f)}
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}
	return mockTicker{c.add(d, d, nil)}
}

// PendingTimers counts timers and AfterFunc calls that have yet to fire.
func (c *MockClock) PendingTimers() int { return c.count(false) }

// ActiveTickers counts running tickers. Tests use it to wait for a loop
// goroutine to reach its select.
func (c *MockClock) ActiveTickers() int { return c.count(true) }

func (c *MockClock) count(periodic bool) int {
	c.mu.Lock()
	events := append([]*mockEvent(nil), c.events...)
	c.mu.Unlock()
	n := 0
	for _, e := range events {
		if e.periodic() == periodic && e.active() {
			n++
		}
	}
	return n
}

func (c *MockClock) add(d, period time.Duration, fn func()) *mockEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &mockEvent{
		clock:  c,
		ch:     make(chan time.Time, 1),
		fn:     fn,
		period: period,
		due:    c.now.Add(d),
	}
	c.events = append(c.events, e)
	return e
}

// rearm puts a stopped or fired event back on the clock.
func (c *MockClock) rearm(e *mockEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.events {
		if existing == e {
			return
		}
	}
	c.events = append(c.events, e)
}

// prune drops finished events. Lock order is clock then event; event
// methods never take the clock lock while holding their own.
func (c *MockClock) prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.events[:0]
	for _, e := range c.events {
		if e.active() {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(c.events); i++ {
		c.events[i] = nil
	}
	c.events = kept
}

// mockEvent backs both timers (period 0) and tickers.
type mockEvent struct {
	clock  *MockClock
	ch     chan time.Time
	fn     func()
	period time.Duration

	mu   sync.Mutex
	due  time.Time
	done bool // stopped, or a timer that fired
}

func (e *mockEvent) periodic() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.period > 0
}

func (e *mockEvent) active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.done
}

// fire delivers the event if it is due at now and returns the AfterFunc
// callback to run, if any.
func (e *mockEvent) fire(now time.Time) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done || now.Before(e.due) {
		return nil
	}
	if e.period > 0 {
		e.due = now.Add(e.period)
		e.send(now)
		return nil
	}
	e.done = true
	if e.fn != nil {
		return e.fn
	}
	e.send(now)
	return nil
}

func (e *mockEvent) send(now time.Time) {
	select {
	case e.ch <- now:
	default:
	}
}

func (e *mockEvent) stop() (wasActive bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wasActive = !e.done
	e.done = true
	return wasActive
}

func (e *mockEvent) reset(d time.Duration, periodic bool) (wasActive bool) {
	due := e.clock.Now().Add(d)
	e.mu.Lock()
	wasActive = !e.done
	e.done = false
	e.due = due
	if periodic {
		e.period = d
	}
	e.mu.Unlock()
	if !wasActive {
		e.clock.rearm(e)
	}
	return wasActive
}

type mockTimer struct{ e *mockEvent }

func (t mockTimer) C() <-chan time.Time        { return t.e.ch }
func (t mockTimer) Stop() bool                 { return t.e.stop() }
func (t mockTimer) Reset(d time.Duration) bool { return t.e.reset(d, false) }

type mockTicker struct{ e *mockEvent }

func (t mockTicker) C() <-chan time.Time { return t.e.ch }
func (t mockTicker) Stop()               { t.e.stop() }
func (t mockTicker) Reset(d time.Duration) {
	if d <= 0 {
		panic("timeutil: non-positive interval for Ticker.Reset")
	}
	t.e.reset(d, true)
}
