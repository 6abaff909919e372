// Package timeutil provides a testable abstraction over time operations.
package timeutil

import (
	"sort"
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// Sleep pauses for the specified duration.
	Sleep(d time.Duration)

	// NewTimer creates a new Timer that will send the current time
	// on its channel after at least duration d.
	NewTimer(d time.Duration) Timer

	// AfterFunc waits for the duration to elapse and then calls f in its
	// own goroutine. The returned Timer can be used to cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer represents a single event timer.
type Timer interface {
	// C returns the channel on which the time is delivered. Timers created
	// by AfterFunc return nil.
	C() <-chan time.Time

	// Stop prevents the Timer from firing. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool

	// Reset changes the timer to expire after duration d.
	Reset(d time.Duration) bool
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Sleep pauses the current goroutine for at least the duration d.
func (RealClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// NewTimer creates a new Timer.
func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{timer: time.NewTimer(d)}
}

// AfterFunc schedules f on the runtime timer heap.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{timer: time.AfterFunc(d, f)}
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) C() <-chan time.Time { return t.timer.C }
func (t *realTimer) Stop() bool          { return t.timer.Stop() }
func (t *realTimer) Reset(d time.Duration) bool {
	return t.timer.Reset(d)
}

// MockClock is a manually controlled clock for testing. Timers only fire
// from Advance, and AfterFunc callbacks run synchronously on the goroutine
// that called Advance, which keeps scheduled work deterministic.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	timers []*MockTimer
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set sets the mock clock to a specific time without firing timers.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Sleep records the sleep duration but returns immediately.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
}

// Sleeps returns all recorded sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]time.Duration, len(c.sleeps))
	copy(result, c.sleeps)
	return result
}

// NewTimer creates a new channel-based MockTimer.
func (c *MockClock) NewTimer(d time.Duration) Timer {
	return c.addTimer(d, nil)
}

// AfterFunc registers f to run when the clock is advanced past now+d.
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.addTimer(d, f)
}

func (c *MockClock) addTimer(d time.Duration, f func()) *MockTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &MockTimer{
		clock:    c,
		deadline: c.now.Add(d),
		fn:       f,
	}
	if f == nil {
		t.ch = make(chan time.Time, 1)
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the mock clock forward by d and fires every timer whose
// deadline falls inside the window, earliest first. The clock is stepped to
// each deadline before its timer fires, so timers registered by a callback
// are measured from the moment that callback ran.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		t.fire(c.Now())
	}

	c.mu.Lock()
	if c.now.Before(target) {
		c.now = target
	}
	c.mu.Unlock()
}

// nextDue removes the earliest armed timer due at or before target, steps
// the clock to its deadline and returns it. It returns nil when none is due.
func (c *MockClock) nextDue(target time.Time) *MockTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].deadlineLocked().Before(c.timers[j].deadlineLocked())
	})
	for i, t := range c.timers {
		if !t.armed() {
			continue
		}
		deadline := t.deadlineLocked()
		if deadline.After(target) {
			break
		}
		c.timers = append(c.timers[:i], c.timers[i+1:]...)
		if deadline.After(c.now) {
			c.now = deadline
		}
		return t
	}
	return nil
}

// PendingTimers returns the number of timers that are armed and not yet fired.
func (c *MockClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.armed() {
			n++
		}
	}
	return n
}

// MockTimer is a manually controlled timer for testing.
type MockTimer struct {
	clock    *MockClock
	mu       sync.Mutex
	ch       chan time.Time
	fn       func()
	deadline time.Time
	stopped  bool
	fired    bool
}

// C returns the timer channel.
func (t *MockTimer) C() <-chan time.Time {
	return t.ch
}

// Stop prevents the timer from firing.
func (t *MockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

// Reset re-arms the timer to expire d after the clock's current time.
func (t *MockTimer) Reset(d time.Duration) bool {
	now := t.clock.Now()

	t.mu.Lock()
	wasActive := !t.stopped && !t.fired
	t.stopped = false
	t.fired = false
	t.deadline = now.Add(d)
	t.mu.Unlock()

	c := t.clock
	c.mu.Lock()
	found := false
	for _, existing := range c.timers {
		if existing == t {
			found = true
			break
		}
	}
	if !found {
		c.timers = append(c.timers, t)
	}
	c.mu.Unlock()
	return wasActive
}

func (t *MockTimer) armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

func (t *MockTimer) deadlineLocked() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

func (t *MockTimer) fire(now time.Time) {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	fn := t.fn
	ch := t.ch
	t.mu.Unlock()

	if fn != nil {
		fn()
		return
	}
	select {
	case ch <- now:
	default:
	}
}
