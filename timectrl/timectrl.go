// Package timectrl provides the clock abstraction used for host settle
// delays and sampling timeouts, with a manually advanced implementation for
// tests.
package timectrl

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of time functionality the placement pipeline needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Wall is a Clock backed by the time package.
type Wall struct{}

// Now implements Clock.
func (Wall) Now() time.Time { return time.Now() }

// After implements Clock.
func (Wall) After(d time.Duration) <-chan time.Time { return time.After(d) }

type manualTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// Manual is a Clock that only moves when Advance or Set is called. Timers
// fire in deadline order.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	pending []manualTimer
	waiters []chan struct{}
}

// NewManual constructs a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now implements Clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After implements Clock. A non-positive duration fires immediately.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.pending = append(m.pending, manualTimer{deadline: m.now.Add(d), ch: ch})
	for _, w := range m.waiters {
		close(w)
	}
	m.waiters = nil
	return ch
}

// Advance moves the clock forward by d and fires every timer that is due.
func (m *Manual) Advance(d time.Duration) {
	m.Set(m.Now().Add(d))
}

// Set moves the clock to t. Moving backwards is ignored.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Before(m.now) {
		return
	}
	m.now = t

	sort.Slice(m.pending, func(i, j int) bool {
		return m.pending[i].deadline.Before(m.pending[j].deadline)
	})
	kept := m.pending[:0]
	for _, tm := range m.pending {
		if tm.deadline.After(m.now) {
			kept = append(kept, tm)
			continue
		}
		tm.ch <- tm.deadline
	}
	m.pending = kept
}

// Pending returns the number of timers that have not fired yet.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// WaitForTimers returns a channel closed once at least n timers are pending.
// Tests use it to avoid advancing the clock before the code under test has
// armed its timer.
func (m *Manual) WaitForTimers(n int) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		for {
			m.mu.Lock()
			if len(m.pending) >= n {
				m.mu.Unlock()
				return
			}
			w := make(chan struct{})
			m.waiters = append(m.waiters, w)
			m.mu.Unlock()
			<-w
		}
	}()
	return ch
}
