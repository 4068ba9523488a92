package sampling

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/solar-placement/model"
	"github.com/signalsfoundry/solar-placement/timectrl"
)

// DefaultSettleDelay is the wait used by FixedDelay when none is configured.
const DefaultSettleDelay = 2 * time.Second

// AreaSettler blocks until the rendering host reports that the area around
// center has loaded, so the surface query does not systematically miss.
type AreaSettler interface {
	WaitSettled(ctx context.Context, center model.GeodeticPosition) error
}

// Immediate never waits. It suits hosts whose surface is always resident.
type Immediate struct{}

// WaitSettled implements AreaSettler.
func (Immediate) WaitSettled(ctx context.Context, _ model.GeodeticPosition) error {
	return ctx.Err()
}

// FixedDelay waits a fixed time after each fly-to. It is an approximation
// for hosts that cannot signal tile loading; prefer ReadySignal.
type FixedDelay struct {
	Delay time.Duration
	Clock timectrl.Clock
}

// WaitSettled implements AreaSettler.
func (d FixedDelay) WaitSettled(ctx context.Context, _ model.GeodeticPosition) error {
	delay := d.Delay
	if delay <= 0 {
		delay = DefaultSettleDelay
	}
	clock := d.Clock
	if clock == nil {
		clock = timectrl.Wall{}
	}
	select {
	case <-clock.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadySignal is an AreaSettler driven by an explicit "tiles settled"
// callback from the host. Reset re-arms it before a new fly-to; Settle
// releases every waiter.
type ReadySignal struct {
	mu      sync.Mutex
	ch      chan struct{}
	settled bool
}

// NewReadySignal returns an armed, unsettled signal.
func NewReadySignal() *ReadySignal {
	return &ReadySignal{ch: make(chan struct{})}
}

// Reset marks the area as loading again.
func (r *ReadySignal) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		r.ch = make(chan struct{})
		r.settled = false
	}
}

// Settle marks the area as loaded. Calling it twice is harmless.
func (r *ReadySignal) Settle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.settled {
		close(r.ch)
		r.settled = true
	}
}

// Settled reports whether the host has signalled since the last Reset.
func (r *ReadySignal) Settled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settled
}

// WaitSettled implements AreaSettler.
func (r *ReadySignal) WaitSettled(ctx context.Context, _ model.GeodeticPosition) error {
	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
