package sampling

import (
	"fmt"
	"sync/atomic"
)

// Phase is the state of the most recent sampling batch.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseSettling
	PhaseSampling
	PhaseResolved
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseSettling:
		return "SETTLING"
	case PhaseSampling:
		return "SAMPLING"
	case PhaseResolved:
		return "RESOLVED"
	case PhaseFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// PhaseTracker records batch phase transitions for one pipeline owner.
// Only transitions for the newest batch are kept.
type PhaseTracker struct {
	gen   atomic.Uint64
	phase atomic.Int32
}

// Begin starts tracking batch gen in PhaseSettling.
func (t *PhaseTracker) Begin(gen uint64) {
	t.gen.Store(gen)
	t.phase.Store(int32(PhaseSettling))
}

// Set moves batch gen to p. Transitions for superseded batches are ignored.
func (t *PhaseTracker) Set(gen uint64, p Phase) {
	if t.gen.Load() != gen {
		return
	}
	t.phase.Store(int32(p))
}

// Current returns the newest batch's generation and phase.
func (t *PhaseTracker) Current() (uint64, Phase) {
	return t.gen.Load(), Phase(t.phase.Load())
}
