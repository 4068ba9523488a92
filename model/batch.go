package model

import "fmt"

// BatchStatus summarises how a sampling batch finished.
type BatchStatus int

const (
	// BatchResolved means the surface query answered; individual panels may
	// still have fallen back.
	BatchResolved BatchStatus = iota
	// BatchDegraded means the surface query failed as a whole and every
	// panel carries an estimated height.
	BatchDegraded
)

func (s BatchStatus) String() string {
	switch s {
	case BatchResolved:
		return "RESOLVED"
	case BatchDegraded:
		return "DEGRADED"
	default:
		return fmt.Sprintf("BatchStatus(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s BatchStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *BatchStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "RESOLVED":
		*s = BatchResolved
	case "DEGRADED":
		*s = BatchDegraded
	default:
		return fmt.Errorf("unknown batch status %q", string(b))
	}
	return nil
}

// HeightSourceCounts tallies panels by height provenance.
type HeightSourceCounts struct {
	Clamped   int `json:"clamped"`
	Fallback  int `json:"fallback"`
	Estimated int `json:"estimated"`
}

// Add records one panel.
func (c *HeightSourceCounts) Add(s HeightSource) {
	switch s {
	case HeightClamped:
		c.Clamped++
	case HeightFallback:
		c.Fallback++
	case HeightEstimated:
		c.Estimated++
	}
}

// Get returns the tally for s.
func (c HeightSourceCounts) Get(s HeightSource) int {
	switch s {
	case HeightClamped:
		return c.Clamped
	case HeightFallback:
		return c.Fallback
	case HeightEstimated:
		return c.Estimated
	default:
		return 0
	}
}

// Total returns the number of panels counted.
func (c HeightSourceCounts) Total() int {
	return c.Clamped + c.Fallback + c.Estimated
}
