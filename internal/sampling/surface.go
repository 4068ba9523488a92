// Package sampling resolves panel elevations against the rendering host's
// 3-D surface in a single batched query, degrading to roof-plane estimates
// when the host cannot answer.
package sampling

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrEmptyLayout is returned when no footprint survives validation.
	ErrEmptyLayout = errors.New("layout has no placeable footprints")
	// ErrHostTimeout is returned by WithTimeout when the host does not answer in time.
	ErrHostTimeout = errors.New("surface query timed out")
	// ErrHostResultMismatch is recorded when the host returns a result list of
	// the wrong length; the batch is then treated as failed.
	ErrHostResultMismatch = errors.New("surface query returned wrong number of results")
	// ErrNoSurfaceQuery is recorded when a Sampler has no host to ask.
	ErrNoSurfaceQuery = errors.New("no surface query configured")
)

// Hit is one surface query result. When OK is false the ray found no
// intersection and Point is meaningless.
type Hit struct {
	Point r3.Vec
	OK    bool
}

// HitAt builds a successful Hit.
func HitAt(p r3.Vec) Hit { return Hit{Point: p, OK: true} }

// Miss is the "no intersection" marker.
func Miss() Hit { return Hit{} }

func (h Hit) usable() bool {
	if !h.OK {
		return false
	}
	for _, c := range []float64{h.Point.X, h.Point.Y, h.Point.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// SurfaceQuery is the rendering host's batched height query. It returns one
// Hit per input position, in input order, or an error for the whole batch.
// Positions and intersection points are ECEF metres.
type SurfaceQuery interface {
	SampleHeights(ctx context.Context, positions []r3.Vec) ([]Hit, error)
}

// SurfaceFunc adapts a function to SurfaceQuery.
type SurfaceFunc func(ctx context.Context, positions []r3.Vec) ([]Hit, error)

// SampleHeights implements SurfaceQuery.
func (f SurfaceFunc) SampleHeights(ctx context.Context, positions []r3.Vec) ([]Hit, error) {
	return f(ctx, positions)
}
