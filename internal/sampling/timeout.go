package sampling

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/solar-placement/timectrl"
)

type timeoutQuery struct {
	next    SurfaceQuery
	timeout time.Duration
	clock   timectrl.Clock
}

type queryResult struct {
	hits []Hit
	err  error
}

// WithTimeout bounds every call to next. When the timer fires first the call
// fails with ErrHostTimeout, even if the host ignores context cancellation;
// the abandoned call's result is dropped when it eventually arrives. A
// non-positive timeout returns next unchanged.
func WithTimeout(next SurfaceQuery, timeout time.Duration, clock timectrl.Clock) SurfaceQuery {
	if timeout <= 0 || next == nil {
		return next
	}
	if clock == nil {
		clock = timectrl.Wall{}
	}
	return &timeoutQuery{next: next, timeout: timeout, clock: clock}
}

func (q *timeoutQuery) SampleHeights(ctx context.Context, positions []r3.Vec) ([]Hit, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan queryResult, 1)
	go func() {
		hits, err := q.next.SampleHeights(ctx, positions)
		ch <- queryResult{hits: hits, err: err}
	}()

	timer := q.clock.After(q.timeout)
	select {
	case res := <-ch:
		return res.hits, res.err
	case <-timer:
		return nil, fmt.Errorf("%w after %s", ErrHostTimeout, q.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
