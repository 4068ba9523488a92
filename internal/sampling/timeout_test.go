package sampling

import (
	"context"
	"errors"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/solar-placement/model"
	"github.com/signalsfoundry/solar-placement/timectrl"
)

func TestWithTimeoutPassesThroughFastQuery(t *testing.T) {
	clock := timectrl.NewManual(time.Unix(0, 0))
	q := WithTimeout(liftBy(1), time.Second, clock)

	hits, err := q.SampleHeights(context.Background(), []r3.Vec{{X: 6378137}})
	if err != nil || len(hits) != 1 || !hits[0].OK {
		t.Fatalf("SampleHeights = %+v, %v", hits, err)
	}
}

func TestWithTimeoutDegradesStuckHost(t *testing.T) {
	clock := timectrl.NewManual(time.Unix(0, 0))
	release := make(chan struct{})
	defer close(release)

	// The host ignores cancellation entirely.
	stuck := SurfaceFunc(func(context.Context, []r3.Vec) ([]Hit, error) {
		<-release
		return nil, nil
	})
	q := WithTimeout(stuck, 30*time.Second, clock)

	b := mustPrepare(t, testSegments(), sixFootprints())
	done := make(chan Result, 1)
	go func() {
		done <- NewSampler(q, testOffset, nil).Sample(context.Background(), b)
	}()

	<-clock.WaitForTimers(1)
	clock.Advance(30 * time.Second)

	select {
	case res := <-done:
		if !errors.Is(res.HostErr, ErrHostTimeout) {
			t.Fatalf("HostErr = %v, want ErrHostTimeout", res.HostErr)
		}
		if res.Status != model.BatchDegraded || res.Counts.Estimated != 6 {
			t.Fatalf("res status=%v counts=%+v", res.Status, res.Counts)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sampler did not return after timeout")
	}
}

func TestWithTimeoutHonoursContext(t *testing.T) {
	clock := timectrl.NewManual(time.Unix(0, 0))
	blocking := SurfaceFunc(func(ctx context.Context, _ []r3.Vec) ([]Hit, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	q := WithTimeout(blocking, time.Hour, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.SampleHeights(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestWithTimeoutDisabled(t *testing.T) {
	inner := liftBy(1)
	if q := WithTimeout(inner, 0, nil); q == nil {
		t.Fatalf("WithTimeout(0) returned nil")
	}
	if _, ok := WithTimeout(inner, 0, nil).(SurfaceFunc); !ok {
		t.Fatalf("WithTimeout(0) should return the query unchanged")
	}
}
