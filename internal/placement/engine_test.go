package placement

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/solar-placement/core"
	"github.com/signalsfoundry/solar-placement/internal/sampling"
	"github.com/signalsfoundry/solar-placement/internal/surface"
	"github.com/signalsfoundry/solar-placement/kb"
	"github.com/signalsfoundry/solar-placement/model"
	"github.com/signalsfoundry/solar-placement/timectrl"
)

type stubMetrics struct {
	mu        sync.Mutex
	layouts   []model.BatchStatus
	samplings int
	stale     int
	dropped   int
}

func (m *stubMetrics) ObserveLayout(s model.BatchStatus, _ model.HeightSourceCounts) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layouts = append(m.layouts, s)
}

func (m *stubMetrics) ObserveSampling(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samplings++
}

func (m *stubMetrics) IncStaleBatches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale++
}

func (m *stubMetrics) AddDroppedFootprints(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped += n
}

type stubRecorder struct {
	mu      sync.Mutex
	results []*Result
	err     error
}

func (r *stubRecorder) RecordLayout(_ context.Context, res *Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return r.err
}

type failingSettler struct{}

func (failingSettler) WaitSettled(context.Context, model.GeodeticPosition) error {
	return errors.New("tiles never loaded")
}

// liftQuery answers every position dz metres above the ground.
func liftQuery(dz float64) sampling.SurfaceFunc {
	return func(_ context.Context, positions []r3.Vec) ([]sampling.Hit, error) {
		hits := make([]sampling.Hit, len(positions))
		for i, p := range positions {
			g := core.ECEFToGeodetic(p)
			hits[i] = sampling.HitAt(core.GeodeticToECEF(g.AtHeight(g.HeightMeters + dz)))
		}
		return hits, nil
	}
}

func testLayout(n int) Layout {
	l := Layout{
		Segments: []model.RoofSegment{
			{AzimuthDegrees: 180, PitchDegrees: 30, PlaneHeightAtCenterMeters: 12},
			{AzimuthDegrees: 270, PitchDegrees: 20, PlaneHeightAtCenterMeters: 10},
		},
	}
	for i := 0; i < n; i++ {
		mode := model.Portrait
		if i%3 == 0 {
			mode = model.Landscape
		}
		l.Footprints = append(l.Footprints, model.PanelFootprint{
			ID:           string(rune('A' + i)),
			Center:       model.GeodeticPosition{LatitudeDeg: 40.0 + float64(i)*2e-5, LongitudeDeg: -105.0},
			SegmentIndex: i % 2,
			Orientation:  mode,
		})
	}
	return l
}

func newTestEngine(query sampling.SurfaceQuery, opts ...Option) *Engine {
	opts = append([]Option{WithSettler(sampling.Immediate{})}, opts...)
	return NewEngine(query, kb.NewPoseStore(), Config{}, nil, opts...)
}

func TestGenerateClampsAndPublishes(t *testing.T) {
	metrics := &stubMetrics{}
	engine := newTestEngine(liftQuery(15), WithMetrics(metrics))

	res, err := engine.Generate(context.Background(), testLayout(6))
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if res.Status != model.BatchResolved || res.Counts.Clamped != 6 {
		t.Fatalf("status=%v counts=%+v", res.Status, res.Counts)
	}
	if res.LayoutID == "" || res.Generation != 1 {
		t.Fatalf("LayoutID=%q Generation=%d", res.LayoutID, res.Generation)
	}

	set, ok := engine.Poses().Current()
	if !ok || set.LayoutID != res.LayoutID || len(set.Panels) != 6 {
		t.Fatalf("published set = %+v, %v", set, ok)
	}
	if _, phase := engine.Phase(); phase != sampling.PhaseResolved {
		t.Fatalf("phase = %v, want RESOLVED", phase)
	}
	if len(metrics.layouts) != 1 || metrics.samplings != 1 {
		t.Fatalf("metrics = %+v", metrics)
	}

	for i, p := range res.Panels {
		if p.Index != i || p.FootprintID != string(rune('A'+i)) {
			t.Fatalf("panel %d out of order: %+v", i, p)
		}
		h := core.ECEFToGeodetic(p.Pose.Position).HeightMeters
		if math.Abs(h-(15+DefaultConfig().VisibilityOffsetMeters)) > 1e-3 {
			t.Fatalf("panel %d height = %v", i, h)
		}
	}
	if got := res.Panels[0].Box; got.Width != DefaultPanel.Height || got.Length != DefaultPanel.Width {
		t.Fatalf("landscape box = %+v", got)
	}
	if got := res.Panels[1].Box; got.Width != DefaultPanel.Width || got.Length != DefaultPanel.Height {
		t.Fatalf("portrait box = %+v", got)
	}
}

func TestGenerateHostFailureEstimatesEveryPanel(t *testing.T) {
	failing := sampling.SurfaceFunc(func(context.Context, []r3.Vec) ([]sampling.Hit, error) {
		return nil, errors.New("mesh unavailable")
	})
	engine := newTestEngine(failing)
	layout := testLayout(6)

	res, err := engine.Generate(context.Background(), layout)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if res.Status != model.BatchDegraded || res.HostError == "" {
		t.Fatalf("status=%v hostErr=%q", res.Status, res.HostError)
	}
	if len(res.Panels) != 6 {
		t.Fatalf("len(Panels) = %d, want 6", len(res.Panels))
	}
	offset := engine.Config().VisibilityOffsetMeters
	for i, p := range res.Panels {
		if p.Pose.HeightSource != model.HeightEstimated {
			t.Fatalf("panel %d source = %v", i, p.Pose.HeightSource)
		}
		want := layout.Segments[p.SegmentIndex].PlaneHeightAtCenterMeters + offset
		if h := core.ECEFToGeodetic(p.Pose.Position).HeightMeters; math.Abs(h-want) > 1e-3 {
			t.Fatalf("panel %d height = %v, want %v", i, h, want)
		}
		if !p.Style.Outline {
			t.Fatalf("estimated panel %d should be outlined", i)
		}
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	engine := newTestEngine(liftQuery(7))
	layout := testLayout(5)

	first, err := engine.Generate(context.Background(), layout)
	if err != nil {
		t.Fatalf("first Generate error: %v", err)
	}
	second, err := engine.Generate(context.Background(), layout)
	if err != nil {
		t.Fatalf("second Generate error: %v", err)
	}
	if first.LayoutID == second.LayoutID {
		t.Fatalf("each run should get its own layout id")
	}
	if diff := cmp.Diff(first.Panels, second.Panels, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("panels differ between runs (-first +second):\n%s", diff)
	}
}

func TestGenerateOrientationMatchesComposer(t *testing.T) {
	engine := newTestEngine(liftQuery(3))
	layout := testLayout(4)

	res, err := engine.Generate(context.Background(), layout)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	for i, p := range res.Panels {
		fp := layout.Footprints[i]
		want := core.PanelOrientation(layout.Segments[fp.SegmentIndex], core.GeodeticToECEF(fp.Center.Ground()))
		if !core.SameRotation(p.Pose.Orientation, want, 1e-12) {
			t.Fatalf("panel %d orientation = %+v, want %+v", i, p.Pose.Orientation, want)
		}
	}
}

func TestGenerateDiscardsStaleBatch(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls int
	var mu sync.Mutex
	query := sampling.SurfaceFunc(func(ctx context.Context, positions []r3.Vec) ([]sampling.Hit, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
		return liftQuery(4)(ctx, positions)
	})
	metrics := &stubMetrics{}
	engine := newTestEngine(query, WithMetrics(metrics))

	staleErr := make(chan error, 1)
	go func() {
		_, err := engine.Generate(context.Background(), testLayout(6))
		staleErr <- err
	}()
	<-entered

	fresh, err := engine.Generate(context.Background(), testLayout(3))
	if err != nil {
		t.Fatalf("fresh Generate error: %v", err)
	}
	close(release)

	if err := <-staleErr; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("stale Generate error = %v, want ErrSuperseded", err)
	}
	set, ok := engine.Poses().Current()
	if !ok || set.Generation != fresh.Generation || len(set.Panels) != 3 {
		t.Fatalf("published set gen=%d panels=%d, want gen=%d panels=3", set.Generation, len(set.Panels), fresh.Generation)
	}
	if metrics.stale != 1 || len(metrics.layouts) != 1 {
		t.Fatalf("metrics stale=%d layouts=%d", metrics.stale, len(metrics.layouts))
	}
}

func TestGenerateEmptyLayout(t *testing.T) {
	metrics := &stubMetrics{}
	engine := newTestEngine(liftQuery(1), WithMetrics(metrics))
	layout := testLayout(2)
	for i := range layout.Footprints {
		layout.Footprints[i].Center = model.Missing()
	}

	if _, err := engine.Generate(context.Background(), layout); !errors.Is(err, ErrEmptyLayout) {
		t.Fatalf("Generate error = %v, want ErrEmptyLayout", err)
	}
	if _, ok := engine.Poses().Current(); ok {
		t.Fatalf("empty layout must not publish")
	}
	if _, phase := engine.Phase(); phase != sampling.PhaseFailed {
		t.Fatalf("phase = %v, want FAILED", phase)
	}
	if metrics.dropped != 2 {
		t.Fatalf("dropped = %d, want 2", metrics.dropped)
	}
}

func TestGenerateRejectsInvalidSegment(t *testing.T) {
	engine := newTestEngine(liftQuery(1))
	layout := testLayout(2)
	layout.Segments[1].PitchDegrees = 95

	if _, err := engine.Generate(context.Background(), layout); !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("Generate error = %v, want ErrInvalidLayout", err)
	}
}

func TestGenerateDropsFootprintsWithoutFailing(t *testing.T) {
	engine := newTestEngine(liftQuery(2))
	layout := testLayout(4)
	layout.Footprints[1].Center = model.Missing()
	layout.Footprints[2].SegmentIndex = 9

	res, err := engine.Generate(context.Background(), layout)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if len(res.Panels) != 2 || len(res.Dropped) != 2 {
		t.Fatalf("panels=%d dropped=%d", len(res.Panels), len(res.Dropped))
	}
	if res.Panels[0].Index != 0 || res.Panels[1].Index != 3 {
		t.Fatalf("panel indices = %d, %d; want 0, 3", res.Panels[0].Index, res.Panels[1].Index)
	}
}

func TestGenerateTimeoutDegrades(t *testing.T) {
	clock := timectrl.NewManual(time.Unix(0, 0))
	release := make(chan struct{})
	defer close(release)
	stuck := sampling.SurfaceFunc(func(context.Context, []r3.Vec) ([]sampling.Hit, error) {
		<-release
		return nil, nil
	})
	engine := newTestEngine(stuck, WithClock(clock))

	done := make(chan *Result, 1)
	go func() {
		res, err := engine.Generate(context.Background(), testLayout(6))
		if err != nil {
			t.Errorf("Generate error: %v", err)
		}
		done <- res
	}()

	<-clock.WaitForTimers(1)
	clock.Advance(DefaultSampleTimeout)

	select {
	case res := <-done:
		if res == nil || res.Status != model.BatchDegraded || res.Counts.Estimated != 6 {
			t.Fatalf("res = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Generate did not return after the sample timeout")
	}
}

func TestGenerateFliesCameraAndRecords(t *testing.T) {
	c := model.GeodeticPosition{LatitudeDeg: 40.00005, LongitudeDeg: -105.0}
	layout := testLayout(6)
	layout.Segments[0].Center = &c
	layout.Segments[0].ExtentMeters = 50

	host := surface.NewHost(0, nil)
	recorder := &stubRecorder{err: errors.New("disk full")}
	engine := NewEngine(surface.NewPlanar(layout.Segments), nil, Config{}, nil,
		WithSceneHost(host),
		WithSettler(host.Signal),
		WithRecorder(recorder),
	)

	res, err := engine.Generate(context.Background(), layout)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if _, flights := host.Target(); flights != 1 {
		t.Fatalf("flights = %d, want 1", flights)
	}
	if len(recorder.results) != 1 || recorder.results[0] != res {
		t.Fatalf("recorder saw %d results", len(recorder.results))
	}
	// Segment 1 has no centre, so the planar surface misses it.
	want := model.HeightSourceCounts{Clamped: 3, Fallback: 3}
	if diff := cmp.Diff(want, res.Counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateProceedsWhenSettleFails(t *testing.T) {
	engine := NewEngine(liftQuery(1), nil, Config{}, nil, WithSettler(failingSettler{}))
	if _, err := engine.Generate(context.Background(), testLayout(2)); err != nil {
		t.Fatalf("Generate error: %v", err)
	}
}

func TestGenerateCancelledDuringSettle(t *testing.T) {
	engine := NewEngine(liftQuery(1), nil, Config{}, nil, WithSettler(sampling.NewReadySignal()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Generate(ctx, testLayout(2)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate error = %v, want context.Canceled", err)
	}
}

func TestGenerateDoesNotRetainCallerSlices(t *testing.T) {
	engine := newTestEngine(liftQuery(1))
	layout := testLayout(2)
	res, err := engine.Generate(context.Background(), layout)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	layout.Footprints[0].ID = "mutated"
	if res.Panels[0].FootprintID == "mutated" {
		t.Fatalf("result aliases caller footprints")
	}
}

func TestClearSupersedesAndEmptiesStore(t *testing.T) {
	engine := newTestEngine(liftQuery(1))
	if _, err := engine.Generate(context.Background(), testLayout(2)); err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	engine.Clear()
	if _, ok := engine.Poses().Current(); ok {
		t.Fatalf("Clear left a published set")
	}
	res, err := engine.Generate(context.Background(), testLayout(2))
	if err != nil || res.Generation != 3 {
		t.Fatalf("Generate after Clear = %+v, %v", res, err)
	}
}

// blockUntilCancelled parks the first query until its context ends and
// reports the context error on seen. Later calls answer immediately.
func blockUntilCancelled(entered chan<- struct{}, seen chan<- error) sampling.SurfaceFunc {
	var once sync.Once
	return func(ctx context.Context, positions []r3.Vec) ([]sampling.Hit, error) {
		first := false
		once.Do(func() { first = true })
		if !first {
			return liftQuery(2)(ctx, positions)
		}
		close(entered)
		<-ctx.Done()
		seen <- ctx.Err()
		return nil, ctx.Err()
	}
}

func TestGenerateCancelledDuringSamplingPublishesNothing(t *testing.T) {
	entered := make(chan struct{})
	seen := make(chan error, 1)
	metrics := &stubMetrics{}
	recorder := &stubRecorder{}
	engine := newTestEngine(blockUntilCancelled(entered, seen),
		WithMetrics(metrics), WithRecorder(recorder))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		res, err := engine.Generate(ctx, testLayout(4))
		if res != nil {
			t.Errorf("cancelled Generate returned a result: %+v", res)
		}
		done <- err
	}()
	<-entered
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate error = %v, want context.Canceled", err)
	}
	if set, ok := engine.Poses().Current(); ok {
		t.Fatalf("cancelled batch published %s with %d panels", set.Status, len(set.Panels))
	}
	if len(recorder.results) != 0 || len(metrics.layouts) != 0 {
		t.Fatalf("cancelled batch recorded=%d observed=%d", len(recorder.results), len(metrics.layouts))
	}
	if _, phase := engine.Phase(); phase != sampling.PhaseFailed {
		t.Fatalf("phase = %v, want PhaseFailed", phase)
	}
}

func TestGenerateCancelsSupersededHostQuery(t *testing.T) {
	entered := make(chan struct{})
	seen := make(chan error, 1)
	engine := newTestEngine(blockUntilCancelled(entered, seen))

	staleErr := make(chan error, 1)
	go func() {
		_, err := engine.Generate(context.Background(), testLayout(3))
		staleErr <- err
	}()
	<-entered

	fresh, err := engine.Generate(context.Background(), testLayout(2))
	if err != nil {
		t.Fatalf("fresh Generate error: %v", err)
	}

	select {
	case err := <-seen:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("superseded query saw %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("superseded host query was not cancelled")
	}
	if err := <-staleErr; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("stale Generate error = %v, want ErrSuperseded", err)
	}
	set, ok := engine.Poses().Current()
	if !ok || set.Generation != fresh.Generation {
		t.Fatalf("published gen=%d ok=%v, want gen=%d", set.Generation, ok, fresh.Generation)
	}
}

func TestClearStopsInFlightBatch(t *testing.T) {
	entered := make(chan struct{})
	seen := make(chan error, 1)
	engine := newTestEngine(blockUntilCancelled(entered, seen))

	staleErr := make(chan error, 1)
	go func() {
		_, err := engine.Generate(context.Background(), testLayout(3))
		staleErr <- err
	}()
	<-entered
	engine.Clear()

	if err := <-staleErr; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Generate error = %v, want ErrSuperseded", err)
	}
	if _, ok := engine.Poses().Current(); ok {
		t.Fatalf("batch started before Clear was published")
	}
	if err := engine.Poses().Publish(kb.PoseSet{Generation: 1}); !errors.Is(err, kb.ErrStaleGeneration) {
		t.Fatalf("Publish(gen 1) after Clear error = %v, want ErrStaleGeneration", err)
	}
}

func TestGenerateOnSamplesGivenSurface(t *testing.T) {
	engine := newTestEngine(liftQuery(1))
	offset := engine.Config().VisibilityOffsetMeters

	for _, tc := range []struct {
		name  string
		query sampling.SurfaceQuery
		lift  float64
	}{
		{name: "per-call surface", query: liftQuery(5), lift: 5},
		{name: "nil uses host surface", query: nil, lift: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res, err := engine.GenerateOn(context.Background(), testLayout(2), tc.query)
			if err != nil {
				t.Fatalf("GenerateOn error: %v", err)
			}
			for i, p := range res.Panels {
				h := core.ECEFToGeodetic(p.Pose.Position).HeightMeters
				if math.Abs(h-(tc.lift+offset)) > 1e-3 {
					t.Fatalf("panel %d height = %.4f, want %.4f", i, h, tc.lift+offset)
				}
			}
		})
	}
}
