// Package placement orchestrates layout generation: it validates a layout,
// settles the host scene, samples panel heights in one batch while
// orientations are composed, and publishes the complete pose set.
package placement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/num/quat"

	"github.com/signalsfoundry/solar-placement/core"
	"github.com/signalsfoundry/solar-placement/internal/logging"
	"github.com/signalsfoundry/solar-placement/internal/sampling"
	"github.com/signalsfoundry/solar-placement/kb"
	"github.com/signalsfoundry/solar-placement/model"
	"github.com/signalsfoundry/solar-placement/timectrl"
)

const tracerName = "github.com/signalsfoundry/solar-placement/internal/placement"

// SceneHost moves the rendering host's camera so the area under a layout
// starts loading before it is sampled.
type SceneHost interface {
	FlyTo(ctx context.Context, target model.GeodeticPosition) error
}

// Recorder persists published layouts. Failures are logged, never returned
// to the Generate caller.
type Recorder interface {
	RecordLayout(ctx context.Context, res *Result) error
}

// Metrics receives placement counters.
type Metrics interface {
	ObserveLayout(status model.BatchStatus, counts model.HeightSourceCounts)
	ObserveSampling(d time.Duration)
	IncStaleBatches()
	AddDroppedFootprints(n int)
}

// Result is one published layout.
type Result struct {
	LayoutID   string
	Generation uint64
	Status     model.BatchStatus
	Panels     []model.PlacedPanel
	Dropped    []sampling.DroppedFootprint
	Counts     model.HeightSourceCounts
	// HostError describes the surface query failure of a degraded batch.
	HostError  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// PoseSet converts r to the form held by the pose store.
func (r *Result) PoseSet() kb.PoseSet {
	return kb.PoseSet{
		LayoutID:   r.LayoutID,
		Generation: r.Generation,
		Status:     r.Status,
		Panels:     r.Panels,
		Counts:     r.Counts,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithSettler replaces the default FixedDelay settler.
func WithSettler(s sampling.AreaSettler) Option {
	return func(e *Engine) { e.settler = s }
}

// WithSceneHost makes the engine fly the host camera to each layout.
func WithSceneHost(h SceneHost) Option {
	return func(e *Engine) { e.host = h }
}

// WithRecorder persists every published layout.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithStylePolicy overrides the panel style policy.
func WithStylePolicy(p core.StylePolicy) Option {
	return func(e *Engine) { e.style = p }
}

// WithClock sets the clock used for timeouts, settle delays and timestamps.
func WithClock(c timectrl.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine generates panel layouts. It is safe for concurrent use; only the
// most recent Generate call may publish.
type Engine struct {
	cfg      Config
	log      logging.Logger
	query    sampling.SurfaceQuery
	sampler  *sampling.Sampler
	poses    *kb.PoseStore
	settler  sampling.AreaSettler
	host     SceneHost
	recorder Recorder
	metrics  Metrics
	style    core.StylePolicy
	clock    timectrl.Clock
	phases   sampling.PhaseTracker

	mu         sync.Mutex
	gen        uint64
	cancelPrev context.CancelFunc
}

// NewEngine builds an Engine over the host surface query. Published pose
// sets go to poses; a nil store gets a private one.
func NewEngine(query sampling.SurfaceQuery, poses *kb.PoseStore, cfg Config, log logging.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logging.Noop()
	}
	if poses == nil {
		poses = kb.NewPoseStore()
	}
	e := &Engine{
		cfg:   cfg.WithDefaults(),
		log:   log,
		query: query,
		poses: poses,
		style: core.HeightSourceStyle,
		clock: timectrl.Wall{},
		gen:   poses.MinGeneration(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.settler == nil {
		e.settler = sampling.FixedDelay{Delay: e.cfg.SettleDelay, Clock: e.clock}
	}
	e.sampler = e.newSampler(query)
	return e
}

func (e *Engine) newSampler(query sampling.SurfaceQuery) *sampling.Sampler {
	return sampling.NewSampler(
		sampling.WithTimeout(query, e.cfg.SampleTimeout, e.clock),
		e.cfg.VisibilityOffsetMeters,
		e.log,
	)
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Poses returns the store the engine publishes to.
func (e *Engine) Poses() *kb.PoseStore { return e.poses }

// Phase reports the newest batch's generation and phase.
func (e *Engine) Phase() (uint64, sampling.Phase) { return e.phases.Current() }

// Clear supersedes any in-flight batch and removes the published pose set.
// Batches started before Clear can no longer publish.
func (e *Engine) Clear() {
	gen, _, cancel := e.nextGeneration(context.Background())
	cancel()
	e.poses.ClearBefore(gen)
}

// nextGeneration allocates a generation and a context for its batch. The
// previous batch's context is cancelled so its host query stops early.
func (e *Engine) nextGeneration(ctx context.Context) (uint64, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelPrev != nil {
		e.cancelPrev()
	}
	e.gen++
	e.cancelPrev = cancel
	return e.gen, ctx, cancel
}

func (e *Engine) isCurrent(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen == gen
}

// Generate places every usable footprint of layout and publishes the
// result as one complete pose set. It returns ErrInvalidLayout for bad
// segment geometry, ErrEmptyLayout when no footprint survives validation,
// ErrSuperseded when a newer call started before sampling finished and the
// context's error when ctx ends first. Host surface failures are not
// errors: they yield a DEGRADED result with every height ESTIMATED.
func (e *Engine) Generate(ctx context.Context, layout Layout) (*Result, error) {
	return e.GenerateOn(ctx, layout, nil)
}

// GenerateOn is like Generate but samples query instead of the engine's
// host surface. A nil query falls back to the host surface.
func (e *Engine) GenerateOn(ctx context.Context, layout Layout, query sampling.SurfaceQuery) (*Result, error) {
	gen, batchCtx, cancel := e.nextGeneration(ctx)
	defer cancel()
	layoutID := uuid.NewString()
	log := logging.LoggerFromContext(ctx)
	if log == nil {
		log = e.log
	}
	log = log.With(logging.LayoutID(layoutID), logging.Generation(gen))

	batchCtx, span := otel.Tracer(tracerName).Start(batchCtx, "placement.Generate",
		trace.WithAttributes(
			attribute.String("layout_id", layoutID),
			attribute.Int64("generation", int64(gen)),
			attribute.Int("segments", len(layout.Segments)),
			attribute.Int("footprints", len(layout.Footprints)),
		))
	defer span.End()
	// ctx keeps the caller's cancellation and carries the span for logs
	// and the recorder; batchCtx also ends when a newer batch starts.
	ctx = trace.ContextWithSpan(ctx, span)

	fail := func(err error) (*Result, error) {
		e.phases.Set(gen, sampling.PhaseFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	superseded := func(reason string) (*Result, error) {
		if e.metrics != nil {
			e.metrics.IncStaleBatches()
		}
		log.Info(ctx, reason)
		span.SetAttributes(attribute.Bool("stale", true))
		return nil, ErrSuperseded
	}

	e.phases.Begin(gen)
	if err := layout.Validate(); err != nil {
		log.Warn(ctx, "rejecting layout", logging.Err(err))
		return fail(err)
	}
	layout = layout.Clone()
	started := e.clock.Now()

	batch, err := sampling.Prepare(layout.Segments, layout.Footprints)
	for _, d := range batch.Dropped {
		log.Warn(ctx, "dropping footprint",
			logging.Footprint(d.Index),
			logging.String("footprint_id", d.ID),
			logging.String("reason", d.Reason),
		)
	}
	if e.metrics != nil {
		e.metrics.AddDroppedFootprints(len(batch.Dropped))
	}
	if err != nil {
		log.Warn(ctx, "layout has nothing to place", logging.Int("dropped", len(batch.Dropped)))
		return fail(err)
	}

	if err := e.settle(batchCtx, log, layout); err != nil {
		if ctx.Err() == nil {
			return superseded("superseded while settling")
		}
		return fail(err)
	}

	sampler := e.sampler
	if query != nil {
		sampler = e.newSampler(query)
	}
	e.phases.Set(gen, sampling.PhaseSampling)
	sampled := make(chan sampling.Result, 1)
	go func() {
		sampled <- sampler.Sample(batchCtx, batch)
	}()

	orientations := e.orientations(batch)
	res := <-sampled
	if e.metrics != nil {
		e.metrics.ObserveSampling(e.clock.Now().Sub(started))
	}

	// A cancelled caller gets its context error; the host failure this
	// produced inside the batch is not a degraded layout.
	if err := ctx.Err(); err != nil {
		log.Info(ctx, "caller gave up while sampling", logging.Err(err))
		return fail(err)
	}
	if !e.isCurrent(gen) || batchCtx.Err() != nil {
		return superseded("discarding stale sampling batch")
	}

	out := &Result{
		LayoutID:   layoutID,
		Generation: gen,
		Status:     res.Status,
		Panels:     make([]model.PlacedPanel, len(batch.Entries)),
		Dropped:    res.Dropped,
		Counts:     res.Counts,
		StartedAt:  started,
		FinishedAt: e.clock.Now(),
	}
	if res.HostErr != nil {
		out.HostError = res.HostErr.Error()
	}
	for i, entry := range batch.Entries {
		pose := model.ResolvedPanelPose{
			Position:     res.Heights[i].Position,
			Orientation:  orientations[i],
			HeightSource: res.Heights[i].Source,
		}
		out.Panels[i] = core.AssemblePanel(entry.Index, entry.Footprint, pose, e.cfg.Panel, e.style)
	}

	if err := e.poses.Publish(out.PoseSet()); err != nil {
		log.Debug(ctx, "pose store rejected layout", logging.Err(err))
		return superseded("pose store holds a newer layout")
	}
	e.phases.Set(gen, sampling.PhaseResolved)

	if e.metrics != nil {
		e.metrics.ObserveLayout(out.Status, out.Counts)
	}
	if e.recorder != nil {
		if err := e.recorder.RecordLayout(ctx, out); err != nil {
			log.Warn(ctx, "failed to record layout", logging.Err(err))
		}
	}

	span.SetAttributes(
		attribute.String("status", out.Status.String()),
		attribute.Int("panels", len(out.Panels)),
	)
	log.Info(ctx, "published layout",
		logging.String("status", out.Status.String()),
		logging.Int("panels", len(out.Panels)),
		logging.Int("clamped", out.Counts.Clamped),
		logging.Int("fallback", out.Counts.Fallback),
		logging.Int("estimated", out.Counts.Estimated),
	)
	return out, nil
}

// settle flies the camera to the layout and waits for the host to load it.
// Settle failures are logged and sampling proceeds anyway; only a cancelled
// context aborts.
func (e *Engine) settle(ctx context.Context, log logging.Logger, layout Layout) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "placement.Settle")
	defer span.End()

	target, ok := layout.Center()
	if e.host != nil && ok {
		if err := e.host.FlyTo(ctx, target); err != nil {
			log.Warn(ctx, "camera fly-to failed", logging.Err(err))
		}
	}
	if err := e.settler.WaitSettled(ctx, target); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Warn(ctx, "scene did not settle; sampling anyway", logging.Err(err))
	}
	return nil
}

// orientations composes one quaternion per batch entry. The local rotation
// depends only on the segment, so it is computed once per segment.
func (e *Engine) orientations(b sampling.Batch) []quat.Number {
	local := make(map[int]quat.Number)
	out := make([]quat.Number, len(b.Entries))
	for i, entry := range b.Entries {
		q, ok := local[entry.Footprint.SegmentIndex]
		if !ok {
			q = core.LocalToENU(entry.Segment)
			local[entry.Footprint.SegmentIndex] = q
		}
		out[i] = core.ComposeOrientation(q, entry.Ground)
	}
	return out
}
