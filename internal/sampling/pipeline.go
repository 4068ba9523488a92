package sampling

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/solar-placement/core"
	"github.com/signalsfoundry/solar-placement/internal/logging"
	"github.com/signalsfoundry/solar-placement/model"
)

const tracerName = "github.com/signalsfoundry/solar-placement/internal/sampling"

// DefaultVisibilityOffsetMeters is the vertical raise applied to every
// resolved height so rendered panels sit just above the roof mesh.
const DefaultVisibilityOffsetMeters = 0.1

// Drop reasons reported in DroppedFootprint.
const (
	ReasonMissingLatLon  = "missing latitude/longitude"
	ReasonUnknownSegment = "segment index out of range"
)

// DroppedFootprint is a footprint excluded before sampling. It is a data
// quality report, not a pipeline failure.
type DroppedFootprint struct {
	Index  int    `json:"index"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Entry is one footprint accepted into a batch, with its owning segment.
type Entry struct {
	// Index is the footprint's position in the caller's original list.
	Index     int
	Footprint model.PanelFootprint
	Segment   model.RoofSegment
	// Ground is the footprint's ECEF position at zero height.
	Ground r3.Vec
}

// Batch is the validated input of one sampling run. Entries keep the
// caller's relative order.
type Batch struct {
	Entries []Entry
	Dropped []DroppedFootprint
}

// Positions returns the ground positions in entry order.
func (b Batch) Positions() []r3.Vec {
	out := make([]r3.Vec, len(b.Entries))
	for i, e := range b.Entries {
		out[i] = e.Ground
	}
	return out
}

// ResolvedHeight is the elevation decided for one entry.
type ResolvedHeight struct {
	Index    int
	Geodetic model.GeodeticPosition
	Position r3.Vec
	Source   model.HeightSource
}

// Result is the complete outcome of one sampling run. Heights is parallel
// to the batch entries.
type Result struct {
	Status  model.BatchStatus
	Heights []ResolvedHeight
	Dropped []DroppedFootprint
	Counts  model.HeightSourceCounts
	// HostErr is the whole-batch failure that forced estimated heights.
	HostErr error
}

// Prepare validates footprints and builds the ground positions for a batch.
// Footprints without a usable latitude/longitude or whose segment index is
// out of range are dropped. An empty batch yields ErrEmptyLayout; the
// dropped list is still returned so callers can report it.
func Prepare(segments []model.RoofSegment, footprints []model.PanelFootprint) (Batch, error) {
	var b Batch
	for i, fp := range footprints {
		switch {
		case !fp.Center.HasLatLon():
			b.Dropped = append(b.Dropped, DroppedFootprint{Index: i, ID: fp.ID, Reason: ReasonMissingLatLon})
			continue
		case fp.SegmentIndex < 0 || fp.SegmentIndex >= len(segments):
			b.Dropped = append(b.Dropped, DroppedFootprint{Index: i, ID: fp.ID, Reason: ReasonUnknownSegment})
			continue
		}
		b.Entries = append(b.Entries, Entry{
			Index:     i,
			Footprint: fp,
			Segment:   segments[fp.SegmentIndex],
			Ground:    core.GeodeticToECEF(fp.Center.Ground()),
		})
	}
	if len(b.Entries) == 0 {
		return b, ErrEmptyLayout
	}
	return b, nil
}

// Sampler issues the batched surface query and classifies every result.
type Sampler struct {
	query  SurfaceQuery
	offset float64
	log    logging.Logger
}

// NewSampler returns a Sampler over query. A non-positive offset is replaced
// with DefaultVisibilityOffsetMeters.
func NewSampler(query SurfaceQuery, offsetMeters float64, log logging.Logger) *Sampler {
	if offsetMeters <= 0 {
		offsetMeters = DefaultVisibilityOffsetMeters
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Sampler{query: query, offset: offsetMeters, log: log}
}

// Offset returns the visibility offset applied to every height.
func (s *Sampler) Offset() float64 { return s.offset }

// Sample runs one batched query for b and returns a height per entry. It
// never fails: a host error, a nil query or a result list of the wrong
// length marks every entry ESTIMATED and the batch DEGRADED.
func (s *Sampler) Sample(ctx context.Context, b Batch) Result {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sampling.SampleHeights",
		trace.WithAttributes(
			attribute.Int("sampling.positions", len(b.Entries)),
			attribute.Int("sampling.dropped", len(b.Dropped)),
		))
	defer span.End()

	res := Result{
		Status:  model.BatchResolved,
		Heights: make([]ResolvedHeight, len(b.Entries)),
		Dropped: b.Dropped,
	}

	hits, err := s.runQuery(ctx, b.Positions())
	if err == nil && len(hits) != len(b.Entries) {
		err = fmt.Errorf("%w: got %d, want %d", ErrHostResultMismatch, len(hits), len(b.Entries))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "surface query failed")
		s.log.Warn(ctx, "surface query failed; estimating every panel height",
			logging.Int("positions", len(b.Entries)),
			logging.Err(err),
		)
		res.Status = model.BatchDegraded
		res.HostErr = err
		for i, e := range b.Entries {
			res.Heights[i] = s.planeEstimate(e, model.HeightEstimated)
			res.Counts.Add(model.HeightEstimated)
		}
		return res
	}

	for i, e := range b.Entries {
		if hits[i].usable() {
			res.Heights[i] = s.clamped(e, hits[i].Point)
		} else {
			res.Heights[i] = s.planeEstimate(e, model.HeightFallback)
		}
		res.Counts.Add(res.Heights[i].Source)
	}

	span.SetAttributes(
		attribute.Int("sampling.clamped", res.Counts.Clamped),
		attribute.Int("sampling.fallback", res.Counts.Fallback),
	)
	if res.Counts.Fallback > 0 {
		s.log.Debug(ctx, "surface query missed some footprints",
			logging.Int("fallback", res.Counts.Fallback),
			logging.Int("clamped", res.Counts.Clamped),
		)
	}
	return res
}

func (s *Sampler) runQuery(ctx context.Context, positions []r3.Vec) ([]Hit, error) {
	if s.query == nil {
		return nil, ErrNoSurfaceQuery
	}
	return s.query.SampleHeights(ctx, positions)
}

// clamped keeps the intersection's latitude/longitude and raises its height.
func (s *Sampler) clamped(e Entry, hit r3.Vec) ResolvedHeight {
	g := core.ECEFToGeodetic(hit)
	g = g.AtHeight(g.HeightMeters + s.offset)
	return ResolvedHeight{
		Index:    e.Index,
		Geodetic: g,
		Position: core.GeodeticToECEF(g),
		Source:   model.HeightClamped,
	}
}

func (s *Sampler) planeEstimate(e Entry, src model.HeightSource) ResolvedHeight {
	g := e.Footprint.Center.AtHeight(e.Segment.PlaneHeightAtCenterMeters + s.offset)
	return ResolvedHeight{
		Index:    e.Index,
		Geodetic: g,
		Position: core.GeodeticToECEF(g),
		Source:   src,
	}
}
