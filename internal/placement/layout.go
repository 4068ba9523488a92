package placement

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/solar-placement/internal/sampling"
	"github.com/signalsfoundry/solar-placement/model"
)

var (
	// ErrInvalidLayout reports roof segments that cannot be oriented.
	ErrInvalidLayout = errors.New("invalid layout")
	// ErrEmptyLayout is returned when no footprint can be placed.
	ErrEmptyLayout = sampling.ErrEmptyLayout
	// ErrSuperseded is returned by a Generate call whose results arrived
	// after a newer call had started. Nothing is published for it.
	ErrSuperseded = errors.New("layout generation superseded by a newer request")
)

// Layout is one layout-generation request: the roof segments and the
// footprints placed on them. Footprints reference segments by index.
type Layout struct {
	Segments   []model.RoofSegment    `json:"segments"`
	Footprints []model.PanelFootprint `json:"footprints"`
}

// Validate checks segment geometry. Footprint problems are not errors here;
// unusable footprints are dropped during sampling.
func (l Layout) Validate() error {
	for i, seg := range l.Segments {
		if math.IsNaN(seg.AzimuthDegrees) || math.IsInf(seg.AzimuthDegrees, 0) {
			return fmt.Errorf("%w: segment %d azimuth %v", ErrInvalidLayout, i, seg.AzimuthDegrees)
		}
		if !(seg.PitchDegrees >= 0 && seg.PitchDegrees <= 90) {
			return fmt.Errorf("%w: segment %d pitch %v outside [0, 90]", ErrInvalidLayout, i, seg.PitchDegrees)
		}
		if math.IsNaN(seg.PlaneHeightAtCenterMeters) || math.IsInf(seg.PlaneHeightAtCenterMeters, 0) {
			return fmt.Errorf("%w: segment %d plane height %v", ErrInvalidLayout, i, seg.PlaneHeightAtCenterMeters)
		}
	}
	return nil
}

// Clone returns a deep copy so a run never observes caller mutations.
func (l Layout) Clone() Layout {
	out := Layout{
		Segments:   make([]model.RoofSegment, len(l.Segments)),
		Footprints: append([]model.PanelFootprint(nil), l.Footprints...),
	}
	for i, seg := range l.Segments {
		if seg.Center != nil {
			c := *seg.Center
			seg.Center = &c
		}
		out.Segments[i] = seg
	}
	return out
}

// Center returns the mean latitude/longitude of the usable footprints, used
// as the camera target before sampling.
func (l Layout) Center() (model.GeodeticPosition, bool) {
	var lat, lon float64
	n := 0
	for _, fp := range l.Footprints {
		if !fp.Center.HasLatLon() {
			continue
		}
		lat += fp.Center.LatitudeDeg
		lon += fp.Center.LongitudeDeg
		n++
	}
	if n == 0 {
		return model.Missing(), false
	}
	return model.GeodeticPosition{LatitudeDeg: lat / float64(n), LongitudeDeg: lon / float64(n)}, true
}
