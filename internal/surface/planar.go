// Package surface provides an analytic stand-in for the rendering host's
// building mesh: every roof segment with a known centre is modelled as a
// bounded plane. It backs the command-line tools and end-to-end tests.
package surface

import (
	"context"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/solar-placement/core"
	"github.com/signalsfoundry/solar-placement/internal/sampling"
	"github.com/signalsfoundry/solar-placement/model"
)

// maxPitchDegrees excludes near-vertical facets, whose height function is
// unbounded.
const maxPitchDegrees = 89.5

type facet struct {
	seg          model.RoofSegment
	center       r3.Vec
	toENU        core.Mat3
	sinAz, cosAz float64
	tanPitch     float64
}

// Planar answers height queries from a set of planar roof facets.
type Planar struct {
	facets []facet
}

// NewPlanar builds a surface from segments. Segments without a Center or
// with a non-positive extent contribute nothing, so queries over them miss.
func NewPlanar(segments []model.RoofSegment) *Planar {
	p := &Planar{}
	for _, seg := range segments {
		if seg.Center == nil || !seg.Center.HasLatLon() || seg.ExtentMeters <= 0 {
			continue
		}
		if seg.PitchDegrees >= maxPitchDegrees {
			continue
		}
		c := core.GeodeticToECEF(seg.Center.Ground())
		az := seg.AzimuthDegrees * math.Pi / 180
		p.facets = append(p.facets, facet{
			seg:      seg,
			center:   c,
			toENU:    core.ENUToECEFRotation(c).Transpose(),
			sinAz:    math.Sin(az),
			cosAz:    math.Cos(az),
			tanPitch: math.Tan(seg.PitchDegrees * math.Pi / 180),
		})
	}
	return p
}

// ForRoof builds the surface a single layout is sampled against. Every call
// returns an independent surface.
func ForRoof(segments []model.RoofSegment) sampling.SurfaceQuery {
	return NewPlanar(segments)
}

// Facets returns how many segments the surface can answer for.
func (p *Planar) Facets() int { return len(p.facets) }

// HeightAt returns the highest roof height above the ground position g and
// whether any facet covers it.
func (p *Planar) HeightAt(g model.GeodeticPosition) (float64, bool) {
	ground := core.GeodeticToECEF(g.Ground())
	best, found := 0.0, false
	for _, f := range p.facets {
		d := f.toENU.MulVec(r3.Sub(ground, f.center))
		if math.Hypot(d.X, d.Y) > f.seg.ExtentMeters {
			continue
		}
		// The facet rises towards its azimuth, matching core.RoofNormal.
		along := d.X*f.sinAz + d.Y*f.cosAz
		h := f.seg.PlaneHeightAtCenterMeters + f.tanPitch*along
		if !found || h > best {
			best, found = h, true
		}
	}
	return best, found
}

// SampleHeights implements sampling.SurfaceQuery.
func (p *Planar) SampleHeights(ctx context.Context, positions []r3.Vec) ([]sampling.Hit, error) {
	hits := make([]sampling.Hit, len(positions))
	for i, pos := range positions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g := core.ECEFToGeodetic(pos)
		h, ok := p.HeightAt(g)
		if !ok {
			hits[i] = sampling.Miss()
			continue
		}
		hits[i] = sampling.HitAt(core.GeodeticToECEF(g.AtHeight(h)))
	}
	return hits, nil
}
