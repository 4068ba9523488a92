// Package audit checks a placed layout for panels that interpenetrate.
// Each panel is modelled as a signed-distance box in a shared local frame.
package audit

import (
	"fmt"
	"math"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/solar-placement/core"
	"github.com/signalsfoundry/solar-placement/model"
)

// DefaultTolerance is how far, in metres, a probe point must sit inside
// another panel before the pair is reported. Panels laid edge to edge
// touch without overlapping. Interior depth never exceeds half the panel
// thickness, so the tolerance must stay below it.
const DefaultTolerance = 0.005

// Overlap is one pair of interpenetrating panels.
type Overlap struct {
	A          int    `json:"a"`
	B          int    `json:"b"`
	FootprintA string `json:"footprint_a,omitempty"`
	FootprintB string `json:"footprint_b,omitempty"`
	// Depth is how far the deepest probe point of one panel lies inside
	// the other.
	Depth float64 `json:"depth_m"`
}

type solid struct {
	panel  model.PlacedPanel
	sdf    sdf.SDF3
	center r3.Vec
	rot    quat.Number
	radius float64
}

// Overlaps returns every interpenetrating pair in panels. A non-positive
// tolerance selects DefaultTolerance.
func Overlaps(panels []model.PlacedPanel, tolerance float64) ([]Overlap, error) {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if len(panels) < 2 {
		return nil, nil
	}

	anchor := panels[0].Pose.Position
	toLocal := core.ENUToECEFRotation(anchor).Transpose()
	anchorRot := quat.Conj(core.ENUToGlobal(anchor))

	solids := make([]solid, len(panels))
	for i, p := range panels {
		s, err := newSolid(p, toLocal.MulVec(r3.Sub(p.Pose.Position, anchor)), core.Normalize(quat.Mul(anchorRot, p.Pose.Orientation)))
		if err != nil {
			return nil, fmt.Errorf("panel %d: %w", p.Index, err)
		}
		solids[i] = s
	}

	var out []Overlap
	for i := 0; i < len(solids); i++ {
		for j := i + 1; j < len(solids); j++ {
			a, b := solids[i], solids[j]
			if r3.Norm(r3.Sub(a.center, b.center)) > a.radius+b.radius {
				continue
			}
			depth := math.Max(penetration(a, b), penetration(b, a))
			if depth > tolerance {
				out = append(out, Overlap{
					A:          a.panel.Index,
					B:          b.panel.Index,
					FootprintA: a.panel.FootprintID,
					FootprintB: b.panel.FootprintID,
					Depth:      depth,
				})
			}
		}
	}
	return out, nil
}

func newSolid(p model.PlacedPanel, center r3.Vec, rot quat.Number) (solid, error) {
	box, err := sdf.Box3D(v3.Vec{X: p.Box.Width, Y: p.Box.Length, Z: p.Box.Thickness}, 0)
	if err != nil {
		return solid{}, err
	}
	m := sdf.Translate3d(v3.Vec{X: center.X, Y: center.Y, Z: center.Z})
	if axis, angle, ok := axisAngle(rot); ok {
		m = m.Mul(sdf.Rotate3d(axis, angle))
	}
	return solid{
		panel:  p,
		sdf:    sdf.Transform3D(box, m),
		center: center,
		rot:    rot,
		radius: 0.5 * math.Sqrt(p.Box.Width*p.Box.Width+p.Box.Length*p.Box.Length+p.Box.Thickness*p.Box.Thickness),
	}, nil
}

// penetration probes a 3x3 grid over b's mid-plane against a's distance
// field and returns the deepest inside distance, or 0.
func penetration(a, b solid) float64 {
	deepest := 0.0
	for _, u := range []float64{-0.5, 0, 0.5} {
		for _, v := range []float64{-0.5, 0, 0.5} {
			local := r3.Vec{X: u * b.panel.Box.Width, Y: v * b.panel.Box.Length}
			p := r3.Add(b.center, core.RotateVector(b.rot, local))
			if d := -a.sdf.Evaluate(v3.Vec{X: p.X, Y: p.Y, Z: p.Z}); d > deepest {
				deepest = d
			}
		}
	}
	return deepest
}

// axisAngle converts a unit quaternion to a rotation axis and angle. It
// reports false for the identity.
func axisAngle(q quat.Number) (v3.Vec, float64, bool) {
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	s := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if s < 1e-12 {
		return v3.Vec{}, 0, false
	}
	angle := 2 * math.Atan2(s, q.Real)
	return v3.Vec{X: q.Imag / s, Y: q.Jmag / s, Z: q.Kmag / s}, angle, true
}
