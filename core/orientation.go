package core

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/solar-placement/model"
)

// RoofFrame is the right-handed panel frame on a roof facet, expressed in
// ENU. Normal is the panel's local Z.
type RoofFrame struct {
	AcrossSlope r3.Vec // local X
	AlongSlope  r3.Vec // local Y
	Normal      r3.Vec // local Z
}

// RoofNormal returns the unit surface normal of a facet in ENU coordinates.
// At zero pitch it is straight up regardless of azimuth.
func RoofNormal(azimuthDeg, pitchDeg float64) r3.Vec {
	az := azimuthDeg * degToRad
	pitch := pitchDeg * degToRad
	return r3.Vec{
		X: -math.Sin(az) * math.Sin(pitch),
		Y: -math.Cos(az) * math.Sin(pitch),
		Z: math.Cos(pitch),
	}
}

// NewRoofFrame derives the panel axes for a facet. The along-slope axis is
// the horizontal azimuth direction h projected onto the roof plane,
// h − (h·n)n, normalised. With h·n = −sin(pitch) that projection is
// cos(pitch)·(sin az·cos pitch, cos az·cos pitch, sin pitch); the bracketed
// vector is already unit length, so it is used directly and stays defined
// for a vertical wall.
func NewRoofFrame(azimuthDeg, pitchDeg float64) RoofFrame {
	normal := RoofNormal(azimuthDeg, pitchDeg)

	az := azimuthDeg * degToRad
	pitch := pitchDeg * degToRad

	along := r3.Unit(r3.Vec{
		X: math.Sin(az) * math.Cos(pitch),
		Y: math.Cos(az) * math.Cos(pitch),
		Z: math.Sin(pitch),
	})
	across := r3.Unit(r3.Cross(along, normal))

	return RoofFrame{
		AcrossSlope: across,
		AlongSlope:  along,
		Normal:      normal,
	}
}

// Matrix returns the local-to-ENU rotation with columns [X, Y, normal].
func (f RoofFrame) Matrix() Mat3 {
	return ColumnMat(f.AcrossSlope, f.AlongSlope, f.Normal)
}

// LocalToENU returns the panel-local to ENU rotation for a segment.
func LocalToENU(seg model.RoofSegment) quat.Number {
	return MatrixToQuaternion(NewRoofFrame(seg.AzimuthDegrees, seg.PitchDegrees).Matrix())
}

// ENUToGlobal returns the rotation carrying ENU axes at p into ECEF.
func ENUToGlobal(p r3.Vec) quat.Number {
	return MatrixToQuaternion(ENUToECEFRotation(p))
}

// ComposeOrientation combines a precomputed local-to-ENU rotation with the
// ENU frame at position. The local rotation is applied first.
func ComposeOrientation(localToENU quat.Number, position r3.Vec) quat.Number {
	return Normalize(quat.Mul(ENUToGlobal(position), localToENU))
}

// PanelOrientation is ComposeOrientation for a segment.
func PanelOrientation(seg model.RoofSegment, position r3.Vec) quat.Number {
	return ComposeOrientation(LocalToENU(seg), position)
}

// MatrixToQuaternion converts a rotation matrix to a unit quaternion using
// Shepperd's method, branching on the largest diagonal term for stability.
func MatrixToQuaternion(m Mat3) quat.Number {
	m00, m11, m22 := m.At(0, 0), m.At(1, 1), m.At(2, 2)
	trace := m00 + m11 + m22

	var q quat.Number
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{
			Real: 0.25 * s,
			Imag: (m.At(2, 1) - m.At(1, 2)) / s,
			Jmag: (m.At(0, 2) - m.At(2, 0)) / s,
			Kmag: (m.At(1, 0) - m.At(0, 1)) / s,
		}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = quat.Number{
			Real: (m.At(2, 1) - m.At(1, 2)) / s,
			Imag: 0.25 * s,
			Jmag: (m.At(0, 1) + m.At(1, 0)) / s,
			Kmag: (m.At(0, 2) + m.At(2, 0)) / s,
		}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = quat.Number{
			Real: (m.At(0, 2) - m.At(2, 0)) / s,
			Imag: (m.At(0, 1) + m.At(1, 0)) / s,
			Jmag: 0.25 * s,
			Kmag: (m.At(1, 2) + m.At(2, 1)) / s,
		}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = quat.Number{
			Real: (m.At(1, 0) - m.At(0, 1)) / s,
			Imag: (m.At(0, 2) + m.At(2, 0)) / s,
			Jmag: (m.At(1, 2) + m.At(2, 1)) / s,
			Kmag: 0.25 * s,
		}
	}
	return Normalize(q)
}

// Normalize scales q to unit length. The zero quaternion maps to identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// RotateVector applies the rotation q to v.
func RotateVector(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// SameRotation reports whether a and b describe the same rotation within
// tol, treating q and -q as equal.
func SameRotation(a, b quat.Number, tol float64) bool {
	d := math.Abs(a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag)
	return 1-d <= tol
}
