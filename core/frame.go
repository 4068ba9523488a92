package core

import (
	"math"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/solar-placement/model"
)

// WGS-84 ellipsoid, metres.
const (
	WGS84SemiMajorAxis = 6378137.0
	WGS84Flattening    = 1.0 / 298.257223563
	wgs84E2            = WGS84Flattening * (2 - WGS84Flattening)
	wgs84SemiMinorAxis = WGS84SemiMajorAxis * (1 - WGS84Flattening)
)

const degToRad = math.Pi / 180.0

// Mat3 is a 3×3 matrix stored by column.
type Mat3 struct {
	Cols [3]r3.Vec
}

// ColumnMat builds a matrix from its three columns.
func ColumnMat(c0, c1, c2 r3.Vec) Mat3 {
	return Mat3{Cols: [3]r3.Vec{c0, c1, c2}}
}

// At returns the element at row i, column j.
func (m Mat3) At(i, j int) float64 {
	c := m.Cols[j]
	switch i {
	case 0:
		return c.X
	case 1:
		return c.Y
	default:
		return c.Z
	}
}

// MulVec returns m·v.
func (m Mat3) MulVec(v r3.Vec) r3.Vec {
	out := r3.Scale(v.X, m.Cols[0])
	out = r3.Add(out, r3.Scale(v.Y, m.Cols[1]))
	return r3.Add(out, r3.Scale(v.Z, m.Cols[2]))
}

// Transpose returns mᵀ. For a rotation this is its inverse.
func (m Mat3) Transpose() Mat3 {
	var t Mat3
	for j := 0; j < 3; j++ {
		t.Cols[j] = r3.Vec{X: m.At(j, 0), Y: m.At(j, 1), Z: m.At(j, 2)}
	}
	return t
}

// GeodeticToECEF converts a WGS-84 geodetic position to Earth-centred,
// Earth-fixed Cartesian metres.
func GeodeticToECEF(g model.GeodeticPosition) r3.Vec {
	lat := g.LatitudeDeg * degToRad
	lon := g.LongitudeDeg * degToRad

	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	// Radius of curvature in the prime vertical.
	n := WGS84SemiMajorAxis / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return r3.Vec{
		X: (n + g.HeightMeters) * cosLat * cosLon,
		Y: (n + g.HeightMeters) * cosLat * sinLon,
		Z: (n*(1-wgs84E2) + g.HeightMeters) * sinLat,
	}
}

// ECEFToGeodetic is the inverse of GeodeticToECEF. go-satellite's
// oblate-earth ECI→LLA solver is used with a zero sidereal angle, which makes
// its inertial frame coincide with ECEF. It works in kilometres.
func ECEFToGeodetic(p r3.Vec) model.GeodeticPosition {
	const mPerKm = 1000.0
	altKm, _, ll := satellite.ECIToLLA(satellite.Vector3{
		X: p.X / mPerKm,
		Y: p.Y / mPerKm,
		Z: p.Z / mPerKm,
	}, 0)
	return model.GeodeticPosition{
		LatitudeDeg:  ll.Latitude / degToRad,
		LongitudeDeg: ll.Longitude / degToRad,
		HeightMeters: altKm * mPerKm,
	}
}

// SurfaceNormal returns the geodetic up direction at p: the outward normal of
// the ellipsoid surface passing through p.
func SurfaceNormal(p r3.Vec) r3.Vec {
	const a2 = WGS84SemiMajorAxis * WGS84SemiMajorAxis
	const b2 = wgs84SemiMinorAxis * wgs84SemiMinorAxis
	return r3.Unit(r3.Vec{X: p.X / a2, Y: p.Y / a2, Z: p.Z / b2})
}

// ENUToECEFRotation returns the rotation whose columns are the local East,
// North and Up unit vectors at p, expressed in ECEF. Points on the polar axis
// are not supported.
func ENUToECEFRotation(p r3.Vec) Mat3 {
	up := SurfaceNormal(p)
	east := r3.Unit(r3.Vec{X: -p.Y, Y: p.X})
	north := r3.Cross(up, east)
	return ColumnMat(east, north, up)
}
