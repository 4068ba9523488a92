package model

import "math"

// GeodeticPosition is a point given by WGS-84 latitude/longitude in degrees
// and height in metres above the ellipsoid.
//
// A footprint whose latitude or longitude was never supplied carries NaN in
// that field; see HasLatLon.
type GeodeticPosition struct {
	LatitudeDeg  float64 `json:"latitude_deg"`
	LongitudeDeg float64 `json:"longitude_deg"`
	HeightMeters float64 `json:"height_m"`
}

// Missing returns a position with no latitude/longitude.
func Missing() GeodeticPosition {
	return GeodeticPosition{LatitudeDeg: math.NaN(), LongitudeDeg: math.NaN()}
}

// HasLatLon reports whether the position carries a usable latitude and
// longitude.
func (g GeodeticPosition) HasLatLon() bool {
	if math.IsNaN(g.LatitudeDeg) || math.IsNaN(g.LongitudeDeg) {
		return false
	}
	if math.IsInf(g.LatitudeDeg, 0) || math.IsInf(g.LongitudeDeg, 0) {
		return false
	}
	return math.Abs(g.LatitudeDeg) <= 90 && math.Abs(g.LongitudeDeg) <= 180
}

// AtHeight returns a copy of g with HeightMeters replaced.
func (g GeodeticPosition) AtHeight(h float64) GeodeticPosition {
	g.HeightMeters = h
	return g
}

// Ground returns the same latitude/longitude at zero height.
func (g GeodeticPosition) Ground() GeodeticPosition {
	return g.AtHeight(0)
}
