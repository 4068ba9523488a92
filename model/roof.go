package model

// RoofSegment describes one planar roof facet.
//
// AzimuthDegrees is the compass direction the slope faces (0=N, 90=E,
// 180=S, 270=W). PitchDegrees is the tilt from horizontal (0=flat,
// 90=vertical). PlaneHeightAtCenterMeters is the fallback elevation used
// when the surface query cannot resolve a panel.
type RoofSegment struct {
	AzimuthDegrees            float64 `json:"azimuth_deg"`
	PitchDegrees              float64 `json:"pitch_deg"`
	PlaneHeightAtCenterMeters float64 `json:"plane_height_at_center_m"`

	// Center and ExtentMeters are optional. They are only consulted by the
	// planar surface model; the placement pipeline itself never reads them.
	Center       *GeodeticPosition `json:"center,omitempty"`
	ExtentMeters float64           `json:"extent_m,omitempty"`
}
