package model

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// OrientationMode selects how a panel's long edge is laid on the roof.
type OrientationMode int

const (
	// Portrait runs the long edge along the downslope axis.
	Portrait OrientationMode = iota
	// Landscape runs the long edge across the slope.
	Landscape
)

func (m OrientationMode) String() string {
	switch m {
	case Portrait:
		return "PORTRAIT"
	case Landscape:
		return "LANDSCAPE"
	default:
		return fmt.Sprintf("OrientationMode(%d)", int(m))
	}
}

// ParseOrientationMode accepts PORTRAIT or LANDSCAPE in any case. An empty
// string is treated as portrait.
func ParseOrientationMode(s string) (OrientationMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "PORTRAIT":
		return Portrait, nil
	case "LANDSCAPE":
		return Landscape, nil
	default:
		return Portrait, fmt.Errorf("unknown orientation mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m OrientationMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *OrientationMode) UnmarshalText(b []byte) error {
	parsed, err := ParseOrientationMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// HeightSource records how a panel's elevation was determined.
type HeightSource int

const (
	// HeightUnset is the zero value; a pose carrying it is never published.
	HeightUnset HeightSource = iota
	// HeightClamped means the surface query returned an intersection.
	HeightClamped
	// HeightFallback means the batch succeeded but this position missed the
	// surface, so the segment plane height was used.
	HeightFallback
	// HeightEstimated means the whole batch failed and every panel used the
	// segment plane height.
	HeightEstimated
)

// HeightSources lists the set values in reporting order.
var HeightSources = []HeightSource{HeightClamped, HeightFallback, HeightEstimated}

func (s HeightSource) String() string {
	switch s {
	case HeightClamped:
		return "CLAMPED"
	case HeightFallback:
		return "FALLBACK"
	case HeightEstimated:
		return "ESTIMATED"
	default:
		return "UNSET"
	}
}

// ParseHeightSource is the inverse of HeightSource.String.
func ParseHeightSource(s string) (HeightSource, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CLAMPED":
		return HeightClamped, nil
	case "FALLBACK":
		return HeightFallback, nil
	case "ESTIMATED":
		return HeightEstimated, nil
	default:
		return HeightUnset, fmt.Errorf("unknown height source %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s HeightSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *HeightSource) UnmarshalText(b []byte) error {
	parsed, err := ParseHeightSource(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// PanelFootprint is a ground-level panel location produced by the upstream
// layout generator. It is never mutated after creation.
type PanelFootprint struct {
	ID           string           `json:"id,omitempty"`
	Center       GeodeticPosition `json:"center"`
	SegmentIndex int              `json:"segment_index"`
	Orientation  OrientationMode  `json:"orientation"`
}

// PanelDimensions are the physical dimensions shared by every panel in a
// session, in metres. Height is the long edge.
type PanelDimensions struct {
	Width     float64 `json:"width_m"`
	Height    float64 `json:"height_m"`
	Thickness float64 `json:"thickness_m"`
}

// PanelBox is the oriented box rendered for a panel. Width runs along the
// panel's local X (across slope), Length along local Y (downslope).
type PanelBox struct {
	Width     float64 `json:"width_m"`
	Length    float64 `json:"length_m"`
	Thickness float64 `json:"thickness_m"`
}

// ResolvedPanelPose is a panel's global (ECEF metres) position and its
// local-to-global orientation.
type ResolvedPanelPose struct {
	Position     r3.Vec       `json:"position"`
	Orientation  quat.Number  `json:"orientation"`
	HeightSource HeightSource `json:"height_source"`
}

// Style is the read-only render hint attached to a placed panel.
type Style struct {
	Color   string `json:"color"`
	Outline bool   `json:"outline"`
}

// PlacedPanel is the renderable unit: a footprint joined with its resolved
// pose and box.
type PlacedPanel struct {
	Index        int               `json:"index"`
	FootprintID  string            `json:"footprint_id,omitempty"`
	SegmentIndex int               `json:"segment_index"`
	Box          PanelBox          `json:"box"`
	Pose         ResolvedPanelPose `json:"pose"`
	Style        Style             `json:"style"`
}
