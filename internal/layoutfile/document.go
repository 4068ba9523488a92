// Package layoutfile reads and writes layout-generation inputs: a JSON
// document of roof segments and footprints, and point shapefiles of
// footprints exported from GIS tools.
package layoutfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/signalsfoundry/solar-placement/internal/placement"
	"github.com/signalsfoundry/solar-placement/model"
)

// ErrInvalidDocument wraps every structural problem in an input file.
var ErrInvalidDocument = errors.New("invalid layout document")

// Document is the on-disk JSON form of a layout. Latitude and longitude are
// nullable: upstream generators emit null for footprints they could not
// geolocate, and those footprints are dropped at placement time.
type Document struct {
	Segments   []SegmentDoc   `json:"segments"`
	Footprints []FootprintDoc `json:"footprints"`
}

// SegmentDoc is one roof segment.
type SegmentDoc struct {
	AzimuthDeg   float64  `json:"azimuth_deg"`
	PitchDeg     float64  `json:"pitch_deg"`
	PlaneHeightM float64  `json:"plane_height_m"`
	Center       *LatLon  `json:"center,omitempty"`
	ExtentM      *float64 `json:"extent_m,omitempty"`
}

// FootprintDoc is one panel footprint.
type FootprintDoc struct {
	ID          string   `json:"id,omitempty"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Segment     int      `json:"segment"`
	Orientation string   `json:"orientation,omitempty"`
}

// LatLon is a bare geodetic coordinate in degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Decode parses a JSON layout document. Unknown fields are rejected.
func Decode(r io.Reader) (placement.Layout, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return placement.Layout{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc.Layout()
}

// DecodeBytes is Decode over an in-memory document.
func DecodeBytes(b []byte) (placement.Layout, error) {
	return Decode(bytes.NewReader(b))
}

// Load reads a JSON layout document from path.
func Load(path string) (placement.Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return placement.Layout{}, err
	}
	defer f.Close()
	l, err := Decode(f)
	if err != nil {
		return placement.Layout{}, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Layout converts the document, checking orientation names and segment
// geometry.
func (d Document) Layout() (placement.Layout, error) {
	var l placement.Layout
	for i, s := range d.Segments {
		seg := model.RoofSegment{
			AzimuthDegrees:            s.AzimuthDeg,
			PitchDegrees:              s.PitchDeg,
			PlaneHeightAtCenterMeters: s.PlaneHeightM,
		}
		if s.Center != nil {
			seg.Center = &model.GeodeticPosition{LatitudeDeg: s.Center.Lat, LongitudeDeg: s.Center.Lon}
			if !seg.Center.HasLatLon() {
				return placement.Layout{}, fmt.Errorf("%w: segment %d centre %+v", ErrInvalidDocument, i, *s.Center)
			}
		}
		if s.ExtentM != nil {
			if *s.ExtentM < 0 {
				return placement.Layout{}, fmt.Errorf("%w: segment %d negative extent", ErrInvalidDocument, i)
			}
			seg.ExtentMeters = *s.ExtentM
		}
		l.Segments = append(l.Segments, seg)
	}

	for i, f := range d.Footprints {
		mode, err := model.ParseOrientationMode(f.Orientation)
		if err != nil {
			return placement.Layout{}, fmt.Errorf("%w: footprint %d: %v", ErrInvalidDocument, i, err)
		}
		center := model.Missing()
		if f.Lat != nil && f.Lon != nil {
			center = model.GeodeticPosition{LatitudeDeg: *f.Lat, LongitudeDeg: *f.Lon}
		}
		l.Footprints = append(l.Footprints, model.PanelFootprint{
			ID:           f.ID,
			Center:       center,
			SegmentIndex: f.Segment,
			Orientation:  mode,
		})
	}

	if err := l.Validate(); err != nil {
		return placement.Layout{}, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return l, nil
}

// FromLayout builds the document form of l.
func FromLayout(l placement.Layout) Document {
	var d Document
	for _, seg := range l.Segments {
		s := SegmentDoc{
			AzimuthDeg:   seg.AzimuthDegrees,
			PitchDeg:     seg.PitchDegrees,
			PlaneHeightM: seg.PlaneHeightAtCenterMeters,
		}
		if seg.Center != nil {
			s.Center = &LatLon{Lat: seg.Center.LatitudeDeg, Lon: seg.Center.LongitudeDeg}
		}
		if seg.ExtentMeters > 0 {
			ext := seg.ExtentMeters
			s.ExtentM = &ext
		}
		d.Segments = append(d.Segments, s)
	}
	for _, fp := range l.Footprints {
		f := FootprintDoc{
			ID:          fp.ID,
			Segment:     fp.SegmentIndex,
			Orientation: fp.Orientation.String(),
		}
		if !math.IsNaN(fp.Center.LatitudeDeg) && !math.IsNaN(fp.Center.LongitudeDeg) {
			lat, lon := fp.Center.LatitudeDeg, fp.Center.LongitudeDeg
			f.Lat, f.Lon = &lat, &lon
		}
		d.Footprints = append(d.Footprints, f)
	}
	return d
}

// Encode writes l as an indented JSON document.
func Encode(w io.Writer, l placement.Layout) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(FromLayout(l))
}
