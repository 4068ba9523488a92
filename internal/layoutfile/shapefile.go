package layoutfile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"

	"github.com/signalsfoundry/solar-placement/model"
)

// Shapefile attribute names. DBF limits names to ten characters.
const (
	FieldID          = "ID"
	FieldSegment     = "SEGMENT"
	FieldOrientation = "ORIENT"
)

// LoadFootprints reads panel footprints from a point shapefile. Point X is
// longitude and Y latitude. SEGMENT is required; ID and ORIENT are
// optional. Records of other geometry types are rejected.
func LoadFootprints(path string) ([]model.PanelFootprint, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	defer r.Close()

	cols := map[string]int{}
	for i, f := range r.Fields() {
		cols[strings.ToUpper(f.String())] = i
	}
	segCol, ok := cols[FieldSegment]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s attribute", ErrInvalidDocument, path, FieldSegment)
	}
	attr := func(row int, name string) string {
		if col, ok := cols[name]; ok {
			return r.ReadAttribute(row, col)
		}
		return ""
	}

	var out []model.PanelFootprint
	for r.Next() {
		row, shape := r.Shape()
		var lon, lat float64
		switch p := shape.(type) {
		case *shp.Point:
			lon, lat = p.X, p.Y
		case *shp.PointZ:
			lon, lat = p.X, p.Y
		default:
			return nil, fmt.Errorf("%w: record %d is %T, want a point", ErrInvalidDocument, row, shape)
		}

		seg, err := strconv.Atoi(strings.TrimSpace(r.ReadAttribute(row, segCol)))
		if err != nil {
			return nil, fmt.Errorf("%w: record %d %s: %v", ErrInvalidDocument, row, FieldSegment, err)
		}
		mode, err := model.ParseOrientationMode(attr(row, FieldOrientation))
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidDocument, row, err)
		}
		id := attr(row, FieldID)
		if id == "" {
			id = strconv.Itoa(row)
		}
		out = append(out, model.PanelFootprint{
			ID:           id,
			Center:       model.GeodeticPosition{LatitudeDeg: lat, LongitudeDeg: lon},
			SegmentIndex: seg,
			Orientation:  mode,
		})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile %s: %w", path, err)
	}
	return out, nil
}

// WriteFootprints writes footprints as a point shapefile readable by
// LoadFootprints. Footprints without a latitude/longitude are skipped.
func WriteFootprints(path string, footprints []model.PanelFootprint) error {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return fmt.Errorf("create shapefile %s: %w", path, err)
	}
	defer w.Close()

	if err := w.SetFields([]shp.Field{
		shp.StringField(FieldID, 32),
		shp.NumberField(FieldSegment, 6),
		shp.StringField(FieldOrientation, 10),
	}); err != nil {
		return fmt.Errorf("set shapefile fields: %w", err)
	}

	for _, fp := range footprints {
		if !fp.Center.HasLatLon() {
			continue
		}
		row := int(w.Write(&shp.Point{X: fp.Center.LongitudeDeg, Y: fp.Center.LatitudeDeg}))
		for col, v := range []interface{}{fp.ID, fp.SegmentIndex, fp.Orientation.String()} {
			if err := w.WriteAttribute(row, col, v); err != nil {
				return fmt.Errorf("write footprint %q: %w", fp.ID, err)
			}
		}
	}
	return nil
}
