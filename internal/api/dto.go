package api

import (
	"encoding/json"
	"fmt"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/solar-placement/core"
	"github.com/signalsfoundry/solar-placement/internal/audit"
	"github.com/signalsfoundry/solar-placement/internal/layoutfile"
	"github.com/signalsfoundry/solar-placement/internal/placement"
	"github.com/signalsfoundry/solar-placement/internal/sampling"
	"github.com/signalsfoundry/solar-placement/kb"
	"github.com/signalsfoundry/solar-placement/model"
)

// GenerateRequest is the envelope accepted by GenerateLayout. A bare layout
// document is accepted as well and implies Audit false.
type GenerateRequest struct {
	Layout layoutfile.Document `json:"layout"`
	Audit  bool                `json:"audit,omitempty"`
}

// Panel is the wire form of a placed panel. Orientation is w, x, y, z.
type Panel struct {
	Index        int                    `json:"index"`
	FootprintID  string                 `json:"footprint_id,omitempty"`
	SegmentIndex int                    `json:"segment_index"`
	Box          model.PanelBox         `json:"box"`
	Position     [3]float64             `json:"position_ecef_m"`
	Orientation  [4]float64             `json:"orientation_wxyz"`
	Geodetic     model.GeodeticPosition `json:"geodetic"`
	HeightSource model.HeightSource     `json:"height_source"`
	Style        model.Style            `json:"style"`
}

// LayoutResult is the wire form of a generated or published layout.
type LayoutResult struct {
	LayoutID    string                      `json:"layout_id"`
	Generation  uint64                      `json:"generation"`
	Status      model.BatchStatus           `json:"status"`
	Counts      model.HeightSourceCounts    `json:"counts"`
	HostError   string                      `json:"host_error,omitempty"`
	Dropped     []sampling.DroppedFootprint `json:"dropped,omitempty"`
	Panels      []Panel                     `json:"panels"`
	Audited     bool                        `json:"audited,omitempty"`
	Overlaps    []audit.Overlap             `json:"overlaps,omitempty"`
	PublishedAt *time.Time                  `json:"published_at,omitempty"`
}

func panelFrom(p model.PlacedPanel) Panel {
	pos, q := p.Pose.Position, p.Pose.Orientation
	return Panel{
		Index:        p.Index,
		FootprintID:  p.FootprintID,
		SegmentIndex: p.SegmentIndex,
		Box:          p.Box,
		Position:     [3]float64{pos.X, pos.Y, pos.Z},
		Orientation:  [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		Geodetic:     core.ECEFToGeodetic(pos),
		HeightSource: p.Pose.HeightSource,
		Style:        p.Style,
	}
}

// PlacedPanel converts p back to the model form.
func (p Panel) PlacedPanel() model.PlacedPanel {
	return model.PlacedPanel{
		Index:        p.Index,
		FootprintID:  p.FootprintID,
		SegmentIndex: p.SegmentIndex,
		Box:          p.Box,
		Pose: model.ResolvedPanelPose{
			Position:     r3.Vec{X: p.Position[0], Y: p.Position[1], Z: p.Position[2]},
			Orientation:  quat.Number{Real: p.Orientation[0], Imag: p.Orientation[1], Jmag: p.Orientation[2], Kmag: p.Orientation[3]},
			HeightSource: p.HeightSource,
		},
		Style: p.Style,
	}
}

func panelsFrom(in []model.PlacedPanel) []Panel {
	out := make([]Panel, len(in))
	for i, p := range in {
		out[i] = panelFrom(p)
	}
	return out
}

// NewLayoutResult converts an engine result to its wire form.
func NewLayoutResult(res *placement.Result) *LayoutResult {
	return &LayoutResult{
		LayoutID:   res.LayoutID,
		Generation: res.Generation,
		Status:     res.Status,
		Counts:     res.Counts,
		HostError:  res.HostError,
		Dropped:    res.Dropped,
		Panels:     panelsFrom(res.Panels),
	}
}

func resultFromPoseSet(set kb.PoseSet) *LayoutResult {
	published := set.PublishedAt.UTC()
	return &LayoutResult{
		LayoutID:    set.LayoutID,
		Generation:  set.Generation,
		Status:      set.Status,
		Counts:      set.Counts,
		Panels:      panelsFrom(set.Panels),
		PublishedAt: &published,
	}
}

// toStruct carries v's JSON encoding as a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return s, nil
}

// fromStruct decodes s into v through its JSON encoding.
func fromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// decodeGenerateRequest accepts either a GenerateRequest envelope or a bare
// layout document.
func decodeGenerateRequest(req *structpb.Struct) (placement.Layout, bool, error) {
	if req == nil {
		return placement.Layout{}, false, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	doc := req
	wantAudit := false
	if v, ok := req.GetFields()["layout"]; ok {
		inner := v.GetStructValue()
		if inner == nil {
			return placement.Layout{}, false, fmt.Errorf("%w: layout must be an object", ErrInvalidRequest)
		}
		for key, f := range req.GetFields() {
			switch key {
			case "layout":
			case "audit":
				if _, isBool := f.GetKind().(*structpb.Value_BoolValue); !isBool {
					return placement.Layout{}, false, fmt.Errorf("%w: audit must be a boolean", ErrInvalidRequest)
				}
				wantAudit = f.GetBoolValue()
			default:
				return placement.Layout{}, false, fmt.Errorf("%w: unknown field %q", ErrInvalidRequest, key)
			}
		}
		doc = inner
	}
	b, err := protojson.Marshal(doc)
	if err != nil {
		return placement.Layout{}, false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	layout, err := layoutfile.DecodeBytes(b)
	if err != nil {
		return placement.Layout{}, false, err
	}
	return layout, wantAudit, nil
}
