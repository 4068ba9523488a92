package core

import (
	"testing"

	"github.com/signalsfoundry/solar-placement/model"
)

var testDims = model.PanelDimensions{Width: 1.045, Height: 1.879, Thickness: 0.04}

func TestPanelBoxFor(t *testing.T) {
	portrait := PanelBoxFor(testDims, model.Portrait)
	if portrait.Width != 1.045 || portrait.Length != 1.879 || portrait.Thickness != 0.04 {
		t.Fatalf("portrait box = %+v", portrait)
	}

	landscape := PanelBoxFor(testDims, model.Landscape)
	if landscape.Width != 1.879 || landscape.Length != 1.045 || landscape.Thickness != 0.04 {
		t.Fatalf("landscape box = %+v", landscape)
	}
}

func TestAssemblePanel_AppliesStylePolicy(t *testing.T) {
	fp := model.PanelFootprint{ID: "fp-7", SegmentIndex: 2, Orientation: model.Landscape}
	pose := model.ResolvedPanelPose{HeightSource: model.HeightFallback}

	p := AssemblePanel(7, fp, pose, testDims, nil)
	if p.Index != 7 || p.FootprintID != "fp-7" || p.SegmentIndex != 2 {
		t.Fatalf("identity fields not carried: %+v", p)
	}
	if p.Box.Width != testDims.Height {
		t.Fatalf("landscape width = %v, want %v", p.Box.Width, testDims.Height)
	}
	if !p.Style.Outline {
		t.Fatalf("fallback panel should be outlined by default: %+v", p.Style)
	}

	custom := AssemblePanel(0, fp, pose, testDims, func(model.PlacedPanel) model.Style {
		return model.Style{Color: "#000000"}
	})
	if custom.Style.Color != "#000000" {
		t.Fatalf("custom policy ignored: %+v", custom.Style)
	}
}
