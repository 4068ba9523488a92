package core

import "github.com/signalsfoundry/solar-placement/model"

// StylePolicy maps a placed panel to its render style. It must not mutate
// the panel.
type StylePolicy func(model.PlacedPanel) model.Style

// HeightSourceStyle colours panels by height provenance and outlines any
// panel that did not clamp to the surface.
func HeightSourceStyle(p model.PlacedPanel) model.Style {
	switch p.Pose.HeightSource {
	case model.HeightClamped:
		return model.Style{Color: "#1f6feb"}
	case model.HeightFallback:
		return model.Style{Color: "#d29922", Outline: true}
	default:
		return model.Style{Color: "#f85149", Outline: true}
	}
}

// PanelBoxFor sizes the oriented box for one panel. Portrait panels run
// their long edge downslope; landscape panels run it across the slope.
func PanelBoxFor(dims model.PanelDimensions, mode model.OrientationMode) model.PanelBox {
	if mode == model.Landscape {
		return model.PanelBox{Width: dims.Height, Length: dims.Width, Thickness: dims.Thickness}
	}
	return model.PanelBox{Width: dims.Width, Length: dims.Height, Thickness: dims.Thickness}
}

// AssemblePanel joins a footprint with its resolved pose.
func AssemblePanel(index int, fp model.PanelFootprint, pose model.ResolvedPanelPose, dims model.PanelDimensions, style StylePolicy) model.PlacedPanel {
	p := model.PlacedPanel{
		Index:        index,
		FootprintID:  fp.ID,
		SegmentIndex: fp.SegmentIndex,
		Box:          PanelBoxFor(dims, fp.Orientation),
		Pose:         pose,
	}
	if style == nil {
		style = HeightSourceStyle
	}
	p.Style = style(p)
	return p
}
