package placement

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/solar-placement/internal/sampling"
	"github.com/signalsfoundry/solar-placement/model"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultSampleTimeout = 30 * time.Second
	DefaultSettleDelay   = sampling.DefaultSettleDelay
)

// DefaultPanel is a common 60-cell residential module.
var DefaultPanel = model.PanelDimensions{Width: 1.045, Height: 1.879, Thickness: 0.04}

// Config holds session-wide placement settings. The visibility offset and
// panel dimensions are constant for every panel generated by one Engine.
type Config struct {
	VisibilityOffsetMeters float64
	Panel                  model.PanelDimensions
	// SampleTimeout bounds the host surface query. Zero means the default;
	// a negative value disables the timeout.
	SampleTimeout time.Duration
	// SettleDelay is used by the FixedDelay settler when no explicit
	// settler is configured.
	SettleDelay time.Duration
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults fills zero fields with their defaults.
func (c Config) WithDefaults() Config {
	if c.VisibilityOffsetMeters == 0 {
		c.VisibilityOffsetMeters = sampling.DefaultVisibilityOffsetMeters
	}
	if c.Panel == (model.PanelDimensions{}) {
		c.Panel = DefaultPanel
	}
	if c.SampleTimeout == 0 {
		c.SampleTimeout = DefaultSampleTimeout
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if !(c.VisibilityOffsetMeters > 0) {
		return fmt.Errorf("visibility offset must be positive, got %v", c.VisibilityOffsetMeters)
	}
	if !(c.Panel.Width > 0) || !(c.Panel.Height > 0) || !(c.Panel.Thickness > 0) {
		return fmt.Errorf("panel dimensions must be positive, got %+v", c.Panel)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle delay must not be negative, got %s", c.SettleDelay)
	}
	return nil
}

// ConfigFromEnv overlays PLACEMENT_* environment variables on the defaults.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	floats := []struct {
		key string
		dst *float64
	}{
		{"PLACEMENT_VISIBILITY_OFFSET_M", &cfg.VisibilityOffsetMeters},
		{"PLACEMENT_PANEL_WIDTH_M", &cfg.Panel.Width},
		{"PLACEMENT_PANEL_HEIGHT_M", &cfg.Panel.Height},
		{"PLACEMENT_PANEL_THICKNESS_M", &cfg.Panel.Thickness},
	}
	for _, f := range floats {
		raw := strings.TrimSpace(os.Getenv(f.key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PLACEMENT_SAMPLE_TIMEOUT", &cfg.SampleTimeout},
		{"PLACEMENT_SETTLE_DELAY", &cfg.SettleDelay},
	}
	for _, d := range durations {
		raw := strings.TrimSpace(os.Getenv(d.key))
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
