package placement

import (
	"testing"
	"time"

	"github.com/signalsfoundry/solar-placement/model"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.VisibilityOffsetMeters != 0.1 || cfg.Panel != DefaultPanel {
		t.Fatalf("DefaultConfig() = %+v", cfg)
	}
	if cfg.SampleTimeout != DefaultSampleTimeout || cfg.SettleDelay != DefaultSettleDelay {
		t.Fatalf("DefaultConfig() durations = %s, %s", cfg.SampleTimeout, cfg.SettleDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig invalid: %v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PLACEMENT_VISIBILITY_OFFSET_M", "0.25")
	t.Setenv("PLACEMENT_PANEL_WIDTH_M", "1.1")
	t.Setenv("PLACEMENT_SAMPLE_TIMEOUT", "5s")
	t.Setenv("PLACEMENT_SETTLE_DELAY", "750ms")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv error: %v", err)
	}
	if cfg.VisibilityOffsetMeters != 0.25 || cfg.Panel.Width != 1.1 || cfg.Panel.Height != DefaultPanel.Height {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.SampleTimeout != 5*time.Second || cfg.SettleDelay != 750*time.Millisecond {
		t.Fatalf("durations = %s, %s", cfg.SampleTimeout, cfg.SettleDelay)
	}
}

func TestConfigFromEnvRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"PLACEMENT_VISIBILITY_OFFSET_M": "-1",
		"PLACEMENT_PANEL_HEIGHT_M":      "tall",
		"PLACEMENT_SAMPLE_TIMEOUT":      "soon",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := ConfigFromEnv(); err == nil {
				t.Fatalf("expected error for %s=%s", key, val)
			}
		})
	}
}

func TestWithDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		VisibilityOffsetMeters: 0.3,
		Panel:                  model.PanelDimensions{Width: 1, Height: 2, Thickness: 0.05},
		SampleTimeout:          -1,
	}.WithDefaults()
	if cfg.VisibilityOffsetMeters != 0.3 || cfg.Panel.Height != 2 || cfg.SampleTimeout != -1 {
		t.Fatalf("WithDefaults overwrote explicit values: %+v", cfg)
	}
}
