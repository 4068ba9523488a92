package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/solar-placement/model"
)

// PlacementCollector exposes layout-generation metrics.
type PlacementCollector struct {
	gatherer prometheus.Gatherer

	LayoutsTotal      *prometheus.CounterVec
	PanelsTotal       *prometheus.CounterVec
	SamplingDuration  prometheus.Histogram
	StaleBatches      prometheus.Counter
	DroppedFootprints prometheus.Counter
	PublishedPanels   prometheus.Gauge
}

// NewPlacementCollector registers placement metrics against the provided registerer.
func NewPlacementCollector(reg prometheus.Registerer) (*PlacementCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	layouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "placement_layouts_total",
		Help: "Completed layout generations, labeled by batch status.",
	}, []string{"status"})
	layouts, err := registerCounterVec(reg, layouts, "placement_layouts_total")
	if err != nil {
		return nil, err
	}

	panels := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "placement_panels_total",
		Help: "Placed panels, labeled by height source.",
	}, []string{"height_source"})
	panels, err = registerCounterVec(reg, panels, "placement_panels_total")
	if err != nil {
		return nil, err
	}

	sampling := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "placement_sampling_duration_seconds",
		Help:    "Duration of batched surface height queries, including settle time.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})
	sampling, err = registerHistogram(reg, sampling, "placement_sampling_duration_seconds")
	if err != nil {
		return nil, err
	}

	stale, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "placement_stale_batches_total",
		Help: "Sampling batches discarded because a newer layout request superseded them.",
	}), "placement_stale_batches_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "placement_dropped_footprints_total",
		Help: "Footprints excluded before sampling for data-quality reasons.",
	}), "placement_dropped_footprints_total")
	if err != nil {
		return nil, err
	}

	published, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "placement_published_panels",
		Help: "Number of panels in the currently published pose set.",
	}), "placement_published_panels")
	if err != nil {
		return nil, err
	}

	return &PlacementCollector{
		gatherer:          gatherer,
		LayoutsTotal:      layouts,
		PanelsTotal:       panels,
		SamplingDuration:  sampling,
		StaleBatches:      stale,
		DroppedFootprints: dropped,
		PublishedPanels:   published,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PlacementCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a /metrics handler for the collector's registry.
func (c *PlacementCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

// ObserveLayout records a published layout.
func (c *PlacementCollector) ObserveLayout(status model.BatchStatus, counts model.HeightSourceCounts) {
	if c == nil {
		return
	}
	c.LayoutsTotal.WithLabelValues(status.String()).Inc()
	for _, src := range model.HeightSources {
		if n := counts.Get(src); n > 0 {
			c.PanelsTotal.WithLabelValues(src.String()).Add(float64(n))
		}
	}
	c.PublishedPanels.Set(float64(counts.Total()))
}

// ObserveSampling records the duration of one settle-and-sample run.
func (c *PlacementCollector) ObserveSampling(d time.Duration) {
	if c == nil || c.SamplingDuration == nil {
		return
	}
	c.SamplingDuration.Observe(d.Seconds())
}

// IncStaleBatches counts a discarded stale completion.
func (c *PlacementCollector) IncStaleBatches() {
	if c == nil || c.StaleBatches == nil {
		return
	}
	c.StaleBatches.Inc()
}

// AddDroppedFootprints counts footprints rejected before sampling.
func (c *PlacementCollector) AddDroppedFootprints(n int) {
	if c == nil || c.DroppedFootprints == nil || n <= 0 {
		return
	}
	c.DroppedFootprints.Add(float64(n))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
