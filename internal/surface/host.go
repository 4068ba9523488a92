package surface

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/solar-placement/internal/logging"
	"github.com/signalsfoundry/solar-placement/internal/sampling"
	"github.com/signalsfoundry/solar-placement/model"
	"github.com/signalsfoundry/solar-placement/timectrl"
)

// Host simulates a rendering host: flying the camera re-arms the tile
// signal and reports it settled once LoadDelay has elapsed on Clock.
type Host struct {
	Signal    *sampling.ReadySignal
	LoadDelay time.Duration
	Clock     timectrl.Clock
	Log       logging.Logger

	mu      sync.Mutex
	target  model.GeodeticPosition
	flights int
}

// NewHost returns a Host with a fresh ReadySignal on the wall clock.
func NewHost(loadDelay time.Duration, log logging.Logger) *Host {
	if log == nil {
		log = logging.Noop()
	}
	return &Host{
		Signal:    sampling.NewReadySignal(),
		LoadDelay: loadDelay,
		Clock:     timectrl.Wall{},
		Log:       log,
	}
}

// FlyTo points the camera at target. It returns immediately; tiles finish
// loading asynchronously. A later flight cancels the pending settle of an
// earlier one.
func (h *Host) FlyTo(ctx context.Context, target model.GeodeticPosition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	h.target = target
	h.flights++
	flight := h.flights
	h.mu.Unlock()

	h.Signal.Reset()
	if h.LoadDelay <= 0 {
		h.Signal.Settle()
		return nil
	}
	clock := h.Clock
	if clock == nil {
		clock = timectrl.Wall{}
	}
	timer := clock.After(h.LoadDelay)
	go func() {
		<-timer
		h.mu.Lock()
		current := h.flights == flight
		h.mu.Unlock()
		if !current {
			return
		}
		h.Log.Debug(context.Background(), "tiles settled",
			logging.Float64("lat", target.LatitudeDeg),
			logging.Float64("lon", target.LongitudeDeg),
		)
		h.Signal.Settle()
	}()
	return nil
}

// Target returns the last fly-to target and how many flights were made.
func (h *Host) Target() (model.GeodeticPosition, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target, h.flights
}
