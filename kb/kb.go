// Package kb holds the published panel pose set consumed by the rendering
// host.
package kb

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/solar-placement/model"
)

// ErrStaleGeneration is returned when a pose set older than the published
// one, or older than the last clear, is offered for publication.
var ErrStaleGeneration = errors.New("pose set generation is stale")

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventPosesPublished EventType = iota
	EventPosesCleared
)

// PoseSet is one complete, renderable layout.
type PoseSet struct {
	LayoutID    string
	Generation  uint64
	Status      model.BatchStatus
	Panels      []model.PlacedPanel
	Counts      model.HeightSourceCounts
	PublishedAt time.Time
}

func (p PoseSet) clone() PoseSet {
	p.Panels = append([]model.PlacedPanel(nil), p.Panels...)
	return p
}

// Event is emitted to subscribers when the published set changes.
type Event struct {
	Type EventType
	Set  PoseSet
}

// PoseStore is an in-memory, thread-safe holder for the current pose set.
// Sets are replaced whole; readers never observe a partial set.
type PoseStore struct {
	mu sync.RWMutex

	current *PoseSet
	// floor is the lowest generation Publish still accepts. It survives
	// Clear so a batch started before the clear cannot reappear.
	floor uint64
	now   func() time.Time

	nextSub int
	subs    map[int]func(Event)
}

// NewPoseStore constructs an empty store.
func NewPoseStore() *PoseStore {
	return &PoseStore{
		now:  time.Now,
		subs: make(map[int]func(Event)),
	}
}

// Publish replaces the current set. Sets whose generation is older than the
// published one, or than the last clear, are rejected with
// ErrStaleGeneration.
func (s *PoseStore) Publish(set PoseSet) error {
	s.mu.Lock()
	if set.Generation < s.floor {
		floor := s.floor
		s.mu.Unlock()
		return fmt.Errorf("%w: offered %d, minimum %d", ErrStaleGeneration, set.Generation, floor)
	}
	s.floor = set.Generation
	stored := set.clone()
	if stored.PublishedAt.IsZero() {
		stored.PublishedAt = s.now()
	}
	s.current = &stored
	event := Event{Type: EventPosesPublished, Set: stored.clone()}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Current returns a copy of the published set, if any.
func (s *PoseStore) Current() (PoseSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return PoseSet{}, false
	}
	return s.current.clone(), true
}

// Generation returns the generation of the published set, or 0.
func (s *PoseStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return s.current.Generation
}

// MinGeneration returns the lowest generation Publish accepts.
func (s *PoseStore) MinGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.floor
}

// Clear drops the published set so the consumer shows nothing. Sets of the
// cleared generation or older can no longer be published.
func (s *PoseStore) Clear() {
	s.clear(0)
}

// ClearBefore is Clear for a writer that has already allocated gen: every
// set older than gen is rejected from now on.
func (s *PoseStore) ClearBefore(gen uint64) {
	s.clear(gen)
}

func (s *PoseStore) clear(gen uint64) {
	s.mu.Lock()
	var last PoseSet
	if s.current != nil {
		last = PoseSet{LayoutID: s.current.LayoutID, Generation: s.current.Generation}
		if next := s.current.Generation + 1; next > gen {
			gen = next
		}
	}
	if gen > s.floor {
		s.floor = gen
	}
	s.current = nil
	subs := s.subscribersLocked()
	s.mu.Unlock()

	for _, sub := range subs {
		sub(Event{Type: EventPosesCleared, Set: last})
	}
}

// Subscribe registers a callback for store events. It returns an unsubscribe
// function.
func (s *PoseStore) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *PoseStore) subscribersLocked() []func(Event) {
	subs := make([]func(Event), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}
