package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "f1sync/internal/log"
	"f1sync/internal/metrics"
	"f1sync/internal/model"
)

// Store holds the current schedule and reloads it on demand or on a cron
// schedule. A failed reload keeps the previous events.
type Store struct {
	loader *Loader
	source string

	mu       sync.RWMutex
	events   []model.Event
	loadedAt time.Time

	cron *cron.Cron
}

func NewStore(loader *Loader, source string) *Store {
	return &Store{loader: loader, source: source}
}

// Refresh reloads the schedule from the source.
func (s *Store) Refresh(ctx context.Context) error {
	events, err := s.loader.Load(ctx, s.source)
	if err != nil {
		appLog.Error("schedule refresh failed", err, "source", s.source)
		return err
	}

	s.mu.Lock()
	s.events = events
	s.loadedAt = time.Now()
	s.mu.Unlock()

	metrics.ScheduleEvents.Set(float64(len(events)))
	return nil
}

// Events returns a copy of the current schedule, sorted by round.
func (s *Store) Events() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Event looks up one round.
func (s *Store) Event(round int) (model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.events {
		if ev.Round == round {
			return ev, true
		}
	}
	return model.Event{}, false
}

// LoadedAt is the time of the last successful refresh.
func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// StartRefresh reloads the schedule on the given cron spec (standard five
// fields or descriptors like "@every 6h") until ctx is done. An empty spec
// disables periodic refresh.
func (s *Store) StartRefresh(ctx context.Context, spec string) error {
	if spec == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		rctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		_ = s.Refresh(rctx)
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	appLog.Info("schedule refresh scheduled", "spec", spec)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
