package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"nova/internal/freebusy"
)

// Static is an in-memory provider. It backs tests and offline runs.
// The same event list is served for every account.
type Static struct {
	mu      sync.Mutex
	events  []Event
	created []EventSpec
	seq     int
	// Err, when set, fails every call with ErrProviderUnavailable.
	Err error
}

func NewStatic(events ...Event) *Static {
	return &Static{events: append([]Event(nil), events...)}
}

func (s *Static) SetError(err error) {
	s.mu.Lock()
	s.Err = err
	s.mu.Unlock()
}

func (s *Static) Events(_ context.Context, _ Account, start, end time.Time) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, s.Err)
	}
	var out []Event
	for _, e := range s.events {
		var hit bool
		if e.EndUnspecified {
			hit = !e.Start.Before(start) && e.Start.Before(end)
		} else {
			hit = e.End.After(start) && e.Start.Before(end)
		}
		if hit {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *Static) BusyIntervals(ctx context.Context, acct Account, start, end time.Time) ([]freebusy.Interval, error) {
	evs, err := s.Events(ctx, acct, start, end)
	if err != nil {
		return nil, err
	}
	return Busy(evs, true), nil
}

// CreateEvent records spec and adds its first occurrence to the event list.
func (s *Static) CreateEvent(_ context.Context, _ Account, spec EventSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", fmt.Errorf("%w: %w", ErrProviderUnavailable, s.Err)
	}
	s.seq++
	id := fmt.Sprintf("static-%d", s.seq)
	s.created = append(s.created, spec)
	s.events = append(s.events, Event{ID: id, Summary: spec.Summary, Start: spec.Start, End: spec.End, Tag: spec.Tag})
	return id, nil
}

// Created returns the specs passed to CreateEvent, in call order.
func (s *Static) Created() []EventSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EventSpec(nil), s.created...)
}
