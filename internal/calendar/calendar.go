// Package calendar reads busy time from and writes planned events to an
// external calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"nova/internal/freebusy"
)

var (
	// ErrProviderUnavailable wraps every failed provider call.
	ErrProviderUnavailable = errors.New("calendar provider unavailable")
	// ErrDisabled is returned, wrapped in ErrProviderUnavailable, by the
	// provider used when no calendar is configured.
	ErrDisabled            = errors.New("calendar disabled")
	ErrNoAccount           = errors.New("calendar account not linked")

	errDisabled = fmt.Errorf("%w: %w", ErrProviderUnavailable, ErrDisabled)
)

// Tag values stored in an event's private extended properties.
const (
	TagKey   = "nova_type"
	TagTask  = "TASK"
	TagHabit = "HABIT"
	TagEvent = "EVENT"
)

// Account identifies whose calendar to use.
type Account struct {
	RefreshToken string
	CalendarID   string // "" means the provider default
}

type Event struct {
	ID      string
	Summary string
	Start   time.Time
	End     time.Time
	// AllDay events carry midnight-aligned Start/End in the query location.
	AllDay         bool
	EndUnspecified bool
	// Free marks events that do not block time (transparent).
	Free bool
	Tag  string
}

type EventSpec struct {
	Summary    string
	Start      time.Time
	End        time.Time
	Tag        string
	Recurrence []string // RFC 5545 lines, e.g. "RRULE:FREQ=WEEKLY"
}

type Provider interface {
	// Events lists single (expanded) events overlapping [start, end), ordered by start.
	Events(ctx context.Context, acct Account, start, end time.Time) ([]Event, error)
	// BusyIntervals returns the blocking spans overlapping [start, end).
	// All-day events are excluded.
	BusyIntervals(ctx context.Context, acct Account, start, end time.Time) ([]freebusy.Interval, error)
	CreateEvent(ctx context.Context, acct Account, spec EventSpec) (string, error)
}

// Busy converts events to busy intervals. Free events are skipped, and so are
// all-day events when skipAllDay is set. Spans with an unknown end are kept
// flagged so the normalizer drops them.
func Busy(events []Event, skipAllDay bool) []freebusy.Interval {
	out := make([]freebusy.Interval, 0, len(events))
	for _, e := range events {
		if e.Free || (e.AllDay && skipAllDay) {
			continue
		}
		out = append(out, freebusy.Interval{Start: e.Start, End: e.End, EndUnspecified: e.EndUnspecified})
	}
	return out
}

// Upcoming returns timed events starting in [from, to), ordered by start.
func Upcoming(events []Event, from, to time.Time) []Event {
	var out []Event
	for _, e := range events {
		if e.AllDay || e.Start.Before(from) || !e.Start.Before(to) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Disabled is the provider used when calendar access is turned off.
type Disabled struct{}

func (Disabled) Events(context.Context, Account, time.Time, time.Time) ([]Event, error) {
	return nil, errDisabled
}

func (Disabled) BusyIntervals(context.Context, Account, time.Time, time.Time) ([]freebusy.Interval, error) {
	return nil, errDisabled
}

func (Disabled) CreateEvent(context.Context, Account, EventSpec) (string, error) {
	return "", errDisabled
}
