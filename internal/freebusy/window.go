package freebusy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a wall-clock time of day without a date.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return ClockTime{}, invalidf("time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, invalidf("hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, invalidf("minute in %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// MustClock is ParseClock for constants and tests.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c ClockTime) minutes() int { return c.Hour*60 + c.Minute }

// On returns the instant of c on the calendar date of day, interpreted in loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// Window is the business-hours boundary of a day.
//
// Day boundaries are always computed through time.Date in Location, so a window
// on a daylight-saving transition day keeps its wall-clock edges.
type Window struct {
	DayStart ClockTime
	DayEnd   ClockTime
	Location *time.Location
}

// NewWindow parses "HH:MM" edges and an IANA zone name.
func NewWindow(dayStart, dayEnd, tz string) (Window, error) {
	ds, err := ParseClock(dayStart)
	if err != nil {
		return Window{}, err
	}
	de, err := ParseClock(dayEnd)
	if err != nil {
		return Window{}, err
	}
	loc := time.Local
	if tz = strings.TrimSpace(tz); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return Window{}, invalidf("timezone %q: %v", tz, err)
		}
	}
	w := Window{DayStart: ds, DayEnd: de, Location: loc}
	return w, w.Validate()
}

func (w Window) Validate() error {
	if w.Location == nil {
		return invalidf("window location is nil")
	}
	if w.DayEnd.minutes() <= w.DayStart.minutes() {
		return invalidf("window end %s must be after start %s", w.DayEnd, w.DayStart)
	}
	return nil
}

// Bounds returns the window edges on the calendar date of day.
func (w Window) Bounds(day time.Time) (start, end time.Time) {
	return w.DayStart.On(day, w.Location), w.DayEnd.On(day, w.Location)
}

// Midnight truncates t to the start of its calendar date in the window location.
func (w Window) Midnight(t time.Time) time.Time {
	d := t.In(w.Location)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, w.Location)
}

// Days returns the midnights of every calendar date touched by [from, to).
func (w Window) Days(from, to time.Time) []time.Time {
	var out []time.Time
	for d := w.Midnight(from); d.Before(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
