package freebusy

import (
	"time"
)

// Policy selects the slot-search strategy.
type Policy int

const (
	// PolicyEarliestFit returns the first gap, in chronological order, that fits.
	PolicyEarliestFit Policy = iota + 1
	// PolicyMaxBuffer returns the largest fitting gap within a single day.
	PolicyMaxBuffer
)

func (p Policy) String() string {
	switch p {
	case PolicyEarliestFit:
		return "earliest_fit"
	case PolicyMaxBuffer:
		return "max_buffer"
	default:
		return "unknown"
	}
}

// SlotRequest is the input of a slot search.
type SlotRequest struct {
	Duration   time.Duration
	RangeStart time.Time
	RangeEnd   time.Time
	Policy     Policy
}

// Slot is a found placement; End-Start always equals the requested duration.
type Slot struct {
	Start time.Time
	End   time.Time
}

func (s Slot) Interval() Interval { return Interval{Start: s.Start, End: s.End} }

func (r SlotRequest) validate(w Window) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if r.Duration <= 0 {
		return invalidf("duration must be > 0, got %s", r.Duration)
	}
	if r.RangeStart.IsZero() || r.RangeEnd.IsZero() {
		return invalidf("range bounds required")
	}
	if !r.RangeEnd.After(r.RangeStart) {
		return invalidf("range end %s must be after start %s", r.RangeEnd.Format(time.RFC3339), r.RangeStart.Format(time.RFC3339))
	}
	return nil
}

// Find dispatches on req.Policy.
func Find(w Window, busy []Interval, req SlotRequest) (Slot, bool, error) {
	switch req.Policy {
	case PolicyEarliestFit:
		return EarliestFit(w, busy, req)
	case PolicyMaxBuffer:
		return MaxBuffer(w, busy, req)
	default:
		return Slot{}, false, invalidf("unknown policy %d", int(req.Policy))
	}
}

// EarliestFit scans days from req.RangeStart and returns the first gap inside the
// day's window that can hold req.Duration. A day whose window is exhausted moves
// the search to the next day's start. Nothing before req.RangeEnd -> ok == false.
func EarliestFit(w Window, busy []Interval, req SlotRequest) (Slot, bool, error) {
	if err := req.validate(w); err != nil {
		return Slot{}, false, err
	}
	merged := Merge(busy)
	for day := w.Midnight(req.RangeStart); ; day = day.AddDate(0, 0, 1) {
		ds, de := w.Bounds(day)
		if !ds.Before(req.RangeEnd) {
			return Slot{}, false, nil
		}
		lo, hi := later(ds, req.RangeStart), earlier(de, req.RangeEnd)
		if hi.Sub(lo) < req.Duration {
			continue
		}
		for _, g := range Gaps(lo, hi, merged) {
			if g.Duration() >= req.Duration {
				return Slot{Start: g.Start, End: g.Start.Add(req.Duration)}, true, nil
			}
		}
	}
}

// MaxBuffer looks only at the day containing req.RangeStart. Among gaps inside
// that day's window (clipped to the request range) that can hold req.Duration,
// it picks the longest; equal lengths resolve to the earliest. The slot starts at
// the chosen gap's start.
func MaxBuffer(w Window, busy []Interval, req SlotRequest) (Slot, bool, error) {
	if err := req.validate(w); err != nil {
		return Slot{}, false, err
	}
	ds, de := w.Bounds(req.RangeStart)
	lo, hi := later(ds, req.RangeStart), earlier(de, req.RangeEnd)

	var (
		best  Interval
		found bool
	)
	for _, g := range Gaps(lo, hi, Merge(busy)) {
		if g.Duration() < req.Duration {
			continue
		}
		if !found || g.Duration() > best.Duration() {
			best, found = g, true
		}
	}
	if !found {
		return Slot{}, false, nil
	}
	return Slot{Start: best.Start, End: best.Start.Add(req.Duration)}, true, nil
}
