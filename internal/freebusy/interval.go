package freebusy

import (
	"sort"
	"time"
)

// Interval is a half-open time span [Start, End).
//
// EndUnspecified marks calendar entries whose end is not known. Such entries are
// dropped by Merge rather than guessed.
type Interval struct {
	Start          time.Time
	End            time.Time
	EndUnspecified bool
}

func (iv Interval) Duration() time.Duration {
	if iv.End.Before(iv.Start) {
		return 0
	}
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether the two spans share any instant.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

// Contains reports whether o lies fully inside iv.
func (iv Interval) Contains(o Interval) bool {
	return !o.Start.Before(iv.Start) && !o.End.After(iv.End)
}

// bounded reports whether the span has a known end after its start.
// Zero-length spans block nothing and are dropped as well.
func (iv Interval) bounded() bool {
	if iv.EndUnspecified || iv.Start.IsZero() || iv.End.IsZero() {
		return false
	}
	return iv.End.After(iv.Start)
}

// Merge returns the canonical form of a busy set: sorted by start, pairwise
// non-overlapping, with touching spans (end == next start) joined.
//
// The sort is stable so equal starts keep their input order. The input slice is
// not modified. Merge(Merge(x)) equals Merge(x).
func Merge(in []Interval) []Interval {
	xs := make([]Interval, 0, len(in))
	for _, iv := range in {
		if !iv.bounded() {
			continue
		}
		xs = append(xs, Interval{Start: iv.Start, End: iv.End})
	}
	sort.SliceStable(xs, func(i, j int) bool { return xs[i].Start.Before(xs[j].Start) })

	out := make([]Interval, 0, len(xs))
	for _, iv := range xs {
		if n := len(out); n > 0 && !iv.Start.After(out[n-1].End) {
			if iv.End.After(out[n-1].End) {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Gaps returns the free spans of [lo, hi) not covered by merged.
//
// merged must be the output of Merge. Busy spans that straddle lo or hi are
// clipped implicitly.
func Gaps(lo, hi time.Time, merged []Interval) []Interval {
	if !hi.After(lo) {
		return nil
	}
	var out []Interval
	cursor := lo
	for _, b := range merged {
		if !b.End.After(cursor) {
			continue
		}
		if !b.Start.Before(hi) {
			break
		}
		if b.Start.After(cursor) {
			out = append(out, Interval{Start: cursor, End: b.Start})
		}
		cursor = b.End
		if !cursor.Before(hi) {
			return out
		}
	}
	if hi.After(cursor) {
		out = append(out, Interval{Start: cursor, End: hi})
	}
	return out
}

// BusyWithin sums the busy time of merged that falls inside [lo, hi).
func BusyWithin(lo, hi time.Time, merged []Interval) time.Duration {
	var total time.Duration
	for _, b := range merged {
		s, e := later(b.Start, lo), earlier(b.End, hi)
		if e.After(s) {
			total += e.Sub(s)
		}
	}
	return total
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
