package freebusy

import (
	"sort"
	"time"
)

// DayFreeSummary is the free time of one calendar day inside the window.
type DayFreeSummary struct {
	Date       time.Time // midnight in the window location
	TotalFree  time.Duration
	FreeBlocks []Interval
}

// RankDays returns one summary per calendar day touched by [rangeStart, rangeEnd),
// ordered by TotalFree descending. Equal totals keep date order.
//
// A day without busy spans inside its window counts the full window as free.
func RankDays(w Window, busy []Interval, rangeStart, rangeEnd time.Time) ([]DayFreeSummary, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if !rangeEnd.After(rangeStart) {
		return nil, invalidf("range end must be after start")
	}
	merged := Merge(busy)
	days := w.Days(rangeStart, rangeEnd)
	out := make([]DayFreeSummary, 0, len(days))
	for _, day := range days {
		ds, de := w.Bounds(day)
		blocks := Gaps(ds, de, merged)
		var total time.Duration
		for _, b := range blocks {
			total += b.Duration()
		}
		out = append(out, DayFreeSummary{Date: day, TotalFree: total, FreeBlocks: blocks})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalFree > out[j].TotalFree })
	return out, nil
}
