package freebusy

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestRankDaysScenarioC(t *testing.T) {
	t.Parallel()

	w := utcWindow(t, "08:00", "18:00")
	day1, day2, day3 := testDay, testDay.AddDate(0, 0, 1), testDay.AddDate(0, 0, 2)
	on := func(day time.Time, a, b string) Interval {
		return Interval{Start: MustClock(a).On(day, time.UTC), End: MustClock(b).On(day, time.UTC)}
	}
	busy := []Interval{
		on(day1, "08:00", "16:00"), // 2h free
		on(day2, "08:00", "13:00"), // 5h free
		on(day3, "07:00", "19:00"), // 0h free
	}

	got, err := RankDays(w, busy, day1, day3.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("RankDays: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	wantDates := []time.Time{day2, day1, day3}
	wantFree := []time.Duration{5 * time.Hour, 2 * time.Hour, 0}
	for i := range got {
		if !got[i].Date.Equal(wantDates[i]) || got[i].TotalFree != wantFree[i] {
			t.Fatalf("rank[%d] = %s %s, want %s %s", i, got[i].Date.Format("01-02"), got[i].TotalFree, wantDates[i].Format("01-02"), wantFree[i])
		}
	}
}

func TestRankDaysTiesKeepDateOrder(t *testing.T) {
	t.Parallel()

	w := utcWindow(t, "09:00", "17:00")
	got, err := RankDays(w, nil, testDay, testDay.AddDate(0, 0, 4))
	if err != nil {
		t.Fatalf("RankDays: %v", err)
	}
	for i, d := range got {
		if want := testDay.AddDate(0, 0, i); !d.Date.Equal(want) {
			t.Fatalf("rank[%d] = %s, want %s", i, d.Date, want)
		}
		if d.TotalFree != 8*time.Hour || len(d.FreeBlocks) != 1 {
			t.Fatalf("empty day summary = %+v", d)
		}
	}
}

func TestRankDaysSpanningEvent(t *testing.T) {
	t.Parallel()

	w := utcWindow(t, "08:00", "18:00")
	// Overnight busy block from 16:00 day 1 to 10:00 day 2.
	busy := []Interval{{Start: at("16:00"), End: at("10:00").AddDate(0, 0, 1)}}
	got, err := RankDays(w, busy, testDay, testDay.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("RankDays: %v", err)
	}
	if got[0].TotalFree != 8*time.Hour || got[1].TotalFree != 8*time.Hour {
		t.Fatalf("totals = %s, %s", got[0].TotalFree, got[1].TotalFree)
	}
}

func TestRankDaysSumIdentity(t *testing.T) {
	t.Parallel()

	w := utcWindow(t, "08:00", "18:00")
	rng := rand.New(rand.NewSource(3))
	for round := 0; round < 100; round++ {
		var busy []Interval
		for d := 0; d < 7; d++ {
			for _, iv := range randomBusy(rng, rng.Intn(6)) {
				busy = append(busy, Interval{Start: iv.Start.AddDate(0, 0, d), End: iv.End.AddDate(0, 0, d)})
			}
		}
		got, err := RankDays(w, busy, testDay, testDay.AddDate(0, 0, 7))
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		merged := Merge(busy)
		for i, d := range got {
			if i > 0 && got[i-1].TotalFree < d.TotalFree {
				t.Fatalf("round %d: not descending at %d", round, i)
			}
			ds, de := w.Bounds(d.Date)
			if d.TotalFree+BusyWithin(ds, de, merged) != de.Sub(ds) {
				t.Fatalf("round %d: free %s + busy %s != window", round, d.TotalFree, BusyWithin(ds, de, merged))
			}
		}
	}
}

func TestRankDaysInvalid(t *testing.T) {
	t.Parallel()

	w := utcWindow(t, "08:00", "18:00")
	if _, err := RankDays(w, nil, testDay, testDay); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
