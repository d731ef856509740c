package freebusy

import (
	"errors"
	"math/rand"
	"testing"
	"time"
	_ "time/tzdata"
)

func utcWindow(t *testing.T, start, end string) Window {
	t.Helper()
	w, err := NewWindow(start, end, "UTC")
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	return w
}

func scenarioBusy() []Interval {
	return []Interval{span("09:00", "10:00"), span("10:30", "11:00")}
}

func TestEarliestFitScenarioA(t *testing.T) {
	t.Parallel()

	w := utcWindow(t, "08:00", "18:00")
	s, ok, err := EarliestFit(w, scenarioBusy(), SlotRequest{Duration: 30 * time.Minute, RangeStart: at("08:00"), RangeEnd: at("18:00")})
	if err != nil || !ok {
		t.Fatalf("EarliestFit: ok=%v err=%v", ok, err)
	}
	if !s.Start.Equal(at("08:00")) || !s.End.Equal(at("08:30")) {
		t.Fatalf("slot = %s-%s, want 08:00-08:30", s.Start.Format("15:04"), s.End.Format("15:04"))
	}
}

func TestMaxBufferScenarioB(t *testing.T) {
	t.Parallel()

	w := utcWindow(t, "08:00", "18:00")
	s, ok, err := MaxBuffer(w, scenarioBusy(), SlotRequest{Duration: 45 * time.Minute, RangeStart: at("08:00"), RangeEnd: at("18:00")})
	if err != nil || !ok {
		t.Fatalf("MaxBuffer: ok=%v err=%v", ok, err)
	}
	if !s.Start.Equal(at("11:00")) || !s.End.Equal(at("11:45")) {
		t.Fatalf("slot = %s-%s, want 11:00-11:45", s.Start.Format("15:04"), s.End.Format("15:04"))
	}
}

func TestEarliestFit(t *testing.T) {
	t.Parallel()

	w := utcWindow(t, "08:00", "18:00")
	nextDay := func(hhmm string) time.Time { return at(hhmm).AddDate(0, 0, 1) }

	tests := []struct {
		name      string
		busy      []Interval
		req       SlotRequest
		wantOK    bool
		wantStart time.Time
	}{
		{
			name:      "skips too small gap",
			busy:      []Interval{span("08:15", "09:00")},
			req:       SlotRequest{Duration: 30 * time.Minute, RangeStart: at("08:00"), RangeEnd: at("18:00")},
			wantOK:    true,
			wantStart: at("09:00"),
		},
		{
			name:      "range start inside gap",
			busy:      scenarioBusy(),
			req:       SlotRequest{Duration: 20 * time.Minute, RangeStart: at("10:05"), RangeEnd: at("18:00")},
			wantOK:    true,
			wantStart: at("10:05"),
		},
		{
			name:      "range start before window snaps to day start",
			busy:      nil,
			req:       SlotRequest{Duration: time.Hour, RangeStart: at("05:00"), RangeEnd: at("18:00")},
			wantOK:    true,
			wantStart: at("08:00"),
		},
		{
			name:      "after day end advances to next day",
			busy:      nil,
			req:       SlotRequest{Duration: time.Hour, RangeStart: at("17:30"), RangeEnd: nextDay("12:00")},
			wantOK:    true,
			wantStart: nextDay("08:00"),
		},
		{
			name:      "fully busy day advances",
			busy:      []Interval{span("07:00", "19:00"), {Start: nextDay("08:00"), End: nextDay("09:00")}},
			req:       SlotRequest{Duration: time.Hour, RangeStart: at("08:00"), RangeEnd: nextDay("18:00")},
			wantOK:    true,
			wantStart: nextDay("09:00"),
		},
		{
			name:   "range end clips the only gap",
			busy:   []Interval{span("08:00", "17:00")},
			req:    SlotRequest{Duration: time.Hour, RangeStart: at("08:00"), RangeEnd: at("17:30")},
			wantOK: false,
		},
		{
			name:   "nothing fits in range",
			busy:   []Interval{span("08:00", "12:00"), span("12:20", "18:00")},
			req:    SlotRequest{Duration: 30 * time.Minute, RangeStart: at("08:00"), RangeEnd: at("18:00")},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, ok, err := EarliestFit(w, tt.busy, tt.req)
			if err != nil {
				t.Fatalf("EarliestFit: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (slot %v)", ok, tt.wantOK, s)
			}
			if !ok {
				return
			}
			if !s.Start.Equal(tt.wantStart) {
				t.Fatalf("start = %s, want %s", s.Start, tt.wantStart)
			}
			if s.End.Sub(s.Start) != tt.req.Duration {
				t.Fatalf("slot length = %s", s.End.Sub(s.Start))
			}
		})
	}
}

func TestMaxBuffer(t *testing.T) {
	t.Parallel()

	w := utcWindow(t, "08:00", "18:00")
	day := SlotRequest{RangeStart: at("00:00"), RangeEnd: at("23:59")}

	tests := []struct {
		name      string
		busy      []Interval
		dur       time.Duration
		wantOK    bool
		wantStart time.Time
	}{
		{name: "no events uses whole window", busy: nil, dur: time.Hour, wantOK: true, wantStart: at("08:00")},
		{
			name:      "tie picks earliest",
			busy:      []Interval{span("10:00", "16:00")},
			dur:       time.Hour,
			wantOK:    true,
			wantStart: at("08:00"),
		},
		{
			name:      "largest middle gap",
			busy:      []Interval{span("08:00", "09:00"), span("12:00", "13:00"), span("16:30", "18:00")},
			dur:       30 * time.Minute,
			wantOK:    true,
			wantStart: at("13:00"),
		},
		{
			name:      "equal gaps pick earliest",
			busy:      []Interval{span("08:00", "09:00"), span("12:00", "13:00"), span("16:00", "18:00")},
			dur:       30 * time.Minute,
			wantOK:    true,
			wantStart: at("09:00"),
		},
		{
			name:   "no gap large enough",
			busy:   []Interval{span("08:00", "12:00"), span("12:30", "18:00")},
			dur:    time.Hour,
			wantOK: false,
		},
		{
			name:   "fully busy day",
			busy:   []Interval{span("08:00", "18:00")},
			dur:    time.Hour,
			wantOK: false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := day
			req.Duration = tt.dur
			s, ok, err := MaxBuffer(w, tt.busy, req)
			if err != nil {
				t.Fatalf("MaxBuffer: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !s.Start.Equal(tt.wantStart) {
				t.Fatalf("start = %s, want %s", s.Start.Format("15:04"), tt.wantStart.Format("15:04"))
			}
		})
	}
}

func TestFindInvalidInput(t *testing.T) {
	t.Parallel()

	w := utcWindow(t, "08:00", "18:00")
	tests := []struct {
		name string
		w    Window
		req  SlotRequest
	}{
		{name: "zero duration", w: w, req: SlotRequest{Policy: PolicyEarliestFit, RangeStart: at("08:00"), RangeEnd: at("18:00")}},
		{name: "negative duration", w: w, req: SlotRequest{Policy: PolicyMaxBuffer, Duration: -time.Minute, RangeStart: at("08:00"), RangeEnd: at("18:00")}},
		{name: "inverted range", w: w, req: SlotRequest{Policy: PolicyEarliestFit, Duration: time.Minute, RangeStart: at("18:00"), RangeEnd: at("08:00")}},
		{name: "unknown policy", w: w, req: SlotRequest{Duration: time.Minute, RangeStart: at("08:00"), RangeEnd: at("18:00")}},
		{name: "window inverted", w: Window{DayStart: MustClock("18:00"), DayEnd: MustClock("08:00"), Location: time.UTC}, req: SlotRequest{Policy: PolicyEarliestFit, Duration: time.Minute, RangeStart: at("08:00"), RangeEnd: at("18:00")}},
		{name: "window without location", w: Window{DayStart: MustClock("08:00"), DayEnd: MustClock("18:00")}, req: SlotRequest{Policy: PolicyMaxBuffer, Duration: time.Minute, RangeStart: at("08:00"), RangeEnd: at("18:00")}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, ok, err := Find(tt.w, nil, tt.req)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			if ok {
				t.Fatalf("ok = true on invalid input")
			}
		})
	}
}

func TestEarliestFitProperties(t *testing.T) {
	t.Parallel()

	w := utcWindow(t, "08:00", "18:00")
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 300; round++ {
		busy := randomBusy(rng, rng.Intn(10))
		req := SlotRequest{
			Duration:   time.Duration(15+rng.Intn(120)) * time.Minute,
			RangeStart: testDay.Add(time.Duration(rng.Intn(20*60)) * time.Minute),
		}
		req.RangeEnd = req.RangeStart.Add(time.Duration(1+rng.Intn(40)) * time.Hour)

		s, ok, err := EarliestFit(w, busy, req)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if !ok {
			continue
		}
		if s.End.Sub(s.Start) != req.Duration {
			t.Fatalf("round %d: length %s", round, s.End.Sub(s.Start))
		}
		if s.Start.Before(req.RangeStart) || s.End.After(req.RangeEnd) {
			t.Fatalf("round %d: slot %v outside range %v-%v", round, s, req.RangeStart, req.RangeEnd)
		}
		ds, de := w.Bounds(s.Start)
		if !(Interval{Start: ds, End: de}).Contains(s.Interval()) {
			t.Fatalf("round %d: slot %v outside window", round, s)
		}
		for _, b := range Merge(busy) {
			if b.Overlaps(s.Interval()) {
				t.Fatalf("round %d: slot %v overlaps busy %v", round, s, b)
			}
		}
	}
}

func TestMaxBufferMaximality(t *testing.T) {
	t.Parallel()

	w := utcWindow(t, "08:00", "18:00")
	rng := rand.New(rand.NewSource(11))
	for round := 0; round < 300; round++ {
		busy := randomBusy(rng, rng.Intn(8))
		req := SlotRequest{Duration: time.Duration(15+rng.Intn(90)) * time.Minute, RangeStart: testDay, RangeEnd: testDay.AddDate(0, 0, 1)}
		s, ok, err := MaxBuffer(w, busy, req)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		ds, de := w.Bounds(testDay)
		gaps := Gaps(ds, de, Merge(busy))
		var chosen Interval
		for _, g := range gaps {
			if g.Contains(s.Interval()) {
				chosen = g
			}
		}
		for _, g := range gaps {
			if g.Duration() < req.Duration {
				continue
			}
			if !ok {
				t.Fatalf("round %d: feasible gap %v but no slot", round, g)
			}
			if g.Duration() > chosen.Duration() {
				t.Fatalf("round %d: gap %v longer than chosen %v", round, g, chosen)
			}
			if g.Duration() == chosen.Duration() && g.Start.Before(chosen.Start) {
				t.Fatalf("round %d: tie not resolved to earliest", round)
			}
		}
		if ok && !s.Start.Equal(chosen.Start) {
			t.Fatalf("round %d: slot not at gap start", round)
		}
	}
}

func TestWindowDSTBounds(t *testing.T) {
	t.Parallel()

	w, err := NewWindow("08:00", "18:00", "America/New_York")
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	// 2024-03-10 is the spring-forward day in New York.
	day := time.Date(2024, 3, 10, 12, 0, 0, 0, w.Location)
	ds, de := w.Bounds(day)
	if ds.Hour() != 8 || de.Hour() != 18 {
		t.Fatalf("bounds = %s-%s", ds, de)
	}
	if _, off := ds.Zone(); off != -4*3600 {
		t.Fatalf("day start offset = %d, want EDT", off)
	}
}
