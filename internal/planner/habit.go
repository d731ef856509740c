package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"nova/internal/calendar"
	"nova/internal/eventbus"
	"nova/internal/freebusy"
	logx "nova/pkg/logx"
)

const weeklyRule = "RRULE:FREQ=WEEKLY"

type HabitRequest struct {
	Title    string
	PerWeek  int
	Duration time.Duration
}

type HabitPlacement struct {
	Day     time.Time // midnight of the ranked day
	Slot    freebusy.Slot
	EventID string
}

// HabitResult lists placements and skipped days in date order.
type HabitResult struct {
	Placed  []HabitPlacement
	Skipped []time.Time
}

// PlanHabit ranks the days of the closest week by free time, takes the
// PerWeek freest days, and books each one at the start of its largest gap as
// a weekly recurring event. A chosen day whose gap is already behind us
// starts its recurrence a week later.
func (p *Planner) PlanHabit(ctx context.Context, chatID int64, req HabitRequest) (HabitResult, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || req.Duration <= 0 {
		return HabitResult{}, fmt.Errorf("%w: habit title and duration are required", ErrInvalidRequest)
	}
	if req.PerWeek < 1 || req.PerWeek > 7 {
		return HabitResult{}, fmt.Errorf("%w: repetitions per week must be 1..7, got %d", ErrInvalidRequest, req.PerWeek)
	}
	acct, w, err := p.account(ctx, chatID)
	if err != nil {
		return HabitResult{}, err
	}

	now := p.now().In(w.Location)
	from, to := closestWeek(w, now)
	busy, err := p.cal.BusyIntervals(ctx, calAccount(acct), from, to)
	if err != nil {
		p.obs.CalendarError("busy")
		return HabitResult{}, err
	}
	ranked, err := freebusy.RankDays(w, busy, from, to)
	if err != nil {
		return HabitResult{}, err
	}
	picked := ranked[:min(req.PerWeek, len(ranked))]
	sort.Slice(picked, func(i, j int) bool { return picked[i].Date.Before(picked[j].Date) })

	var res HabitResult
	summary := "Habit: " + req.Title
	for _, day := range picked {
		ds, de := w.Bounds(day.Date)
		slot, ok, err := freebusy.MaxBuffer(w, busy, freebusy.SlotRequest{
			Duration:   req.Duration,
			RangeStart: ds,
			RangeEnd:   de,
			Policy:     freebusy.PolicyMaxBuffer,
		})
		if err != nil {
			return res, err
		}
		p.obs.SlotSearch(freebusy.PolicyMaxBuffer, ok)
		if !ok {
			res.Skipped = append(res.Skipped, day.Date)
			continue
		}
		if !slot.Start.After(now) {
			slot = freebusy.Slot{Start: slot.Start.AddDate(0, 0, 7), End: slot.End.AddDate(0, 0, 7)}
		}
		id, err := p.cal.CreateEvent(ctx, calAccount(acct), calendar.EventSpec{
			Summary:    summary,
			Start:      slot.Start,
			End:        slot.End,
			Tag:        calendar.TagHabit,
			Recurrence: []string{weeklyRule},
		})
		if err != nil {
			p.obs.CalendarError("create")
			return res, err
		}
		res.Placed = append(res.Placed, HabitPlacement{Day: day.Date, Slot: slot, EventID: id})
	}

	p.pub.Publish(eventbus.PlanCreated, chatID, map[string]any{
		"kind": "habit", "title": req.Title, "placed": len(res.Placed), "skipped": len(res.Skipped),
	})
	p.log.Info("habit placed",
		logx.Int64("chat_id", chatID),
		logx.String("title", req.Title),
		logx.Int("placed", len(res.Placed)),
		logx.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// closestWeek is the Sunday..Saturday week containing now. On Saturday the
// current week is nearly over, so the following week is used.
func closestWeek(w freebusy.Window, now time.Time) (from, to time.Time) {
	today := w.Midnight(now)
	from = today.AddDate(0, 0, -int(today.Weekday()))
	if today.Weekday() == time.Saturday {
		from = from.AddDate(0, 0, 7)
	}
	return from, from.AddDate(0, 0, 7)
}
