package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"nova/internal/calendar"
	"nova/internal/eventbus"
	"nova/internal/flow"
	"nova/internal/freebusy"
	"nova/internal/storage"
	"nova/internal/task/scheduler"
	logx "nova/pkg/logx"
)

// urgentDays is how close a deadline must be for a task to be placed today.
const urgentDays = 7

type TaskRequest struct {
	Title    string
	Deadline string // MMDD
	Duration time.Duration
}

// Backlog reasons.
const (
	ReasonNotUrgent = "not_urgent"
	ReasonNoSlot    = "no_slot"
)

// TaskResult is either a placed block (Scheduled) or a backlog entry.
type TaskResult struct {
	Scheduled bool
	Slot      freebusy.Slot
	EventID   string

	Task   storage.Task
	Reason string
}

// PlanTask places an urgent task in the earliest free gap between now and the
// end of today's window. Tasks that are not due within a week, or that do not
// fit today, go to the backlog with a reminder on the deadline morning.
func (p *Planner) PlanTask(ctx context.Context, chatID int64, req TaskRequest) (TaskResult, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || req.Duration <= 0 {
		return TaskResult{}, fmt.Errorf("%w: task title and duration are required", ErrInvalidRequest)
	}
	month, day, err := flow.ParseMMDD(req.Deadline)
	if err != nil {
		return TaskResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	acct, w, err := p.account(ctx, chatID)
	if err != nil {
		return TaskResult{}, err
	}

	now := p.now().In(w.Location)
	today := w.Midnight(now)
	deadline := time.Date(now.Year(), month, day, 0, 0, 0, 0, w.Location)
	daysLeft := calendarDays(today, deadline)

	if daysLeft < 0 || daysLeft > urgentDays {
		return p.backlog(ctx, chatID, req, w, rollover(deadline, today), ReasonNotUrgent)
	}

	_, windowEnd := w.Bounds(today)
	if !windowEnd.After(now) {
		p.obs.SlotSearch(freebusy.PolicyEarliestFit, false)
		return p.backlog(ctx, chatID, req, w, deadline, ReasonNoSlot)
	}
	busy, err := p.cal.BusyIntervals(ctx, calAccount(acct), now, windowEnd)
	if err != nil {
		p.obs.CalendarError("busy")
		return TaskResult{}, err
	}
	slot, ok, err := freebusy.EarliestFit(w, busy, freebusy.SlotRequest{
		Duration:   req.Duration,
		RangeStart: now,
		RangeEnd:   windowEnd,
		Policy:     freebusy.PolicyEarliestFit,
	})
	if err != nil {
		return TaskResult{}, err
	}
	p.obs.SlotSearch(freebusy.PolicyEarliestFit, ok)
	if !ok {
		return p.backlog(ctx, chatID, req, w, deadline, ReasonNoSlot)
	}

	id, err := p.cal.CreateEvent(ctx, calAccount(acct), calendar.EventSpec{
		Summary: req.Title,
		Start:   slot.Start,
		End:     slot.End,
		Tag:     calendar.TagTask,
	})
	if err != nil {
		p.obs.CalendarError("create")
		return TaskResult{}, err
	}
	p.alertBlock(chatID, slot.Start, req.Title)

	p.pub.Publish(eventbus.PlanCreated, chatID, map[string]any{
		"kind": "task", "title": req.Title, "start": slot.Start, "end": slot.End, "event_id": id,
	})
	p.log.Info("task placed",
		logx.Int64("chat_id", chatID),
		logx.String("title", req.Title),
		logx.Time("start", slot.Start),
		logx.Duration("duration", req.Duration),
	)
	return TaskResult{Scheduled: true, Slot: slot, EventID: id}, nil
}

func (p *Planner) backlog(ctx context.Context, chatID int64, req TaskRequest, w freebusy.Window, deadline time.Time, reason string) (TaskResult, error) {
	t, err := p.tasks.AddTask(ctx, storage.Task{
		ChatID:   chatID,
		Title:    req.Title,
		Deadline: deadline,
		Duration: req.Duration,
	})
	if err != nil {
		return TaskResult{}, fmt.Errorf("store task: %w", err)
	}
	p.remindTask(chatID, t, w)
	p.pub.Publish(eventbus.PlanStored, chatID, map[string]any{
		"task_id": t.ID, "title": t.Title, "deadline": t.Deadline, "reason": reason,
	})
	p.log.Info("task stored in backlog",
		logx.Int64("chat_id", chatID),
		logx.String("task_id", t.ID),
		logx.String("reason", reason),
	)
	return TaskResult{Task: t, Reason: reason}, nil
}

// alertBlock schedules the heads-up alert for a block. A block starting
// sooner than the lead gets no alert.
func (p *Planner) alertBlock(chatID int64, start time.Time, name string) bool {
	trigger := start.Add(-p.config().AlertLead)
	_, err := p.sched.ScheduleOnce(CallbackBlockStart, trigger, chatID, name)
	switch {
	case err == nil:
		return true
	case errors.Is(err, scheduler.ErrPastTrigger):
		p.log.Debug("block alert skipped, too close", logx.Int64("chat_id", chatID), logx.Time("start", start))
	default:
		p.log.Warn("block alert not scheduled", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	return false
}

// remindTask schedules a reminder at the window start of the deadline day.
func (p *Planner) remindTask(chatID int64, t storage.Task, w freebusy.Window) bool {
	at, _ := w.Bounds(t.Deadline)
	if !at.After(p.now()) {
		return false
	}
	if _, err := p.sched.ScheduleOnce(CallbackTaskReminder, at, chatID, t.Title); err != nil {
		p.log.Warn("task reminder not scheduled", logx.Int64("chat_id", chatID), logx.String("task_id", t.ID), logx.Err(err))
		return false
	}
	return true
}

// calendarDays counts date changes from a to b, both midnights in one zone.
// Rounding absorbs 23h and 25h days around DST transitions.
func calendarDays(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}

// rollover moves a deadline already behind us into next year.
func rollover(deadline, today time.Time) time.Time {
	if deadline.Before(today) {
		return deadline.AddDate(1, 0, 0)
	}
	return deadline
}
