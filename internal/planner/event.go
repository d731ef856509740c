package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nova/internal/calendar"
	"nova/internal/eventbus"
	"nova/internal/flow"
	"nova/internal/freebusy"
	logx "nova/pkg/logx"
)

// EventRequest is a fixed block the user names the time of.
type EventRequest struct {
	Title string
	Date  string // MMDD
	Start string // HH:MM or HHMM
	End   string
}

type EventResult struct {
	Slot    freebusy.Slot
	EventID string
	// Alerted is false when the block starts too soon for a heads-up.
	Alerted bool
}

// PlanEvent creates the event as given, without a slot search, and schedules
// its block alert. A date already behind us this year means next year.
func (p *Planner) PlanEvent(ctx context.Context, chatID int64, req EventRequest) (EventResult, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return EventResult{}, fmt.Errorf("%w: event title is required", ErrInvalidRequest)
	}
	month, day, err := flow.ParseMMDD(req.Date)
	if err != nil {
		return EventResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	sh, sm, err := flow.ParseHHMM(req.Start)
	if err != nil {
		return EventResult{}, fmt.Errorf("%w: start: %v", ErrInvalidRequest, err)
	}
	eh, em, err := flow.ParseHHMM(req.End)
	if err != nil {
		return EventResult{}, fmt.Errorf("%w: end: %v", ErrInvalidRequest, err)
	}
	acct, w, err := p.account(ctx, chatID)
	if err != nil {
		return EventResult{}, err
	}

	today := w.Midnight(p.now().In(w.Location))
	date := rollover(time.Date(today.Year(), month, day, 0, 0, 0, 0, w.Location), today)
	slot := freebusy.Slot{
		Start: time.Date(date.Year(), date.Month(), date.Day(), sh, sm, 0, 0, w.Location),
		End:   time.Date(date.Year(), date.Month(), date.Day(), eh, em, 0, 0, w.Location),
	}
	if !slot.End.After(slot.Start) {
		return EventResult{}, fmt.Errorf("%w: the event has to end after it starts", ErrInvalidRequest)
	}

	id, err := p.cal.CreateEvent(ctx, calAccount(acct), calendar.EventSpec{
		Summary: req.Title,
		Start:   slot.Start,
		End:     slot.End,
		Tag:     calendar.TagEvent,
	})
	if err != nil {
		p.obs.CalendarError("create")
		return EventResult{}, err
	}
	alerted := p.alertBlock(chatID, slot.Start, req.Title)

	p.pub.Publish(eventbus.PlanCreated, chatID, map[string]any{
		"kind": "event", "title": req.Title, "start": slot.Start, "end": slot.End, "event_id": id,
	})
	p.log.Info("event created",
		logx.Int64("chat_id", chatID),
		logx.String("title", req.Title),
		logx.Time("start", slot.Start),
	)
	return EventResult{Slot: slot, EventID: id, Alerted: alerted}, nil
}

// RecordReview publishes a finished evening review for the audit log.
func (p *Planner) RecordReview(_ context.Context, chatID int64, r flow.ReviewDraft) {
	p.pub.Publish(eventbus.ReviewRecorded, chatID, map[string]any{
		"feeling":   r.Feeling,
		"favourite": r.Favourite,
		"proud":     r.Proud,
		"improve":   r.Improve,
		"comment":   r.Comment,
	})
	p.log.Info("review recorded", logx.Int64("chat_id", chatID))
}
