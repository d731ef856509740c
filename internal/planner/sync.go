package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nova/internal/calendar"
	"nova/internal/eventbus"
	logx "nova/pkg/logx"
)

// SyncResult describes a rebuilt registry.
type SyncResult struct {
	// Upcoming are the timed events from now to midnight, ordered by start.
	Upcoming  []calendar.Event
	Alerts    int
	Reminders int
}

// Resync rebuilds every job of a chat from its calendar. Events are fetched
// first; a failed fetch leaves the existing jobs untouched.
func (p *Planner) Resync(ctx context.Context, chatID int64) (SyncResult, error) {
	acct, w, err := p.account(ctx, chatID)
	if err != nil {
		p.pub.Publish(eventbus.SyncFailed, chatID, map[string]any{"error": err.Error()})
		return SyncResult{}, err
	}
	now := p.now().In(w.Location)
	end := w.Midnight(now).AddDate(0, 0, 1)
	events, err := p.cal.Events(ctx, calAccount(acct), now, end)
	if err != nil {
		p.obs.CalendarError("events")
		p.pub.Publish(eventbus.SyncFailed, chatID, map[string]any{"error": err.Error()})
		return SyncResult{}, err
	}
	tasks, err := p.tasks.ListTasks(ctx, chatID)
	if err != nil {
		p.log.Warn("backlog unavailable, reminders not rebuilt", logx.Int64("chat_id", chatID), logx.Err(err))
		tasks = nil
	}

	cfg := p.config()
	res := SyncResult{Upcoming: calendar.Upcoming(events, now, end)}

	p.syncMu.Lock()
	defer p.syncMu.Unlock()

	p.sched.CancelAll(chatID)
	if _, err := p.sched.ScheduleDaily(CallbackMorningBrief, cfg.MorningBrief, w.Location, chatID, ""); err != nil {
		return res, fmt.Errorf("schedule morning brief: %w", err)
	}
	if cfg.EveningReview != "" {
		if _, err := p.sched.ScheduleDaily(CallbackEveningReview, cfg.EveningReview, w.Location, chatID, ""); err != nil {
			return res, fmt.Errorf("schedule evening review: %w", err)
		}
	}
	for _, e := range res.Upcoming {
		if p.alertBlock(chatID, e.Start, e.Summary) {
			res.Alerts++
		}
	}
	for _, t := range tasks {
		if p.remindTask(chatID, t, w) {
			res.Reminders++
		}
	}

	p.pub.Publish(eventbus.SyncDone, chatID, map[string]any{"alerts": res.Alerts, "reminders": res.Reminders})
	p.log.Debug("chat resynced",
		logx.Int64("chat_id", chatID),
		logx.Int("alerts", res.Alerts),
		logx.Int("reminders", res.Reminders),
	)
	return res, nil
}

// ResyncAll rebuilds every linked chat. Jobs live in memory only, so this
// runs at startup. Failures are logged per chat; the count of successful
// chats is returned.
func (p *Planner) ResyncAll(ctx context.Context) (int, error) {
	accts, err := p.accounts.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}
	ok := 0
	for _, a := range accts {
		if ctx.Err() != nil {
			return ok, ctx.Err()
		}
		if _, err := p.Resync(ctx, a.ChatID); err != nil {
			p.log.Warn("resync failed", logx.Int64("chat_id", a.ChatID), logx.Err(err))
			continue
		}
		ok++
	}
	p.log.Info("accounts resynced", logx.Int("ok", ok), logx.Int("total", len(accts)))
	return ok, nil
}

// Agenda lists the timed events of day's calendar date as "<summary> @ HH:MM".
func (p *Planner) Agenda(ctx context.Context, chatID int64, day time.Time) ([]string, error) {
	acct, w, err := p.account(ctx, chatID)
	if err != nil {
		return nil, err
	}
	from := w.Midnight(day)
	to := from.AddDate(0, 0, 1)
	events, err := p.cal.Events(ctx, calAccount(acct), from, to)
	if err != nil {
		p.obs.CalendarError("events")
		return nil, err
	}
	return agendaLines(calendar.Upcoming(events, from, to), w.Location), nil
}

// Location is the timezone a chat's plans are made in.
func (p *Planner) Location(ctx context.Context, chatID int64) *time.Location {
	_, w, err := p.account(ctx, chatID)
	if err != nil && !errors.Is(err, calendar.ErrNoAccount) {
		p.log.Debug("account lookup failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	return w.Location
}

func agendaLines(events []calendar.Event, loc *time.Location) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, fmt.Sprintf("%s @ %s", e.Summary, e.Start.In(loc).Format("15:04")))
	}
	return out
}

