package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nova/internal/calendar"
	"nova/internal/task/engine"
	"nova/internal/task/scheduler"
	kit "nova/internal/transport"
	"nova/pkg/tgui"
)

// Callback data for the buttons under a block alert and the evening review.
const (
	AlertOK    = "alert:ok"
	AlertEdit  = "alert:edit"
	ReviewYes  = "review:yes"
	ReviewSkip = "review:skip"
)

const (
	msgMorningHeader = "Good morning! Here's how your day looks like:"
	msgNoEvents      = "No upcoming events found."
	msgEveningReview = "That's the end of your work day! Would you like to review now?"
)

// RegisterHandlers binds the planner's callbacks on the scheduler.
func (p *Planner) RegisterHandlers() {
	p.sched.Register(CallbackMorningBrief, p.onMorningBrief)
	p.sched.Register(CallbackEveningReview, p.onEveningReview)
	p.sched.Register(CallbackBlockStart, p.onBlockStart)
	p.sched.Register(CallbackTaskReminder, p.onTaskReminder)
}

// onMorningBrief refreshes the day's alerts and sends the agenda.
func (p *Planner) onMorningBrief(ctx context.Context, f scheduler.Firing) error {
	res, err := p.Resync(ctx, f.ChatID)
	if err != nil {
		return retryable(err)
	}
	loc := p.Location(ctx, f.ChatID)
	return p.send(ctx, f.ChatID, MorningBrief(agendaLines(res.Upcoming, loc)), nil)
}

func (p *Planner) onEveningReview(ctx context.Context, f scheduler.Firing) error {
	return p.send(ctx, f.ChatID, msgEveningReview, &kit.SendOptions{Buttons: ReviewButtons()})
}

// onBlockStart fires AlertLead before a block; the message names the block's start.
func (p *Planner) onBlockStart(ctx context.Context, f scheduler.Firing) error {
	start := f.ScheduledFor.Add(p.config().AlertLead).In(p.Location(ctx, f.ChatID))
	return p.send(ctx, f.ChatID, BlockAlert(start, f.Data), &kit.SendOptions{Buttons: AlertButtons()})
}

func (p *Planner) onTaskReminder(ctx context.Context, f scheduler.Firing) error {
	return p.send(ctx, f.ChatID, fmt.Sprintf("Reminder: %s is due today.", f.Data), nil)
}

// retryable marks errors a retry cannot fix so the executor gives up at once.
func retryable(err error) error {
	if calendar.IsPermanent(err) {
		return engine.NoRetry(err)
	}
	return err
}

// MorningBrief renders the agenda message.
func MorningBrief(lines []string) string {
	if len(lines) == 0 {
		return msgMorningHeader + "\n" + msgNoEvents
	}
	return msgMorningHeader + "\n" + strings.Join(lines, "\n")
}

func BlockAlert(start time.Time, name string) string {
	return fmt.Sprintf("It's almost %s. Time to work on %s", start.Format("15:04"), name)
}

func AlertButtons() [][]kit.Button {
	return tgui.NewInline().Row(tgui.Btn("Ok!", AlertOK), tgui.Btn("Change of Plans", AlertEdit)).Rows()
}

func ReviewButtons() [][]kit.Button {
	return tgui.NewInline().Row(tgui.Btn("Yes", ReviewYes)).Row(tgui.Btn("Skip", ReviewSkip)).Rows()
}
