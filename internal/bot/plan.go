package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nova/internal/flow"
	"nova/internal/planner"
	kit "nova/internal/transport"
	"nova/internal/transport/telegram/router"
	logx "nova/pkg/logx"
	"nova/pkg/tgui"
)

func (b *Bot) cmdTask(ctx context.Context, req *router.Request) error {
	return b.step(ctx, req, flow.Event{Kind: flow.StartTask})
}

func (b *Bot) cmdHabit(ctx context.Context, req *router.Request) error {
	return b.step(ctx, req, flow.Event{Kind: flow.StartHabit})
}

func (b *Bot) cmdEvent(ctx context.Context, req *router.Request) error {
	return b.step(ctx, req, flow.Event{Kind: flow.StartEvent})
}

func (b *Bot) cbEventYes(ctx context.Context, req *router.Request) error {
	return b.step(ctx, req, flow.Event{Kind: flow.Confirm})
}

func (b *Bot) cbEventNo(ctx context.Context, req *router.Request) error {
	return b.step(ctx, req, flow.Event{Kind: flow.Cancel})
}

func (b *Bot) cmdCancel(ctx context.Context, req *router.Request) error {
	return b.step(ctx, req, flow.Event{Kind: flow.Cancel})
}

func (b *Bot) onText(ctx context.Context, req *router.Request) error {
	return b.step(ctx, req, flow.Event{Kind: flow.Input, Text: req.Text})
}

// step advances the chat's conversation and carries out the resulting action.
func (b *Bot) step(ctx context.Context, req *router.Request, e flow.Event) error {
	chatID := req.Chat.ChatID
	tr := b.sessions.Apply(chatID, e)
	req.Logger.Debug("flow step", logx.String("state", tr.Next.Kind.String()), logx.Int("action", int(tr.Action.Kind)))

	switch tr.Action.Kind {
	case flow.Prompt, flow.Reprompt, flow.Cancelled:
		return req.Reply(ctx, tr.Action.Message, nil)
	case flow.PlanTask:
		return b.planTask(ctx, req, tr.Action.Task)
	case flow.PlanHabit:
		return b.planHabit(ctx, req, tr.Action.Habit)
	case flow.ConfirmEvent:
		return req.Reply(ctx, tr.Action.Message, &kit.SendOptions{Buttons: eventButtons()})
	case flow.CreateEvent:
		return b.planEvent(ctx, req, tr.Action.Event)
	case flow.ReviewDone:
		return b.finishReview(ctx, req, tr.Action)
	default:
		switch e.Kind {
		case flow.Input:
			return req.Reply(ctx, msgUnknownText, nil)
		case flow.Confirm:
			return req.Reply(ctx, msgStale, nil)
		}
		return nil
	}
}

func (b *Bot) planTask(ctx context.Context, req *router.Request, d flow.TaskDraft) error {
	chatID := req.Chat.ChatID
	res, err := b.planner.PlanTask(ctx, chatID, planner.TaskRequest{Title: d.Title, Deadline: d.Deadline, Duration: d.Duration})
	if err != nil {
		return b.replyErr(ctx, req, err)
	}
	return req.Reply(ctx, taskReply(d.Title, res, b.planner.Location(ctx, chatID)), nil)
}

func (b *Bot) planHabit(ctx context.Context, req *router.Request, d flow.HabitDraft) error {
	chatID := req.Chat.ChatID
	res, err := b.planner.PlanHabit(ctx, chatID, planner.HabitRequest{Title: d.Title, PerWeek: d.PerWeek, Duration: d.Duration})
	if err != nil {
		return b.replyErr(ctx, req, err)
	}
	return req.Reply(ctx, habitReply(d.Title, res, b.planner.Location(ctx, chatID)), nil)
}

func (b *Bot) planEvent(ctx context.Context, req *router.Request, d flow.EventDraft) error {
	chatID := req.Chat.ChatID
	res, err := b.planner.PlanEvent(ctx, chatID, planner.EventRequest{Title: d.Title, Date: d.Date, Start: d.Start, End: d.End})
	if err != nil {
		return b.replyErr(ctx, req, err)
	}
	loc := b.planner.Location(ctx, chatID)
	msg := fmt.Sprintf("Great! %s is on your calendar for %s, %s-%s.", d.Title,
		res.Slot.Start.In(loc).Format("Mon Jan 2"), res.Slot.Start.In(loc).Format("15:04"), res.Slot.End.In(loc).Format("15:04"))
	if !res.Alerted {
		msg += " It starts too soon for a heads-up."
	}
	return req.Reply(ctx, msg, nil)
}

func eventButtons() [][]kit.Button {
	return tgui.NewInline().
		Row(tgui.Btn("Looks Good!", tgui.MustData("event", "yes", ""))).
		Row(tgui.Btn("Cancel", tgui.MustData("event", "no", ""))).
		Rows()
}

func taskReply(title string, res planner.TaskResult, loc *time.Location) string {
	switch {
	case res.Scheduled:
		return fmt.Sprintf("Since the deadline is less than a week, I have found time for you to get it done today!\n\n%s @ %s-%s",
			title, res.Slot.Start.In(loc).Format("15:04"), res.Slot.End.In(loc).Format("15:04"))
	case res.Reason == planner.ReasonNoSlot:
		return fmt.Sprintf("There's no free time left today for %s, so I saved it to your /backlog.", title)
	default:
		return fmt.Sprintf("Saved %s to your /backlog. It's due %s and I'll remind you that morning.",
			title, res.Task.Deadline.In(loc).Format("Mon Jan 2"))
	}
}

func habitReply(title string, res planner.HabitResult, loc *time.Location) string {
	if len(res.Placed) == 0 {
		return fmt.Sprintf("I couldn't find room for %s this week. Try a shorter duration?", title)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "I have scheduled %s for %d days this week!\n", title, len(res.Placed))
	for _, p := range res.Placed {
		s := p.Slot.Start.In(loc)
		fmt.Fprintf(&sb, "\n%s %s-%s, weekly", s.Format("Mon"), s.Format("15:04"), p.Slot.End.In(loc).Format("15:04"))
	}
	if len(res.Skipped) > 0 {
		days := make([]string, 0, len(res.Skipped))
		for _, d := range res.Skipped {
			days = append(days, d.In(loc).Format("Mon"))
		}
		fmt.Fprintf(&sb, "\n\nNo room on %s.", strings.Join(days, ", "))
	}
	return sb.String()
}
