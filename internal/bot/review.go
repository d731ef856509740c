package bot

import (
	"context"
	"strings"

	"nova/internal/flow"
	"nova/internal/planner"
	kit "nova/internal/transport"
	"nova/internal/transport/telegram/router"
	logx "nova/pkg/logx"
)

const (
	msgReviewSkipped = "No worries! Rest well, see you tomorrow."
	msgTomorrow      = "Now, let's plan your day for tomorrow...\n\nHere's your schedule for tomorrow:"
)

// cbReviewYes recaps today's calendar, then starts the review questions.
func (b *Bot) cbReviewYes(ctx context.Context, req *router.Request) error {
	lines, err := b.planner.Agenda(ctx, req.Chat.ChatID, b.now())
	if err != nil {
		// The questions do not need the calendar.
		req.Logger.Debug("review agenda unavailable", logx.Err(err))
	} else {
		_ = req.Reply(ctx, "Today you:\n"+orNothing(lines), nil)
	}
	return b.step(ctx, req, flow.Event{Kind: flow.StartReview})
}

func (b *Bot) cbReviewSkip(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, msgReviewSkipped, nil)
}

// finishReview records the answers and shows tomorrow's schedule.
func (b *Bot) finishReview(ctx context.Context, req *router.Request, a flow.Action) error {
	chatID := req.Chat.ChatID
	b.planner.RecordReview(ctx, chatID, a.Review)
	if err := req.Reply(ctx, a.Message, nil); err != nil {
		return err
	}
	lines, err := b.planner.Agenda(ctx, chatID, b.now().AddDate(0, 0, 1))
	if err != nil {
		req.Logger.Debug("tomorrow agenda unavailable", logx.Err(err))
		return nil
	}
	return req.Reply(ctx, msgTomorrow+"\n"+orNothing(lines), &kit.SendOptions{Buttons: planner.AlertButtons()})
}

func orNothing(lines []string) string {
	if len(lines) == 0 {
		return "Nothing on the calendar."
	}
	return strings.Join(lines, "\n")
}
