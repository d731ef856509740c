package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nova/internal/storage"
	"nova/internal/transport/telegram/router"
	logx "nova/pkg/logx"
)

const msgWelcome = "Hi! I'm Nova, your study buddy. I plan your tasks and habits around your Google Calendar " +
	"and nudge you before each block starts."

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	_, err := b.accounts.GetAccount(ctx, req.Chat.ChatID)
	switch {
	case err == nil:
		return req.Reply(ctx, msgWelcome+"\n\nYour calendar is linked. Try /task, /habit or /today.", nil)
	case errors.Is(err, storage.ErrNotFound):
		return req.Reply(ctx, msgWelcome+"\n\nLogin to Google Calendar to get started: /link <refresh_token> [timezone]", nil)
	default:
		return b.replyErr(ctx, req, err)
	}
}

// cmdLink stores the chat's refresh token and builds its jobs right away.
func (b *Bot) cmdLink(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 || strings.TrimSpace(req.Args[0]) == "" {
		return req.Reply(ctx, "Usage: /link <refresh_token> [timezone] [calendar_id]", nil)
	}
	chatID := req.Chat.ChatID
	a := storage.Account{ChatID: chatID, RefreshToken: strings.TrimSpace(req.Args[0])}
	if len(req.Args) > 1 {
		tz := strings.TrimSpace(req.Args[1])
		if _, err := time.LoadLocation(tz); err != nil {
			return req.Reply(ctx, fmt.Sprintf("Unknown timezone %q. Use an IANA name like America/New_York.", tz), nil)
		}
		a.Timezone = tz
	}
	if len(req.Args) > 2 {
		a.CalendarID = strings.TrimSpace(req.Args[2])
	}

	if prev, err := b.accounts.GetAccount(ctx, chatID); err == nil && prev.RefreshToken != a.RefreshToken && b.forget != nil {
		b.forget(prev.RefreshToken)
	}
	if err := b.accounts.PutAccount(ctx, a); err != nil {
		return b.replyErr(ctx, req, err)
	}
	req.Logger.Info("calendar linked", logx.String("tz", a.Timezone), logx.Bool("custom_calendar", a.CalendarID != ""))

	res, err := b.planner.Resync(ctx, chatID)
	if err != nil {
		_ = req.Reply(ctx, "Calendar linked, but the first sync failed. Try /sync in a moment.", nil)
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Calendar linked! %s", alertsSummary(res.Alerts)), nil)
}

func alertsSummary(n int) string {
	switch n {
	case 0:
		return "No more blocks today."
	case 1:
		return "1 block alert set for today."
	default:
		return fmt.Sprintf("%d block alerts set for today.", n)
	}
}
