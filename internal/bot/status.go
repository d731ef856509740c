package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nova/internal/planner"
	"nova/internal/task/scheduler"
	kit "nova/internal/transport"
	"nova/internal/transport/telegram/router"
	"nova/pkg/tgui"
)

const calendarURL = "https://calendar.google.com/calendar/r"

func (b *Bot) cmdSync(ctx context.Context, req *router.Request) error {
	return b.resyncReply(ctx, req)
}

// resyncReply rebuilds the chat's jobs and shows the rest of the day.
func (b *Bot) resyncReply(ctx context.Context, req *router.Request) error {
	chatID := req.Chat.ChatID
	res, err := b.planner.Resync(ctx, chatID)
	if err != nil {
		return b.replyErr(ctx, req, err)
	}
	loc := b.planner.Location(ctx, chatID)
	lines := make([]string, 0, len(res.Upcoming))
	for _, e := range res.Upcoming {
		lines = append(lines, fmt.Sprintf("%s @ %s", e.Summary, e.Start.In(loc).Format("15:04")))
	}
	schedule := "No upcoming events found."
	if len(lines) > 0 {
		schedule = strings.Join(lines, "\n")
	}
	return req.Reply(ctx, "Updated your schedule!\n\n"+schedule+"\n\n"+alertsSummary(res.Alerts), nil)
}

func (b *Bot) cmdToday(ctx context.Context, req *router.Request) error {
	lines, err := b.planner.Agenda(ctx, req.Chat.ChatID, b.now())
	if err != nil {
		return b.replyErr(ctx, req, err)
	}
	return req.Reply(ctx, planner.MorningBrief(lines), nil)
}

var callbackLabels = map[string]string{
	planner.CallbackMorningBrief:  "Morning brief",
	planner.CallbackEveningReview: "Evening review",
	planner.CallbackBlockStart:    "Block alert",
	planner.CallbackTaskReminder:  "Task reminder",
}

func (b *Bot) cmdJobs(ctx context.Context, req *router.Request) error {
	chatID := req.Chat.ChatID
	jobs := b.jobs.List(chatID)
	if len(jobs) == 0 {
		return req.Reply(ctx, "Nothing scheduled. Use /sync to rebuild today's alerts.", nil)
	}
	loc := b.planner.Location(ctx, chatID)
	ui := tgui.New().Title(fmt.Sprintf("Scheduled (%d)", len(jobs)))
	for _, j := range jobs {
		ui.KV(jobLabel(j), jobWhen(j, loc))
	}
	m := ui.Build()
	return req.Reply(ctx, m.Text, m.Opt)
}

func jobLabel(j scheduler.Job) string {
	label, ok := callbackLabels[j.Key.Callback]
	if !ok {
		label = j.Key.Callback
	}
	if j.Data != "" {
		label += " · " + tgui.TruncRunes(j.Data, 40)
	}
	return label
}

func jobWhen(j scheduler.Job, loc *time.Location) string {
	next := j.Next.In(loc).Format("Mon Jan 2 15:04")
	if j.Key.Kind == scheduler.KindDaily {
		return "daily " + j.DailyAt + ", next " + next
	}
	return next
}

// cmdBacklog lists the backlog, or with "done <n>" removes the n-th task.
func (b *Bot) cmdBacklog(ctx context.Context, req *router.Request) error {
	chatID := req.Chat.ChatID
	tasks, err := b.tasks.ListTasks(ctx, chatID)
	if err != nil {
		return b.replyErr(ctx, req, err)
	}

	if len(req.Args) > 0 && strings.EqualFold(req.Args[0], "done") {
		if len(req.Args) < 2 {
			return req.Reply(ctx, "Usage: /backlog done <n>", nil)
		}
		n, err := strconv.Atoi(req.Args[1])
		if err != nil || n < 1 || n > len(tasks) {
			return req.Reply(ctx, fmt.Sprintf("Pick a task number from 1 to %d.", len(tasks)), nil)
		}
		t := tasks[n-1]
		if err := b.tasks.DeleteTask(ctx, chatID, t.ID); err != nil {
			return b.replyErr(ctx, req, err)
		}
		return req.Reply(ctx, fmt.Sprintf("Nice job finishing %s!", t.Title), nil)
	}

	if len(tasks) == 0 {
		return req.Reply(ctx, "Your backlog is empty.", nil)
	}
	loc := b.planner.Location(ctx, chatID)
	ui := tgui.New().Title("Backlog")
	for i, t := range tasks {
		ui.Line(fmt.Sprintf("%d. %s (due %s, %s)", i+1, t.Title, t.Deadline.In(loc).Format("Jan 2"), shortDuration(t.Duration)))
	}
	ui.Blank().Line("Finished one? /backlog done <n>")
	m := ui.Build()
	return req.Reply(ctx, m.Text, m.Opt)
}

// shortDuration renders 1h, 45m or 1h30m.
func shortDuration(d time.Duration) string {
	s := d.Round(time.Minute).String()
	s = strings.TrimSuffix(s, "0s")
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}

func (b *Bot) cbAlertOK(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, "Great!", nil)
}

// cbAlertEdit offers a shortcut to the calendar and a button to resync after editing.
func (b *Bot) cbAlertEdit(ctx context.Context, req *router.Request) error {
	kb := tgui.NewInline().
		Row(tgui.Btn("Yes", tgui.MustData("alert", "synced", ""))).
		Row(kit.Button{Text: "Open Google Calendar", URL: calendarURL})
	m := tgui.New().Line("Have you edited?").Inline(kb).Build()
	return req.Reply(ctx, m.Text, m.Opt)
}

func (b *Bot) cbAlertSynced(ctx context.Context, req *router.Request) error {
	return b.resyncReply(ctx, req)
}
