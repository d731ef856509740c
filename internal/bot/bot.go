// Package bot holds nova's chat commands. It turns router requests into
// conversation steps, planner calls, and formatted replies.
package bot

import (
	"context"
	"errors"
	"time"

	"nova/internal/calendar"
	"nova/internal/flow"
	"nova/internal/planner"
	"nova/internal/storage"
	"nova/internal/task/scheduler"
	"nova/internal/transport/telegram/router"
	logx "nova/pkg/logx"
)

// Planner is the planning surface the commands drive. *planner.Planner satisfies it.
type Planner interface {
	PlanTask(ctx context.Context, chatID int64, req planner.TaskRequest) (planner.TaskResult, error)
	PlanHabit(ctx context.Context, chatID int64, req planner.HabitRequest) (planner.HabitResult, error)
	PlanEvent(ctx context.Context, chatID int64, req planner.EventRequest) (planner.EventResult, error)
	RecordReview(ctx context.Context, chatID int64, r flow.ReviewDraft)
	Resync(ctx context.Context, chatID int64) (planner.SyncResult, error)
	Agenda(ctx context.Context, chatID int64, day time.Time) ([]string, error)
	Location(ctx context.Context, chatID int64) *time.Location
}

// JobLister is the read side of the scheduler registry.
type JobLister interface {
	List(chatID int64) []scheduler.Job
}

type Deps struct {
	Planner  Planner
	Accounts storage.AccountStore
	Tasks    storage.TaskStore
	Jobs     JobLister
	Sessions *flow.Sessions
	// Forget drops cached calendar clients for a replaced refresh token. Optional.
	Forget func(refreshToken string)
	Logger logx.Logger
	Now    func() time.Time
}

type Bot struct {
	planner  Planner
	accounts storage.AccountStore
	tasks    storage.TaskStore
	jobs     JobLister
	sessions *flow.Sessions
	forget   func(string)
	log      logx.Logger
	now      func() time.Time
}

func New(d Deps) *Bot {
	b := &Bot{
		planner:  d.Planner,
		accounts: d.Accounts,
		tasks:    d.Tasks,
		jobs:     d.Jobs,
		sessions: d.Sessions,
		forget:   d.Forget,
		log:      d.Logger,
		now:      d.Now,
	}
	if b.sessions == nil {
		b.sessions = flow.NewSessions()
	}
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
	b.log = b.log.With(logx.String("comp", "bot"))
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Install registers commands, callbacks and the free-text handler on r.
func (b *Bot) Install(ctx context.Context, r *router.Router) {
	r.SetCommands(ctx, b.Commands())
	r.SetCallbacks(b.Callbacks())
	r.SetText(b.onText)
}

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "start",
			Description: "introduce nova",
			Usage:       "/start",
			Handle:      b.cmdStart,
		},
		{
			Name:        "link",
			Aliases:     []string{"login"},
			Description: "link a Google Calendar",
			Usage:       "/link <refresh_token> [timezone] [calendar_id]",
			Handle:      b.cmdLink,
		},
		{
			Name:        "task",
			Aliases:     []string{"t"},
			Description: "plan a task",
			Usage:       "/task",
			Handle:      b.cmdTask,
		},
		{
			Name:        "habit",
			Description: "plan a weekly habit",
			Usage:       "/habit",
			Handle:      b.cmdHabit,
		},
		{
			Name:        "event",
			Description: "add an event at a fixed time",
			Usage:       "/event",
			Handle:      b.cmdEvent,
		},
		{
			Name:        "cancel",
			Description: "stop the current conversation",
			Usage:       "/cancel",
			Handle:      b.cmdCancel,
		},
		{
			Name:        "sync",
			Description: "rebuild today's alerts from the calendar",
			Usage:       "/sync",
			Timeout:     45 * time.Second,
			Handle:      b.cmdSync,
		},
		{
			Name:        "today",
			Description: "show today's events",
			Usage:       "/today",
			Handle:      b.cmdToday,
		},
		{
			Name:        "jobs",
			Description: "list scheduled alerts",
			Usage:       "/jobs",
			Handle:      b.cmdJobs,
		},
		{
			Name:        "backlog",
			Description: "list or complete backlog tasks",
			Usage:       "/backlog [done <n>]",
			Handle:      b.cmdBacklog,
		},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Prefix: "alert", Action: "ok", Handle: b.cbAlertOK},
		{Prefix: "alert", Action: "edit", Handle: b.cbAlertEdit},
		{Prefix: "alert", Action: "synced", Timeout: 45 * time.Second, Handle: b.cbAlertSynced},
		{Prefix: "event", Action: "yes", Handle: b.cbEventYes},
		{Prefix: "event", Action: "no", Handle: b.cbEventNo},
		{Prefix: "review", Action: "yes", Handle: b.cbReviewYes},
		{Prefix: "review", Action: "skip", Handle: b.cbReviewSkip},
	}
}

const (
	msgNotLinked    = "Link your Google Calendar first: /link <refresh_token> [timezone]"
	msgRelogin      = "You'll need to login to Google Calendar again! Send /link with a new token."
	msgUnavailable  = "I couldn't reach your calendar. Please try again in a bit."
	msgUnknownText  = "Not sure what to do with that. Try /task, /event or /help."
	msgStale        = "That's no longer pending."
	msgInternalFail = "Something went wrong. Please try again."
)

// replyErr answers a failed planner call. Only errors the user cannot fix
// are returned, so the request log records them.
func (b *Bot) replyErr(ctx context.Context, req *router.Request, err error) error {
	switch {
	case errors.Is(err, calendar.ErrNoAccount):
		return req.Reply(ctx, msgNotLinked, nil)
	case errors.Is(err, planner.ErrInvalidRequest):
		return req.Reply(ctx, err.Error(), nil)
	case calendar.IsPermanent(err):
		_ = req.Reply(ctx, msgRelogin, nil)
		return err
	case errors.Is(err, calendar.ErrProviderUnavailable):
		_ = req.Reply(ctx, msgUnavailable, nil)
		return err
	default:
		_ = req.Reply(ctx, msgInternalFail, nil)
		return err
	}
}
