// Package planner turns calendar state into placed events and scheduled jobs.
//
// It owns the per-chat routines behind the bot: placing a task today,
// spreading a habit over the week, rebuilding a chat's alert jobs from its
// calendar, and the handlers those jobs run when they fire.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nova/internal/calendar"
	"nova/internal/eventbus"
	"nova/internal/freebusy"
	"nova/internal/storage"
	"nova/internal/task/scheduler"
	kit "nova/internal/transport"
	logx "nova/pkg/logx"
)

// Callback identities registered with the scheduler.
const (
	CallbackMorningBrief  = "morning.brief"
	CallbackEveningReview = "evening.review"
	CallbackBlockStart    = "block.start"
	CallbackTaskReminder  = "task.reminder"
)

// ErrInvalidRequest rejects malformed task or habit requests before any calendar call.
var ErrInvalidRequest = errors.New("planner: invalid request")

// Scheduler is the subset of *scheduler.Service the planner drives.
type Scheduler interface {
	Register(callback string, h scheduler.Handler)
	ScheduleOnce(callback string, trigger time.Time, chatID int64, data string) (scheduler.JobID, error)
	ScheduleDaily(callback, hhmm string, loc *time.Location, chatID int64, data string) (scheduler.JobID, error)
	CancelAll(chatID int64) int
}

type Config struct {
	// Window bounds every slot search. Its Location is the default for
	// accounts without their own timezone.
	Window freebusy.Window
	// MorningBrief and EveningReview are "HH:MM". An empty EveningReview
	// disables the review job.
	MorningBrief  string
	EveningReview string
	// AlertLead is how long before a block starts its alert fires.
	AlertLead time.Duration
}

// Observer receives planner outcomes for metrics. Methods must not block.
type Observer interface {
	SlotSearch(policy freebusy.Policy, found bool)
	CalendarError(op string)
}

type nopObserver struct{}

func (nopObserver) SlotSearch(freebusy.Policy, bool) {}
func (nopObserver) CalendarError(string)             {}

type Deps struct {
	Calendar  calendar.Provider
	Accounts  storage.AccountStore
	Tasks     storage.TaskStore
	Scheduler Scheduler
	Sender    kit.Sender
	Bus       eventbus.Bus
	Logger    logx.Logger
}

type Option func(*Planner)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

func WithObserver(o Observer) Option {
	return func(p *Planner) {
		if o != nil {
			p.obs = o
		}
	}
}

type Planner struct {
	cal      calendar.Provider
	accounts storage.AccountStore
	tasks    storage.TaskStore
	sched    Scheduler
	sender   kit.Sender
	pub      eventbus.Publisher
	log      logx.Logger
	obs      Observer
	now      func() time.Time

	mu  sync.RWMutex
	cfg Config

	// syncMu serializes registry rebuilds so two resyncs of one chat never interleave.
	syncMu sync.Mutex
}

func New(cfg Config, d Deps, opts ...Option) (*Planner, error) {
	if d.Calendar == nil || d.Accounts == nil || d.Tasks == nil || d.Scheduler == nil {
		return nil, errors.New("planner: calendar, accounts, tasks and scheduler are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Planner{
		cal:      d.Calendar,
		accounts: d.Accounts,
		tasks:    d.Tasks,
		sched:    d.Scheduler,
		sender:   d.Sender,
		pub:      eventbus.Publisher{Bus: d.Bus},
		log:      log.With(logx.String("comp", "planner")),
		obs:      nopObserver{},
		now:      time.Now,
		cfg:      cfg,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (c Config) validate() error {
	if err := c.Window.Validate(); err != nil {
		return fmt.Errorf("planner: %w", err)
	}
	if _, err := freebusy.ParseClock(c.MorningBrief); err != nil {
		return fmt.Errorf("planner: morning brief: %w", err)
	}
	if c.EveningReview != "" {
		if _, err := freebusy.ParseClock(c.EveningReview); err != nil {
			return fmt.Errorf("planner: evening review: %w", err)
		}
	}
	if c.AlertLead < 0 {
		return fmt.Errorf("planner: alert lead must be >= 0, got %s", c.AlertLead)
	}
	return nil
}

// Apply swaps the configuration. Jobs already scheduled keep their times
// until the next resync.
func (p *Planner) Apply(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

func (p *Planner) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// account resolves a chat's linked calendar and the window in its timezone.
func (p *Planner) account(ctx context.Context, chatID int64) (storage.Account, freebusy.Window, error) {
	w := p.config().Window
	a, err := p.accounts.GetAccount(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Account{}, w, fmt.Errorf("chat %d: %w", chatID, calendar.ErrNoAccount)
	}
	if err != nil {
		return storage.Account{}, w, err
	}
	if a.Timezone != "" {
		loc, lerr := time.LoadLocation(a.Timezone)
		if lerr != nil {
			p.log.Warn("account timezone invalid, using default", logx.Int64("chat_id", chatID), logx.String("tz", a.Timezone), logx.Err(lerr))
		} else {
			w.Location = loc
		}
	}
	return a, w, nil
}

func calAccount(a storage.Account) calendar.Account {
	return calendar.Account{RefreshToken: a.RefreshToken, CalendarID: a.CalendarID}
}

func (p *Planner) send(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) error {
	if p.sender == nil {
		p.log.Debug("no sender, message dropped", logx.Int64("chat_id", chatID))
		return nil
	}
	_, err := p.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, opt)
	return err
}
