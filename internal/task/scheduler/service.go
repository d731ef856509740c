package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"nova/internal/eventbus"
	logx "nova/pkg/logx"
)

type entry struct {
	job   Job
	ver   uint64
	timer *time.Timer

	sched   cron.Schedule
	entryID cron.EntryID
}

// Service owns the job registry. Every mutation goes through mu, so a
// replace (remove old id, insert new) is atomic to other callers.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	pub  eventbus.Publisher
	exec Executor
	cfg  Config
	loc  *time.Location
	now  func() time.Time

	parser   cron.Parser
	c        *cron.Cron
	running  bool
	jobs     map[JobID]*entry
	seq      uint64
	handlers map[string]Handler

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type Option func(*Service)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, exec Executor, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:  log.With(logx.String("comp", "scheduler")),
		pub:  eventbus.Publisher{Bus: bus},
		exec: exec,
		cfg:  cfg,
		now:  time.Now,
		// Daily specs carry their own location; the cron clock stays Local.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:        map[JobID]*entry{},
		handlers:    map[string]Handler{},
		lastEnqWarn: map[string]time.Time{},
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(time.Local))
	s.loc = loadLocation(cfg.Timezone, s.log)
	for _, o := range opts {
		o(s)
	}
	return s
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the default location for daily jobs.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Apply changes the default timezone. Existing daily jobs keep their own.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.loc = loadLocation(cfg.Timezone, s.log)
}

// Register binds a callback identity to its handler. Jobs whose callback has
// no handler at fire time are logged and dropped.
func (s *Service) Register(callback string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		delete(s.handlers, callback)
		return
	}
	s.handlers[callback] = h
}

// Start begins triggering. One-off jobs whose trigger passed while stopped fire immediately.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.c.Start()
	for _, e := range s.jobs {
		if e.job.Key.Kind == KindOnce {
			s.armLocked(e)
		}
	}
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop halts triggering. Definitions stay in the registry for the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for _, e := range s.jobs {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	c := s.c
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) armLocked(e *entry) {
	delay := max(e.job.Trigger.Sub(s.now()), 0)
	id, ver := e.job.ID, e.ver
	e.timer = time.AfterFunc(delay, func() { s.fire(id, ver) })
}

// fire removes a one-off job before dispatch so it can never run twice.
func (s *Service) fire(id JobID, ver uint64) {
	s.mu.Lock()
	e := s.jobs[id]
	if e == nil || e.ver != ver || !s.running {
		s.mu.Unlock()
		return
	}
	job := e.job
	scheduledFor := job.Trigger
	if job.Key.Kind == KindOnce {
		e.timer = nil
		delete(s.jobs, id)
	} else {
		now := s.now()
		scheduledFor = now.Truncate(time.Minute)
		e.job.Next = e.sched.Next(now)
		job.Next = e.job.Next
	}
	h := s.handlers[job.Key.Callback]
	exec := s.exec
	timeout := s.cfg.Timeout
	s.mu.Unlock()

	s.pub.Publish(eventbus.JobFired, job.Key.ChatID, jobEvent(job))
	if h == nil {
		s.log.Warn("job fired without handler", logx.String("job", string(id)), logx.String("callback", job.Key.Callback))
		return
	}

	f := Firing{JobID: id, Key: job.Key, ChatID: job.Key.ChatID, Data: job.Data, ScheduledFor: scheduledFor}
	run := func(ctx context.Context) error { return h(ctx, f) }
	if exec == nil {
		go func() {
			if err := run(context.Background()); err != nil {
				s.log.Warn("job handler failed", logx.String("job", string(id)), logx.Err(err))
			}
		}()
		return
	}
	err := exec.Enqueue(engineTask(job, timeout, run))
	s.reportEnqueueError(job.Key.Callback, err)
}

func jobEvent(j Job) JobEvent {
	next := j.Next
	if j.Key.Kind == KindOnce {
		next = j.Trigger
	}
	return JobEvent{ID: j.ID, Kind: j.Key.Kind.String(), Callback: j.Key.Callback, ChatID: j.Key.ChatID, Next: next}
}
