// Package app wires nova's components together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nova/internal/bot"
	"nova/internal/config"
	"nova/internal/eventbus"
	"nova/internal/flow"
	"nova/internal/observability/metrics"
	"nova/internal/observability/ops"
	"nova/internal/planner"
	rtsup "nova/internal/runtime/supervisor"
	"nova/internal/storage"
	"nova/internal/task/engine"
	"nova/internal/task/scheduler"
	kit "nova/internal/transport"
	telegram "nova/internal/transport/telegram/adapter"
	"nova/internal/transport/telegram/router"
	logx "nova/pkg/logx"
	"nova/pkg/systemd"
)

// auditFamilies are the bus event families persisted to the audit log.
var auditFamilies = []string{"job", "plan", "sync", "review"}

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  kit.Adapter
	router   *router.Router
	engine   *engine.Service
	sched    *scheduler.Service
	planner  *planner.Planner
	sessions *flow.Sessions
	bot      *bot.Bot
	metrics  *metrics.Metrics
	ops      *ops.Service

	updates chan kit.Update
}

// New loads the config and builds every component without starting any.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, logx.NewConsole(cfg.Logging.Level))
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg), ad)
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	stCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(stCfg, root)
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", stCfg.Driver))

	// Everything past this point must close the store on failure.
	a, err := build(cfg, cfgm, ad, logSvc, root, bus, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, cfgm *config.Manager, ad *telegram.Adapter, logSvc *logx.Service, root logx.Logger,
	bus eventbus.Bus, store storage.Store) (*App, error) {
	plCfg, err := mapPlannerConfig(cfg)
	if err != nil {
		return nil, err
	}
	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	rtCfg, err := mapRouterConfig(cfg)
	if err != nil {
		return nil, err
	}
	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}
	cal, forget, err := newCalendar(cfg, plCfg.Window.Location, root)
	if err != nil {
		return nil, err
	}

	eng := engine.New(engCfg, root, bus)
	var exec scheduler.Executor
	if engCfg.Enabled {
		exec = eng
	}
	sched := scheduler.New(scheduler.Config{
		Timezone: plCfg.Window.Location.String(),
		Timeout:  engCfg.DefaultTimeout,
	}, exec, root, bus)

	m := metrics.New(sched.Len)
	pl, err := planner.New(plCfg, planner.Deps{
		Calendar:  cal,
		Accounts:  store,
		Tasks:     store,
		Scheduler: sched,
		Sender:    ad,
		Bus:       bus,
		Logger:    root,
	}, planner.WithObserver(m))
	if err != nil {
		return nil, err
	}
	pl.RegisterHandlers()

	rt := router.New(rtCfg, ad, root, router.WithMiddleware(router.MWObserve(m.ObserveRequest)))
	rt.SetOwners(cfg.Telegram.OwnerUserIDs)

	sessions := flow.NewSessions()
	b := bot.New(bot.Deps{
		Planner:  pl,
		Accounts: store,
		Tasks:    store,
		Jobs:     sched,
		Sessions: sessions,
		Forget:   forget,
		Logger:   root,
	})

	a := &App{
		cfgm:     cfgm,
		log:      root.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		router:   rt,
		engine:   eng,
		sched:    sched,
		planner:  pl,
		sessions: sessions,
		bot:      b,
		metrics:  m,
		updates:  make(chan kit.Update, 256),
	}
	a.ops = ops.New(opsCfg, m.Registry(), a.health, root)
	return a, nil
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	a.engine.Start(runCtx)
	a.sched.Start(runCtx)
	a.bot.Install(runCtx, a.router)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go("metrics.consume", func(c context.Context) error {
		return a.metrics.Consume(c, a.bus)
	})
	a.sup.Go("storage.audit", func(c context.Context) error {
		return storage.RecordEvents(c, a.bus, a.store, a.log, auditFamilies...)
	})
	// The registry is in memory only; rebuild every linked chat's jobs.
	a.sup.Go0("planner.resync", func(c context.Context) {
		n, err := a.planner.ResyncAll(c)
		if err != nil && c.Err() == nil {
			a.log.Warn("initial resync incomplete", logx.Int("synced", n), logx.Err(err))
			return
		}
		a.log.Info("initial resync done", logx.Int("synced", n))
		_, _ = systemd.Status(fmt.Sprintf("%d chats synced", n))
	})

	a.ops.Reconfigure(runCtx, mustOps(a.cfgm.Get()))

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", systemd.Watchdog)

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// Unwind background loops first.
	a.sup.Cancel()

	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown action bounded by max and the caller's deadline,
// so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, deadline passed", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		// fn must honor stepCtx; anything still running here is a leak.
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

func (a *App) health(context.Context) (map[string]any, error) {
	es := a.engine.Snapshot()
	st := map[string]any{
		"jobs":      a.sched.Len(),
		"queue":     es.QueueLen,
		"in_flight": es.InFlight,
		"dropped":   es.Dropped,
		"sessions":  a.sessions.Active(),
	}
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			return st, err
		}
	}
	if es.Enabled && !a.engine.Running() {
		return st, errors.New("task engine not running")
	}
	return st, nil
}

// mustOps maps an already validated config.
func mustOps(cfg *config.Config) ops.Config {
	oc, err := mapOpsConfig(cfg)
	if err != nil {
		return ops.Config{}
	}
	return oc
}

func restartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "calendar":
			out = append(out, s)
		}
	}
	return out
}
