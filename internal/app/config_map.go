package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"nova/internal/calendar"
	"nova/internal/config"
	"nova/internal/freebusy"
	"nova/internal/observability/ops"
	"nova/internal/planner"
	"nova/internal/storage"
	"nova/internal/task/engine"
	"nova/internal/transport/telegram/router"
	logx "nova/pkg/logx"
)

// Config section defaults. Clock values are "HH:MM".
const (
	defaultDayStart     = "08:00"
	defaultDayEnd       = "18:00"
	defaultMorningBrief = "07:30"
	defaultAlertLead    = 5 * time.Minute
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	out := logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if id, err := strconv.ParseInt(g, 10, 64); err == nil {
			out.Telegram.ChatID = id
		}
	}
	return out
}

// mapPlannerConfig builds the planner window and prompt times from the schedule section.
func mapPlannerConfig(cfg *config.Config) (planner.Config, error) {
	sc := cfg.Schedule
	w, err := freebusy.NewWindow(orDefault(sc.DayStart, defaultDayStart), orDefault(sc.DayEnd, defaultDayEnd), strings.TrimSpace(sc.Timezone))
	if err != nil {
		return planner.Config{}, fmt.Errorf("schedule: %w", err)
	}
	lead, err := config.ParseDurationOrDefault("schedule.alert_lead", sc.AlertLead, defaultAlertLead)
	if err != nil {
		return planner.Config{}, err
	}
	pc := planner.Config{
		Window:        w,
		MorningBrief:  orDefault(sc.MorningBrief, defaultMorningBrief),
		EveningReview: strings.TrimSpace(sc.EveningReview),
		AlertLead:     lead,
	}
	if _, err := freebusy.ParseClock(pc.MorningBrief); err != nil {
		return planner.Config{}, fmt.Errorf("schedule.morning_brief: %w", err)
	}
	if pc.EveningReview != "" {
		if _, err := freebusy.ParseClock(pc.EveningReview); err != nil {
			return planner.Config{}, fmt.Errorf("schedule.evening_review: %w", err)
		}
	}
	return pc, nil
}

// mapEngineConfig fills engine defaults. The engine is on unless explicitly disabled.
func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: true}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Enabled != nil {
		out.Enabled = *te.Enabled
	}
	if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
		return engine.Config{}, fmt.Errorf("task_engine: counts must be >= 0")
	}
	out.Workers = te.Workers
	out.QueueSize = te.QueueSize
	out.HistorySize = te.HistorySize
	out.RetryMax = te.RetryMax

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// mapStorageConfig falls back to the in-memory store when storage is omitted.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// newCalendar picks the provider named by calendar.driver. forget is nil
// for providers without a client cache.
func newCalendar(cfg *config.Config, loc *time.Location, log logx.Logger) (calendar.Provider, func(string), error) {
	cc := cfg.Calendar
	switch strings.ToLower(strings.TrimSpace(cc.Driver)) {
	case "none":
		return calendar.Disabled{}, nil, nil
	case "", "google":
		timeout, err := config.ParseDurationField("calendar.request_timeout", cc.RequestTimeout)
		if err != nil {
			return nil, nil, err
		}
		g := calendar.NewGoogle(calendar.GoogleConfig{
			ClientID:       cc.ClientID,
			ClientSecret:   cc.ClientSecret,
			CalendarID:     cc.CalendarID,
			MaxResults:     cc.MaxResults,
			RequestTimeout: timeout,
			SkipAllDay:     cc.SkipAllDayOrDefault(),
			Location:       loc,
		}, log)
		return g, g.Forget, nil
	default:
		return nil, nil, fmt.Errorf("calendar.driver: unknown driver %q", cc.Driver)
	}
}

func mapRouterConfig(cfg *config.Config) (router.Config, error) {
	timeout, err := config.ParseDurationField("telegram.handler_timeout", cfg.Telegram.HandlerTimeout)
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{HandlerTimeout: timeout}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}, nil
}

// validate runs every mapper so a hot reload is rejected before commit.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapPlannerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRouterConfig(cfg); err != nil {
		return err
	}
	_, err := mapOpsConfig(cfg)
	return err
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
