package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks fields that would otherwise fail late at runtime.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token is required"))
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			add(fmt.Errorf("telegram.group_log: %q is not a chat id", g))
		}
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)
	_, err = ParseDurationField("telegram.handler_timeout", cfg.Telegram.HandlerTimeout)
	add(err)

	sc := cfg.Schedule
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("schedule.timezone: %w", err))
		}
	}
	start, err := ParseClockField("schedule.day_start", sc.DayStart, "08:00")
	add(err)
	end, err := ParseClockField("schedule.day_end", sc.DayEnd, "18:00")
	add(err)
	if err == nil && !end.After(start) {
		add(fmt.Errorf("schedule.day_end must be after schedule.day_start"))
	}
	_, err = ParseClockField("schedule.morning_brief", sc.MorningBrief, "07:30")
	add(err)
	if strings.TrimSpace(sc.EveningReview) != "" {
		_, err = ParseClockField("schedule.evening_review", sc.EveningReview, "")
		add(err)
	}
	_, err = ParseDurationField("schedule.alert_lead", sc.AlertLead)
	add(err)

	switch d := strings.ToLower(strings.TrimSpace(cfg.Calendar.Driver)); d {
	case "", "google":
		if strings.TrimSpace(cfg.Calendar.ClientID) == "" || strings.TrimSpace(cfg.Calendar.ClientSecret) == "" {
			add(fmt.Errorf("calendar: client_id and client_secret are required for the google driver"))
		}
	case "none":
	default:
		add(fmt.Errorf("calendar.driver: unknown driver %q", d))
	}
	_, err = ParseDurationField("calendar.request_timeout", cfg.Calendar.RequestTimeout)
	add(err)

	if te := cfg.TaskEngine; te != nil {
		_, err = ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
		add(err)
		_, err = ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
		add(err)
	}
	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "memory", "file", "sqlite":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		_, err = ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
	}
	if cfg.Ops.Enabled {
		add(validateOpsAddr(cfg.Ops))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ParseClockField parses "HH:MM". An empty value returns def (parsed).
func ParseClockField(path, raw, def string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = def
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: invalid clock %q (want HH:MM)", path, raw)
	}
	return t, nil
}

func validateOpsAddr(o OpsConfig) error {
	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("ops.addr: %w", err)
	}
	if isLoopback(host) || o.AllowInsecure || strings.TrimSpace(o.Token) != "" {
		return nil
	}
	return fmt.Errorf("ops.addr %q is not loopback; set ops.token or ops.allow_insecure", addr)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
