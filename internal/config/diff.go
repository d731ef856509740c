package config

import (
	"reflect"
	"sort"
	"strings"

	logx "nova/pkg/logx"
)

// SummarizeConfigChange lists changed sections plus safe log fields.
// Secrets (bot token, client secret, ops token) are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || ot.GroupLog != nt.GroupLog ||
		ot.RatePerSec != nt.RatePerSec || ot.HandlerTimeout != nt.HandlerTimeout ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule.timezone", newCfg.Schedule.Timezone),
			logx.String("schedule.window", newCfg.Schedule.DayStart+"-"+newCfg.Schedule.DayEnd),
			logx.String("schedule.morning_brief", newCfg.Schedule.MorningBrief),
		)
	}

	oc, nc := oldCfg.Calendar, newCfg.Calendar
	if oc.Driver != nc.Driver || oc.ClientID != nc.ClientID || oc.ClientSecret != nc.ClientSecret ||
		oc.CalendarID != nc.CalendarID || oc.MaxResults != nc.MaxResults ||
		oc.RequestTimeout != nc.RequestTimeout || oc.SkipAllDayOrDefault() != nc.SkipAllDayOrDefault() {
		changed = append(changed, "calendar")
		attrs = append(attrs,
			logx.String("calendar.driver", nc.Driver),
			logx.Bool("calendar.secret_changed", oc.ClientSecret != nc.ClientSecret),
			logx.Bool("calendar.skip_all_day", nc.SkipAllDayOrDefault()),
		)
	}

	if !reflect.DeepEqual(derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)) {
		changed = append(changed, "task_engine")
		te := derefTaskEngine(newCfg.TaskEngine)
		attrs = append(attrs, logx.Int("task_engine.workers", te.Workers), logx.Int("task_engine.queue_size", te.QueueSize))
	}

	if !reflect.DeepEqual(derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", derefStorage(newCfg.Storage).Driver))
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	if oo.Enabled != no.Enabled || oo.Addr != no.Addr || oo.Pprof != no.Pprof || oo.AllowInsecure != no.AllowInsecure ||
		oo.ReadTimeout != no.ReadTimeout || oo.IdleTimeout != no.IdleTimeout || oo.Token != no.Token {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", no.Addr),
			logx.Bool("ops.token_set", strings.TrimSpace(no.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
