package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Schedule ScheduleConfig `json:"schedule"`
	Calendar CalendarConfig `json:"calendar"`

	// TaskEngine runs fired jobs. Omitted means enabled with defaults.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	// Storage is optional. Omitted means an in-memory store (lost on restart).
	Storage *StorageConfig `json:"storage,omitempty"`
	Ops     OpsConfig      `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs restricts the bot to these users. Empty allows everyone.
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// GroupLog is the chat id ("-100...") that receives the log sink.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec caps outbound sends. 0 uses 20.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// HandlerTimeout bounds one update. Default "30s".
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ScheduleConfig is the business-hours window and the fixed daily prompts.
//
// Clock values are "HH:MM" wall-clock times in Timezone.
//
//	"schedule": {
//	  "timezone": "America/New_York",
//	  "day_start": "08:00", "day_end": "18:00",
//	  "morning_brief": "07:30", "evening_review": "18:00",
//	  "alert_lead": "5m"
//	}
type ScheduleConfig struct {
	Timezone string `json:"timezone"`
	DayStart string `json:"day_start"`
	DayEnd   string `json:"day_end"`

	MorningBrief string `json:"morning_brief,omitempty"`
	// EveningReview is optional. Empty disables the end-of-day prompt.
	EveningReview string `json:"evening_review,omitempty"`
	// AlertLead fires block alerts this long before an event starts.
	AlertLead string `json:"alert_lead,omitempty"`
}

// CalendarConfig selects the calendar provider.
//
// Driver "google" (default) uses the Calendar API with per-account refresh
// tokens. Driver "none" disables calendar access (planning only stores tasks).
type CalendarConfig struct {
	Driver       string `json:"driver,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	// CalendarID defaults to "primary".
	CalendarID string `json:"calendar_id,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
	// RequestTimeout bounds one API call. Default "15s".
	RequestTimeout string `json:"request_timeout,omitempty"`
	// SkipAllDay drops all-day events from busy computation. Default true.
	SkipAllDay *bool `json:"skip_all_day,omitempty"`
}

func (c CalendarConfig) SkipAllDayOrDefault() bool {
	return c.SkipAllDay == nil || *c.SkipAllDay
}

// TaskEngineConfig controls the worker pool for fired jobs.
//
// Defaults: workers 2, queue_size 256, history_size 200, retry_max 3,
// default_timeout and max_queue_delay disabled.
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// StorageConfig controls persistence.
//
//	"storage": { "driver": "sqlite", "path": "./nova.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// OpsConfig controls the operator HTTP listener (/metrics, /healthz, pprof).
//
// Prefer a loopback address. A non-loopback address needs a token or allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}
