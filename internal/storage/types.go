package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("storage closed")
	ErrInvalid  = errors.New("invalid record")
)

type Config struct {
	// Driver is "memory" (or empty), "file" or "sqlite".
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Account links a chat to a calendar. RefreshToken is the OAuth refresh
// token the calendar provider exchanges for access tokens.
type Account struct {
	ChatID       int64     `json:"chat_id"`
	RefreshToken string    `json:"refresh_token"`
	CalendarID   string    `json:"calendar_id,omitempty"`
	Timezone     string    `json:"timezone,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Task is a backlog item that could not be placed on the calendar.
type Task struct {
	ID        string        `json:"id"`
	ChatID    int64         `json:"chat_id"`
	Title     string        `json:"title"`
	Deadline  time.Time     `json:"deadline"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// AuditEntry records one lifecycle event. Detail is the event payload as JSON.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Type   string    `json:"type"`
	ChatID int64     `json:"chat_id"`
	Detail string    `json:"detail,omitempty"`
}

type AccountStore interface {
	// PutAccount inserts or replaces by ChatID, keeping the original CreatedAt.
	PutAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, chatID int64) (Account, error)
	// ListAccounts returns every account ordered by ChatID.
	ListAccounts(ctx context.Context) ([]Account, error)
}

type TaskStore interface {
	// AddTask assigns ID and CreatedAt when empty and returns the stored task.
	AddTask(ctx context.Context, t Task) (Task, error)
	// ListTasks returns a chat's backlog, oldest first.
	ListTasks(ctx context.Context, chatID int64) ([]Task, error)
	DeleteTask(ctx context.Context, chatID int64, id string) error
}

type AuditStore interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// ListAudit returns up to limit newest entries for chatID (0 means all chats), newest first.
	ListAudit(ctx context.Context, chatID int64, limit int) ([]AuditEntry, error)
}

type Store interface {
	AccountStore
	TaskStore
	AuditStore
	Close() error
}
