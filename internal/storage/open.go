package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "nova/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func validateAccount(a Account) error {
	if a.ChatID == 0 || strings.TrimSpace(a.RefreshToken) == "" {
		return fmt.Errorf("%w: account needs chat id and refresh token", ErrInvalid)
	}
	return nil
}

// prepareTask fills ID and CreatedAt and validates the rest.
func prepareTask(t Task, now time.Time) (Task, error) {
	if t.ChatID == 0 || strings.TrimSpace(t.Title) == "" || t.Duration <= 0 {
		return Task{}, fmt.Errorf("%w: task needs chat id, title and a positive duration", ErrInvalid)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	return t, nil
}

func sortTasks(ts []Task) {
	sort.SliceStable(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

func sortAccounts(as []Account) {
	sort.Slice(as, func(i, j int) bool { return as[i].ChatID < as[j].ChatID })
}

// tailAudit filters by chat and returns the newest limit entries, newest first.
func tailAudit(all []AuditEntry, chatID int64, limit int) []AuditEntry {
	out := make([]AuditEntry, 0, min(len(all), max(limit, 0)))
	for i := len(all) - 1; i >= 0; i-- {
		if chatID != 0 && all[i].ChatID != chatID {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
