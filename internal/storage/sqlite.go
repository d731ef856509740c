package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "nova/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutAccount(ctx context.Context, a Account) error {
	if err := validateAccount(a); err != nil {
		return err
	}
	now := s.now()
	created := a.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(chat_id, refresh_token, calendar_id, timezone, created_at, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   refresh_token=excluded.refresh_token,
		   calendar_id=excluded.calendar_id,
		   timezone=excluded.timezone,
		   updated_at=excluded.updated_at`,
		a.ChatID, a.RefreshToken, a.CalendarID, a.Timezone, formatTime(created), formatTime(now),
	)
	return err
}

func (s *sqliteStore) GetAccount(ctx context.Context, chatID int64) (Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, refresh_token, calendar_id, timezone, created_at, updated_at FROM accounts WHERE chat_id = ?`, chatID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (s *sqliteStore) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, refresh_token, calendar_id, timezone, created_at, updated_at FROM accounts ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddTask(ctx context.Context, t Task) (Task, error) {
	t, err := prepareTask(t, s.now())
	if err != nil {
		return Task{}, err
	}
	deadline := ""
	if !t.Deadline.IsZero() {
		deadline = formatTime(t.Deadline)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, chat_id, title, deadline, duration_ns, created_at) VALUES(?,?,?,?,?,?)`,
		t.ID, t.ChatID, t.Title, deadline, int64(t.Duration), formatTime(t.CreatedAt),
	)
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *sqliteStore) ListTasks(ctx context.Context, chatID int64) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, title, deadline, duration_ns, created_at FROM tasks WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		var (
			t                 Task
			deadline, created string
			dur               int64
		)
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Title, &deadline, &dur, &created); err != nil {
			return nil, err
		}
		t.Duration = time.Duration(dur)
		if t.Deadline, err = parseTime(deadline); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Timestamps are text; order in Go so equal instants in different zones compare right.
	sortTasks(out)
	return out, nil
}

func (s *sqliteStore) DeleteTask(ctx context.Context, chatID int64, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND chat_id = ?`, id, chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, type, chat_id, detail) VALUES(?,?,?,?)`,
		formatTime(e.At), e.Type, e.ChatID, nullStr(e.Detail),
	)
	return err
}

func (s *sqliteStore) ListAudit(ctx context.Context, chatID int64, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, type, chat_id, COALESCE(detail, '') FROM audit
		 WHERE (? = 0 OR chat_id = ?) ORDER BY id DESC LIMIT ?`, chatID, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
		)
		if err := rows.Scan(&at, &e.Type, &e.ChatID, &e.Detail); err != nil {
			return nil, err
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (Account, error) {
	var (
		a                Account
		created, updated string
	)
	if err := r.Scan(&a.ChatID, &a.RefreshToken, &a.CalendarID, &a.Timezone, &created, &updated); err != nil {
		return Account{}, err
	}
	var err error
	if a.CreatedAt, err = parseTime(created); err != nil {
		return Account{}, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return Account{}, err
	}
	return a, nil
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
