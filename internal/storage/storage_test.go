package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nova/internal/eventbus"
	logx "nova/pkg/logx"
)

var t0 = time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	open := func(driver string) func(t *testing.T) Store {
		return func(t *testing.T) Store {
			st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "nova.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("Open(%s): %v", driver, err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		}
	}
	return map[string]func(t *testing.T) Store{
		"memory": open("memory"),
		"file":   open("file"),
		"sqlite": open("sqlite"),
	}
}

func TestAccounts(t *testing.T) {
	t.Parallel()

	for name, open := range backends(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			st, ctx := open(t), context.Background()

			if _, err := st.GetAccount(ctx, 1); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetAccount missing: %v", err)
			}
			if err := st.PutAccount(ctx, Account{ChatID: 1}); !errors.Is(err, ErrInvalid) {
				t.Fatalf("PutAccount without token: %v", err)
			}
			if err := st.PutAccount(ctx, Account{ChatID: 2, RefreshToken: "r2", CreatedAt: t0}); err != nil {
				t.Fatalf("PutAccount: %v", err)
			}
			if err := st.PutAccount(ctx, Account{ChatID: 1, RefreshToken: "r1", Timezone: "UTC", CreatedAt: t0}); err != nil {
				t.Fatalf("PutAccount: %v", err)
			}
			// Replace keeps the original creation time.
			if err := st.PutAccount(ctx, Account{ChatID: 1, RefreshToken: "r1b", CreatedAt: t0.Add(time.Hour)}); err != nil {
				t.Fatalf("PutAccount replace: %v", err)
			}
			a, err := st.GetAccount(ctx, 1)
			if err != nil {
				t.Fatalf("GetAccount: %v", err)
			}
			if a.RefreshToken != "r1b" || !a.CreatedAt.Equal(t0) || a.UpdatedAt.IsZero() {
				t.Fatalf("account = %+v", a)
			}
			list, err := st.ListAccounts(ctx)
			if err != nil || len(list) != 2 || list[0].ChatID != 1 || list[1].ChatID != 2 {
				t.Fatalf("ListAccounts = %+v, %v", list, err)
			}
		})
	}
}

func TestTasks(t *testing.T) {
	t.Parallel()

	for name, open := range backends(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			st, ctx := open(t), context.Background()

			if _, err := st.AddTask(ctx, Task{ChatID: 1, Title: "x"}); !errors.Is(err, ErrInvalid) {
				t.Fatalf("AddTask without duration: %v", err)
			}
			later, err := st.AddTask(ctx, Task{ChatID: 1, Title: "later", Duration: time.Hour, CreatedAt: t0.Add(time.Minute)})
			if err != nil {
				t.Fatalf("AddTask: %v", err)
			}
			first, err := st.AddTask(ctx, Task{ChatID: 1, Title: "first", Duration: 3 * time.Hour, Deadline: t0.AddDate(0, 0, 3), CreatedAt: t0})
			if err != nil {
				t.Fatalf("AddTask: %v", err)
			}
			if _, err := st.AddTask(ctx, Task{ChatID: 2, Title: "other", Duration: time.Hour}); err != nil {
				t.Fatalf("AddTask: %v", err)
			}
			if first.ID == "" || first.ID == later.ID {
				t.Fatalf("ids = %q, %q", first.ID, later.ID)
			}

			got, err := st.ListTasks(ctx, 1)
			if err != nil || len(got) != 2 {
				t.Fatalf("ListTasks = %+v, %v", got, err)
			}
			if got[0].Title != "first" || got[0].Duration != 3*time.Hour || !got[0].Deadline.Equal(t0.AddDate(0, 0, 3)) {
				t.Fatalf("task[0] = %+v", got[0])
			}

			if err := st.DeleteTask(ctx, 2, first.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("DeleteTask other chat: %v", err)
			}
			if err := st.DeleteTask(ctx, 1, first.ID); err != nil {
				t.Fatalf("DeleteTask: %v", err)
			}
			if got, _ := st.ListTasks(ctx, 1); len(got) != 1 || got[0].ID != later.ID {
				t.Fatalf("after delete = %+v", got)
			}
		})
	}
}

func TestAudit(t *testing.T) {
	t.Parallel()

	for name, open := range backends(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			st, ctx := open(t), context.Background()

			for i, e := range []AuditEntry{
				{Type: "job.scheduled", ChatID: 1, Detail: `{"id":"a"}`},
				{Type: "job.scheduled", ChatID: 2},
				{Type: "job.fired", ChatID: 1},
				{Type: "job.cancelled", ChatID: 1},
			} {
				e.At = t0.Add(time.Duration(i) * time.Second)
				if err := st.AppendAudit(ctx, e); err != nil {
					t.Fatalf("AppendAudit: %v", err)
				}
			}
			got, err := st.ListAudit(ctx, 1, 2)
			if err != nil {
				t.Fatalf("ListAudit: %v", err)
			}
			if len(got) != 2 || got[0].Type != "job.cancelled" || got[1].Type != "job.fired" {
				t.Fatalf("ListAudit = %+v", got)
			}
			all, _ := st.ListAudit(ctx, 0, 0)
			if len(all) != 4 || all[3].Detail != `{"id":"a"}` || !all[3].At.Equal(t0) {
				t.Fatalf("ListAudit all = %+v", all)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fs := st.(*fileStore)
	fs.compactEvery = 2 // force one compaction mid-way

	if err := st.PutAccount(ctx, Account{ChatID: 1, RefreshToken: "r"}); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}
	a, _ := st.AddTask(ctx, Task{ChatID: 1, Title: "a", Duration: time.Hour})
	b, _ := st.AddTask(ctx, Task{ChatID: 1, Title: "b", Duration: time.Hour})
	if err := st.DeleteTask(ctx, 1, a.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	// Simulate a crash: close files without the final compaction.
	fs.mu.Lock()
	_ = fs.journal.Close()
	fs.journal = nil
	_ = fs.auditFile.Close()
	fs.auditFile = nil
	fs.mu.Unlock()

	re, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer re.Close()
	if _, err := re.GetAccount(ctx, 1); err != nil {
		t.Fatalf("GetAccount after reopen: %v", err)
	}
	tasks, _ := re.ListTasks(ctx, 1)
	if len(tasks) != 1 || tasks[0].ID != b.ID {
		t.Fatalf("tasks after reopen = %+v", tasks)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for sqlite without path")
	}
}

func TestRecordEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	st := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RecordEvents(ctx, bus, st, logx.Nop(), "job") }()

	// Subscription happens inside the goroutine; publish until it is seen.
	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.Publish(eventbus.Event{Type: eventbus.JobScheduled, Time: t0, ChatID: 9, Data: map[string]string{"id": "once-1"}})
		bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: t0, ChatID: 9})
		got, _ := st.ListAudit(context.Background(), 9, 0)
		if len(got) > 0 {
			for _, e := range got {
				if e.Type != eventbus.JobScheduled || e.Detail != `{"id":"once-1"}` {
					t.Fatalf("entry = %+v", e)
				}
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no audit entries recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RecordEvents: %v", err)
	}
}
