package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"nova/internal/eventbus"
	"nova/internal/task/engine"
	logx "nova/pkg/logx"
)

// recordingExec runs tasks inline and keeps them for inspection.
type recordingExec struct {
	mu    sync.Mutex
	tasks []engine.Task
	ran   chan struct{}
}

func newRecordingExec() *recordingExec { return &recordingExec{ran: make(chan struct{}, 16)} }

func (r *recordingExec) Enqueue(t engine.Task) error {
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
	err := t.Run(context.Background())
	r.ran <- struct{}{}
	return err
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newTestService(t *testing.T, now time.Time, bus eventbus.Bus) (*Service, *recordingExec) {
	t.Helper()
	exec := newRecordingExec()
	s := New(Config{Timezone: "America/New_York"}, exec, logx.Nop(), bus, WithClock(fixedClock(now)))
	return s, exec
}

var base = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func TestScheduleDailyReplacesSameKey(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, base, nil)
	id1, err := s.ScheduleDaily("morning.brief", "08:00", nil, 5, "first")
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}
	id2, err := s.ScheduleDaily("morning.brief", "08:00", nil, 5, "second")
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("ids differ: %s vs %s", id1, id2)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	job, ok := s.Get(id1)
	if !ok || job.Data != "second" {
		t.Fatalf("job = %+v, ok=%v", job, ok)
	}
	if want := (JobKey{Kind: KindDaily, Callback: "morning.brief", ChatID: 5}).ID(); id1 != want {
		t.Fatalf("id = %s, want %s", id1, want)
	}
}

func TestScheduleDailyNewTimeReplaces(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, base, nil)
	if _, err := s.ScheduleDaily("evening.review", "17:00", nil, 5, ""); err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}
	id, err := s.ScheduleDaily("evening.review", "18:30", nil, 5, "")
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}
	jobs := s.List(5)
	if len(jobs) != 1 || jobs[0].ID != id || jobs[0].DailyAt != "18:30" {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestScheduleDailyInvalid(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, base, nil)
	for _, tc := range []struct{ cb, at string }{{"", "08:00"}, {"cb", "25:00"}, {"cb", "eight"}} {
		if _, err := s.ScheduleDaily(tc.cb, tc.at, nil, 1, ""); !errors.Is(err, ErrInvalidJob) {
			t.Fatalf("ScheduleDaily(%q, %q) err = %v", tc.cb, tc.at, err)
		}
	}
}

func TestDailyNextAcrossDST(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before spring forward", time.Date(2024, 3, 8, 9, 0, 0, 0, ny), time.Date(2024, 3, 9, 13, 0, 0, 0, time.UTC)},
		{"day of spring forward", time.Date(2024, 3, 9, 9, 0, 0, 0, ny), time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)},
		{"day of fall back", time.Date(2024, 11, 2, 9, 0, 0, 0, ny), time.Date(2024, 11, 3, 13, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := New(Config{}, nil, logx.Nop(), nil, WithClock(fixedClock(tc.now)))
			id, err := s.ScheduleDaily("morning.brief", "08:00", ny, 1, "")
			if err != nil {
				t.Fatalf("ScheduleDaily: %v", err)
			}
			job, _ := s.Get(id)
			if !job.Next.Equal(tc.want) {
				t.Fatalf("Next = %s, want %s", job.Next.UTC(), tc.want)
			}
			if h, m, _ := job.Next.In(ny).Clock(); h != 8 || m != 0 {
				t.Fatalf("wall clock = %02d:%02d, want 08:00", h, m)
			}
		})
	}
}

func TestDailyUsesConfiguredTimezone(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, base, nil)
	id, err := s.ScheduleDaily("morning.brief", "00:07", nil, 1, "")
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}
	job, _ := s.Get(id)
	if job.Location.String() != "America/New_York" {
		t.Fatalf("location = %s", job.Location)
	}
}

func TestScheduleOncePastTrigger(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, base, nil)
	if _, err := s.ScheduleOnce("block.start", base.Add(time.Hour), 1, "Deep work"); err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}
	before := s.Snapshot().Jobs

	for _, trig := range []time.Time{base, base.Add(-time.Minute)} {
		if _, err := s.ScheduleOnce("block.start", trig, 1, "x"); !errors.Is(err, ErrPastTrigger) {
			t.Fatalf("ScheduleOnce(%s) err = %v, want ErrPastTrigger", trig, err)
		}
	}
	after := s.Snapshot().Jobs
	if len(after) != len(before) || after[0].ID != before[0].ID {
		t.Fatalf("registry changed: %+v -> %+v", before, after)
	}
}

func TestScheduleOnceIdentity(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, base, nil)
	trig := base.Add(2 * time.Hour)
	a, _ := s.ScheduleOnce("block.start", trig, 1, "Standup")
	b, _ := s.ScheduleOnce("block.start", trig, 1, "Standup")
	if a != b || s.Len() != 1 {
		t.Fatalf("same args: ids %s %s, Len %d", a, b, s.Len())
	}
	c, _ := s.ScheduleOnce("block.start", trig, 1, "Review")
	d, _ := s.ScheduleOnce("block.start", trig.Add(time.Minute), 1, "Standup")
	e, _ := s.ScheduleOnce("block.start", trig, 2, "Standup")
	if c == a || d == a || e == a || s.Len() != 4 {
		t.Fatalf("distinct args collided: %s %s %s %s (Len %d)", a, c, d, e, s.Len())
	}
	// Same instant in another zone is the same trigger.
	f, _ := s.ScheduleOnce("block.start", trig.In(time.FixedZone("X", 3600)), 1, "Standup")
	if f != a {
		t.Fatalf("zone changed id: %s vs %s", f, a)
	}
}

func TestJobKeyIDDelimiterSafe(t *testing.T) {
	t.Parallel()

	a := JobKey{Kind: KindOnce, Callback: "a|b", ChatID: 1, Discriminator: "c"}
	b := JobKey{Kind: KindOnce, Callback: "a", ChatID: 1, Discriminator: "b|c"}
	if a.ID() == b.ID() {
		t.Fatalf("ids collide: %s", a.ID())
	}
	daily := JobKey{Kind: KindDaily, Callback: "a|b", ChatID: 1}
	if daily.ID() == (JobKey{Kind: KindOnce, Callback: "a|b", ChatID: 1}).ID() {
		t.Fatalf("kind not part of id")
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, base, nil)
	id, _ := s.ScheduleOnce("task.reminder", base.Add(time.Hour), 1, "")
	if !s.Cancel(id) {
		t.Fatalf("Cancel returned false")
	}
	if s.Cancel(id) || s.Cancel("missing") {
		t.Fatalf("Cancel of absent id returned true")
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d", s.Len())
	}
}

func TestCancelAllScopesToChat(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, base, nil)
	_, _ = s.ScheduleDaily("morning.brief", "08:00", nil, 1, "")
	_, _ = s.ScheduleOnce("block.start", base.Add(time.Hour), 1, "a")
	_, _ = s.ScheduleOnce("block.start", base.Add(2*time.Hour), 1, "b")
	keep, _ := s.ScheduleOnce("block.start", base.Add(time.Hour), 2, "a")

	if n := s.CancelAll(1); n != 3 {
		t.Fatalf("CancelAll = %d, want 3", n)
	}
	if jobs := s.Snapshot().Jobs; len(jobs) != 1 || jobs[0].ID != keep {
		t.Fatalf("remaining = %+v", jobs)
	}
	if n := s.CancelAll(1); n != 0 {
		t.Fatalf("second CancelAll = %d", n)
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	s, _ := newTestService(t, base, bus)
	id, _ := s.ScheduleDaily("morning.brief", "08:00", nil, 9, "")
	_, _ = s.ScheduleDaily("morning.brief", "09:00", nil, 9, "")
	s.Cancel(id)

	want := []string{eventbus.JobScheduled, eventbus.JobReplaced, eventbus.JobCancelled}
	for i, typ := range want {
		e := <-ch
		if e.Type != typ || e.ChatID != 9 {
			t.Fatalf("event[%d] = %s chat %d, want %s chat 9", i, e.Type, e.ChatID, typ)
		}
	}
}

func TestOnceFiresAndIsRemoved(t *testing.T) {
	t.Parallel()

	exec := newRecordingExec()
	s := New(Config{}, exec, logx.Nop(), nil)
	got := make(chan Firing, 1)
	s.Register("block.start", func(_ context.Context, f Firing) error {
		got <- f
		return nil
	})
	s.Start(context.Background())
	defer s.Stop(context.Background())

	trig := time.Now().Add(30 * time.Millisecond)
	id, err := s.ScheduleOnce("block.start", trig, 42, "Write report")
	if err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}

	select {
	case f := <-got:
		if f.JobID != id || f.ChatID != 42 || f.Data != "Write report" || !f.ScheduledFor.Equal(trig) {
			t.Fatalf("firing = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not fire")
	}
	if _, ok := s.Get(id); ok {
		t.Fatalf("one-off job still registered after firing")
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.tasks) != 1 || exec.tasks[0].Name != "job.block.start" {
		t.Fatalf("tasks = %+v", exec.tasks)
	}
}

func TestCancelledOnceDoesNotFire(t *testing.T) {
	t.Parallel()

	exec := newRecordingExec()
	s := New(Config{}, exec, logx.Nop(), nil)
	s.Register("block.start", func(context.Context, Firing) error { return nil })
	s.Start(context.Background())
	defer s.Stop(context.Background())

	id, _ := s.ScheduleOnce("block.start", time.Now().Add(30*time.Millisecond), 1, "")
	s.Cancel(id)

	select {
	case <-exec.ran:
		t.Fatalf("cancelled job fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestStopKeepsDefinitions(t *testing.T) {
	t.Parallel()

	s := New(Config{}, newRecordingExec(), logx.Nop(), nil)
	s.Start(context.Background())
	_, _ = s.ScheduleOnce("block.start", time.Now().Add(time.Hour), 1, "")
	_, _ = s.ScheduleDaily("morning.brief", "08:00", time.UTC, 1, "")
	s.Stop(context.Background())

	snap := s.Snapshot()
	if snap.Running || len(snap.Jobs) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
