package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"nova/internal/eventbus"
	logx "nova/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestEnqueueRuns(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 2})
	done := make(chan struct{})
	if err := s.Enqueue(Task{Name: "ping", Run: func(context.Context) error { close(done); return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not run")
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{})
	if err := s.Enqueue(Task{Name: "x"}); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("nil Run err = %v", err)
	}
	if err := s.Enqueue(Task{Name: "  ", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("blank name err = %v", err)
	}
}

func TestEnqueueDisabledAndStopped(t *testing.T) {
	t.Parallel()

	noop := func(context.Context) error { return nil }
	if err := New(Config{}, logx.Nop(), nil).Enqueue(Task{Name: "x", Run: noop}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}
	if err := New(Config{Enabled: true}, logx.Nop(), nil).Enqueue(Task{Name: "x", Run: noop}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started err = %v", err)
	}
}

func TestRetryThenNoRetry(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: 3})
	var calls atomic.Int32
	done := make(chan struct{})
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond},
		Run: func(context.Context) error {
			switch calls.Add(1) {
			case 1:
				return errors.New("transient")
			default:
				close(done)
				return NoRetry(errors.New("permanent"))
			}
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-done
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	h := s.Snapshot().History[0]
	if h.Attempts != 2 || h.Error != "permanent" {
		t.Fatalf("history = %+v", h)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, RetryMax: -1})
	if err := s.Enqueue(Task{Name: "boom", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context) error { panic("boom") }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if got := s.Snapshot().History[0].Error; got != "panic: boom" {
		t.Fatalf("error = %q", got)
	}
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	slow := Task{Name: "slow", Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := s.Enqueue(slow); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(slow); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue err = %v", err)
	}
	close(release)
}

func TestBackoffBounded(t *testing.T) {
	t.Parallel()

	opt := TaskOptions{}.withDefaults(Config{RetryMax: 3})
	rng := rand.New(rand.NewSource(1))
	for retry := 1; retry < 20; retry++ {
		if d := backoffDelay(opt, retry, rng); d < 0 || d > opt.RetryMaxDelay {
			t.Fatalf("retry %d delay %s out of bounds", retry, d)
		}
	}
	hinted := backoffDelayWithHint(opt, 1, RetryAfter(errors.New("429"), time.Hour), rng)
	if hinted > opt.RetryMaxDelay {
		t.Fatalf("hint not capped: %s", hinted)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
