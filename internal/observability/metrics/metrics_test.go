package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"nova/internal/eventbus"
	"nova/internal/freebusy"
	"nova/internal/task/engine"
	"nova/internal/task/scheduler"
)

// value returns the sample of family name whose labels include all of want.
func value(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()
	fams, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range fams {
		if f.GetName() != name {
			continue
		}
		for _, s := range f.GetMetric() {
			if !hasLabels(s, want) {
				continue
			}
			switch {
			case s.GetCounter() != nil:
				return s.GetCounter().GetValue()
			case s.GetGauge() != nil:
				return s.GetGauge().GetValue()
			case s.GetHistogram() != nil:
				return float64(s.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func hasLabels(s *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range s.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestObserveEvents(t *testing.T) {
	t.Parallel()

	m := New(nil)
	events := []eventbus.Event{
		{Type: eventbus.JobScheduled, Data: scheduler.JobEvent{Kind: "once"}},
		{Type: eventbus.JobScheduled, Data: scheduler.JobEvent{Kind: "daily"}},
		{Type: eventbus.JobFired, Data: scheduler.JobEvent{Kind: "once"}},
		{Type: eventbus.JobCancelled},
		{Type: eventbus.TaskFinished, Data: engine.TaskEvent{Duration: 20 * time.Millisecond}},
		{Type: eventbus.TaskFailed, Data: engine.TaskEvent{Duration: time.Second}},
		{Type: eventbus.PlanCreated},
		{Type: eventbus.PlanStored},
		{Type: eventbus.PlanStored},
		{Type: eventbus.SyncFailed},
		{Type: "something.else"},
	}
	for _, e := range events {
		m.Observe(e)
	}

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"nova_scheduler_job_events_total", map[string]string{"event": "scheduled", "kind": "once"}, 1},
		{"nova_scheduler_job_events_total", map[string]string{"event": "scheduled", "kind": "daily"}, 1},
		{"nova_scheduler_job_events_total", map[string]string{"event": "fired", "kind": "once"}, 1},
		{"nova_scheduler_job_events_total", map[string]string{"event": "cancelled", "kind": "unknown"}, 1},
		{"nova_engine_task_runs_total", map[string]string{"outcome": "finished"}, 1},
		{"nova_engine_task_runs_total", map[string]string{"outcome": "failed"}, 1},
		{"nova_engine_task_duration_seconds", nil, 2},
		{"nova_planner_plans_total", map[string]string{"result": "scheduled"}, 1},
		{"nova_planner_plans_total", map[string]string{"result": "backlog"}, 2},
		{"nova_planner_syncs_total", map[string]string{"outcome": "failed"}, 1},
	}
	for _, tt := range tests {
		if got := value(t, m, tt.name, tt.labels); got != tt.want {
			t.Fatalf("%s%v = %v, want %v", tt.name, tt.labels, got, tt.want)
		}
	}
}

func TestObserverHooks(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.SlotSearch(freebusy.PolicyEarliestFit, true)
	m.SlotSearch(freebusy.PolicyEarliestFit, false)
	m.SlotSearch(freebusy.PolicyMaxBuffer, true)
	m.CalendarError("busy")

	if got := value(t, m, "nova_planner_slot_searches_total", map[string]string{"policy": "earliest_fit", "outcome": "none"}); got != 1 {
		t.Fatalf("earliest_fit none = %v", got)
	}
	if got := value(t, m, "nova_planner_slot_searches_total", map[string]string{"policy": "max_buffer", "outcome": "found"}); got != 1 {
		t.Fatalf("max_buffer found = %v", got)
	}
	if got := value(t, m, "nova_planner_calendar_errors_total", map[string]string{"op": "busy"}); got != 1 {
		t.Fatalf("calendar errors = %v", got)
	}
}

func TestObserveRequest(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.ObserveRequest("task", 10*time.Millisecond, nil)
	m.ObserveRequest("sync", time.Second, context.DeadlineExceeded)
	m.ObserveRequest("", time.Millisecond, errors.New("boom"))

	tests := []struct {
		labels map[string]string
		want   float64
	}{
		{map[string]string{"command": "task", "outcome": "ok"}, 1},
		{map[string]string{"command": "sync", "outcome": "timeout"}, 1},
		{map[string]string{"command": "text", "outcome": "error"}, 1},
	}
	for _, tt := range tests {
		if got := value(t, m, "nova_bot_requests_total", tt.labels); got != tt.want {
			t.Fatalf("requests%v = %v, want %v", tt.labels, got, tt.want)
		}
	}
}

func TestJobsGauge(t *testing.T) {
	t.Parallel()

	n := 3
	m := New(func() int { return n })
	if got := value(t, m, "nova_scheduler_jobs", nil); got != 3 {
		t.Fatalf("jobs gauge = %v", got)
	}
}

func TestConsume(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	m := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Consume(ctx, bus) }()

	deadline := time.Now().Add(2 * time.Second)
	for value(t, m, "nova_planner_syncs_total", map[string]string{"outcome": "ok"}) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sync event not counted")
		}
		// Subscription may not exist yet; publish until it lands.
		bus.Publish(eventbus.Event{Type: eventbus.SyncDone})
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Consume did not return after cancel")
	}
}
