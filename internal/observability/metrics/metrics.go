// Package metrics exports nova's prometheus collectors.
//
// Collectors are fed from three places: the event bus (jobs, tasks, syncs),
// the planner observer hook, and the router request middleware.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nova/internal/eventbus"
	"nova/internal/freebusy"
	"nova/internal/task/engine"
	"nova/internal/task/scheduler"
)

const namespace = "nova"

type Metrics struct {
	reg *prometheus.Registry

	jobEvents      *prometheus.CounterVec
	taskRuns       *prometheus.CounterVec
	taskDuration   prometheus.Histogram
	slotSearches   *prometheus.CounterVec
	calendarErrors *prometheus.CounterVec
	plans          *prometheus.CounterVec
	syncs          *prometheus.CounterVec
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// New registers nova's collectors plus the Go and process collectors on a
// private registry. jobs may be nil; otherwise it backs the registry size gauge.
func New(jobs func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		jobEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_events_total",
			Help:      "Job registry changes and firings.",
		}, []string{"event", "kind"}),
		taskRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "task_runs_total",
			Help:      "Handler executions by outcome.",
		}, []string{"outcome"}),
		taskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "task_duration_seconds",
			Help:      "Handler execution latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		slotSearches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "slot_searches_total",
			Help:      "Free-slot searches by policy and outcome.",
		}, []string{"policy", "outcome"}),
		calendarErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "calendar_errors_total",
			Help:      "Calendar provider failures by operation.",
		}, []string{"op"}),
		plans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "plans_total",
			Help:      "Planned items by result.",
		}, []string{"result"}),
		syncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "syncs_total",
			Help:      "Per-chat resyncs by outcome.",
		}, []string{"outcome"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "requests_total",
			Help:      "Handled chat requests by command and outcome.",
		}, []string{"command", "outcome"}),
		requestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "request_duration_seconds",
			Help:      "Chat request latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"command"}),
	}

	if jobs != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "jobs",
			Help:      "Jobs currently in the registry.",
		}, func() float64 { return float64(jobs()) })
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// SlotSearch implements planner.Observer.
func (m *Metrics) SlotSearch(policy freebusy.Policy, found bool) {
	m.slotSearches.WithLabelValues(policy.String(), foundLabel(found)).Inc()
}

// CalendarError implements planner.Observer.
func (m *Metrics) CalendarError(op string) {
	m.calendarErrors.WithLabelValues(op).Inc()
}

// ObserveRequest matches router.MWObserve.
func (m *Metrics) ObserveRequest(command string, d time.Duration, err error) {
	if command == "" {
		command = "text"
	}
	outcome := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	m.requests.WithLabelValues(command, outcome).Inc()
	m.requestLatency.WithLabelValues(command).Observe(d.Seconds())
}

// Consume counts bus events until ctx is done or the subscription closes.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) error {
	if bus == nil {
		<-ctx.Done()
		return nil
	}
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// Observe counts a single bus event. Unknown types are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.JobScheduled, eventbus.JobReplaced, eventbus.JobCancelled, eventbus.JobFired:
		kind := "unknown"
		if je, ok := e.Data.(scheduler.JobEvent); ok {
			kind = je.Kind
		}
		m.jobEvents.WithLabelValues(e.Type[len("job."):], kind).Inc()
	case eventbus.TaskFinished, eventbus.TaskFailed, eventbus.TaskDropped, eventbus.TaskSkipped:
		m.taskRuns.WithLabelValues(e.Type[len("task."):]).Inc()
		if te, ok := e.Data.(engine.TaskEvent); ok && te.Duration > 0 {
			m.taskDuration.Observe(te.Duration.Seconds())
		}
	case eventbus.PlanCreated:
		m.plans.WithLabelValues("scheduled").Inc()
	case eventbus.PlanStored:
		m.plans.WithLabelValues("backlog").Inc()
	case eventbus.SyncDone:
		m.syncs.WithLabelValues("ok").Inc()
	case eventbus.SyncFailed:
		m.syncs.WithLabelValues("failed").Inc()
	}
}

func foundLabel(found bool) string {
	if found {
		return "found"
	}
	return "none"
}
