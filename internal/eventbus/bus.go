package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by nova components.
const (
	JobScheduled = "job.scheduled"
	JobReplaced  = "job.replaced"
	JobCancelled = "job.cancelled"
	JobFired     = "job.fired"

	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskDropped  = "task.dropped"
	TaskSkipped  = "task.skipped"

	PlanCreated = "plan.created"
	PlanStored  = "plan.stored"
	SyncDone    = "sync.done"
	SyncFailed  = "sync.failed"

	ReviewRecorded = "review.recorded"

	ConfigReloaded = "config.reloaded"
)

// Event is an in-memory signal used to decouple components.
//
// Publish never blocks. Subscribers get a buffered channel and slow ones drop events.
type Event struct {
	Type   string
	Time   time.Time
	ChatID int64
	Data   any
}

// Family is the dotted prefix of Type ("job" for "job.fired").
func (e Event) Family() string {
	if i := strings.IndexByte(e.Type, '.'); i >= 0 {
		return e.Type[:i]
	}
	return e.Type
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Close under the write lock so no Publish is mid-send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Publisher is a nil-safe helper for components holding an optional bus.
type Publisher struct{ Bus Bus }

func (p Publisher) Publish(typ string, chatID int64, data any) {
	if p.Bus == nil {
		return
	}
	p.Bus.Publish(Event{Type: typ, Time: time.Now(), ChatID: chatID, Data: data})
}
