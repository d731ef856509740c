package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"

	"nova/internal/task/engine"
)

var (
	// ErrPastTrigger rejects a one-off trigger that is not strictly in the future.
	ErrPastTrigger = errors.New("scheduler: trigger is not in the future")
	ErrInvalidJob  = errors.New("scheduler: invalid job")
)

type Kind uint8

const (
	KindOnce Kind = iota + 1
	KindDaily
)

func (k Kind) String() string {
	switch k {
	case KindOnce:
		return "once"
	case KindDaily:
		return "daily"
	default:
		return "unknown"
	}
}

type JobID string

// JobKey is the logical identity of a job. It is carried alongside the job
// and never recovered by parsing the id.
type JobKey struct {
	Kind     Kind
	Callback string
	ChatID   int64
	// Discriminator separates one-off jobs of the same callback and chat.
	// Daily jobs leave it empty so a new time replaces the old schedule.
	Discriminator string
}

// ID hashes the key with length-prefixed fields, so no field value can
// collide with another by containing a delimiter.
func (k JobKey) ID() JobID {
	h := sha256.New()
	var buf [8]byte
	write := func(s string) {
		binary.BigEndian.PutUint64(buf[:], uint64(len(s)))
		h.Write(buf[:])
		h.Write([]byte(s))
	}
	h.Write([]byte{byte(k.Kind)})
	write(k.Callback)
	binary.BigEndian.PutUint64(buf[:], uint64(k.ChatID))
	h.Write(buf[:])
	write(k.Discriminator)
	return JobID(k.Kind.String() + "-" + hex.EncodeToString(h.Sum(nil)[:10]))
}

// onceDiscriminator pins a one-off job to its trigger minute (UTC) and payload.
func onceDiscriminator(trigger time.Time, data string) string {
	return trigger.UTC().Format("20060102T1504Z") + "\x00" + data
}

// Job is a registry entry as seen by callers.
type Job struct {
	ID  JobID
	Key JobKey

	// Trigger is set for one-off jobs.
	Trigger time.Time
	// DailyAt is "HH:MM" in Location for daily jobs.
	DailyAt  string
	Location *time.Location

	Data    string
	Next    time.Time
	Created time.Time
}

func (j Job) ChatID() int64    { return j.Key.ChatID }
func (j Job) Callback() string { return j.Key.Callback }

// Firing is what a Handler receives when its job triggers.
type Firing struct {
	JobID        JobID
	Key          JobKey
	ChatID       int64
	Data         string
	ScheduledFor time.Time
}

type Handler func(ctx context.Context, f Firing) error

// Executor runs fired jobs. *engine.Service satisfies it.
type Executor interface {
	Enqueue(t engine.Task) error
}

type Config struct {
	// Timezone is the default location for daily jobs scheduled without one.
	Timezone string
	// Timeout bounds each handler run. 0 uses the executor default.
	Timeout time.Duration
}

// JobEvent is published on the bus for registry changes.
type JobEvent struct {
	ID       JobID     `json:"id"`
	Kind     string    `json:"kind"`
	Callback string    `json:"callback"`
	ChatID   int64     `json:"chat_id"`
	Next     time.Time `json:"next"`
}

type Snapshot struct {
	Running  bool
	Timezone string
	Jobs     []Job
}
