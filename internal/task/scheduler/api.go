package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"nova/internal/eventbus"
	"nova/internal/task/engine"
	logx "nova/pkg/logx"
)

// ScheduleOnce registers a one-off job. A trigger that is not strictly after
// now returns ErrPastTrigger and leaves the registry untouched. An existing
// job with the same id is replaced.
func (s *Service) ScheduleOnce(callback string, trigger time.Time, chatID int64, data string) (JobID, error) {
	callback = strings.TrimSpace(callback)
	if callback == "" || trigger.IsZero() {
		return "", fmt.Errorf("%w: callback and trigger are required", ErrInvalidJob)
	}

	s.mu.Lock()
	now := s.now()
	if !trigger.After(now) {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s is not after %s", ErrPastTrigger, trigger.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	key := JobKey{Kind: KindOnce, Callback: callback, ChatID: chatID, Discriminator: onceDiscriminator(trigger, data)}
	job := Job{ID: key.ID(), Key: key, Trigger: trigger, Data: data, Next: trigger, Created: now}
	replaced := s.removeLocked(job.ID)
	e := s.insertLocked(job)
	if s.running {
		s.armLocked(e)
	}
	s.mu.Unlock()

	s.announce(job, replaced)
	return job.ID, nil
}

// ScheduleDaily registers a job firing every day at hhmm ("HH:MM") wall-clock
// time in loc. The id ignores the time and data, so calling it again for the
// same callback and chat replaces the schedule. A nil loc uses the configured
// timezone.
func (s *Service) ScheduleDaily(callback, hhmm string, loc *time.Location, chatID int64, data string) (JobID, error) {
	callback = strings.TrimSpace(callback)
	if callback == "" {
		return "", fmt.Errorf("%w: callback is required", ErrInvalidJob)
	}
	at, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return "", fmt.Errorf("%w: daily time %q: %v", ErrInvalidJob, hhmm, err)
	}

	s.mu.Lock()
	if loc == nil {
		loc = s.loc
	}
	sched, err := s.dailySchedule(at.Hour(), at.Minute(), loc)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	now := s.now()
	key := JobKey{Kind: KindDaily, Callback: callback, ChatID: chatID}
	job := Job{
		ID:       key.ID(),
		Key:      key,
		DailyAt:  at.Format("15:04"),
		Location: loc,
		Data:     data,
		Next:     sched.Next(now),
		Created:  now,
	}
	replaced := s.removeLocked(job.ID)
	e := s.insertLocked(job)
	e.sched = sched
	id, ver := job.ID, e.ver
	e.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.fire(id, ver) }))
	s.mu.Unlock()

	s.announce(job, replaced)
	return job.ID, nil
}

// dailySchedule pins the cron spec to loc so every Next is computed with
// calendar arithmetic in that zone and stays wall-clock correct across DST.
func (s *Service) dailySchedule(hour, minute int, loc *time.Location) (cron.Schedule, error) {
	parsed, err := s.parser.Parse(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected schedule type %T", ErrInvalidJob, parsed)
	}
	spec.Location = loc
	return spec, nil
}

// Cancel removes a job. Absent ids are not an error. An execution already
// handed to the executor is not interrupted.
func (s *Service) Cancel(id JobID) bool {
	s.mu.Lock()
	e := s.jobs[id]
	ok := s.removeLocked(id)
	s.mu.Unlock()
	if ok {
		s.pub.Publish(eventbus.JobCancelled, e.job.Key.ChatID, jobEvent(e.job))
	}
	return ok
}

// CancelAll removes every job of a chat and returns how many were removed.
func (s *Service) CancelAll(chatID int64) int {
	s.mu.Lock()
	var removed []Job
	for id, e := range s.jobs {
		if e.job.Key.ChatID == chatID {
			removed = append(removed, e.job)
			s.removeLocked(id)
		}
	}
	s.mu.Unlock()

	for _, j := range removed {
		s.pub.Publish(eventbus.JobCancelled, chatID, jobEvent(j))
	}
	if len(removed) > 0 {
		s.log.Debug("jobs cancelled", logx.Int64("chat_id", chatID), logx.Int("count", len(removed)))
	}
	return len(removed)
}

func (s *Service) Get(id JobID) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// List returns a chat's jobs ordered by next fire time.
func (s *Service) List(chatID int64) []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		if e.job.Key.ChatID == chatID {
			out = append(out, e.job)
		}
	}
	s.mu.Unlock()
	sortJobs(out)
	return out
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func sortJobs(jobs []Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].Next.Equal(jobs[j].Next) {
			return jobs[i].Next.Before(jobs[j].Next)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

func (s *Service) insertLocked(job Job) *entry {
	s.seq++
	e := &entry{job: job, ver: s.seq}
	s.jobs[job.ID] = e
	return e
}

func (s *Service) removeLocked(id JobID) bool {
	e, ok := s.jobs[id]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.entryID != 0 {
		s.c.Remove(e.entryID)
	}
	delete(s.jobs, id)
	return true
}

func (s *Service) announce(job Job, replaced bool) {
	typ := eventbus.JobScheduled
	if replaced {
		typ = eventbus.JobReplaced
	}
	s.pub.Publish(typ, job.Key.ChatID, jobEvent(job))
	s.log.Debug("job scheduled",
		logx.String("job", string(job.ID)),
		logx.String("kind", job.Key.Kind.String()),
		logx.String("callback", job.Key.Callback),
		logx.Int64("chat_id", job.Key.ChatID),
		logx.Time("next", job.Next),
		logx.Bool("replaced", replaced),
	)
}

func engineTask(job Job, timeout time.Duration, run func(ctx context.Context) error) engine.Task {
	return engine.Task{
		Name:    "job." + job.Key.Callback,
		Key:     string(job.ID),
		Timeout: timeout,
		Run:     run,
	}
}
