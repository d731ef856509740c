package scheduler

import (
	"errors"
	"time"

	"nova/internal/task/engine"
	logx "nova/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(callback string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("job trigger skipped", logx.String("callback", callback), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[callback]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[callback] = now
	s.enqMu.Unlock()

	s.log.Warn("job failed to enqueue", logx.String("callback", callback), logx.Err(err))
}
