package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.running, Timezone: s.loc.String(), Jobs: make([]Job, 0, len(s.jobs))}
	for _, e := range s.jobs {
		snap.Jobs = append(snap.Jobs, e.job)
	}
	s.mu.Unlock()
	sortJobs(snap.Jobs)
	return snap
}
