package sched

// CoreStats is a snapshot of one core's scheduling state.
type CoreStats struct {
	ID          int32 `json:"id"`
	Load        int32 `json:"load"`
	ThreadCount int32 `json:"thread_count"`
	HighLoad    bool  `json:"high_load"`
	CPUCount    int32 `json:"cpu_count"`
}

// Stats is a snapshot of the scheduler's observable state, consumed by
// the metrics exporter and the CLI report.
type Stats struct {
	Mode         string      `json:"mode"`
	Reschedules  int64       `json:"reschedules"`
	ICIs         int64       `json:"icis"`
	IdlePackages int         `json:"idle_packages"`
	Cores        []CoreStats `json:"cores"`
}

// Stats returns a point-in-time snapshot. Loads may lag behind by one
// measurement window; that is fine for observability.
func (s *Scheduler) Stats() Stats {
	stats := Stats{
		Reschedules: s.rescheduleCount.Load(),
		ICIs:        s.iciCount.Load(),
	}

	s.modeLock.RLock()
	stats.Mode = s.currentMode.name
	s.modeLock.RUnlock()

	s.idlePackageLock.RLock()
	stats.IdlePackages = s.idlePackageList.Len()
	s.idlePackageLock.RUnlock()

	stats.Cores = make([]CoreStats, len(s.cores))
	for i, core := range s.cores {
		stats.Cores[i] = CoreStats{
			ID:          core.id,
			Load:        core.GetLoad(),
			ThreadCount: core.ThreadCount(),
			HighLoad:    core.highLoad,
			CPUCount:    core.CPUCount(),
		}
	}
	return stats
}
