package sched

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/khryptorgraphics/schedcore/pkg/loadtrack"
)

// UpdateLoadAverage folds the current runnable thread count into the
// decaying load averages. The load average daemon calls this every
// loadtrack.UpdateInterval microseconds; harnesses running on virtual
// time call it directly.
func (s *Scheduler) UpdateLoadAverage() {
	threadCount := uint64(0)
	for _, core := range s.cores {
		threadCount += uint64(core.ThreadCount())
	}
	if threadCount > 0 {
		threadCount--
	}

	s.loadAverage.Update(threadCount)
}

// RunLoadAverageDaemon updates the load averages every five seconds of
// wall time until the context is cancelled. Run it in its own
// goroutine.
func (s *Scheduler) RunLoadAverageDaemon(ctx context.Context) {
	s.logger.Debug().Msg("Load average daemon started")

	ticker := time.NewTicker(loadtrack.UpdateInterval * time.Microsecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.UpdateLoadAverage()
		}
	}
}

// GetLoadAvg returns the 1, 5 and 15 minute load averages.
func (s *Scheduler) GetLoadAvg() loadtrack.LoadAvg {
	return s.loadAverage.Get()
}

// GetSchedulerMode returns the current mode id, for the mode syscall.
func (s *Scheduler) GetSchedulerMode() int32 {
	return int32(s.OperationMode())
}

// SetSchedulerMode sets the operation mode by id, for the mode
// syscall. 0 is low latency, 1 power saving; anything else fails.
func (s *Scheduler) SetSchedulerMode(mode int32) error {
	return s.SetOperationMode(Mode(mode))
}

// EstimateMaxSchedulingLatency estimates the worst-case time until a
// thread gets a CPU: the thread count of its core divided by the
// core's CPU count, times the base quantum, clamped between the minimal
// quantum and the mode's maximum latency. threadID < 0 means the calling CPU's current thread.
func (s *Scheduler) EstimateMaxSchedulingLatency(threadID int32) (int64, error) {
	if !s.initialized() {
		return 0, ErrNotInitialized
	}

	var thread *Thread
	if threadID < 0 {
		thread = s.cpus[s.kernel.CurrentCPU()].runningThread
	} else {
		s.threadsLock.Lock()
		thread = s.threads[threadID]
		s.threadsLock.Unlock()
	}
	if thread == nil {
		return 0, fmt.Errorf("%w: thread %d", ErrBadValue, threadID)
	}

	td := thread.schedulerData
	core := td.Core()
	if core == nil {
		core = s.cores[rand.Intn(len(s.cores))]
	}

	threadCount := int64(core.ThreadCount())
	if cpuCount := int64(core.CPUCount()); cpuCount > 0 {
		threadCount /= cpuCount
	}

	s.modeLock.RLock()
	mode := s.currentMode
	s.modeLock.RUnlock()

	latency := threadCount * mode.baseQuantum
	if latency < mode.minimalQuantum {
		latency = mode.minimalQuantum
	}
	if latency > mode.maximumLatency {
		latency = mode.maximumLatency
	}
	return latency, nil
}
