package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/schedcore/pkg/loadtrack"
)

// checkInvariants asserts the structural invariants that must hold
// whenever no scheduler lock is held.
func checkInvariants(t *testing.T, rig *testRig) {
	t.Helper()
	s := rig.s

	// Every enqueued thread sits in exactly one queue, in the band of
	// its effective priority.
	seen := make(map[*ThreadData]int)
	for _, core := range s.cores {
		core.queueLock.Lock()
		for it := core.runQueue.Iterator(); it.HasNext(); {
			td := it.Next()
			seen[td]++
			assert.True(t, td.IsEnqueued())
			assert.Equal(t, td.GetEffectivePriority(), td.runQueueLink.Priority())
		}
		core.queueLock.Unlock()
	}
	for _, cpu := range s.cpus {
		cpu.queueLock.Lock()
		for it := cpu.runQueue.Iterator(); it.HasNext(); {
			td := it.Next()
			seen[td]++
			assert.True(t, td.IsEnqueued())
			assert.Equal(t, td.GetEffectivePriority(), td.runQueueLink.Priority())
		}
		cpu.queueLock.Unlock()
	}
	for td, count := range seen {
		assert.Equal(t, 1, count, "thread %d queued %d times", td.thread.ID, count)
	}

	// A core's load is the sum of its ready threads' contributions,
	// and within bounds.
	threadLoads := make(map[*CoreEntry]int32)
	threadCounts := make(map[*CoreEntry]int32)
	s.threadsLock.Lock()
	for _, thread := range s.threads {
		td := thread.schedulerData
		if td != nil && td.ready && !td.IsIdle() {
			threadLoads[td.core] += td.load.Load
			threadCounts[td.core]++
		}
	}
	s.threadsLock.Unlock()
	for _, core := range s.cores {
		assert.Equal(t, threadLoads[core], core.load.Load(),
			"core %d load out of sync", core.id)
		assert.Equal(t, threadCounts[core], core.ThreadCount(),
			"core %d thread count out of sync", core.id)
		assert.GreaterOrEqual(t, core.GetLoad(), int32(0))
		assert.LessOrEqual(t, core.GetLoad(), int32(loadtrack.MaxLoad))
	}

	// Each enabled core is in exactly one of the two load heaps.
	if !s.singleCore {
		enabled := 0
		for _, core := range s.cores {
			if core.CPUCount() > 0 {
				enabled++
				assert.True(t, core.inHeap, "core %d not in a load heap", core.id)
			} else {
				assert.False(t, core.inHeap, "disabled core %d still in a heap", core.id)
			}
		}
		assert.Equal(t, enabled,
			s.coreLoadHeap.Len()+s.coreHighLoadHeap.Len())
	}

	// A package is idle iff all of its cores are idle.
	for _, pkg := range s.packages {
		allIdle := pkg.IdleCoreCount() == pkg.CoreCount()
		s.idlePackageLock.RLock()
		listed := pkg.idleElement != nil
		s.idlePackageLock.RUnlock()
		assert.Equal(t, allIdle, listed, "package %d idle state", pkg.id)
	}

	// Effective priorities stay inside their bands.
	s.threadsLock.Lock()
	for _, thread := range s.threads {
		td := thread.schedulerData
		if td == nil {
			continue
		}
		effective := td.GetEffectivePriority()
		switch {
		case thread.IsIdle():
			assert.Equal(t, int32(IdlePriority), effective)
		case td.IsRealTime():
			assert.Equal(t, thread.Priority, effective)
		default:
			assert.GreaterOrEqual(t, effective, int32(LowestActivePriority))
			assert.Less(t, effective, int32(FirstRealTimePriority))
		}
	}
	s.threadsLock.Unlock()
}

func TestInvariantsAfterInit(t *testing.T) {
	rig := newTestRig(t, 2, 2, 2, ModeLowLatency)
	checkInvariants(t, rig)

	// Everything is idle at boot.
	assert.Equal(t, 2, rig.s.idlePackageList.Len())
}

func TestInvariantsUnderChurn(t *testing.T) {
	rig := newTestRig(t, 2, 2, 1, ModeLowLatency)
	s := rig.s

	var threads []*Thread
	for i := 0; i < 10; i++ {
		threads = append(threads, rig.newThread(t, "worker", NormalPriority+int32(i%10)))
	}

	for round := 0; round < 5; round++ {
		for _, thread := range threads {
			if thread.State != ThreadReady && thread.State != ThreadRunning {
				s.EnqueueInRunQueue(thread)
			}
		}
		checkInvariants(t, rig)

		for cpu := int32(0); cpu < s.CPUCount(); cpu++ {
			rig.dispatch(cpu)
		}
		for _, cpu := range rig.kernel.icis {
			rig.kernel.cpu = cpu
			s.RescheduleICI()
			rig.dispatch(cpu)
		}
		rig.kernel.icis = nil
		checkInvariants(t, rig)

		// Put the running threads to sleep again.
		rig.kernel.time += 3000
		for cpu := int32(0); cpu < s.CPUCount(); cpu++ {
			if !s.cpus[cpu].RunningThread().IsIdle() {
				rig.block(cpu)
			}
		}
		checkInvariants(t, rig)
	}
}

func TestInvariantsAcrossModeSwitch(t *testing.T) {
	rig := newTestRig(t, 2, 2, 1, ModeLowLatency)
	s := rig.s

	for i := 0; i < 6; i++ {
		s.EnqueueInRunQueue(rig.newThread(t, "worker", NormalPriority))
	}
	checkInvariants(t, rig)

	require.NoError(t, s.SetOperationMode(ModePowerSaving))
	checkInvariants(t, rig)

	for cpu := int32(0); cpu < s.CPUCount(); cpu++ {
		rig.dispatch(cpu)
	}
	checkInvariants(t, rig)
}

func TestInvariantsAcrossCPUHotplug(t *testing.T) {
	rig := newTestRig(t, 1, 2, 2, ModeLowLatency)
	s := rig.s

	for i := 0; i < 4; i++ {
		s.EnqueueInRunQueue(rig.newThread(t, "worker", NormalPriority))
	}

	require.NoError(t, s.SetCPUEnabled(3, false))
	checkInvariants(t, rig)

	require.NoError(t, s.SetCPUEnabled(2, false))
	checkInvariants(t, rig)

	require.NoError(t, s.SetCPUEnabled(2, true))
	checkInvariants(t, rig)
}
