package sim

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/schedcore/pkg/loadtrack"
	"github.com/khryptorgraphics/schedcore/pkg/sched"
	"github.com/khryptorgraphics/schedcore/pkg/topology"
)

func newTestMachine(t *testing.T, packages, cores, smt int32,
	mode sched.Mode) *Machine {

	t.Helper()

	topo, err := topology.Build(topology.NewUniform(packages, cores, smt),
		packages*cores*smt)
	require.NoError(t, err)

	machine, err := NewMachine(topo, mode, zerolog.Nop())
	require.NoError(t, err)
	return machine
}

func TestMachineRunsMixedWorkload(t *testing.T) {
	machine := newTestMachine(t, 2, 2, 2, sched.ModeLowLatency)

	require.NoError(t, machine.Workload(16,
		[]int32{5, 10, 10, 15, 20},
		[2]int64{200, 4000}, [2]int64{100, 10000}, 42))
	machine.ScheduleLoadAvgUpdates(loadtrack.UpdateInterval, 2000000)

	machine.Run(2000000)
	report := machine.Report()

	assert.Greater(t, report.Switches, int64(0))
	assert.Equal(t, "low latency", report.Stats.Mode)

	// Every thread made progress.
	for _, thread := range report.Threads {
		assert.Greater(t, thread.RunTime, int64(0), "thread %d starved", thread.ID)
	}

	// Load bounds hold on every core.
	for _, core := range report.Stats.Cores {
		assert.GreaterOrEqual(t, core.Load, int32(0))
		assert.LessOrEqual(t, core.Load, int32(loadtrack.MaxLoad))
	}
}

func TestMachineDeterministic(t *testing.T) {
	run := func() Report {
		machine := newTestMachine(t, 1, 2, 2, sched.ModeLowLatency)
		require.NoError(t, machine.Workload(8,
			[]int32{10, 15}, [2]int64{500, 2000}, [2]int64{500, 5000}, 7))
		machine.Run(500000)
		return machine.Report()
	}

	first := run()
	second := run()

	assert.Equal(t, first.Switches, second.Switches)
	assert.Equal(t, first.Preemptions, second.Preemptions)
	assert.Equal(t, first.ICIsSent, second.ICIsSent)
}

func TestPenaltiesPreventStarvation(t *testing.T) {
	machine := newTestMachine(t, 1, 1, 1, sched.ModeLowLatency)

	// Two CPU-bound threads of different priority competing for one
	// CPU. Without the penalty model the low-priority thread would
	// never run.
	low, err := machine.AddThread(1, "low", 10, 1<<40, 1, 0)
	require.NoError(t, err)
	high, err := machine.AddThread(2, "high", 20, 1<<40, 1, 0)
	require.NoError(t, err)

	machine.Run(1000000)
	report := machine.Report()

	var lowTime, highTime int64
	for _, thread := range report.Threads {
		switch thread.ID {
		case low.ID:
			lowTime = thread.RunTime
		case high.ID:
			highTime = thread.RunTime
		}
	}

	assert.Greater(t, lowTime, int64(0))
	assert.Greater(t, highTime, int64(0))
	assert.LessOrEqual(t, lowTime+highTime, int64(1000000))
}

func TestQuantumPreemptionHappens(t *testing.T) {
	machine := newTestMachine(t, 1, 1, 1, sched.ModeLowLatency)

	for id := int32(1); id <= 4; id++ {
		_, err := machine.AddThread(id, "spinner", 10, 1<<40, 1, 0)
		require.NoError(t, err)
	}

	machine.Run(200000)
	report := machine.Report()

	assert.Greater(t, report.Preemptions, int64(10))
	for _, thread := range report.Threads {
		assert.Greater(t, thread.RunTime, int64(0))
	}
}

func TestModeSwitchUnderLoad(t *testing.T) {
	machine := newTestMachine(t, 2, 2, 1, sched.ModeLowLatency)
	scheduler := machine.Scheduler()

	// A crowd of very light threads spread over four cores.
	require.NoError(t, machine.Workload(100,
		[]int32{10}, [2]int64{20, 60}, [2]int64{8000, 12000}, 3))
	machine.Run(300000)

	require.NoError(t, scheduler.SetOperationMode(sched.ModePowerSaving))

	// Let the rebalance sweep pack the load.
	machine.Run(machine.Now() + 500000)
	stats := scheduler.Stats()

	assert.Equal(t, "power saving", stats.Mode)

	// The packing left at least one core nearly unloaded.
	quiet := 0
	for _, core := range stats.Cores {
		if core.Load < loadtrack.LowLoad {
			quiet++
		}
	}
	assert.Greater(t, quiet, 0)
}

func TestLoadAverageTracksRunnableThreads(t *testing.T) {
	machine := newTestMachine(t, 1, 1, 1, sched.ModeLowLatency)

	// Two CPU-bound threads on one CPU: one runs while the other is
	// ready, so the runnable count the daemon sees stays at two, of
	// which one stands in for the daemon itself.
	for id := int32(1); id <= 2; id++ {
		_, err := machine.AddThread(id, "spinner", 10, 1<<40, 1, 0)
		require.NoError(t, err)
	}

	const fiveMinutes = 300000000
	machine.ScheduleLoadAvgUpdates(loadtrack.UpdateInterval, fiveMinutes)
	machine.Run(fiveMinutes)

	avg := machine.Scheduler().GetLoadAvg()
	assert.Equal(t, int64(loadtrack.FScale), avg.FScale)
	assert.InDelta(t, float64(loadtrack.FScale), float64(avg.Ldavg[0]),
		0.02*loadtrack.FScale)

	// The 15 minute average is still catching up.
	assert.Less(t, avg.Ldavg[2], avg.Ldavg[0])
}

func TestPowerSavingModeFromStart(t *testing.T) {
	machine := newTestMachine(t, 2, 2, 1, sched.ModePowerSaving)

	require.NoError(t, machine.Workload(12,
		[]int32{10, 15}, [2]int64{100, 500}, [2]int64{2000, 8000}, 11))
	machine.Run(1000000)
	report := machine.Report()

	assert.Equal(t, "power saving", report.Stats.Mode)
	for _, thread := range report.Threads {
		assert.Greater(t, thread.RunTime, int64(0))
	}
}
