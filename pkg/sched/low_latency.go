package sched

import "github.com/khryptorgraphics/schedcore/pkg/loadtrack"

// The low latency mode spreads runnable threads over as many packages
// and cores as possible: idle packages are woken first so their cores
// get the shared cache to themselves, then idle cores of partially
// busy packages, then the least loaded core.
type lowLatencyMode struct {
	s *Scheduler
}

func newLowLatencyOperations(s *Scheduler) *modeOperations {
	m := &lowLatencyMode{s: s}
	return &modeOperations{
		name: "low latency",

		baseQuantum:        1000,
		minimalQuantum:     100,
		quantumMultipliers: [2]int64{2, 5},
		maximumLatency:     5000,

		switchToMode:    m.switchToMode,
		setCPUEnabled:   m.setCPUEnabled,
		hasCacheExpired: m.hasCacheExpired,
		chooseCore:      m.chooseCore,
		rebalance:       m.rebalance,
		rebalanceIRQs:   m.rebalanceIRQs,
	}
}

func (m *lowLatencyMode) switchToMode() {
}

func (m *lowLatencyMode) setCPUEnabled(cpu int32, enabled bool) {
}

// hasCacheExpired reports whether the thread's previous core ran other
// work for longer than CacheExpire while the thread slept, which means
// its working set is gone and placement is free to ignore the old
// assignment.
func (m *lowLatencyMode) hasCacheExpired(td *ThreadData) bool {
	if td.IsIdle() || td.core == nil {
		return false
	}
	return td.core.GetActiveTime()-td.WentSleepActive() > CacheExpire
}

func (m *lowLatencyMode) chooseCore(td *ThreadData) *CoreEntry {
	mask := td.thread.CPUMask
	useMask := !mask.IsEmpty()

	match := func(core *CoreEntry) bool {
		return !useMask || core.CPUMask().Matches(mask)
	}

	// Wake a whole package first.
	if core := m.s.idlePackageCore(match); core != nil {
		return core
	}

	// Wake an idle core of the package with the most spare cores.
	if core := m.s.mostIdlePackageCore(match); core != nil {
		return core
	}

	// No idle cores; use the least loaded one.
	m.s.coreHeapsLock.RLock()
	defer m.s.coreHeapsLock.RUnlock()

	core := m.s.coreLoadHeap.PeekMinimumMatching(match)
	if core == nil {
		core = m.s.coreHighLoadHeap.PeekMinimumMatching(match)
	}
	if core == nil {
		panic("sched: no core to choose from")
	}
	return core
}

// rebalance keeps the thread where it is unless its core is overloaded
// by other work and a sufficiently less loaded core exists.
func (m *lowLatencyMode) rebalance(td *ThreadData) *CoreEntry {
	core := td.core

	coreLoad := core.GetLoad()
	threadLoad := td.GetLoad()
	if cpuCount := core.CPUCount(); cpuCount > 0 {
		threadLoad /= cpuCount
	}

	// A thread producing half the core's load should stay; it is the
	// other threads that ought to move.
	if threadLoad >= coreLoad/2 || coreLoad <= loadtrack.HighLoad {
		return core
	}

	mask := td.thread.CPUMask
	useMask := !mask.IsEmpty()
	match := func(other *CoreEntry) bool {
		return !useMask || other.CPUMask().Matches(mask)
	}

	m.s.coreHeapsLock.RLock()
	other := m.s.coreLoadHeap.PeekMinimumMatching(match)
	if other == nil {
		other = m.s.coreHighLoadHeap.PeekMinimumMatching(match)
	}
	m.s.coreHeapsLock.RUnlock()

	if other == nil || other == core {
		return core
	}
	if coreLoad-other.GetLoad() > loadtrack.LoadDifference {
		return other
	}
	return core
}

// rebalanceIRQs moves the heaviest interrupt away from a very highly
// loaded CPU toward the least loaded core.
func (m *lowLatencyMode) rebalanceIRQs(idle bool) {
	if idle {
		return
	}

	cpu := m.s.cpus[m.s.kernel.CurrentCPU()]

	cpu.irqLock.Lock()
	var chosen *IRQAssignment
	totalLoad := int32(0)
	for _, irq := range cpu.irqs {
		if chosen == nil || chosen.Load() < irq.Load() {
			chosen = irq
		}
		totalLoad += irq.Load()
	}
	cpu.irqLock.Unlock()

	if chosen == nil || totalLoad < loadtrack.LowLoad {
		return
	}

	m.s.coreHeapsLock.RLock()
	other := m.s.coreLoadHeap.PeekMinimum()
	if other == nil {
		other = m.s.coreHighLoadHeap.PeekMinimum()
	}
	m.s.coreHeapsLock.RUnlock()

	if other == nil || other == cpu.core {
		return
	}
	if other.GetLoad()+loadtrack.LoadDifference >= cpu.core.GetLoad() {
		return
	}

	other.cpuLock.Lock()
	target := other.cpuHeap.PeekMinimum()
	other.cpuLock.Unlock()
	if target == nil {
		return
	}

	m.s.moveIRQ(chosen, target.id)
}
