package sched

import (
	"sync/atomic"

	"github.com/khryptorgraphics/schedcore/pkg/loadtrack"
)

// The power saving mode packs light threads and interrupts onto a
// single small-task core, chosen as the currently busiest core that is
// still below HighLoad, so the other cores and their packages can
// reach deep sleep states.
type powerSavingMode struct {
	s *Scheduler

	smallTaskCore atomic.Pointer[CoreEntry]
}

func newPowerSavingOperations(s *Scheduler) *modeOperations {
	m := &powerSavingMode{s: s}
	return &modeOperations{
		name: "power saving",

		baseQuantum:        2000,
		minimalQuantum:     500,
		quantumMultipliers: [2]int64{3, 10},
		maximumLatency:     20000,

		switchToMode:    m.switchToMode,
		setCPUEnabled:   m.setCPUEnabled,
		hasCacheExpired: m.hasCacheExpired,
		chooseCore:      m.chooseCore,
		rebalance:       m.rebalance,
		rebalanceIRQs:   m.rebalanceIRQs,
	}
}

func (m *powerSavingMode) switchToMode() {
	m.smallTaskCore.Store(nil)
}

func (m *powerSavingMode) setCPUEnabled(cpu int32, enabled bool) {
	if !enabled {
		m.smallTaskCore.Store(nil)
	}
}

// hasCacheExpired is a plain wall-clock test here; in this mode the
// sleeping core may have been powered down entirely.
func (m *powerSavingMode) hasCacheExpired(td *ThreadData) bool {
	if td.WentSleep() == 0 {
		return false
	}
	return m.s.kernel.SystemTime()-td.WentSleep() > CacheExpire
}

// chooseSmallTaskCore elects the busiest core below HighLoad, keeping
// an earlier election if one raced us.
func (m *powerSavingMode) chooseSmallTaskCore() *CoreEntry {
	m.s.coreHeapsLock.RLock()
	core := m.s.coreLoadHeap.PeekMaximum()
	m.s.coreHeapsLock.RUnlock()

	if core == nil {
		return m.smallTaskCore.Load()
	}
	if m.smallTaskCore.CompareAndSwap(nil, core) {
		return core
	}
	return m.smallTaskCore.Load()
}

func (m *powerSavingMode) chooseIdleCore(match func(*CoreEntry) bool) *CoreEntry {
	pkg := m.s.leastIdlePackage()
	if pkg == nil {
		pkg = m.s.lastIdlePackage()
	}
	if pkg == nil {
		return nil
	}
	return pkg.GetIdleCoreMatching(match)
}

func (m *powerSavingMode) chooseCore(td *ThreadData) *CoreEntry {
	mask := td.thread.CPUMask
	useMask := !mask.IsEmpty()
	match := func(core *CoreEntry) bool {
		return !useMask || core.CPUMask().Matches(mask)
	}

	// Try to pack all threads on one core.
	core := m.chooseSmallTaskCore()
	if core != nil && !match(core) {
		core = nil
	}

	if core == nil || core.GetLoad()+td.GetLoad() >= loadtrack.HighLoad {
		m.s.coreHeapsLock.RLock()
		core = m.s.coreLoadHeap.PeekMinimumMatching(match)
		m.s.coreHeapsLock.RUnlock()

		if core == nil {
			// Run immediately on an already woken core if possible.
			core = m.chooseIdleCore(match)
			if core == nil {
				m.s.coreHeapsLock.RLock()
				core = m.s.coreHighLoadHeap.PeekMinimumMatching(match)
				m.s.coreHeapsLock.RUnlock()
			}
		}
	}

	if core == nil {
		panic("sched: no core to choose from")
	}
	return core
}

func (m *powerSavingMode) rebalance(td *ThreadData) *CoreEntry {
	core := td.core

	mask := td.thread.CPUMask
	useMask := !mask.IsEmpty()
	match := func(other *CoreEntry) bool {
		return !useMask || other.CPUMask().Matches(mask)
	}

	coreLoad := core.GetLoad()
	threadLoad := td.GetLoad()
	if cpuCount := core.CPUCount(); cpuCount > 0 {
		threadLoad /= cpuCount
	}

	if coreLoad > loadtrack.HighLoad {
		if m.smallTaskCore.Load() == core {
			// The small-task core overflowed; elect a new one and
			// overflow this thread onto it unless the thread itself is
			// a heavy contributor.
			m.smallTaskCore.Store(nil)
			smallTaskCore := m.chooseSmallTaskCore()

			if threadLoad > coreLoad/3 || smallTaskCore == nil ||
				!match(smallTaskCore) {
				return core
			}
			if coreLoad > loadtrack.VeryHighLoad {
				return smallTaskCore
			}
			return core
		}

		if threadLoad >= coreLoad/2 {
			return core
		}

		m.s.coreHeapsLock.RLock()
		other := m.s.coreLoadHeap.PeekMaximumMatching(match)
		if other == nil {
			other = m.s.coreHighLoadHeap.PeekMinimumMatching(match)
		}
		m.s.coreHeapsLock.RUnlock()
		if other == nil {
			return core
		}

		coreNewLoad := coreLoad - threadLoad
		otherNewLoad := other.GetLoad() + threadLoad
		if coreNewLoad-otherNewLoad >= loadtrack.LoadDifference/2 {
			return other
		}
		return core
	}

	if coreLoad >= loadtrack.MediumLoad {
		return core
	}

	// Lightly loaded core; pull the thread toward the small-task core.
	smallTaskCore := m.chooseSmallTaskCore()
	if smallTaskCore == nil || !match(smallTaskCore) {
		return core
	}
	if smallTaskCore.GetLoad()+threadLoad < loadtrack.HighLoad {
		return smallTaskCore
	}
	return core
}

// packIRQs moves every interrupt of the current CPU onto the
// small-task core.
func (m *powerSavingMode) packIRQs() {
	smallTaskCore := m.smallTaskCore.Load()
	if smallTaskCore == nil {
		return
	}

	cpu := m.s.cpus[m.s.kernel.CurrentCPU()]
	if smallTaskCore == cpu.core {
		return
	}

	cpu.irqLock.Lock()
	irqs := append([]*IRQAssignment(nil), cpu.irqs...)
	cpu.irqLock.Unlock()

	smallTaskCore.cpuLock.Lock()
	target := smallTaskCore.cpuHeap.PeekMinimum()
	smallTaskCore.cpuLock.Unlock()
	if target == nil || target.id == cpu.id {
		return
	}

	for _, irq := range irqs {
		m.s.moveIRQ(irq, target.id)
	}
}

func (m *powerSavingMode) rebalanceIRQs(idle bool) {
	if idle && m.smallTaskCore.Load() != nil {
		m.packIRQs()
		return
	}
	if idle || m.smallTaskCore.Load() != nil {
		return
	}

	// No small-task core yet; shed the heaviest interrupt from an
	// overloaded CPU to the least loaded core.
	cpu := m.s.cpus[m.s.kernel.CurrentCPU()]

	cpu.irqLock.Lock()
	var chosen *IRQAssignment
	for _, irq := range cpu.irqs {
		if chosen == nil || chosen.Load() < irq.Load() {
			chosen = irq
		}
	}
	cpu.irqLock.Unlock()

	if chosen == nil || chosen.Load() < loadtrack.LowLoad {
		return
	}

	m.s.coreHeapsLock.RLock()
	other := m.s.coreLoadHeap.PeekMinimum()
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
