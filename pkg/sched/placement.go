package sched

// ChooseCoreAndCPU resolves the final placement of a thread about to
// become ready. Either of targetCore / targetCPU may be preset by the
// caller (pin, single core topology, rebalance decision); the missing
// one is derived. When the thread moves between cores its load
// contribution moves with it. The return value reports whether the
// chosen CPU must reschedule because the thread outranks it.
func (td *ThreadData) ChooseCoreAndCPU(targetCore **CoreEntry, targetCPU **CPUEntry) bool {
	rescheduleNeeded := false

	switch {
	case *targetCore == nil && *targetCPU != nil:
		*targetCore = (*targetCPU).core
	case *targetCore != nil && *targetCPU == nil:
		*targetCPU = td.chooseCPU(*targetCore, &rescheduleNeeded)
	case *targetCore == nil && *targetCPU == nil:
		*targetCore = td.sched.currentMode.chooseCore(td)
		*targetCPU = td.chooseCPU(*targetCore, &rescheduleNeeded)
	}

	if *targetCore == nil || *targetCPU == nil {
		panic("sched: thread placement failed")
	}

	if td.core != *targetCore {
		if td.ready {
			if td.core != nil {
				td.core.RemoveLoad(td.load.Load)
			}
			(*targetCore).AddLoad(td.load.Load)
		}
	}

	td.core = *targetCore
	return rescheduleNeeded
}

// chooseCPU picks the CPU of the core whose running thread has the
// lowest effective priority, preferring the thread's previous CPU when
// it qualifies, for cache affinity.
func (td *ThreadData) chooseCPU(core *CoreEntry, rescheduleNeeded *bool) *CPUEntry {
	threadPriority := td.GetEffectivePriority()

	mask := td.thread.CPUMask
	useMask := !mask.IsEmpty()

	if previous := td.thread.PreviousCPU; previous >= 0 &&
		(!useMask || mask.GetBit(previous)) {
		previousCPU := td.sched.cpus[previous]
		if previousCPU.core == core && !previousCPU.disabled {
			core.cpuLock.Lock()
			if previousCPU.heapLink.Key() < threadPriority {
				previousCPU.UpdatePriority(threadPriority)
				core.cpuLock.Unlock()
				*rescheduleNeeded = true
				return previousCPU
			}
			core.cpuLock.Unlock()
		}
	}

	core.cpuLock.Lock()
	defer core.cpuLock.Unlock()

	var cpu *CPUEntry
	if useMask {
		cpu = core.cpuHeap.PeekMinimumMatching(func(c *CPUEntry) bool {
			return mask.GetBit(c.id)
		})
	} else {
		cpu = core.cpuHeap.PeekMinimum()
	}
	if cpu == nil {
		panic("sched: core has no eligible CPU")
	}

	if cpu.heapLink.Key() < threadPriority {
		cpu.UpdatePriority(threadPriority)
		*rescheduleNeeded = true
	} else {
		*rescheduleNeeded = false
	}

	return cpu
}
