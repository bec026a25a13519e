package sched

import (
	"fmt"
	"strings"
)

// Debug reports, the library equivalent of the kernel debugger's
// run_queue / cpu_heap / idle_cores commands.

func dumpRunQueue(sb *strings.Builder, core *CoreEntry) {
	core.queueLock.Lock()
	defer core.queueLock.Unlock()

	it := core.runQueue.Iterator()
	if !it.HasNext() {
		sb.WriteString("Run queue is empty.\n")
		return
	}

	sb.WriteString("id      priority effective name\n")
	for it.HasNext() {
		td := it.Next()
		thread := td.thread
		fmt.Fprintf(sb, "%-7d %-8d %-9d %s\n",
			thread.ID, thread.Priority, td.GetEffectivePriority(), thread.Name)
	}
}

// DumpRunQueues renders every core's shared run queue and every
// non-empty per-CPU pinned queue.
func (s *Scheduler) DumpRunQueues() string {
	var sb strings.Builder

	for i, core := range s.cores {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Core %d run queue:\n", core.id)
		dumpRunQueue(&sb, core)
	}

	for _, cpu := range s.cpus {
		cpu.queueLock.Lock()
		it := cpu.runQueue.Iterator()
		pinned := it.HasNext() && !it.Next().IsIdle()
		cpu.queueLock.Unlock()

		if !pinned {
			continue
		}

		fmt.Fprintf(&sb, "\nCPU %d pinned run queue:\n", cpu.id)
		cpu.queueLock.Lock()
		for it = cpu.runQueue.Iterator(); it.HasNext(); {
			td := it.Next()
			fmt.Fprintf(&sb, "%-7d %-8d %-9d %s\n", td.thread.ID,
				td.thread.Priority, td.GetEffectivePriority(), td.thread.Name)
		}
		cpu.queueLock.Unlock()
	}

	return sb.String()
}

// DumpCoreLoads renders the core load heaps.
func (s *Scheduler) DumpCoreLoads() string {
	var sb strings.Builder
	sb.WriteString("core load high\n")
	for _, core := range s.cores {
		fmt.Fprintf(&sb, "%4d %3d%% %v\n", core.id, core.GetLoad()/10, core.highLoad)
	}
	return sb.String()
}

// DumpIdleCores renders the idle packages and their idle cores, most
// recently idled first.
func (s *Scheduler) DumpIdleCores() string {
	var sb strings.Builder
	sb.WriteString("Idle packages:\n")

	packages := s.idlePackagesSnapshot()
	if len(packages) == 0 {
		sb.WriteString("No idle packages.\n")
		return sb.String()
	}

	sb.WriteString("package cores\n")
	for _, pkg := range packages {
		fmt.Fprintf(&sb, "%-7d ", pkg.id)

		pkg.coreLock.RLock()
		if pkg.idleCores.Len() == 0 {
			sb.WriteString("-")
		} else {
			first := true
			for coreElement := pkg.idleCores.Back(); coreElement != nil; coreElement = coreElement.Prev() {
				if !first {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "%d", coreElement.Value.(*CoreEntry).id)
				first = false
			}
		}
		pkg.coreLock.RUnlock()
		sb.WriteString("\n")
	}
	return sb.String()
}

// DumpThread renders a thread's scheduling state.
func (s *Scheduler) DumpThread(thread *Thread) string {
	td := thread.schedulerData
	if td == nil {
		return "thread has no scheduler state\n"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "priority_penalty:\t%d\n", td.priorityPenalty)
	fmt.Fprintf(&sb, "additional_penalty:\t%d\n", td.additionalPenalty)
	fmt.Fprintf(&sb, "effective_priority:\t%d\n", td.GetEffectivePriority())
	fmt.Fprintf(&sb, "time_left:\t\t%d us\n", td.timeLeft)
	fmt.Fprintf(&sb, "stolen_time:\t\t%d us\n", td.stolenTime)
	fmt.Fprintf(&sb, "quantum_start:\t\t%d us\n", td.quantumStart)
	fmt.Fprintf(&sb, "load:\t\t\t%d%%\n", td.GetLoad()/10)
	fmt.Fprintf(&sb, "went_sleep:\t\t%d\n", td.wentSleep)
	fmt.Fprintf(&sb, "went_sleep_active:\t%d\n", td.wentSleepActive)
	if td.core != nil {
		fmt.Fprintf(&sb, "core:\t\t\t%d\n", td.core.id)
	} else {
		sb.WriteString("core:\t\t\t-\n")
	}

	s.modeLock.RLock()
	expired := td.core != nil && s.currentMode.hasCacheExpired(td)
	s.modeLock.RUnlock()
	if expired {
		sb.WriteString("cache affinity has expired\n")
	}
	return sb.String()
}
