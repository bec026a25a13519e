package sched

import (
	"container/list"
	"sync"

	"github.com/khryptorgraphics/schedcore/pkg/loadtrack"
	"github.com/khryptorgraphics/schedcore/pkg/runqueue"
)

// ThreadState is the scheduling state of a thread.
type ThreadState int32

const (
	// ThreadRunning means the thread is executing on a CPU.
	ThreadRunning ThreadState = iota
	// ThreadReady means the thread is in a run queue.
	ThreadReady
	// ThreadWaiting means the thread is blocked.
	ThreadWaiting
	// ThreadFreeOnResched means the thread dies at the next
	// reschedule.
	ThreadFreeOnResched
)

// Thread is the scheduler's view of a thread. The embedder owns the
// identity and accounting fields; the scheduler owns State and the
// attached scheduling state.
type Thread struct {
	ID   int32
	Name string

	// Priority is the base priority, 0..MaxPriority. Change it only
	// through Scheduler.SetThreadPriority.
	Priority int32

	State ThreadState

	// PinnedToCPU, when positive, pins the thread to PreviousCPU.
	PinnedToCPU int32

	// CPU is the CPU currently running the thread, -1 otherwise.
	// PreviousCPU is the CPU the thread last ran on.
	CPU         int32
	PreviousCPU int32

	// HasYielded is set by the embedder when the thread gave up the
	// rest of its quantum voluntarily; consumed by Reschedule.
	HasYielded bool

	// KernelTime and UserTime are cumulative CPU time, maintained by
	// the embedder's time accounting.
	KernelTime int64
	UserTime   int64

	// CPUMask restricts the CPUs the thread may run on. Empty means
	// all CPUs are allowed.
	CPUMask CPUSet

	idle bool

	schedulerLock sync.Mutex
	schedulerData *ThreadData
}

// IsIdle reports whether this is a per-CPU idle thread.
func (t *Thread) IsIdle() bool {
	return t.idle
}

// ThreadData is the dynamic scheduling state attached to a thread:
// penalties, quantum bookkeeping, load estimate and the core
// assignment.
type ThreadData struct {
	thread *Thread
	sched  *Scheduler

	runQueueLink      runqueue.Link[ThreadData]
	threadListElement *list.Element

	stolenTime        int64
	quantumStart      int64
	lastInterruptTime int64
	timeLeft          int64

	wentSleep       int64
	wentSleepActive int64
	wentSleepCount  int32

	enqueued bool
	ready    bool

	priorityPenalty   int32
	additionalPenalty int32

	// effectivePriority is cached; -1 forces recomputation.
	effectivePriority int32
	baseQuantum       int64

	load loadtrack.Measurement

	core *CoreEntry
}

func threadRunQueueLink(td *ThreadData) *runqueue.Link[ThreadData] {
	return &td.runQueueLink
}

func newThreadData(thread *Thread, s *Scheduler) *ThreadData {
	return &ThreadData{
		thread: thread,
		sched:  s,
	}
}

func (td *ThreadData) initBase() {
	td.stolenTime = 0
	td.quantumStart = 0
	td.lastInterruptTime = 0
	td.timeLeft = 0

	td.wentSleep = 0
	td.wentSleepActive = 0
	td.wentSleepCount = 0

	td.enqueued = false
	td.ready = false

	td.priorityPenalty = 0
	td.additionalPenalty = 0

	td.load.Reset()

	td.effectivePriority = -1
	td.computeEffectivePriority()
}

// init prepares the state of a newly created thread. The creating
// thread's penalty and load are inherited so a fork bomb cannot shed
// its penalties through fresh children.
func (td *ThreadData) init(creator *ThreadData) {
	td.initBase()
	td.core = nil

	if creator == nil {
		return
	}
	td.load.Load = creator.load.Load

	if !td.IsRealTime() && !td.IsIdle() {
		penalty := td.thread.Priority - td.minimalPriority()
		if penalty < 0 {
			penalty = 0
		}
		if creator.priorityPenalty < penalty {
			penalty = creator.priorityPenalty
		}
		td.priorityPenalty = penalty
		td.additionalPenalty = creator.additionalPenalty

		td.effectivePriority = -1
		td.computeEffectivePriority()
	}
}

// initIdle prepares the state of a per-CPU idle thread.
func (td *ThreadData) initIdle(core *CoreEntry) {
	td.initBase()
	td.core = core
	td.ready = true
}

// Thread returns the thread the state belongs to.
func (td *ThreadData) Thread() *Thread {
	return td.thread
}

// Core returns the core the thread is assigned to, or nil.
func (td *ThreadData) Core() *CoreEntry {
	return td.core
}

// IsRealTime reports whether the thread is in the real-time band.
func (td *ThreadData) IsRealTime() bool {
	return td.thread.Priority >= FirstRealTimePriority
}

// IsIdle reports whether this is an idle thread's state.
func (td *ThreadData) IsIdle() bool {
	return td.thread.IsIdle()
}

// IsEnqueued reports whether the thread is in a run queue.
func (td *ThreadData) IsEnqueued() bool {
	return td.enqueued
}

// GetLoad returns the thread's load estimate.
func (td *ThreadData) GetLoad() int32 {
	return td.load.Load
}

// WentSleep returns the time the thread last went to sleep.
func (td *ThreadData) WentSleep() int64 {
	return td.wentSleep
}

// WentSleepActive returns the core active time recorded when the
// thread last went to sleep.
func (td *ThreadData) WentSleepActive() int64 {
	return td.wentSleepActive
}

// GetEffectivePriority returns the penalty-adjusted priority used to
// order the thread in run queues.
func (td *ThreadData) GetEffectivePriority() int32 {
	if td.effectivePriority < 0 {
		td.computeEffectivePriority()
	}
	return td.effectivePriority
}

func (td *ThreadData) computeEffectivePriority() {
	switch {
	case td.IsIdle():
		td.effectivePriority = IdlePriority
	case td.IsRealTime():
		td.effectivePriority = td.thread.Priority
	default:
		priority := td.thread.Priority - td.priorityPenalty
		if priority > 0 {
			priority -= td.additionalPenalty % priority
		}

		if priority >= FirstRealTimePriority || priority < LowestActivePriority {
			panic("sched: effective priority outside the active band")
		}
		td.effectivePriority = priority
	}

	td.baseQuantum = td.sched.quantumLength(td.effectivePriority)
}

func (td *ThreadData) minimalPriority() int32 {
	priority := td.thread.Priority / penaltyDivisor
	if priority > maxPenaltyFloor {
		priority = maxPenaltyFloor
	}
	if priority < LowestActivePriority {
		priority = LowestActivePriority
	}
	return priority
}

// increasePenalty charges a CPU-bound thread one priority level. When
// the penalty reaches the floor derived from the base priority it
// rolls over into the additional penalty.
func (td *ThreadData) increasePenalty() {
	if td.thread.Priority < LowestActivePriority {
		return
	}
	if td.IsRealTime() {
		return
	}

	td.effectivePriority = -1
	oldPenalty := td.priorityPenalty
	td.priorityPenalty++

	if td.thread.Priority-oldPenalty <= td.minimalPriority() {
		td.priorityPenalty = oldPenalty
		td.additionalPenalty++
	}
}

func (td *ThreadData) cancelPenalty() {
	if td.priorityPenalty != 0 {
		td.effectivePriority = -1
	}
	td.additionalPenalty = 0
	td.priorityPenalty = 0
}

// shouldCancelPenalty reports whether the thread slept long enough to
// deserve a fresh start. A starvation epoch that advanced while the
// thread slept inhibits the reward.
func (td *ThreadData) shouldCancelPenalty() bool {
	if td.core == nil || td.wentSleep == 0 {
		return false
	}

	if td.core.StarvationCounter() != td.wentSleepCount {
		return false
	}
	return td.sched.kernel.SystemTime()-td.wentSleep > td.sched.currentMode.baseQuantum
}

// goesAway records the sleep epoch when the thread leaves the ready
// set.
func (td *ThreadData) goesAway() {
	td.lastInterruptTime = 0

	td.wentSleep = td.sched.kernel.SystemTime()
	td.wentSleepCount = td.core.StarvationCounter()
	td.wentSleepActive = td.core.GetActiveTime()

	if td.ready {
		td.ready = false
		td.core.RemoveLoad(td.load.Load)
	}
}

func (td *ThreadData) dies() {
	if td.ready {
		td.ready = false
		td.core.RemoveLoad(td.load.Load)
	}
	td.core = nil
}

// UnassignCore detaches the thread from its core, used when the CPU it
// was running on is disabled.
func (td *ThreadData) UnassignCore(running bool) {
	if td.core == nil {
		return
	}
	if running || td.thread.State == ThreadReady {
		if td.ready {
			td.ready = false
			td.core.RemoveLoad(td.load.Load)
		}
	}
	if !td.ready {
		td.core = nil
	}
}

// enqueue inserts the thread at the back of its priority band, the
// per-CPU pinned queue when pinned, the core's shared queue otherwise.
func (td *ThreadData) enqueue() {
	td.thread.State = ThreadReady
	td.computeLoad()
	if !td.ready {
		td.ready = true
		td.core.AddLoad(td.load.Load)
	}

	priority := td.GetEffectivePriority()

	if td.thread.PinnedToCPU > 0 {
		cpu := td.sched.cpus[td.thread.PreviousCPU]

		cpu.queueLock.Lock()
		defer cpu.queueLock.Unlock()
		if td.enqueued {
			panic("sched: enqueueing thread that is already enqueued")
		}
		td.enqueued = true
		cpu.runQueue.PushBack(td, priority)
		return
	}

	core := td.core
	core.queueLock.Lock()
	defer core.queueLock.Unlock()
	if td.enqueued {
		panic("sched: enqueueing thread that is already enqueued")
	}
	td.enqueued = true
	core.pushBack(td, priority)
}

// putBack reinserts a thread that was preempted before its quantum
// ended at the front of its band.
func (td *ThreadData) putBack() {
	td.computeLoad()

	priority := td.GetEffectivePriority()

	if td.thread.PinnedToCPU > 0 {
		cpu := td.sched.cpus[td.thread.CPU]

		cpu.queueLock.Lock()
		defer cpu.queueLock.Unlock()
		if td.enqueued {
			panic("sched: putting back thread that is already enqueued")
		}
		td.enqueued = true
		cpu.runQueue.PushFront(td, priority)
		return
	}

	core := td.core
	core.queueLock.Lock()
	defer core.queueLock.Unlock()
	if td.enqueued {
		panic("sched: putting back thread that is already enqueued")
	}
	td.enqueued = true
	core.pushFront(td, priority)
}

// dequeue removes the thread from whatever queue holds it. It returns
// false if the thread was dequeued concurrently.
func (td *ThreadData) dequeue() bool {
	if td.thread.PinnedToCPU > 0 {
		cpu := td.sched.cpus[td.thread.PreviousCPU]

		cpu.queueLock.Lock()
		defer cpu.queueLock.Unlock()
		if !td.enqueued {
			return false
		}
		cpu.runQueue.Remove(td)
		td.enqueued = false
		return true
	}

	core := td.core
	core.queueLock.Lock()
	defer core.queueLock.Unlock()
	if !td.enqueued {
		return false
	}
	core.remove(td)
	td.enqueued = false
	return true
}

// updateActivity accumulates active time into the thread's measurement
// window.
func (td *ThreadData) updateActivity(active int64) {
	td.load.Add(active)
}

// computeLoad closes the thread's measurement window if due. Time the
// CPU spent in interrupt handlers is not the thread's doing and is
// subtracted first.
func (td *ThreadData) computeLoad() {
	if td.lastInterruptTime > 0 {
		interruptTime := td.sched.kernel.InterruptTime(td.sched.kernel.CurrentCPU())
		td.load.MeasureActiveTime -= interruptTime - td.lastInterruptTime
	}

	old := td.load.Update(td.sched.kernel.SystemTime())
	if td.ready && old != loadtrack.NoUpdate && old != td.load.Load {
		td.core.ChangeLoad(td.load.Load - old)
	}
}

// hasQuantumEnded charges the elapsed time against the thread's
// quantum and reports whether it is used up.
func (td *ThreadData) hasQuantumEnded(wasPreempted, hasYielded bool) bool {
	if hasYielded {
		td.timeLeft = 0
		return true
	}

	now := td.sched.kernel.SystemTime()
	td.timeLeft -= now - td.quantumStart
	td.quantumStart = now
	if td.timeLeft < 0 {
		td.timeLeft = 0
	}

	// Too little left to be worth a switch back; better to make the
	// next quantum a bit longer.
	if wasPreempted || td.timeLeft <= td.sched.currentMode.minimalQuantum {
		td.stolenTime += td.timeLeft
		td.timeLeft = 0
	}

	return td.timeLeft == 0
}

// computeQuantum returns the quantum to charge for the next run. A
// thread continuing an unfinished quantum keeps its remainder; a fresh
// quantum is the base quantum scaled down by the number of threads
// competing for the core, plus whatever time was stolen from the
// thread earlier.
func (td *ThreadData) computeQuantum() int64 {
	quantum := td.baseQuantum
	if !td.IsRealTime() {
		threadCount := td.core.ThreadCount()
		if cpuCount := td.core.CPUCount(); cpuCount > 0 {
			threadCount /= cpuCount
		}
		if threadCount >= quantumCountPerCore {
			threadCount = quantumCountPerCore - 1
		}
		if threadCount < 0 {
			threadCount = 0
		}

		if maximum := td.sched.maximumQuantumLength(threadCount); maximum < quantum {
			quantum = maximum
		}
	}

	if td.timeLeft == 0 {
		td.timeLeft = quantum + td.stolenTime
		td.stolenTime = 0
	}
	return td.timeLeft
}

func (td *ThreadData) startQuantum() {
	td.quantumStart = td.sched.kernel.SystemTime()
}

func (td *ThreadData) setLastInterruptTime(interruptTime int64) {
	td.lastInterruptTime = interruptTime
}
