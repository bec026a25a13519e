package sched

import (
	"sync"
	"sync/atomic"

	"github.com/khryptorgraphics/schedcore/pkg/loadtrack"
	"github.com/khryptorgraphics/schedcore/pkg/minmaxheap"
	"github.com/khryptorgraphics/schedcore/pkg/runqueue"
)

// CPUEntry is the per-logical-CPU scheduling state: the pinned run
// queue, the running thread, the reschedule request flags and the
// CPU's own load measurement.
type CPUEntry struct {
	id    int32
	sched *Scheduler
	core  *CoreEntry

	// heapLink keys the CPU in its core's priority heap by the
	// effective priority of the running thread.
	heapLink minmaxheap.Link[int32]

	queueLock sync.Mutex
	runQueue  *runqueue.Queue[ThreadData]

	disabled bool

	invokeScheduler atomic.Bool
	preempted       atomic.Bool

	runningThread *Thread
	idleThread    *Thread

	lastKernelTime int64
	lastUserTime   int64

	load loadtrack.Measurement

	irqLock sync.Mutex
	irqs    []*IRQAssignment
}

func newCPUEntry(id int32, core *CoreEntry, s *Scheduler) *CPUEntry {
	return &CPUEntry{
		id:       id,
		sched:    s,
		core:     core,
		runQueue: runqueue.New[ThreadData](MaxPriority, threadRunQueueLink),
	}
}

func cpuHeapLink(c *CPUEntry) *minmaxheap.Link[int32] {
	return &c.heapLink
}

// ID returns the logical CPU number.
func (c *CPUEntry) ID() int32 {
	return c.id
}

// Core returns the core the CPU belongs to.
func (c *CPUEntry) Core() *CoreEntry {
	return c.core
}

// Disabled reports whether the CPU is offline.
func (c *CPUEntry) Disabled() bool {
	return c.disabled
}

// RunningThread returns the thread currently executing on the CPU.
func (c *CPUEntry) RunningThread() *Thread {
	return c.runningThread
}

// GetLoad returns the CPU's measured load.
func (c *CPUEntry) GetLoad() int32 {
	return c.load.Load
}

// UpdatePriority changes the CPU's key in its core's priority heap and
// maintains the core's idle accounting: a core whose best CPU dropped
// to idle priority went idle, a core whose best CPU rose above it woke
// up. The caller holds the core's CPU heap lock.
func (c *CPUEntry) UpdatePriority(priority int32) {
	if c.disabled {
		return
	}

	corePriority := c.core.cpuHeap.Key(c.core.cpuHeap.PeekMaximum())
	c.core.cpuHeap.ModifyKey(c, priority)

	if c.sched.singleCore {
		return
	}

	maxPriority := c.core.cpuHeap.Key(c.core.cpuHeap.PeekMaximum())
	if corePriority == maxPriority {
		return
	}

	if maxPriority == IdlePriority {
		c.core.pkg.addIdleCore(c.core)
	} else if corePriority == IdlePriority {
		c.core.pkg.removeIdleCore(c.core)
	}
}

// ComputeLoad closes the CPU's measurement window. A CPU driven past
// VeryHighLoad asks the current mode to shed interrupt load.
func (c *CPUEntry) ComputeLoad() {
	if c.sched.singleCore {
		return
	}

	old := c.load.Update(c.sched.kernel.SystemTime())
	if old == loadtrack.NoUpdate {
		return
	}

	if c.load.Load > loadtrack.VeryHighLoad {
		c.sched.currentMode.rebalanceIRQs(false)
	}
}

// ChooseNextThread picks the thread to run next from the pinned and
// the shared queue. old, when non-nil, competes with its current
// effective priority; it wins ties unless putAtBack is set.
func (c *CPUEntry) ChooseNextThread(old *ThreadData, putAtBack bool) *ThreadData {
	c.queueLock.Lock()
	defer c.queueLock.Unlock()
	c.core.queueLock.Lock()
	defer c.core.queueLock.Unlock()

	pinned := c.runQueue.PeekMaximum()
	shared := c.core.runQueue.PeekMaximum()

	if pinned == nil && shared == nil && old == nil {
		panic("sched: no thread to schedule")
	}

	pinnedPriority := int32(-1)
	if pinned != nil {
		pinnedPriority = pinned.GetEffectivePriority()
	}
	sharedPriority := int32(-1)
	if shared != nil {
		sharedPriority = shared.GetEffectivePriority()
	}
	oldPriority := int32(-1)
	if old != nil {
		oldPriority = old.GetEffectivePriority()
	}

	rest := pinnedPriority
	if sharedPriority > rest {
		rest = sharedPriority
	}
	if oldPriority > rest || (!putAtBack && oldPriority == rest) {
		return old
	}

	if sharedPriority >= pinnedPriority {
		shared.enqueued = false

		c.core.runQueue.Remove(shared)
		if shared.IsIdle() || c.core.threadList.Front() != nil &&
			c.core.threadList.Front().Value.(*ThreadData) == shared {
			c.core.starvationCounter.Add(1)
		}
		if shared.threadListElement != nil {
			c.core.threadList.Remove(shared.threadListElement)
			shared.threadListElement = nil
		}
		return shared
	}

	pinned.enqueued = false
	c.runQueue.Remove(pinned)
	return pinned
}

// PeekIdleThread returns the CPU's idle thread's scheduling state.
func (c *CPUEntry) PeekIdleThread() *ThreadData {
	return c.idleThread.schedulerData
}

// TrackActivity books the time old spent on the CPU into the load
// measurements and requests a DVFS level for next.
func (c *CPUEntry) TrackActivity(old, next *ThreadData) {
	oldThread := old.thread
	if !old.IsIdle() {
		active := (oldThread.KernelTime - c.lastKernelTime) +
			(oldThread.UserTime - c.lastUserTime)

		c.core.increaseActiveTime(active)
		old.updateActivity(active)
		c.load.Add(active)
	}

	old.computeLoad()
	next.computeLoad()
	if !c.sched.singleCore && !c.disabled {
		c.ComputeLoad()
	}

	nextThread := next.thread
	if !next.IsIdle() {
		c.lastKernelTime = nextThread.KernelTime
		c.lastUserTime = nextThread.UserTime

		next.setLastInterruptTime(c.sched.kernel.InterruptTime(c.id))

		c.requestPerformanceLevel(next)
	}
}

func (c *CPUEntry) requestPerformanceLevel(td *ThreadData) {
	load := td.GetLoad()
	if coreLoad := c.core.GetLoad(); coreLoad > load {
		load = coreLoad
	}
	if load < 0 {
		load = 0
	}
	if load > loadtrack.MaxLoad {
		load = loadtrack.MaxLoad
	}

	if load < loadtrack.TargetLoad {
		delta := loadtrack.TargetLoad - load
		delta *= loadtrack.TargetLoad
		delta /= kPerformanceScaleMax

		_ = c.sched.kernel.DecreaseCPUPerformance(delta)
	} else {
		delta := load - loadtrack.TargetLoad
		delta *= loadtrack.MaxLoad - loadtrack.TargetLoad
		delta /= kPerformanceScaleMax

		_ = c.sched.kernel.IncreaseCPUPerformance(delta)
	}
}

// StartQuantumTimer arms the quantum timer for the thread about to
// run. Idle threads run untimed; everything else is preempted when the
// computed quantum expires.
func (c *CPUEntry) StartQuantumTimer(td *ThreadData, wasPreempted bool) {
	if !wasPreempted {
		c.sched.timer.Cancel(c.id)
	}
	if td.IsIdle() {
		return
	}
	c.sched.timer.Arm(c.id, td.computeQuantum())
}

// Start brings the CPU online. The big scheduler lock is held.
func (c *CPUEntry) Start() {
	c.disabled = false
	c.core.addCPU(c)
}

// Stop takes the CPU offline and hands its interrupts to the least
// loaded core. The big scheduler lock is held.
func (c *CPUEntry) Stop() {
	c.disabled = true

	target := c.sched.leastLoadedCPU(c.id)
	if target < 0 {
		return
	}

	c.irqLock.Lock()
	irqs := c.irqs
	c.irqs = nil
	c.irqLock.Unlock()

	for _, irq := range irqs {
		c.sched.assignIRQ(irq, target)
	}
}
