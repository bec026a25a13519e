package sched

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/khryptorgraphics/schedcore/pkg/loadtrack"
	"github.com/khryptorgraphics/schedcore/pkg/minmaxheap"
	"github.com/khryptorgraphics/schedcore/pkg/runqueue"
)

// CoreEntry is the per-physical-core scheduling state: the shared run
// queue, the heap of its CPUs keyed by running priority, and the load
// aggregate that positions the core in the global load heaps.
type CoreEntry struct {
	id    int32
	sched *Scheduler
	pkg   *PackageEntry

	heapLink minmaxheap.Link[int32]
	inHeap   bool
	highLoad bool

	cpus     []*CPUEntry
	cpuCount int32
	cpuMask  CPUSet
	cpuLock  sync.Mutex
	cpuHeap  *minmaxheap.Heap[CPUEntry, int32]

	queueLock         sync.Mutex
	runQueue          *runqueue.Queue[ThreadData]
	threadList        *list.List
	threadCount       atomic.Int32
	starvationCounter atomic.Int32

	activeTime atomic.Int64

	load atomic.Int32

	idleElement *list.Element
}

func newCoreEntry(id int32, pkg *PackageEntry, s *Scheduler) *CoreEntry {
	return &CoreEntry{
		id:         id,
		sched:      s,
		pkg:        pkg,
		cpuHeap:    minmaxheap.New(cpuHeapLink),
		runQueue:   runqueue.New[ThreadData](MaxPriority, threadRunQueueLink),
		threadList: list.New(),
	}
}

func coreHeapLink(c *CoreEntry) *minmaxheap.Link[int32] {
	return &c.heapLink
}

// ID returns the dense core index.
func (c *CoreEntry) ID() int32 {
	return c.id
}

// Package returns the package the core belongs to.
func (c *CoreEntry) Package() *PackageEntry {
	return c.pkg
}

// CPUCount returns the number of enabled CPUs on the core.
func (c *CoreEntry) CPUCount() int32 {
	return atomic.LoadInt32(&c.cpuCount)
}

// CPUMask returns the set of enabled CPUs on the core.
func (c *CoreEntry) CPUMask() CPUSet {
	c.cpuLock.Lock()
	defer c.cpuLock.Unlock()
	return c.cpuMask
}

// ThreadCount returns the number of ready non-idle threads assigned to
// the core, the running ones included.
func (c *CoreEntry) ThreadCount() int32 {
	return c.threadCount.Load()
}

// StarvationCounter returns the core's starvation epoch.
func (c *CoreEntry) StarvationCounter() int32 {
	return c.starvationCounter.Load()
}

// GetActiveTime returns the cumulative active time of the core.
func (c *CoreEntry) GetActiveTime() int64 {
	return c.activeTime.Load()
}

func (c *CoreEntry) increaseActiveTime(active int64) {
	c.activeTime.Add(active)
}

// GetLoad returns the core's load normalised per CPU.
func (c *CoreEntry) GetLoad() int32 {
	cpuCount := c.CPUCount()
	if cpuCount == 0 {
		return 0
	}
	load := c.load.Load() / cpuCount
	if load < 0 {
		return 0
	}
	if load > loadtrack.MaxLoad {
		return loadtrack.MaxLoad
	}
	return load
}

// AddLoad adds a ready thread's load contribution to the core. The
// thread count follows the contributions: it covers every non-idle
// thread assigned to the core and ready to run, the running ones
// included.
func (c *CoreEntry) AddLoad(load int32) {
	c.threadCount.Add(1)
	c.load.Add(load)
	c.UpdateLoad()
}

// RemoveLoad removes a thread's load contribution from the core.
func (c *CoreEntry) RemoveLoad(load int32) {
	c.threadCount.Add(-1)
	c.load.Add(-load)
	c.UpdateLoad()
}

// ChangeLoad adjusts the core's load after a thread's estimate was
// remeasured.
func (c *CoreEntry) ChangeLoad(delta int32) {
	if delta == 0 {
		return
	}
	c.load.Add(delta)
	c.UpdateLoad()
}

// UpdateLoad repositions the core in the load heaps. A core migrates
// to the high-load heap above HighLoad and back below MediumLoad; the
// gap is the hysteresis that keeps cores from bouncing between the two.
func (c *CoreEntry) UpdateLoad() {
	if c.sched.singleCore {
		return
	}

	s := c.sched
	s.coreHeapsLock.Lock()
	defer s.coreHeapsLock.Unlock()

	if !c.inHeap {
		return
	}

	newKey := c.GetLoad()
	oldKey := c.heapLink.Key()
	if newKey == oldKey {
		return
	}

	switch {
	case newKey > loadtrack.HighLoad:
		if !c.highLoad {
			s.coreLoadHeap.Remove(c)
			s.coreHighLoadHeap.Insert(c, newKey)
			c.highLoad = true
		} else {
			s.coreHighLoadHeap.ModifyKey(c, newKey)
		}
	case newKey < loadtrack.MediumLoad:
		if c.highLoad {
			s.coreHighLoadHeap.Remove(c)
			s.coreLoadHeap.Insert(c, newKey)
			c.highLoad = false
		} else {
			s.coreLoadHeap.ModifyKey(c, newKey)
		}
	default:
		if c.highLoad {
			s.coreHighLoadHeap.ModifyKey(c, newKey)
		} else {
			s.coreLoadHeap.ModifyKey(c, newKey)
		}
	}
}

// pushBack inserts a thread at the tail of its band. The caller holds
// the core's queue lock.
func (c *CoreEntry) pushBack(td *ThreadData, priority int32) {
	c.runQueue.PushBack(td, priority)
	td.threadListElement = c.threadList.PushBack(td)
}

// pushFront inserts a thread at the head of its band. Put-back threads
// do not rejoin the starvation list. The caller holds the core's queue
// lock.
func (c *CoreEntry) pushFront(td *ThreadData, priority int32) {
	c.runQueue.PushFront(td, priority)
}

// remove unlinks a thread that is leaving the shared queue without
// being scheduled. The caller holds the core's queue lock.
func (c *CoreEntry) remove(td *ThreadData) {
	c.runQueue.Remove(td)
	if td.threadListElement != nil {
		c.threadList.Remove(td.threadListElement)
		td.threadListElement = nil
	}
}

// addCPU attaches an enabled CPU to the core. The big scheduler lock
// is held.
func (c *CoreEntry) addCPU(cpu *CPUEntry) {
	c.cpuLock.Lock()
	c.cpuHeap.Insert(cpu, IdlePriority)
	c.cpuMask.SetBit(cpu.id)
	first := atomic.AddInt32(&c.cpuCount, 1) == 1
	c.cpuLock.Unlock()

	if first && !c.sched.singleCore {
		c.load.Store(0)
		c.sched.coreHeapsLock.Lock()
		if !c.inHeap {
			c.sched.coreLoadHeap.Insert(c, 0)
			c.inHeap = true
			c.highLoad = false
		}
		c.sched.coreHeapsLock.Unlock()

		c.pkg.addIdleCore(c)
	}
}

// removeCPU detaches a disabled CPU from the core. When the last CPU
// goes away the core leaves the load heaps and its shared run queue is
// drained through enqueue so the threads land on other cores. The big
// scheduler lock is held.
func (c *CoreEntry) removeCPU(cpu *CPUEntry, enqueue func(*Thread)) {
	c.cpuLock.Lock()
	c.cpuHeap.Remove(cpu)
	c.cpuMask.ClearBit(cpu.id)
	last := atomic.AddInt32(&c.cpuCount, -1) == 0
	c.cpuLock.Unlock()

	if !last {
		return
	}

	c.sched.coreHeapsLock.Lock()
	if c.inHeap {
		if c.highLoad {
			c.sched.coreHighLoadHeap.Remove(c)
		} else {
			c.sched.coreLoadHeap.Remove(c)
		}
		c.inHeap = false
	}
	c.sched.coreHeapsLock.Unlock()

	c.pkg.removeIdleCore(c)

	var orphans []*Thread
	c.queueLock.Lock()
	for td := c.runQueue.PeekMaximum(); td != nil; td = c.runQueue.PeekMaximum() {
		c.remove(td)
		td.enqueued = false
		td.UnassignCore(false)
		orphans = append(orphans, td.thread)
	}
	c.queueLock.Unlock()

	for _, thread := range orphans {
		enqueue(thread)
	}
}

// PackageEntry groups the cores of one package and tracks which of
// them are idle. Fully idle packages are kept in the scheduler's idle
// package list so the low latency mode can wake whole packages first.
type PackageEntry struct {
	id    int32
	sched *Scheduler

	coreLock      sync.RWMutex
	idleCores     *list.List
	idleCoreCount int32
	coreCount     int32

	idleElement *list.Element
}

func newPackageEntry(id int32, s *Scheduler) *PackageEntry {
	return &PackageEntry{
		id:        id,
		sched:     s,
		idleCores: list.New(),
	}
}

// ID returns the dense package index.
func (p *PackageEntry) ID() int32 {
	return p.id
}

// IdleCoreCount returns the number of idle cores in the package.
func (p *PackageEntry) IdleCoreCount() int32 {
	p.coreLock.RLock()
	defer p.coreLock.RUnlock()
	return p.idleCoreCount
}

// CoreCount returns the number of cores in the package.
func (p *PackageEntry) CoreCount() int32 {
	return p.coreCount
}

// GetIdleCore returns the most recently idled core of the package, or
// nil if none is idle.
func (p *PackageEntry) GetIdleCore() *CoreEntry {
	return p.GetIdleCoreMatching(nil)
}

// GetIdleCoreMatching returns the most recently idled core of the
// package satisfying match, or nil. A nil match accepts any core.
func (p *PackageEntry) GetIdleCoreMatching(match func(*CoreEntry) bool) *CoreEntry {
	p.coreLock.RLock()
	defer p.coreLock.RUnlock()

	for element := p.idleCores.Back(); element != nil; element = element.Prev() {
		core := element.Value.(*CoreEntry)
		if match == nil || match(core) {
			return core
		}
	}
	return nil
}

// addIdleCore records that a core of this package went idle. When the
// last active core goes idle the whole package joins the idle package
// list.
func (p *PackageEntry) addIdleCore(core *CoreEntry) {
	p.coreLock.Lock()
	defer p.coreLock.Unlock()

	if core.idleElement != nil {
		return
	}

	p.idleCoreCount++
	core.idleElement = p.idleCores.PushBack(core)

	if p.idleCoreCount == p.coreCount {
		p.sched.addIdlePackage(p)
	}
}

// removeIdleCore records that a core of this package woke up.
func (p *PackageEntry) removeIdleCore(core *CoreEntry) {
	p.coreLock.Lock()
	defer p.coreLock.Unlock()

	if core.idleElement == nil {
		return
	}

	if p.idleCoreCount == p.coreCount {
		p.sched.removeIdlePackage(p)
	}

	p.idleCoreCount--
	p.idleCores.Remove(core.idleElement)
	core.idleElement = nil
}
