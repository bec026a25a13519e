// Package sched implements a multi-mode, topology-aware preemptive
// thread scheduler core: priority run queues per core and CPU, a
// hierarchical load-tracking fabric over CPUs, cores and packages, two
// pluggable placement policies (low latency and power saving) and the
// reschedule pipeline that picks the next thread on each CPU, manages
// time quanta and preempts across CPUs.
//
// The scheduler is a library. It owns no threads of execution itself;
// the surrounding system drives it through the lifecycle hooks,
// EnqueueInRunQueue and Reschedule, and provides time, cross-CPU
// signalling and the context switch through the Kernel and Timer
// contracts.
package sched

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/khryptorgraphics/schedcore/pkg/loadtrack"
	"github.com/khryptorgraphics/schedcore/pkg/minmaxheap"
	"github.com/khryptorgraphics/schedcore/pkg/topology"
)

// Config configures a Scheduler.
type Config struct {
	// Topology is the machine layout. Required.
	Topology *topology.Map

	// Kernel provides the system services the scheduler consumes.
	// Required.
	Kernel Kernel

	// Timer arms the per-CPU quantum timers. Required.
	Timer Timer

	// Mode is the initial operation mode.
	Mode Mode

	// Logger receives the scheduler's log output.
	Logger zerolog.Logger
}

// Scheduler is the process-wide scheduler state: topology entries, the
// global load heaps, the idle package list and the current operation
// mode. One instance exists per machine, created at boot.
type Scheduler struct {
	kernel Kernel
	timer  Timer
	logger zerolog.Logger

	topo       *topology.Map
	singleCore bool

	cpus     []*CPUEntry
	cores    []*CoreEntry
	packages []*PackageEntry

	// modeLock is acquired shared at every scheduler entry point and
	// exclusively to switch modes or hot-plug CPUs.
	modeLock    sync.RWMutex
	currentMode *modeOperations
	modeID      Mode
	modes       [modeCount]*modeOperations

	quantumLengths        [MaxPriority + 1]int64
	maximumQuantumLengths [quantumCountPerCore]int64

	coreHeapsLock    sync.RWMutex
	coreLoadHeap     *minmaxheap.Heap[CoreEntry, int32]
	coreHighLoadHeap *minmaxheap.Heap[CoreEntry, int32]

	idlePackageLock sync.RWMutex
	idlePackageList *list.List

	threadsLock sync.Mutex
	threads     map[int32]*Thread

	listenersLock sync.Mutex
	listeners     []Listener

	irqLock sync.Mutex
	irqs    map[int32]*IRQAssignment

	loadAverage loadtrack.Averager

	enabled atomic.Bool

	idleThreadCount atomic.Int32

	rescheduleCount atomic.Int64
	iciCount        atomic.Int64
}

// New builds the scheduler for the given topology: one entry per CPU,
// core and package, every core in the load heap at load zero, every
// package idle. The returned scheduler does not dispatch threads until
// Start and EnableScheduling are called.
func New(cfg *Config) (*Scheduler, error) {
	if cfg == nil || cfg.Topology == nil {
		return nil, fmt.Errorf("%w: missing topology", ErrBadValue)
	}
	if cfg.Kernel == nil {
		return nil, fmt.Errorf("%w: missing kernel interface", ErrBadValue)
	}
	if cfg.Timer == nil {
		return nil, fmt.Errorf("%w: missing timer interface", ErrBadValue)
	}
	if cfg.Mode < 0 || cfg.Mode >= modeCount {
		return nil, fmt.Errorf("%w: invalid mode %d", ErrBadValue, cfg.Mode)
	}

	topo := cfg.Topology
	s := &Scheduler{
		kernel:          cfg.Kernel,
		timer:           cfg.Timer,
		logger:          cfg.Logger,
		topo:            topo,
		singleCore:      topo.SingleCore(),
		coreLoadHeap:    minmaxheap.New(coreHeapLink),
		coreHighLoadHeap: minmaxheap.New(coreHeapLink),
		idlePackageList: list.New(),
		threads:         make(map[int32]*Thread),
		irqs:            make(map[int32]*IRQAssignment),
	}

	s.packages = make([]*PackageEntry, topo.PackageCount())
	for i := range s.packages {
		s.packages[i] = newPackageEntry(int32(i), s)
	}

	s.cores = make([]*CoreEntry, topo.CoreCount())
	for i := range s.cores {
		pkg := s.packages[topo.PackageOfCore(int32(i))]
		s.cores[i] = newCoreEntry(int32(i), pkg, s)
		pkg.coreCount++
	}

	s.cpus = make([]*CPUEntry, topo.CPUCount())
	for i := range s.cpus {
		core := s.cores[topo.CoreOf(int32(i))]
		s.cpus[i] = newCPUEntry(int32(i), core, s)
		core.cpus = append(core.cpus, s.cpus[i])
	}

	for _, cpu := range s.cpus {
		cpu.core.addCPU(cpu)
	}

	s.modes[ModeLowLatency] = newLowLatencyOperations(s)
	s.modes[ModePowerSaving] = newPowerSavingOperations(s)
	s.modeID = cfg.Mode
	s.currentMode = s.modes[cfg.Mode]
	s.currentMode.switchToMode()
	s.computeQuantumLengths()

	s.logger.Info().
		Int32("cpus", topo.CPUCount()).
		Int32("cores", topo.CoreCount()).
		Int32("packages", topo.PackageCount()).
		Str("mode", s.currentMode.name).
		Bool("single_core", s.singleCore).
		Msg("Scheduler initialized")

	return s, nil
}

// Start begins scheduling on the calling CPU. It must run in the
// context of that CPU's idle thread, after every idle thread has been
// created and initialized.
func (s *Scheduler) Start() {
	s.reschedule(ThreadReady)
}

// EnableScheduling flips the scheduler live. Reschedule calls before
// this point are ignored.
func (s *Scheduler) EnableScheduling() {
	s.enabled.Store(true)
}

// initialized reports whether the scheduler was built by New. A
// zero-value Scheduler has no topology and must not schedule.
func (s *Scheduler) initialized() bool {
	return s != nil && len(s.cpus) > 0
}

// CPU returns the entry of a logical CPU.
func (s *Scheduler) CPU(id int32) *CPUEntry {
	return s.cpus[id]
}

// Core returns the entry of a core.
func (s *Scheduler) Core(id int32) *CoreEntry {
	return s.cores[id]
}

// CPUCount returns the number of logical CPUs.
func (s *Scheduler) CPUCount() int32 {
	return int32(len(s.cpus))
}

// CoreCount returns the number of cores.
func (s *Scheduler) CoreCount() int32 {
	return int32(len(s.cores))
}

// AddListener registers a scheduling event listener.
func (s *Scheduler) AddListener(listener Listener) {
	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()
	s.listeners = append(s.listeners, listener)
}

// RemoveListener unregisters a scheduling event listener.
func (s *Scheduler) RemoveListener(listener Listener) {
	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()
	for i, l := range s.listeners {
		if l == listener {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) notifyEnqueued(thread *Thread) {
	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()
	for _, l := range s.listeners {
		l.ThreadEnqueuedInRunQueue(thread)
	}
}

func (s *Scheduler) notifyRemoved(thread *Thread) {
	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()
	for _, l := range s.listeners {
		l.ThreadRemovedFromRunQueue(thread)
	}
}

func (s *Scheduler) notifyScheduled(old, next *Thread) {
	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()
	for _, l := range s.listeners {
		l.ThreadScheduled(old, next)
	}
}

// OnThreadCreate attaches scheduling state to a newly created thread.
func (s *Scheduler) OnThreadCreate(thread *Thread, idleThread bool) error {
	thread.idle = idleThread
	thread.CPU = -1
	thread.PreviousCPU = -1
	thread.schedulerData = newThreadData(thread, s)

	s.threadsLock.Lock()
	s.threads[thread.ID] = thread
	s.threadsLock.Unlock()
	return nil
}

// OnThreadInit initializes the scheduling state. Idle threads are
// assigned to consecutive CPUs, pinned there and become those CPUs'
// initial running threads; ordinary threads inherit penalty and load
// from their creator.
func (s *Scheduler) OnThreadInit(thread *Thread) {
	s.modeLock.RLock()
	defer s.modeLock.RUnlock()

	td := thread.schedulerData
	if td == nil {
		panic("sched: thread has no scheduler state")
	}

	if thread.IsIdle() {
		cpuID := s.idleThreadCount.Add(1) - 1
		if int(cpuID) >= len(s.cpus) {
			panic("sched: more idle threads than CPUs")
		}

		thread.PreviousCPU = cpuID
		thread.CPU = cpuID
		thread.PinnedToCPU = 1
		thread.State = ThreadRunning

		cpu := s.cpus[cpuID]
		cpu.idleThread = thread
		cpu.runningThread = thread

		td.initIdle(cpu.core)
		return
	}

	var creator *ThreadData
	if current := s.cpus[s.kernel.CurrentCPU()].runningThread; current != nil {
		creator = current.schedulerData
	}
	td.init(creator)
}

// OnThreadDestroy releases the scheduling state of a dying thread.
func (s *Scheduler) OnThreadDestroy(thread *Thread) {
	s.threadsLock.Lock()
	delete(s.threads, thread.ID)
	s.threadsLock.Unlock()

	thread.schedulerData = nil
}

// EnqueueInRunQueue makes a thread ready and places it on a core and
// CPU according to the current mode's policy. If the thread dominates
// the chosen CPU's running priority, that CPU is asked to reschedule,
// by flag when local and by ICI when remote.
func (s *Scheduler) EnqueueInRunQueue(thread *Thread) {
	s.modeLock.RLock()
	defer s.modeLock.RUnlock()

	thread.schedulerLock.Lock()
	defer thread.schedulerLock.Unlock()

	td := thread.schedulerData
	if td.shouldCancelPenalty() {
		td.cancelPenalty()
	}

	s.enqueue(td, true)
}

// enqueue places a thread: pinned threads go to their CPU, everything
// else through rebalancing or a fresh core choice. The mode read lock
// and the thread's scheduler lock are held.
func (s *Scheduler) enqueue(td *ThreadData, newOne bool) {
	thread := td.thread
	threadPriority := td.GetEffectivePriority()

	var targetCPU *CPUEntry
	var targetCore *CoreEntry
	switch {
	case thread.PinnedToCPU > 0:
		targetCPU = s.cpus[thread.PreviousCPU]
	case s.singleCore:
		targetCore = s.cores[0]
	case td.core != nil && (!newOne || !s.currentMode.hasCacheExpired(td)):
		targetCore = s.currentMode.rebalance(td)
	}

	rescheduleNeeded := td.ChooseCoreAndCPU(&targetCore, &targetCPU)

	td.enqueue()

	s.notifyEnqueued(thread)

	targetCPU.core.cpuLock.Lock()
	heapPriority := targetCPU.core.cpuHeap.Key(targetCPU)
	targetCPU.core.cpuLock.Unlock()

	if threadPriority > heapPriority ||
		(threadPriority == heapPriority && rescheduleNeeded) {
		if targetCPU.id == s.kernel.CurrentCPU() {
			targetCPU.invokeScheduler.Store(true)
		} else {
			s.iciCount.Add(1)
			s.kernel.SendReschedule(targetCPU.id)
		}
	}
}

// Reschedule switches the calling CPU to the highest priority ready
// thread, charging and refilling quanta on the way. nextState is the
// state the currently running thread goes to.
func (s *Scheduler) Reschedule(nextState ThreadState) {
	if !s.enabled.Load() {
		if nextState != ThreadReady {
			panic("sched: reschedule to a non-ready state before scheduling is enabled")
		}
		return
	}
	s.reschedule(nextState)
}

func (s *Scheduler) reschedule(nextState ThreadState) {
	thisCPU := s.kernel.CurrentCPU()
	cpu := s.cpus[thisCPU]
	core := cpu.core

	oldThread := cpu.runningThread
	if oldThread == nil {
		panic("sched: reschedule on a CPU with no running thread")
	}
	old := oldThread.schedulerData

	s.modeLock.RLock()

	oldThread.schedulerLock.Lock()

	s.rescheduleCount.Add(1)

	oldThread.State = nextState

	enqueueOldThread := false
	putOldThreadAtBack := false
	switch nextState {
	case ThreadRunning, ThreadReady:
		enqueueOldThread = true
		if !old.IsIdle() {
			if old.hasQuantumEnded(cpu.preempted.Load(), oldThread.HasYielded) {
				if !oldThread.HasYielded {
					old.increasePenalty()
				}
				putOldThreadAtBack = true
			}
		}
	case ThreadFreeOnResched:
		old.dies()
	default:
		old.goesAway()
	}
	oldThread.HasYielded = false

	var next *ThreadData
	if cpu.disabled {
		if !old.IsIdle() {
			putOldThreadAtBack = oldThread.PinnedToCPU == 0
			old.UnassignCore(true)

			cpu.queueLock.Lock()
			next = cpu.PeekIdleThread()
			if next.enqueued {
				cpu.runQueue.Remove(next)
				next.enqueued = false
			}
			cpu.queueLock.Unlock()
		} else {
			next = old
		}
	} else {
		var competing *ThreadData
		if enqueueOldThread {
			competing = old
		}
		next = cpu.ChooseNextThread(competing, putOldThreadAtBack)

		core.cpuLock.Lock()
		cpu.UpdatePriority(next.GetEffectivePriority())
		core.cpuLock.Unlock()
	}

	nextThread := next.thread

	if nextThread != oldThread {
		if enqueueOldThread {
			if putOldThreadAtBack {
				s.enqueue(old, false)
			} else {
				old.putBack()
			}
		}

		nextThread.schedulerLock.Lock()
	}

	s.notifyScheduled(oldThread, nextThread)

	nextThread.State = ThreadRunning
	cpu.runningThread = nextThread
	nextThread.CPU = thisCPU
	nextThread.PreviousCPU = thisCPU
	if nextThread != oldThread {
		oldThread.CPU = -1
	}

	cpu.TrackActivity(old, next)

	wasPreempted := cpu.preempted.Swap(false)
	if nextThread != oldThread || wasPreempted {
		cpu.StartQuantumTimer(next, wasPreempted)
		if next.IsIdle() {
			s.currentMode.rebalanceIRQs(true)
		}
		next.startQuantum()

		s.modeLock.RUnlock()

		if nextThread != oldThread {
			s.kernel.ContextSwitch(oldThread, nextThread)
		}
	} else {
		s.modeLock.RUnlock()
	}

	if nextThread != oldThread {
		nextThread.schedulerLock.Unlock()
	}
	oldThread.schedulerLock.Unlock()
}

// RescheduleICI is called from the ICI handler on the receiving CPU;
// it makes sure the next interrupt exit enters the reschedule
// pipeline.
func (s *Scheduler) RescheduleICI() {
	s.cpus[s.kernel.CurrentCPU()].invokeScheduler.Store(true)
}

// OnQuantumTimer is called by the quantum timer when a thread's
// quantum expires on a CPU.
func (s *Scheduler) OnQuantumTimer(cpu int32) {
	entry := s.cpus[cpu]
	entry.preempted.Store(true)
	entry.invokeScheduler.Store(true)
}

// TakeRescheduleRequest consumes a pending reschedule request on a
// CPU. The embedder polls this at interrupt exit.
func (s *Scheduler) TakeRescheduleRequest(cpu int32) bool {
	return s.cpus[cpu].invokeScheduler.Swap(false)
}

// SetThreadPriority changes a thread's base priority, repositioning it
// in its run queue when ready and updating its CPU's heap key when
// running. It returns the previous priority.
func (s *Scheduler) SetThreadPriority(thread *Thread, priority int32) (int32, error) {
	if !s.initialized() {
		return 0, ErrNotInitialized
	}
	if priority < LowestActivePriority || priority > MaxPriority {
		return 0, fmt.Errorf("%w: priority %d", ErrBadValue, priority)
	}

	s.modeLock.RLock()
	defer s.modeLock.RUnlock()

	thread.schedulerLock.Lock()
	defer thread.schedulerLock.Unlock()

	td := thread.schedulerData
	oldPriority := thread.Priority

	thread.Priority = priority
	td.cancelPenalty()
	td.effectivePriority = -1
	td.computeEffectivePriority()

	if priority == oldPriority {
		return oldPriority, nil
	}

	if thread.State != ThreadReady {
		if thread.State == ThreadRunning {
			cpu := s.cpus[thread.CPU]

			cpu.core.cpuLock.Lock()
			cpu.UpdatePriority(td.GetEffectivePriority())
			cpu.core.cpuLock.Unlock()
		}
		return oldPriority, nil
	}

	// The thread is in a run queue; remove it and insert it at its new
	// position.
	s.notifyRemoved(thread)
	if td.dequeue() {
		s.enqueue(td, true)
	}

	return oldPriority, nil
}

// SetOperationMode switches between low latency and power saving. The
// switch is atomic with respect to scheduling: it takes the mode lock
// exclusively, resets the new mode's private state and recomputes the
// quantum tables.
func (s *Scheduler) SetOperationMode(mode Mode) error {
	if !s.initialized() {
		return ErrNotInitialized
	}
	if mode < 0 || mode >= modeCount {
		return fmt.Errorf("%w: invalid scheduler mode %d", ErrBadValue, mode)
	}

	s.logger.Info().Str("mode", s.modes[mode].name).Msg("Switching scheduler mode")

	s.modeLock.Lock()
	defer s.modeLock.Unlock()

	s.modeID = mode
	s.currentMode = s.modes[mode]
	s.currentMode.switchToMode()
	s.computeQuantumLengths()

	return nil
}

// OperationMode returns the current mode.
func (s *Scheduler) OperationMode() Mode {
	s.modeLock.RLock()
	defer s.modeLock.RUnlock()
	return s.modeID
}

// SetCPUEnabled brings a CPU online or takes it offline. Disabling a
// CPU drains the affected queues onto the remaining cores and sends
// the CPU an ICI so it does not finish its quantum first.
func (s *Scheduler) SetCPUEnabled(cpuID int32, enabled bool) error {
	if !s.initialized() {
		return ErrNotInitialized
	}
	if cpuID < 0 || int(cpuID) >= len(s.cpus) {
		return fmt.Errorf("%w: CPU %d", ErrBadValue, cpuID)
	}

	s.logger.Info().Int32("cpu", cpuID).Bool("enabled", enabled).
		Msg("Changing CPU state")

	s.modeLock.Lock()
	defer s.modeLock.Unlock()

	s.currentMode.setCPUEnabled(cpuID, enabled)

	cpu := s.cpus[cpuID]
	core := cpu.core

	if enabled {
		if !cpu.disabled {
			return nil
		}
		cpu.Start()
		return nil
	}

	if cpu.disabled {
		return nil
	}

	core.cpuLock.Lock()
	cpu.UpdatePriority(IdlePriority)
	core.cpuLock.Unlock()

	// The exclusive mode lock already excludes every other scheduler
	// entry point; the drained threads' own locks are not needed.
	core.removeCPU(cpu, func(thread *Thread) {
		s.enqueue(thread.schedulerData, false)
	})

	cpu.disabled = true
	cpu.Stop()

	// Don't wait until the running thread's quantum ends.
	if s.kernel.CurrentCPU() != cpuID {
		s.iciCount.Add(1)
		s.kernel.SendReschedule(cpuID)
	}

	return nil
}

func (s *Scheduler) computeQuantumLengths() {
	mode := s.currentMode
	for priority := int32(0); priority <= MaxPriority; priority++ {
		quantum0 := mode.baseQuantum
		if priority >= UrgentDisplayPriority {
			s.quantumLengths[priority] = quantum0
			continue
		}

		quantum1 := quantum0 * mode.quantumMultipliers[0]
		if priority > NormalPriority {
			s.quantumLengths[priority] = scaleQuantum(quantum1, quantum0,
				UrgentDisplayPriority, NormalPriority, priority)
			continue
		}

		quantum2 := quantum0 * mode.quantumMultipliers[1]
		s.quantumLengths[priority] = scaleQuantum(quantum2, quantum1,
			NormalPriority, IdlePriority, priority)
	}

	for threadCount := range s.maximumQuantumLengths {
		quantum := mode.maximumLatency
		if threadCount != 0 {
			quantum /= int64(threadCount)
		}
		if quantum < mode.minimalQuantum {
			quantum = mode.minimalQuantum
		}
		s.maximumQuantumLengths[threadCount] = quantum
	}
}

// scaleQuantum interpolates linearly between minQuantum at maxPriority
// and maxQuantum at minPriority.
func scaleQuantum(maxQuantum, minQuantum int64,
	maxPriority, minPriority, priority int32) int64 {

	result := (maxQuantum - minQuantum) * int64(priority-minPriority)
	result /= int64(maxPriority - minPriority)
	return maxQuantum - result
}

func (s *Scheduler) quantumLength(priority int32) int64 {
	return s.quantumLengths[priority]
}

func (s *Scheduler) maximumQuantumLength(threadCount int32) int64 {
	return s.maximumQuantumLengths[threadCount]
}

// addIdlePackage records a fully idle package; the caller holds the
// package's core list lock.
func (s *Scheduler) addIdlePackage(pkg *PackageEntry) {
	s.idlePackageLock.Lock()
	defer s.idlePackageLock.Unlock()
	if pkg.idleElement == nil {
		pkg.idleElement = s.idlePackageList.PushBack(pkg)
	}
}

// removeIdlePackage records that a fully idle package woke up; the
// caller holds the package's core list lock.
func (s *Scheduler) removeIdlePackage(pkg *PackageEntry) {
	s.idlePackageLock.Lock()
	defer s.idlePackageLock.Unlock()
	if pkg.idleElement != nil {
		s.idlePackageList.Remove(pkg.idleElement)
		pkg.idleElement = nil
	}
}

// lastIdlePackage returns the most recently idled package, or nil.
func (s *Scheduler) lastIdlePackage() *PackageEntry {
	s.idlePackageLock.RLock()
	defer s.idlePackageLock.RUnlock()
	if back := s.idlePackageList.Back(); back != nil {
		return back.Value.(*PackageEntry)
	}
	return nil
}

// idlePackageCore returns an idle core of the most recently idled
// package that satisfies match, or nil. The package list is snapshotted
// first: the idle-package lock nests inside the package core-list lock
// and may not be held across GetIdleCoreMatching.
func (s *Scheduler) idlePackageCore(match func(*CoreEntry) bool) *CoreEntry {
	for _, pkg := range s.idlePackagesSnapshot() {
		if core := pkg.GetIdleCoreMatching(match); core != nil {
			return core
		}
	}
	return nil
}

// idlePackagesSnapshot returns the idle packages, most recently idled
// first.
func (s *Scheduler) idlePackagesSnapshot() []*PackageEntry {
	s.idlePackageLock.RLock()
	defer s.idlePackageLock.RUnlock()

	packages := make([]*PackageEntry, 0, s.idlePackageList.Len())
	for element := s.idlePackageList.Back(); element != nil; element = element.Prev() {
		packages = append(packages, element.Value.(*PackageEntry))
	}
	return packages
}

// mostIdlePackageCore returns an idle core of the partially busy
// package with the most idle cores, or nil.
func (s *Scheduler) mostIdlePackageCore(match func(*CoreEntry) bool) *CoreEntry {
	var best *PackageEntry
	bestCount := int32(0)
	for _, pkg := range s.packages {
		idleCount := pkg.IdleCoreCount()
		if idleCount == 0 || idleCount == pkg.CoreCount() {
			continue
		}
		if idleCount > bestCount {
			best = pkg
			bestCount = idleCount
		}
	}
	if best == nil {
		return nil
	}
	return best.GetIdleCoreMatching(match)
}

// leastIdlePackage returns the package with the fewest but at least
// one idle core, or nil.
func (s *Scheduler) leastIdlePackage() *PackageEntry {
	var best *PackageEntry
	bestCount := int32(0)
	for _, pkg := range s.packages {
		idleCount := pkg.IdleCoreCount()
		if idleCount == 0 {
			continue
		}
		if best == nil || idleCount < bestCount {
			best = pkg
			bestCount = idleCount
		}
	}
	return best
}

// leastLoadedCPU returns the enabled CPU with the lowest running
// priority on the least loaded core, excluding one CPU, or -1.
func (s *Scheduler) leastLoadedCPU(excluding int32) int32 {
	s.coreHeapsLock.RLock()
	core := s.coreLoadHeap.PeekMinimum()
	if core == nil {
		core = s.coreHighLoadHeap.PeekMinimum()
	}
	s.coreHeapsLock.RUnlock()
	if core == nil {
		return -1
	}

	core.cpuLock.Lock()
	defer core.cpuLock.Unlock()
	cpu := core.cpuHeap.PeekMinimumMatching(func(c *CPUEntry) bool {
		return c.id != excluding && !c.disabled
	})
	if cpu == nil {
		return -1
	}
	return cpu.id
}
