// Package sim drives the scheduler on a simulated machine: virtual
// microsecond time, an event queue standing in for the timer hardware
// and inter-processor interrupts, and a synthetic workload of threads
// alternating compute bursts and sleeps.
//
// The simulation is deterministic for a given seed, which makes it
// usable both as the CLI's engine and as the test harness for the
// end-to-end scheduling scenarios.
package sim

import (
	"container/heap"
	"math/rand"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/khryptorgraphics/schedcore/pkg/sched"
	"github.com/khryptorgraphics/schedcore/pkg/topology"
)

// iciLatency is the virtual delivery delay of an inter-processor
// interrupt.
const iciLatency = 1

type eventKind int

const (
	eventTimer eventKind = iota
	eventICI
	eventWake
	eventBlock
	eventLoadAvg
)

type event struct {
	time   int64
	seq    int64
	kind   eventKind
	cpu    int32
	thread *workThread
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].time != q[j].time {
		return q[i].time < q[j].time
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)        { *q = append(*q, x.(*event)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// workThread is one simulated thread: it computes for burst
// microseconds, sleeps for sleep microseconds, and repeats.
type workThread struct {
	thread *sched.Thread

	burst int64
	sleep int64

	remaining int64
	lastStart int64

	blockSeq int64

	runTime  int64
	runCount int64
}

// Machine is a simulated multiprocessor running one Scheduler. It
// implements sched.Kernel and sched.Timer.
type Machine struct {
	logger zerolog.Logger

	scheduler *sched.Scheduler

	now        int64
	currentCPU int32
	seq        int64

	events eventQueue

	timerSeq []int64

	running []*sched.Thread

	idleThreads []*sched.Thread
	workers     []*workThread

	perfLevel int64

	switches    int64
	preemptions int64
	iciSent     int64
}

// NewMachine builds a machine over the given topology. The scheduler
// is created, its idle threads installed and scheduling enabled; the
// workload is added separately.
func NewMachine(topo *topology.Map, mode sched.Mode, logger zerolog.Logger) (*Machine, error) {
	m := &Machine{
		logger:   logger,
		timerSeq: make([]int64, topo.CPUCount()),
		running:  make([]*sched.Thread, topo.CPUCount()),
	}

	scheduler, err := sched.New(&sched.Config{
		Topology: topo,
		Kernel:   m,
		Timer:    m,
		Mode:     mode,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	m.scheduler = scheduler

	for cpu := int32(0); cpu < topo.CPUCount(); cpu++ {
		idle := &sched.Thread{
			ID:       -1 - cpu,
			Name:     "idle",
			Priority: sched.IdlePriority,
		}
		if err := scheduler.OnThreadCreate(idle, true); err != nil {
			return nil, err
		}
		scheduler.OnThreadInit(idle)
		m.idleThreads = append(m.idleThreads, idle)
		m.running[cpu] = idle
	}

	scheduler.EnableScheduling()
	for cpu := int32(0); cpu < topo.CPUCount(); cpu++ {
		m.currentCPU = cpu
		scheduler.Start()
	}

	return m, nil
}

// Scheduler returns the scheduler under simulation.
func (m *Machine) Scheduler() *sched.Scheduler {
	return m.scheduler
}

// Now returns the current virtual time in microseconds.
func (m *Machine) Now() int64 {
	return m.now
}

// SystemTime implements sched.Kernel.
func (m *Machine) SystemTime() int64 {
	return m.now
}

// CurrentCPU implements sched.Kernel.
func (m *Machine) CurrentCPU() int32 {
	return m.currentCPU
}

// SendReschedule implements sched.Kernel by scheduling an ICI delivery
// event.
func (m *Machine) SendReschedule(cpu int32) {
	m.iciSent++
	m.push(&event{time: m.now + iciLatency, kind: eventICI, cpu: cpu})
}

// ContextSwitch implements sched.Kernel.
func (m *Machine) ContextSwitch(old, next *sched.Thread) {
	m.switches++
	m.running[m.currentCPU] = next

	if worker := m.workerOf(next); worker != nil {
		worker.lastStart = m.now
		worker.runCount++
		// The thread blocks when its remaining burst is used up; a
		// preemption invalidates this through blockSeq.
		m.seq++
		worker.blockSeq = m.seq
		m.push(&event{
			time:   m.now + worker.remaining,
			seq:    worker.blockSeq,
			kind:   eventBlock,
			cpu:    m.currentCPU,
			thread: worker,
		})
	}
}

// InterruptTime implements sched.Kernel. The simulation does not model
// interrupt handler time.
func (m *Machine) InterruptTime(cpu int32) int64 {
	return 0
}

// AssignIOInterrupt implements sched.Kernel.
func (m *Machine) AssignIOInterrupt(irq int32, cpu int32) {
	m.logger.Debug().Int32("irq", irq).Int32("cpu", cpu).Msg("IRQ reassigned")
}

// IncreaseCPUPerformance implements sched.Kernel.
func (m *Machine) IncreaseCPUPerformance(delta int32) error {
	m.perfLevel += int64(delta)
	return nil
}

// DecreaseCPUPerformance implements sched.Kernel.
func (m *Machine) DecreaseCPUPerformance(delta int32) error {
	m.perfLevel -= int64(delta)
	return nil
}

// Arm implements sched.Timer.
func (m *Machine) Arm(cpu int32, after int64) {
	m.seq++
	m.timerSeq[cpu] = m.seq
	m.push(&event{time: m.now + after, seq: m.seq, kind: eventTimer, cpu: cpu})
}

// Cancel implements sched.Timer.
func (m *Machine) Cancel(cpu int32) {
	m.timerSeq[cpu] = 0
}

func (m *Machine) push(e *event) {
	if e.seq == 0 {
		m.seq++
		e.seq = m.seq
	}
	heap.Push(&m.events, e)
}

func (m *Machine) workerOf(thread *sched.Thread) *workThread {
	for _, worker := range m.workers {
		if worker.thread == thread {
			return worker
		}
	}
	return nil
}

// AddThread adds a workload thread that computes for burst
// microseconds and sleeps for sleep microseconds, starting at the
// given virtual time.
func (m *Machine) AddThread(id int32, name string, priority int32,
	burst, sleep, startAt int64) (*sched.Thread, error) {

	thread := &sched.Thread{
		ID:       id,
		Name:     name,
		Priority: priority,
	}
	if err := m.scheduler.OnThreadCreate(thread, false); err != nil {
		return nil, err
	}
	m.scheduler.OnThreadInit(thread)

	worker := &workThread{
		thread:    thread,
		burst:     burst,
		sleep:     sleep,
		remaining: burst,
	}
	m.workers = append(m.workers, worker)

	m.push(&event{time: startAt, kind: eventWake, thread: worker})
	return thread, nil
}

// Run processes events until the virtual clock reaches deadline.
func (m *Machine) Run(deadline int64) {
	for m.events.Len() > 0 {
		next := m.events[0]
		if next.time > deadline {
			break
		}
		e := heap.Pop(&m.events).(*event)
		if e.time > m.now {
			m.now = e.time
		}
		m.dispatch(e)
	}
	if m.now < deadline {
		m.now = deadline
	}
}

// Step processes a single event, if one is pending. It returns false
// when the queue is empty.
func (m *Machine) Step() bool {
	if m.events.Len() == 0 {
		return false
	}
	e := heap.Pop(&m.events).(*event)
	if e.time > m.now {
		m.now = e.time
	}
	m.dispatch(e)
	return true
}

func (m *Machine) dispatch(e *event) {
	switch e.kind {
	case eventTimer:
		if m.timerSeq[e.cpu] != e.seq {
			return
		}
		m.timerSeq[e.cpu] = 0
		m.currentCPU = e.cpu
		m.preemptions++
		m.scheduler.OnQuantumTimer(e.cpu)
		m.deliverReschedule(e.cpu)

	case eventICI:
		m.currentCPU = e.cpu
		m.scheduler.RescheduleICI()
		m.deliverReschedule(e.cpu)

	case eventWake:
		cpu := e.thread.thread.PreviousCPU
		if cpu < 0 {
			cpu = 0
		}
		m.currentCPU = cpu
		m.scheduler.EnqueueInRunQueue(e.thread.thread)
		m.deliverReschedule(cpu)

	case eventBlock:
		worker := e.thread
		if worker.blockSeq != e.seq || m.running[e.cpu] != worker.thread {
			return
		}
		m.currentCPU = e.cpu
		m.accountRunning(e.cpu)
		worker.remaining = worker.burst
		m.scheduler.Reschedule(sched.ThreadWaiting)
		m.push(&event{time: m.now + worker.sleep, kind: eventWake, thread: worker})
		m.deliverReschedule(e.cpu)

	case eventLoadAvg:
		m.scheduler.UpdateLoadAverage()
	}
}

// deliverReschedule consumes a pending reschedule request on a CPU,
// the simulation's interrupt exit path.
func (m *Machine) deliverReschedule(cpu int32) {
	for m.scheduler.TakeRescheduleRequest(cpu) {
		m.currentCPU = cpu
		m.accountRunning(cpu)
		m.scheduler.Reschedule(sched.ThreadReady)
	}
}

// accountRunning charges the virtual time the running thread has
// accumulated since it was switched in, so the scheduler's activity
// tracking sees it.
func (m *Machine) accountRunning(cpu int32) {
	thread := m.running[cpu]
	worker := m.workerOf(thread)
	if worker == nil {
		return
	}

	elapsed := m.now - worker.lastStart
	if elapsed <= 0 {
		return
	}
	ran := elapsed
	if ran > worker.remaining {
		ran = worker.remaining
	}
	worker.remaining -= ran
	worker.runTime += ran
	worker.lastStart = m.now

	thread.UserTime += ran
}

// Report summarises a simulation run.
type Report struct {
	RunID string `json:"run_id"`

	VirtualTime int64 `json:"virtual_time_us"`
	Switches    int64 `json:"context_switches"`
	Preemptions int64 `json:"preemptions"`
	ICIsSent    int64 `json:"icis_sent"`

	PerfLevel int64 `json:"perf_level"`

	Threads []ThreadReport `json:"threads"`

	Stats sched.Stats `json:"stats"`
}

// ThreadReport summarises one workload thread.
type ThreadReport struct {
	ID       int32  `json:"id"`
	Name     string `json:"name"`
	Priority int32  `json:"priority"`
	RunTime  int64  `json:"run_time_us"`
	RunCount int64  `json:"run_count"`
}

// Report builds the run report.
func (m *Machine) Report() Report {
	report := Report{
		RunID:       uuid.New().String(),
		VirtualTime: m.now,
		Switches:    m.switches,
		Preemptions: m.preemptions,
		ICIsSent:    m.iciSent,
		PerfLevel:   m.perfLevel,
		Stats:       m.scheduler.Stats(),
	}
	for _, worker := range m.workers {
		report.Threads = append(report.Threads, ThreadReport{
			ID:       worker.thread.ID,
			Name:     worker.thread.Name,
			Priority: worker.thread.Priority,
			RunTime:  worker.runTime,
			RunCount: worker.runCount,
		})
	}
	return report
}

// Workload builds a randomized workload on the machine: count threads
// with bursts and sleeps drawn from the given ranges.
func (m *Machine) Workload(count int, priorities []int32,
	burstRange, sleepRange [2]int64, seed int64) error {

	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < count; i++ {
		priority := priorities[rng.Intn(len(priorities))]
		burst := burstRange[0] + rng.Int63n(burstRange[1]-burstRange[0]+1)
		sleep := sleepRange[0] + rng.Int63n(sleepRange[1]-sleepRange[0]+1)
		startAt := rng.Int63n(1000)

		name := uuid.NewString()[:8]
		if _, err := m.AddThread(int32(i+1), "worker-"+name, priority,
			burst, sleep, startAt); err != nil {
			return err
		}
	}
	return nil
}

// ScheduleLoadAvgUpdates arranges periodic load average updates for
// the whole run.
func (m *Machine) ScheduleLoadAvgUpdates(interval, until int64) {
	for t := interval; t <= until; t += interval {
		m.push(&event{time: t, kind: eventLoadAvg})
	}
}
