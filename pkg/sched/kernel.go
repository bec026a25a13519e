package sched

// Kernel is the contract the scheduler consumes from the surrounding
// system: time, the identity of the executing CPU, cross-CPU
// signalling, the context switch itself, and performance (DVFS)
// control. The simulation harness and the tests provide their own
// implementations.
type Kernel interface {
	// SystemTime returns the current time in microseconds.
	SystemTime() int64

	// CurrentCPU returns the id of the CPU the caller is executing on.
	CurrentCPU() int32

	// SendReschedule delivers an asynchronous reschedule request (an
	// inter-processor interrupt) to a remote CPU. The receiver is
	// expected to call Scheduler.RescheduleICI and, on its next
	// interrupt exit, Scheduler.Reschedule. Fire and forget; there is
	// no reply.
	SendReschedule(cpu int32)

	// ContextSwitch suspends old and resumes next on the current CPU.
	// It is called with both threads' scheduler state consistent and
	// must not call back into the scheduler.
	ContextSwitch(old, next *Thread)

	// InterruptTime returns the cumulative time a CPU has spent
	// handling hardware interrupts, in microseconds.
	InterruptTime(cpu int32) int64

	// AssignIOInterrupt moves a hardware interrupt to a CPU.
	AssignIOInterrupt(irq int32, cpu int32)

	// IncreaseCPUPerformance and DecreaseCPUPerformance request a DVFS
	// performance level change. An error means the platform does not
	// support performance control.
	IncreaseCPUPerformance(delta int32) error
	DecreaseCPUPerformance(delta int32) error
}

// Timer arms the per-CPU quantum timer. On expiry the embedder must
// mark the CPU preempted (Scheduler.OnQuantumTimer) so the next
// interrupt exit reenters the reschedule pipeline.
type Timer interface {
	// Arm schedules the quantum timer on a CPU to fire after the given
	// number of microseconds, replacing any previously armed timer.
	Arm(cpu int32, after int64)

	// Cancel disarms the quantum timer on a CPU.
	Cancel(cpu int32)
}

// Listener is notified of scheduling events. Callbacks run under
// scheduler locks and must be fast and non-blocking.
type Listener interface {
	// ThreadEnqueuedInRunQueue is invoked when a thread is inserted
	// into a run queue.
	ThreadEnqueuedInRunQueue(thread *Thread)

	// ThreadRemovedFromRunQueue is invoked when a thread is removed
	// from a run queue without being scheduled (priority change).
	ThreadRemovedFromRunQueue(thread *Thread)

	// ThreadScheduled is invoked when next replaces old on a CPU.
	ThreadScheduled(old, next *Thread)
}

// kPerformanceScaleMax is the scale DVFS deltas are expressed in.
const kPerformanceScaleMax = 1000
