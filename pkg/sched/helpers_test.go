package sched

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/schedcore/pkg/topology"
)

// fakeKernel is a hand-cranked kernel: tests advance time and pick the
// executing CPU explicitly.
type fakeKernel struct {
	time int64
	cpu  int32

	icis     []int32
	switches [][2]*Thread

	irqAssignments map[int32]int32

	perfLevel int64
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{
		time:           1,
		irqAssignments: make(map[int32]int32),
	}
}

func (k *fakeKernel) SystemTime() int64 { return k.time }
func (k *fakeKernel) CurrentCPU() int32 { return k.cpu }

func (k *fakeKernel) SendReschedule(cpu int32) {
	k.icis = append(k.icis, cpu)
}

func (k *fakeKernel) ContextSwitch(old, next *Thread) {
	k.switches = append(k.switches, [2]*Thread{old, next})
}

func (k *fakeKernel) InterruptTime(cpu int32) int64 { return 0 }

func (k *fakeKernel) AssignIOInterrupt(irq int32, cpu int32) {
	k.irqAssignments[irq] = cpu
}

func (k *fakeKernel) IncreaseCPUPerformance(delta int32) error {
	k.perfLevel += int64(delta)
	return nil
}

func (k *fakeKernel) DecreaseCPUPerformance(delta int32) error {
	k.perfLevel -= int64(delta)
	return nil
}

type fakeTimer struct {
	armed     map[int32]int64
	cancelled int
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{armed: make(map[int32]int64)}
}

func (t *fakeTimer) Arm(cpu int32, after int64) {
	t.armed[cpu] = after
}

func (t *fakeTimer) Cancel(cpu int32) {
	t.cancelled++
	delete(t.armed, cpu)
}

type testRig struct {
	s      *Scheduler
	kernel *fakeKernel
	timer  *fakeTimer

	idleThreads []*Thread
	nextID      int32
}

// newTestRig builds a scheduler over a symmetric topology with idle
// threads installed and scheduling started on every CPU.
func newTestRig(t *testing.T, packages, coresPerPackage, smtPerCore int32,
	mode Mode) *testRig {

	t.Helper()

	topo, err := topology.Build(
		topology.NewUniform(packages, coresPerPackage, smtPerCore),
		packages*coresPerPackage*smtPerCore)
	require.NoError(t, err)

	kernel := newFakeKernel()
	timer := newFakeTimer()

	s, err := New(&Config{
		Topology: topo,
		Kernel:   kernel,
		Timer:    timer,
		Mode:     mode,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	rig := &testRig{s: s, kernel: kernel, timer: timer, nextID: 1}

	for cpu := int32(0); cpu < topo.CPUCount(); cpu++ {
		idle := &Thread{ID: -1 - cpu, Name: "idle", Priority: IdlePriority}
		require.NoError(t, s.OnThreadCreate(idle, true))
		s.OnThreadInit(idle)
		rig.idleThreads = append(rig.idleThreads, idle)
	}

	s.EnableScheduling()
	for cpu := int32(0); cpu < topo.CPUCount(); cpu++ {
		kernel.cpu = cpu
		s.Start()
	}
	kernel.cpu = 0

	return rig
}

func (r *testRig) newThread(t *testing.T, name string, priority int32) *Thread {
	t.Helper()

	thread := &Thread{ID: r.nextID, Name: name, Priority: priority}
	r.nextID++
	require.NoError(t, r.s.OnThreadCreate(thread, false))
	r.s.OnThreadInit(thread)
	return thread
}

// dispatch drains pending reschedule requests on a CPU, simulating
// interrupt exit.
func (r *testRig) dispatch(cpu int32) {
	for r.s.TakeRescheduleRequest(cpu) {
		r.kernel.cpu = cpu
		r.s.Reschedule(ThreadReady)
	}
}

// runReady enqueues the thread and dispatches the CPU it was placed
// on, so it ends up running there.
func (r *testRig) runReady(t *testing.T, thread *Thread) int32 {
	t.Helper()

	r.s.EnqueueInRunQueue(thread)

	// Deliver the reschedule wherever it was requested.
	for cpu := int32(0); cpu < r.s.CPUCount(); cpu++ {
		r.dispatch(cpu)
	}
	for _, cpu := range r.kernel.icis {
		r.kernel.cpu = cpu
		r.s.RescheduleICI()
		r.dispatch(cpu)
	}
	r.kernel.icis = nil

	cpu := thread.CPU
	require.GreaterOrEqual(t, cpu, int32(0), "thread did not get a CPU")
	return cpu
}

// block makes the currently running thread on a CPU go to sleep.
func (r *testRig) block(cpu int32) {
	r.kernel.cpu = cpu
	r.s.Reschedule(ThreadWaiting)
}
