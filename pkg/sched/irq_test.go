package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/schedcore/pkg/loadtrack"
)

func TestRegisterIRQValidation(t *testing.T) {
	rig := newTestRig(t, 1, 2, 1, ModeLowLatency)
	s := rig.s

	assert.ErrorIs(t, s.RegisterIRQ(9, -1), ErrBadValue)
	assert.ErrorIs(t, s.RegisterIRQ(9, 99), ErrBadValue)

	require.NoError(t, s.RegisterIRQ(9, 0))
	assert.ErrorIs(t, s.RegisterIRQ(9, 1), ErrBadValue)

	assert.ErrorIs(t, s.SetIRQLoad(77, 100), ErrBadValue)
	require.NoError(t, s.SetIRQLoad(9, 300))

	irqs := s.IRQsOn(0)
	require.Len(t, irqs, 1)
	assert.Equal(t, int32(9), irqs[0].IRQ())
	assert.Equal(t, int32(300), irqs[0].Load())
}

func TestLowLatencyIRQShedding(t *testing.T) {
	rig := newTestRig(t, 1, 2, 1, ModeLowLatency)
	s := rig.s

	require.NoError(t, s.RegisterIRQ(5, 0))
	require.NoError(t, s.SetIRQLoad(5, loadtrack.LowLoad+100))

	// The current CPU's core carries much more load than the other.
	s.cpus[0].core.ChangeLoad(loadtrack.LoadDifference + 300)
	rig.kernel.cpu = 0

	s.modeLock.RLock()
	s.currentMode.rebalanceIRQs(false)
	s.modeLock.RUnlock()

	target, moved := rig.kernel.irqAssignments[5]
	require.True(t, moved, "IRQ was not reassigned")
	assert.NotEqual(t, s.cpus[0].core, s.cpus[target].core)
	assert.Empty(t, s.IRQsOn(0))
	assert.Len(t, s.IRQsOn(target), 1)
}

func TestLowLatencyIRQSheddingNeedsImbalance(t *testing.T) {
	rig := newTestRig(t, 1, 2, 1, ModeLowLatency)
	s := rig.s

	require.NoError(t, s.RegisterIRQ(5, 0))
	require.NoError(t, s.SetIRQLoad(5, loadtrack.LowLoad+100))
	rig.kernel.cpu = 0

	// Balanced cores: the IRQ stays put.
	s.modeLock.RLock()
	s.currentMode.rebalanceIRQs(false)
	s.modeLock.RUnlock()

	_, moved := rig.kernel.irqAssignments[5]
	assert.False(t, moved)
	assert.Len(t, s.IRQsOn(0), 1)
}

func TestPowerSavingPacksIRQsOntoSmallTaskCore(t *testing.T) {
	rig := newTestRig(t, 1, 2, 1, ModePowerSaving)
	s := rig.s

	// Make core 1 the busiest sub-high core, then let placement elect
	// it as the small-task core.
	s.cores[1].ChangeLoad(loadtrack.LowLoad)
	s.EnqueueInRunQueue(rig.newThread(t, "elector", NormalPriority))

	smallTaskCore := s.cores[1]

	// An idle CPU on the other core hands its interrupts over.
	other := int32(0)
	if s.cpus[other].core == smallTaskCore {
		other = 1
	}
	require.NoError(t, s.RegisterIRQ(5, other))
	require.NoError(t, s.SetIRQLoad(5, 50))

	rig.kernel.cpu = other
	s.modeLock.RLock()
	s.currentMode.rebalanceIRQs(true)
	s.modeLock.RUnlock()

	target, moved := rig.kernel.irqAssignments[5]
	require.True(t, moved, "IRQ was not packed")
	assert.Equal(t, smallTaskCore, s.cpus[target].core)
}
