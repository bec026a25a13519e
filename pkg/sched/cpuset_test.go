package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCPUSet(t *testing.T) {
	var set CPUSet

	assert.True(t, set.IsEmpty())
	assert.Equal(t, 0, set.Count())

	set.SetBit(0)
	set.SetBit(63)
	set.SetBit(64)
	set.SetBit(511)

	assert.False(t, set.IsEmpty())
	assert.Equal(t, 4, set.Count())
	assert.True(t, set.GetBit(0))
	assert.True(t, set.GetBit(63))
	assert.True(t, set.GetBit(64))
	assert.True(t, set.GetBit(511))
	assert.False(t, set.GetBit(1))

	set.ClearBit(63)
	assert.False(t, set.GetBit(63))
	assert.Equal(t, 3, set.Count())
}

func TestCPUSetMatches(t *testing.T) {
	var a, b CPUSet
	a.SetBit(3)
	b.SetBit(4)

	assert.False(t, a.Matches(b))

	b.SetBit(3)
	assert.True(t, a.Matches(b))

	var empty CPUSet
	assert.False(t, a.Matches(empty))
}
