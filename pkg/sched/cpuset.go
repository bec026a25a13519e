package sched

import "math/bits"

// cpuSetWords bounds the number of logical CPUs a set can hold.
const cpuSetWords = 8

// CPUSet is a fixed-size bit set of logical CPU ids. The empty set
// means "all CPUs allowed" when used as a thread's mask.
type CPUSet struct {
	bits [cpuSetWords]uint64
}

// SetBit marks a CPU as a member of the set.
func (s *CPUSet) SetBit(cpu int32) {
	s.bits[cpu/64] |= uint64(1) << (cpu % 64)
}

// ClearBit removes a CPU from the set.
func (s *CPUSet) ClearBit(cpu int32) {
	s.bits[cpu/64] &^= uint64(1) << (cpu % 64)
}

// GetBit reports whether a CPU is a member of the set.
func (s CPUSet) GetBit(cpu int32) bool {
	return s.bits[cpu/64]&(uint64(1)<<(cpu%64)) != 0
}

// IsEmpty reports whether no CPU is a member of the set.
func (s CPUSet) IsEmpty() bool {
	for _, word := range s.bits {
		if word != 0 {
			return false
		}
	}
	return true
}

// Matches reports whether the two sets intersect.
func (s CPUSet) Matches(other CPUSet) bool {
	for i, word := range s.bits {
		if word&other.bits[i] != 0 {
			return true
		}
	}
	return false
}

// Count returns the number of CPUs in the set.
func (s CPUSet) Count() int {
	count := 0
	for _, word := range s.bits {
		count += bits.OnesCount64(word)
	}
	return count
}
