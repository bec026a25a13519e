package runqueue

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// The run-queue laws: within a band insertion order is preserved, and
// PeekMaximum never returns an element while a higher band is occupied.
func TestQueueProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("InsertionOrderWithinBand", prop.ForAll(
		func(priorities []int32) bool {
			q := newTestQueue()
			byBand := make(map[int32][]int)
			for i, priority := range priorities {
				thread := &testThread{id: i}
				q.PushBack(thread, priority)
				byBand[priority] = append(byBand[priority], i)
			}

			// Draining the queue must yield each band's elements in
			// insertion order.
			for element := q.PeekMaximum(); element != nil; element = q.PeekMaximum() {
				priority := element.link.Priority()
				expected := byBand[priority]
				if len(expected) == 0 || expected[0] != element.id {
					return false
				}
				byBand[priority] = expected[1:]
				q.Remove(element)
			}
			for _, rest := range byBand {
				if len(rest) != 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int32Range(0, 120)),
	))

	properties.Property("PriorityDominance", prop.ForAll(
		func(priorities []int32) bool {
			q := newTestQueue()
			for i, priority := range priorities {
				q.PushBack(&testThread{id: i}, priority)
			}

			last := int32(121)
			for element := q.PeekMaximum(); element != nil; element = q.PeekMaximum() {
				priority := element.link.Priority()
				if priority > last {
					return false
				}
				last = priority
				q.Remove(element)
			}
			return true
		},
		gen.SliceOf(gen.Int32Range(0, 120)),
	))

	properties.Property("HeadTailInvariant", prop.ForAll(
		func(priorities []int32, removals []int) bool {
			q := newTestQueue()
			var queued []*testThread
			for i, priority := range priorities {
				thread := &testThread{id: i}
				q.PushBack(thread, priority)
				queued = append(queued, thread)
			}
			for _, index := range removals {
				if len(queued) == 0 {
					break
				}
				index %= len(queued)
				if index < 0 {
					index += len(queued)
				}
				q.Remove(queued[index])
				queued = append(queued[:index], queued[index+1:]...)
			}

			for priority := int32(0); priority <= 120; priority++ {
				if (q.Head(priority) == nil) != (q.tails[priority] == nil) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int32Range(0, 120)),
		gen.SliceOf(gen.IntRange(0, 1<<20)),
	))

	properties.TestingRun(t)
}
