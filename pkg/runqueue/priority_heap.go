package runqueue

// priorityHeap tracks the set of occupied priority bands as a binary
// max-heap of per-band sentinels keyed by the band itself. Each
// sentinel carries its heap index, so removal raises the sentinel's key
// above every valid band and pops the root.
type priorityHeap struct {
	entries []prioritySentinel
	heap    []int32
}

type prioritySentinel struct {
	key   int32
	index int
}

const sentinelFree = -1

func newPriorityHeap(maxPriority int32) priorityHeap {
	entries := make([]prioritySentinel, maxPriority+1)
	for i := range entries {
		entries[i].index = sentinelFree
	}
	return priorityHeap{
		entries: entries,
		heap:    make([]int32, 0, maxPriority+1),
	}
}

func (h *priorityHeap) peekRoot() (int32, bool) {
	if len(h.heap) == 0 {
		return 0, false
	}
	return h.entries[h.heap[0]].key, true
}

func (h *priorityHeap) insert(priority int32) {
	entry := &h.entries[priority]
	if entry.index != sentinelFree {
		panic("runqueue: priority band already tracked")
	}
	entry.key = priority
	entry.index = len(h.heap)
	h.heap = append(h.heap, priority)
	h.siftUp(entry.index)
}

func (h *priorityHeap) remove(priority int32) {
	entry := &h.entries[priority]
	if entry.index == sentinelFree {
		panic("runqueue: priority band not tracked")
	}

	// Raise the sentinel above every valid band so it becomes the
	// root, then pop it.
	h.modifyKey(priority, int32(len(h.entries)))
	if h.heap[0] != priority {
		panic("runqueue: raised sentinel is not the heap root")
	}
	h.removeRoot()
}

func (h *priorityHeap) modifyKey(priority int32, key int32) {
	entry := &h.entries[priority]
	old := entry.key
	entry.key = key
	if key > old {
		h.siftUp(entry.index)
	} else {
		h.siftDown(entry.index)
	}
}

func (h *priorityHeap) removeRoot() {
	root := h.heap[0]
	h.entries[root].index = sentinelFree

	last := len(h.heap) - 1
	h.heap[0] = h.heap[last]
	h.heap = h.heap[:last]
	if last > 0 {
		h.entries[h.heap[0]].index = 0
		h.siftDown(0)
	}
}

func (h *priorityHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.key(i) <= h.key(parent) {
			break
		}
		h.swap(i, parent)
		i = parent
	}
}

func (h *priorityHeap) siftDown(i int) {
	for {
		largest := i
		if left := 2*i + 1; left < len(h.heap) && h.key(left) > h.key(largest) {
			largest = left
		}
		if right := 2*i + 2; right < len(h.heap) && h.key(right) > h.key(largest) {
			largest = right
		}
		if largest == i {
			return
		}
		h.swap(i, largest)
		i = largest
	}
}

func (h *priorityHeap) key(i int) int32 {
	return h.entries[h.heap[i]].key
}

func (h *priorityHeap) swap(i, j int) {
	h.heap[i], h.heap[j] = h.heap[j], h.heap[i]
	h.entries[h.heap[i]].index = i
	h.entries[h.heap[j]].index = j
}
