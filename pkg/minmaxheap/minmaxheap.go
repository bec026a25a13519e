// Package minmaxheap provides an ordered collection with O(1) access to
// both its minimum and maximum element and O(log n) key modification.
//
// It is an array-backed min-max heap: even levels obey the min-heap
// property, odd levels the max-heap property. Elements embed a Link so
// the heap can locate them for Remove and ModifyKey without searching.
package minmaxheap

import (
	"cmp"
	"math/bits"
)

// Link holds the bookkeeping the heap keeps inside each element. Embed
// one Link per heap the element can be a member of.
type Link[K cmp.Ordered] struct {
	key   K
	index int
}

// Key returns the key the element was last inserted or modified with.
func (l *Link[K]) Key() K {
	return l.key
}

func (l *Link[K]) init(key K, index int) {
	l.key = key
	l.index = index
}

// Heap is a min-max heap of *E keyed by K. The zero value is not
// usable; create instances with New.
type Heap[E any, K cmp.Ordered] struct {
	items   []*E
	getLink func(*E) *Link[K]
}

// New creates an empty heap. getLink must return the Link embedded in
// the element that this heap owns.
func New[E any, K cmp.Ordered](getLink func(*E) *Link[K]) *Heap[E, K] {
	return &Heap[E, K]{
		getLink: getLink,
	}
}

// Len returns the number of elements in the heap.
func (h *Heap[E, K]) Len() int {
	return len(h.items)
}

// Key returns the key of an element currently in the heap.
func (h *Heap[E, K]) Key(element *E) K {
	return h.getLink(element).key
}

// Insert adds an element with the given key. The element must not
// already be in the heap.
func (h *Heap[E, K]) Insert(element *E, key K) {
	link := h.getLink(element)
	link.init(key, len(h.items))
	h.items = append(h.items, element)
	h.pushUp(len(h.items) - 1)
}

// PeekMinimum returns the element with the smallest key, or nil if the
// heap is empty.
func (h *Heap[E, K]) PeekMinimum() *E {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// PeekMaximum returns the element with the largest key, or nil if the
// heap is empty.
func (h *Heap[E, K]) PeekMaximum() *E {
	i := h.maxIndex()
	if i < 0 {
		return nil
	}
	return h.items[i]
}

// PeekMinimumMatching returns the element with the smallest key among
// those for which match returns true, or nil if there is none. It scans
// the whole heap; use it only for filtered lookups such as CPU masks.
func (h *Heap[E, K]) PeekMinimumMatching(match func(*E) bool) *E {
	var best *E
	for _, element := range h.items {
		if !match(element) {
			continue
		}
		if best == nil || h.Key(element) < h.Key(best) {
			best = element
		}
	}
	return best
}

// PeekMaximumMatching returns the element with the largest key among
// those for which match returns true, or nil if there is none.
func (h *Heap[E, K]) PeekMaximumMatching(match func(*E) bool) *E {
	var best *E
	for _, element := range h.items {
		if !match(element) {
			continue
		}
		if best == nil || h.Key(element) > h.Key(best) {
			best = element
		}
	}
	return best
}

// RemoveMinimum removes and returns the element with the smallest key,
// or nil if the heap is empty.
func (h *Heap[E, K]) RemoveMinimum() *E {
	element := h.PeekMinimum()
	if element != nil {
		h.Remove(element)
	}
	return element
}

// RemoveMaximum removes and returns the element with the largest key,
// or nil if the heap is empty.
func (h *Heap[E, K]) RemoveMaximum() *E {
	element := h.PeekMaximum()
	if element != nil {
		h.Remove(element)
	}
	return element
}

// Remove unlinks an element that is currently in the heap.
func (h *Heap[E, K]) Remove(element *E) {
	link := h.getLink(element)
	i := link.index
	if i < 0 || i >= len(h.items) || h.items[i] != element {
		panic("minmaxheap: removing element that is not in the heap")
	}

	last := len(h.items) - 1
	moved := h.items[last]
	h.items[last] = nil
	h.items = h.items[:last]
	link.index = -1

	if i == last {
		return
	}

	h.items[i] = moved
	h.getLink(moved).index = i
	h.pushUp(i)
	h.pushDown(h.getLink(moved).index)
}

// ModifyKey changes the key of an element that is currently in the
// heap, restoring heap order.
func (h *Heap[E, K]) ModifyKey(element *E, key K) {
	h.Remove(element)
	h.Insert(element, key)
}

func (h *Heap[E, K]) maxIndex() int {
	switch len(h.items) {
	case 0:
		return -1
	case 1:
		return 0
	case 2:
		return 1
	}
	if h.key(1) >= h.key(2) {
		return 1
	}
	return 2
}

func (h *Heap[E, K]) key(i int) K {
	return h.getLink(h.items[i]).key
}

func (h *Heap[E, K]) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.getLink(h.items[i]).index = i
	h.getLink(h.items[j]).index = j
}

func onMinLevel(i int) bool {
	return (bits.Len(uint(i+1))-1)%2 == 0
}

func parent(i int) int {
	return (i - 1) / 2
}

func (h *Heap[E, K]) pushUp(i int) {
	if i == 0 {
		return
	}
	p := parent(i)
	if onMinLevel(i) {
		if h.key(i) > h.key(p) {
			h.swap(i, p)
			h.pushUpMax(p)
		} else {
			h.pushUpMin(i)
		}
	} else {
		if h.key(i) < h.key(p) {
			h.swap(i, p)
			h.pushUpMin(p)
		} else {
			h.pushUpMax(i)
		}
	}
}

func (h *Heap[E, K]) pushUpMin(i int) {
	for i > 2 {
		gp := parent(parent(i))
		if h.key(i) >= h.key(gp) {
			break
		}
		h.swap(i, gp)
		i = gp
	}
}

func (h *Heap[E, K]) pushUpMax(i int) {
	for i > 2 {
		gp := parent(parent(i))
		if h.key(i) <= h.key(gp) {
			break
		}
		h.swap(i, gp)
		i = gp
	}
}

func (h *Heap[E, K]) pushDown(i int) {
	if onMinLevel(i) {
		h.pushDownMin(i)
	} else {
		h.pushDownMax(i)
	}
}

// descendants returns the index of the smallest (or largest, when max
// is true) element among the children and grandchildren of i, or -1 if
// i has no children.
func (h *Heap[E, K]) descendants(i int, max bool) int {
	n := len(h.items)
	first := 2*i + 1
	if first >= n {
		return -1
	}
	best := first
	candidates := [5]int{2*i + 2, 4*i + 3, 4*i + 4, 4*i + 5, 4*i + 6}
	for _, c := range candidates {
		if c >= n {
			break
		}
		if max {
			if h.key(c) > h.key(best) {
				best = c
			}
		} else {
			if h.key(c) < h.key(best) {
				best = c
			}
		}
	}
	return best
}

func (h *Heap[E, K]) pushDownMin(i int) {
	for {
		m := h.descendants(i, false)
		if m < 0 {
			return
		}
		if m > 2*i+2 {
			// m is a grandchild
			if h.key(m) >= h.key(i) {
				return
			}
			h.swap(m, i)
			if h.key(m) > h.key(parent(m)) {
				h.swap(m, parent(m))
			}
			i = m
			continue
		}
		if h.key(m) < h.key(i) {
			h.swap(m, i)
		}
		return
	}
}

func (h *Heap[E, K]) pushDownMax(i int) {
	for {
		m := h.descendants(i, true)
		if m < 0 {
			return
		}
		if m > 2*i+2 {
			if h.key(m) <= h.key(i) {
				return
			}
			h.swap(m, i)
			if h.key(m) < h.key(parent(m)) {
				h.swap(m, parent(m))
			}
			i = m
			continue
		}
		if h.key(m) > h.key(i) {
			h.swap(m, i)
		}
		return
	}
}
