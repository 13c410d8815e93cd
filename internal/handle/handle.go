// Package handle provides generation-checked handles into a slot table.
// A handle stays valid until its entry is removed; afterwards lookups with
// the old handle fail even if the slot index has been reused.
package handle

import "iter"

// Handle encodes a 32-bit index in the lower bits and a 32-bit generation in
// the upper bits. The zero Handle is never issued.
type Handle uint64

func newHandle(index uint32, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() uint32      { return uint32(h) }
func (h Handle) Generation() uint32 { return uint32(h >> 32) }
func (h Handle) IsZero() bool       { return h == 0 }

type entry[T any] struct {
	generation uint32
	live       bool
	value      T
}

// Table stores values addressed by Handle. It is not thread-safe.
type Table[T any] struct {
	entries  []entry[T]
	freeList []uint32
	live     int
}

func NewTable[T any](capacityHint int) *Table[T] {
	return &Table[T]{
		entries: make([]entry[T], 0, capacityHint),
	}
}

func (t *Table[T]) Insert(value T) Handle {
	var idx uint32
	if n := len(t.freeList); n > 0 {
		idx = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
	} else {
		idx = uint32(len(t.entries))
		// generation 0 is reserved so the zero Handle never resolves
		t.entries = append(t.entries, entry[T]{generation: 1})
	}
	e := &t.entries[idx]
	e.live = true
	e.value = value
	t.live++
	return newHandle(idx, e.generation)
}

// Get returns a pointer to the value for h. The pointer is invalidated by the
// next Insert.
func (t *Table[T]) Get(h Handle) (*T, bool) {
	idx := h.Index()
	if int(idx) >= len(t.entries) {
		return nil, false
	}
	e := &t.entries[idx]
	if !e.live || e.generation != h.Generation() {
		return nil, false
	}
	return &e.value, true
}

func (t *Table[T]) Remove(h Handle) (T, bool) {
	var zero T
	if _, ok := t.Get(h); !ok {
		return zero, false
	}
	e := &t.entries[h.Index()]
	value := e.value
	e.value = zero
	e.live = false
	e.generation++
	if e.generation == 0 {
		e.generation = 1
	}
	t.freeList = append(t.freeList, h.Index())
	t.live--
	return value, true
}

func (t *Table[T]) Len() int { return t.live }

// All yields live handles in index order.
func (t *Table[T]) All() iter.Seq2[Handle, *T] {
	return func(yield func(Handle, *T) bool) {
		for i := range t.entries {
			e := &t.entries[i]
			if !e.live {
				continue
			}
			if !yield(newHandle(uint32(i), e.generation), &e.value) {
				return
			}
		}
	}
}
