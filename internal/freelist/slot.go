package freelist

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Slot is a contiguous region [Start, Start+Count) of a FreeList's index space.
// Coordinates are in the owning list's native unit; a pointer to a Slot is the
// handle returned by Alloc and accepted by Free.
type Slot struct {
	start int
	count int
	used  bool
}

func (s *Slot) Start() int { return s.start }
func (s *Slot) Count() int { return s.count }
func (s *Slot) End() int   { return s.start + s.count }
func (s *Slot) Used() bool { return s.used }

func (s *Slot) String() string {
	state := "free"
	if s.used {
		state = "used"
	}
	return fmt.Sprintf("[%d, %d) %s", s.start, s.End(), state)
}

// alloc marks the first size units of the slot used. When size is smaller
// than the slot, the slot is shrunk in place and the free remainder is
// returned as a new slot; otherwise rest is nil.
func (s *Slot) alloc(size int) (used *Slot, rest *Slot, err error) {
	switch {
	case size <= 0:
		return nil, nil, errors.Wrapf(ErrInvalidAllocSize, "slot alloc of %d", size)
	case size < s.count:
		rest = &Slot{start: s.start + size, count: s.count - size}
		s.count = size
		s.used = true
		return s, rest, nil
	case size == s.count:
		s.used = true
		return s, nil, nil
	default:
		return nil, nil, errors.Wrapf(ErrAllocationTooLarge, "could not allocate %d from slot %v", size, s)
	}
}

// release marks the slot free. Merging with neighbours is the list's job.
func (s *Slot) release() *Slot {
	s.used = false
	return s
}
