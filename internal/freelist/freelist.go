package freelist

import (
	"context"
	"iter"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// FreeList partitions the fixed index space [0, Capacity) into an ordered,
// gap-free sequence of slots. Allocation is first-fit; freed slots are merged
// with free neighbours immediately so no two adjacent slots are ever both free.
// It is not thread-safe.
type FreeList struct {
	capacity  int
	available int
	numUsed   int

	// slots is ordered by start address and exactly covers [0, capacity).
	slots *btree.BTreeG[*Slot]
}

type Stats struct {
	Capacity    int
	Available   int
	UsedSlots   int
	FreeSlots   int
	LargestFree int
}

func New(capacity int) *FreeList {
	if capacity < 0 {
		panic("freelist capacity must be >= 0")
	}
	l := &FreeList{
		capacity:  capacity,
		available: capacity,
		slots:     btree.NewG[*Slot](32, func(a, b *Slot) bool { return a.start < b.start }),
	}
	if capacity > 0 {
		l.slots.ReplaceOrInsert(&Slot{start: 0, count: capacity})
	}
	return l
}

func (l *FreeList) Capacity() int  { return l.capacity }
func (l *FreeList) Available() int { return l.available }

// Len reports the number of slots, used and free.
func (l *FreeList) Len() int { return l.slots.Len() }

// Alloc reserves size units from the first free slot large enough to hold
// them. The returned slot is the handle to pass to Free.
func (l *FreeList) Alloc(size int) (*Slot, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidAllocSize, "alloc of %d", size)
	}

	var hit *Slot
	l.slots.Ascend(func(s *Slot) bool {
		if !s.used && s.count >= size {
			hit = s
			return false
		}
		return true
	})
	if hit == nil {
		return nil, errors.Wrapf(ErrOutOfMemory, "no free slot for %d (%d of %d available)", size, l.available, l.capacity)
	}

	used, rest, err := hit.alloc(size)
	if err != nil {
		return nil, errors.Wrap(err, "internal freelist error")
	}
	if rest != nil {
		l.slots.ReplaceOrInsert(rest)
	}
	l.available -= size
	l.numUsed++
	return used, nil
}

// Free releases a slot previously returned by Alloc and merges it with any
// free neighbours. Freeing a slot that is not currently allocated from this
// list (double free, foreign handle, or a handle absorbed by a merge) fails
// with ErrInvalidFree and leaves the list unchanged.
func (l *FreeList) Free(s *Slot) error {
	if s == nil {
		return errors.Wrap(ErrInvalidFree, "nil slot")
	}
	member, ok := l.slots.Get(s)
	if !ok || member != s || !s.used {
		return errors.Wrapf(ErrInvalidFree, "slot %v is not allocated from this list", s)
	}

	s.release()
	l.available += s.count
	l.numUsed--
	l.coalesce(s)
	return nil
}

// coalesce merges a newly freed slot with its free neighbours. The earlier
// slot of a merged pair survives.
func (l *FreeList) coalesce(s *Slot) {
	if next, ok := l.slots.Get(&Slot{start: s.End()}); ok && !next.used {
		s.count += next.count
		l.slots.Delete(next)
	}

	var prev *Slot
	if s.start > 0 {
		l.slots.DescendLessOrEqual(&Slot{start: s.start - 1}, func(p *Slot) bool {
			prev = p
			return false
		})
	}
	if prev != nil && !prev.used {
		prev.count += s.count
		l.slots.Delete(s)
	}
}

// All yields every slot in address order. Slots must not be retained past
// the next Alloc or Free other than as handles returned by Alloc.
func (l *FreeList) All() iter.Seq[*Slot] {
	return func(yield func(*Slot) bool) {
		l.slots.Ascend(func(s *Slot) bool {
			return yield(s)
		})
	}
}

// LargestFree reports the size of the largest free slot.
func (l *FreeList) LargestFree() int {
	largest := 0
	for s := range l.All() {
		if !s.used && s.count > largest {
			largest = s.count
		}
	}
	return largest
}

func (l *FreeList) Stats() Stats {
	stats := Stats{
		Capacity:  l.capacity,
		Available: l.available,
		UsedSlots: l.numUsed,
		FreeSlots: l.slots.Len() - l.numUsed,
	}
	stats.LargestFree = l.LargestFree()
	return stats
}

// Validate checks the partition and coalescing invariants.
func (l *FreeList) Validate() error {
	var (
		end       int
		available int
		numUsed   int
		prevFree  bool
		err       error
	)
	l.slots.Ascend(func(s *Slot) bool {
		switch {
		case s.start != end:
			err = errors.Newf("slot %v does not start at previous end %d", s, end)
		case s.count <= 0:
			err = errors.Newf("slot %v is empty", s)
		case prevFree && !s.used:
			err = errors.Newf("slot %v is free and follows a free slot", s)
		}
		if err != nil {
			return false
		}
		if s.used {
			numUsed++
		} else {
			available += s.count
		}
		prevFree = !s.used
		end = s.End()
		return true
	})
	if err != nil {
		return err
	}
	if end != l.capacity {
		return errors.Newf("slots cover [0, %d), expected [0, %d)", end, l.capacity)
	}
	if available != l.available {
		return errors.Newf("counted %d free units, list reports %d", available, l.available)
	}
	if numUsed != l.numUsed {
		return errors.Newf("counted %d used slots, list reports %d", numUsed, l.numUsed)
	}
	return nil
}

func (l *FreeList) PrintDetailedMap(json *jwriter.Writer) {
	obj := json.Object()
	obj.Name("Capacity").Int(l.capacity)
	obj.Name("Available").Int(l.available)
	obj.Name("UsedSlots").Int(l.numUsed)
	arr := obj.Name("Slots").Array()
	for s := range l.All() {
		slotObj := arr.Object()
		slotObj.Name("Start").Int(s.start)
		slotObj.Name("Count").Int(s.count)
		slotObj.Name("Used").Bool(s.used)
		slotObj.End()
	}
	arr.End()
	obj.End()
}

// LogAllocations writes one debug record per used slot.
func (l *FreeList) LogAllocations(log *slog.Logger, msg string) {
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for s := range l.All() {
		if s.used {
			log.Debug(msg, "start", s.start, "count", s.count)
		}
	}
}
