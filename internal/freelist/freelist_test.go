package freelist

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slotView struct {
	Start int
	Count int
	Used  bool
}

func layout(l *FreeList) []slotView {
	var out []slotView
	for s := range l.All() {
		out = append(out, slotView{Start: s.Start(), Count: s.Count(), Used: s.Used()})
	}
	return out
}

func TestFreeList_New(t *testing.T) {
	l := New(100)
	assert.Equal(t, 100, l.Capacity())
	assert.Equal(t, 100, l.Available())
	assert.Equal(t, []slotView{{Start: 0, Count: 100}}, layout(l))
	require.NoError(t, l.Validate())

	empty := New(0)
	assert.Equal(t, 0, empty.Len())
	_, err := empty.Alloc(1)
	require.ErrorIs(t, err, ErrOutOfMemory)

	assert.Panics(t, func() { New(-1) })
}

func TestFreeList_AllocFreeCoalesce(t *testing.T) {
	l := New(100)

	a, err := l.Alloc(10)
	require.NoError(t, err)
	b, err := l.Alloc(20)
	require.NoError(t, err)
	c, err := l.Alloc(30)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Start())
	assert.Equal(t, 10, b.Start())
	assert.Equal(t, 30, c.Start())

	require.NoError(t, l.Free(b))
	want := []slotView{
		{Start: 0, Count: 10, Used: true},
		{Start: 10, Count: 20},
		{Start: 30, Count: 30, Used: true},
		{Start: 60, Count: 40},
	}
	if diff := cmp.Diff(want, layout(l)); diff != "" {
		t.Fatalf("layout after freeing middle slot (-want +got):\n%s", diff)
	}

	require.NoError(t, l.Free(c))
	want = []slotView{
		{Start: 0, Count: 10, Used: true},
		{Start: 10, Count: 90},
	}
	if diff := cmp.Diff(want, layout(l)); diff != "" {
		t.Fatalf("layout after three-way merge (-want +got):\n%s", diff)
	}
	assert.Equal(t, 90, l.Available())
	require.NoError(t, l.Validate())
}

func TestFreeList_FirstFit(t *testing.T) {
	l := New(100)
	a, _ := l.Alloc(10)
	b, _ := l.Alloc(10)
	_, _ = l.Alloc(10)
	require.NoError(t, l.Free(b))
	_ = a

	// [10, 20) is too small for 20, so the allocation lands after the last used slot.
	s, err := l.Alloc(20)
	require.NoError(t, err)
	assert.Equal(t, 30, s.Start())

	// A 5 unit allocation fits the first hole and splits it.
	s, err = l.Alloc(5)
	require.NoError(t, err)
	assert.Equal(t, 10, s.Start())
	assert.Equal(t, []slotView{
		{Start: 0, Count: 10, Used: true},
		{Start: 10, Count: 5, Used: true},
		{Start: 15, Count: 5},
		{Start: 20, Count: 10, Used: true},
		{Start: 30, Count: 20, Used: true},
		{Start: 50, Count: 50},
	}, layout(l))
}

func TestFreeList_InvalidAllocSize(t *testing.T) {
	l := New(10)
	for _, size := range []int{0, -1, -100} {
		_, err := l.Alloc(size)
		require.ErrorIs(t, err, ErrInvalidAllocSize)
	}
	assert.Equal(t, 10, l.Available())
}

func TestFreeList_OutOfMemoryBoundary(t *testing.T) {
	l := New(64)
	_, err := l.Alloc(65)
	require.ErrorIs(t, err, ErrOutOfMemory)
	require.NoError(t, l.Validate())

	s, err := l.Alloc(64)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Available())
	assert.Equal(t, 1, l.Len())

	_, err = l.Alloc(1)
	require.ErrorIs(t, err, ErrOutOfMemory)

	require.NoError(t, l.Free(s))
	assert.Equal(t, 64, l.Available())
}

func TestFreeList_InvalidFree(t *testing.T) {
	t.Run("double free", func(t *testing.T) {
		l := New(100)
		a, _ := l.Alloc(10)
		_, _ = l.Alloc(10)
		require.NoError(t, l.Free(a))
		// a survived as a free member of the list.
		require.ErrorIs(t, l.Free(a), ErrInvalidFree)
		require.NoError(t, l.Validate())
	})

	t.Run("absorbed by merge", func(t *testing.T) {
		l := New(100)
		a, _ := l.Alloc(10)
		b, _ := l.Alloc(10)
		require.NoError(t, l.Free(a))
		require.NoError(t, l.Free(b))
		require.ErrorIs(t, l.Free(b), ErrInvalidFree)
		assert.Equal(t, []slotView{{Start: 0, Count: 100}}, layout(l))
	})

	t.Run("foreign handle", func(t *testing.T) {
		l1 := New(100)
		l2 := New(100)
		s, _ := l1.Alloc(10)
		_, _ = l2.Alloc(10)
		require.ErrorIs(t, l2.Free(s), ErrInvalidFree)
		assert.Equal(t, 90, l2.Available())
	})

	t.Run("nil", func(t *testing.T) {
		require.ErrorIs(t, New(1).Free(nil), ErrInvalidFree)
	})
}

func TestFreeList_RoundTrip(t *testing.T) {
	l := New(1000)
	var live []*Slot
	for _, size := range []int{100, 50, 300, 25} {
		s, err := l.Alloc(size)
		require.NoError(t, err)
		live = append(live, s)
	}
	require.NoError(t, l.Free(live[1]))
	before := layout(l)

	for _, size := range []int{1, 50, 200, l.LargestFree()} {
		s, err := l.Alloc(size)
		require.NoError(t, err)
		require.NoError(t, l.Free(s))
		assert.Equal(t, before, layout(l), "size %d", size)
	}
}

func TestSlot_Alloc(t *testing.T) {
	s := &Slot{start: 4, count: 10}

	used, rest, err := s.alloc(3)
	require.NoError(t, err)
	assert.Same(t, s, used)
	assert.Equal(t, "[4, 7) used", used.String())
	require.NotNil(t, rest)
	assert.Equal(t, "[7, 14) free", rest.String())

	used, rest, err = rest.alloc(7)
	require.NoError(t, err)
	assert.Nil(t, rest)
	assert.True(t, used.Used())

	_, _, err = (&Slot{count: 2}).alloc(3)
	require.ErrorIs(t, err, ErrAllocationTooLarge)
	_, _, err = (&Slot{count: 2}).alloc(0)
	require.ErrorIs(t, err, ErrInvalidAllocSize)

	assert.False(t, used.release().Used())
}

func TestFreeList_Stats(t *testing.T) {
	l := New(100)
	a, _ := l.Alloc(10)
	_, _ = l.Alloc(30)
	require.NoError(t, l.Free(a))

	assert.Equal(t, Stats{
		Capacity:    100,
		Available:   70,
		UsedSlots:   1,
		FreeSlots:   2,
		LargestFree: 60,
	}, l.Stats())
}

func TestFreeList_PrintDetailedMap(t *testing.T) {
	l := New(16)
	_, _ = l.Alloc(4)

	w := jwriter.NewWriter()
	l.PrintDetailedMap(&w)
	require.NoError(t, w.Error())

	var got struct {
		Capacity  int
		Available int
		UsedSlots int
		Slots     []slotView
	}
	require.NoError(t, json.Unmarshal(w.Bytes(), &got))
	assert.Equal(t, 16, got.Capacity)
	assert.Equal(t, 12, got.Available)
	assert.Equal(t, 1, got.UsedSlots)
	assert.Equal(t, []slotView{{Start: 0, Count: 4, Used: true}, {Start: 4, Count: 12}}, got.Slots)
}

// --- Fuzz Test ---

type simpleFreeListModel struct {
	allocated []bool
}

func (m *simpleFreeListModel) set(s *Slot, v bool) {
	for i := s.Start(); i < s.End(); i++ {
		m.allocated[i] = v
	}
}

func (m *simpleFreeListModel) hasRun(size int) bool {
	run := 0
	for _, a := range m.allocated {
		if a {
			run = 0
			continue
		}
		run++
		if run >= size {
			return true
		}
	}
	return false
}

func (m *simpleFreeListModel) check(t *testing.T, l *FreeList) {
	t.Helper()
	require.NoError(t, l.Validate())
	for s := range l.All() {
		for i := s.Start(); i < s.End(); i++ {
			require.Equal(t, m.allocated[i], s.Used(), "unit %d in slot %v", i, s)
		}
	}
}

func FuzzFreeList(f *testing.F) {
	f.Add(100, 200, int64(1))
	f.Add(3072, 500, time.Now().UnixNano())

	f.Fuzz(func(t *testing.T, capacity int, numOps int, seed int64) {
		if capacity < 10 || capacity > 100000 {
			t.Skip()
		}
		if numOps > 1000 {
			numOps = 1000
		}

		rng := rand.New(rand.NewSource(seed))
		l := New(capacity)
		model := &simpleFreeListModel{allocated: make([]bool, capacity)}
		var live []*Slot

		for i := 0; i < numOps; i++ {
			switch rng.Intn(2) {
			case 0:
				size := rng.Intn(capacity/5) + 1
				s, err := l.Alloc(size)
				if err == nil {
					for j := s.Start(); j < s.End(); j++ {
						require.False(t, model.allocated[j], "allocated an already allocated unit")
					}
					model.set(s, true)
					live = append(live, s)
				} else {
					require.ErrorIs(t, err, ErrOutOfMemory)
					assert.False(t, model.hasRun(size), "Alloc failed but a run of %d exists", size)
				}
			case 1:
				if len(live) == 0 {
					continue
				}
				idx := rng.Intn(len(live))
				s := live[idx]
				require.NoError(t, l.Free(s))
				model.set(s, false)
				live = append(live[:idx], live[idx+1:]...)
				require.ErrorIs(t, l.Free(s), ErrInvalidFree)
			}
			model.check(t, l)
		}
	})
}

func BenchmarkAlloc(b *testing.B) {
	l := New(16 * b.N)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := l.Alloc(16); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAllocFree(b *testing.B) {
	l := New(1 << 16)
	for i := 0; i < 64; i++ {
		if _, err := l.Alloc(512); err != nil {
			b.Fatal(err)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s, err := l.Alloc(300)
		if err != nil {
			b.Fatal(err)
		}
		if err := l.Free(s); err != nil {
			b.Fatal(err)
		}
	}
}
