// Package drawspec holds the multi-draw submission tables handed from the
// geometry allocators to a renderer.
package drawspec

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// IndexElementSize is the size in bytes of one element of the shared index
// buffers; draw starts are byte offsets in units of it.
const IndexElementSize = 4

// Spec is a non-instanced multi-draw: one (byte offset, index count) pair per
// draw call.
type Spec struct {
	Starts []int32
	Counts []int32
}

func (s *Spec) Reset() {
	s.Starts = s.Starts[:0]
	s.Counts = s.Counts[:0]
}

func (s *Spec) Len() int { return len(s.Starts) }

func (s *Spec) Append(start, count int32) {
	s.Starts = append(s.Starts, start)
	s.Counts = append(s.Counts, count)
}

// Fingerprint hashes the draw table so a renderer can skip rebuilding
// an indirect buffer that has not changed since the last frame.
func (s *Spec) Fingerprint() uint64 {
	return fingerprint(s.Starts, s.Counts)
}

// InstancedSpec is an instanced multi-draw: one (byte offset, index count,
// instance count) triple per draw call slot.
type InstancedSpec struct {
	Starts         []int32
	Counts         []int32
	InstanceCounts []int32
}

func (s *InstancedSpec) Reset() {
	s.Starts = s.Starts[:0]
	s.Counts = s.Counts[:0]
	s.InstanceCounts = s.InstanceCounts[:0]
}

func (s *InstancedSpec) Len() int { return len(s.Starts) }

// CopyFrom replaces the tables with copies of the given ones.
func (s *InstancedSpec) CopyFrom(starts, counts, instanceCounts []int32) {
	s.Starts = append(s.Starts[:0], starts...)
	s.Counts = append(s.Counts[:0], counts...)
	s.InstanceCounts = append(s.InstanceCounts[:0], instanceCounts...)
}

func (s *InstancedSpec) Fingerprint() uint64 {
	return fingerprint(s.Starts, s.Counts, s.InstanceCounts)
}

func fingerprint(tables ...[]int32) uint64 {
	h := xxhash.New()
	var buf [256]byte
	for _, table := range tables {
		b := binary.LittleEndian.AppendUint32(buf[:0], uint32(len(table)))
		for _, v := range table {
			if len(b)+4 > len(buf) {
				_, _ = h.Write(b)
				b = buf[:0]
			}
			b = binary.LittleEndian.AppendUint32(b, uint32(v))
		}
		_, _ = h.Write(b)
	}
	return h.Sum64()
}
