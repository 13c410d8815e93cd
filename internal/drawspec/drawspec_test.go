package drawspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpec_AppendReset(t *testing.T) {
	var s Spec
	s.Append(0, 3)
	s.Append(12, 6)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []int32{0, 12}, s.Starts)
	assert.Equal(t, []int32{3, 6}, s.Counts)

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 2, cap(s.Starts))
}

func TestFingerprint(t *testing.T) {
	var a, b Spec
	for i := int32(0); i < 200; i++ {
		a.Append(i*4, i)
		b.Append(i*4, i)
	}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Counts[150]++
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	// Moving a value between tables changes the fingerprint.
	var c, d Spec
	c.Starts, c.Counts = []int32{1, 2}, []int32{3}
	d.Starts, d.Counts = []int32{1}, []int32{2, 3}
	assert.NotEqual(t, c.Fingerprint(), d.Fingerprint())
}

func TestInstancedSpec_CopyFrom(t *testing.T) {
	var s InstancedSpec
	starts := []int32{0, 12, 0}
	s.CopyFrom(starts, []int32{3, 6, 0}, []int32{1, 4, 0})
	starts[0] = 99
	assert.Equal(t, []int32{0, 12, 0}, s.Starts)
	assert.Equal(t, 3, s.Len())

	before := s.Fingerprint()
	s.InstanceCounts[1]++
	assert.NotEqual(t, before, s.Fingerprint())
}
