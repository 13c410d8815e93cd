package batch

import (
	"github.com/cockroachdb/errors"
	"github.com/garethgeorge/geobatch/internal/gpubuf"
	"github.com/garethgeorge/geobatch/internal/handle"
)

// Binding ties one allocation's position and index regions to the
// allocator that owns them. It becomes stale when passed to Free.
type Binding struct {
	h     handle.Handle
	alloc *GeometryAllocator
}

func (b Binding) IsZero() bool { return b.h.IsZero() }

// AttributeOffset reports the component offset of the binding's first
// vertex in the named attribute buffer.
func (b Binding) AttributeOffset(name string) (int, error) {
	rec, err := b.lookup()
	if err != nil {
		return 0, err
	}
	attr := b.alloc.byName[name]
	if attr == nil {
		return 0, errors.Wrapf(ErrUnknownAttribute, "%q", name)
	}
	return rec.position.Start() / positionComponents * attr.ItemSize(), nil
}

// VertexOffset reports the index of the binding's first vertex.
func (b Binding) VertexOffset() (int, error) {
	rec, err := b.lookup()
	if err != nil {
		return 0, err
	}
	return rec.position.Start() / positionComponents, nil
}

// IndexOffset reports the element offset of the binding's first index.
func (b Binding) IndexOffset() (int, error) {
	rec, err := b.lookup()
	if err != nil {
		return 0, err
	}
	return rec.index.Start(), nil
}

// Capacity reports the vertex and index counts reserved for the binding.
func (b Binding) Capacity() (vertices, indices int, err error) {
	rec, err := b.lookup()
	if err != nil {
		return 0, 0, err
	}
	return rec.position.Count() / positionComponents, rec.index.Count(), nil
}

func (b Binding) lookup() (*drawRecord, error) {
	if b.alloc == nil {
		return nil, errors.Wrap(ErrStaleBinding, "zero binding")
	}
	return b.alloc.lookup(b)
}

// WriteAttribute copies vals into the binding's region of the named
// attribute, starting at the binding's first vertex.
func WriteAttribute[T gpubuf.Element](b Binding, name string, vals []T) error {
	rec, err := b.lookup()
	if err != nil {
		return err
	}
	attr := b.alloc.byName[name]
	if attr == nil {
		return errors.Wrapf(ErrUnknownAttribute, "%q", name)
	}
	limit := rec.position.Count() / positionComponents * attr.ItemSize()
	if len(vals) > limit {
		return errors.Wrapf(gpubuf.ErrOutOfRange, "%d components for %q exceed the binding's %d", len(vals), name, limit)
	}
	offset := rec.position.Start() / positionComponents * attr.ItemSize()
	return gpubuf.Write(attr, offset, vals)
}

// WriteIndices copies geometry-local indices into the binding's index
// region, rebasing them onto the binding's first vertex.
func WriteIndices(b Binding, indices []uint32) error {
	rec, err := b.lookup()
	if err != nil {
		return err
	}
	if len(indices) > rec.index.Count() {
		return errors.Wrapf(gpubuf.ErrOutOfRange, "%d indices exceed the binding's %d", len(indices), rec.index.Count())
	}
	base := uint32(rec.position.Start() / positionComponents)
	dst, err := gpubuf.View[uint32](b.alloc.index)
	if err != nil {
		return err
	}
	out := dst[rec.index.Start() : rec.index.Start()+len(indices)]
	for i, v := range indices {
		out[i] = v + base
	}
	b.alloc.index.MarkDirty(rec.index.Start(), len(indices))
	return nil
}
