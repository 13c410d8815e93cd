package instanced

import (
	"github.com/cockroachdb/errors"
	"github.com/garethgeorge/geobatch/internal/gpubuf"
	"github.com/garethgeorge/geobatch/internal/handle"
)

// DrawCallBinding identifies one live draw call slot. It owns no buffer
// memory; every query is answered by the allocator.
type DrawCallBinding struct {
	geometryIndex int
	h             handle.Handle
	alloc         *Allocator
}

func (b DrawCallBinding) IsZero() bool       { return b.h.IsZero() }
func (b DrawCallBinding) GeometryIndex() int { return b.geometryIndex }

func (b DrawCallBinding) lookup() (*drawCall, error) {
	if b.alloc == nil {
		return nil, errors.Wrap(ErrStaleBinding, "zero binding")
	}
	return b.alloc.lookup(b)
}

// Slot reports the binding's stable address in the draw tables.
func (b DrawCallBinding) Slot() (int, error) {
	call, err := b.lookup()
	if err != nil {
		return 0, err
	}
	return call.slot.Start(), nil
}

func (b DrawCallBinding) Texture(name string) (*Texture, error) {
	if b.alloc == nil {
		return nil, errors.Wrap(ErrStaleBinding, "zero binding")
	}
	return b.alloc.Texture(name)
}

// TextureOffset reports the component offset of the binding's first
// instance in the named texture.
func (b DrawCallBinding) TextureOffset(name string) (int, error) {
	call, err := b.lookup()
	if err != nil {
		return 0, err
	}
	tex, err := b.alloc.Texture(name)
	if err != nil {
		return 0, err
	}
	return call.slot.Start() * b.alloc.cfg.MaxInstancesPerDrawCall * tex.itemSize, nil
}

func (b DrawCallBinding) InstanceCount() (int, error) {
	if b.alloc == nil {
		return 0, errors.Wrap(ErrStaleBinding, "zero binding")
	}
	return b.alloc.InstanceCount(b)
}

func (b DrawCallBinding) SetInstanceCount(n int) error {
	if b.alloc == nil {
		return errors.Wrap(ErrStaleBinding, "zero binding")
	}
	return b.alloc.SetInstanceCount(b, n)
}

func (b DrawCallBinding) IncrementInstanceCount() error {
	if b.alloc == nil {
		return errors.Wrap(ErrStaleBinding, "zero binding")
	}
	return b.alloc.IncrementInstanceCount(b)
}

func (b DrawCallBinding) DecrementInstanceCount() error {
	if b.alloc == nil {
		return errors.Wrap(ErrStaleBinding, "zero binding")
	}
	return b.alloc.DecrementInstanceCount(b)
}

// MarkTextureDirty flags the binding's whole instance range of the named
// texture for upload.
func (b DrawCallBinding) MarkTextureDirty(name string) error {
	offset, err := b.TextureOffset(name)
	if err != nil {
		return err
	}
	tex := b.alloc.byName[name]
	tex.data.MarkDirty(offset, b.alloc.cfg.MaxInstancesPerDrawCall*tex.itemSize)
	return nil
}

// WriteInstance copies one instance's components into the named texture at
// instance i of the binding's range and marks them dirty. Components of
// items wider than four channels run across consecutive texels.
func WriteInstance[T gpubuf.Element](b DrawCallBinding, name string, i int, vals []T) error {
	offset, err := b.TextureOffset(name)
	if err != nil {
		return err
	}
	tex := b.alloc.byName[name]
	if i < 0 || i >= b.alloc.cfg.MaxInstancesPerDrawCall {
		return errors.Wrapf(gpubuf.ErrOutOfRange, "instance %d of %d", i, b.alloc.cfg.MaxInstancesPerDrawCall)
	}
	if len(vals) > tex.itemSize {
		return errors.Wrapf(gpubuf.ErrOutOfRange, "%d components for %q exceed item size %d", len(vals), name, tex.itemSize)
	}
	return gpubuf.Write(tex.data, offset+i*tex.itemSize, vals)
}
