package gpubuf

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Attribute is a fixed-size, GPU-backed array of components grouped into
// items of ItemSize components. Writes through Write mark the written range
// dirty; the renderer uploads dirty attributes and calls MarkUploaded.
type Attribute struct {
	name     string
	typ      ElementType
	itemSize int
	length   int
	data     any // []T for the Go type matching typ

	dirty      bool
	dirtyStart int
	dirtyEnd   int
}

// NewAttribute allocates zeroed storage for count items.
func NewAttribute(name string, typ ElementType, itemSize int, count int) (*Attribute, error) {
	if itemSize <= 0 {
		return nil, errors.Newf("attribute %q: item size must be > 0, got %d", name, itemSize)
	}
	if count < 0 {
		return nil, errors.Newf("attribute %q: count must be >= 0, got %d", name, count)
	}
	n := itemSize * count
	var data any
	switch typ {
	case Float32:
		data = make([]float32, n)
	case Float64:
		data = make([]float64, n)
	case Uint32:
		data = make([]uint32, n)
	case Int32:
		data = make([]int32, n)
	case Uint16:
		data = make([]uint16, n)
	case Int16:
		data = make([]int16, n)
	case Uint8:
		data = make([]uint8, n)
	case Int8:
		data = make([]int8, n)
	default:
		return nil, errors.Wrapf(ErrUnsupportedAttributeType, "attribute %q has type %v", name, typ)
	}
	return &Attribute{
		name:     name,
		typ:      typ,
		itemSize: itemSize,
		length:   n,
		data:     data,
	}, nil
}

// FromSlice wraps vals without copying. The attribute starts dirty.
func FromSlice[T Element](name string, itemSize int, vals []T) *Attribute {
	if itemSize <= 0 {
		panic("item size must be > 0")
	}
	a := &Attribute{
		name:     name,
		typ:      elementTypeOf[T](),
		itemSize: itemSize,
		length:   len(vals),
		data:     vals,
	}
	a.MarkDirty(0, len(vals))
	return a
}

func (a *Attribute) Name() string      { return a.name }
func (a *Attribute) Type() ElementType { return a.typ }
func (a *Attribute) ItemSize() int     { return a.itemSize }

// Len reports the number of components.
func (a *Attribute) Len() int { return a.length }

// Count reports the number of whole items.
func (a *Attribute) Count() int { return a.length / a.itemSize }

// ByteLen reports the size of the backing storage in bytes.
func (a *Attribute) ByteLen() int { return a.length * a.typ.Size() }

// Bytes returns the backing storage as raw bytes for upload. The slice
// aliases the attribute's storage.
func (a *Attribute) Bytes() []byte {
	switch d := a.data.(type) {
	case []float32:
		return asBytes(d)
	case []float64:
		return asBytes(d)
	case []uint32:
		return asBytes(d)
	case []int32:
		return asBytes(d)
	case []uint16:
		return asBytes(d)
	case []int16:
		return asBytes(d)
	case []uint8:
		return d
	case []int8:
		return asBytes(d)
	}
	return nil
}

func asBytes[T Element](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

func (a *Attribute) NeedsUpload() bool { return a.dirty }

// DirtyRange reports the dirty component range [start, end). It is empty
// when the attribute does not need an upload.
func (a *Attribute) DirtyRange() (start, end int) {
	if !a.dirty {
		return 0, 0
	}
	return a.dirtyStart, a.dirtyEnd
}

// MarkDirty flags count components starting at start for upload. The range
// is clamped to the attribute.
func (a *Attribute) MarkDirty(start, count int) {
	end := min(start+count, a.length)
	start = max(start, 0)
	if end <= start {
		return
	}
	if !a.dirty {
		a.dirty = true
		a.dirtyStart, a.dirtyEnd = start, end
		return
	}
	a.dirtyStart = min(a.dirtyStart, start)
	a.dirtyEnd = max(a.dirtyEnd, end)
}

// MarkUploaded clears the dirty flag.
func (a *Attribute) MarkUploaded() {
	a.dirty = false
	a.dirtyStart, a.dirtyEnd = 0, 0
}

// View returns the typed backing storage. Writes through the view are not
// tracked; call MarkDirty afterwards.
func View[T Element](a *Attribute) ([]T, error) {
	d, ok := a.data.([]T)
	if !ok {
		return nil, errors.Wrapf(ErrTypeMismatch, "attribute %q is %v, not %v", a.name, a.typ, elementTypeOf[T]())
	}
	return d, nil
}

// Write copies vals into the attribute at component offset and marks the
// range dirty.
func Write[T Element](a *Attribute, offset int, vals []T) error {
	d, err := View[T](a)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(vals) > len(d) {
		return errors.Wrapf(ErrOutOfRange, "attribute %q: write [%d, %d) exceeds length %d", a.name, offset, offset+len(vals), len(d))
	}
	copy(d[offset:], vals)
	a.MarkDirty(offset, len(vals))
	return nil
}

// copyFrom copies all of src into a at component offset. Both attributes
// must have the same element type.
func (a *Attribute) copyFrom(offset int, src *Attribute) {
	switch d := a.data.(type) {
	case []float32:
		copy(d[offset:], src.data.([]float32))
	case []float64:
		copy(d[offset:], src.data.([]float64))
	case []uint32:
		copy(d[offset:], src.data.([]uint32))
	case []int32:
		copy(d[offset:], src.data.([]int32))
	case []uint16:
		copy(d[offset:], src.data.([]uint16))
	case []int16:
		copy(d[offset:], src.data.([]int16))
	case []uint8:
		copy(d[offset:], src.data.([]uint8))
	case []int8:
		copy(d[offset:], src.data.([]int8))
	}
	a.MarkDirty(offset, src.length)
}

// indexValues widens an unsigned index attribute to uint32.
func (a *Attribute) indexValues() ([]uint32, error) {
	switch d := a.data.(type) {
	case []uint32:
		return d, nil
	case []uint16:
		out := make([]uint32, len(d))
		for i, v := range d {
			out[i] = uint32(v)
		}
		return out, nil
	case []uint8:
		out := make([]uint32, len(d))
		for i, v := range d {
			out[i] = uint32(v)
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrTypeMismatch, "index attribute %q has type %v", a.name, a.typ)
}
