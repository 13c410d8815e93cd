package gpubuf

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ElementType is the numeric type of one component of an attribute.
type ElementType uint8

const (
	ElementInvalid ElementType = iota
	Float32
	Float64
	Uint32
	Int32
	Uint16
	Int16
	Uint8
	Int8
)

var elementTypeNames = map[ElementType]string{
	ElementInvalid: "invalid",
	Float32:        "float32",
	Float64:        "float64",
	Uint32:         "uint32",
	Int32:          "int32",
	Uint16:         "uint16",
	Int16:          "int16",
	Uint8:          "uint8",
	Int8:           "int8",
}

func (t ElementType) String() string {
	if name, ok := elementTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ElementType(%d)", uint8(t))
}

// Size reports the size of one component in bytes, or 0 for an invalid type.
func (t ElementType) Size() int {
	switch t {
	case Float64:
		return 8
	case Float32, Uint32, Int32:
		return 4
	case Uint16, Int16:
		return 2
	case Uint8, Int8:
		return 1
	default:
		return 0
	}
}

// Element is the set of Go types that back an attribute.
type Element interface {
	float32 | float64 | uint32 | int32 | uint16 | int16 | uint8 | int8
}

func elementTypeOf[T Element]() ElementType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case uint32:
		return Uint32
	case int32:
		return Int32
	case uint16:
		return Uint16
	case int16:
		return Int16
	case uint8:
		return Uint8
	case int8:
		return Int8
	}
	return ElementInvalid
}

// PixelFormat is the channel layout of a data texture.
type PixelFormat uint8

const (
	FormatRed PixelFormat = iota + 1
	FormatRG
	FormatRGB
	FormatRGBA
)

func (f PixelFormat) Channels() int { return int(f) }

func (f PixelFormat) String() string {
	switch f {
	case FormatRed:
		return "red"
	case FormatRG:
		return "rg"
	case FormatRGB:
		return "rgb"
	case FormatRGBA:
		return "rgba"
	}
	return fmt.Sprintf("PixelFormat(%d)", uint8(f))
}

// PixelType is the texel component type of a data texture.
type PixelType uint8

const (
	PixelFloat PixelType = iota + 1
	PixelUnsignedInt
	PixelInt
	PixelUnsignedShort
	PixelShort
	PixelUnsignedByte
	PixelByte
)

func (p PixelType) String() string {
	switch p {
	case PixelFloat:
		return "float"
	case PixelUnsignedInt:
		return "uint"
	case PixelInt:
		return "int"
	case PixelUnsignedShort:
		return "ushort"
	case PixelShort:
		return "short"
	case PixelUnsignedByte:
		return "ubyte"
	case PixelByte:
		return "byte"
	}
	return fmt.Sprintf("PixelType(%d)", uint8(p))
}

// PixelTypeFor maps an element type to a texture pixel type. Float64 has no
// texture representation.
func PixelTypeFor(t ElementType) (PixelType, error) {
	switch t {
	case Float32:
		return PixelFloat, nil
	case Uint32:
		return PixelUnsignedInt, nil
	case Int32:
		return PixelInt, nil
	case Uint16:
		return PixelUnsignedShort, nil
	case Int16:
		return PixelShort, nil
	case Uint8:
		return PixelUnsignedByte, nil
	case Int8:
		return PixelByte, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedAttributeType, "no texture pixel type for %v", t)
	}
}

// PixelFormatFor maps an item size to a channel layout. Item sizes above 4
// use RGBA and span several texels.
func PixelFormatFor(itemSize int) PixelFormat {
	switch {
	case itemSize <= 1:
		return FormatRed
	case itemSize == 2:
		return FormatRG
	case itemSize == 3:
		return FormatRGB
	default:
		return FormatRGBA
	}
}
