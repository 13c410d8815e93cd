package instanced

import (
	"github.com/cockroachdb/errors"
	"github.com/garethgeorge/geobatch/internal/gpubuf"
)

// MinTextureSide is the smallest side length of a per-instance texture.
const MinTextureSide = 16

type TextureSpec struct {
	Name     string
	Type     gpubuf.ElementType
	ItemSize int
}

// Texture is a square, power-of-two, nearest-filtered data texture holding
// one per-instance attribute. Items wider than four components are packed
// across several RGBA texels.
type Texture struct {
	name      string
	itemSize  int
	side      int
	format    gpubuf.PixelFormat
	pixelType gpubuf.PixelType
	data      *gpubuf.Attribute
}

func newTexture(spec TextureSpec, numItems int) (*Texture, error) {
	if spec.ItemSize <= 0 {
		return nil, errors.Newf("texture %q: item size must be > 0, got %d", spec.Name, spec.ItemSize)
	}
	pixelType, err := gpubuf.PixelTypeFor(spec.Type)
	if err != nil {
		return nil, errors.Wrapf(err, "texture %q", spec.Name)
	}
	format := gpubuf.PixelFormatFor(spec.ItemSize)
	side := textureSide(numItems, spec.ItemSize)
	data, err := gpubuf.NewAttribute(spec.Name, spec.Type, format.Channels(), side*side)
	if err != nil {
		return nil, errors.Wrapf(err, "texture %q", spec.Name)
	}
	return &Texture{
		name:      spec.Name,
		itemSize:  spec.ItemSize,
		side:      side,
		format:    format,
		pixelType: pixelType,
		data:      data,
	}, nil
}

// textureSide returns the smallest power of two whose square holds numItems
// items of itemSize components, never less than MinTextureSide.
func textureSide(numItems, itemSize int) int {
	texels := numItems
	if itemSize > 4 {
		texels = (numItems*itemSize + 3) / 4
	}
	side := MinTextureSide
	for side*side < texels {
		side <<= 1
	}
	return side
}

func (t *Texture) Name() string                { return t.name }
func (t *Texture) ItemSize() int               { return t.itemSize }
func (t *Texture) Width() int                  { return t.side }
func (t *Texture) Height() int                 { return t.side }
func (t *Texture) Format() gpubuf.PixelFormat  { return t.format }
func (t *Texture) PixelType() gpubuf.PixelType { return t.pixelType }

// Data is the texel storage, side*side texels of Format().Channels()
// components each.
func (t *Texture) Data() *gpubuf.Attribute { return t.data }

func (t *Texture) NeedsUpload() bool { return t.data.NeedsUpload() }
func (t *Texture) MarkUploaded()     { t.data.MarkUploaded() }
