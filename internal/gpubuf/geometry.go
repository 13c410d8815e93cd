package gpubuf

import (
	"github.com/cockroachdb/errors"
)

// PositionAttribute is the attribute that defines a geometry's vertex count.
const PositionAttribute = "position"

// Geometry is an indexed mesh: a set of named vertex attributes plus an
// index attribute.
type Geometry struct {
	attributes []*Attribute
	byName     map[string]*Attribute
	index      *Attribute
}

func NewGeometry(index *Attribute, attributes ...*Attribute) (*Geometry, error) {
	if index == nil {
		return nil, errors.Wrap(ErrIncompatibleGeometry, "geometry has no index")
	}
	if _, err := index.indexValues(); err != nil {
		return nil, err
	}
	g := &Geometry{
		byName: make(map[string]*Attribute, len(attributes)),
		index:  index,
	}
	for _, a := range attributes {
		if _, dup := g.byName[a.name]; dup {
			return nil, errors.Wrapf(ErrIncompatibleGeometry, "duplicate attribute %q", a.name)
		}
		g.byName[a.name] = a
		g.attributes = append(g.attributes, a)
	}
	if _, ok := g.byName[PositionAttribute]; !ok {
		return nil, errors.Wrapf(ErrIncompatibleGeometry, "geometry has no %q attribute", PositionAttribute)
	}
	return g, nil
}

func (g *Geometry) Attribute(name string) *Attribute { return g.byName[name] }
func (g *Geometry) Attributes() []*Attribute         { return g.attributes }
func (g *Geometry) Index() *Attribute                { return g.index }

func (g *Geometry) VertexCount() int {
	if p := g.byName[PositionAttribute]; p != nil {
		return p.Count()
	}
	return 0
}

func (g *Geometry) IndexCount() int { return g.index.Len() }

// Merge concatenates geometries into one. Every geometry must carry the same
// attributes with the same element types and item sizes. Indices are rebased
// by the number of vertices preceding each geometry and widened to uint32.
func Merge(geometries []*Geometry) (*Geometry, error) {
	merged := &Geometry{byName: make(map[string]*Attribute)}
	if len(geometries) == 0 {
		idx, _ := NewAttribute("index", Uint32, 1, 0)
		merged.index = idx
		return merged, nil
	}

	first := geometries[0]
	totals := make(map[string]int, len(first.attributes))
	var totalIndices int
	for gi, g := range geometries {
		if len(g.attributes) != len(first.attributes) {
			return nil, errors.Wrapf(ErrIncompatibleGeometry, "geometry %d has %d attributes, expected %d", gi, len(g.attributes), len(first.attributes))
		}
		for _, want := range first.attributes {
			got := g.byName[want.name]
			if got == nil {
				return nil, errors.Wrapf(ErrIncompatibleGeometry, "geometry %d is missing attribute %q", gi, want.name)
			}
			if got.typ != want.typ || got.itemSize != want.itemSize {
				return nil, errors.Wrapf(ErrIncompatibleGeometry, "geometry %d attribute %q is %v×%d, expected %v×%d",
					gi, want.name, got.typ, got.itemSize, want.typ, want.itemSize)
			}
			totals[want.name] += got.length
		}
		totalIndices += g.index.Len()
	}

	for _, want := range first.attributes {
		a, err := NewAttribute(want.name, want.typ, want.itemSize, totals[want.name]/want.itemSize)
		if err != nil {
			return nil, err
		}
		offset := 0
		for _, g := range geometries {
			src := g.byName[want.name]
			a.copyFrom(offset, src)
			offset += src.length
		}
		merged.attributes = append(merged.attributes, a)
		merged.byName[a.name] = a
	}

	indices := make([]uint32, 0, totalIndices)
	var vertexOffset uint32
	for _, g := range geometries {
		vals, err := g.index.indexValues()
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			indices = append(indices, v+vertexOffset)
		}
		vertexOffset += uint32(g.VertexCount())
	}
	merged.index = FromSlice(first.index.name, 1, indices)
	return merged, nil
}
