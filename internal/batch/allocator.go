// Package batch implements a geometry allocator for multi-draw batched
// rendering: one shared set of vertex attribute buffers and one shared index
// buffer, partitioned by free lists, plus a compact draw call table that is
// frustum culled each frame.
package batch

import (
	"context"
	"log/slog"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/garethgeorge/geobatch/internal/cull"
	"github.com/garethgeorge/geobatch/internal/drawspec"
	"github.com/garethgeorge/geobatch/internal/freelist"
	"github.com/garethgeorge/geobatch/internal/gpubuf"
	"github.com/garethgeorge/geobatch/internal/handle"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// DefaultMaxDraws is the default cap on live draw calls per allocator.
const DefaultMaxDraws = 1024

// The position free list is indexed in position components so attribute
// offsets can be derived as start / positionComponents * itemSize.
const positionComponents = 3

type AttributeSpec struct {
	Name     string
	Type     gpubuf.ElementType
	ItemSize int
}

// UnboundedPolicy decides what DrawSpec does with draw calls allocated
// without a bounding sphere (or with radius <= 0).
type UnboundedPolicy uint8

const (
	// SkipUnbounded never draws unbounded draw calls.
	SkipUnbounded UnboundedPolicy = iota
	// DrawUnbounded always draws unbounded draw calls, without culling.
	DrawUnbounded
)

func (p UnboundedPolicy) String() string {
	switch p {
	case SkipUnbounded:
		return "skip"
	case DrawUnbounded:
		return "draw"
	}
	return "unknown"
}

type Config struct {
	// BufferSize is the vertex capacity of every attribute buffer and the
	// element capacity of the index buffer.
	BufferSize int
	// MaxDraws caps the number of live draw calls. Zero means DefaultMaxDraws.
	MaxDraws  int
	Unbounded UnboundedPolicy
	// Logger receives debug records for failed operations. Nil discards.
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.BufferSize <= 0 {
		return errors.Newf("BufferSize must be > 0, got %d", c.BufferSize)
	}
	if c.BufferSize > math.MaxInt32/drawspec.IndexElementSize {
		return errors.Newf("BufferSize %d exceeds the int32 byte offset range of the index buffer", c.BufferSize)
	}
	if c.MaxDraws == 0 {
		c.MaxDraws = DefaultMaxDraws
	}
	if c.MaxDraws < 0 {
		return errors.Newf("MaxDraws must be >= 0, got %d", c.MaxDraws)
	}
	if c.Unbounded != SkipUnbounded && c.Unbounded != DrawUnbounded {
		return errors.Newf("unknown unbounded policy %d", c.Unbounded)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return nil
}

type drawRecord struct {
	position *freelist.Slot
	index    *freelist.Slot
	row      int
}

// GeometryAllocator hands out position and index regions of its shared
// buffers and keeps one draw table row per live allocation. Rows are
// compacted by swap-remove, so a row's position changes when another
// allocation is freed. It is not thread-safe.
type GeometryAllocator struct {
	cfg Config
	log *slog.Logger

	attributes []*gpubuf.Attribute
	byName     map[string]*gpubuf.Attribute
	index      *gpubuf.Attribute

	positions *freelist.FreeList
	indices   *freelist.FreeList

	// Draw table, rows [0, numDraws) are live.
	drawStarts      []int32
	drawCounts      []int32
	boundingSpheres []float32 // center xyz, radius
	rowOwners       []handle.Handle
	numDraws        int

	bindings *handle.Table[drawRecord]
}

func NewGeometryAllocator(specs []AttributeSpec, cfg Config) (*GeometryAllocator, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "geometry allocator config")
	}

	a := &GeometryAllocator{
		cfg:             cfg,
		log:             cfg.Logger,
		byName:          make(map[string]*gpubuf.Attribute, len(specs)),
		positions:       freelist.New(cfg.BufferSize * positionComponents),
		indices:         freelist.New(cfg.BufferSize),
		drawStarts:      make([]int32, cfg.MaxDraws),
		drawCounts:      make([]int32, cfg.MaxDraws),
		boundingSpheres: make([]float32, cfg.MaxDraws*4),
		rowOwners:       make([]handle.Handle, cfg.MaxDraws),
		bindings:        handle.NewTable[drawRecord](cfg.MaxDraws),
	}
	for _, spec := range specs {
		if _, dup := a.byName[spec.Name]; dup {
			return nil, errors.Newf("duplicate attribute %q", spec.Name)
		}
		attr, err := gpubuf.NewAttribute(spec.Name, spec.Type, spec.ItemSize, cfg.BufferSize)
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %q", spec.Name)
		}
		a.attributes = append(a.attributes, attr)
		a.byName[spec.Name] = attr
	}
	index, err := gpubuf.NewAttribute("index", gpubuf.Uint32, 1, cfg.BufferSize)
	if err != nil {
		return nil, errors.Wrap(err, "index buffer")
	}
	a.index = index
	return a, nil
}

func (a *GeometryAllocator) Attribute(name string) *gpubuf.Attribute { return a.byName[name] }
func (a *GeometryAllocator) Attributes() []*gpubuf.Attribute         { return a.attributes }
func (a *GeometryAllocator) Index() *gpubuf.Attribute                { return a.index }
func (a *GeometryAllocator) NumDraws() int                           { return a.numDraws }
func (a *GeometryAllocator) MaxDraws() int                           { return a.cfg.MaxDraws }

// Alloc reserves numPositions position components (three per vertex) and
// numIndices index elements and appends a draw table row for them. A nil
// bounds leaves the row unbounded; see UnboundedPolicy.
func (a *GeometryAllocator) Alloc(numPositions, numIndices int, bounds *cull.Sphere) (Binding, error) {
	if a.numDraws >= a.cfg.MaxDraws {
		a.log.Debug("geometry alloc failed", "op", "alloc", "draws", a.numDraws, "err", ErrDrawTableFull)
		return Binding{}, errors.Wrapf(ErrDrawTableFull, "%d of %d draws live", a.numDraws, a.cfg.MaxDraws)
	}

	pos, err := a.positions.Alloc(numPositions)
	if err != nil {
		a.log.Debug("geometry alloc failed", "op", "alloc positions", "size", numPositions, "err", err)
		return Binding{}, errors.Wrap(err, "alloc positions")
	}
	idx, err := a.indices.Alloc(numIndices)
	if err != nil {
		a.log.Debug("geometry alloc failed", "op", "alloc indices", "size", numIndices, "err", err)
		if ferr := a.positions.Free(pos); ferr != nil {
			err = errors.CombineErrors(err, ferr)
		}
		return Binding{}, errors.Wrap(err, "alloc indices")
	}

	row := a.numDraws
	a.drawStarts[row] = int32(idx.Start() * drawspec.IndexElementSize)
	a.drawCounts[row] = int32(idx.Count())
	sphere := a.boundingSpheres[row*4 : row*4+4]
	if bounds != nil {
		sphere[0], sphere[1], sphere[2], sphere[3] = bounds.Center[0], bounds.Center[1], bounds.Center[2], bounds.Radius
	} else {
		clear(sphere)
	}

	h := a.bindings.Insert(drawRecord{position: pos, index: idx, row: row})
	a.rowOwners[row] = h
	a.numDraws++
	return Binding{h: h, alloc: a}, nil
}

// Free releases b's regions and removes its draw table row by moving the
// last row into its place.
func (a *GeometryAllocator) Free(b Binding) error {
	live, err := a.lookup(b)
	if err != nil {
		return err
	}
	// The binding stays live unless its position region is released.
	if err := a.positions.Free(live.position); err != nil {
		return errors.Wrap(err, "free positions")
	}
	ierr := a.indices.Free(live.index)
	rec, _ := a.bindings.Remove(b.h)

	last := a.numDraws - 1
	if rec.row != last {
		a.drawStarts[rec.row] = a.drawStarts[last]
		a.drawCounts[rec.row] = a.drawCounts[last]
		copy(a.boundingSpheres[rec.row*4:rec.row*4+4], a.boundingSpheres[last*4:last*4+4])
		moved := a.rowOwners[last]
		a.rowOwners[rec.row] = moved
		if m, ok := a.bindings.Get(moved); ok {
			m.row = rec.row
		}
	}
	a.drawStarts[last] = 0
	a.drawCounts[last] = 0
	clear(a.boundingSpheres[last*4 : last*4+4])
	a.rowOwners[last] = 0
	a.numDraws--

	if ierr != nil {
		return errors.Wrap(ierr, "free indices")
	}
	return nil
}

// DrawSpec writes the draw calls whose bounding spheres intersect the
// camera frustum into out, replacing its contents.
func (a *GeometryAllocator) DrawSpec(cam cull.Camera, out *drawspec.Spec) {
	out.Reset()
	frustum := cull.FromCamera(cam)
	for i := 0; i < a.numDraws; i++ {
		s := a.boundingSpheres[i*4 : i*4+4]
		if s[3] > 0 {
			sphere := cull.Sphere{Center: mgl32.Vec3{s[0], s[1], s[2]}, Radius: s[3]}
			if frustum.IntersectsSphere(sphere) {
				out.Append(a.drawStarts[i], a.drawCounts[i])
			}
		} else if a.cfg.Unbounded == DrawUnbounded {
			out.Append(a.drawStarts[i], a.drawCounts[i])
		}
	}
}

func (a *GeometryAllocator) lookup(b Binding) (*drawRecord, error) {
	if b.alloc != a {
		return nil, errors.Wrap(ErrStaleBinding, "binding belongs to another allocator")
	}
	rec, ok := a.bindings.Get(b.h)
	if !ok {
		return nil, errors.Wrapf(ErrStaleBinding, "binding %x", uint64(b.h))
	}
	return rec, nil
}

type Stats struct {
	Positions freelist.Stats
	Indices   freelist.Stats
	Draws     int
	MaxDraws  int
}

func (a *GeometryAllocator) Stats() Stats {
	return Stats{
		Positions: a.positions.Stats(),
		Indices:   a.indices.Stats(),
		Draws:     a.numDraws,
		MaxDraws:  a.cfg.MaxDraws,
	}
}

// Validate checks both free lists and that the draw table holds exactly one
// row per live binding, matching that binding's index region.
func (a *GeometryAllocator) Validate() error {
	if err := a.positions.Validate(); err != nil {
		return errors.Wrap(err, "position free list")
	}
	if err := a.indices.Validate(); err != nil {
		return errors.Wrap(err, "index free list")
	}
	if a.numDraws != a.bindings.Len() {
		return errors.Newf("draw table has %d rows for %d live bindings", a.numDraws, a.bindings.Len())
	}
	for h, rec := range a.bindings.All() {
		if rec.row < 0 || rec.row >= a.numDraws {
			return errors.Newf("binding %x points at row %d outside the draw table", uint64(h), rec.row)
		}
		if a.rowOwners[rec.row] != h {
			return errors.Newf("row %d is owned by %x, not %x", rec.row, uint64(a.rowOwners[rec.row]), uint64(h))
		}
		if want := int32(rec.index.Start() * drawspec.IndexElementSize); a.drawStarts[rec.row] != want {
			return errors.Newf("row %d start is %d, expected %d", rec.row, a.drawStarts[rec.row], want)
		}
		if want := int32(rec.index.Count()); a.drawCounts[rec.row] != want {
			return errors.Newf("row %d count is %d, expected %d", rec.row, a.drawCounts[rec.row], want)
		}
	}
	return nil
}

func (a *GeometryAllocator) PrintDetailedMap(json *jwriter.Writer) {
	obj := json.Object()
	obj.Name("Draws").Int(a.numDraws)
	obj.Name("MaxDraws").Int(a.cfg.MaxDraws)
	obj.Name("Unbounded").String(a.cfg.Unbounded.String())
	a.positions.PrintDetailedMap(obj.Name("Positions"))
	a.indices.PrintDetailedMap(obj.Name("Indices"))
	arr := obj.Name("DrawTable").Array()
	for i := 0; i < a.numDraws; i++ {
		row := arr.Object()
		row.Name("Start").Int(int(a.drawStarts[i]))
		row.Name("Count").Int(int(a.drawCounts[i]))
		sphere := row.Name("Sphere").Array()
		for _, v := range a.boundingSpheres[i*4 : i*4+4] {
			sphere.Float64(float64(v))
		}
		sphere.End()
		row.End()
	}
	arr.End()
	obj.End()
}

// LogAllocations writes one debug record per live draw call.
func (a *GeometryAllocator) LogAllocations(log *slog.Logger) {
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for i := 0; i < a.numDraws; i++ {
		rec, ok := a.bindings.Get(a.rowOwners[i])
		if !ok {
			log.Debug("draw call", "row", i, "err", "row has no live binding")
			continue
		}
		log.Debug("draw call",
			"row", i,
			"positionStart", rec.position.Start(),
			"positionCount", rec.position.Count(),
			"indexStart", rec.index.Start(),
			"indexCount", rec.index.Count(),
			"radius", a.boundingSpheres[i*4+3])
	}
}
