// Package instanced implements a draw call allocator for instanced
// multi-draw rendering of a fixed set of geometries. Each draw call slot
// draws one source geometry some number of times; per-instance attributes
// live in data textures addressed by the slot.
package instanced

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
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

type Config struct {
	MaxInstancesPerDrawCall int
	MaxDrawCallsPerGeometry int
	// Logger receives debug records for failed operations. Nil discards.
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.MaxInstancesPerDrawCall <= 0 {
		return errors.Newf("MaxInstancesPerDrawCall must be > 0, got %d", c.MaxInstancesPerDrawCall)
	}
	if c.MaxDrawCallsPerGeometry <= 0 {
		return errors.Newf("MaxDrawCallsPerGeometry must be > 0, got %d", c.MaxDrawCallsPerGeometry)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return nil
}

// Region is a half-open range [Start, Start+Count).
type Region struct {
	Start int
	Count int
}

// GeometryRange locates one source geometry inside the merged geometry, in
// vertices and index elements.
type GeometryRange struct {
	Position Region
	Index    Region
}

type drawCall struct {
	geometry int
	slot     *freelist.Slot
}

// Allocator hands out draw call slots over a merged, immutable geometry.
// Slot addresses are stable for the lifetime of a draw call: the draw
// tables are indexed by slot and never compacted. It is not thread-safe.
type Allocator struct {
	cfg Config
	log *slog.Logger

	geometry *gpubuf.Geometry
	registry []GeometryRange

	textures []*Texture
	byName   map[string]*Texture

	slots *freelist.FreeList

	drawStarts         []int32
	drawCounts         []int32
	drawInstanceCounts []int32

	calls *handle.Table[drawCall]
}

func New(geometries []*gpubuf.Geometry, textures []TextureSpec, cfg Config) (*Allocator, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "instanced allocator config")
	}

	registry := make([]GeometryRange, len(geometries))
	var vertices, indices int
	for i, g := range geometries {
		registry[i] = GeometryRange{
			Position: Region{Start: vertices, Count: g.VertexCount()},
			Index:    Region{Start: indices, Count: g.IndexCount()},
		}
		vertices += g.VertexCount()
		indices += g.IndexCount()
	}
	if err := checkIndexRange(indices); err != nil {
		return nil, err
	}
	merged, err := gpubuf.Merge(geometries)
	if err != nil {
		return nil, errors.Wrap(err, "merge geometries")
	}

	numSlots := len(geometries) * cfg.MaxDrawCallsPerGeometry
	a := &Allocator{
		cfg:                cfg,
		log:                cfg.Logger,
		geometry:           merged,
		registry:           registry,
		byName:             make(map[string]*Texture, len(textures)),
		slots:              freelist.New(numSlots),
		drawStarts:         make([]int32, numSlots),
		drawCounts:         make([]int32, numSlots),
		drawInstanceCounts: make([]int32, numSlots),
		calls:              handle.NewTable[drawCall](numSlots),
	}
	for _, spec := range textures {
		if _, dup := a.byName[spec.Name]; dup {
			return nil, errors.Newf("duplicate texture %q", spec.Name)
		}
		tex, err := newTexture(spec, numSlots*cfg.MaxInstancesPerDrawCall)
		if err != nil {
			return nil, err
		}
		a.textures = append(a.textures, tex)
		a.byName[spec.Name] = tex
	}
	return a, nil
}

func (a *Allocator) Geometry() *gpubuf.Geometry   { return a.geometry }
func (a *Allocator) Registry() []GeometryRange    { return a.registry }
func (a *Allocator) Textures() []*Texture         { return a.textures }
func (a *Allocator) NumSlots() int                { return a.slots.Capacity() }
func (a *Allocator) NumDrawCalls() int            { return a.calls.Len() }
func (a *Allocator) MaxInstancesPerDrawCall() int { return a.cfg.MaxInstancesPerDrawCall }

func (a *Allocator) Texture(name string) (*Texture, error) {
	tex := a.byName[name]
	if tex == nil {
		return nil, errors.Wrapf(ErrUnknownTexture, "%q", name)
	}
	return tex, nil
}

// AllocDrawCall reserves one draw call slot for the given source geometry.
// The slot starts with zero instances.
func (a *Allocator) AllocDrawCall(geometryIndex int) (DrawCallBinding, error) {
	if geometryIndex < 0 || geometryIndex >= len(a.registry) {
		return DrawCallBinding{}, errors.Wrapf(ErrUnknownGeometry, "geometry %d of %d", geometryIndex, len(a.registry))
	}
	slot, err := a.slots.Alloc(1)
	if err != nil {
		a.log.Debug("draw call alloc failed", "op", "alloc", "geometry", geometryIndex, "err", err)
		return DrawCallBinding{}, errors.Wrapf(err, "alloc draw call for geometry %d", geometryIndex)
	}

	idx := a.registry[geometryIndex].Index
	at := slot.Start()
	a.drawStarts[at] = int32(idx.Start * drawspec.IndexElementSize)
	a.drawCounts[at] = int32(idx.Count)
	a.drawInstanceCounts[at] = 0

	h := a.calls.Insert(drawCall{geometry: geometryIndex, slot: slot})
	return DrawCallBinding{geometryIndex: geometryIndex, h: h, alloc: a}, nil
}

// FreeDrawCall releases b's slot and zeroes its draw table entries.
func (a *Allocator) FreeDrawCall(b DrawCallBinding) error {
	call, err := a.lookup(b)
	if err != nil {
		return err
	}
	at := call.slot.Start()
	if err := a.slots.Free(call.slot); err != nil {
		return errors.Wrapf(err, "free draw call slot %d", at)
	}
	a.calls.Remove(b.h)
	a.drawStarts[at] = 0
	a.drawCounts[at] = 0
	a.drawInstanceCounts[at] = 0
	return nil
}

// checkIndexRange rejects merged index buffers whose byte offsets do not fit
// the int32 draw start table.
func checkIndexRange(indices int) error {
	if indices > math.MaxInt32/drawspec.IndexElementSize {
		return errors.Newf("merged geometry has %d indices, more than int32 byte offsets can address", indices)
	}
	return nil
}

func (a *Allocator) lookup(b DrawCallBinding) (*drawCall, error) {
	if b.alloc != a {
		return nil, errors.Wrap(ErrStaleBinding, "binding belongs to another allocator")
	}
	call, ok := a.calls.Get(b.h)
	if !ok {
		return nil, errors.Wrapf(ErrStaleBinding, "draw call %x", uint64(b.h))
	}
	return call, nil
}

func (a *Allocator) InstanceCount(b DrawCallBinding) (int, error) {
	call, err := a.lookup(b)
	if err != nil {
		return 0, err
	}
	return int(a.drawInstanceCounts[call.slot.Start()]), nil
}

// SetInstanceCount does not check n against MaxInstancesPerDrawCall; the
// caller must keep instance data within the slot's texture range.
func (a *Allocator) SetInstanceCount(b DrawCallBinding, n int) error {
	call, err := a.lookup(b)
	if err != nil {
		return err
	}
	a.drawInstanceCounts[call.slot.Start()] = int32(n)
	return nil
}

func (a *Allocator) IncrementInstanceCount(b DrawCallBinding) error {
	call, err := a.lookup(b)
	if err != nil {
		return err
	}
	a.drawInstanceCounts[call.slot.Start()]++
	return nil
}

// DecrementInstanceCount is unchecked and may drive the count negative.
func (a *Allocator) DecrementInstanceCount(b DrawCallBinding) error {
	call, err := a.lookup(b)
	if err != nil {
		return err
	}
	a.drawInstanceCounts[call.slot.Start()]--
	return nil
}

// DrawSpec copies every slot of the draw tables into out, including unused
// slots, which have zero counts. No culling is done at the draw call level,
// so the camera is unused.
func (a *Allocator) DrawSpec(_ cull.Camera, out *drawspec.InstancedSpec) {
	out.CopyFrom(a.drawStarts, a.drawCounts, a.drawInstanceCounts)
}

type Stats struct {
	Slots     freelist.Stats
	DrawCalls int
	Instances int
}

func (a *Allocator) Stats() Stats {
	var instances int
	for _, n := range a.drawInstanceCounts {
		instances += int(n)
	}
	return Stats{
		Slots:     a.slots.Stats(),
		DrawCalls: a.calls.Len(),
		Instances: instances,
	}
}

// Validate checks the slot free list and that draw table entries are set
// exactly for the slots of live draw calls.
func (a *Allocator) Validate() error {
	if err := a.slots.Validate(); err != nil {
		return errors.Wrap(err, "draw call free list")
	}
	if used := a.slots.Capacity() - a.slots.Available(); used != a.calls.Len() {
		return errors.Newf("%d slots in use for %d live draw calls", used, a.calls.Len())
	}
	live := make([]bool, a.slots.Capacity())
	for h, call := range a.calls.All() {
		at := call.slot.Start()
		if !call.slot.Used() {
			return errors.Newf("draw call %x holds free slot %d", uint64(h), at)
		}
		live[at] = true
		idx := a.registry[call.geometry].Index
		if a.drawStarts[at] != int32(idx.Start*drawspec.IndexElementSize) || a.drawCounts[at] != int32(idx.Count) {
			return errors.Newf("slot %d draws (%d, %d), expected geometry %d", at, a.drawStarts[at], a.drawCounts[at], call.geometry)
		}
	}
	for at, ok := range live {
		if !ok && (a.drawStarts[at] != 0 || a.drawCounts[at] != 0 || a.drawInstanceCounts[at] != 0) {
			return errors.Newf("free slot %d has non-zero draw table entries", at)
		}
	}
	return nil
}

func (a *Allocator) PrintDetailedMap(json *jwriter.Writer) {
	obj := json.Object()
	obj.Name("Geometries").Int(len(a.registry))
	obj.Name("MaxInstancesPerDrawCall").Int(a.cfg.MaxInstancesPerDrawCall)
	obj.Name("MaxDrawCallsPerGeometry").Int(a.cfg.MaxDrawCallsPerGeometry)
	texArr := obj.Name("Textures").Array()
	for _, t := range a.textures {
		tex := texArr.Object()
		tex.Name("Name").String(t.name)
		tex.Name("ItemSize").Int(t.itemSize)
		tex.Name("Side").Int(t.side)
		tex.Name("Format").String(t.format.String())
		tex.Name("PixelType").String(t.pixelType.String())
		tex.End()
	}
	texArr.End()
	a.slots.PrintDetailedMap(obj.Name("Slots"))
	arr := obj.Name("DrawCalls").Array()
	for _, call := range a.calls.All() {
		at := call.slot.Start()
		row := arr.Object()
		row.Name("Slot").Int(at)
		row.Name("Geometry").Int(call.geometry)
		row.Name("Start").Int(int(a.drawStarts[at]))
		row.Name("Count").Int(int(a.drawCounts[at]))
		row.Name("Instances").Int(int(a.drawInstanceCounts[at]))
		row.End()
	}
	arr.End()
	obj.End()
}

// LogAllocations writes one debug record per live draw call.
func (a *Allocator) LogAllocations(log *slog.Logger) {
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, call := range a.calls.All() {
		at := call.slot.Start()
		log.Debug("instanced draw call",
			"slot", at,
			"geometry", call.geometry,
			"indexStart", a.drawStarts[at]/drawspec.IndexElementSize,
			"indexCount", a.drawCounts[at],
			"instances", a.drawInstanceCounts[at])
	}
}
