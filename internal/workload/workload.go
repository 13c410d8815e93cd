// Package workload drives the geometry allocators with seeded, synthetic
// alloc/free/instance traffic and renders every frame through a device that
// discards its input, validating allocator invariants after each frame.
package workload

import (
	"context"
	"log/slog"
	"math"
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/garethgeorge/geobatch/internal/batch"
	"github.com/garethgeorge/geobatch/internal/cull"
	"github.com/garethgeorge/geobatch/internal/freelist"
	"github.com/garethgeorge/geobatch/internal/gpubuf"
	"github.com/garethgeorge/geobatch/internal/instanced"
	"github.com/garethgeorge/geobatch/internal/metrics"
	"github.com/garethgeorge/geobatch/internal/progress"
	"github.com/garethgeorge/geobatch/internal/render"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

type Config struct {
	Name   string
	Seed   int64
	Frames int
	// OpsPerFrame is the number of random operations between frames.
	OpsPerFrame int

	BufferSize int
	MaxDraws   int
	Unbounded  batch.UnboundedPolicy

	Geometries              int
	MaxInstancesPerDrawCall int
	MaxDrawCallsPerGeometry int

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Name:                    "sim",
		Seed:                    1,
		Frames:                  600,
		OpsPerFrame:             8,
		BufferSize:              1 << 16,
		MaxDraws:                batch.DefaultMaxDraws,
		Geometries:              4,
		MaxInstancesPerDrawCall: 64,
		MaxDrawCallsPerGeometry: 16,
	}
}

type Result struct {
	Name          string
	Frames        int
	Allocs        int
	Frees         int
	AllocFailures int
	DrawCalls     int
	Instances     int
	UploadedBytes int
}

var meshAttributes = []batch.AttributeSpec{
	{Name: "position", Type: gpubuf.Float32, ItemSize: 3},
	{Name: "normal", Type: gpubuf.Float32, ItemSize: 3},
	{Name: "uv", Type: gpubuf.Float32, ItemSize: 2},
}

var instanceTextures = []instanced.TextureSpec{
	{Name: "offset", Type: gpubuf.Float32, ItemSize: 3},
	{Name: "rotation", Type: gpubuf.Float32, ItemSize: 4},
	{Name: "color", Type: gpubuf.Uint8, ItemSize: 4},
}

type liveCall struct {
	binding   instanced.DrawCallBinding
	instances int
}

// Simulation owns one allocator of each kind and the renderer drawing them.
// It is not thread-safe; run one Simulation per goroutine.
type Simulation struct {
	cfg       Config
	log       *slog.Logger
	rng       *rand.Rand
	collector *metrics.Collector

	meshes    *batch.GeometryAllocator
	instances *instanced.Allocator
	renderer  *render.Renderer

	live  []batch.Binding
	calls []liveCall

	frame  int
	result Result
}

// New builds a simulation. collector may be nil.
func New(cfg Config, collector *metrics.Collector) (*Simulation, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Geometries <= 0 {
		return nil, errors.Newf("Geometries must be > 0, got %d", cfg.Geometries)
	}
	log := cfg.Logger.With("sim", cfg.Name)

	meshes, err := batch.NewGeometryAllocator(meshAttributes, batch.Config{
		BufferSize: cfg.BufferSize,
		MaxDraws:   cfg.MaxDraws,
		Unbounded:  cfg.Unbounded,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	geoms := make([]*gpubuf.Geometry, cfg.Geometries)
	for i := range geoms {
		geoms[i], err = fan(i + 3)
		if err != nil {
			return nil, err
		}
	}
	instances, err := instanced.New(geoms, instanceTextures, instanced.Config{
		MaxInstancesPerDrawCall: cfg.MaxInstancesPerDrawCall,
		MaxDrawCallsPerGeometry: cfg.MaxDrawCallsPerGeometry,
		Logger:                  log,
	})
	if err != nil {
		return nil, err
	}

	r := render.New(discard{}, discard{}, render.Config{Logger: log})
	if err := r.AddBatched(&render.BatchedMesh{Name: cfg.Name + "/meshes", Allocator: meshes}); err != nil {
		return nil, err
	}
	if err := r.AddInstanced(&render.InstancedBatchedMesh{Name: cfg.Name + "/instances", Allocator: instances}); err != nil {
		return nil, err
	}

	return &Simulation{
		cfg:       cfg,
		log:       log,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		collector: collector,
		meshes:    meshes,
		instances: instances,
		renderer:  r,
		result:    Result{Name: cfg.Name},
	}, nil
}

func (s *Simulation) Meshes() *batch.GeometryAllocator { return s.meshes }
func (s *Simulation) Instances() *instanced.Allocator  { return s.instances }
func (s *Simulation) Result() Result                   { return s.result }

// Run steps the simulation for cfg.Frames frames.
func (s *Simulation) Run(ctx context.Context, prog progress.FrameTracker) (Result, error) {
	prog.SetMessage(s.cfg.Name)
	prog.SetTotal(int64(s.cfg.Frames))
	defer prog.MarkFinished()

	for i := 0; i < s.cfg.Frames; i++ {
		if err := s.Step(ctx); err != nil {
			prog.SetError(err)
			return s.result, err
		}
		prog.SetDone(i + 1)
	}
	s.meshes.LogAllocations(s.log)
	s.instances.LogAllocations(s.log)
	return s.result, nil
}

// Step applies OpsPerFrame random operations, renders a frame and validates
// both allocators.
func (s *Simulation) Step(ctx context.Context) error {
	for i := 0; i < s.cfg.OpsPerFrame; i++ {
		if err := s.randomOp(); err != nil {
			return errors.Wrapf(err, "frame %d", s.frame)
		}
	}

	stats, err := s.renderer.Frame(ctx, s.camera())
	if err != nil {
		return errors.Wrapf(err, "frame %d", s.frame)
	}
	if err := s.meshes.Validate(); err != nil {
		return errors.Wrapf(err, "frame %d: meshes", s.frame)
	}
	if err := s.instances.Validate(); err != nil {
		return errors.Wrapf(err, "frame %d: instances", s.frame)
	}

	s.frame++
	s.result.Frames++
	s.result.DrawCalls += stats.DrawCalls
	s.result.Instances += stats.Instances
	s.result.UploadedBytes += stats.UploadedBytes
	if s.collector != nil {
		s.collector.ObserveFrame(stats)
		s.collector.ObserveBatch(s.cfg.Name+"/meshes", s.meshes.Stats())
		s.collector.ObserveInstanced(s.cfg.Name+"/instances", s.instances.Stats())
	}
	return nil
}

func (s *Simulation) randomOp() error {
	switch op := s.rng.Intn(10); {
	case op < 3:
		return s.allocMesh()
	case op < 5:
		return s.freeMesh()
	case op < 7:
		return s.allocDrawCall()
	case op < 8:
		return s.freeDrawCall()
	default:
		return s.addInstances()
	}
}

// exhausted reports whether err is a capacity failure the workload expects
// under load.
func exhausted(err error) bool {
	return errors.Is(err, freelist.ErrOutOfMemory) || errors.Is(err, batch.ErrDrawTableFull)
}

func (s *Simulation) allocMesh() error {
	segments := s.rng.Intn(30) + 3
	vertices := segments + 1
	var bounds *cull.Sphere
	if s.rng.Intn(8) > 0 {
		bounds = &cull.Sphere{
			Center: mgl32.Vec3{s.coord(), s.coord(), s.coord()},
			Radius: 1 + s.rng.Float32()*4,
		}
	}
	b, err := s.meshes.Alloc(vertices*3, segments*3, bounds)
	if exhausted(err) {
		s.result.AllocFailures++
		return nil
	}
	if err != nil {
		return err
	}
	s.result.Allocs++
	s.live = append(s.live, b)

	g, err := fan(vertices)
	if err != nil {
		return err
	}
	for _, attr := range g.Attributes() {
		vals, err := gpubuf.View[float32](attr)
		if err != nil {
			return err
		}
		if err := batch.WriteAttribute(b, attr.Name(), vals); err != nil {
			return err
		}
	}
	indices, err := gpubuf.View[uint32](g.Index())
	if err != nil {
		return err
	}
	return batch.WriteIndices(b, indices)
}

func (s *Simulation) freeMesh() error {
	if len(s.live) == 0 {
		return nil
	}
	i := s.rng.Intn(len(s.live))
	b := s.live[i]
	s.live[i] = s.live[len(s.live)-1]
	s.live = s.live[:len(s.live)-1]
	s.result.Frees++
	return s.meshes.Free(b)
}

func (s *Simulation) allocDrawCall() error {
	b, err := s.instances.AllocDrawCall(s.rng.Intn(s.cfg.Geometries))
	if exhausted(err) {
		s.result.AllocFailures++
		return nil
	}
	if err != nil {
		return err
	}
	s.result.Allocs++
	s.calls = append(s.calls, liveCall{binding: b})
	return nil
}

func (s *Simulation) freeDrawCall() error {
	if len(s.calls) == 0 {
		return nil
	}
	i := s.rng.Intn(len(s.calls))
	c := s.calls[i]
	s.calls[i] = s.calls[len(s.calls)-1]
	s.calls = s.calls[:len(s.calls)-1]
	s.result.Frees++
	return s.instances.FreeDrawCall(c.binding)
}

// addInstances appends instances to a draw call, staying within the slot's
// texture range.
func (s *Simulation) addInstances() error {
	if len(s.calls) == 0 {
		return nil
	}
	c := &s.calls[s.rng.Intn(len(s.calls))]
	n := min(s.rng.Intn(8)+1, s.cfg.MaxInstancesPerDrawCall-c.instances)
	for j := 0; j < n; j++ {
		i := c.instances
		if err := instanced.WriteInstance(c.binding, "offset", i, []float32{s.coord(), s.coord(), s.coord()}); err != nil {
			return err
		}
		q := mgl32.QuatRotate(s.rng.Float32()*2*math.Pi, mgl32.Vec3{0, 1, 0})
		if err := instanced.WriteInstance(c.binding, "rotation", i, []float32{q.V[0], q.V[1], q.V[2], q.W}); err != nil {
			return err
		}
		if err := instanced.WriteInstance(c.binding, "color", i, []uint8{uint8(s.rng.Intn(256)), uint8(s.rng.Intn(256)), uint8(s.rng.Intn(256)), 255}); err != nil {
			return err
		}
		if err := c.binding.IncrementInstanceCount(); err != nil {
			return err
		}
		c.instances++
	}
	return nil
}

func (s *Simulation) coord() float32 {
	return s.rng.Float32()*100 - 50
}

// camera orbits the origin once every 360 frames.
func (s *Simulation) camera() cull.StaticCamera {
	angle := float64(s.frame) * math.Pi / 180
	eye := mgl32.Vec3{float32(60 * math.Cos(angle)), 10, float32(60 * math.Sin(angle))}
	return cull.NewPerspectiveCamera(60, 16.0/9.0, 0.1, 200, eye, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
}

func (s *Simulation) PrintDetailedMap(json *jwriter.Writer) {
	obj := json.Object()
	obj.Name("Name").String(s.cfg.Name)
	obj.Name("Seed").Int(int(s.cfg.Seed))
	obj.Name("Frame").Int(s.frame)
	s.meshes.PrintDetailedMap(obj.Name("Meshes"))
	s.instances.PrintDetailedMap(obj.Name("Instances"))
	obj.End()
}

// fan builds a flat triangle fan of n vertices around the origin with
// position, normal and uv attributes.
func fan(n int) (*gpubuf.Geometry, error) {
	positions := make([]float32, 0, n*3)
	normals := make([]float32, 0, n*3)
	uvs := make([]float32, 0, n*2)
	for i := 0; i < n; i++ {
		var x, z float32
		if i > 0 {
			a := 2 * math.Pi * float64(i-1) / float64(n-1)
			x, z = float32(math.Cos(a)), float32(math.Sin(a))
		}
		positions = append(positions, x, 0, z)
		normals = append(normals, 0, 1, 0)
		uvs = append(uvs, (x+1)/2, (z+1)/2)
	}
	indices := make([]uint32, 0, (n-1)*3)
	for i := 1; i < n; i++ {
		next := uint32(i%(n-1) + 1)
		indices = append(indices, 0, uint32(i), next)
	}
	return gpubuf.NewGeometry(
		gpubuf.FromSlice("index", 1, indices),
		gpubuf.FromSlice("position", 3, positions),
		gpubuf.FromSlice("normal", 3, normals),
		gpubuf.FromSlice("uv", 2, uvs),
	)
}
