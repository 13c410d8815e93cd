package render

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/garethgeorge/geobatch/internal/cull"
	"github.com/garethgeorge/geobatch/internal/drawspec"
	"github.com/garethgeorge/geobatch/internal/gpubuf"
)

const defaultPoolSize = 8

type Config struct {
	// PoolSize bounds the number of idle draw spec buffers kept per kind.
	PoolSize int
	Logger   *slog.Logger
}

// FrameStats summarizes the work done by one Frame.
type FrameStats struct {
	BuffersUploaded  int
	TexturesUploaded int
	UploadedBytes    int
	DrawCalls        int
	Instances        int
	// Unchanged counts meshes whose draw tables matched the previous frame.
	Unchanged int
}

// Renderer drives the per-frame upload and submission of a set of meshes.
// It is not thread-safe.
type Renderer struct {
	uploader  Uploader
	submitter Submitter
	log       *slog.Logger

	batched   []*BatchedMesh
	instanced []*InstancedBatchedMesh
	names     map[string]struct{}

	specs          *pool[*drawspec.Spec]
	instancedSpecs *pool[*drawspec.InstancedSpec]
	fingerprints   map[string]uint64
}

func New(uploader Uploader, submitter Submitter, cfg Config) *Renderer {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Renderer{
		uploader:  uploader,
		submitter: submitter,
		log:       cfg.Logger,
		names:     make(map[string]struct{}),
		specs: newPool(
			func() *drawspec.Spec { return &drawspec.Spec{} },
			func(s *drawspec.Spec) { s.Reset() },
			cfg.PoolSize),
		instancedSpecs: newPool(
			func() *drawspec.InstancedSpec { return &drawspec.InstancedSpec{} },
			func(s *drawspec.InstancedSpec) { s.Reset() },
			cfg.PoolSize),
		fingerprints: make(map[string]uint64),
	}
}

func (r *Renderer) addName(name string) error {
	if name == "" {
		return errors.New("mesh name must not be empty")
	}
	if _, dup := r.names[name]; dup {
		return errors.Newf("duplicate mesh %q", name)
	}
	r.names[name] = struct{}{}
	return nil
}

func (r *Renderer) AddBatched(m *BatchedMesh) error {
	if err := r.addName(m.Name); err != nil {
		return err
	}
	r.batched = append(r.batched, m)
	return nil
}

func (r *Renderer) AddInstanced(m *InstancedBatchedMesh) error {
	if err := r.addName(m.Name); err != nil {
		return err
	}
	r.instanced = append(r.instanced, m)
	return nil
}

// Frame uploads every dirty buffer and texture, then submits one multi-draw
// per mesh. Buffers are marked uploaded only after a successful upload.
func (r *Renderer) Frame(ctx context.Context, cam cull.Camera) (FrameStats, error) {
	var stats FrameStats

	for _, m := range r.batched {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := r.uploadBuffers(m.Name, m.buffers(), &stats); err != nil {
			return stats, err
		}

		spec := r.specs.get()
		m.DrawSpec(cam, spec)
		fp := spec.Fingerprint()
		changed := r.changed(m.Name, fp, &stats)
		for _, c := range spec.Counts {
			if c > 0 {
				stats.DrawCalls++
			}
		}
		err := r.submitter.MultiDraw(m.Name, spec, changed)
		r.specs.put(spec)
		if err != nil {
			return stats, errors.Wrapf(err, "draw mesh %q", m.Name)
		}
		r.fingerprints[m.Name] = fp
	}

	for _, m := range r.instanced {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := r.uploadBuffers(m.Name, m.buffers(), &stats); err != nil {
			return stats, err
		}
		for _, tex := range m.Allocator.Textures() {
			if !tex.NeedsUpload() {
				continue
			}
			start, end := tex.Data().DirtyRange()
			if err := r.uploader.UploadTexture(m.Name, tex, start, end); err != nil {
				return stats, errors.Wrapf(err, "upload texture %q of mesh %q", tex.Name(), m.Name)
			}
			tex.MarkUploaded()
			stats.TexturesUploaded++
			stats.UploadedBytes += (end - start) * tex.Data().Type().Size()
		}

		spec := r.instancedSpecs.get()
		m.DrawSpec(cam, spec)
		fp := spec.Fingerprint()
		changed := r.changed(m.Name, fp, &stats)
		for i, c := range spec.Counts {
			if c > 0 && spec.InstanceCounts[i] > 0 {
				stats.DrawCalls++
				stats.Instances += int(spec.InstanceCounts[i])
			}
		}
		err := r.submitter.MultiDrawInstanced(m.Name, spec, changed)
		r.instancedSpecs.put(spec)
		if err != nil {
			return stats, errors.Wrapf(err, "draw mesh %q", m.Name)
		}
		r.fingerprints[m.Name] = fp
	}

	r.log.Debug("frame",
		"draws", stats.DrawCalls,
		"instances", stats.Instances,
		"uploadedBytes", stats.UploadedBytes,
		"unchanged", stats.Unchanged)
	return stats, nil
}

func (r *Renderer) uploadBuffers(mesh string, bufs []*gpubuf.Attribute, stats *FrameStats) error {
	for _, buf := range bufs {
		if !buf.NeedsUpload() {
			continue
		}
		start, end := buf.DirtyRange()
		if err := r.uploader.UploadBuffer(mesh, buf, start, end); err != nil {
			return errors.Wrapf(err, "upload buffer %q of mesh %q", buf.Name(), mesh)
		}
		buf.MarkUploaded()
		stats.BuffersUploaded++
		stats.UploadedBytes += (end - start) * buf.Type().Size()
	}
	return nil
}

// changed reports whether fp differs from the last table successfully
// submitted for mesh.
func (r *Renderer) changed(mesh string, fp uint64, stats *FrameStats) bool {
	prev, ok := r.fingerprints[mesh]
	if ok && prev == fp {
		stats.Unchanged++
		return false
	}
	return true
}
