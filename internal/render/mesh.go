// Package render adapts the geometry allocators to a renderer: it uploads
// dirty buffers, collects each allocator's draw spec and hands it to a
// multi-draw submission backend once per frame.
package render

import (
	"github.com/garethgeorge/geobatch/internal/batch"
	"github.com/garethgeorge/geobatch/internal/cull"
	"github.com/garethgeorge/geobatch/internal/drawspec"
	"github.com/garethgeorge/geobatch/internal/gpubuf"
	"github.com/garethgeorge/geobatch/internal/instanced"
)

// Uploader copies CPU-side buffers to the GPU. Range bounds are in
// components of the buffer.
type Uploader interface {
	UploadBuffer(mesh string, buf *gpubuf.Attribute, start, end int) error
	UploadTexture(mesh string, tex *instanced.Texture, start, end int) error
}

// Submitter issues one multi-draw per mesh. changed is false when the table
// is identical to the one submitted for the same mesh last frame, so a
// backend may reuse its indirect buffer.
type Submitter interface {
	MultiDraw(mesh string, spec *drawspec.Spec, changed bool) error
	MultiDrawInstanced(mesh string, spec *drawspec.InstancedSpec, changed bool) error
}

// BatchedMesh draws the live, frustum-culled draw calls of a GeometryAllocator.
type BatchedMesh struct {
	Name      string
	Allocator *batch.GeometryAllocator
}

func (m *BatchedMesh) DrawSpec(cam cull.Camera, out *drawspec.Spec) {
	m.Allocator.DrawSpec(cam, out)
}

func (m *BatchedMesh) buffers() []*gpubuf.Attribute {
	attrs := m.Allocator.Attributes()
	bufs := make([]*gpubuf.Attribute, 0, len(attrs)+1)
	bufs = append(bufs, attrs...)
	return append(bufs, m.Allocator.Index())
}

// InstancedBatchedMesh draws every draw call slot of an instanced Allocator.
type InstancedBatchedMesh struct {
	Name      string
	Allocator *instanced.Allocator
}

func (m *InstancedBatchedMesh) DrawSpec(cam cull.Camera, out *drawspec.InstancedSpec) {
	m.Allocator.DrawSpec(cam, out)
}

func (m *InstancedBatchedMesh) buffers() []*gpubuf.Attribute {
	geom := m.Allocator.Geometry()
	bufs := make([]*gpubuf.Attribute, 0, len(geom.Attributes())+1)
	bufs = append(bufs, geom.Attributes()...)
	return append(bufs, geom.Index())
}
