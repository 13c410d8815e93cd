package workload

import (
	"github.com/garethgeorge/geobatch/internal/drawspec"
	"github.com/garethgeorge/geobatch/internal/gpubuf"
	"github.com/garethgeorge/geobatch/internal/instanced"
	"github.com/garethgeorge/geobatch/internal/render"
)

// discard is a device that accepts every upload and draw and keeps nothing.
type discard struct{}

var (
	_ render.Uploader  = discard{}
	_ render.Submitter = discard{}
)

func (discard) UploadBuffer(string, *gpubuf.Attribute, int, int) error         { return nil }
func (discard) UploadTexture(string, *instanced.Texture, int, int) error       { return nil }
func (discard) MultiDraw(string, *drawspec.Spec, bool) error                   { return nil }
func (discard) MultiDrawInstanced(string, *drawspec.InstancedSpec, bool) error { return nil }
