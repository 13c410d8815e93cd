package workload

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/garethgeorge/geobatch/internal/batch"
	"github.com/garethgeorge/geobatch/internal/gpubuf"
	"github.com/garethgeorge/geobatch/internal/metrics"
	"github.com/garethgeorge/geobatch/internal/progress"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Frames = 200
	cfg.OpsPerFrame = 12
	cfg.BufferSize = 512
	cfg.MaxDraws = 16
	cfg.Geometries = 3
	cfg.MaxInstancesPerDrawCall = 8
	cfg.MaxDrawCallsPerGeometry = 2
	return cfg
}

func TestSimulation_Run(t *testing.T) {
	testCases := []struct {
		name string
		cfg  func() Config
	}{
		{name: "default", cfg: DefaultConfig},
		{name: "under pressure", cfg: smallConfig},
		{name: "draw unbounded", cfg: func() Config {
			cfg := smallConfig()
			cfg.Unbounded = batch.DrawUnbounded
			return cfg
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg()
			cfg.Frames = 200
			sim, err := New(cfg, nil)
			require.NoError(t, err)

			res, err := sim.Run(context.Background(), progress.NoopFrameTracker{})
			require.NoError(t, err)
			assert.Equal(t, 200, res.Frames)
			assert.Positive(t, res.Allocs)
			assert.Positive(t, res.Frees)
			assert.Positive(t, res.UploadedBytes)
			assert.Positive(t, res.Instances)
		})
	}
}

func TestSimulation_PressureHitsCapacity(t *testing.T) {
	sim, err := New(smallConfig(), nil)
	require.NoError(t, err)
	res, err := sim.Run(context.Background(), progress.NoopFrameTracker{})
	require.NoError(t, err)
	assert.Positive(t, res.AllocFailures)
	assert.LessOrEqual(t, sim.Meshes().NumDraws(), 16)
	assert.LessOrEqual(t, sim.Instances().NumDrawCalls(), 6)
}

func TestSimulation_Deterministic(t *testing.T) {
	run := func() Result {
		sim, err := New(smallConfig(), nil)
		require.NoError(t, err)
		res, err := sim.Run(context.Background(), progress.NoopFrameTracker{})
		require.NoError(t, err)
		return res
	}
	assert.Equal(t, run(), run())
}

func TestSimulation_Metrics(t *testing.T) {
	c := metrics.NewCollector()
	cfg := smallConfig()
	cfg.Frames = 10
	sim, err := New(cfg, c)
	require.NoError(t, err)
	_, err = sim.Run(context.Background(), progress.NoopFrameTracker{})
	require.NoError(t, err)

	assert.Equal(t, 3, testutil.CollectAndCount(c, "geobatch_freelist_capacity"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "geobatch_instances"))
}

func TestSimulation_Canceled(t *testing.T) {
	sim, err := New(smallConfig(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sim.Run(ctx, progress.NoopFrameTracker{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSimulation_PrintDetailedMap(t *testing.T) {
	cfg := smallConfig()
	cfg.Frames = 20
	sim, err := New(cfg, nil)
	require.NoError(t, err)
	_, err = sim.Run(context.Background(), progress.NoopFrameTracker{})
	require.NoError(t, err)

	w := jwriter.NewWriter()
	sim.PrintDetailedMap(&w)
	require.NoError(t, w.Error())

	var got struct {
		Name   string
		Frame  int
		Meshes struct {
			Draws int
		}
		Instances struct {
			Geometries int
		}
	}
	require.NoError(t, json.Unmarshal(w.Bytes(), &got))
	assert.Equal(t, "sim", got.Name)
	assert.Equal(t, 20, got.Frame)
	assert.Equal(t, sim.Meshes().NumDraws(), got.Meshes.Draws)
	assert.Equal(t, 3, got.Instances.Geometries)
}

func TestFan(t *testing.T) {
	g, err := fan(5)
	require.NoError(t, err)
	assert.Equal(t, 5, g.VertexCount())
	assert.Equal(t, 12, g.IndexCount())
	idx, err := gpubuf.View[uint32](g.Index())
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3, 0, 3, 4, 0, 4, 1}, idx)
}

func TestNew_Errors(t *testing.T) {
	cfg := smallConfig()
	cfg.Geometries = 0
	_, err := New(cfg, nil)
	require.Error(t, err)

	cfg = smallConfig()
	cfg.BufferSize = 0
	_, err = New(cfg, nil)
	require.Error(t, err)
}
