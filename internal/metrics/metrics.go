// Package metrics publishes allocator occupancy to prometheus. Allocators
// are not thread-safe, so the render tick pushes snapshots with Observe*
// and scrapes only read the last snapshot.
package metrics

import (
	"sort"
	"sync"

	"github.com/garethgeorge/geobatch/internal/batch"
	"github.com/garethgeorge/geobatch/internal/freelist"
	"github.com/garethgeorge/geobatch/internal/instanced"
	"github.com/garethgeorge/geobatch/internal/render"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "geobatch"

var (
	capacityDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "freelist", "capacity"),
		"Capacity of a free list in its native unit",
		[]string{"allocator", "space"}, nil)
	availableDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "freelist", "available"),
		"Free units in a free list",
		[]string{"allocator", "space"}, nil)
	largestFreeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "freelist", "largest_free"),
		"Size of the largest free slot in a free list",
		[]string{"allocator", "space"}, nil)
	slotsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "freelist", "slots"),
		"Number of slots in a free list by state",
		[]string{"allocator", "space", "state"}, nil)
	drawCallsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "draw_calls"),
		"Live draw calls",
		[]string{"allocator"}, nil)
	maxDrawCallsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "draw_calls_max"),
		"Draw call capacity",
		[]string{"allocator"}, nil)
	instancesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "instances"),
		"Instances across all draw calls of an instanced allocator",
		[]string{"allocator"}, nil)
)

type spaceStats struct {
	space string
	stats freelist.Stats
}

type snapshot struct {
	spaces    []spaceStats
	drawCalls int
	maxDraws  int
	instances int
	instanced bool
}

// Collector is a prometheus.Collector over allocator snapshots plus frame
// counters.
type Collector struct {
	mu        sync.Mutex
	snapshots map[string]snapshot

	frames        prometheus.Counter
	uploadedBytes prometheus.Counter
	submittedDraw prometheus.Counter
	frameDraws    prometheus.Histogram
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector() *Collector {
	return &Collector{
		snapshots: make(map[string]snapshot),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames rendered",
		}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes of buffers and textures uploaded",
		}),
		submittedDraw: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submitted_draw_calls_total",
			Help:      "Non-empty draw calls submitted",
		}),
		frameDraws: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_draw_calls",
			Help:      "Histogram of draw calls submitted per frame",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}),
	}
}

func (c *Collector) ObserveBatch(name string, s batch.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[name] = snapshot{
		spaces: []spaceStats{
			{space: "position", stats: s.Positions},
			{space: "index", stats: s.Indices},
		},
		drawCalls: s.Draws,
		maxDraws:  s.MaxDraws,
	}
}

func (c *Collector) ObserveInstanced(name string, s instanced.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[name] = snapshot{
		spaces:    []spaceStats{{space: "draw_call", stats: s.Slots}},
		drawCalls: s.DrawCalls,
		maxDraws:  s.Slots.Capacity,
		instances: s.Instances,
		instanced: true,
	}
}

func (c *Collector) ObserveFrame(s render.FrameStats) {
	c.frames.Inc()
	c.uploadedBytes.Add(float64(s.UploadedBytes))
	c.submittedDraw.Add(float64(s.DrawCalls))
	c.frameDraws.Observe(float64(s.DrawCalls))
}

// Forget drops the snapshot of a retired allocator.
func (c *Collector) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, name)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- capacityDesc
	ch <- availableDesc
	ch <- largestFreeDesc
	ch <- slotsDesc
	ch <- drawCallsDesc
	ch <- maxDrawCallsDesc
	ch <- instancesDesc
	c.frames.Describe(ch)
	c.uploadedBytes.Describe(ch)
	c.submittedDraw.Describe(ch)
	c.frameDraws.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	names := make([]string, 0, len(c.snapshots))
	for name := range c.snapshots {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		snap := c.snapshots[name]
		for _, sp := range snap.spaces {
			ch <- prometheus.MustNewConstMetric(capacityDesc, prometheus.GaugeValue, float64(sp.stats.Capacity), name, sp.space)
			ch <- prometheus.MustNewConstMetric(availableDesc, prometheus.GaugeValue, float64(sp.stats.Available), name, sp.space)
			ch <- prometheus.MustNewConstMetric(largestFreeDesc, prometheus.GaugeValue, float64(sp.stats.LargestFree), name, sp.space)
			ch <- prometheus.MustNewConstMetric(slotsDesc, prometheus.GaugeValue, float64(sp.stats.UsedSlots), name, sp.space, "used")
			ch <- prometheus.MustNewConstMetric(slotsDesc, prometheus.GaugeValue, float64(sp.stats.FreeSlots), name, sp.space, "free")
		}
		ch <- prometheus.MustNewConstMetric(drawCallsDesc, prometheus.GaugeValue, float64(snap.drawCalls), name)
		ch <- prometheus.MustNewConstMetric(maxDrawCallsDesc, prometheus.GaugeValue, float64(snap.maxDraws), name)
		if snap.instanced {
			ch <- prometheus.MustNewConstMetric(instancesDesc, prometheus.GaugeValue, float64(snap.instances), name)
		}
	}
	c.mu.Unlock()

	c.frames.Collect(ch)
	c.uploadedBytes.Collect(ch)
	c.submittedDraw.Collect(ch)
	c.frameDraws.Collect(ch)
}
