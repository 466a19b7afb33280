// Package observability exposes chunk streaming state as Prometheus metrics.
package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/manager"
)

// StatsSource returns the latest manager snapshot. manager.Manager.Stats satisfies it.
type StatsSource func() manager.Stats

// ChunkCollector bundles the chunk manager gauges, lifecycle counters and HTTP metrics.
type ChunkCollector struct {
	gatherer prometheus.Gatherer

	Events       *prometheus.CounterVec
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewChunkCollector registers against reg, defaulting to the global registry when nil.
func NewChunkCollector(reg prometheus.Registerer, src StatsSource) (*ChunkCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	gauges := []struct {
		name, help string
		fn         func(s manager.Stats) float64
	}{
		{"voxel_chunks_known", "Chunks in the known tier.", func(s manager.Stats) float64 { return float64(s.Known) }},
		{"voxel_chunks_loaded", "Chunks with a resident payload.", func(s manager.Stats) float64 { return float64(s.Loaded) }},
		{"voxel_chunks_active", "Chunks eligible for simulation.", func(s manager.Stats) float64 { return float64(s.Active) }},
		{"voxel_chunks_dirty", "Loaded chunks with unsaved changes.", func(s manager.Stats) float64 { return float64(s.Dirty) }},
		{"voxel_hotspots", "Registered hotspots.", func(s manager.Stats) float64 { return float64(s.Hotspots) }},
		{"voxel_max_chunks", "Capacity of the known tier.", func(s manager.Stats) float64 { return float64(s.Limits.MaxChunks) }},
		{"voxel_max_loaded", "Capacity of the loaded tier.", func(s manager.Stats) float64 { return float64(s.Limits.MaxLoaded) }},
		{"voxel_max_active", "Capacity of the active tier.", func(s manager.Stats) float64 { return float64(s.Limits.MaxActive) }},
		{"voxel_tick", "Current maintenance tick.", func(s manager.Stats) float64 { return float64(s.Tick) }},
		{"voxel_phase", "Next maintenance slot.", func(s manager.Stats) float64 { return float64(s.Phase) }},
		{"voxel_branch_nodes", "Allocated subdivision nodes.", func(s manager.Stats) float64 { return float64(s.BranchNodes) }},
	}
	for _, g := range gauges {
		fn := g.fn
		c := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: g.name, Help: g.help}, func() float64 { return fn(src()) })
		if err := register(reg, c, g.name); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		name, help string
		fn         func(s manager.Stats) uint64
	}{
		{"voxel_chunk_loads_total", "Successful chunk loads.", func(s manager.Stats) uint64 { return s.Loads }},
		{"voxel_chunk_load_errors_total", "Chunk loads that failed in the store.", func(s manager.Stats) uint64 { return s.LoadErrors }},
		{"voxel_chunk_saves_total", "Chunk payloads written to the store.", func(s manager.Stats) uint64 { return s.Saves }},
		{"voxel_chunk_save_errors_total", "Chunk saves that failed.", func(s manager.Stats) uint64 { return s.SaveErrors }},
		{"voxel_chunks_created_total", "Chunks initialised for the first time.", func(s manager.Stats) uint64 { return s.Created }},
		{"voxel_chunks_deleted_total", "Chunks removed from the known tier.", func(s manager.Stats) uint64 { return s.Deleted }},
		{"voxel_lifecycle_rejections_total", "Lifecycle transitions refused by a precondition.", func(s manager.Stats) uint64 { return s.Rejections }},
	}
	for _, c := range counters {
		fn := c.fn
		cf := prometheus.NewCounterFunc(prometheus.CounterOpts{Name: c.name, Help: c.help}, func() float64 { return float64(fn(src())) })
		if err := register(reg, cf, c.name); err != nil {
			return nil, err
		}
	}

	evs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxel_events_total",
		Help: "Lifecycle notifications emitted, labeled by kind.",
	}, []string{"kind"})
	if err := register(reg, evs, "voxel_events_total"); err != nil {
		return nil, err
	}
	reqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxel_http_requests_total",
		Help: "HTTP requests, labeled by route and status code.",
	}, []string{"route", "code"})
	if err := register(reg, reqs, "voxel_http_requests_total"); err != nil {
		return nil, err
	}
	dur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voxel_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"route"})
	if err := register(reg, dur, "voxel_http_request_duration_seconds"); err != nil {
		return nil, err
	}

	return &ChunkCollector{
		gatherer:     gatherer,
		Events:       evs,
		HTTPRequests: reqs,
		HTTPDuration: dur,
	}, nil
}

// Listener counts every event by kind. Subscribe it on the manager's bus.
func (c *ChunkCollector) Listener() events.Listener {
	return func(ev events.Event) {
		if c == nil || c.Events == nil {
			return
		}
		c.Events.WithLabelValues(string(ev.Kind)).Inc()
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ChunkCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Instrument records count and latency for h under route. Websocket routes are counted
// when the handler returns.
func (c *ChunkCollector) Instrument(route string, h http.Handler) http.Handler {
	if c == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h.ServeHTTP(rec, r)
		c.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		c.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func register(reg prometheus.Registerer, c prometheus.Collector, name string) error {
	if err := reg.Register(c); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	return nil
}
