// Package manager owns every chunk and moves them between the known, loaded and active
// tiers around registered hotspots.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/hotspot"
	"voxelstream.ai/internal/sim/octree"
	"voxelstream.ai/internal/sim/space"
	"voxelstream.ai/internal/sim/tuning"
)

var (
	ErrUnknownChunk  = errors.New("chunk not known")
	ErrAlreadyLoaded = errors.New("chunk already loaded")
	ErrAlreadyActive = errors.New("chunk already active")
	ErrNotLoaded     = errors.New("chunk not loaded")
	ErrNotActive     = errors.New("chunk not active")
	ErrStillLoaded   = errors.New("chunk still loaded")
	ErrStillActive   = errors.New("chunk still active")
	ErrCapacity      = errors.New("tier at capacity")
	ErrReservedSlot  = errors.New("phase slot is not pluggable")
	ErrClosed        = errors.New("manager closed")
)

type Config struct {
	ChunkSize  int
	TickRateHz int
	ThreadMode string

	MaxChunks int
	MaxLoaded int
	MaxActive int

	DistanceBatch int

	BackupStrategy string
	BackupInterval time.Duration
	BackupBatch    int
}

func FromTuning(t tuning.Tuning) Config {
	return Config{
		ChunkSize:      t.ChunkSize,
		TickRateHz:     t.TickRateHz,
		ThreadMode:     t.ThreadMode,
		MaxChunks:      t.MaxChunks,
		MaxLoaded:      t.MaxLoaded,
		MaxActive:      t.MaxActive,
		DistanceBatch:  t.DistanceBatch,
		BackupStrategy: t.BackupStrategy,
		BackupInterval: time.Duration(t.BackupIntervalSeconds) * time.Second,
		BackupBatch:    t.BackupBatch,
	}
}

type Limits struct {
	MaxChunks int `json:"max_chunks"`
	MaxLoaded int `json:"max_loaded"`
	MaxActive int `json:"max_active"`
}

type Option func(*Manager)

// WithClock replaces time.Now for backup interval decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type Manager struct {
	mu sync.Mutex

	cfg    Config
	store  chunk.Store
	bus    *events.Bus
	logger *log.Logger
	now    func() time.Time

	known  *tier
	loaded *tier
	active *tier

	hotspots    *hotspot.Set
	discoverIdx int

	tree *octree.Tree

	tick  uint64
	phase int
	hooks [PhaseCount]PhaseFunc

	lastSweep time.Time
	sweeping  bool
	sweepLeft int

	counters counters
	dirty    atomic.Int64
	closed   bool

	stats atomic.Value
}

// New builds a manager. A nil store keeps payloads in memory only.
func New(cfg Config, store chunk.Store, bus *events.Bus, logger *log.Logger, opts ...Option) *Manager {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if cfg.DistanceBatch <= 0 {
		cfg.DistanceBatch = 3
	}
	if cfg.BackupBatch <= 0 {
		cfg.BackupBatch = 1
	}
	if cfg.BackupStrategy == "" {
		cfg.BackupStrategy = tuning.BackupAtExit
	}
	if store == nil {
		store = chunk.NewMemStore()
	}
	m := &Manager{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: logger,
		now:    time.Now,
		known:  newTier(),
		loaded: newTier(),
		active: newTier(),
	}
	for _, o := range opts {
		o(m)
	}
	m.lastSweep = m.now()

	m.hotspots = hotspot.NewSet(0)
	m.hotspots.OnAdded = func(e hotspot.Entry) {
		m.emit(events.Event{Kind: events.HotspotAdded, Hotspot: string(e.ID), Radius: e.Radius})
	}
	m.hotspots.OnRemoved = func(e hotspot.Entry) {
		m.emit(events.Event{Kind: events.HotspotRemoved, Hotspot: string(e.ID), Radius: e.Radius})
	}
	m.tree = octree.NewTree(cfg.ChunkSize, func(n *octree.Node) {
		m.emit(events.Event{Kind: events.BranchAdded, Coord: n.Pos, Size: n.Size, Level: n.Level})
	})

	// Clamp through the setters so the hierarchy holds from the start.
	m.setMaxChunksLocked(cfg.MaxChunks)
	m.setMaxLoadedLocked(cfg.MaxLoaded)
	m.setMaxActiveLocked(cfg.MaxActive)

	if cfg.ThreadMode == tuning.ThreadThreaded {
		m.logf("thread_mode=threaded is not implemented; running single worker")
	}
	m.publishLocked()
	return m
}

func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *Manager) ChunkSize() int { return m.cfg.ChunkSize }

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

func (m *Manager) emit(ev events.Event) {
	if m.bus == nil {
		return
	}
	ev.Tick = m.tick
	m.counters.events.Add(1)
	m.bus.Emit(ev)
}

func (m *Manager) emitChunk(kind events.Kind, c *chunk.Chunk) {
	m.emit(events.Event{Kind: kind, Coord: c.Coord, Size: c.Size, Dist: finite(c.Dist)})
}

// finite keeps +Inf out of JSON encoders.
func finite(d float64) float64 {
	if math.IsInf(d, 0) || math.IsNaN(d) {
		return -1
	}
	return d
}

// reject logs a refused transition and hands the error back.
func (m *Manager) reject(op string, coord space.Vec3i, err error) error {
	m.counters.rejections.Add(1)
	m.logf("chunks reject op=%s coord=%s err=%v", op, coord, err)
	return err
}

// --- capacity ---

func (m *Manager) Limits() Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limitsLocked()
}

func (m *Manager) limitsLocked() Limits {
	return Limits{MaxChunks: m.cfg.MaxChunks, MaxLoaded: m.cfg.MaxLoaded, MaxActive: m.cfg.MaxActive}
}

// SetMaxChunks pulls max_loaded and max_active down to n when needed.
func (m *Manager) SetMaxChunks(n int) Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setMaxChunksLocked(n)
	m.publishLocked()
	return m.limitsLocked()
}

// SetMaxLoaded raises max_chunks or lowers max_active to keep the hierarchy.
func (m *Manager) SetMaxLoaded(n int) Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setMaxLoadedLocked(n)
	m.publishLocked()
	return m.limitsLocked()
}

// SetMaxActive raises max_loaded (and max_chunks) when n exceeds them.
func (m *Manager) SetMaxActive(n int) Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setMaxActiveLocked(n)
	m.publishLocked()
	return m.limitsLocked()
}

func (m *Manager) setMaxChunksLocked(n int) {
	if n < 0 {
		n = 0
	}
	m.cfg.MaxChunks = n
	if m.cfg.MaxLoaded > n {
		m.cfg.MaxLoaded = n
	}
	if m.cfg.MaxActive > m.cfg.MaxLoaded {
		m.cfg.MaxActive = m.cfg.MaxLoaded
	}
	m.hotspots.Recompute(float64(m.cfg.MaxActive))
}

func (m *Manager) setMaxLoadedLocked(n int) {
	if n < 0 {
		n = 0
	}
	m.cfg.MaxLoaded = n
	if n > m.cfg.MaxChunks {
		m.cfg.MaxChunks = n
	}
	if m.cfg.MaxActive > n {
		m.cfg.MaxActive = n
	}
	m.hotspots.Recompute(float64(m.cfg.MaxActive))
}

func (m *Manager) setMaxActiveLocked(n int) {
	if n < 0 {
		n = 0
	}
	m.cfg.MaxActive = n
	if n > m.cfg.MaxLoaded {
		m.cfg.MaxLoaded = n
	}
	if m.cfg.MaxLoaded > m.cfg.MaxChunks {
		m.cfg.MaxChunks = m.cfg.MaxLoaded
	}
	m.hotspots.Recompute(float64(m.cfg.MaxActive))
}

// --- hotspots ---

func (m *Manager) AddHotspot(id hotspot.ID, pos space.Vec3) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := m.hotspots.Add(id, pos); err != nil {
		m.logf("hotspot add id=%s err=%v", id, err)
		return err
	}
	m.publishLocked()
	return nil
}

// RemoveHotspot reports a miss as a warning and leaves the set untouched.
func (m *Manager) RemoveHotspot(id hotspot.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hotspots.Remove(id); err != nil {
		m.logf("warn: hotspot remove id=%s err=%v", id, err)
		return err
	}
	if m.hotspots.Len() > 0 {
		m.discoverIdx %= m.hotspots.Len()
	} else {
		m.discoverIdx = 0
	}
	m.publishLocked()
	return nil
}

func (m *Manager) MoveHotspot(id hotspot.ID, pos space.Vec3) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hotspots.Move(id, pos)
}

func (m *Manager) Hotspot(id hotspot.ID) (hotspot.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hotspots.Get(id)
}

func (m *Manager) Hotspots() []hotspot.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hotspots.Entries()
}

// --- lookups ---

// ChunkAt maps a world point to its chunk. With create set, a missing chunk is
// created in the known tier; a full tier rejects it with ErrCapacity. Only discovery
// evicts to make room.
func (m *Manager) ChunkAt(p space.Vec3, create bool) (*chunk.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coord := space.ChunkCoordFor(p, m.cfg.ChunkSize)
	if !create {
		if c := m.known.get(coord); c != nil {
			return c, nil
		}
		return nil, ErrUnknownChunk
	}
	if m.closed {
		return nil, ErrClosed
	}
	c, err := m.getOrCreateLocked(coord)
	if err != nil {
		return nil, err
	}
	m.publishLocked()
	return c, nil
}

// Chunk returns the chunk at an exact, snapped coordinate.
func (m *Manager) Chunk(coord space.Vec3i) (*chunk.Chunk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.known.get(coord)
	return c, c != nil
}

// View runs fn on a chunk while holding the manager lock. Use it to read or edit payloads
// from goroutines other than the tick loop.
func (m *Manager) View(coord space.Vec3i, fn func(c *chunk.Chunk) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.known.get(coord)
	if c == nil {
		return ErrUnknownChunk
	}
	defer m.publishLocked()
	return fn(c)
}

func (m *Manager) KnownCoords() []space.Vec3i {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known.coords()
}

func (m *Manager) LoadedCoords() []space.Vec3i {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded.coords()
}

func (m *Manager) ActiveCoords() []space.Vec3i {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.coords()
}

func (m *Manager) getOrCreateLocked(coord space.Vec3i) (*chunk.Chunk, error) {
	if c := m.known.get(coord); c != nil {
		return c, nil
	}
	if m.known.len() >= m.cfg.MaxChunks {
		return nil, ErrCapacity
	}
	if space.SnapInt(coord.X, m.cfg.ChunkSize) != coord.X ||
		space.SnapInt(coord.Y, m.cfg.ChunkSize) != coord.Y ||
		space.SnapInt(coord.Z, m.cfg.ChunkSize) != coord.Z {
		return nil, fmt.Errorf("coord %s is not a multiple of chunk size %d", coord, m.cfg.ChunkSize)
	}
	c := chunk.New(coord, m.cfg.ChunkSize)
	c.TrackDirty(&m.dirty)
	if d, ok := m.hotspots.Nearest(c.Center()); ok {
		c.Dist = d
	}
	m.known.add(c)
	m.emitChunk(events.ChunkKnownInitialized, c)
	return c, nil
}

// Branch resolves a subdivision node inside the chunk grid.
func (m *Manager) Branch(p space.Vec3, maxDepth int, create bool) (octree.Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.tree.GetBranch(p, maxDepth, create)
	if create {
		m.publishLocked()
	}
	if n == nil {
		return octree.Node{}, false
	}
	return *n, true
}

// --- teardown ---

// Close flushes dirty loaded chunks unless backups are disabled. Later calls are no-ops.
// Afterwards Tick does nothing and mutating methods return ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.cfg.BackupStrategy == tuning.BackupNone {
		m.logf("chunks close: backup_strategy=none, skipping flush")
		return nil
	}
	n, err := m.flushLocked(ctx)
	m.publishLocked()
	m.logf("chunks close: flushed=%d err=%v", n, err)
	return err
}
