package manager

import (
	"context"
	"math"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/space"
)

// Maintenance slots. One slot runs per tick.
const (
	PhaseDiscover = iota
	PhaseDistance
	PhasePromote
	PhaseDemote
	PhaseBackup
	PhaseReserved5
	PhaseReserved6
	PhaseReserved7

	PhaseCount
)

// PhaseFunc is a pluggable maintenance step for the reserved slots. It runs without the
// manager lock held and may call any exported method.
type PhaseFunc func(ctx context.Context, m *Manager)

// RegisterPhase installs fn in one of the reserved slots 5..7. A nil fn clears the slot.
func (m *Manager) RegisterPhase(slot int, fn PhaseFunc) error {
	if slot < PhaseReserved5 || slot >= PhaseCount {
		return ErrReservedSlot
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[slot] = fn
	return nil
}

// Phase returns the slot the next Tick will run.
func (m *Manager) Phase() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Tick runs exactly one maintenance slot and advances the cycle. It is a no-op after Close.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	slot := m.phase
	m.phase = (m.phase + 1) % PhaseCount
	m.tick++

	var hook PhaseFunc
	switch slot {
	case PhaseDiscover:
		m.discoverLocked()
	case PhaseDistance:
		m.refreshDistancesLocked()
	case PhasePromote:
		m.promoteLocked(ctx)
	case PhaseDemote:
		m.demoteLocked(ctx)
	case PhaseBackup:
		m.backupLocked(ctx)
	default:
		hook = m.hooks[slot]
	}
	m.publishLocked()
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, m)
	}
}

// discoverLocked probes the cube around the next hotspot, ring by ring from its centre,
// and seeds the known tier. When the tier is full a probe only gets in by evicting a
// known-unloaded chunk that is strictly farther from every hotspot than the probe itself.
func (m *Manager) discoverLocked() {
	n := m.hotspots.Len()
	if n == 0 {
		return
	}
	idx := m.discoverIdx % n
	m.discoverIdx = (idx + 1) % n
	h := m.hotspots.At(idx)

	size := m.cfg.ChunkSize
	reach := int(math.Ceil(h.Radius))
	var victim *chunk.Chunk
	for r := 0; r <= reach; r++ {
		for _, d := range space.CubeRing(r) {
			p := h.Pos.Add(d.Vec3().Scale(float64(size)))
			coord := space.ChunkCoordFor(p, size)
			if m.known.has(coord) {
				continue
			}
			if m.known.len() >= m.cfg.MaxChunks {
				if victim == nil {
					victim = m.known.farthest(func(c *chunk.Chunk) bool { return !c.Loaded() })
				}
				if victim == nil {
					return
				}
				dist, _ := m.hotspots.Nearest(space.Center(coord, size))
				if victim.Dist <= dist {
					continue
				}
				if err := m.deleteLocked(victim.Coord); err != nil {
					return
				}
				victim = nil
			}
			_, _ = m.getOrCreateLocked(coord)
		}
	}
}

func (m *Manager) refreshDistancesLocked() {
	if m.hotspots.Len() == 0 {
		return
	}
	batch := m.cfg.DistanceBatch
	if n := m.known.len(); batch > n {
		batch = n
	}
	for i := 0; i < batch; i++ {
		c := m.known.next()
		d, _ := m.hotspots.Nearest(c.Center())
		c.Dist = d
		m.emitChunk(events.DistanceUpdated, c)
	}
}

// promoteLocked loads one known chunk and activates one loaded chunk when there is room.
// Both picks use the farthest-wins rule of tier.farthest.
func (m *Manager) promoteLocked(ctx context.Context) {
	if m.loaded.len() < m.cfg.MaxLoaded {
		if c := m.known.farthest(func(c *chunk.Chunk) bool { return !c.Loaded() }); c != nil {
			_ = m.loadLocked(ctx, c.Coord)
		}
	}
	if m.active.len() < m.cfg.MaxActive {
		if c := m.loaded.farthest(func(c *chunk.Chunk) bool { return !c.Active() }); c != nil {
			_ = m.activateLocked(c.Coord)
		}
	}
}

func (m *Manager) demoteLocked(ctx context.Context) {
	if m.known.len() > m.cfg.MaxChunks {
		if c := m.known.farthest(func(c *chunk.Chunk) bool { return !c.Loaded() }); c != nil {
			_ = m.deleteLocked(c.Coord)
		}
	}
	if m.loaded.len() > m.cfg.MaxLoaded {
		if c := m.loaded.farthest(func(c *chunk.Chunk) bool { return !c.Active() }); c != nil {
			_ = m.unloadLocked(ctx, c.Coord)
		}
	}
	if m.active.len() > m.cfg.MaxActive {
		if c := m.active.farthest(func(*chunk.Chunk) bool { return true }); c != nil {
			_ = m.deactivateLocked(c.Coord)
		}
	}
}
