package manager

import (
	"context"
	"fmt"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/space"
)

// Every transition below validates its precondition and refuses, with a sentinel error and a
// log line, instead of silently succeeding twice.

// LoadChunk restores the chunk payload from the store, or initialises an empty payload and
// fires chunk_created when the coordinate has never been persisted.
func (m *Manager) LoadChunk(ctx context.Context, coord space.Vec3i) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	err := m.loadLocked(ctx, coord)
	m.publishLocked()
	return err
}

func (m *Manager) ActivateChunk(coord space.Vec3i) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	err := m.activateLocked(coord)
	m.publishLocked()
	return err
}

func (m *Manager) DeactivateChunk(coord space.Vec3i) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	err := m.deactivateLocked(coord)
	m.publishLocked()
	return err
}

// UnloadChunk saves a dirty payload before dropping it. A failed save aborts the unload.
func (m *Manager) UnloadChunk(ctx context.Context, coord space.Vec3i) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	err := m.unloadLocked(ctx, coord)
	m.publishLocked()
	return err
}

func (m *Manager) DeleteChunk(coord space.Vec3i) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	err := m.deleteLocked(coord)
	m.publishLocked()
	return err
}

func (m *Manager) loadLocked(ctx context.Context, coord space.Vec3i) error {
	c := m.known.get(coord)
	if c == nil {
		return m.reject("load", coord, ErrUnknownChunk)
	}
	if c.Loaded() {
		return m.reject("load", coord, ErrAlreadyLoaded)
	}
	if m.loaded.len() >= m.cfg.MaxLoaded {
		return m.reject("load", coord, ErrCapacity)
	}

	created := false
	rec, err := m.store.Load(ctx, c.Key())
	switch {
	case err == nil:
		c.Restore(rec)
	case chunk.IsNotFound(err):
		c.Init()
		created = true
	default:
		m.counters.loadErrors.Add(1)
		m.logf("chunks load coord=%s err=%v", coord, err)
		return fmt.Errorf("load chunk %s: %w", coord, err)
	}

	m.loaded.add(c)
	m.counters.loads.Add(1)
	if created {
		m.counters.created.Add(1)
		m.emitChunk(events.ChunkCreated, c)
	}
	m.emitChunk(events.ChunkLoaded, c)
	return nil
}

func (m *Manager) activateLocked(coord space.Vec3i) error {
	c := m.known.get(coord)
	if c == nil {
		return m.reject("activate", coord, ErrUnknownChunk)
	}
	if !c.Loaded() {
		return m.reject("activate", coord, ErrNotLoaded)
	}
	if c.Active() {
		return m.reject("activate", coord, ErrAlreadyActive)
	}
	if m.active.len() >= m.cfg.MaxActive {
		return m.reject("activate", coord, ErrCapacity)
	}
	c.SetActive(true)
	m.active.add(c)
	m.emitChunk(events.ChunkActivated, c)
	return nil
}

func (m *Manager) deactivateLocked(coord space.Vec3i) error {
	c := m.known.get(coord)
	if c == nil {
		return m.reject("deactivate", coord, ErrUnknownChunk)
	}
	if !c.Active() {
		return m.reject("deactivate", coord, ErrNotActive)
	}
	c.SetActive(false)
	m.active.remove(coord)
	m.emitChunk(events.ChunkDeactivated, c)
	return nil
}

func (m *Manager) unloadLocked(ctx context.Context, coord space.Vec3i) error {
	c := m.known.get(coord)
	if c == nil {
		return m.reject("unload", coord, ErrUnknownChunk)
	}
	if !c.Loaded() {
		return m.reject("unload", coord, ErrNotLoaded)
	}
	if c.Active() {
		return m.reject("unload", coord, ErrStillActive)
	}
	if c.DataChanged() {
		if err := m.saveLocked(ctx, c); err != nil {
			return err
		}
	}
	c.Clear()
	m.loaded.remove(coord)
	m.emitChunk(events.ChunkUnloaded, c)
	return nil
}

func (m *Manager) deleteLocked(coord space.Vec3i) error {
	c := m.known.get(coord)
	if c == nil {
		return m.reject("delete", coord, ErrUnknownChunk)
	}
	if c.Active() {
		return m.reject("delete", coord, ErrStillActive)
	}
	if c.Loaded() {
		return m.reject("delete", coord, ErrStillLoaded)
	}
	m.known.remove(coord)
	m.counters.deleted.Add(1)
	m.emitChunk(events.ChunkDeleted, c)
	return nil
}

func (m *Manager) saveLocked(ctx context.Context, c *chunk.Chunk) error {
	if err := m.store.Save(ctx, c.Record()); err != nil {
		m.counters.saveErrors.Add(1)
		m.logf("chunks save coord=%s err=%v", c.Coord, err)
		return fmt.Errorf("save chunk %s: %w", c.Coord, err)
	}
	c.Saved()
	m.counters.saves.Add(1)
	return nil
}
