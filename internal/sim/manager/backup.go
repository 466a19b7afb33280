package manager

import (
	"context"
	"errors"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/tuning"
)

func (m *Manager) backupLocked(ctx context.Context) {
	switch m.cfg.BackupStrategy {
	case tuning.BackupConstantRoundRobin:
		m.saveRoundRobinLocked(ctx, m.loaded.len())

	case tuning.BackupIntervalRoundRobin:
		if !m.sweeping {
			now := m.now()
			if now.Sub(m.lastSweep) < m.cfg.BackupInterval {
				return
			}
			m.lastSweep = now
			m.sweeping = true
			m.sweepLeft = m.loaded.len()
		}
		m.sweepLeft -= m.saveRoundRobinLocked(ctx, m.sweepLeft)
		if m.sweepLeft <= 0 {
			m.sweeping = false
		}

	case tuning.BackupIntervalAll:
		now := m.now()
		if now.Sub(m.lastSweep) < m.cfg.BackupInterval {
			return
		}
		m.lastSweep = now
		if n, err := m.flushLocked(ctx); err != nil || n > 0 {
			m.logf("chunks backup strategy=interval-all saved=%d err=%v", n, err)
		}
	}
}

// saveRoundRobinLocked walks at most limit loaded chunks from the cursor, saving dirty ones
// until backup_batch saves were made. It returns how many chunks it examined.
func (m *Manager) saveRoundRobinLocked(ctx context.Context, limit int) int {
	if n := m.loaded.len(); limit > n {
		limit = n
	}
	saved, seen := 0, 0
	for seen < limit && saved < m.cfg.BackupBatch {
		c := m.loaded.next()
		seen++
		if !c.DataChanged() {
			continue
		}
		if err := m.saveLocked(ctx, c); err == nil {
			saved++
		}
	}
	return seen
}

// Flush saves every dirty loaded chunk now.
func (m *Manager) Flush(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.flushLocked(ctx)
	m.publishLocked()
	return n, err
}

func (m *Manager) flushLocked(ctx context.Context) (int, error) {
	var errs []error
	n := 0
	m.loaded.each(func(c *chunk.Chunk) bool {
		if !c.DataChanged() {
			return true
		}
		if err := m.saveLocked(ctx, c); err != nil {
			errs = append(errs, err)
			return true
		}
		n++
		return true
	})
	return n, errors.Join(errs...)
}
