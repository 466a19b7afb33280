package manager

import (
	"context"
	"time"
)

// Run ticks the manager at tick_rate_hz until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(m.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logf("chunks loop start tick_rate_hz=%d chunk_size=%d backup=%s", m.cfg.TickRateHz, m.cfg.ChunkSize, m.cfg.BackupStrategy)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}
