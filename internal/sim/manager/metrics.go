package manager

import "sync/atomic"

type counters struct {
	loads      atomic.Uint64
	loadErrors atomic.Uint64
	saves      atomic.Uint64
	saveErrors atomic.Uint64
	created    atomic.Uint64
	deleted    atomic.Uint64
	rejections atomic.Uint64
	events     atomic.Uint64
}

// Stats is a read-only view of the manager, refreshed after every tick and operation.
// It is safe to read from HTTP handlers while the tick loop runs.
type Stats struct {
	Tick  uint64 `json:"tick"`
	Phase int    `json:"phase"`

	Known    int `json:"known"`
	Loaded   int `json:"loaded"`
	Active   int `json:"active"`
	Dirty    int `json:"dirty"`
	Hotspots int `json:"hotspots"`

	Limits    Limits `json:"limits"`
	ChunkSize int    `json:"chunk_size"`
	Backup    string `json:"backup_strategy"`

	BranchRoots int `json:"branch_roots"`
	BranchNodes int `json:"branch_nodes"`

	Loads      uint64 `json:"loads_total"`
	LoadErrors uint64 `json:"load_errors_total"`
	Saves      uint64 `json:"saves_total"`
	SaveErrors uint64 `json:"save_errors_total"`
	Created    uint64 `json:"created_total"`
	Deleted    uint64 `json:"deleted_total"`
	Rejections uint64 `json:"rejections_total"`
	Events     uint64 `json:"events_total"`
}

func (m *Manager) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	v := m.stats.Load()
	if v == nil {
		return Stats{}
	}
	s, ok := v.(Stats)
	if !ok {
		return Stats{}
	}
	return s
}

func (m *Manager) publishLocked() {
	m.stats.Store(Stats{
		Tick:        m.tick,
		Phase:       m.phase,
		Known:       m.known.len(),
		Loaded:      m.loaded.len(),
		Active:      m.active.len(),
		Dirty:       int(m.dirty.Load()),
		Hotspots:    m.hotspots.Len(),
		Limits:      m.limitsLocked(),
		ChunkSize:   m.cfg.ChunkSize,
		Backup:      m.cfg.BackupStrategy,
		BranchRoots: m.tree.Roots(),
		BranchNodes: m.tree.Nodes(),
		Loads:       m.counters.loads.Load(),
		LoadErrors:  m.counters.loadErrors.Load(),
		Saves:       m.counters.saves.Load(),
		SaveErrors:  m.counters.saveErrors.Load(),
		Created:     m.counters.created.Load(),
		Deleted:     m.counters.deleted.Load(),
		Rejections:  m.counters.rejections.Load(),
		Events:      m.counters.events.Load(),
	})
}
