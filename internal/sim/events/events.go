package events

import (
	"sync"

	"voxelstream.ai/internal/sim/space"
)

type Kind string

const (
	ChunkCreated          Kind = "chunk_created"
	ChunkLoaded           Kind = "chunk_loaded"
	ChunkActivated        Kind = "chunk_activated"
	ChunkDeactivated      Kind = "chunk_deactivated"
	ChunkUnloaded         Kind = "chunk_unloaded"
	ChunkKnownInitialized Kind = "chunk_known_initialized"
	ChunkDeleted          Kind = "chunk_deleted"
	DistanceUpdated       Kind = "distance_updated"
	HotspotAdded          Kind = "hotspot_added"
	HotspotRemoved        Kind = "hotspot_removed"
	BranchAdded           Kind = "branch_added"
)

// AllKinds lists every notification in a stable order.
var AllKinds = []Kind{
	ChunkCreated,
	ChunkLoaded,
	ChunkActivated,
	ChunkDeactivated,
	ChunkUnloaded,
	ChunkKnownInitialized,
	ChunkDeleted,
	DistanceUpdated,
	HotspotAdded,
	HotspotRemoved,
	BranchAdded,
}

// Debug kinds are high volume and meant for tooling only.
func (k Kind) Debug() bool {
	switch k {
	case ChunkKnownInitialized, ChunkDeleted, DistanceUpdated:
		return true
	}
	return false
}

type Event struct {
	Kind Kind   `json:"kind"`
	Tick uint64 `json:"tick"`

	Coord space.Vec3i `json:"coord"`
	Size  int         `json:"size,omitempty"`
	Dist  float64     `json:"dist,omitempty"`

	Hotspot string  `json:"hotspot,omitempty"`
	Radius  float64 `json:"radius,omitempty"`

	Level int `json:"level,omitempty"`
}

type Listener func(Event)

// Bus fans events out synchronously, in subscription order.
// Listeners run on the emitter's goroutine and must not call back into the emitter.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners []entry
}

type entry struct {
	id int
	fn Listener
}

func NewBus() *Bus { return &Bus{} }

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Listener) (cancel func()) {
	if b == nil || fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, entry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, e := range b.listeners {
				if e.id == id {
					b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *Bus) Emit(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	ls := b.listeners
	b.mu.RUnlock()
	for _, e := range ls {
		e.fn(ev)
	}
}

func (b *Bus) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
