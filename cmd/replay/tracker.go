package main

import (
	"errors"
	"fmt"

	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/space"
)

var errStop = errors.New("stop")

type chunkState struct {
	loaded bool
	active bool
}

// tracker rebuilds tier membership from the event stream. Known-tier additions are debug
// events and may be missing, so a chunk first seen on load is treated as known.
type tracker struct {
	state    map[chunkKey]*chunkState
	hotspots map[string]bool
	byKind   map[events.Kind]int

	total      int
	lastTick   uint64
	violations []string
}

type chunkKey struct {
	size  int
	coord space.Vec3i
}

func newTracker() *tracker {
	return &tracker{
		state:    map[chunkKey]*chunkState{},
		hotspots: map[string]bool{},
		byKind:   map[events.Kind]int{},
	}
}

func (t *tracker) violate(ev events.Event, format string, args ...any) {
	t.violations = append(t.violations, fmt.Sprintf("tick=%d %s %s: %s", ev.Tick, ev.Kind, ev.Coord, fmt.Sprintf(format, args...)))
}

func (t *tracker) apply(ev events.Event) {
	t.total++
	t.byKind[ev.Kind]++
	if ev.Tick < t.lastTick {
		t.violate(ev, "tick went backwards from %d", t.lastTick)
	}
	t.lastTick = ev.Tick

	key := chunkKey{size: ev.Size, coord: ev.Coord}
	st := t.state[key]
	switch ev.Kind {
	case events.ChunkKnownInitialized:
		if st != nil {
			t.violate(ev, "chunk already known")
			return
		}
		t.state[key] = &chunkState{}
	case events.ChunkLoaded:
		if st == nil {
			st = &chunkState{}
			t.state[key] = st
		}
		if st.loaded {
			t.violate(ev, "already loaded")
		}
		st.loaded = true
	case events.ChunkActivated:
		switch {
		case st == nil || !st.loaded:
			t.violate(ev, "activated while not loaded")
		case st.active:
			t.violate(ev, "already active")
		default:
			st.active = true
		}
	case events.ChunkDeactivated:
		if st == nil || !st.active {
			t.violate(ev, "deactivated while not active")
			return
		}
		st.active = false
	case events.ChunkUnloaded:
		switch {
		case st == nil || !st.loaded:
			t.violate(ev, "unloaded while not loaded")
		case st.active:
			t.violate(ev, "unloaded while still active")
		default:
			st.loaded = false
		}
	case events.ChunkDeleted:
		if st != nil && st.loaded {
			t.violate(ev, "deleted while still loaded")
		}
		delete(t.state, key)
	case events.HotspotAdded:
		if t.hotspots[ev.Hotspot] {
			t.violate(ev, "hotspot %s added twice", ev.Hotspot)
		}
		t.hotspots[ev.Hotspot] = true
	case events.HotspotRemoved:
		if !t.hotspots[ev.Hotspot] {
			t.violate(ev, "hotspot %s removed but never added", ev.Hotspot)
		}
		delete(t.hotspots, ev.Hotspot)
	}
}

func (t *tracker) loadedCount() int {
	n := 0
	for _, st := range t.state {
		if st.loaded {
			n++
		}
	}
	return n
}

func (t *tracker) activeCount() int {
	n := 0
	for _, st := range t.state {
		if st.active {
			n++
		}
	}
	return n
}
