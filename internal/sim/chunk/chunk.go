package chunk

import (
	"errors"
	"math"
	"sync/atomic"

	"voxelstream.ai/internal/sim/space"
)

var ErrNotLoaded = errors.New("chunk payload not loaded")

// Chunk is the unit of load/save/activate. Coord and Size never change after creation.
type Chunk struct {
	Coord space.Vec3i
	Size  int

	// Dist is the Chebyshev distance from the chunk centre to the closest hotspot,
	// +Inf until the first refresh with at least one hotspot registered.
	Dist float64

	loaded      bool
	active      bool
	dataChanged bool

	data      []byte
	transient map[string]any

	dirty *atomic.Int64
}

func New(coord space.Vec3i, size int) *Chunk {
	return &Chunk{
		Coord: coord,
		Size:  size,
		Dist:  math.Inf(1),
	}
}

// TrackDirty points the chunk at a shared counter of dirty chunks. The counter is adjusted
// on every clean/dirty flip from now on.
func (c *Chunk) TrackDirty(n *atomic.Int64) {
	if c.dirty != nil && c.dataChanged {
		c.dirty.Add(-1)
	}
	c.dirty = n
	if n != nil && c.dataChanged {
		n.Add(1)
	}
}

func (c *Chunk) setChanged(v bool) {
	if c.dataChanged == v {
		return
	}
	c.dataChanged = v
	if c.dirty == nil {
		return
	}
	if v {
		c.dirty.Add(1)
	} else {
		c.dirty.Add(-1)
	}
}

func (c *Chunk) Loaded() bool      { return c.loaded }
func (c *Chunk) Active() bool      { return c.active }
func (c *Chunk) DataChanged() bool { return c.dataChanged }

func (c *Chunk) Key() Key { return Key{Size: c.Size, Coord: c.Coord} }

func (c *Chunk) Center() space.Vec3 { return space.Center(c.Coord, c.Size) }

// Data returns the persistent payload. The slice is owned by the chunk.
func (c *Chunk) Data() ([]byte, error) {
	if !c.loaded {
		return nil, ErrNotLoaded
	}
	return c.data, nil
}

// SetData replaces the persistent payload and marks the chunk dirty.
func (c *Chunk) SetData(b []byte) error {
	if !c.loaded {
		return ErrNotLoaded
	}
	c.data = append(c.data[:0:0], b...)
	c.setChanged(true)
	return nil
}

// MarkChanged flags in-place edits made through the slice returned by Data.
func (c *Chunk) MarkChanged() error {
	if !c.loaded {
		return ErrNotLoaded
	}
	c.setChanged(true)
	return nil
}

// Transient is scratch state that is never persisted and is dropped on unload.
func (c *Chunk) Transient() (map[string]any, error) {
	if !c.loaded {
		return nil, ErrNotLoaded
	}
	if c.transient == nil {
		c.transient = map[string]any{}
	}
	return c.transient, nil
}

// Record is the persisted form of a chunk.
func (c *Chunk) Record() Record {
	return Record{
		Version: RecordVersion,
		Size:    c.Size,
		Coord:   c.Coord,
		Data:    append([]byte(nil), c.data...),
	}
}

// Restore fills the payload from a persisted record and marks the chunk loaded and clean.
func (c *Chunk) Restore(rec Record) {
	c.data = append([]byte(nil), rec.Data...)
	c.loaded = true
	c.setChanged(false)
}

// Init gives a never-persisted chunk an empty payload. It is dirty so the first unload writes it.
func (c *Chunk) Init() {
	c.data = []byte{}
	c.loaded = true
	c.setChanged(true)
}

// Saved clears the dirty flag after a successful save.
func (c *Chunk) Saved() { c.setChanged(false) }

// Clear drops payload and scratch state. The caller has flushed dirty data.
func (c *Chunk) Clear() {
	c.data = nil
	c.transient = nil
	c.loaded = false
	c.setChanged(false)
}

func (c *Chunk) SetActive(v bool) { c.active = v }
