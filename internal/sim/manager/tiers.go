package manager

import (
	"container/list"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/space"
)

// tier is an insertion-ordered coordinate index with a resumable round-robin cursor.
type tier struct {
	l      *list.List
	m      map[space.Vec3i]*list.Element
	cursor *list.Element
}

func newTier() *tier {
	return &tier{l: list.New(), m: map[space.Vec3i]*list.Element{}}
}

func (t *tier) len() int { return t.l.Len() }

func (t *tier) has(coord space.Vec3i) bool {
	_, ok := t.m[coord]
	return ok
}

func (t *tier) get(coord space.Vec3i) *chunk.Chunk {
	e, ok := t.m[coord]
	if !ok {
		return nil
	}
	return e.Value.(*chunk.Chunk)
}

func (t *tier) add(c *chunk.Chunk) {
	if _, ok := t.m[c.Coord]; ok {
		return
	}
	t.m[c.Coord] = t.l.PushBack(c)
}

func (t *tier) remove(coord space.Vec3i) {
	e, ok := t.m[coord]
	if !ok {
		return
	}
	if t.cursor == e {
		t.cursor = e.Next()
	}
	t.l.Remove(e)
	delete(t.m, coord)
}

// next returns the chunk under the cursor and advances it, wrapping at the end.
func (t *tier) next() *chunk.Chunk {
	if t.l.Len() == 0 {
		return nil
	}
	if t.cursor == nil {
		t.cursor = t.l.Front()
	}
	c := t.cursor.Value.(*chunk.Chunk)
	t.cursor = t.cursor.Next()
	return c
}

func (t *tier) each(fn func(c *chunk.Chunk) bool) {
	for e := t.l.Front(); e != nil; {
		nx := e.Next()
		if !fn(e.Value.(*chunk.Chunk)) {
			return
		}
		e = nx
	}
}

func (t *tier) coords() []space.Vec3i {
	out := make([]space.Vec3i, 0, t.l.Len())
	for e := t.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*chunk.Chunk).Coord)
	}
	return out
}

// farthest scans in tier order and replaces the running best only when a candidate is
// strictly farther, so the first of equally distant candidates wins.
func (t *tier) farthest(ok func(c *chunk.Chunk) bool) *chunk.Chunk {
	var best *chunk.Chunk
	for e := t.l.Front(); e != nil; e = e.Next() {
		c := e.Value.(*chunk.Chunk)
		if !ok(c) {
			continue
		}
		if best == nil || c.Dist > best.Dist {
			best = c
		}
	}
	return best
}
