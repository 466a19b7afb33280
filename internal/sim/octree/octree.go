// Package octree implements the lazily subdivided region tree used for sub-chunk addressing.
package octree

import "voxelstream.ai/internal/sim/space"

// MaxLevels bounds descent for degenerate sizes.
const MaxLevels = 54

// Node is one cube of the subdivision. Children are allocated as an 8-slot array the first
// time any child is needed; leaves never allocate.
type Node struct {
	Pos   space.Vec3i
	Size  int
	Level int

	// Value is owned by the collaborator addressing this node.
	Value any

	children *[8]*Node
}

// Child returns the child at index i (bx + 2*by + 4*bz) or nil.
func (n *Node) Child(i int) *Node {
	if n == nil || n.children == nil || i < 0 || i > 7 {
		return nil
	}
	return n.children[i]
}

func (n *Node) HasChildren() bool { return n != nil && n.children != nil }

// Observer is notified whenever a root or branch is created.
type Observer func(n *Node)

type Tree struct {
	maxSize int
	levels  int
	roots   map[space.Vec3i]*Node
	nodes   int

	onBranch Observer
}

// NewTree rounds maxSize up to a power of two.
func NewTree(maxSize int, onBranch Observer) *Tree {
	size := ceilPow2(maxSize)
	return &Tree{
		maxSize:  size,
		levels:   levelsFor(size),
		roots:    map[space.Vec3i]*Node{},
		onBranch: onBranch,
	}
}

func (t *Tree) MaxSize() int { return t.maxSize }
func (t *Tree) Levels() int  { return t.levels }
func (t *Tree) Roots() int   { return len(t.roots) }
func (t *Tree) Nodes() int   { return t.nodes }

// Root returns the root anchored at coord, if any.
func (t *Tree) Root(coord space.Vec3i) *Node { return t.roots[coord] }

// GetBranch descends from the root containing pos toward a leaf, stopping at size 1 or at
// maxDepth (negative means unbounded). Missing nodes are created when createMissing is set;
// otherwise the deepest existing ancestor is returned (nil when the root itself is missing).
func (t *Tree) GetBranch(pos space.Vec3, maxDepth int, createMissing bool) *Node {
	rootPos := space.Vec3i{
		X: space.Snap(pos.X, t.maxSize),
		Y: space.Snap(pos.Y, t.maxSize),
		Z: space.Snap(pos.Z, t.maxSize),
	}
	node := t.roots[rootPos]
	if node == nil {
		if !createMissing {
			return nil
		}
		node = &Node{Pos: rootPos, Size: t.maxSize}
		t.roots[rootPos] = node
		t.added(node)
	}

	for {
		if node.Size <= 1 || node.Level >= t.levels || (maxDepth >= 0 && node.Level >= maxDepth) {
			return node
		}
		half := node.Size / 2
		idx, off := childIndex(node, pos, half)
		if node.children == nil {
			if !createMissing {
				return node
			}
			node.children = new([8]*Node)
		}
		child := node.children[idx]
		if child == nil {
			if !createMissing {
				return node
			}
			child = &Node{
				Pos:   node.Pos.Add(off),
				Size:  half,
				Level: node.Level + 1,
			}
			node.children[idx] = child
			t.added(child)
		}
		node = child
	}
}

// Walk visits every node depth-first, roots in unspecified order.
func (t *Tree) Walk(fn func(n *Node) bool) {
	var visit func(n *Node) bool
	visit = func(n *Node) bool {
		if !fn(n) {
			return false
		}
		if n.children == nil {
			return true
		}
		for _, c := range n.children {
			if c != nil && !visit(c) {
				return false
			}
		}
		return true
	}
	for _, r := range t.roots {
		if !visit(r) {
			return
		}
	}
}

func (t *Tree) added(n *Node) {
	t.nodes++
	if t.onBranch != nil {
		t.onBranch(n)
	}
}

func childIndex(n *Node, pos space.Vec3, half int) (int, space.Vec3i) {
	var idx int
	var off space.Vec3i
	if pos.X >= float64(n.Pos.X+half) {
		idx |= 1
		off.X = half
	}
	if pos.Y >= float64(n.Pos.Y+half) {
		idx |= 2
		off.Y = half
	}
	if pos.Z >= float64(n.Pos.Z+half) {
		idx |= 4
		off.Z = half
	}
	return idx, off
}

func levelsFor(size int) int {
	levels := 0
	for size > 1 && levels < MaxLevels {
		size /= 2
		levels++
	}
	return levels
}

func ceilPow2(v int) int {
	p := 1
	for p < v && p < 1<<MaxLevels {
		p <<= 1
	}
	return p
}
