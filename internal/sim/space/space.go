package space

import (
	"fmt"
	"math"
)

// Vec3 is a world-space point.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vec3i is an integer lattice coordinate (chunk min corners, octree node positions).
type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3i) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}

func (v Vec3i) Add(o Vec3i) Vec3i {
	return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3i) Vec3() Vec3 {
	return Vec3{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Snap rounds v down to the nearest multiple of size (toward -inf).
func Snap(v float64, size int) int {
	return int(math.Floor(v/float64(size))) * size
}

// SnapInt is Snap for lattice values.
func SnapInt(v, size int) int {
	return FloorDiv(v, size) * size
}

// ChunkCoordFor returns the min corner of the chunk whose cube is centred on p.
// Half a chunk is subtracted before floor-snapping each axis.
func ChunkCoordFor(p Vec3, chunkSize int) Vec3i {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	half := float64(chunkSize) / 2
	return Vec3i{
		X: Snap(p.X-half, chunkSize),
		Y: Snap(p.Y-half, chunkSize),
		Z: Snap(p.Z-half, chunkSize),
	}
}

// Center is the midpoint of the chunk cube anchored at coord.
func Center(coord Vec3i, chunkSize int) Vec3 {
	half := float64(chunkSize) / 2
	return Vec3{
		X: float64(coord.X) + half,
		Y: float64(coord.Y) + half,
		Z: float64(coord.Z) + half,
	}
}

// Chebyshev is the max per-axis absolute difference.
func Chebyshev(a, b Vec3) float64 {
	d := math.Abs(a.X - b.X)
	if dy := math.Abs(a.Y - b.Y); dy > d {
		d = dy
	}
	if dz := math.Abs(a.Z - b.Z); dz > d {
		d = dz
	}
	return d
}

// ChebyshevInt is Chebyshev on lattice coordinates.
func ChebyshevInt(a, b Vec3i) int {
	d := absInt(a.X - b.X)
	if dy := absInt(a.Y - b.Y); dy > d {
		d = dy
	}
	if dz := absInt(a.Z - b.Z); dz > d {
		d = dz
	}
	return d
}

// CubeRing returns the lattice offsets with Chebyshev norm exactly r, x fastest, then y, then z.
func CubeRing(r int) []Vec3i {
	if r <= 0 {
		return []Vec3i{{}}
	}
	side := 2*r + 1
	out := make([]Vec3i, 0, side*side*side-(side-2)*(side-2)*(side-2))
	for z := -r; z <= r; z++ {
		for y := -r; y <= r; y++ {
			for x := -r; x <= r; x++ {
				if absInt(x) != r && absInt(y) != r && absInt(z) != r {
					continue
				}
				out = append(out, Vec3i{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
