package manager

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"math/rand"
	"sort"
	"testing"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/hotspot"
	"voxelstream.ai/internal/sim/space"
	"voxelstream.ai/internal/sim/tuning"
)

func testConfig(maxChunks, maxLoaded, maxActive int) Config {
	return Config{
		ChunkSize:      16,
		TickRateHz:     20,
		MaxChunks:      maxChunks,
		MaxLoaded:      maxLoaded,
		MaxActive:      maxActive,
		DistanceBatch:  3,
		BackupStrategy: tuning.BackupAtExit,
	}
}

func newTestManager(t *testing.T, cfg Config, store chunk.Store, opts ...Option) (*Manager, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	return New(cfg, store, bus, log.New(io.Discard, "", 0), opts...), bus
}

// known creates the chunk anchored at coord.
func known(t *testing.T, m *Manager, coord space.Vec3i) *chunk.Chunk {
	t.Helper()
	half := float64(m.ChunkSize()) / 2
	c, err := m.ChunkAt(coord.Vec3().Add(space.Vec3{X: half, Y: half, Z: half}), true)
	if err != nil {
		t.Fatalf("chunk at %s: %v", coord, err)
	}
	if c.Coord != coord {
		t.Fatalf("coord=%s want %s", c.Coord, coord)
	}
	return c
}

func tickN(m *Manager, n int) {
	for i := 0; i < n; i++ {
		m.Tick(context.Background())
	}
}

func checkInvariant(t *testing.T, m *Manager) {
	t.Helper()
	s := m.Stats()
	l := s.Limits
	if !(0 <= s.Active && s.Active <= l.MaxActive &&
		s.Active <= s.Loaded && s.Loaded <= l.MaxLoaded &&
		s.Loaded <= s.Known && s.Known <= l.MaxChunks &&
		l.MaxActive <= l.MaxLoaded && l.MaxLoaded <= l.MaxChunks) {
		t.Fatalf("capacity invariant broken: %+v", s)
	}
	for _, coord := range m.ActiveCoords() {
		c, _ := m.Chunk(coord)
		if !c.Loaded() || !c.Active() {
			t.Fatalf("active chunk %s loaded=%v active=%v", coord, c.Loaded(), c.Active())
		}
	}
}

func TestManager_ActivateTwiceRejected(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, testConfig(10, 10, 10), nil)
	c := known(t, m, space.Vec3i{})

	if err := m.ActivateChunk(c.Coord); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("activate unloaded err=%v want ErrNotLoaded", err)
	}
	if err := m.LoadChunk(ctx, c.Coord); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := m.LoadChunk(ctx, c.Coord); !errors.Is(err, ErrAlreadyLoaded) {
		t.Fatalf("second load err=%v", err)
	}
	if err := m.ActivateChunk(c.Coord); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := m.ActivateChunk(c.Coord); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second activate err=%v want ErrAlreadyActive", err)
	}
	if got := m.Stats().Active; got != 1 {
		t.Fatalf("active=%d want 1", got)
	}
	if got := m.Stats().Rejections; got != 3 {
		t.Fatalf("rejections=%d want 3", got)
	}
}

func TestManager_DeleteRequiresUnload(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, testConfig(10, 10, 10), nil)
	c := known(t, m, space.Vec3i{X: 16})
	_ = m.LoadChunk(ctx, c.Coord)
	_ = m.ActivateChunk(c.Coord)

	if err := m.DeleteChunk(c.Coord); !errors.Is(err, ErrStillActive) {
		t.Fatalf("delete active err=%v", err)
	}
	if err := m.UnloadChunk(ctx, c.Coord); !errors.Is(err, ErrStillActive) {
		t.Fatalf("unload active err=%v", err)
	}
	_ = m.DeactivateChunk(c.Coord)
	if err := m.DeactivateChunk(c.Coord); !errors.Is(err, ErrNotActive) {
		t.Fatalf("second deactivate err=%v", err)
	}
	if err := m.DeleteChunk(c.Coord); !errors.Is(err, ErrStillLoaded) {
		t.Fatalf("delete loaded err=%v", err)
	}
	if err := m.UnloadChunk(ctx, c.Coord); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if err := m.DeleteChunk(c.Coord); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.DeleteChunk(c.Coord); !errors.Is(err, ErrUnknownChunk) {
		t.Fatalf("second delete err=%v", err)
	}
	if s := m.Stats(); s.Known != 0 || s.Loaded != 0 || s.Active != 0 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestManager_RoundTripFiresCreatedOnce(t *testing.T) {
	ctx := context.Background()
	store := chunk.NewMemStore()
	m, bus := newTestManager(t, testConfig(10, 10, 10), store)
	var created, loaded int
	bus.Subscribe(func(ev events.Event) {
		switch ev.Kind {
		case events.ChunkCreated:
			created++
		case events.ChunkLoaded:
			loaded++
		}
	})

	coord := space.Vec3i{X: -32, Y: 16, Z: 0}
	known(t, m, coord)
	if err := m.LoadChunk(ctx, coord); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := m.View(coord, func(c *chunk.Chunk) error { return c.SetData([]byte("stone")) }); err != nil {
		t.Fatalf("set data: %v", err)
	}
	if err := m.UnloadChunk(ctx, coord); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if store.Saves != 1 {
		t.Fatalf("saves=%d want 1", store.Saves)
	}

	// Reload, unload clean, delete, rediscover and load again: never created twice.
	for i := 0; i < 2; i++ {
		if err := m.LoadChunk(ctx, coord); err != nil {
			t.Fatalf("reload %d: %v", i, err)
		}
		var got []byte
		_ = m.View(coord, func(c *chunk.Chunk) error {
			got, _ = c.Data()
			return nil
		})
		if string(got) != "stone" {
			t.Fatalf("payload=%q want stone", got)
		}
		if err := m.UnloadChunk(ctx, coord); err != nil {
			t.Fatalf("unload %d: %v", i, err)
		}
		if err := m.DeleteChunk(coord); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
		known(t, m, coord)
	}
	if created != 1 || loaded != 3 {
		t.Fatalf("created=%d loaded=%d want 1/3", created, loaded)
	}
	if store.Saves != 1 {
		t.Fatalf("clean unloads should not save, saves=%d", store.Saves)
	}
}

func TestManager_FailedSaveAbortsUnload(t *testing.T) {
	ctx := context.Background()
	store := chunk.NewMemStore()
	m, _ := newTestManager(t, testConfig(10, 10, 10), store)
	coord := space.Vec3i{}
	known(t, m, coord)
	_ = m.LoadChunk(ctx, coord)

	store.FailSave = errors.New("disk full")
	if err := m.UnloadChunk(ctx, coord); err == nil {
		t.Fatalf("expected save error")
	}
	c, _ := m.Chunk(coord)
	if !c.Loaded() || !c.DataChanged() {
		t.Fatalf("chunk should stay loaded and dirty")
	}
	store.FailSave = nil
	if err := m.UnloadChunk(ctx, coord); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if s := m.Stats(); s.SaveErrors != 1 || s.Saves != 1 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestManager_CapacityRejectsAndCascades(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, testConfig(2, 1, 1), nil)
	a := known(t, m, space.Vec3i{})
	b := known(t, m, space.Vec3i{X: 16})
	if _, err := m.ChunkAt(space.Vec3{X: 1000}, true); !errors.Is(err, ErrCapacity) {
		t.Fatalf("third chunk err=%v want ErrCapacity", err)
	}
	_ = m.LoadChunk(ctx, a.Coord)
	if err := m.LoadChunk(ctx, b.Coord); !errors.Is(err, ErrCapacity) {
		t.Fatalf("load over max err=%v", err)
	}

	if l := m.SetMaxActive(5); l != (Limits{MaxChunks: 5, MaxLoaded: 5, MaxActive: 5}) {
		t.Fatalf("raise active limits=%+v", l)
	}
	if l := m.SetMaxChunks(3); l != (Limits{MaxChunks: 3, MaxLoaded: 3, MaxActive: 3}) {
		t.Fatalf("lower chunks limits=%+v", l)
	}
	if l := m.SetMaxLoaded(8); l != (Limits{MaxChunks: 8, MaxLoaded: 8, MaxActive: 3}) {
		t.Fatalf("raise loaded limits=%+v", l)
	}
	if l := m.SetMaxLoaded(2); l != (Limits{MaxChunks: 8, MaxLoaded: 2, MaxActive: 2}) {
		t.Fatalf("lower loaded limits=%+v", l)
	}
	if l := m.SetMaxActive(-4); l.MaxActive != 0 {
		t.Fatalf("negative clamp limits=%+v", l)
	}
}

func TestManager_DemoteConvergesAfterLoweringLimits(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, testConfig(6, 6, 6), nil)
	for i := 0; i < 6; i++ {
		c := known(t, m, space.Vec3i{X: 16 * i})
		_ = m.LoadChunk(ctx, c.Coord)
		_ = m.ActivateChunk(c.Coord)
	}
	m.SetMaxChunks(2)
	// Lowering a limit never evicts on the spot; the tiers overshoot until demote catches up.
	if s := m.Stats(); s.Known != 6 || s.Loaded != 6 || s.Active != 6 || s.Limits.MaxActive != 2 {
		t.Fatalf("right after lowering: %+v", s)
	}
	tickN(m, 8)
	if s := m.Stats(); s.Known != 6 || s.Loaded != 6 || s.Active != 5 {
		t.Fatalf("after one demote: known/loaded/active=%d/%d/%d want 6/6/5", s.Known, s.Loaded, s.Active)
	}
	tickN(m, 8*12)
	checkInvariant(t, m)
	if s := m.Stats(); s.Known != 2 || s.Loaded != 2 || s.Active != 2 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestManager_RadiusFollowsBudget(t *testing.T) {
	m, _ := newTestManager(t, testConfig(1000, 100, 64), nil)
	for i := 0; i < 8; i++ {
		if err := m.AddHotspot(hotspot.ID(rune('a'+i)), space.Vec3{X: float64(i)}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	for _, h := range m.Hotspots() {
		if math.Abs(h.Radius-2) > 1e-12 {
			t.Fatalf("radius=%v want 2", h.Radius)
		}
	}
	_ = m.AddHotspot("i", space.Vec3{})
	want := math.Cbrt(64.0 / 9.0)
	for _, h := range m.Hotspots() {
		if math.Abs(h.Radius-want) > 1e-12 {
			t.Fatalf("radius=%v want %v", h.Radius, want)
		}
	}
	m.SetMaxActive(9 * 27)
	for _, h := range m.Hotspots() {
		if math.Abs(h.Radius-3) > 1e-9 {
			t.Fatalf("radius after budget change=%v want 3", h.Radius)
		}
	}
	if err := m.AddHotspot("a", space.Vec3{}); !errors.Is(err, hotspot.ErrDuplicate) {
		t.Fatalf("duplicate err=%v", err)
	}
	if err := m.RemoveHotspot("zz"); !errors.Is(err, hotspot.ErrNotFound) {
		t.Fatalf("remove missing err=%v", err)
	}
	if got := len(m.Hotspots()); got != 9 {
		t.Fatalf("hotspots=%d want 9", got)
	}
}

func TestManager_InvariantUnderRandomOps(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	m, _ := newTestManager(t, testConfig(40, 15, 6), nil)
	_ = m.AddHotspot("p", space.Vec3{})

	pick := func() (space.Vec3i, bool) {
		cs := m.KnownCoords()
		if len(cs) == 0 {
			return space.Vec3i{}, false
		}
		return cs[rng.Intn(len(cs))], true
	}
	for i := 0; i < 3000; i++ {
		switch rng.Intn(9) {
		case 0, 1:
			m.Tick(ctx)
		case 2:
			p := space.Vec3{X: float64(rng.Intn(200) - 100), Y: float64(rng.Intn(200) - 100), Z: float64(rng.Intn(200) - 100)}
			_, _ = m.ChunkAt(p, true)
		case 3:
			if c, ok := pick(); ok {
				_ = m.LoadChunk(ctx, c)
			}
		case 4:
			if c, ok := pick(); ok {
				_ = m.ActivateChunk(c)
			}
		case 5:
			if c, ok := pick(); ok {
				_ = m.DeactivateChunk(c)
			}
		case 6:
			if c, ok := pick(); ok {
				_ = m.UnloadChunk(ctx, c)
			}
		case 7:
			if c, ok := pick(); ok {
				_ = m.DeleteChunk(c)
			}
		case 8:
			_ = m.MoveHotspot("p", space.Vec3{X: float64(rng.Intn(64) - 32), Z: float64(rng.Intn(64) - 32)})
		}
		checkInvariant(t, m)
	}
}

func TestManager_ScenarioFarthestWins(t *testing.T) {
	m, _ := newTestManager(t, testConfig(200, 50, 20), nil)
	if err := m.AddHotspot("origin", space.Vec3{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	tickN(m, 500)
	checkInvariant(t, m)

	s := m.Stats()
	if s.Known != 200 || s.Loaded != 50 || s.Active != 20 {
		t.Fatalf("known/loaded/active=%d/%d/%d want 200/50/20", s.Known, s.Loaded, s.Active)
	}

	// Expected set: the 20 largest distances, ties resolved by discovery order.
	coords := m.KnownCoords()
	dist := map[space.Vec3i]float64{}
	for _, coord := range coords {
		c, _ := m.Chunk(coord)
		dist[coord] = space.Chebyshev(c.Center(), space.Vec3{})
	}
	sort.SliceStable(coords, func(i, j int) bool { return dist[coords[i]] > dist[coords[j]] })
	want := map[space.Vec3i]bool{}
	for _, c := range coords[:20] {
		want[c] = true
	}
	active := m.ActiveCoords()
	for _, c := range active {
		if !want[c] {
			t.Fatalf("unexpected active chunk %s dist=%v", c, dist[c])
		}
	}

	tickN(m, 80)
	after := m.ActiveCoords()
	if len(after) != len(active) {
		t.Fatalf("active set changed size %d -> %d", len(active), len(after))
	}
	for i := range after {
		if after[i] != active[i] {
			t.Fatalf("active set not stable")
		}
	}
}

func TestManager_ReservedPhaseHook(t *testing.T) {
	m, _ := newTestManager(t, testConfig(4, 4, 4), nil)
	if err := m.RegisterPhase(PhaseBackup, func(context.Context, *Manager) {}); !errors.Is(err, ErrReservedSlot) {
		t.Fatalf("err=%v want ErrReservedSlot", err)
	}
	calls := 0
	if err := m.RegisterPhase(PhaseReserved6, func(_ context.Context, mm *Manager) {
		calls++
		// Hooks run unlocked and may use the public API.
		_ = mm.Stats()
		_, _ = mm.ChunkAt(space.Vec3{}, true)
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	tickN(m, 16)
	if calls != 2 {
		t.Fatalf("hook calls=%d want 2", calls)
	}
	if m.Phase() != 0 || m.Stats().Tick != 16 {
		t.Fatalf("phase=%d tick=%d", m.Phase(), m.Stats().Tick)
	}
}

func TestManager_BranchEmitsEvents(t *testing.T) {
	m, bus := newTestManager(t, testConfig(4, 4, 4), nil)
	branches := 0
	bus.Subscribe(func(ev events.Event) {
		if ev.Kind == events.BranchAdded {
			branches++
		}
	})
	n, ok := m.Branch(space.Vec3{X: 3, Y: 5, Z: 9}, -1, true)
	if !ok || n.Size != 1 || n.Level != 4 {
		t.Fatalf("branch=%+v ok=%v", n, ok)
	}
	if branches != 5 || m.Stats().BranchNodes != 5 {
		t.Fatalf("branches=%d nodes=%d want 5", branches, m.Stats().BranchNodes)
	}
	if _, ok := m.Branch(space.Vec3{X: 100}, -1, false); ok {
		t.Fatalf("missing root should not resolve")
	}
}

func TestManager_StatsTrackDirty(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, testConfig(10, 10, 10), nil)
	a := known(t, m, space.Vec3i{})
	b := known(t, m, space.Vec3i{X: 16})
	_ = m.LoadChunk(ctx, a.Coord)
	_ = m.LoadChunk(ctx, b.Coord)
	if got := m.Stats().Dirty; got != 2 {
		t.Fatalf("dirty=%d want 2 fresh chunks", got)
	}
	_ = m.UnloadChunk(ctx, a.Coord)
	_ = m.LoadChunk(ctx, a.Coord)
	if got := m.Stats().Dirty; got != 1 {
		t.Fatalf("dirty=%d want 1 after save and reload", got)
	}
	_ = m.View(a.Coord, func(c *chunk.Chunk) error { return c.SetData([]byte("sand")) })
	if got := m.Stats().Dirty; got != 2 {
		t.Fatalf("dirty=%d want 2 after edit", got)
	}
	if _, err := m.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := m.Stats().Dirty; got != 0 {
		t.Fatalf("dirty=%d want 0 after flush", got)
	}
}

func TestManager_ClosedRejectsMutations(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, testConfig(10, 10, 10), nil)
	c := known(t, m, space.Vec3i{})
	if err := m.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.LoadChunk(ctx, c.Coord); !errors.Is(err, ErrClosed) {
		t.Fatalf("load err=%v want ErrClosed", err)
	}
	if err := m.DeleteChunk(c.Coord); !errors.Is(err, ErrClosed) {
		t.Fatalf("delete err=%v want ErrClosed", err)
	}
	if err := m.AddHotspot("late", space.Vec3{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("add hotspot err=%v want ErrClosed", err)
	}
	if _, err := m.ChunkAt(space.Vec3{X: 100}, true); !errors.Is(err, ErrClosed) {
		t.Fatalf("chunk at err=%v want ErrClosed", err)
	}
	if _, err := m.ChunkAt(c.Center(), false); err != nil {
		t.Fatalf("lookups still work: %v", err)
	}
	before := m.Stats().Tick
	tickN(m, 8)
	if s := m.Stats(); s.Tick != before || s.Known != 1 {
		t.Fatalf("tick ran after close: %+v", s)
	}
}
