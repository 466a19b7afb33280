package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/space"
)

func readLines(t *testing.T, path string) []events.Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()
	var out []events.Event
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var ev events.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "events")
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	_ = w.Write(events.Event{Kind: events.ChunkLoaded, Tick: 1})
	clock = clock.Add(2 * time.Minute)
	_ = w.Write(events.Event{Kind: events.ChunkUnloaded, Tick: 2})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first := readLines(t, filepath.Join(dir, "events-2026-03-01-10.jsonl.zst"))
	second := readLines(t, filepath.Join(dir, "events-2026-03-01-11.jsonl.zst"))
	if len(first) != 1 || first[0].Kind != events.ChunkLoaded {
		t.Fatalf("first hour=%+v", first)
	}
	if len(second) != 1 || second[0].Tick != 2 {
		t.Fatalf("second hour=%+v", second)
	}
}

func TestEventLogger_SkipsDebugKinds(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir, 16, false, nil)
	bus := events.NewBus()
	bus.Subscribe(l.Listener())

	bus.Emit(events.Event{Kind: events.ChunkCreated, Coord: space.Vec3i{X: 16}})
	bus.Emit(events.Event{Kind: events.DistanceUpdated})
	bus.Emit(events.Event{Kind: events.ChunkActivated, Coord: space.Vec3i{X: 16}})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if l.Written() != 2 || l.Dropped() != 0 {
		t.Fatalf("written=%d dropped=%d", l.Written(), l.Dropped())
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "events", "events-*.jsonl.zst"))
	if len(matches) != 1 {
		t.Fatalf("files=%v", matches)
	}
	files, err := ListEventFiles(filepath.Join(dir, "events"))
	if err != nil || len(files) != 1 || files[0] != matches[0] {
		t.Fatalf("list=%v err=%v", files, err)
	}
	var viaRead []events.Event
	if err := ReadEvents(files[0], func(ev events.Event) error {
		viaRead = append(viaRead, ev)
		return nil
	}); err != nil || len(viaRead) != 2 {
		t.Fatalf("read=%+v err=%v", viaRead, err)
	}
	got := readLines(t, matches[0])
	if len(got) != 2 || got[0].Kind != events.ChunkCreated || got[1].Coord.X != 16 {
		t.Fatalf("events=%+v", got)
	}
	// Recording after close is a no-op.
	l.Record(events.Event{Kind: events.ChunkLoaded})
}
