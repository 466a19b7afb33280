package chunkdb

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/space"
	"voxelstream.ai/internal/sim/tuning"
)

var quiet = log.New(io.Discard, "", 0)

func sampleRecord() chunk.Record {
	return chunk.Record{
		Version: chunk.RecordVersion,
		Size:    16,
		Coord:   space.Vec3i{X: -16, Y: 32, Z: 0},
		Data:    bytes.Repeat([]byte("voxel"), 200),
	}
}

func TestCodec_RoundTripBothFormats(t *testing.T) {
	for _, format := range []string{tuning.FormatZstd, tuning.FormatLZ4} {
		rec := sampleRecord()
		b, err := EncodeBytes(format, rec)
		if err != nil {
			t.Fatalf("%s encode: %v", format, err)
		}
		if len(b) >= len(rec.Data) {
			t.Fatalf("%s: %d bytes not compressed below %d", format, len(b), len(rec.Data))
		}
		h, got, err := DecodeBytes(format, b)
		if err != nil {
			t.Fatalf("%s decode: %v", format, err)
		}
		if !bytes.Equal(got.Data, rec.Data) || got.Coord != rec.Coord || got.Size != 16 {
			t.Fatalf("%s: record mismatch", format)
		}
		sum := rec.Digest()
		if h.Bytes != len(rec.Data) || h.Digest != hex.EncodeToString(sum[:]) {
			t.Fatalf("%s header=%+v", format, h)
		}
		hh, err := ReadHeader(bytes.NewReader(b), format)
		if err != nil || hh != h {
			t.Fatalf("%s read header=%+v err=%v", format, hh, err)
		}
	}
	if _, err := EncodeBytes("gz", sampleRecord()); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestMeta_KeyPathAndReuse(t *testing.T) {
	dir := t.TempDir()
	m := OpenMeta(dir, "world", tuning.FormatZstd, quiet)
	if m.ID == "" {
		t.Fatalf("missing id")
	}
	again := OpenMeta(dir, "world", tuning.FormatZstd, quiet)
	if again.ID != m.ID {
		t.Fatalf("id changed: %s -> %s", m.ID, again.ID)
	}
	read, err := ReadMeta(dir)
	if err != nil || read.ID != m.ID {
		t.Fatalf("read meta=%+v err=%v", read, err)
	}

	got := m.KeyPath(chunk.Key{Size: 16, Coord: space.Vec3i{X: -16, Y: 0, Z: 48}})
	want := filepath.Join(dir, "world-"+m.ID, "s16", "-16_0_48.chunk.zst")
	if got != want {
		t.Fatalf("key path=%s want %s", got, want)
	}
}

func TestMeta_UnusableDirIsTolerated(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var buf bytes.Buffer
	m := OpenMeta(filepath.Join(blocker, "db"), "world", tuning.FormatZstd, log.New(&buf, "", 0))
	if m.ID == "" {
		t.Fatalf("meta should still carry an id")
	}
	if !strings.Contains(buf.String(), "chunkdb mkdir") {
		t.Fatalf("expected mkdir failure to be logged, got %q", buf.String())
	}
	s := NewFileStore(m, quiet)
	if err := s.Save(context.Background(), sampleRecord()); err == nil {
		t.Fatalf("save against unusable dir should fail")
	}
}

func TestFileStore_SaveLoadList(t *testing.T) {
	ctx := context.Background()
	m := OpenMeta(t.TempDir(), "world", tuning.FormatLZ4, quiet)
	s := NewFileStore(m, quiet)
	var saved []string
	s.OnSaved = func(p string) { saved = append(saved, p) }

	rec := sampleRecord()
	if ok, _ := s.Exists(ctx, rec.Key()); ok {
		t.Fatalf("exists before save")
	}
	if _, err := s.Load(ctx, rec.Key()); !chunk.IsNotFound(err) {
		t.Fatalf("load missing err=%v", err)
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ok, _ := s.Exists(ctx, rec.Key()); !ok {
		t.Fatalf("missing after save")
	}
	got, err := s.Load(ctx, rec.Key())
	if err != nil || !bytes.Equal(got.Data, rec.Data) {
		t.Fatalf("load err=%v", err)
	}
	if len(saved) != 1 || saved[0] != m.KeyPath(rec.Key()) {
		t.Fatalf("on saved=%v", saved)
	}

	entries, err := List(m)
	if err != nil || len(entries) != 1 {
		t.Fatalf("list=%v err=%v", entries, err)
	}
	if entries[0].Header.Coord != rec.Coord || entries[0].Err != "" {
		t.Fatalf("entry=%+v", entries[0])
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := OpenMeta(t.TempDir(), "world", tuning.FormatZstd, quiet)
	s, err := OpenSQLite(SQLitePath(m), m)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	rec := sampleRecord()
	if _, err := s.Load(ctx, rec.Key()); !chunk.IsNotFound(err) {
		t.Fatalf("load missing err=%v", err)
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec.Data = []byte("replaced")
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, err := s.Load(ctx, rec.Key())
	if err != nil || string(got.Data) != "replaced" {
		t.Fatalf("load=%q err=%v", got.Data, err)
	}
	rows, err := s.Rows(ctx, 10)
	if err != nil || len(rows) != 1 || rows[0].Coord != rec.Coord {
		t.Fatalf("rows=%+v err=%v", rows, err)
	}
}

// gateStore blocks every Save until release is closed.
type gateStore struct {
	*chunk.MemStore
	release chan struct{}
	once    sync.Once
}

func (g *gateStore) Save(ctx context.Context, rec chunk.Record) error {
	<-g.release
	return g.MemStore.Save(ctx, rec)
}

func (g *gateStore) open() { g.once.Do(func() { close(g.release) }) }

func TestAsyncStore_ServesPendingAndDrains(t *testing.T) {
	ctx := context.Background()
	inner := &gateStore{MemStore: chunk.NewMemStore(), release: make(chan struct{})}
	s := NewAsync(inner, 4, quiet)

	rec := sampleRecord()
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec.Data = []byte("newer")
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx, rec.Key())
	if err != nil || string(got.Data) != "newer" {
		t.Fatalf("pending load=%q err=%v", got.Data, err)
	}
	if ok, _ := s.Exists(ctx, rec.Key()); !ok {
		t.Fatalf("pending record should exist")
	}

	inner.open()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	st := s.Stats()
	if st.Pending != 0 || st.Written != 2 {
		t.Fatalf("stats=%+v", st)
	}
	final, err := inner.Load(ctx, rec.Key())
	if err != nil || string(final.Data) != "newer" {
		t.Fatalf("inner=%q err=%v", final.Data, err)
	}
	if err := s.Save(ctx, rec); err != ErrClosed {
		t.Fatalf("save after close err=%v", err)
	}
}
