package chunk

import (
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"sync"

	"voxelstream.ai/internal/sim/space"
)

// ErrNotFound maps to os.ErrNotExist so file-backed stores can return the raw error.
var ErrNotFound = os.ErrNotExist

const RecordVersion = 1

// Key addresses one persisted chunk. Stores add their installation id, name and format.
type Key struct {
	Size  int
	Coord space.Vec3i
}

type Record struct {
	Version int
	Size    int
	Coord   space.Vec3i
	Data    []byte
}

func (r Record) Key() Key { return Key{Size: r.Size, Coord: r.Coord} }

// Digest is the sha256 of the payload, stored in record headers.
func (r Record) Digest() [32]byte { return sha256.Sum256(r.Data) }

// Store is the persistence contract the manager needs: existence check, save, load.
type Store interface {
	Exists(ctx context.Context, key Key) (bool, error)
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, key Key) (Record, error)
}

// MemStore keeps records in memory. Used by the console and tests.
type MemStore struct {
	mu   sync.Mutex
	recs map[Key]Record

	// FailSave forces Save errors when set.
	FailSave error
	Saves    int
}

func NewMemStore() *MemStore {
	return &MemStore{recs: map[Key]Record{}}
}

func (m *MemStore) Exists(_ context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.recs[key]
	return ok, nil
}

func (m *MemStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	rec.Data = append([]byte(nil), rec.Data...)
	m.recs[rec.Key()] = rec
	m.Saves++
	return nil
}

func (m *MemStore) Load(_ context.Context, key Key) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Data = append([]byte(nil), rec.Data...)
	return rec, nil
}

func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
