// Package chunkdb persists chunk records on disk or in sqlite, keyed by installation,
// database name, chunk size and coordinate.
package chunkdb

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"voxelstream.ai/internal/sim/chunk"
)

const metaFile = "meta.json"

// Meta identifies one chunk database installation.
type Meta struct {
	Dir       string    `json:"-"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Format    string    `json:"format"`
	CreatedAt time.Time `json:"created_at"`
}

// OpenMeta loads <dir>/meta.json or creates it with a fresh unique id.
// Directory and write failures are logged and tolerated: the returned Meta still points at
// dir and later saves and loads report the underlying error.
func OpenMeta(dir, name, format string, logger *log.Logger) Meta {
	m := Meta{Dir: dir, Name: name, Format: format}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logf(logger, "chunkdb mkdir dir=%s err=%v", dir, err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err == nil {
		var stored Meta
		if err := json.Unmarshal(raw, &stored); err == nil && stored.ID != "" {
			m.ID = stored.ID
			m.CreatedAt = stored.CreatedAt
			if stored.Name != name || stored.Format != format {
				logf(logger, "chunkdb meta: name/format changed (%s/%s -> %s/%s)", stored.Name, stored.Format, name, format)
			}
			return m
		}
		logf(logger, "chunkdb meta: unreadable %s, regenerating", metaFile)
	} else if !os.IsNotExist(err) {
		logf(logger, "chunkdb meta read err=%v", err)
	}

	m.ID = uuid.NewString()
	m.CreatedAt = time.Now().UTC()
	if err := m.write(); err != nil {
		logf(logger, "chunkdb meta write err=%v", err)
	}
	return m
}

// ReadMeta loads an existing meta.json without creating anything.
func ReadMeta(dir string) (Meta, error) {
	var m Meta
	raw, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%s: %w", metaFile, err)
	}
	m.Dir = dir
	return m, nil
}

func (m Meta) write() error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(m.Dir, metaFile), b)
}

// Root is the directory holding this installation's chunk files.
func (m Meta) Root() string {
	return filepath.Join(m.Dir, m.Name+"-"+m.ID)
}

// KeyPath is <dir>/<name>-<id>/s<size>/<x>_<y>_<z>.chunk.<format>.
func (m Meta) KeyPath(key chunk.Key) string {
	return filepath.Join(
		m.Root(),
		fmt.Sprintf("s%d", key.Size),
		fmt.Sprintf("%d_%d_%d.chunk.%s", key.Coord.X, key.Coord.Y, key.Coord.Z, m.Format),
	)
}

func writeFileAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func logf(l *log.Logger, format string, args ...any) {
	if l != nil {
		l.Printf(format, args...)
	}
}
