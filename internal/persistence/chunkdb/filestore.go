package chunkdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"voxelstream.ai/internal/sim/chunk"
)

// FileStore keeps one compressed file per chunk under Meta.Root.
type FileStore struct {
	meta   Meta
	logger *log.Logger

	// OnSaved receives the path of every file written. Used to feed the backup mirror.
	OnSaved func(path string)
}

func NewFileStore(meta Meta, logger *log.Logger) *FileStore {
	return &FileStore{meta: meta, logger: logger}
}

func (s *FileStore) Meta() Meta { return s.meta }

func (s *FileStore) Exists(_ context.Context, key chunk.Key) (bool, error) {
	_, err := os.Stat(s.meta.KeyPath(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Save(ctx context.Context, rec chunk.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := EncodeBytes(s.meta.Format, rec)
	if err != nil {
		return err
	}
	path := s.meta.KeyPath(rec.Key())
	if err := writeFileAtomic(path, b); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if s.OnSaved != nil {
		s.OnSaved(path)
	}
	return nil
}

// Load returns chunk.ErrNotFound (os.ErrNotExist) for coordinates never saved.
func (s *FileStore) Load(_ context.Context, key chunk.Key) (chunk.Record, error) {
	path := s.meta.KeyPath(key)
	f, err := os.Open(path)
	if err != nil {
		return chunk.Record{}, err
	}
	defer f.Close()
	_, rec, err := Decode(f, s.meta.Format)
	if err != nil {
		return chunk.Record{}, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// FileEntry describes one chunk file for tooling.
type FileEntry struct {
	Path   string `json:"path"`
	Bytes  int64  `json:"file_bytes"`
	Header Header `json:"header"`
	Err    string `json:"error,omitempty"`
}

// List walks every chunk file of the installation in path order and decodes its header.
func List(meta Meta) ([]FileEntry, error) {
	var out []FileEntry
	suffix := ".chunk." + meta.Format
	err := filepath.WalkDir(meta.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, suffix) {
			return nil
		}
		e := FileEntry{Path: path}
		if fi, err := d.Info(); err == nil {
			e.Bytes = fi.Size()
		}
		f, err := os.Open(path)
		if err != nil {
			e.Err = err.Error()
			out = append(out, e)
			return nil
		}
		h, err := ReadHeader(f, meta.Format)
		_ = f.Close()
		if err != nil {
			e.Err = err.Error()
		}
		e.Header = h
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
