package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"voxelstream.ai/internal/persistence/chunkdb"
	"voxelstream.ai/internal/persistence/mirror"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/tuning"
)

// openChunkStore builds the configured backend, optionally behind the write-behind queue.
// The returned close func drains pending writes before releasing the backend.
func openChunkStore(db tuning.Database, meta chunkdb.Meta, mir *mirror.Mirror, logger *log.Logger) (chunk.Store, func() error, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VC_STORE_BACKEND")))
	if backend == "" {
		backend = db.Backend
	}

	var (
		store   chunk.Store
		closeFn = func() error { return nil }
	)
	switch backend {
	case tuning.BackendFile:
		fs := chunkdb.NewFileStore(meta, logger)
		if mir != nil {
			fs.OnSaved = mir.Enqueue
		}
		store = fs
	case tuning.BackendSQLite:
		path := chunkdb.SQLitePath(meta)
		sq, err := chunkdb.OpenSQLite(path, meta)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		store = sq
		closeFn = func() error {
			err := sq.Close()
			if mir != nil {
				mir.Enqueue(path)
			}
			return err
		}
	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", backend)
	}
	logger.Printf("chunk store backend=%s format=%s root=%s", backend, meta.Format, meta.Root())

	if !envBool("VC_STORE_ASYNC", db.AsyncWrites) {
		return store, closeFn, nil
	}
	async := chunkdb.NewAsync(store, db.AsyncQueue, logger)
	inner := closeFn
	return async, func() error {
		err := async.Close()
		if err2 := inner(); err == nil {
			err = err2
		}
		return err
	}, nil
}
