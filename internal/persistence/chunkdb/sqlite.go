package chunkdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/space"
)

// SQLiteStore keeps chunk blobs in one table, using the same encoded form as FileStore.
type SQLiteStore struct {
	db   *sql.DB
	meta Meta
}

// SQLitePath is <dir>/<name>-<id>.sqlite.
func SQLitePath(meta Meta) string {
	return meta.Root() + ".sqlite"
}

func OpenSQLite(path string, meta Meta) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, meta: meta}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			size INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			format TEXT NOT NULL,
			blob BLOB NOT NULL,
			digest TEXT NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (size, x, y, z)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_saved_at ON chunks(saved_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Exists(ctx context.Context, key chunk.Key) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chunks WHERE size=? AND x=? AND y=? AND z=?`,
		key.Size, key.Coord.X, key.Coord.Y, key.Coord.Z).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec chunk.Record) error {
	b, err := EncodeBytes(s.meta.Format, rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chunks(size,x,y,z,format,blob,digest,saved_at) VALUES(?,?,?,?,?,?,?,?)`,
		rec.Size, rec.Coord.X, rec.Coord.Y, rec.Coord.Z, s.meta.Format, b,
		headerFor(rec).Digest, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite save %s: %w", rec.Coord, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, key chunk.Key) (chunk.Record, error) {
	var (
		format string
		blob   []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT format, blob FROM chunks WHERE size=? AND x=? AND y=? AND z=?`,
		key.Size, key.Coord.X, key.Coord.Y, key.Coord.Z).Scan(&format, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return chunk.Record{}, chunk.ErrNotFound
	}
	if err != nil {
		return chunk.Record{}, err
	}
	_, rec, err := DecodeBytes(format, blob)
	if err != nil {
		return chunk.Record{}, fmt.Errorf("sqlite load %s: %w", key.Coord, err)
	}
	return rec, nil
}

type Row struct {
	Size    int         `json:"size"`
	Coord   space.Vec3i `json:"coord"`
	Format  string      `json:"format"`
	Bytes   int         `json:"blob_bytes"`
	Digest  string      `json:"digest"`
	SavedAt string      `json:"saved_at"`
}

// Rows lists the most recently saved chunks first.
func (s *SQLiteStore) Rows(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT size, x, y, z, format, length(blob), digest, saved_at FROM chunks ORDER BY saved_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Size, &r.Coord.X, &r.Coord.Y, &r.Coord.Z, &r.Format, &r.Bytes, &r.Digest, &r.SavedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
