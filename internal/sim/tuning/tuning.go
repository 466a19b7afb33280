package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backup strategies.
const (
	BackupNone               = "none"
	BackupAtExit             = "at-exit"
	BackupConstantRoundRobin = "constant-round-robin"
	BackupIntervalRoundRobin = "interval-round-robin"
	BackupIntervalAll        = "interval-all"
)

// Thread modes. Only single is implemented; threaded is accepted and runs one worker.
const (
	ThreadSingle   = "single"
	ThreadThreaded = "threaded"
)

// Database formats and backends.
const (
	FormatZstd = "zst"
	FormatLZ4  = "lz4"

	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

type Tuning struct {
	TickRateHz int    `yaml:"tick_rate_hz"`
	ThreadMode string `yaml:"thread_mode"`

	ChunkSize int `yaml:"chunk_size"`
	MaxChunks int `yaml:"max_chunks"`
	MaxLoaded int `yaml:"max_loaded"`
	MaxActive int `yaml:"max_active"`

	DistanceBatch int `yaml:"distance_batch"`

	BackupStrategy        string `yaml:"backup_strategy"`
	BackupIntervalSeconds int    `yaml:"backup_interval_seconds"`
	BackupBatch           int    `yaml:"backup_batch"`

	Database Database `yaml:"database"`
}

type Database struct {
	Dir         string `yaml:"dir"`
	Name        string `yaml:"name"`
	Format      string `yaml:"format"`
	Backend     string `yaml:"backend"`
	AsyncWrites bool   `yaml:"async_writes"`
	AsyncQueue  int    `yaml:"async_queue"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:            20,
		ThreadMode:            ThreadSingle,
		ChunkSize:             16,
		MaxChunks:             2048,
		MaxLoaded:             512,
		MaxActive:             128,
		DistanceBatch:         3,
		BackupStrategy:        BackupAtExit,
		BackupIntervalSeconds: 60,
		BackupBatch:           1,
		Database: Database{
			Dir:        "./data/chunks",
			Name:       "world",
			Format:     FormatZstd,
			Backend:    BackendFile,
			AsyncQueue: 1024,
		},
	}
}

// Load reads path over Defaults, then normalizes and validates.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills empty fields and widens the capacity triple so
// max_active <= max_loaded <= max_chunks holds.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := Defaults()
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	t.ThreadMode = strings.ToLower(strings.TrimSpace(t.ThreadMode))
	if t.ThreadMode == "" {
		t.ThreadMode = ThreadSingle
	}
	if t.DistanceBatch <= 0 {
		t.DistanceBatch = d.DistanceBatch
	}
	if t.BackupBatch <= 0 {
		t.BackupBatch = d.BackupBatch
	}
	t.BackupStrategy = strings.ToLower(strings.TrimSpace(t.BackupStrategy))
	if t.BackupStrategy == "" {
		t.BackupStrategy = d.BackupStrategy
	}
	if t.MaxActive < 0 {
		t.MaxActive = 0
	}
	if t.MaxLoaded < t.MaxActive {
		t.MaxLoaded = t.MaxActive
	}
	if t.MaxChunks < t.MaxLoaded {
		t.MaxChunks = t.MaxLoaded
	}

	db := &t.Database
	if strings.TrimSpace(db.Dir) == "" {
		db.Dir = d.Database.Dir
	}
	if strings.TrimSpace(db.Name) == "" {
		db.Name = d.Database.Name
	}
	db.Format = strings.ToLower(strings.TrimSpace(db.Format))
	if db.Format == "" {
		db.Format = FormatZstd
	}
	db.Backend = strings.ToLower(strings.TrimSpace(db.Backend))
	if db.Backend == "" {
		db.Backend = BackendFile
	}
	if db.AsyncQueue <= 0 {
		db.AsyncQueue = d.Database.AsyncQueue
	}
}

func (t Tuning) Validate() error {
	if t.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be > 0")
	}
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0")
	}
	if !(0 <= t.MaxActive && t.MaxActive <= t.MaxLoaded && t.MaxLoaded <= t.MaxChunks) {
		return fmt.Errorf("capacity must satisfy 0 <= max_active <= max_loaded <= max_chunks (got %d/%d/%d)", t.MaxActive, t.MaxLoaded, t.MaxChunks)
	}
	switch t.ThreadMode {
	case ThreadSingle, ThreadThreaded:
	default:
		return fmt.Errorf("unknown thread_mode %q", t.ThreadMode)
	}
	switch t.BackupStrategy {
	case BackupNone, BackupAtExit, BackupConstantRoundRobin:
	case BackupIntervalRoundRobin, BackupIntervalAll:
		if t.BackupIntervalSeconds <= 0 {
			return fmt.Errorf("backup_interval_seconds must be > 0 for %s", t.BackupStrategy)
		}
	default:
		return fmt.Errorf("unknown backup_strategy %q", t.BackupStrategy)
	}
	switch t.Database.Format {
	case FormatZstd, FormatLZ4:
	default:
		return fmt.Errorf("unknown database.format %q", t.Database.Format)
	}
	switch t.Database.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("unknown database.backend %q", t.Database.Backend)
	}
	if strings.ContainsAny(t.Database.Name, `/\`) {
		return fmt.Errorf("database.name must not contain path separators")
	}
	return nil
}
