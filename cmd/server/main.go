package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"voxelstream.ai/internal/observability"
	"voxelstream.ai/internal/persistence/chunkdb"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/manager"
	"voxelstream.ai/internal/sim/tuning"
	"voxelstream.ai/internal/transport/ws"
)

func main() {
	_ = godotenv.Load(".env")

	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "", "chunk database directory (overrides database.dir)")
		dbName     = flag.String("db_name", "", "chunk database name (overrides database.name)")
		format     = flag.String("format", "", "chunk file format: zst or lz4 (overrides database.format)")
		logDir     = flag.String("log_dir", "./data/logs", "event log directory (empty to disable)")
		debugLog   = flag.Bool("log_debug_events", false, "also record high-volume debug events")
		moveRate   = flag.Float64("move_rate", 10, "MOVE messages per second allowed per client")
		statusMS   = flag.Int("status_ms", 1000, "STATUS push interval in milliseconds")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	chunkLogger := log.New(os.Stdout, "[chunks] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if v := strings.TrimSpace(*dataDir); v != "" {
		tune.Database.Dir = v
	}
	if v := strings.TrimSpace(*dbName); v != "" {
		tune.Database.Name = v
	}
	if v := strings.TrimSpace(*format); v != "" {
		tune.Database.Format = v
	}
	tune.Normalize()
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	meta := chunkdb.OpenMeta(tune.Database.Dir, tune.Database.Name, tune.Database.Format, chunkLogger)
	logger.Printf("chunk database id=%s name=%s format=%s", meta.ID, meta.Name, meta.Format)

	mir, err := buildMirror(tune.Database.Dir, logger)
	if err != nil {
		logger.Fatalf("init mirror: %v", err)
	}
	store, closeStore, err := openChunkStore(tune.Database, meta, mir, chunkLogger)
	if err != nil {
		logger.Fatalf("open chunk store: %v", err)
	}

	bus := events.NewBus()
	mgr := manager.New(manager.FromTuning(tune), store, bus, chunkLogger)

	var evlog *persistlog.EventLogger
	if d := strings.TrimSpace(*logDir); d != "" {
		evlog = persistlog.NewEventLogger(d, 4096, *debugLog, logger)
		bus.Subscribe(evlog.Listener())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewChunkCollector(reg, mgr.Stats)
	if err != nil {
		logger.Fatalf("metrics: %v", err)
	}
	bus.Subscribe(metrics.Listener())

	mux := newMux(serverDeps{
		mgr:     mgr,
		bus:     bus,
		meta:    meta,
		store:   store,
		mirror:  mir,
		metrics: metrics,
		logger:  logger,
		wsOpts: ws.Options{
			StatusInterval: time.Duration(*statusMS) * time.Millisecond,
			MoveRate:       *moveRate,
		},
		enableAdmin: envBool("VC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		enablePprof: envBool("VC_ENABLE_PPROF_HTTP", false),
	})
	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := mgr.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	if err := g.Wait(); err != nil {
		logger.Printf("server stopped: %v", err)
	}

	// Teardown: flush chunks, drain the store, then the mirror that store feeds.
	ctx3, cancel3 := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel3()
	if err := mgr.Close(ctx3); err != nil {
		logger.Printf("chunk flush: %v", err)
	}
	if evlog != nil {
		if err := evlog.Close(); err != nil {
			logger.Printf("event log close: %v", err)
		}
	}
	if err := closeStore(); err != nil {
		logger.Printf("chunk store close: %v", err)
	}
	mir.Close()
	logger.Printf("bye")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
