// Command console drives an in-process chunk manager from an interactive prompt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"

	"voxelstream.ai/internal/persistence/chunkdb"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/manager"
	"voxelstream.ai/internal/sim/tuning"
)

func main() {
	_ = godotenv.Load(".env")

	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "", "persist chunks under this directory (default: in memory)")
		watch      = flag.Bool("events", false, "print lifecycle events as they happen")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[console] ", log.LstdFlags)
	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		tune = tuning.Defaults()
	}

	var store chunk.Store = chunk.NewMemStore()
	if d := strings.TrimSpace(*dataDir); d != "" {
		meta := chunkdb.OpenMeta(d, tune.Database.Name, tune.Database.Format, logger)
		store = chunkdb.NewFileStore(meta, logger)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "chunks> ",
		HistoryFile:     filepath.Join(os.TempDir(), "voxelstream-console.history"),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		logger.Fatalf("readline: %v", err)
	}
	defer rl.Close()

	bus := events.NewBus()
	mgr := manager.New(manager.FromTuning(tune), store, bus, log.New(rl.Stderr(), "[chunks] ", 0))
	c := newConsole(mgr, rl.Stdout())
	if *watch {
		bus.Subscribe(c.printEvent)
	}
	fmt.Fprintln(rl.Stdout(), "type 'help' for commands")

	ctx := context.Background()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err := c.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				break
			}
			fmt.Fprintln(rl.Stdout(), "error:", err)
		}
	}
	if err := mgr.Close(ctx); err != nil {
		logger.Printf("close: %v", err)
	}
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("hotspot",
			readline.PcItem("add"),
			readline.PcItem("move"),
			readline.PcItem("rm"),
			readline.PcItem("ls"),
		),
		readline.PcItem("tick"),
		readline.PcItem("stats"),
		readline.PcItem("chunk"),
		readline.PcItem("coords",
			readline.PcItem("known"),
			readline.PcItem("loaded"),
			readline.PcItem("active"),
		),
		readline.PcItem("load"),
		readline.PcItem("activate"),
		readline.PcItem("deactivate"),
		readline.PcItem("unload"),
		readline.PcItem("delete"),
		readline.PcItem("write"),
		readline.PcItem("branch"),
		readline.PcItem("limits"),
		readline.PcItem("flush"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}
