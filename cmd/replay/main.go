// Command replay re-reads recorded lifecycle events and checks that the tier hierarchy
// held at every step.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/sim/events"
)

func main() {
	var (
		logDir   = flag.String("events", "./data/logs/events", "events dir containing events-*.jsonl.zst")
		fromTick = flag.Uint64("from_tick", 0, "ignore events before this tick (optional)")
		toTick   = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		maxShow  = flag.Int("show", 20, "violations to print")
	)
	flag.Parse()

	files, err := persistlog.ListEventFiles(*logDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *logDir)
		os.Exit(1)
	}

	tr := newTracker()
	for _, path := range files {
		err := persistlog.ReadEvents(path, func(ev events.Event) error {
			if ev.Tick < *fromTick {
				return nil
			}
			if *toTick != 0 && ev.Tick > *toTick {
				return errStop
			}
			tr.apply(ev)
			return nil
		})
		if err == errStop {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		fmt.Printf("read %s\n", filepath.Base(path))
	}

	fmt.Printf("events=%d last_tick=%d loaded=%d active=%d hotspots=%d\n",
		tr.total, tr.lastTick, tr.loadedCount(), tr.activeCount(), len(tr.hotspots))
	for _, k := range events.AllKinds {
		if n := tr.byKind[k]; n > 0 {
			fmt.Printf("  %-24s %d\n", k, n)
		}
	}
	if len(tr.violations) == 0 {
		fmt.Println("replay ok")
		return
	}
	for i, v := range tr.violations {
		if i >= *maxShow {
			fmt.Printf("... %d more\n", len(tr.violations)-i)
			break
		}
		fmt.Println("violation:", v)
	}
	os.Exit(1)
}
