package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"voxelstream.ai/internal/persistence/chunkdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data/chunks", "chunk database directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to the installation's database)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	meta := mustMeta(*dataDir)
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = chunkdb.SQLitePath(meta)
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "sqlite backend not found:", err)
		os.Exit(1)
	}
	st, err := chunkdb.OpenSQLite(path, meta)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := st.Rows(ctx, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	printJSON(rows)
}
