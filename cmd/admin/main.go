package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelstream.ai/internal/persistence/chunkdb"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "ls":
			listCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "meta":
			metaCmd(os.Args[2:])
			return
		case "show":
			showCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "flush":
			flushCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <ls|db|meta|show|state|flush> [flags]")
	os.Exit(2)
}

func mustMeta(dir string) chunkdb.Meta {
	meta, err := chunkdb.ReadMeta(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read meta:", err)
		os.Exit(1)
	}
	return meta
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func metaCmd(args []string) {
	fs := flag.NewFlagSet("meta", flag.ExitOnError)
	dataDir := fs.String("data", "./data/chunks", "chunk database directory")
	_ = fs.Parse(args)

	meta := mustMeta(*dataDir)
	printJSON(struct {
		chunkdb.Meta
		Root string `json:"root"`
	}{meta, meta.Root()})
}

// listCmd prints one JSON line per chunk file with its decoded header.
func listCmd(args []string) {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	dataDir := fs.String("data", "./data/chunks", "chunk database directory")
	size := fs.Int("size", 0, "only chunks of this size (optional)")
	_ = fs.Parse(args)

	meta := mustMeta(*dataDir)
	entries, err := chunkdb.List(meta)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	n := 0
	for _, e := range entries {
		if *size > 0 && e.Header.Size != *size {
			continue
		}
		_ = enc.Encode(e)
		n++
	}
	fmt.Fprintf(os.Stderr, "%d chunk files under %s\n", n, meta.Root())
}

// showCmd decodes one chunk file completely.
func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	format := fs.String("format", "", "file format (default: from the file extension)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin show [-format zst|lz4] <file>")
		os.Exit(2)
	}
	path := fs.Arg(0)
	f := strings.TrimSpace(*format)
	if f == "" {
		f = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	h, rec, err := chunkdb.DecodeBytes(f, b)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode:", err)
		os.Exit(1)
	}
	printJSON(map[string]any{
		"header":     h,
		"data_bytes": len(rec.Data),
		"file_bytes": len(b),
	})
}
