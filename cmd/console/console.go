package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/hotspot"
	"voxelstream.ai/internal/sim/manager"
	"voxelstream.ai/internal/sim/space"
)

var errQuit = errors.New("quit")

const helpText = `hotspot add <id> x y z | hotspot move <id> x y z | hotspot rm <id> | hotspot ls
tick [n]                      run n maintenance slots (default 1)
stats                         manager snapshot
chunk x y z                   describe the chunk containing a point (creates it)
coords known|loaded|active    list tier members
load|activate|deactivate|unload|delete cx cy cz
write cx cy cz <text>         replace a loaded chunk's payload
branch x y z depth            resolve a subdivision node
limits [chunks loaded active] show or set capacities
flush                         save every dirty loaded chunk
quit`

type console struct {
	mgr *manager.Manager
	out io.Writer
}

func newConsole(m *manager.Manager, out io.Writer) *console {
	return &console{mgr: m, out: out}
}

func (c *console) printEvent(ev events.Event) {
	b, _ := json.Marshal(ev)
	fmt.Fprintf(c.out, "event %s\n", b)
}

func (c *console) exec(ctx context.Context, line string) error {
	f := strings.Fields(line)
	if len(f) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(f[0]), f[1:]
	switch cmd {
	case "help", "?":
		fmt.Fprintln(c.out, helpText)
	case "quit", "exit":
		return errQuit
	case "hotspot":
		return c.hotspot(args)
	case "tick":
		n := 1
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil || v <= 0 {
				return fmt.Errorf("tick count must be a positive integer")
			}
			n = v
		}
		for i := 0; i < n; i++ {
			c.mgr.Tick(ctx)
		}
		st := c.mgr.Stats()
		fmt.Fprintf(c.out, "tick=%d known=%d loaded=%d active=%d\n", st.Tick, st.Known, st.Loaded, st.Active)
	case "stats":
		b, _ := json.MarshalIndent(c.mgr.Stats(), "", "  ")
		fmt.Fprintln(c.out, string(b))
	case "chunk":
		p, err := parseVec(args)
		if err != nil {
			return err
		}
		ch, err := c.mgr.ChunkAt(p, true)
		if err != nil {
			return err
		}
		return c.mgr.View(ch.Coord, func(ch *chunk.Chunk) error {
			fmt.Fprintf(c.out, "chunk %s size=%d dist=%.2f loaded=%t active=%t dirty=%t\n",
				ch.Coord, ch.Size, ch.Dist, ch.Loaded(), ch.Active(), ch.DataChanged())
			return nil
		})
	case "coords":
		if len(args) != 1 {
			return fmt.Errorf("usage: coords known|loaded|active")
		}
		var cs []space.Vec3i
		switch args[0] {
		case "known":
			cs = c.mgr.KnownCoords()
		case "loaded":
			cs = c.mgr.LoadedCoords()
		case "active":
			cs = c.mgr.ActiveCoords()
		default:
			return fmt.Errorf("unknown tier %q", args[0])
		}
		for _, v := range cs {
			fmt.Fprintln(c.out, v)
		}
		fmt.Fprintf(c.out, "%d chunks\n", len(cs))
	case "load", "activate", "deactivate", "unload", "delete":
		coord, err := parseCoord(args)
		if err != nil {
			return err
		}
		switch cmd {
		case "load":
			err = c.mgr.LoadChunk(ctx, coord)
		case "activate":
			err = c.mgr.ActivateChunk(coord)
		case "deactivate":
			err = c.mgr.DeactivateChunk(coord)
		case "unload":
			err = c.mgr.UnloadChunk(ctx, coord)
		case "delete":
			err = c.mgr.DeleteChunk(coord)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s %s ok\n", cmd, coord)
	case "write":
		if len(args) < 4 {
			return fmt.Errorf("usage: write cx cy cz <text>")
		}
		coord, err := parseCoord(args[:3])
		if err != nil {
			return err
		}
		text := strings.Join(args[3:], " ")
		return c.mgr.View(coord, func(ch *chunk.Chunk) error {
			return ch.SetData([]byte(text))
		})
	case "branch":
		if len(args) != 4 {
			return fmt.Errorf("usage: branch x y z depth")
		}
		p, err := parseVec(args[:3])
		if err != nil {
			return err
		}
		depth, err := strconv.Atoi(args[3])
		if err != nil || depth < 0 {
			return fmt.Errorf("depth must be a non-negative integer")
		}
		n, ok := c.mgr.Branch(p, depth, true)
		if !ok {
			return fmt.Errorf("no branch at %v", p)
		}
		fmt.Fprintf(c.out, "branch pos=%s size=%d level=%d\n", n.Pos, n.Size, n.Level)
	case "limits":
		if len(args) == 0 {
			l := c.mgr.Limits()
			fmt.Fprintf(c.out, "max_chunks=%d max_loaded=%d max_active=%d\n", l.MaxChunks, l.MaxLoaded, l.MaxActive)
			return nil
		}
		if len(args) != 3 {
			return fmt.Errorf("usage: limits chunks loaded active")
		}
		var v [3]int
		for i, a := range args {
			n, err := strconv.Atoi(a)
			if err != nil || n < 0 {
				return fmt.Errorf("limit %q must be a non-negative integer", a)
			}
			v[i] = n
		}
		c.mgr.SetMaxChunks(v[0])
		c.mgr.SetMaxLoaded(v[1])
		l := c.mgr.SetMaxActive(v[2])
		fmt.Fprintf(c.out, "max_chunks=%d max_loaded=%d max_active=%d\n", l.MaxChunks, l.MaxLoaded, l.MaxActive)
	case "flush":
		n, err := c.mgr.Flush(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "flushed %d chunks\n", n)
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (c *console) hotspot(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: hotspot add|move|rm|ls")
	}
	switch args[0] {
	case "ls":
		for _, h := range c.mgr.Hotspots() {
			fmt.Fprintf(c.out, "%s pos=(%.1f,%.1f,%.1f) radius=%.2f\n", h.ID, h.Pos.X, h.Pos.Y, h.Pos.Z, h.Radius)
		}
		return nil
	case "rm":
		if len(args) != 2 {
			return fmt.Errorf("usage: hotspot rm <id>")
		}
		return c.mgr.RemoveHotspot(hotspot.ID(args[1]))
	case "add", "move":
		if len(args) != 5 {
			return fmt.Errorf("usage: hotspot %s <id> x y z", args[0])
		}
		p, err := parseVec(args[2:])
		if err != nil {
			return err
		}
		id := hotspot.ID(args[1])
		if args[0] == "add" {
			return c.mgr.AddHotspot(id, p)
		}
		return c.mgr.MoveHotspot(id, p)
	}
	return fmt.Errorf("unknown hotspot command %q", args[0])
}

func parseVec(args []string) (space.Vec3, error) {
	if len(args) != 3 {
		return space.Vec3{}, fmt.Errorf("want x y z")
	}
	var v [3]float64
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return space.Vec3{}, fmt.Errorf("bad number %q", a)
		}
		v[i] = f
	}
	return space.Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parseCoord(args []string) (space.Vec3i, error) {
	if len(args) != 3 {
		return space.Vec3i{}, fmt.Errorf("want cx cy cz")
	}
	var v [3]int
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return space.Vec3i{}, fmt.Errorf("bad coordinate %q", a)
		}
		v[i] = n
	}
	return space.Vec3i{X: v[0], Y: v[1], Z: v[2]}, nil
}
