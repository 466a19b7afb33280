package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strings"
	"time"

	"voxelstream.ai/internal/observability"
	"voxelstream.ai/internal/persistence/chunkdb"
	"voxelstream.ai/internal/persistence/mirror"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/manager"
	"voxelstream.ai/internal/transport/observer"
	"voxelstream.ai/internal/transport/ws"
)

type serverDeps struct {
	mgr     *manager.Manager
	bus     *events.Bus
	meta    chunkdb.Meta
	store   chunk.Store
	mirror  *mirror.Mirror
	metrics *observability.ChunkCollector
	logger  *log.Logger

	wsOpts      ws.Options
	enableAdmin bool
	enablePprof bool
}

type stateResponse struct {
	Meta   chunkdb.Meta        `json:"meta"`
	Stats  manager.Stats       `json:"stats"`
	Async  *chunkdb.AsyncStats `json:"async,omitempty"`
	Mirror *mirror.Stats       `json:"mirror,omitempty"`
	Hot    []hotspotView       `json:"hotspots"`
}

type hotspotView struct {
	ID     string     `json:"id"`
	Pos    [3]float64 `json:"pos"`
	Radius float64    `json:"radius"`
}

func newMux(d serverDeps) *http.ServeMux {
	instrument := func(route string, h http.Handler) http.Handler {
		return d.metrics.Instrument(route, h)
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", instrument("/healthz", http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})))
	if d.metrics != nil {
		mux.Handle("/metrics", d.metrics.Handler())
	}
	mux.Handle("/v1/ws", instrument("/v1/ws", ws.NewServer(d.mgr, d.logger, d.wsOpts).Handler()))

	if d.enableAdmin {
		// Local-only admin endpoints.
		mux.Handle("/admin/v1/state", instrument("/admin/v1/state", http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(d.state())
		})))
		mux.Handle("/admin/v1/flush", instrument("/admin/v1/flush", http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
			defer cancel()
			n, err := d.mgr.Flush(ctx)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "saved": n, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "saved": n, "tick": d.mgr.Stats().Tick})
		})))

		obsSrv := observer.NewServer(d.mgr, d.bus, d.logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else if d.logger != nil {
		d.logger.Printf("admin endpoints disabled (VC_ENABLE_ADMIN_HTTP=false)")
	}
	if d.enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (d serverDeps) state() stateResponse {
	resp := stateResponse{Meta: d.meta, Stats: d.mgr.Stats(), Hot: []hotspotView{}}
	if a, ok := d.store.(*chunkdb.AsyncStore); ok {
		st := a.Stats()
		resp.Async = &st
	}
	if d.mirror != nil {
		st := d.mirror.Stats()
		resp.Mirror = &st
	}
	for _, h := range d.mgr.Hotspots() {
		resp.Hot = append(resp.Hot, hotspotView{ID: string(h.ID), Pos: [3]float64{h.Pos.X, h.Pos.Y, h.Pos.Z}, Radius: h.Radius})
	}
	return resp
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
