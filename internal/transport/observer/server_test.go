package observer

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/manager"
	"voxelstream.ai/internal/sim/space"
)

func newObserver(t *testing.T) (*manager.Manager, *events.Bus, *Server) {
	t.Helper()
	bus := events.NewBus()
	m := manager.New(manager.Config{ChunkSize: 16, MaxChunks: 64, MaxLoaded: 16, MaxActive: 8}, nil, bus, log.New(io.Discard, "", 0))
	return m, bus, NewServer(m, bus, nil)
}

func TestBootstrap(t *testing.T) {
	_, _, s := newObserver(t)
	srv := httptest.NewServer(s.BootstrapHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var b protocol.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ChunkSize != 16 || b.Limits.MaxActive != 8 || len(b.Kinds) != len(events.AllKinds) {
		t.Fatalf("bootstrap=%+v", b)
	}
}

func TestRejectsNonLoopback(t *testing.T) {
	_, _, s := newObserver(t)
	for _, h := range []http.HandlerFunc{s.BootstrapHandler(), s.WSHandler()} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		rec := httptest.NewRecorder()
		h(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("code=%d", rec.Code)
		}
	}
}

func TestStream_FiltersKinds(t *testing.T) {
	m, bus, s := newObserver(t)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	sub := protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, Kinds: []string{string(events.HotspotAdded)}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for bus.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("observer never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Emit(events.Event{Kind: events.ChunkLoaded, Coord: space.Vec3i{X: 16}})
	if err := m.AddHotspot("H1", space.Vec3{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got protocol.EventMsg
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != protocol.TypeEvent || got.Event.Kind != events.HotspotAdded || got.Event.Hotspot != "H1" {
		t.Fatalf("event=%+v", got)
	}
}

func TestFilter_DefaultSkipsDebug(t *testing.T) {
	f, err := newFilter(protocol.SubscribeMsg{})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if f.match(events.DistanceUpdated) || !f.match(events.ChunkActivated) {
		t.Fatalf("default filter mismatch")
	}
	f, _ = newFilter(protocol.SubscribeMsg{Debug: true})
	if !f.match(events.DistanceUpdated) {
		t.Fatalf("debug filter should pass debug kinds")
	}
	if _, err := newFilter(protocol.SubscribeMsg{Kinds: []string{"nope"}}); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
