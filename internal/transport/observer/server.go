package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/manager"
)

// Server streams lifecycle events to loopback tooling.
type Server struct {
	mgr *manager.Manager
	bus *events.Bus
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64
}

func NewServer(m *manager.Manager, bus *events.Bus, logger *log.Logger) *Server {
	return &Server{
		mgr: m,
		bus: bus,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Dropped counts events discarded because an observer fell behind.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.mgr.Config()
		lim := s.mgr.Limits()
		kinds := make([]string, 0, len(events.AllKinds))
		for _, k := range events.AllKinds {
			kinds = append(kinds, string(k))
		}
		resp := protocol.BootstrapResponse{
			ProtocolVersion: protocol.Version,
			ChunkSize:       cfg.ChunkSize,
			TickRateHz:      cfg.TickRateHz,
			BackupStrategy:  cfg.BackupStrategy,
			Limits:          protocol.Limits{MaxChunks: lim.MaxChunks, MaxLoaded: lim.MaxLoaded, MaxActive: lim.MaxActive},
			Kinds:           kinds,
			Stats:           s.mgr.Stats(),
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

type filter struct {
	kinds map[events.Kind]bool
	debug bool
}

// newFilter accepts the listed kinds, or every non-debug kind when none are listed.
func newFilter(sub protocol.SubscribeMsg) (*filter, error) {
	f := &filter{debug: sub.Debug}
	if len(sub.Kinds) == 0 {
		return f, nil
	}
	f.kinds = map[events.Kind]bool{}
	for _, k := range sub.Kinds {
		if !knownKind(events.Kind(k)) {
			return nil, fmt.Errorf("unknown kind %q", k)
		}
		f.kinds[events.Kind(k)] = true
	}
	return f, nil
}

func (f *filter) match(k events.Kind) bool {
	if f.kinds != nil {
		return f.kinds[k]
	}
	return f.debug || !k.Debug()
}

func knownKind(k events.Kind) bool {
	for _, a := range events.AllKinds {
		if a == k {
			return true
		}
	}
	return false
}

func readSubscribe(msg []byte) (*filter, error) {
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return nil, err
	}
	if sub.Type != protocol.TypeSubscribe {
		return nil, fmt.Errorf("expected SUBSCRIBE")
	}
	if sub.ProtocolVersion != "" && sub.ProtocolVersion != protocol.Version {
		return nil, fmt.Errorf("bad protocol_version")
	}
	return newFilter(sub)
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		first, err := readSubscribe(msg)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		var cur atomic.Pointer[filter]
		cur.Store(first)
		dataOut := make(chan []byte, 4096)

		// Events arrive on the tick goroutine; never block it.
		unsubscribe := s.bus.Subscribe(func(ev events.Event) {
			if !cur.Load().match(ev.Kind) {
				return
			}
			b, err := json.Marshal(protocol.EventMsg{Type: protocol.TypeEvent, ProtocolVersion: protocol.Version, Event: ev})
			if err != nil {
				return
			}
			select {
			case dataOut <- b:
			default:
				s.dropped.Add(1)
			}
		})
		defer unsubscribe()
		s.logf("observer join session=%s", sid)
		defer s.logf("observer leave session=%s", sid)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-dataOut:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			f, err := readSubscribe(msg)
			if err != nil {
				continue
			}
			cur.Store(f)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
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
