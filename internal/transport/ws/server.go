package ws

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sim/hotspot"
	"voxelstream.ai/internal/sim/manager"
	"voxelstream.ai/internal/sim/space"
)

type Options struct {
	// StatusInterval is how often STATUS is pushed to each client.
	StatusInterval time.Duration
	// MoveRate and MoveBurst bound MOVE messages per connection.
	MoveRate  float64
	MoveBurst int
	// QueueSize bounds outgoing messages per connection; STATUS is dropped when full.
	QueueSize int
}

func (o Options) withDefaults() Options {
	if o.StatusInterval <= 0 {
		o.StatusInterval = time.Second
	}
	if o.MoveRate <= 0 {
		o.MoveRate = 10
	}
	if o.MoveBurst <= 0 {
		o.MoveBurst = 5
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 16
	}
	return o
}

// Server turns each websocket connection into one hotspot for the lifetime of the
// connection.
type Server struct {
	mgr  *manager.Manager
	log  *log.Logger
	opts Options

	upgrader websocket.Upgrader
}

func NewServer(m *manager.Manager, logger *log.Logger, opts Options) *Server {
	return &Server{
		mgr:  m,
		log:  logger,
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id, ok := s.handshake(conn)
		if !ok {
			return
		}
		defer func() {
			if err := s.mgr.RemoveHotspot(id); err == nil {
				s.logf("ws leave hotspot=%s", id)
			}
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		out := make(chan []byte, s.opts.QueueSize)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Status pusher.
		go func() {
			t := time.NewTicker(s.opts.StatusInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					st, ok := s.status(id)
					if !ok {
						continue
					}
					trySend(ctx, out, st, false)
				}
			}
		}()

		limiter := rate.NewLimiter(rate.Limit(s.opts.MoveRate), s.opts.MoveBurst)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if e := s.handle(id, msg, limiter); e != nil {
				trySend(ctx, out, *e, true)
			}
		}
		cancel()
	}
}

// handle applies one client message and returns the error to report, if any.
func (s *Server) handle(id hotspot.ID, msg []byte, limiter *rate.Limiter) *protocol.ErrorMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		e := protocol.NewError(protocol.ErrProtoBadRequest, "invalid json")
		return &e
	}
	if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
		e := protocol.NewError(protocol.ErrProtoVersion, "unsupported protocol_version "+base.ProtocolVersion)
		return &e
	}
	switch base.Type {
	case protocol.TypeMove:
		if !limiter.Allow() {
			e := protocol.NewError(protocol.ErrRateLimit, "move rate exceeded")
			return &e
		}
		var mv protocol.MoveMsg
		if err := json.Unmarshal(msg, &mv); err != nil {
			e := protocol.NewError(protocol.ErrBadRequest, "bad MOVE: "+err.Error())
			return &e
		}
		pos, ok := toVec(mv.Pos)
		if !ok {
			e := protocol.NewError(protocol.ErrBadRequest, "pos must be finite")
			return &e
		}
		if err := s.mgr.MoveHotspot(id, pos); err != nil {
			e := protocol.NewError(protocol.ErrNotFound, err.Error())
			return &e
		}
		return nil
	default:
		e := protocol.NewError(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
		return &e
	}
}

func (s *Server) handshake(conn *websocket.Conn) (hotspot.ID, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "bad HELLO")
		return "", false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "want protocol_version "+protocol.Version))
		closeWith(conn, "bad protocol_version")
		return "", false
	}
	pos, ok := toVec(hello.Pos)
	if !ok {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrBadRequest, "pos must be finite"))
		closeWith(conn, "bad pos")
		return "", false
	}
	name := strings.TrimSpace(hello.Name)
	if name == "" {
		name = "hotspot"
	}

	id := hotspot.ID(uuid.NewString())
	if err := s.mgr.AddHotspot(id, pos); err != nil {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrConflict, err.Error()))
		return "", false
	}
	entry, _ := s.mgr.Hotspot(id)
	cfg := s.mgr.Config()
	lim := s.mgr.Limits()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		HotspotID:       string(id),
		ChunkSize:       cfg.ChunkSize,
		TickRateHz:      cfg.TickRateHz,
		Radius:          entry.Radius,
		Limits:          protocol.Limits{MaxChunks: lim.MaxChunks, MaxLoaded: lim.MaxLoaded, MaxActive: lim.MaxActive},
	}
	if err := writeJSON(conn, welcome); err != nil {
		_ = s.mgr.RemoveHotspot(id)
		return "", false
	}
	s.logf("ws join hotspot=%s name=%q pos=(%.1f,%.1f,%.1f)", id, name, pos.X, pos.Y, pos.Z)
	return id, true
}

func (s *Server) status(id hotspot.ID) (protocol.StatusMsg, bool) {
	entry, ok := s.mgr.Hotspot(id)
	if !ok {
		return protocol.StatusMsg{}, false
	}
	st := s.mgr.Stats()
	c := space.ChunkCoordFor(entry.Pos, st.ChunkSize)
	return protocol.StatusMsg{
		Type:            protocol.TypeStatus,
		ProtocolVersion: protocol.Version,
		Tick:            st.Tick,
		HotspotID:       string(id),
		Pos:             [3]float64{entry.Pos.X, entry.Pos.Y, entry.Pos.Z},
		Radius:          entry.Radius,
		Chunk:           [3]int{c.X, c.Y, c.Z},
		Known:           st.Known,
		Loaded:          st.Loaded,
		Active:          st.Active,
	}, true
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// trySend queues v for the writer. Errors wait for room; STATUS is dropped instead.
func trySend(ctx context.Context, out chan<- []byte, v any, wait bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if !wait {
		select {
		case out <- b:
		default:
		}
		return
	}
	select {
	case out <- b:
	case <-ctx.Done():
	}
}

func toVec(p [3]float64) (space.Vec3, bool) {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return space.Vec3{}, false
		}
	}
	return space.Vec3{X: p[0], Y: p[1], Z: p[2]}, true
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
