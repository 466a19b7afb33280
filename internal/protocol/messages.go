package protocol

import "voxelstream.ai/internal/sim/events"

// HELLO (client -> server) registers the connection as a hotspot at Pos.
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Name            string     `json:"name"`
	Pos             [3]float64 `json:"pos"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	HotspotID       string  `json:"hotspot_id"`
	ChunkSize       int     `json:"chunk_size"`
	TickRateHz      int     `json:"tick_rate_hz"`
	Radius          float64 `json:"radius"`
	Limits          Limits  `json:"limits"`
}

type Limits struct {
	MaxChunks int `json:"max_chunks"`
	MaxLoaded int `json:"max_loaded"`
	MaxActive int `json:"max_active"`
}

// MOVE (client -> server)
type MoveMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float64 `json:"pos"`
}

// STATUS (server -> client), pushed periodically.
type StatusMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Tick            uint64     `json:"tick"`
	HotspotID       string     `json:"hotspot_id"`
	Pos             [3]float64 `json:"pos"`
	Radius          float64    `json:"radius"`
	Chunk           [3]int     `json:"chunk"`
	Known           int        `json:"known"`
	Loaded          int        `json:"loaded"`
	Active          int        `json:"active"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

// SUBSCRIBE (observer -> server). Empty Kinds means every non-debug kind.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Kinds           []string `json:"kinds,omitempty"`
	Debug           bool     `json:"debug,omitempty"`
}

// EVENT (server -> observer)
type EventMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Event           events.Event `json:"event"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}

// BootstrapResponse is served to loopback observers before they open the event stream.
type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	ChunkSize       int      `json:"chunk_size"`
	TickRateHz      int      `json:"tick_rate_hz"`
	BackupStrategy  string   `json:"backup_strategy"`
	Limits          Limits   `json:"limits"`
	Kinds           []string `json:"kinds"`
	Stats           any      `json:"stats"`
}
