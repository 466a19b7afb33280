package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sim/events"
	"voxelstream.ai/internal/sim/space"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// asAny round-trips v through JSON so the validator sees plain maps and slices.
func asAny(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_ValidateMessages(t *testing.T) {
	cases := []struct {
		schema string
		msg    any
	}{
		{"hello.schema.json", protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Name: "p1", Pos: [3]float64{1, 2, 3}}},
		{"welcome.schema.json", protocol.WelcomeMsg{
			Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, HotspotID: "H1",
			ChunkSize: 16, TickRateHz: 20, Radius: 2,
			Limits: protocol.Limits{MaxChunks: 200, MaxLoaded: 50, MaxActive: 20},
		}},
		{"move.schema.json", protocol.MoveMsg{Type: protocol.TypeMove, ProtocolVersion: protocol.Version, Pos: [3]float64{-4.5, 0, 9}}},
		{"status.schema.json", protocol.StatusMsg{
			Type: protocol.TypeStatus, ProtocolVersion: protocol.Version, Tick: 40, HotspotID: "H1",
			Pos: [3]float64{1, 2, 3}, Radius: 2, Chunk: [3]int{0, 0, 0}, Known: 27, Loaded: 27, Active: 8,
		}},
		{"error.schema.json", protocol.NewError(protocol.ErrRateLimit, "too many moves")},
		{"subscribe.schema.json", protocol.SubscribeMsg{Type: protocol.TypeSubscribe, Kinds: []string{"chunk_loaded", "hotspot_added"}}},
		{"event.schema.json", protocol.EventMsg{
			Type: protocol.TypeEvent, ProtocolVersion: protocol.Version,
			Event: events.Event{Kind: events.ChunkActivated, Tick: 9, Coord: space.Vec3i{X: 16, Y: -16}, Size: 16, Dist: 12.5},
		}},
	}
	for _, tc := range cases {
		s := compile(t, tc.schema)
		if err := s.Validate(asAny(t, tc.msg)); err != nil {
			t.Fatalf("%s: %v", tc.schema, err)
		}
	}
}

func TestSchemas_RejectMalformed(t *testing.T) {
	bad := map[string]string{
		"hello.schema.json":     `{"type":"HELLO","protocol_version":"1.0","pos":[1,2]}`,
		"move.schema.json":      `{"type":"MOVE","pos":"here"}`,
		"subscribe.schema.json": `{"type":"SUBSCRIBE","kinds":["chunk_exploded"]}`,
		"error.schema.json":     `{"type":"ERROR","code":"oops","message":""}`,
	}
	for name, raw := range bad {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := compile(t, name).Validate(v); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
