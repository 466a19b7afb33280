package events

import "testing"

func TestBus_FanOutInOrderAndCancel(t *testing.T) {
	b := NewBus()
	var got []string
	cancelA := b.Subscribe(func(ev Event) { got = append(got, "a:"+string(ev.Kind)) })
	b.Subscribe(func(ev Event) { got = append(got, "b:"+string(ev.Kind)) })

	b.Emit(Event{Kind: ChunkLoaded})
	cancelA()
	cancelA()
	b.Emit(Event{Kind: ChunkUnloaded})

	want := []string{"a:chunk_loaded", "b:chunk_loaded", "b:chunk_unloaded"}
	if len(got) != len(want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got=%v want=%v", got, want)
		}
	}
	if b.Len() != 1 {
		t.Fatalf("listeners=%d want 1", b.Len())
	}
}

func TestBus_NilSafe(t *testing.T) {
	var b *Bus
	b.Emit(Event{Kind: ChunkCreated})
	b.Subscribe(func(Event) {})()
}

func TestKind_Debug(t *testing.T) {
	if !DistanceUpdated.Debug() || ChunkActivated.Debug() {
		t.Fatalf("unexpected debug classification")
	}
}
