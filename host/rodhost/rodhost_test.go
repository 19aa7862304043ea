package rodhost

import (
	"log/slog"
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/fenetre/host"
)

func newBareHost() *Host {
	return &Host{
		logger:  slog.Default(),
		events:  make(chan host.Event, 16),
		tabs:    make(map[proto.TargetTargetID]*tabState),
		windows: make(map[host.WindowID]int),
		nextTab: 1,
	}
}

func TestTrack_AssignsOrdinalIDsOnce(t *testing.T) {
	h := newBareHost()

	a := h.trackLocked("target-a", 10)
	b := h.trackLocked("target-b", 10)
	if a.id == b.id {
		t.Fatalf("tab IDs not unique: %d", a.id)
	}
	if b.id != a.id+1 {
		t.Fatalf("tab IDs not ordinal: %d then %d", a.id, b.id)
	}

	// Re-tracking the same target must not mint a new ID.
	again := h.trackLocked("target-a", 10)
	if again.id != a.id {
		t.Fatalf("re-track changed ID: %d -> %d", a.id, again.id)
	}
	if h.windows[10] != 2 {
		t.Fatalf("window tab count: %d", h.windows[10])
	}
}

func TestDestroy_LastTabRemovesWindow(t *testing.T) {
	h := newBareHost()
	h.trackLocked("target-a", 10)
	h.trackLocked("target-b", 10)

	h.onTargetDestroyed("target-a")
	if _, ok := h.windows[10]; !ok {
		t.Fatal("window dropped while a tab remained")
	}

	h.onTargetDestroyed("target-b")
	if _, ok := h.windows[10]; ok {
		t.Fatal("window survived its last tab")
	}

	// Destroying an unknown target is a no-op.
	h.onTargetDestroyed("target-zzz")

	var kinds []host.EventKind
	for len(h.events) > 0 {
		kinds = append(kinds, (<-h.events).Kind)
	}
	want := []host.EventKind{
		host.EventTabRemoved,
		host.EventTabRemoved,
		host.EventWindowRemoved,
	}
	if len(kinds) != len(want) {
		t.Fatalf("events: %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event[%d]: got %s, want %s", i, kinds[i], want[i])
		}
	}
}
