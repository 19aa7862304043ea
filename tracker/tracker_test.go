package tracker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hazyhaar/fenetre/host"
	"github.com/hazyhaar/fenetre/host/hosttest"
	"github.com/hazyhaar/fenetre/kvstore"
	"github.com/hazyhaar/fenetre/session"
)

// fastConfig shrinks the timing knobs so event-loop tests run in tens of
// milliseconds.
func fastConfig() Config {
	c := DefaultConfig()
	c.Capture.Debounce = 30 * time.Millisecond
	c.Capture.SettleDelay = 10 * time.Millisecond
	c.Capture.RetryDelay = 10 * time.Millisecond
	return c
}

func startTracker(t *testing.T) (*Tracker, *hosttest.Fake, *kvstore.MemStore, context.CancelFunc) {
	t.Helper()
	fake := hosttest.New()
	kv := kvstore.NewMem(kvstore.AreaLocal)
	tr := New(fastConfig(), fake, kv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tr, fake, kv, cancel
}

// waitSnapshots polls until the store holds want snapshots or the deadline
// passes.
func waitSnapshots(t *testing.T, tr *Tracker, want int) session.SnapshotMap {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, _, err := tr.List(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(m) >= want {
			return m
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d snapshots", want)
	return nil
}

func onlyID(t *testing.T, m session.SnapshotMap) session.LogicalWindowID {
	t.Helper()
	if len(m) != 1 {
		t.Fatalf("snapshots: got %d, want 1", len(m))
	}
	for id := range m {
		return id
	}
	return ""
}

// A burst of tab events on a freshly created window produces exactly one
// snapshot, in creation order, under a newly minted identity.
func TestRun_WindowOpenBurstSingleSnapshot(t *testing.T) {
	tr, fake, _, _ := startTracker(t)
	ctx := context.Background()

	w := fake.OpenWindow("https://a.example/")
	fake.AddTab(w, "https://b.example/")

	m := waitSnapshots(t, tr, 1)
	id := onlyID(t, m)

	snap := m[id]
	if len(snap.Tabs) != 2 {
		t.Fatalf("tabs: got %d, want 2", len(snap.Tabs))
	}
	if snap.Tabs[0].URL != "https://a.example/" || snap.Tabs[1].URL != "https://b.example/" {
		t.Fatalf("tab order: %v", snap.TabURLs())
	}
	first := snap.Timestamp

	// The store must not accumulate extra snapshots from the same burst.
	time.Sleep(100 * time.Millisecond)
	m2, _, err := tr.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(m2) != 1 {
		t.Fatalf("snapshots after quiet: got %d, want 1", len(m2))
	}
	if m2[id].Timestamp != first {
		t.Fatal("burst produced more than one capture")
	}
}

// Closing a window stores a final snapshot under the same identity, and the
// identity mapping survives until a liveness probe discovers the window gone.
func TestRun_WindowCloseFinalSnapshot(t *testing.T) {
	tr, fake, _, _ := startTracker(t)
	ctx := context.Background()

	w := fake.OpenWindow("https://a.example/")
	m := waitSnapshots(t, tr, 1)
	id := onlyID(t, m)

	fake.AddTab(w, "https://b.example/")
	fake.EmitWindowRemoved(w) // state stays queryable for the settle window

	deadline := time.Now().Add(2 * time.Second)
	for {
		m, _, err := tr.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(m[id].Tabs) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("final snapshot never stored: %v", m[id].TabURLs())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// A reopened window with the same tabs is recognized and mapped back to the
// original identity; restoring that identity focuses the live window.
func TestRun_ReopenReconcilesAndRestoreFocuses(t *testing.T) {
	tr, fake, _, _ := startTracker(t)
	ctx := context.Background()

	w1 := fake.OpenWindow("https://a.example/")
	fake.AddTab(w1, "https://b.example/")
	m := waitSnapshots(t, tr, 1)
	id := onlyID(t, m)
	if len(m[id].Tabs) != 2 {
		m = waitTabs(t, tr, id, 2)
	}

	// Close for real: state gone after the removal event settles.
	fake.EmitWindowRemoved(w1)
	time.Sleep(60 * time.Millisecond)
	fake.Forget(w1)

	// Reopen with the same URLs under a fresh host ID.
	w2 := fake.OpenWindowSilent("https://a.example/")
	fake.AddTab(w2, "https://b.example/")
	fake.EmitWindowCreated(w2)

	deadline := time.Now().Add(2 * time.Second)
	for {
		hostID, live, err := tr.Registry().FindHostID(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if live && hostID == w2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reopened window never reconciled to %s", id)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// No second identity was minted for the reopened window.
	m, _, err := tr.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 1 {
		t.Fatalf("identities: got %d snapshots, want 1", len(m))
	}

	before := fake.WindowCount()
	ok, err := tr.Restore(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Restore: ok=%v err=%v", ok, err)
	}
	if fake.WindowCount() != before {
		t.Fatal("Restore created a window although one was live")
	}
	if fake.Focused() != w2 {
		t.Fatalf("focused: got %d, want %d", fake.Focused(), w2)
	}
}

func waitTabs(t *testing.T, tr *Tracker, id session.LogicalWindowID, want int) session.SnapshotMap {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, _, err := tr.List(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if snap, ok := m[id]; ok && len(snap.Tabs) == want {
			return m
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d tabs under %s", want, id)
	return nil
}

// A window closed before its first debounced capture still gets a final
// snapshot via the JIT-register path.
func TestRun_CloseBeforeFirstCapture(t *testing.T) {
	tr, fake, _, _ := startTracker(t)

	w := fake.OpenWindow("https://a.example/")
	fake.EmitWindowRemoved(w) // well inside the debounce window

	m := waitSnapshots(t, tr, 1)
	id := onlyID(t, m)
	if got := m[id].TabURLs(); len(got) != 1 || got[0] != "https://a.example/" {
		t.Fatalf("final snapshot tabs: %v", got)
	}
}

func TestImport_MergesAndOverwrites(t *testing.T) {
	fake := hosttest.New()
	kv := kvstore.NewMem(kvstore.AreaLocal)
	tr := New(fastConfig(), fake, kv, nil)
	ctx := context.Background()

	keep := &session.Snapshot{Timestamp: 100, Tabs: []session.TabRecord{{URL: "https://keep.example/", GroupID: session.GroupNone}}}
	if err := tr.Snapshots().Put(ctx, "u1", keep); err != nil {
		t.Fatal(err)
	}

	doc, err := session.ExportJSON(session.SnapshotMap{
		"u2": {Timestamp: 200, Tabs: []session.TabRecord{{URL: "https://new.example/", GroupID: session.GroupNone}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	imported, dropped, err := tr.Import(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	if imported != 1 || dropped != 0 {
		t.Fatalf("import counts: imported=%d dropped=%d", imported, dropped)
	}

	m, _, err := tr.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 2 {
		t.Fatalf("snapshots after import: got %d, want 2", len(m))
	}
	if m["u1"] == nil || m["u2"] == nil {
		t.Fatalf("merge lost an entry: %v", m)
	}
}

func TestImport_RejectsMalformedDocument(t *testing.T) {
	fake := hosttest.New()
	tr := New(fastConfig(), fake, kvstore.NewMem(kvstore.AreaLocal), nil)

	if _, _, err := tr.Import(context.Background(), []byte(`{"not": "a snapshot doc"`)); err == nil {
		t.Fatal("malformed import accepted")
	}
}

// A remote write to the sync area is overwritten with the local state.
func TestSync_LocalWinsReassertion(t *testing.T) {
	fake := hosttest.New()
	local := kvstore.NewMem(kvstore.AreaLocal)
	syncStore := kvstore.NewMem(kvstore.AreaSync)

	tr := New(fastConfig(), fake, local, nil)
	tr.AttachSyncStore(syncStore)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Run registers the sync watcher after its startup steps; give it time
	// so the one-shot remote change below is not pushed before the watcher
	// exists.
	time.Sleep(100 * time.Millisecond)

	snap := &session.Snapshot{Timestamp: 100, Tabs: []session.TabRecord{{URL: "https://local.example/", GroupID: session.GroupNone}}}
	if err := tr.Snapshots().Put(ctx, "u1", snap); err != nil {
		t.Fatal(err)
	}
	localDoc, ok, err := local.Get(ctx, kvstore.KeySnapshots)
	if err != nil || !ok {
		t.Fatalf("local doc: ok=%v err=%v", ok, err)
	}

	// Simulate a divergent remote push into the sync area.
	remote, _ := json.Marshal(map[string]any{"uX": map[string]any{"timestamp": 999}})
	if err := syncStore.Set(ctx, kvstore.KeySnapshots, remote); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, ok, err := syncStore.Get(ctx, kvstore.KeySnapshots)
		if err != nil {
			t.Fatal(err)
		}
		if ok && string(got) == string(localDoc) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sync doc never reasserted: %s", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStats_ReportsCountsAndLevel(t *testing.T) {
	tr := New(fastConfig(), hosttest.New(), kvstore.NewMem(kvstore.AreaLocal), nil)
	ctx := context.Background()

	snap := &session.Snapshot{Timestamp: 100, Starred: true, Tabs: []session.TabRecord{{URL: "https://a.example/", GroupID: session.GroupNone}}}
	if err := tr.Snapshots().Put(ctx, "u1", snap); err != nil {
		t.Fatal(err)
	}

	stats, level, err := tr.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.SnapshotCount != 1 || stats.StarredCount != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if level.String() == "" {
		t.Fatalf("level: %v", level)
	}
}

func TestPlaceholderBase_FollowsAdminAddr(t *testing.T) {
	c := DefaultConfig()
	c.Admin.Addr = "127.0.0.1:9999"
	tr := New(c, hosttest.New(), kvstore.NewMem(kvstore.AreaLocal), nil)
	if got := tr.PlaceholderBase(); got != "http://127.0.0.1:9999/placeholder" {
		t.Fatalf("placeholder base: %q", got)
	}
}

var _ host.API = (*hosttest.Fake)(nil)
