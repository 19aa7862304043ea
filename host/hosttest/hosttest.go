// Package hosttest provides an in-memory host.API fake. It keeps real
// window/tab/group state, emits events on mutation, and exposes the knobs
// tests need: silent state changes, probe failures, and per-call error
// injection.
package hosttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/hazyhaar/fenetre/host"
)

// Fake is an in-memory host. It implements host.API and host.GroupCapable.
type Fake struct {
	mu      sync.Mutex
	windows map[host.WindowID]*fakeWindow
	groups  map[host.GroupID]*host.TabGroup
	nextWin host.WindowID
	nextTab host.TabID
	nextGrp host.GroupID
	events  chan host.Event

	// Error injection. Nil hooks mean no failure.
	CreateWindowErr error
	CreateTabErr    func(opts host.CreateTabOpts) error
	GroupErr        error
	ProbeErr        map[host.WindowID]error
}

type fakeWindow struct {
	id      host.WindowID
	focused bool
	tabs    []*host.Tab
}

// New creates an empty fake host.
func New() *Fake {
	return &Fake{
		windows: make(map[host.WindowID]*fakeWindow),
		groups:  make(map[host.GroupID]*host.TabGroup),
		nextWin: 1,
		nextTab: 100,
		nextGrp: 1,
		events:  make(chan host.Event, 1024),
	}
}

// --- state helpers for tests ---

// OpenWindow creates a window with one tab per URL and emits the matching
// window-created and tab-created events.
func (f *Fake) OpenWindow(urls ...string) host.WindowID {
	f.mu.Lock()
	id := f.nextWin
	f.nextWin++
	w := &fakeWindow{id: id}
	f.windows[id] = w
	var tabEvents []host.Event
	for _, u := range urls {
		t := f.addTabLocked(w, host.CreateTabOpts{URL: u})
		tabEvents = append(tabEvents, host.Event{Kind: host.EventTabCreated, WindowID: id, TabID: t.ID})
	}
	f.mu.Unlock()

	f.emit(host.Event{Kind: host.EventWindowCreated, WindowID: id})
	for _, ev := range tabEvents {
		f.emit(ev)
	}
	return id
}

// OpenWindowSilent creates a window with tabs without emitting any events,
// simulating state that existed before the tracker started.
func (f *Fake) OpenWindowSilent(urls ...string) host.WindowID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextWin
	f.nextWin++
	w := &fakeWindow{id: id}
	f.windows[id] = w
	for _, u := range urls {
		f.addTabLocked(w, host.CreateTabOpts{URL: u})
	}
	return id
}

// AddTab appends a tab to a window and emits tab-created.
func (f *Fake) AddTab(id host.WindowID, url string) host.TabID {
	f.mu.Lock()
	w := f.windows[id]
	if w == nil {
		f.mu.Unlock()
		panic(fmt.Sprintf("hosttest: AddTab on unknown window %d", id))
	}
	t := f.addTabLocked(w, host.CreateTabOpts{URL: url})
	f.mu.Unlock()
	f.emit(host.Event{Kind: host.EventTabCreated, WindowID: id, TabID: t.ID})
	return t.ID
}

// SetTab mutates a tab in place (URL, title, favicon, pin, group) and emits
// tab-updated. fn receives a pointer into live state.
func (f *Fake) SetTab(winID host.WindowID, tabID host.TabID, fn func(*host.Tab)) {
	f.mu.Lock()
	w := f.windows[winID]
	if w != nil {
		for _, t := range w.tabs {
			if t.ID == tabID {
				fn(t)
				break
			}
		}
	}
	f.mu.Unlock()
	f.emit(host.Event{Kind: host.EventTabUpdated, WindowID: winID, TabID: tabID})
}

// SetGroup registers a group style so Group lookups resolve.
func (f *Fake) SetGroup(g host.TabGroup) {
	f.mu.Lock()
	cp := g
	f.groups[g.ID] = &cp
	f.mu.Unlock()
}

// DropGroup removes a group style, simulating a failed group-info lookup.
func (f *Fake) DropGroup(id host.GroupID) {
	f.mu.Lock()
	delete(f.groups, id)
	f.mu.Unlock()
}

// EmitWindowCreated emits the creation event for a window built with
// OpenWindowSilent, simulating a host-side reopen.
func (f *Fake) EmitWindowCreated(id host.WindowID) {
	f.emit(host.Event{Kind: host.EventWindowCreated, WindowID: id})
}

// EmitWindowRemoved emits the close event while keeping the window's state
// queryable, the way a real host briefly does. Call Forget to drop the state.
func (f *Fake) EmitWindowRemoved(id host.WindowID) {
	f.emit(host.Event{Kind: host.EventWindowRemoved, WindowID: id})
}

// Forget drops a window's state without emitting anything.
func (f *Fake) Forget(id host.WindowID) {
	f.mu.Lock()
	delete(f.windows, id)
	f.mu.Unlock()
}

// Focused returns the ID of the focused window, or 0.
func (f *Fake) Focused() host.WindowID {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, w := range f.windows {
		if w.focused {
			return id
		}
	}
	return 0
}

// WindowCount returns the number of live windows.
func (f *Fake) WindowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}

func (f *Fake) addTabLocked(w *fakeWindow, opts host.CreateTabOpts) *host.Tab {
	t := &host.Tab{
		ID:       f.nextTab,
		WindowID: w.id,
		URL:      opts.URL,
		Pinned:   opts.Pinned,
		GroupID:  host.NoGroup,
		Index:    len(w.tabs),
		Active:   opts.Active,
	}
	f.nextTab++
	w.tabs = append(w.tabs, t)
	return t
}

func (f *Fake) emit(ev host.Event) {
	select {
	case f.events <- ev:
	default: // tests that never drain the channel must not block mutations
	}
}

// --- host.API ---

// Windows enumerates open windows.
func (f *Fake) Windows(_ context.Context) ([]host.Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]host.Window, 0, len(f.windows))
	for _, w := range f.windows {
		out = append(out, host.Window{ID: w.id, Focused: w.focused})
	}
	return out, nil
}

// Window is the liveness probe.
func (f *Fake) Window(_ context.Context, id host.WindowID) (*host.Window, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ProbeErr[id]; err != nil {
		return nil, false, err
	}
	w, ok := f.windows[id]
	if !ok {
		return nil, false, nil
	}
	return &host.Window{ID: w.id, Focused: w.focused}, true, nil
}

// Tabs lists a window's tabs in position order.
func (f *Fake) Tabs(_ context.Context, id host.WindowID) ([]host.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[id]
	if !ok {
		return nil, fmt.Errorf("hosttest: no window %d", id)
	}
	out := make([]host.Tab, len(w.tabs))
	for i, t := range w.tabs {
		cp := *t
		cp.Index = i
		out[i] = cp
	}
	return out, nil
}

// CreateWindow opens a window with one tab.
func (f *Fake) CreateWindow(_ context.Context, url string) (host.WindowID, host.TabID, error) {
	if f.CreateWindowErr != nil {
		return 0, 0, f.CreateWindowErr
	}
	f.mu.Lock()
	id := f.nextWin
	f.nextWin++
	w := &fakeWindow{id: id}
	f.windows[id] = w
	t := f.addTabLocked(w, host.CreateTabOpts{URL: url, Active: true})
	f.mu.Unlock()

	f.emit(host.Event{Kind: host.EventWindowCreated, WindowID: id})
	f.emit(host.Event{Kind: host.EventTabCreated, WindowID: id, TabID: t.ID})
	return id, t.ID, nil
}

// CreateTab opens a tab in an existing window.
func (f *Fake) CreateTab(_ context.Context, id host.WindowID, opts host.CreateTabOpts) (host.TabID, error) {
	if f.CreateTabErr != nil {
		if err := f.CreateTabErr(opts); err != nil {
			return 0, err
		}
	}
	f.mu.Lock()
	w, ok := f.windows[id]
	if !ok {
		f.mu.Unlock()
		return 0, fmt.Errorf("hosttest: no window %d", id)
	}
	t := f.addTabLocked(w, opts)
	f.mu.Unlock()
	f.emit(host.Event{Kind: host.EventTabCreated, WindowID: id, TabID: t.ID})
	return t.ID, nil
}

// ActivateWindow focuses a window.
func (f *Fake) ActivateWindow(_ context.Context, id host.WindowID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[id]
	if !ok {
		return fmt.Errorf("hosttest: no window %d", id)
	}
	for _, other := range f.windows {
		other.focused = false
	}
	w.focused = true
	return nil
}

// CloseWindow removes a window and emits window-removed.
func (f *Fake) CloseWindow(_ context.Context, id host.WindowID) error {
	f.mu.Lock()
	_, ok := f.windows[id]
	delete(f.windows, id)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("hosttest: no window %d", id)
	}
	f.emit(host.Event{Kind: host.EventWindowRemoved, WindowID: id})
	return nil
}

// Events returns the event stream.
func (f *Fake) Events() <-chan host.Event {
	return f.events
}

// --- host.GroupCapable ---

// GroupTabs moves tabs into a new group.
func (f *Fake) GroupTabs(_ context.Context, id host.WindowID, tabs []host.TabID) (host.GroupID, error) {
	if f.GroupErr != nil {
		return 0, f.GroupErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[id]
	if !ok {
		return 0, fmt.Errorf("hosttest: no window %d", id)
	}
	gid := f.nextGrp
	f.nextGrp++
	member := make(map[host.TabID]bool, len(tabs))
	for _, t := range tabs {
		member[t] = true
	}
	for _, t := range w.tabs {
		if member[t.ID] {
			t.GroupID = gid
		}
	}
	f.groups[gid] = &host.TabGroup{ID: gid}
	return gid, nil
}

// UpdateGroup applies style changes.
func (f *Fake) UpdateGroup(_ context.Context, id host.GroupID, upd host.GroupUpdate) error {
	if f.GroupErr != nil {
		return f.GroupErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok {
		return fmt.Errorf("hosttest: no group %d", id)
	}
	if upd.Title != nil {
		g.Title = *upd.Title
	}
	if upd.Color != nil {
		g.Color = *upd.Color
	}
	if upd.Collapsed != nil {
		g.Collapsed = *upd.Collapsed
	}
	return nil
}

// Group resolves a group style.
func (f *Fake) Group(_ context.Context, id host.GroupID) (*host.TabGroup, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok {
		return nil, false, nil
	}
	cp := *g
	return &cp, true, nil
}

// WithoutGroups wraps the fake so it no longer satisfies host.GroupCapable,
// for tests of hosts lacking a grouping surface.
func (f *Fake) WithoutGroups() host.API {
	return groupless{f}
}

type groupless struct{ *Fake }

// GroupTabs is shadowed so the wrapper does not satisfy GroupCapable.
func (groupless) GroupTabs() {}
