// Package rodhost implements host.API over a Chrome instance driven through
// Rod. Tabs are CDP page targets; windows come from Browser.getWindowForTarget.
//
// Chrome exposes no tab-group API over CDP, so rodhost does not implement
// host.GroupCapable: snapshots taken through it carry no group records and
// restorations recreate tabs ungrouped.
package rodhost

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/fenetre/host"
)

// Config configures the browser connection.
type Config struct {
	// Remote is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	Remote string

	// Headless launches Chrome without a visible window. Only meaningful
	// when Remote is empty.
	Headless bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Host drives a Chrome instance.
type Host struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher
	logger  *slog.Logger
	events  chan host.Event

	mu      sync.Mutex
	tabs    map[proto.TargetTargetID]*tabState
	windows map[host.WindowID]int // live tab count per window
	nextTab host.TabID
	closed  bool
}

type tabState struct {
	id       host.TabID
	windowID host.WindowID
	order    int // creation order, used as tab index
}

// Open connects to Chrome (or launches one) and starts translating target
// events. Call Close to shut down.
func Open(ctx context.Context, cfg Config) (*Host, error) {
	cfg.defaults()

	h := &Host{
		cfg:     cfg,
		logger:  cfg.Logger,
		events:  make(chan host.Event, 1024),
		tabs:    make(map[proto.TargetTargetID]*tabState),
		windows: make(map[host.WindowID]int),
		nextTab: 1,
	}

	wsURL := cfg.Remote
	if wsURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("rodhost: launch: %w", err)
		}
		wsURL = u
		h.lnch = l
		cfg.Logger.Info("rodhost: launched local chrome", "url", wsURL)
	} else {
		cfg.Logger.Info("rodhost: connecting to remote", "url", wsURL)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("rodhost: connect: %w", err)
	}
	h.browser = b

	if err := h.seed(ctx); err != nil {
		b.Close()
		return nil, err
	}
	go h.eventLoop(ctx)
	return h, nil
}

// seed registers the pages that already exist so their tab IDs and window
// membership are known before any event arrives.
func (h *Host) seed(ctx context.Context) error {
	pages, err := h.browser.Pages()
	if err != nil {
		return fmt.Errorf("rodhost: enumerate pages: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range pages {
		winID, err := h.windowForTarget(p.TargetID)
		if err != nil {
			h.logger.Warn("rodhost: window lookup during seed failed", "target", p.TargetID, "error", err)
			continue
		}
		h.trackLocked(p.TargetID, winID)
	}
	return nil
}

// eventLoop translates CDP target events into host events.
func (h *Host) eventLoop(ctx context.Context) {
	defer close(h.events)
	h.browser.Context(ctx).EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo.Type != "page" {
				return
			}
			h.onTargetCreated(e.TargetInfo.TargetID)
		},
		func(e *proto.TargetTargetDestroyed) {
			h.onTargetDestroyed(e.TargetID)
		},
		func(e *proto.TargetTargetInfoChanged) {
			if e.TargetInfo.Type != "page" {
				return
			}
			h.onTargetChanged(e.TargetInfo.TargetID)
		},
	)()
}

func (h *Host) onTargetCreated(targetID proto.TargetTargetID) {
	winID, err := h.windowForTarget(targetID)
	if err != nil {
		h.logger.Warn("rodhost: window lookup failed", "target", targetID, "error", err)
		return
	}

	h.mu.Lock()
	newWindow := h.windows[winID] == 0
	st := h.trackLocked(targetID, winID)
	h.mu.Unlock()

	if newWindow {
		h.emit(host.Event{Kind: host.EventWindowCreated, WindowID: winID})
	}
	h.emit(host.Event{Kind: host.EventTabCreated, WindowID: winID, TabID: st.id})
}

func (h *Host) onTargetDestroyed(targetID proto.TargetTargetID) {
	h.mu.Lock()
	st, ok := h.tabs[targetID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.tabs, targetID)
	h.windows[st.windowID]--
	lastTab := h.windows[st.windowID] <= 0
	if lastTab {
		delete(h.windows, st.windowID)
	}
	h.mu.Unlock()

	h.emit(host.Event{Kind: host.EventTabRemoved, WindowID: st.windowID, TabID: st.id})
	if lastTab {
		h.emit(host.Event{Kind: host.EventWindowRemoved, WindowID: st.windowID})
	}
}

func (h *Host) onTargetChanged(targetID proto.TargetTargetID) {
	h.mu.Lock()
	st, ok := h.tabs[targetID]
	h.mu.Unlock()
	if !ok {
		return
	}
	h.emit(host.Event{Kind: host.EventTabUpdated, WindowID: st.windowID, TabID: st.id})
}

// trackLocked assigns an ordinal tab ID on first sight. Idempotent.
func (h *Host) trackLocked(targetID proto.TargetTargetID, winID host.WindowID) *tabState {
	if st, ok := h.tabs[targetID]; ok {
		return st
	}
	st := &tabState{
		id:       h.nextTab,
		windowID: winID,
		order:    int(h.nextTab),
	}
	h.nextTab++
	h.tabs[targetID] = st
	h.windows[winID]++
	return st
}

func (h *Host) windowForTarget(targetID proto.TargetTargetID) (host.WindowID, error) {
	res, err := proto.BrowserGetWindowForTarget{TargetID: targetID}.Call(h.browser)
	if err != nil {
		return 0, err
	}
	return host.WindowID(res.WindowID), nil
}

func (h *Host) emit(ev host.Event) {
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("rodhost: event buffer full, dropping", "kind", ev.Kind)
	}
}

// Events returns the event stream. Closed when the event loop ends.
func (h *Host) Events() <-chan host.Event {
	return h.events
}

// Close shuts down the browser connection (and the launched Chrome, if any).
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	err := h.browser.Close()
	if h.lnch != nil {
		h.lnch.Cleanup()
	}
	return err
}

// --- host.API ---

// Windows enumerates open browser windows.
func (h *Host) Windows(ctx context.Context) ([]host.Window, error) {
	pages, err := h.browser.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("rodhost: enumerate pages: %w", err)
	}

	seen := make(map[host.WindowID]bool)
	var out []host.Window
	for _, p := range pages {
		winID, err := h.windowForTarget(p.TargetID)
		if err != nil {
			continue
		}
		if !seen[winID] {
			seen[winID] = true
			out = append(out, host.Window{ID: winID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Window is the liveness probe: (nil, false, nil) means the window is gone,
// which is expected, not an error.
func (h *Host) Window(ctx context.Context, id host.WindowID) (*host.Window, bool, error) {
	windows, err := h.Windows(ctx)
	if err != nil {
		return nil, false, err
	}
	for i := range windows {
		if windows[i].ID == id {
			return &windows[i], true, nil
		}
	}
	return nil, false, nil
}

// Tabs lists the tabs of one window in creation order.
func (h *Host) Tabs(ctx context.Context, id host.WindowID) ([]host.Tab, error) {
	pages, err := h.browser.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("rodhost: enumerate pages: %w", err)
	}

	type entry struct {
		tab   host.Tab
		order int
	}
	var entries []entry
	for _, p := range pages {
		winID, err := h.windowForTarget(p.TargetID)
		if err != nil || winID != id {
			continue
		}

		h.mu.Lock()
		st := h.trackLocked(p.TargetID, winID)
		h.mu.Unlock()

		info, err := p.Info()
		if err != nil {
			h.logger.Warn("rodhost: page info failed", "target", p.TargetID, "error", err)
			continue
		}
		entries = append(entries, entry{
			tab: host.Tab{
				ID:       st.id,
				WindowID: winID,
				URL:      info.URL,
				Title:    info.Title,
				GroupID:  host.NoGroup,
			},
			order: st.order,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	out := make([]host.Tab, len(entries))
	for i, e := range entries {
		e.tab.Index = i
		out[i] = e.tab
	}
	return out, nil
}

// CreateWindow opens a new browser window on url and returns its IDs.
func (h *Host) CreateWindow(ctx context.Context, url string) (host.WindowID, host.TabID, error) {
	target, err := proto.TargetCreateTarget{URL: url, NewWindow: true}.Call(h.browser.Context(ctx))
	if err != nil {
		return 0, 0, fmt.Errorf("rodhost: create window: %w", err)
	}
	winID, err := h.windowForTarget(target.TargetID)
	if err != nil {
		return 0, 0, fmt.Errorf("rodhost: window for new target: %w", err)
	}

	h.mu.Lock()
	st := h.trackLocked(target.TargetID, winID)
	h.mu.Unlock()
	return winID, st.id, nil
}

// CreateTab opens a tab in the window that currently has focus; CDP offers
// no way to target a specific window, so callers create the window first and
// rely on it holding focus. Pinned state is not expressible over CDP and is
// dropped.
func (h *Host) CreateTab(ctx context.Context, id host.WindowID, opts host.CreateTabOpts) (host.TabID, error) {
	page, err := stealth.Page(h.browser.Context(ctx))
	if err != nil {
		return 0, fmt.Errorf("rodhost: create tab: %w", err)
	}
	if err := page.Context(ctx).Navigate(opts.URL); err != nil {
		page.Close()
		return 0, fmt.Errorf("rodhost: navigate %s: %w", opts.URL, err)
	}
	if opts.Pinned {
		h.logger.Debug("rodhost: pinned state not supported, dropping", "url", opts.URL)
	}

	winID, err := h.windowForTarget(page.TargetID)
	if err != nil {
		winID = id
	}
	h.mu.Lock()
	st := h.trackLocked(page.TargetID, winID)
	h.mu.Unlock()
	return st.id, nil
}

// ActivateWindow brings a window to the foreground by activating its first
// tab.
func (h *Host) ActivateWindow(ctx context.Context, id host.WindowID) error {
	pages, err := h.browser.Context(ctx).Pages()
	if err != nil {
		return fmt.Errorf("rodhost: enumerate pages: %w", err)
	}
	for _, p := range pages {
		winID, err := h.windowForTarget(p.TargetID)
		if err != nil || winID != id {
			continue
		}
		if _, err := p.Activate(); err != nil {
			return fmt.Errorf("rodhost: activate window %d: %w", id, err)
		}
		return nil
	}
	return fmt.Errorf("rodhost: activate window %d: not found", id)
}

// CloseWindow closes every tab of a window.
func (h *Host) CloseWindow(ctx context.Context, id host.WindowID) error {
	pages, err := h.browser.Context(ctx).Pages()
	if err != nil {
		return fmt.Errorf("rodhost: enumerate pages: %w", err)
	}
	found := false
	for _, p := range pages {
		winID, err := h.windowForTarget(p.TargetID)
		if err != nil || winID != id {
			continue
		}
		found = true
		if err := p.Close(); err != nil {
			h.logger.Warn("rodhost: close tab failed", "target", p.TargetID, "error", err)
		}
	}
	if !found {
		return fmt.Errorf("rodhost: close window %d: not found", id)
	}
	return nil
}

var _ host.API = (*Host)(nil)
