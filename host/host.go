// Package host abstracts the windowing/tabs environment fenetre observes:
// enumeration, window/tab creation, activation, tab grouping, and the event
// stream that drives the tracker.
//
// Host-assigned identifiers are transient; the environment reuses numeric
// IDs after windows close and reassigns them on restart. Stable identity is
// the registry's job, not the host's.
package host

import "context"

// WindowID is a host-assigned window identifier. Reused after close.
type WindowID int64

// TabID is a host-assigned tab identifier.
type TabID int64

// GroupID is a host-assigned tab-group identifier. NoGroup for ungrouped tabs.
type GroupID int64

// NoGroup is the GroupID of tabs that belong to no group.
const NoGroup GroupID = -1

// Window is a live host window.
type Window struct {
	ID      WindowID
	Focused bool
}

// Tab is a live host tab.
type Tab struct {
	ID         TabID
	WindowID   WindowID
	URL        string
	Title      string
	FaviconURL string
	Pinned     bool
	GroupID    GroupID
	Index      int
	Active     bool
}

// TabGroup is a tab group's style as reported by the host.
type TabGroup struct {
	ID        GroupID
	Title     string
	Color     string
	Collapsed bool
}

// CreateTabOpts controls tab creation.
type CreateTabOpts struct {
	URL    string
	Pinned bool
	Index  int
	Active bool
}

// GroupUpdate carries style fields to apply to a group. Nil fields are left
// unchanged.
type GroupUpdate struct {
	Title     *string
	Color     *string
	Collapsed *bool
}

// API is the host surface the core consumes. All methods are blocking host
// calls and take a context.
type API interface {
	// Windows enumerates the currently open windows.
	Windows(ctx context.Context) ([]Window, error)

	// Window is the liveness probe: get-by-id with failure interpreted as
	// "gone". A closed window returns (nil, false, nil), and that absence is
	// the signal, not an error. Any other failure is returned as an error
	// and treated conservatively as "window gone" by callers.
	Window(ctx context.Context, id WindowID) (*Window, bool, error)

	// Tabs lists the tabs of a window in position order.
	Tabs(ctx context.Context, id WindowID) ([]Tab, error)

	// CreateWindow opens a new window whose first tab loads url. Returns
	// the new window ID and the first tab's ID.
	CreateWindow(ctx context.Context, url string) (WindowID, TabID, error)

	// CreateTab opens a tab in an existing window.
	CreateTab(ctx context.Context, id WindowID, opts CreateTabOpts) (TabID, error)

	// ActivateWindow focuses an open window.
	ActivateWindow(ctx context.Context, id WindowID) error

	// CloseWindow closes a window and its tabs.
	CloseWindow(ctx context.Context, id WindowID) error

	// Events returns the host event stream. Closed when the host shuts down.
	Events() <-chan Event
}

// GroupCapable is implemented by hosts that support tab grouping. Bindings
// without a grouping surface simply do not implement it; restoration then
// skips group reconstruction.
type GroupCapable interface {
	// GroupTabs moves the given tabs of a window into a new group.
	GroupTabs(ctx context.Context, id WindowID, tabs []TabID) (GroupID, error)

	// UpdateGroup applies style changes to a group.
	UpdateGroup(ctx context.Context, id GroupID, upd GroupUpdate) error

	// Group resolves a group's style. Absence is (nil, false, nil).
	Group(ctx context.Context, id GroupID) (*TabGroup, bool, error)
}
