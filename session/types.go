// Package session defines the persisted data model of fenetre: tab and
// tab-group records, window snapshots, and the snapshot map keyed by
// logical window ID.
//
// A logical window ID is fenetre's own stable identifier for a window,
// independent of the numeric IDs the host reassigns on every restart.
package session

import "time"

// GroupNone is the sentinel for tabs that belong to no tab group.
const GroupNone int64 = -1

// LogicalWindowID is a stable opaque identifier (UUID) for a window. It is
// minted once per logical window and never reused while any snapshot or
// identity mapping references it.
type LogicalWindowID = string

// TabRecord is the captured state of a single tab. For placeholder tabs the
// URL/Title/FaviconURL are the original values the placeholder encoded, not
// the placeholder page itself.
type TabRecord struct {
	HostTabID  int64  `json:"host_tab_id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Pinned     bool   `json:"pinned,omitempty"`
	GroupID    int64  `json:"group_id"` // GroupNone when ungrouped
	Index      int    `json:"index"`
	FaviconURL string `json:"favicon_url,omitempty"`
}

// TabGroupRecord is the captured style of a tab group. Present in a snapshot
// only when at least one TabRecord references the group.
type TabGroupRecord struct {
	GroupID   int64  `json:"group_id"`
	Title     string `json:"title,omitempty"`
	Color     string `json:"color,omitempty"`
	Collapsed bool   `json:"collapsed,omitempty"`
}

// Snapshot is a point-in-time capture of a window's tabs and groups.
// Tabs are ordered by their host-assigned position index at capture time.
type Snapshot struct {
	Timestamp  int64            `json:"timestamp"` // unix milliseconds
	Tabs       []TabRecord      `json:"tabs"`
	Groups     []TabGroupRecord `json:"groups,omitempty"`
	CustomName string           `json:"custom_name,omitempty"`
	Starred    bool             `json:"starred,omitempty"`
}

// SnapshotMap is the snapshot store's persisted value: one current snapshot
// per logical window. Mutated only through the snapstore API.
type SnapshotMap map[LogicalWindowID]*Snapshot

// DeletedSnapshot is an undo-buffer entry for a deleted snapshot. Expired
// entries are purged lazily on every read.
type DeletedSnapshot struct {
	LogicalWindowID LogicalWindowID `json:"logical_window_id"`
	Snapshot        *Snapshot       `json:"snapshot"`
	DeletedAt       int64           `json:"deleted_at"`
	ExpiresAt       int64           `json:"expires_at"`
}

// Expired reports whether the undo window for this entry has passed.
func (d *DeletedSnapshot) Expired(now time.Time) bool {
	return now.UnixMilli() >= d.ExpiresAt
}

// TabURLs returns the tab URLs in snapshot order.
func (s *Snapshot) TabURLs() []string {
	urls := make([]string, len(s.Tabs))
	for i, t := range s.Tabs {
		urls[i] = t.URL
	}
	return urls
}

// Group returns the group record for id, or nil when the snapshot carries no
// record for it (a failed lookup at capture time leaves a dangling reference,
// which is valid).
func (s *Snapshot) Group(id int64) *TabGroupRecord {
	for i := range s.Groups {
		if s.Groups[i].GroupID == id {
			return &s.Groups[i]
		}
	}
	return nil
}

// ContentEquals reports whether two snapshots capture the same state,
// ignoring the timestamp. Building twice over unchanged state yields
// content-equal snapshots.
func (s *Snapshot) ContentEquals(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.Tabs) != len(o.Tabs) || len(s.Groups) != len(o.Groups) {
		return false
	}
	if s.CustomName != o.CustomName || s.Starred != o.Starred {
		return false
	}
	for i := range s.Tabs {
		if s.Tabs[i] != o.Tabs[i] {
			return false
		}
	}
	for i := range s.Groups {
		if s.Groups[i] != o.Groups[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate persisted state behind the store's back.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Tabs = make([]TabRecord, len(s.Tabs))
	copy(c.Tabs, s.Tabs)
	if s.Groups != nil {
		c.Groups = make([]TabGroupRecord, len(s.Groups))
		copy(c.Groups, s.Groups)
	}
	return &c
}
