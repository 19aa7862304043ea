// Package snapshot builds immutable window snapshots from live host state.
//
// Placeholder tabs (restored tabs that have not navigated yet) are decoded
// back to the original URL/title/favicon their placeholder URL carries, so an
// unloaded window snapshots as its real content, not as blank internal pages.
package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/hazyhaar/fenetre/host"
	"github.com/hazyhaar/fenetre/placeholder"
	"github.com/hazyhaar/fenetre/session"
)

// ErrNoTabs is returned when the window has zero tabs. Such a window is
// about to close or is invalid; no snapshot is produced for it, ever.
var ErrNoTabs = errors.New("snapshot: window has no tabs")

// Builder reads live window state and produces snapshots.
type Builder struct {
	hostAPI         host.API
	placeholderBase string
	logger          *slog.Logger
	now             func() time.Time
}

// NewBuilder creates a Builder. placeholderBase is the URL prefix of the
// placeholder page; tabs parked there are decoded instead of read literally.
func NewBuilder(hostAPI host.API, placeholderBase string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		hostAPI:         hostAPI,
		placeholderBase: placeholderBase,
		logger:          logger,
		now:             time.Now,
	}
}

// SetClock overrides the timestamp source. For tests.
func (b *Builder) SetClock(now func() time.Time) { b.now = now }

// Build captures the current tab and group state of a window. Building twice
// over unchanged state yields content-equal snapshots; only the timestamp
// differs.
func (b *Builder) Build(ctx context.Context, windowID host.WindowID) (*session.Snapshot, error) {
	tabs, err := b.hostAPI.Tabs(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if len(tabs) == 0 {
		return nil, ErrNoTabs
	}

	// Host order is position at capture time, not creation time.
	sort.SliceStable(tabs, func(i, j int) bool { return tabs[i].Index < tabs[j].Index })

	snap := &session.Snapshot{
		Timestamp: b.now().UnixMilli(),
		Tabs:      make([]session.TabRecord, 0, len(tabs)),
	}

	groupIDs := make(map[host.GroupID]struct{})
	for _, t := range tabs {
		rec := session.TabRecord{
			HostTabID:  int64(t.ID),
			URL:        t.URL,
			Title:      t.Title,
			Pinned:     t.Pinned,
			GroupID:    int64(t.GroupID),
			Index:      t.Index,
			FaviconURL: t.FaviconURL,
		}
		if t.GroupID == host.NoGroup {
			rec.GroupID = session.GroupNone
		} else {
			groupIDs[t.GroupID] = struct{}{}
		}

		// A placeholder tab is still waiting to navigate; capture what it
		// stands for, not the placeholder page itself.
		if placeholder.IsPlaceholder(t.URL, b.placeholderBase) {
			if meta, ok := placeholder.Decode(t.URL); ok {
				rec.URL = meta.URL
				rec.Title = meta.Title
				rec.FaviconURL = meta.FaviconURL
			}
		}

		snap.Tabs = append(snap.Tabs, rec)
	}

	b.resolveGroups(ctx, snap, groupIDs)
	return snap, nil
}

// resolveGroups looks up the style of every referenced group. Best-effort: a
// failed lookup omits that TabGroupRecord, leaving its tabs with a group ID
// that matches no record. The dangling reference is valid and never fails
// the snapshot.
func (b *Builder) resolveGroups(ctx context.Context, snap *session.Snapshot, ids map[host.GroupID]struct{}) {
	if len(ids) == 0 {
		return
	}
	gc, ok := b.hostAPI.(host.GroupCapable)
	if !ok {
		return
	}

	ordered := make([]host.GroupID, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for _, id := range ordered {
		g, found, err := gc.Group(ctx, id)
		if err != nil || !found {
			b.logger.Warn("snapshot: group lookup failed, omitting record",
				"group_id", id, "error", err)
			continue
		}
		snap.Groups = append(snap.Groups, session.TabGroupRecord{
			GroupID:   int64(g.ID),
			Title:     g.Title,
			Color:     g.Color,
			Collapsed: g.Collapsed,
		})
	}
}
