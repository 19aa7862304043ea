// Package restore rebuilds host windows from stored snapshots, or focuses
// the live window when the identity is still mapped to an open one.
//
// Rebuilt tabs are placeholder pages: the window reappears instantly and
// each tab loads its real page only when it first becomes visible.
package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hazyhaar/fenetre/host"
	"github.com/hazyhaar/fenetre/placeholder"
	"github.com/hazyhaar/fenetre/registry"
	"github.com/hazyhaar/fenetre/session"
	"github.com/hazyhaar/fenetre/snapstore"
)

// ErrNoSnapshot is returned when no snapshot exists for the logical window.
var ErrNoSnapshot = errors.New("restore: no snapshot")

// ErrNothingRestorable is returned when every tab in the snapshot has a
// non-restorable URL. No window is created.
var ErrNothingRestorable = errors.New("restore: no restorable tabs")

// Engine performs restorations.
type Engine struct {
	hostAPI         host.API
	reg             *registry.Registry
	snaps           *snapstore.Store
	placeholderBase string
	logger          *slog.Logger
}

// New creates an Engine. placeholderBase is the URL of the placeholder page
// restored tabs are parked on.
func New(hostAPI host.API, reg *registry.Registry, snaps *snapstore.Store, placeholderBase string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		hostAPI:         hostAPI,
		reg:             reg,
		snaps:           snaps,
		placeholderBase: placeholderBase,
		logger:          logger,
	}
}

// Restore focuses the live window mapped to logicalID if one exists,
// otherwise reconstructs a window from the stored snapshot. Item-level
// failures (one tab, one group) are logged and skipped; only a failure to
// create the window itself is fatal.
func (e *Engine) Restore(ctx context.Context, logicalID session.LogicalWindowID) (bool, error) {
	// Focus-if-open: FindHostID verifies liveness and self-heals the map.
	if hostID, live, err := e.reg.FindHostID(ctx, logicalID); err != nil {
		return false, err
	} else if live {
		if err := e.hostAPI.ActivateWindow(ctx, hostID); err != nil {
			return false, fmt.Errorf("restore: focus window %d: %w", hostID, err)
		}
		e.logger.Info("restore: focused live window", "logical_id", logicalID, "host_id", hostID)
		return true, nil
	}

	snap, ok, err := e.snaps.Get(ctx, logicalID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNoSnapshot
	}
	if err := snap.Validate(); err != nil {
		return false, fmt.Errorf("restore: %s: %w", logicalID, err)
	}

	return e.rebuild(ctx, logicalID, snap)
}

func (e *Engine) rebuild(ctx context.Context, logicalID session.LogicalWindowID, snap *session.Snapshot) (bool, error) {
	tabs := make([]session.TabRecord, 0, len(snap.Tabs))
	for _, t := range snap.Tabs {
		if placeholder.Restorable(t.URL) {
			tabs = append(tabs, t)
		}
	}
	if len(tabs) == 0 {
		return false, ErrNothingRestorable
	}
	sort.SliceStable(tabs, func(i, j int) bool { return tabs[i].Index < tabs[j].Index })

	// The window opens on the first tab's placeholder; real navigation is
	// deferred until the tab is viewed.
	winID, firstTabID, err := e.hostAPI.CreateWindow(ctx, e.parkURL(tabs[0]))
	if err != nil {
		return false, fmt.Errorf("restore: create window: %w", err)
	}

	groupMembers := make(map[int64][]host.TabID)
	if tabs[0].GroupID != session.GroupNone {
		groupMembers[tabs[0].GroupID] = append(groupMembers[tabs[0].GroupID], firstTabID)
	}

	for _, t := range tabs[1:] {
		tabID, err := e.hostAPI.CreateTab(ctx, winID, host.CreateTabOpts{
			URL:    e.parkURL(t),
			Pinned: t.Pinned,
		})
		if err != nil {
			e.logger.Warn("restore: tab creation failed, skipping",
				"logical_id", logicalID, "url", t.URL, "error", err)
			continue
		}
		if t.GroupID != session.GroupNone {
			groupMembers[t.GroupID] = append(groupMembers[t.GroupID], tabID)
		}
	}

	e.rebuildGroups(ctx, winID, snap, groupMembers)

	// Re-associate so a subsequent focus-if-open check succeeds.
	if err := e.reg.Associate(ctx, winID, logicalID); err != nil {
		return false, err
	}
	e.logger.Info("restore: window rebuilt",
		"logical_id", logicalID, "host_id", winID, "tabs", len(tabs))
	return true, nil
}

// rebuildGroups recreates tab groups on hosts that support them. Best-effort:
// a failure on one group is logged and the rest proceed. Groups whose style
// record is missing from the snapshot are still formed, just unstyled.
func (e *Engine) rebuildGroups(ctx context.Context, winID host.WindowID, snap *session.Snapshot, members map[int64][]host.TabID) {
	if len(members) == 0 {
		return
	}
	gc, ok := e.hostAPI.(host.GroupCapable)
	if !ok {
		return
	}

	ordered := make([]int64, 0, len(members))
	for gid := range members {
		ordered = append(ordered, gid)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for _, gid := range ordered {
		newGID, err := gc.GroupTabs(ctx, winID, members[gid])
		if err != nil {
			e.logger.Warn("restore: group creation failed, skipping", "group_id", gid, "error", err)
			continue
		}
		rec := snap.Group(gid)
		if rec == nil {
			continue // dangling reference: grouping restored, styling absent
		}
		upd := host.GroupUpdate{
			Title:     &rec.Title,
			Color:     &rec.Color,
			Collapsed: &rec.Collapsed,
		}
		if err := gc.UpdateGroup(ctx, newGID, upd); err != nil {
			e.logger.Warn("restore: group style update failed", "group_id", newGID, "error", err)
		}
	}
}

func (e *Engine) parkURL(t session.TabRecord) string {
	return placeholder.Encode(e.placeholderBase, placeholder.Meta{
		URL:        t.URL,
		Title:      t.Title,
		FaviconURL: t.FaviconURL,
	})
}
