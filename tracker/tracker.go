// Package tracker composes the session-tracking subsystems and runs the
// host event loop. It owns the identity registry, the snapshot builder and
// store, the debounced capture scheduler and the restoration engine, and
// exposes the operations the admin and MCP surfaces call.
package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/fenetre/capture"
	"github.com/hazyhaar/fenetre/host"
	"github.com/hazyhaar/fenetre/kvstore"
	"github.com/hazyhaar/fenetre/registry"
	"github.com/hazyhaar/fenetre/restore"
	"github.com/hazyhaar/fenetre/session"
	"github.com/hazyhaar/fenetre/snapshot"
	"github.com/hazyhaar/fenetre/snapstore"
)

// Tracker is the composition root.
type Tracker struct {
	cfg     Config
	hostAPI host.API
	kv      kvstore.Store
	syncKV  kvstore.Store
	logger  *slog.Logger

	reg     *registry.Registry
	builder *snapshot.Builder
	snaps   *snapstore.Store
	sched   *capture.Scheduler
	engine  *restore.Engine
}

// New wires the subsystems over a local-area store and a browser host.
// Call Run to start processing host events.
func New(cfg Config, hostAPI host.API, kv kvstore.Store, logger *slog.Logger) *Tracker {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		cfg:     cfg,
		hostAPI: hostAPI,
		kv:      kv,
		logger:  logger,
	}
	t.reg = registry.New(kv, hostAPI, registry.Options{
		Threshold: cfg.Match.Threshold,
		Logger:    logger,
	})
	base := t.PlaceholderBase()
	t.builder = snapshot.NewBuilder(hostAPI, base, logger)
	t.snaps = snapstore.New(kv, snapstore.Options{
		SnapshotTTL: cfg.Retention.SnapshotTTL,
		UndoTTL:     cfg.Retention.UndoTTL,
		QuotaBytes:  cfg.Store.QuotaBytes,
		Logger:      logger,
	})
	t.sched = capture.NewScheduler(cfg.Capture.Debounce, t.captureWindow, logger)
	t.engine = restore.New(hostAPI, t.reg, t.snaps, base, logger)
	return t
}

// AttachSyncStore connects a sync-area store. Remote changes observed on it
// trigger the local-wins reassertion; see events.go.
func (t *Tracker) AttachSyncStore(s kvstore.Store) {
	t.syncKV = s
}

// PlaceholderBase is the URL restored tabs are parked on, served by the
// admin server.
func (t *Tracker) PlaceholderBase() string {
	return "http://" + t.cfg.Admin.Addr + "/placeholder"
}

// List returns every stored snapshot plus the IDs of corrupt entries.
func (t *Tracker) List(ctx context.Context) (session.SnapshotMap, []session.LogicalWindowID, error) {
	return t.snaps.All(ctx)
}

// Restore focuses the live window for logicalID or rebuilds it from its
// snapshot.
func (t *Tracker) Restore(ctx context.Context, id session.LogicalWindowID) (bool, error) {
	return t.engine.Restore(ctx, id)
}

// Delete moves a snapshot to the undo buffer.
func (t *Tracker) Delete(ctx context.Context, id session.LogicalWindowID) error {
	return t.snaps.Delete(ctx, id)
}

// UndoDelete restores a recently deleted snapshot. Returns false when the
// undo window has lapsed.
func (t *Tracker) UndoDelete(ctx context.Context, id session.LogicalWindowID) (bool, error) {
	return t.snaps.UndoDelete(ctx, id)
}

// Rename sets a snapshot's custom name.
func (t *Tracker) Rename(ctx context.Context, id session.LogicalWindowID, name string) error {
	return t.snaps.Rename(ctx, id, name)
}

// ToggleStar sets a snapshot's starred flag.
func (t *Tracker) ToggleStar(ctx context.Context, id session.LogicalWindowID, starred bool) error {
	return t.snaps.ToggleStar(ctx, id, starred)
}

// Export serializes every stored snapshot as a portable JSON document.
func (t *Tracker) Export(ctx context.Context) ([]byte, error) {
	m, invalid, err := t.snaps.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(invalid) > 0 {
		t.logger.Warn("export: skipping corrupt entries", "count", len(invalid))
	}
	return session.ExportJSON(m)
}

// Import merges snapshots from an exported document into the store.
// Imported entries overwrite same-ID entries; others are untouched. Returns
// how many entries were imported and how many were dropped as invalid.
func (t *Tracker) Import(ctx context.Context, data []byte) (imported, dropped int, err error) {
	incoming, dropped, err := session.ImportJSON(data)
	if err != nil {
		return 0, 0, err
	}
	current, _, err := t.snaps.All(ctx)
	if err != nil {
		return 0, 0, err
	}
	for id, snap := range incoming {
		current[id] = snap
	}
	if err := t.snaps.Replace(ctx, current); err != nil {
		return 0, 0, fmt.Errorf("tracker: import: %w", err)
	}
	t.logger.Info("import: merged snapshots", "imported", len(incoming), "dropped", dropped)
	return len(incoming), dropped, nil
}

// Stats reports storage usage and its advisory quota grade.
func (t *Tracker) Stats(ctx context.Context) (snapstore.Stats, snapstore.QuotaLevel, error) {
	level, stats, err := t.snaps.CheckLimits(ctx)
	return stats, level, err
}

// Registry exposes the identity registry, mainly for tests and diagnostics.
func (t *Tracker) Registry() *registry.Registry { return t.reg }

// Snapshots exposes the snapshot store.
func (t *Tracker) Snapshots() *snapstore.Store { return t.snaps }
