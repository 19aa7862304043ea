// Package registry maintains the durable mapping from transient host window
// IDs to stable logical window IDs. The host reassigns numeric IDs on every
// restart; the registry reconciles on startup and recovers identity for
// reopened windows by URL-set similarity.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/fenetre/host"
	"github.com/hazyhaar/fenetre/idgen"
	"github.com/hazyhaar/fenetre/kvstore"
	"github.com/hazyhaar/fenetre/session"
)

// Registry maps host window IDs to logical window IDs. All mutations
// re-fetch the persisted map immediately before writing: the kvstore offers
// only whole-document last-write-wins, and an earlier in-memory copy could
// clobber a concurrent writer's update.
type Registry struct {
	kv        kvstore.Store
	hostAPI   host.API
	scorer    Scorer
	threshold float64
	newID     idgen.Generator
	logger    *slog.Logger
}

// Options configures a Registry.
type Options struct {
	// Scorer overrides the default URLOverlap heuristic.
	Scorer Scorer
	// Threshold is the strict acceptance bar for reopened-window matching.
	// Default: DefaultThreshold.
	Threshold float64
	// NewID overrides the logical-ID generator. Default: idgen.Default.
	NewID idgen.Generator
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Scorer == nil {
		o.Scorer = URLOverlap{}
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.NewID == nil {
		o.NewID = idgen.Default
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// New creates a Registry over the given persistence and host API.
func New(kv kvstore.Store, hostAPI host.API, opts Options) *Registry {
	opts.defaults()
	return &Registry{
		kv:        kv,
		hostAPI:   hostAPI,
		scorer:    opts.Scorer,
		threshold: opts.Threshold,
		newID:     opts.NewID,
		logger:    opts.Logger,
	}
}

// loadMap reads the persisted identity map. Corrupt JSON is treated as an
// empty map and logged; persisted data is never trusted structurally.
func (r *Registry) loadMap(ctx context.Context) (map[host.WindowID]session.LogicalWindowID, error) {
	raw, ok, err := r.kv.Get(ctx, kvstore.KeyIdentityMap)
	if err != nil {
		return nil, fmt.Errorf("registry: load identity map: %w", err)
	}
	m := make(map[host.WindowID]session.LogicalWindowID)
	if !ok {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		r.logger.Warn("registry: identity map corrupt, starting empty", "error", err)
		return make(map[host.WindowID]session.LogicalWindowID), nil
	}
	return m, nil
}

func (r *Registry) saveMap(ctx context.Context, m map[host.WindowID]session.LogicalWindowID) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("registry: encode identity map: %w", err)
	}
	if err := r.kv.Set(ctx, kvstore.KeyIdentityMap, raw); err != nil {
		return fmt.Errorf("registry: save identity map: %w", err)
	}
	return nil
}

// RegisterWindow returns the logical ID mapped to hostID, minting and
// persisting a new one when none exists. Idempotent.
func (r *Registry) RegisterWindow(ctx context.Context, hostID host.WindowID) (session.LogicalWindowID, error) {
	m, err := r.loadMap(ctx)
	if err != nil {
		return "", err
	}
	if id, ok := m[hostID]; ok {
		return id, nil
	}

	id := r.newID()
	m[hostID] = id
	if err := r.saveMap(ctx, m); err != nil {
		return "", err
	}
	r.logger.Info("registry: window registered", "host_id", hostID, "logical_id", id)
	return id, nil
}

// LogicalID returns the logical ID mapped to hostID, if any.
func (r *Registry) LogicalID(ctx context.Context, hostID host.WindowID) (session.LogicalWindowID, bool, error) {
	m, err := r.loadMap(ctx)
	if err != nil {
		return "", false, err
	}
	id, ok := m[hostID]
	return id, ok, nil
}

// FindHostID scans the map for logicalID and verifies each candidate's host
// window still exists. Stale entries discovered along the way are evicted
// from the persisted map as a side effect, so the map self-heals on lookup.
func (r *Registry) FindHostID(ctx context.Context, logicalID session.LogicalWindowID) (host.WindowID, bool, error) {
	m, err := r.loadMap(ctx)
	if err != nil {
		return 0, false, err
	}

	var (
		liveID host.WindowID
		found  bool
		stale  []host.WindowID
	)
	for hostID, lid := range m {
		if lid != logicalID {
			continue
		}
		if r.alive(ctx, hostID) {
			liveID = hostID
			found = true
		} else {
			stale = append(stale, hostID)
		}
	}

	if len(stale) > 0 {
		// Re-fetch before writing; the probe loop above crossed await
		// boundaries and another writer may have updated the map.
		fresh, err := r.loadMap(ctx)
		if err != nil {
			return 0, false, err
		}
		for _, hostID := range stale {
			if fresh[hostID] == logicalID {
				delete(fresh, hostID)
			}
		}
		if err := r.saveMap(ctx, fresh); err != nil {
			return 0, false, err
		}
		r.logger.Debug("registry: evicted stale mappings", "logical_id", logicalID, "count", len(stale))
	}

	return liveID, found, nil
}

// Initialize registers every currently open host window that is missing from
// the map. After it completes, every live window has an identity regardless
// of event-ordering races during boot.
func (r *Registry) Initialize(ctx context.Context) error {
	windows, err := r.hostAPI.Windows(ctx)
	if err != nil {
		return fmt.Errorf("registry: enumerate windows: %w", err)
	}
	for _, w := range windows {
		if _, err := r.RegisterWindow(ctx, w.ID); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileReopened attempts heuristic identity recovery for a just-created
// window: its tab URLs are compared against every stored snapshot, and the
// best-scoring logical ID is adopted when the score strictly exceeds the
// threshold and no other live window currently holds that identity. Returns
// false when no candidate qualifies; the caller falls back to plain
// registration.
func (r *Registry) ReconcileReopened(ctx context.Context, hostID host.WindowID, snapshots session.SnapshotMap) (bool, error) {
	tabs, err := r.hostAPI.Tabs(ctx, hostID)
	if err != nil {
		return false, fmt.Errorf("registry: reconcile %d: %w", hostID, err)
	}
	urls := make([]string, 0, len(tabs))
	for _, t := range tabs {
		urls = append(urls, t.URL)
	}

	var (
		bestID    session.LogicalWindowID
		bestScore float64
	)
	for logicalID, snap := range snapshots {
		score := r.scorer.Score(urls, snap.TabURLs())
		if score > bestScore {
			bestScore = score
			bestID = logicalID
		}
	}
	if bestID == "" || bestScore <= r.threshold {
		return false, nil
	}

	// The candidate identity must not belong to another live window.
	// FindHostID also evicts any stale mapping the candidate still holds.
	liveHost, live, err := r.FindHostID(ctx, bestID)
	if err != nil {
		return false, err
	}
	if live && liveHost != hostID {
		r.logger.Debug("registry: reconcile rejected, identity in use",
			"logical_id", bestID, "live_host_id", liveHost)
		return false, nil
	}

	m, err := r.loadMap(ctx)
	if err != nil {
		return false, err
	}
	m[hostID] = bestID
	if err := r.saveMap(ctx, m); err != nil {
		return false, err
	}
	r.logger.Info("registry: reopened window reconciled",
		"host_id", hostID, "logical_id", bestID, "score", bestScore)
	return true, nil
}

// Associate maps hostID to an existing logical ID, superseding whatever
// entry hostID held. The restoration engine calls this after rebuilding a
// window so the next focus-if-open check finds it.
func (r *Registry) Associate(ctx context.Context, hostID host.WindowID, logicalID session.LogicalWindowID) error {
	m, err := r.loadMap(ctx)
	if err != nil {
		return err
	}
	m[hostID] = logicalID
	if err := r.saveMap(ctx, m); err != nil {
		return err
	}
	r.logger.Info("registry: window associated", "host_id", hostID, "logical_id", logicalID)
	return nil
}

// alive probes a host window. A negative probe is the expected signal that
// the window closed; any other probe failure is logged and treated
// conservatively as "window gone".
func (r *Registry) alive(ctx context.Context, hostID host.WindowID) bool {
	_, ok, err := r.hostAPI.Window(ctx, hostID)
	if err != nil {
		r.logger.Warn("registry: liveness probe failed, treating window as gone",
			"host_id", hostID, "error", err)
		return false
	}
	return ok
}
