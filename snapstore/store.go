// Package snapstore owns the persisted snapshot map: one current snapshot
// per logical window, a time-bounded undo buffer for deletions, TTL-based
// retention, and advisory storage-quota accounting.
//
// All state lives in the coarse kvstore as whole JSON documents, so every
// mutation is read-then-write with last-write-wins at the document level.
package snapstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/fenetre/kvstore"
	"github.com/hazyhaar/fenetre/session"
)

// Store is the snapshot store. The snapshot map is mutated only through this
// API, never directly.
type Store struct {
	kv          kvstore.Store
	logger      *slog.Logger
	snapshotTTL time.Duration
	undoTTL     time.Duration
	quota       int64
	now         func() time.Time
}

// Options configures a Store.
type Options struct {
	// SnapshotTTL is the retention for non-starred snapshots. Default: 30 days.
	SnapshotTTL time.Duration
	// UndoTTL is how long a deleted snapshot stays restorable. Default: 5 minutes.
	UndoTTL time.Duration
	// QuotaBytes overrides the fallback quota estimate. Default: kvstore.DefaultQuotaBytes.
	QuotaBytes int64
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// Clock overrides the time source. For tests.
	Clock func() time.Time
}

func (o *Options) defaults() {
	if o.SnapshotTTL <= 0 {
		o.SnapshotTTL = 30 * 24 * time.Hour
	}
	if o.UndoTTL <= 0 {
		o.UndoTTL = 5 * time.Minute
	}
	if o.QuotaBytes <= 0 {
		o.QuotaBytes = kvstore.DefaultQuotaBytes
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// New creates a Store over the given persistence.
func New(kv kvstore.Store, opts Options) *Store {
	opts.defaults()
	return &Store{
		kv:          kv,
		logger:      opts.Logger,
		snapshotTTL: opts.SnapshotTTL,
		undoTTL:     opts.UndoTTL,
		quota:       opts.QuotaBytes,
		now:         opts.Clock,
	}
}

// All returns every valid stored snapshot plus the IDs of entries whose
// persisted shape failed validation. Invalid entries are flagged for repair
// or deletion, never allowed to break enumeration of the rest.
func (s *Store) All(ctx context.Context) (session.SnapshotMap, []session.LogicalWindowID, error) {
	m, err := s.loadMap(ctx)
	if err != nil {
		return nil, nil, err
	}
	var invalid []session.LogicalWindowID
	for id, snap := range m {
		if err := snap.Validate(); err != nil {
			s.logger.Warn("snapstore: invalid snapshot flagged", "logical_id", id, "error", err)
			invalid = append(invalid, id)
			delete(m, id)
		}
	}
	return m, invalid, nil
}

// Get returns the current snapshot for a logical window.
func (s *Store) Get(ctx context.Context, id session.LogicalWindowID) (*session.Snapshot, bool, error) {
	m, err := s.loadMap(ctx)
	if err != nil {
		return nil, false, err
	}
	snap, ok := m[id]
	if !ok {
		return nil, false, nil
	}
	return snap, true, nil
}

// Put replaces the current snapshot for a logical window. Starred status and
// custom name are sticky: an overwrite that does not explicitly set them
// inherits them from the snapshot being replaced.
func (s *Store) Put(ctx context.Context, id session.LogicalWindowID, snap *session.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("snapstore: put %s: %w", id, err)
	}
	m, err := s.loadMap(ctx)
	if err != nil {
		return err
	}

	stored := snap.Clone()
	if prev, ok := m[id]; ok {
		if prev.Starred && !stored.Starred {
			stored.Starred = true
		}
		if stored.CustomName == "" {
			stored.CustomName = prev.CustomName
		}
	}
	m[id] = stored
	return s.saveMap(ctx, m)
}

// Delete moves the current snapshot into the undo buffer and removes it from
// the live map. Deleting an absent ID is a no-op.
func (s *Store) Delete(ctx context.Context, id session.LogicalWindowID) error {
	m, err := s.loadMap(ctx)
	if err != nil {
		return err
	}
	snap, ok := m[id]
	if !ok {
		return nil
	}

	buf, err := s.loadUndo(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	buf = append(buf, session.DeletedSnapshot{
		LogicalWindowID: id,
		Snapshot:        snap,
		DeletedAt:       now.UnixMilli(),
		ExpiresAt:       now.Add(s.undoTTL).UnixMilli(),
	})
	if err := s.saveUndo(ctx, buf); err != nil {
		return err
	}

	delete(m, id)
	return s.saveMap(ctx, m)
}

// UndoDelete restores a snapshot from the undo buffer. Returns false once
// the undo window has expired or the ID was never deleted.
func (s *Store) UndoDelete(ctx context.Context, id session.LogicalWindowID) (bool, error) {
	buf, err := s.loadUndo(ctx)
	if err != nil {
		return false, err
	}

	idx := -1
	for i := range buf {
		if buf[i].LogicalWindowID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	entry := buf[idx]
	buf = append(buf[:idx], buf[idx+1:]...)
	if err := s.saveUndo(ctx, buf); err != nil {
		return false, err
	}

	m, err := s.loadMap(ctx)
	if err != nil {
		return false, err
	}
	m[id] = entry.Snapshot
	if err := s.saveMap(ctx, m); err != nil {
		return false, err
	}
	return true, nil
}

// Cleanup enforces retention: non-starred snapshots older than the TTL are
// removed. Starred snapshots are exempt. Runs opportunistically on load
// paths, not on a background timer, so staleness is bounded by usage.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	m, err := s.loadMap(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.snapshotTTL).UnixMilli()
	removed := 0
	for id, snap := range m {
		if snap.Starred {
			continue
		}
		if snap.Timestamp < cutoff {
			delete(m, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.saveMap(ctx, m); err != nil {
		return 0, err
	}
	s.logger.Info("snapstore: retention cleanup", "removed", removed)
	return removed, nil
}

// Rename sets the custom name of a stored snapshot.
func (s *Store) Rename(ctx context.Context, id session.LogicalWindowID, name string) error {
	return s.mutate(ctx, id, func(snap *session.Snapshot) {
		snap.CustomName = name
	})
}

// ToggleStar sets or clears the starred flag. Starred snapshots survive
// retention cleanup and keep their flag across overwrites.
func (s *Store) ToggleStar(ctx context.Context, id session.LogicalWindowID, starred bool) error {
	return s.mutate(ctx, id, func(snap *session.Snapshot) {
		snap.Starred = starred
	})
}

func (s *Store) mutate(ctx context.Context, id session.LogicalWindowID, fn func(*session.Snapshot)) error {
	m, err := s.loadMap(ctx)
	if err != nil {
		return err
	}
	snap, ok := m[id]
	if !ok {
		return fmt.Errorf("snapstore: no snapshot for %s", id)
	}
	fn(snap)
	return s.saveMap(ctx, m)
}

// Replace overwrites the whole snapshot map. Used by import and by the sync
// reassertion path; the caller is expected to have validated the entries.
func (s *Store) Replace(ctx context.Context, m session.SnapshotMap) error {
	return s.saveMap(ctx, m)
}

// --- persistence helpers ---

func (s *Store) loadMap(ctx context.Context) (session.SnapshotMap, error) {
	raw, ok, err := s.kv.Get(ctx, kvstore.KeySnapshots)
	if err != nil {
		return nil, fmt.Errorf("snapstore: load: %w", err)
	}
	m := make(session.SnapshotMap)
	if !ok {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		s.logger.Warn("snapstore: snapshot map corrupt, starting empty", "error", err)
		return make(session.SnapshotMap), nil
	}
	return m, nil
}

func (s *Store) saveMap(ctx context.Context, m session.SnapshotMap) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("snapstore: encode: %w", err)
	}
	if err := s.kv.Set(ctx, kvstore.KeySnapshots, raw); err != nil {
		return fmt.Errorf("snapstore: save: %w", err)
	}
	return nil
}

// loadUndo reads the undo buffer, purging expired entries as a side effect
// of every read.
func (s *Store) loadUndo(ctx context.Context) ([]session.DeletedSnapshot, error) {
	raw, ok, err := s.kv.Get(ctx, kvstore.KeyDeleted)
	if err != nil {
		return nil, fmt.Errorf("snapstore: load undo: %w", err)
	}
	var buf []session.DeletedSnapshot
	if ok {
		if err := json.Unmarshal(raw, &buf); err != nil {
			s.logger.Warn("snapstore: undo buffer corrupt, discarding", "error", err)
			buf = nil
		}
	}

	now := s.now()
	kept := buf[:0]
	for _, e := range buf {
		if !e.Expired(now) {
			kept = append(kept, e)
		}
	}
	if len(kept) != len(buf) {
		if err := s.saveUndo(ctx, kept); err != nil {
			return nil, err
		}
	}
	return kept, nil
}

func (s *Store) saveUndo(ctx context.Context, buf []session.DeletedSnapshot) error {
	raw, err := json.Marshal(buf)
	if err != nil {
		return fmt.Errorf("snapstore: encode undo: %w", err)
	}
	if err := s.kv.Set(ctx, kvstore.KeyDeleted, raw); err != nil {
		return fmt.Errorf("snapstore: save undo: %w", err)
	}
	return nil
}
