package tracker

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/hazyhaar/fenetre/host"
	"github.com/hazyhaar/fenetre/kvstore"
	"github.com/hazyhaar/fenetre/snapshot"
	"github.com/hazyhaar/fenetre/snapstore"
)

// Run processes host events until ctx is cancelled or the host closes its
// event stream. It reconciles identities on startup, prunes expired
// snapshots, then routes events: window creation to the registry, tab
// mutations to the debounced scheduler, window removal to the final-snapshot
// path.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.reg.Initialize(ctx); err != nil {
		return err
	}
	if removed, err := t.snaps.Cleanup(ctx); err != nil {
		t.logger.Warn("run: startup cleanup failed", "error", err)
	} else if removed > 0 {
		t.logger.Info("run: expired snapshots pruned", "count", removed)
	}

	var stopWatch func()
	if t.syncKV != nil {
		stopWatch = t.syncKV.Watch(func(ch kvstore.Change) {
			t.onSyncChange(ctx, ch)
		})
		defer stopWatch()
	}

	defer t.sched.Close()
	events := t.hostAPI.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t.handle(ctx, ev)
		}
	}
}

func (t *Tracker) handle(ctx context.Context, ev host.Event) {
	switch {
	case ev.Kind == host.EventWindowCreated:
		t.onWindowCreated(ctx, ev.WindowID)
	case ev.Kind == host.EventWindowRemoved:
		go t.finalSnapshot(ctx, ev.WindowID)
	case ev.TabMutation():
		t.sched.Touch(ev.WindowID)
	}
}

// onWindowCreated tries to recognize the window as a reopened session
// before minting a fresh identity. Either way the initial state is captured
// through the scheduler.
func (t *Tracker) onWindowCreated(ctx context.Context, id host.WindowID) {
	snaps, _, err := t.snaps.All(ctx)
	if err != nil {
		t.logger.Warn("window created: loading snapshots failed", "error", err)
		snaps = nil
	}
	matched := false
	if len(snaps) > 0 {
		matched, err = t.reg.ReconcileReopened(ctx, id, snaps)
		if err != nil {
			t.logger.Warn("window created: reconcile failed", "host_id", id, "error", err)
		}
	}
	if !matched {
		if _, err := t.reg.RegisterWindow(ctx, id); err != nil {
			t.logger.Warn("window created: register failed", "host_id", id, "error", err)
			return
		}
	}
	t.sched.Touch(id)
}

// finalSnapshot captures the closing state of a removed window. The host
// needs a moment to settle after the removal notification, hence the delay.
// A window that was never registered (closed before its first capture) is
// registered just in time and retried once.
func (t *Tracker) finalSnapshot(ctx context.Context, id host.WindowID) {
	t.sched.Cancel(id)
	if !sleepCtx(ctx, t.cfg.Capture.SettleDelay) {
		return
	}

	logicalID, ok, err := t.reg.LogicalID(ctx, id)
	if err != nil {
		t.logger.Warn("final snapshot: identity lookup failed", "host_id", id, "error", err)
		return
	}
	if !ok {
		if logicalID, err = t.reg.RegisterWindow(ctx, id); err != nil {
			t.logger.Warn("final snapshot: JIT register failed", "host_id", id, "error", err)
			return
		}
		if !sleepCtx(ctx, t.cfg.Capture.RetryDelay) {
			return
		}
	}

	snap, err := t.builder.Build(ctx, id)
	if err != nil {
		if errors.Is(err, snapshot.ErrNoTabs) {
			t.logger.Debug("final snapshot: window empty, nothing to keep", "host_id", id)
		} else {
			t.logger.Warn("final snapshot: build failed", "host_id", id, "error", err)
		}
		return
	}
	if err := t.snaps.Put(ctx, logicalID, snap); err != nil {
		t.logger.Warn("final snapshot: store failed", "logical_id", logicalID, "error", err)
		return
	}
	t.logger.Info("final snapshot stored", "logical_id", logicalID, "tabs", len(snap.Tabs))
}

// captureWindow is the scheduler's CaptureFunc: build and store one
// snapshot for a still-open window.
func (t *Tracker) captureWindow(ctx context.Context, id host.WindowID) {
	logicalID, ok, err := t.reg.LogicalID(ctx, id)
	if err != nil {
		t.logger.Warn("capture: identity lookup failed", "host_id", id, "error", err)
		return
	}
	if !ok {
		if logicalID, err = t.reg.RegisterWindow(ctx, id); err != nil {
			t.logger.Warn("capture: register failed", "host_id", id, "error", err)
			return
		}
	}

	snap, err := t.builder.Build(ctx, id)
	if err != nil {
		if !errors.Is(err, snapshot.ErrNoTabs) {
			t.logger.Warn("capture: build failed", "host_id", id, "error", err)
		}
		return
	}
	if err := t.snaps.Put(ctx, logicalID, snap); err != nil {
		t.logger.Warn("capture: store failed", "logical_id", logicalID, "error", err)
		return
	}

	if level, stats, err := t.snaps.CheckLimits(ctx); err == nil && level != snapstore.QuotaOK {
		t.logger.Warn("capture: storage pressure",
			"level", level.String(), "used_bytes", stats.UsedBytes, "total_bytes", stats.TotalBytes)
	}
}

// CaptureNow forces an immediate snapshot of a window, bypassing the
// debounce. Used by the admin surface.
func (t *Tracker) CaptureNow(ctx context.Context, id host.WindowID) {
	t.sched.Flush(ctx, id)
}

// onSyncChange implements the local-wins merge policy. A remote write to
// the sync snapshot document that differs from the local one is overwritten
// with the local state. Concurrent remote edits can be lost; whole-document
// last-writer-wins is the accepted tradeoff.
func (t *Tracker) onSyncChange(ctx context.Context, ch kvstore.Change) {
	if ch.Key != kvstore.KeySnapshots {
		return
	}
	local, ok, err := t.kv.Get(ctx, kvstore.KeySnapshots)
	if err != nil {
		t.logger.Warn("sync: reading local snapshots failed", "error", err)
		return
	}
	if !ok || bytes.Equal(local, ch.NewValue) {
		return
	}
	if err := t.syncKV.Set(ctx, kvstore.KeySnapshots, local); err != nil {
		t.logger.Warn("sync: reassert failed", "error", err)
		return
	}
	t.logger.Info("sync: local snapshots reasserted over remote change")
}

// sleepCtx waits for d unless ctx ends first. Reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
