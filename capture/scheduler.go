// Package capture coalesces bursts of tab-change events into a single
// snapshot capture per window after a quiet period (trailing-edge debounce).
//
// Timers are kept in one mutex-guarded arena keyed by host window ID rather
// than as unmanaged goroutines, so reset and cancel semantics stay race-free.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/fenetre/host"
)

// DefaultQuiet is the debounce window. Bursty hosts emit several events per
// real user action; five seconds of quiet marks the burst as over.
const DefaultQuiet = 5 * time.Second

// CaptureFunc builds and stores a snapshot for one window. Invoked once per
// burst, after the quiet period, with the state as of the last event.
type CaptureFunc func(ctx context.Context, id host.WindowID)

// Scheduler maintains one logical timer per host window.
type Scheduler struct {
	quiet  time.Duration
	fn     CaptureFunc
	logger *slog.Logger

	mu     sync.Mutex
	timers map[host.WindowID]*time.Timer
	closed bool
}

// NewScheduler creates a Scheduler firing fn after quiet. quiet <= 0 uses
// DefaultQuiet.
func NewScheduler(quiet time.Duration, fn CaptureFunc, logger *slog.Logger) *Scheduler {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		quiet:  quiet,
		fn:     fn,
		logger: logger,
		timers: make(map[host.WindowID]*time.Timer),
	}
}

// Touch records activity on a window, resetting its timer. For N events
// arriving within less than the quiet interval of each other, exactly one
// capture occurs, reflecting the state as of the last event.
func (s *Scheduler) Touch(id host.WindowID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	var tm *time.Timer
	tm = time.AfterFunc(s.quiet, func() { s.fire(id, tm) })
	s.timers[id] = tm
}

// Cancel discards any pending capture for a window. Returns true when a
// timer was pending. The close-triggered final snapshot path uses this to
// supersede the debounced capture.
func (s *Scheduler) Cancel(id host.WindowID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, id)
	return true
}

// Flush runs the capture for a window immediately, superseding any pending
// timer. It is a no-op after Close.
func (s *Scheduler) Flush(ctx context.Context, id host.WindowID) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.fn(ctx, id)
}

// Pending reports whether a capture is scheduled for the window.
func (s *Scheduler) Pending(id host.WindowID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Close cancels every pending timer. Subsequent Touch calls are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// fire runs when a window's quiet period elapses. A timer superseded by a
// later Touch (or removed by Cancel/Close) finds itself no longer in the
// arena and gives up.
func (s *Scheduler) fire(id host.WindowID, tm *time.Timer) {
	s.mu.Lock()
	cur, ok := s.timers[id]
	if !ok || cur != tm || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	s.fn(context.Background(), id)
}
