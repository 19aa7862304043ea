package syncbridge

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/fenetre/kvstore"
)

// Subscriber listens for incoming document pushes over QUIC, verifies
// integrity, and writes the received snapshot map into the sync storage
// area. The tracker observes that write and applies the merge policy.
type Subscriber struct {
	syncKV     kvstore.Store
	listenAddr string
	tlsCfg     *tls.Config
	logger     *slog.Logger
	opts       options

	mu      sync.Mutex
	onApply []func(DocMeta)

	lastVersion atomic.Int64
	lastHash    atomic.Value // string
	lastApplyAt atomic.Int64 // unix timestamp of last successful apply
}

// NewSubscriber creates a Subscriber that listens on listenAddr and writes
// received documents into syncKV.
func NewSubscriber(syncKV kvstore.Store, listenAddr string, tlsCfg *tls.Config, logger *slog.Logger, opts ...Option) *Subscriber {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		syncKV:     syncKV,
		listenAddr: listenAddr,
		tlsCfg:     tlsCfg,
		logger:     logger,
		opts:       o,
	}
	s.lastHash.Store("")
	return s
}

// Start listens for incoming documents over QUIC. Blocks until ctx is
// cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	s.logger.Info("syncbridge subscriber: starting", "listen", s.listenAddr)
	return ListenDocuments(ctx, s.listenAddr, s.tlsCfg, func(meta DocMeta, reader io.Reader) error {
		return s.handleDocument(ctx, meta, reader)
	})
}

// OnApply registers a callback invoked after a document is applied.
// Callbacks run synchronously in registration order.
func (s *Subscriber) OnApply(fn func(DocMeta)) {
	s.mu.Lock()
	s.onApply = append(s.onApply, fn)
	s.mu.Unlock()
}

// Version returns the version of the last applied document.
func (s *Subscriber) Version() int64 { return s.lastVersion.Load() }

// LastApplyAt returns the unix timestamp of the last successful apply, or 0.
func (s *Subscriber) LastApplyAt() int64 { return s.lastApplyAt.Load() }

// StaleSince returns how long since the last successful apply, or -1 if no
// document has been applied yet.
func (s *Subscriber) StaleSince() time.Duration {
	ts := s.lastApplyAt.Load()
	if ts == 0 {
		return -1
	}
	return time.Since(time.Unix(ts, 0))
}

// Status returns a JSON-serializable status summary.
func (s *Subscriber) Status() map[string]any {
	applyAt := s.lastApplyAt.Load()
	st := map[string]any{
		"role":          "subscriber",
		"last_version":  s.lastVersion.Load(),
		"last_hash":     s.lastHash.Load(),
		"last_apply_at": applyAt,
	}
	if applyAt > 0 {
		st["age_seconds"] = int64(time.Since(time.Unix(applyAt, 0)).Seconds())
	}
	return st
}

// handleDocument receives a document, validates it, and writes it to the
// sync area.
func (s *Subscriber) handleDocument(ctx context.Context, meta DocMeta, reader io.Reader) error {
	s.logger.Info("syncbridge subscriber: receiving document",
		"version", meta.Version, "size", meta.Size, "compressed", meta.Compressed)

	// Reject replayed pushes.
	if s.opts.maxAge > 0 && meta.Timestamp > 0 {
		age := time.Since(time.Unix(meta.Timestamp, 0))
		if age > s.opts.maxAge {
			return fmt.Errorf("document too old: age %s exceeds max %s", age.Round(time.Second), s.opts.maxAge)
		}
	}

	payload, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if int64(len(payload)) != meta.Size {
		return fmt.Errorf("size mismatch: got %d, expected %d", len(payload), meta.Size)
	}

	sum := sha256.Sum256(payload)
	gotHash := hex.EncodeToString(sum[:])
	if gotHash != meta.Hash {
		return fmt.Errorf("hash mismatch: got %s, expected %s", gotHash, meta.Hash)
	}

	// Shape check: the document must at least be a JSON object. Deeper
	// validation happens when the tracker decodes it.
	if !json.Valid(payload) {
		return fmt.Errorf("document is not valid JSON")
	}

	if err := s.syncKV.Set(ctx, kvstore.KeySnapshots, payload); err != nil {
		return fmt.Errorf("write sync area: %w", err)
	}

	s.lastVersion.Store(meta.Version)
	s.lastHash.Store(meta.Hash)
	s.lastApplyAt.Store(time.Now().Unix())

	s.logger.Info("syncbridge subscriber: document applied", "version", meta.Version)

	s.mu.Lock()
	callbacks := append([]func(DocMeta){}, s.onApply...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(meta)
	}
	return nil
}
