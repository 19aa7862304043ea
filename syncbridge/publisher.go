package syncbridge

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/fenetre/kvstore"
)

// Publisher watches the local store's snapshot document and pushes it to
// every peer when it changes.
type Publisher struct {
	local  kvstore.Store
	peers  []string
	tlsCfg *tls.Config
	logger *slog.Logger
	opts   options

	kick chan struct{}

	mu       sync.RWMutex
	lastMeta *DocMeta
	lastHash string // dedup: skip push when hash unchanged
}

// NewPublisher creates a Publisher pushing the local snapshot document to
// the given peer endpoints ("ip:port").
func NewPublisher(local kvstore.Store, peers []string, tlsCfg *tls.Config, logger *slog.Logger, opts ...Option) *Publisher {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		local:  local,
		peers:  peers,
		tlsCfg: tlsCfg,
		logger: logger,
		opts:   o,
		kick:   make(chan struct{}, 1),
	}
}

// Start watches the local store and pushes on change. Blocks until ctx is
// cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	cancel := p.local.Watch(func(ch kvstore.Change) {
		if ch.Key != kvstore.KeySnapshots {
			return
		}
		select {
		case p.kick <- struct{}{}:
		default:
		}
	})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.kick:
		}

		// Debounce: absorb the burst, push once with the final state.
		timer := time.NewTimer(p.opts.debounce)
	settle:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-p.kick:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(p.opts.debounce)
			case <-timer.C:
				break settle
			}
		}

		if err := p.publish(ctx); err != nil {
			p.logger.Error("syncbridge: publish failed", "error", err)
		}
	}
}

// LastMeta returns the metadata of the most recently pushed document.
func (p *Publisher) LastMeta() *DocMeta {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastMeta
}

// publish reads the current snapshot document and pushes it to all peers.
func (p *Publisher) publish(ctx context.Context) error {
	payload, ok, err := p.local.Get(ctx, kvstore.KeySnapshots)
	if err != nil {
		return err
	}
	if !ok {
		p.logger.Debug("syncbridge: no snapshot document yet")
		return nil
	}

	sum := sha256.Sum256(payload)
	meta := &DocMeta{
		Version:    time.Now().UnixMilli(),
		Hash:       hex.EncodeToString(sum[:]),
		Size:       int64(len(payload)),
		Timestamp:  time.Now().Unix(),
		Compressed: p.opts.compress,
	}

	p.mu.Lock()
	prevHash := p.lastHash
	p.lastMeta = meta
	p.lastHash = meta.Hash
	p.mu.Unlock()

	if meta.Hash == prevHash {
		p.logger.Debug("syncbridge: document unchanged, skipping push", "hash", meta.Hash[:16]+"...")
		return nil
	}

	if len(p.peers) == 0 {
		p.logger.Debug("syncbridge: no peers configured")
		return nil
	}

	p.logger.Info("syncbridge: pushing document",
		"version", meta.Version, "size", meta.Size, "peers", len(p.peers))

	var wg sync.WaitGroup
	for _, peer := range p.peers {
		wg.Add(1)
		go func(endpoint string) {
			defer wg.Done()
			if err := PushDocument(ctx, endpoint, p.tlsCfg, *meta, payload); err != nil {
				p.logger.Error("syncbridge: push failed", "endpoint", endpoint, "error", err)
			} else {
				p.logger.Info("syncbridge: push succeeded", "endpoint", endpoint)
			}
		}(peer)
	}
	wg.Wait()
	return nil
}

// Status returns a JSON-serializable status summary.
func (p *Publisher) Status() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := map[string]any{"role": "publisher", "peers": len(p.peers)}
	if p.lastMeta != nil {
		b, _ := json.Marshal(p.lastMeta)
		var m map[string]any
		json.Unmarshal(b, &m)
		status["last_document"] = m
	}
	return status
}
