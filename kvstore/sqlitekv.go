package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

type sqliteConfig struct {
	driver     string
	area       Area
	quota      int64
	mkdirAll   bool
	busyTimeout int
	ping       bool
}

func sqliteDefaults() sqliteConfig {
	return sqliteConfig{
		driver:      "sqlite",
		area:        AreaLocal,
		quota:       DefaultQuotaBytes,
		busyTimeout: 10_000,
		ping:        true,
	}
}

// Option customises Open behaviour.
type Option func(*sqliteConfig)

// WithDriver sets the database/sql driver name. Default: "sqlite".
func WithDriver(name string) Option { return func(c *sqliteConfig) { c.driver = name } }

// WithArea tags changes emitted by this store with the given area.
func WithArea(a Area) Option { return func(c *sqliteConfig) { c.area = a } }

// WithQuota sets the quota estimate in bytes. Default: DefaultQuotaBytes.
func WithQuota(bytes int64) Option { return func(c *sqliteConfig) { c.quota = bytes } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *sqliteConfig) { c.mkdirAll = true } }

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *sqliteConfig) { c.busyTimeout = ms } }

// SQLiteStore is a Store backed by a single SQLite database. The caller must
// blank-import a driver before calling Open:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db   *sql.DB
	area Area
	quota int64

	mu       sync.Mutex
	watchers map[int]func(Change)
	nextID   int
}

// Open opens (creating if needed) the key-value database at path with
// production-safe pragmas applied.
func Open(path string, opts ...Option) (*SQLiteStore, error) {
	cfg := sqliteDefaults()
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("kvstore: mkdir: %w", err)
		}
	}

	db, err := sql.Open(cfg.driver, path)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open: %w", err)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("kvstore: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: schema: %w", err)
	}
	if cfg.ping {
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("kvstore: ping: %w", err)
		}
	}

	return &SQLiteStore{
		db:       db,
		area:     cfg.area,
		quota:    cfg.quota,
		watchers: make(map[int]func(Change)),
	}, nil
}

// OpenMemory opens an in-memory store for tests. MaxOpenConns(1) ensures all
// queries hit the same in-memory database.
func OpenMemory(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("kvstore: open memory: %v", err)
	}
	s.db.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the document stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key and notifies watchers with the old document.
func (s *SQLiteStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	old, _, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, []byte(value), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("kvstore: set %s: %w", key, err)
	}
	s.notify(Change{Area: s.area, Key: key, OldValue: old, NewValue: value})
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	old, ok, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kvstore: delete %s: %w", key, err)
	}
	s.notify(Change{Area: s.area, Key: key, OldValue: old})
	return nil
}

// Keys lists every stored key in lexical order.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("kvstore: keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("kvstore: keys scan: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kvstore: keys: %w", err)
	}
	return keys, nil
}

// Watch registers fn for subsequent changes.
func (s *SQLiteStore) Watch(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *SQLiteStore) notify(c Change) {
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Estimate reports usage from the SQLite page pragmas and the configured
// quota. Page accounting overstates actual document bytes slightly, which is
// acceptable for an advisory estimate.
func (s *SQLiteStore) Estimate(ctx context.Context) (Usage, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return Usage{}, fmt.Errorf("kvstore: page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return Usage{}, fmt.Errorf("kvstore: page_size: %w", err)
	}
	return Usage{TotalBytes: s.quota, UsedBytes: pageCount * pageSize}, nil
}
