package kvstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemStore is a map-backed Store. It backs unit tests and serves as the sync
// area when cross-device sync is disabled.
type MemStore struct {
	area  Area
	quota int64

	mu       sync.Mutex
	docs     map[string]json.RawMessage
	watchers map[int]func(Change)
	nextID   int
}

// NewMem creates an empty in-memory store tagged with the given area.
func NewMem(area Area) *MemStore {
	return &MemStore{
		area:     area,
		quota:    DefaultQuotaBytes,
		docs:     make(map[string]json.RawMessage),
		watchers: make(map[int]func(Change)),
	}
}

// SetQuota overrides the quota estimate. For tests exercising quota warnings.
func (s *MemStore) SetQuota(bytes int64) {
	s.mu.Lock()
	s.quota = bytes
	s.mu.Unlock()
}

// Get returns the document stored under key.
func (s *MemStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.docs[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *MemStore) Set(_ context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	old := s.docs[key]
	cp := make(json.RawMessage, len(value))
	copy(cp, value)
	s.docs[key] = cp
	fns := s.watcherList()
	s.mu.Unlock()

	c := Change{Area: s.area, Key: key, OldValue: old, NewValue: cp}
	for _, fn := range fns {
		fn(c)
	}
	return nil
}

// Delete removes key.
func (s *MemStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	old, ok := s.docs[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.docs, key)
	fns := s.watcherList()
	s.mu.Unlock()

	c := Change{Area: s.area, Key: key, OldValue: old}
	for _, fn := range fns {
		fn(c)
	}
	return nil
}

// Keys lists every stored key in lexical order.
func (s *MemStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.docs))
	for k := range s.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch registers fn for subsequent changes.
func (s *MemStore) Watch(fn func(Change)) (cancel func()) {
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

// Estimate sums stored document sizes against the configured quota.
func (s *MemStore) Estimate(_ context.Context) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var used int64
	for _, v := range s.docs {
		used += int64(len(v))
	}
	return Usage{TotalBytes: s.quota, UsedBytes: used}, nil
}

// watcherList must be called with mu held.
func (s *MemStore) watcherList() []func(Change) {
	fns := make([]func(Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	return fns
}
