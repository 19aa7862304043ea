// Package kvstore provides the coarse key-value persistence fenetre runs on:
// whole JSON documents per key, a change-notification stream keyed by storage
// area, and a storage-usage estimate.
//
// There is no sub-key partial update primitive. Every mutation contract in
// the packages above this one is therefore read-then-write with
// last-write-wins at the document level; writers re-fetch immediately before
// writing instead of reusing an earlier in-memory copy.
package kvstore

import (
	"context"
	"encoding/json"
)

// Top-level keys. Each is read and written as one JSON document.
const (
	KeyIdentityMap = "identity_map"
	KeySnapshots   = "snapshots"
	KeyConfig      = "config"
	KeyDeleted     = "deleted_snapshots"
)

// Area distinguishes the device-local store from the cross-device synced one.
type Area string

const (
	AreaLocal Area = "local"
	AreaSync  Area = "sync"
)

// Change describes one observed document mutation.
type Change struct {
	Area     Area
	Key      string
	OldValue json.RawMessage // nil when the key did not exist
	NewValue json.RawMessage // nil on delete
}

// Usage is a storage-usage estimate. TotalBytes is a quota estimate, not a
// hard limit; stores never refuse writes because of it.
type Usage struct {
	TotalBytes int64 `json:"total_bytes"`
	UsedBytes  int64 `json:"used_bytes"`
}

// Store is the persistence surface the core components consume.
type Store interface {
	// Get returns the document stored under key. The second return is false
	// for expected absence.
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)

	// Set stores value under key, replacing any previous document, and
	// notifies watchers.
	Set(ctx context.Context, key string, value json.RawMessage) error

	// Delete removes key and notifies watchers. Deleting a missing key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every stored key in lexical order.
	Keys(ctx context.Context) ([]string, error)

	// Watch registers fn for every subsequent change. The returned cancel
	// func unregisters it. Callbacks run synchronously on the mutating
	// goroutine; keep them short.
	Watch(fn func(Change)) (cancel func())

	// Estimate reports quota and usage. Implementations without a native
	// estimate fall back to a fixed default quota.
	Estimate(ctx context.Context) (Usage, error)
}

// DefaultQuotaBytes is the quota estimate used when the backing store offers
// no native one. Mirrors the usual extension local-storage allotment.
const DefaultQuotaBytes int64 = 10 << 20
