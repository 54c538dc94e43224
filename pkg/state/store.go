// Package state defines the gateway's State Store contract (spec.md §4.A)
// and its two implementations: an in-memory store for tests and a
// Redis-backed store grounded on the teacher's core/redis_client.go
// wrapper, generalized with Lua-scripted atomic operations and sorted-set
// timeout/chain-ready indexes.
package state

import "context"

// CasResult is the outcome of a CompareAndSwap call.
type CasResult int

const (
	CasSuccess CasResult = iota
	CasVersionMismatch
	CasNotFound
)

// Store is the contract every other package depends on for persistence.
// Backends are free to choose their own wire format provided the
// semantics below hold (spec.md §6 "State store key layout").
type Store interface {
	// Get returns the stored value and true, or ("", false, nil) if absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value, with an optional ttl (zero means no expiry).
	Set(ctx context.Context, key, value string, ttlSeconds int64) error

	// Delete removes key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// CheckAndSet atomically writes value iff key is absent, returning
	// true iff the write occurred.
	CheckAndSet(ctx context.Context, key, value string, ttlSeconds int64) (bool, error)

	// Increment atomically adds delta (which may be negative, for
	// rollback) and returns the new value.
	Increment(ctx context.Context, key string, delta int64, ttlSeconds int64) (int64, error)

	// CompareAndSwap writes value iff the key's current version equals
	// expectedVersion. A missing key matches expectedVersion==0.
	CompareAndSwap(ctx context.Context, key string, expectedVersion int64, value string, ttlSeconds int64) (CasResult, error)

	// ScanKeys lists keys under (ns, tenant, kind), optionally filtered by
	// an id prefix.
	ScanKeys(ctx context.Context, namespace, tenant, kind, prefix string) ([]string, error)

	// ScanKeysByKind lists keys of a given kind across all tenants —
	// used by the retention reaper and admin listings.
	ScanKeysByKind(ctx context.Context, kind string) ([]string, error)

	// IndexTimeout/RemoveTimeoutIndex/GetExpiredTimeouts maintain a sorted
	// index keyed by expiry, for O(log N) drain by the background
	// processor (state-machine timeouts, scheduled actions, recurring
	// actions all share this index keyed by their own id namespace).
	IndexTimeout(ctx context.Context, indexName, id string, expiresAtMs int64) error
	RemoveTimeoutIndex(ctx context.Context, indexName, id string) error
	GetExpiredTimeouts(ctx context.Context, indexName string, nowMs int64) ([]string, error)

	// IndexChainReady/RemoveChainReadyIndex/GetReadyChains are the
	// chain-specific counterpart (kept distinct per spec.md §4.A).
	IndexChainReady(ctx context.Context, chainID string, readyAtMs int64) error
	RemoveChainReadyIndex(ctx context.Context, chainID string) error
	GetReadyChains(ctx context.Context, nowMs int64) ([]string, error)
}
