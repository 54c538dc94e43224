// Package lock defines the gateway's Distributed Lock contract (spec.md
// §4.B): a namespaced exclusive lease with TTL and a timeout-bounded
// acquire. InMemoryLock serves tests; RedisLock is grounded on the
// teacher's SETNX create-if-absent pattern (orchestration/redis_task_store.go),
// generalized to a lease-with-token release so a holder can never release
// a lock someone else now owns after TTL expiry.
package lock

import (
	"context"
	"time"
)

// Guard represents a held lease. Release is idempotent; calling it twice
// or after the lease naturally expired is a no-op.
type Guard interface {
	Release(ctx context.Context) error
}

// Lock acquires namespaced exclusive leases.
type Lock interface {
	// Acquire waits up to timeout to obtain the named lease, which expires
	// automatically after ttl regardless of Release. A zero Guard and a
	// non-nil acteonerr.ErrLockFailed-wrapped error are returned on timeout.
	Acquire(ctx context.Context, name string, ttl, timeout time.Duration) (Guard, error)
}
