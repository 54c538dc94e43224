package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/penserai/acteon/pkg/acteonerr"
)

type heldLease struct {
	token     string
	expiresAt time.Time
}

// InMemoryLock is a process-local Lock for tests and single-process
// deployments.
type InMemoryLock struct {
	mu      sync.Mutex
	held    map[string]heldLease
	pollInterval time.Duration
}

// NewInMemoryLock constructs an empty lock table.
func NewInMemoryLock() *InMemoryLock {
	return &InMemoryLock{held: make(map[string]heldLease), pollInterval: 10 * time.Millisecond}
}

func (l *InMemoryLock) Acquire(ctx context.Context, name string, ttl, timeout time.Duration) (Guard, error) {
	deadline := time.Now().Add(timeout)
	token := uuid.NewString()

	for {
		if g, ok := l.tryAcquire(name, token, ttl); ok {
			return g, nil
		}

		if time.Now().After(deadline) {
			return nil, acteonerr.New("lock.Acquire", acteonerr.KindLockFailed, acteonerr.ErrLockFailed).WithID(name)
		}
		select {
		case <-ctx.Done():
			return nil, acteonerr.New("lock.Acquire", acteonerr.KindLockFailed, ctx.Err()).WithID(name)
		case <-time.After(l.pollInterval):
		}
	}
}

func (l *InMemoryLock) tryAcquire(name, token string, ttl time.Duration) (Guard, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.held[name]; ok && time.Now().Before(existing.expiresAt) {
		return nil, false
	}
	l.held[name] = heldLease{token: token, expiresAt: time.Now().Add(ttl)}
	return &memoryGuard{l: l, name: name, token: token}, true
}

type memoryGuard struct {
	l     *InMemoryLock
	name  string
	token string
}

func (g *memoryGuard) Release(context.Context) error {
	g.l.mu.Lock()
	defer g.l.mu.Unlock()
	if existing, ok := g.l.held[g.name]; ok && existing.token == g.token {
		delete(g.l.held, g.name)
	}
	return nil
}

var _ Lock = (*InMemoryLock)(nil)
