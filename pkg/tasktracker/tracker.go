// Package tasktracker implements the fire-and-forget task tracker spec.md
// §9 calls for: audit emission and stream broadcast must not block the
// dispatch hot path, yet shutdown must await every in-flight write so
// nothing is silently dropped. Grounded on the teacher's
// orchestration.TaskWorkerPool lifecycle shape (atomic running flag,
// sync.WaitGroup, panic-safe goroutines) but simplified to spawn/close/wait
// since there is no queue or handler registry here.
package tasktracker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/penserai/acteon/pkg/logger"
)

// Tracker spawns detached goroutines ("tasks") and can be closed to await
// their completion.
type Tracker struct {
	wg      sync.WaitGroup
	closed  atomic.Bool
	logger  logger.Logger
}

func New(log logger.Logger) *Tracker {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Tracker{logger: log}
}

// Spawn runs fn in a new goroutine, recovering any panic so one failed
// audit/stream write can't crash the process. Spawn after Close is a
// no-op (the gateway is shutting down); fn is not run.
func (t *Tracker) Spawn(fn func()) {
	if t.closed.Load() {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("tracked task panicked", map[string]interface{}{
					"panic": r, "stack": string(debug.Stack()),
				})
			}
		}()
		fn()
	}()
}

// Close marks the tracker closed (further Spawn calls become no-ops) and
// blocks until every already-spawned task completes, or ctx is done.
func (t *Tracker) Close(ctx context.Context) error {
	t.closed.Store(true)

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
