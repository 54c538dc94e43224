// Package gateway assembles the Dispatch Pipeline, Chain Executor's DLQ,
// and Background Processor behind the single embeddable handle callers
// construct once: Gateway. Grounded on original_source's
// crates/gateway/src/gateway.rs, which is the one file in the Rust
// original that owns all three at once (dispatch/dispatch_batch,
// dlq_len/dlq_is_empty/dlq_drain, shutdown). Everything Gateway exposes
// is a thin delegation — the actual ten-step pipeline lives in
// pkg/dispatch, the actual background drains live in pkg/background.
package gateway

import (
	"context"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/background"
	"github.com/penserai/acteon/pkg/dispatch"
)

// DLQ is the read/drain surface of pkg/chain's DLQSink, split out so
// Gateway doesn't need to import pkg/chain just for these three methods.
// *chain.InMemoryDLQ satisfies this.
type DLQ interface {
	Len() int
	IsEmpty() bool
	Drain() []acteon.DeadLetterEntry
}

// Gateway is the library entry point: construct one per process (or per
// tenant pool), call Dispatch/DispatchBatch, and Shutdown on exit.
type Gateway struct {
	dispatcher *dispatch.Dispatcher
	dlq        DLQ
	background *background.Processor
}

// New wires a Gateway around an already-constructed Dispatcher. dlq and
// bg may be nil: a nil dlq makes the DLQ* methods report an always-empty
// queue; a nil bg means there's no background processor to stop on
// Shutdown (e.g. a caller running it externally, or not at all).
func New(dispatcher *dispatch.Dispatcher, dlq DLQ, bg *background.Processor) *Gateway {
	return &Gateway{dispatcher: dispatcher, dlq: dlq, background: bg}
}

// Dispatch runs the full pipeline for one action.
func (g *Gateway) Dispatch(ctx context.Context, action acteon.Action, caller string) (acteon.Outcome, error) {
	return g.dispatcher.Dispatch(ctx, action, caller)
}

// DispatchDryRun evaluates the pipeline without executing or persisting
// side effects.
func (g *Gateway) DispatchDryRun(ctx context.Context, action acteon.Action, caller string) (acteon.Outcome, error) {
	return g.dispatcher.DispatchDryRun(ctx, action, caller)
}

// DispatchBatch runs Dispatch over every action, collecting per-action
// results without short-circuiting (original_source's dispatch_batch).
func (g *Gateway) DispatchBatch(ctx context.Context, actions []acteon.Action, caller string) []dispatch.BatchResult {
	return g.dispatcher.DispatchBatch(ctx, actions, caller)
}

// DispatchBatchDryRun is DispatchBatch's dry-run counterpart.
func (g *Gateway) DispatchBatchDryRun(ctx context.Context, actions []acteon.Action, caller string) []dispatch.BatchResult {
	return g.dispatcher.DispatchBatchDryRun(ctx, actions, caller)
}

// DLQLen reports the number of dead-lettered chain steps awaiting
// inspection (original_source's dlq_len; backs the out-of-scope HTTP
// contract's GET /v1/dlq/stats).
func (g *Gateway) DLQLen() int {
	if g.dlq == nil {
		return 0
	}
	return g.dlq.Len()
}

// DLQIsEmpty is DLQLen() == 0, split out to match original_source's
// dlq_is_empty.
func (g *Gateway) DLQIsEmpty() bool {
	if g.dlq == nil {
		return true
	}
	return g.dlq.IsEmpty()
}

// DLQDrain removes and returns every dead-lettered entry (original_source's
// dlq_drain; backs POST /v1/dlq/drain).
func (g *Gateway) DLQDrain() []acteon.DeadLetterEntry {
	if g.dlq == nil {
		return nil
	}
	return g.dlq.Drain()
}

// Shutdown stops the background processor (if any) and then awaits every
// in-flight audit/stream write the dispatcher's task tracker is holding,
// mirroring original_source's shutdown awaiting both collaborators.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.background != nil {
		g.background.Stop()
	}
	return g.dispatcher.Shutdown(ctx)
}
