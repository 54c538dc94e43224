// Package background implements the Background Processor (spec.md §4.M):
// a single select loop driving N independent tickers, each gated by a
// boolean enable flag, that drains every time-indexed piece of state the
// rest of the gateway leaves for later — group flushes, state-machine
// timeouts, chain advancement, scheduled/recurring actions, and the
// retention reaper. Grounded on the teacher's
// orchestration.RedisCheckpointStore expiry-processor loop
// (time.NewTicker + select, context-cancelled shutdown) generalized from
// one ticker to one per spec.md §4.M bullet. Drain callbacks run directly
// in the loop; a panic inside one is not recovered here.
package background

import (
	"context"
	"time"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/chain"
	"github.com/penserai/acteon/pkg/group"
	"github.com/penserai/acteon/pkg/logger"
	"github.com/penserai/acteon/pkg/state"
	"github.com/penserai/acteon/pkg/statemachine"
	"github.com/penserai/acteon/pkg/stream"
)

// DispatchFunc re-enters the dispatch pipeline for a due scheduled or
// recurring action. When nil, the scheduled/recurring drains only emit
// the due event and leave the record for an external consumer to
// dispatch-and-delete, per spec.md §4.M's at-least-once contract; when
// set, this processor acts as that consumer directly (there is no
// separate HTTP/consumer tier in this module).
type DispatchFunc func(ctx context.Context, action acteon.Action) (acteon.Outcome, error)

// Config tunes each drain's interval and whether it runs at all. The
// always-on drains (groups, timeouts, chains) default enabled; the
// opt-in ones (scheduled, recurring, retention) default disabled until a
// caller turns them on, per spec.md §4.M. There is no template-sync drain.
type Config struct {
	GroupFlushInterval time.Duration

	StateMachineTimeoutInterval time.Duration

	ChainInterval time.Duration

	ScheduledEnabled bool
	ScheduledInterval time.Duration

	RecurringEnabled bool
	RecurringInterval time.Duration
	// RecurringJitterGuard skips a recurring definition fired within this
	// long of now, to avoid double-firing across overlapping ticks.
	RecurringJitterGuard time.Duration

	RetentionEnabled bool
	RetentionInterval time.Duration

	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		GroupFlushInterval:          5 * time.Second,
		StateMachineTimeoutInterval: 10 * time.Second,
		ChainInterval:               5 * time.Second,
		ScheduledEnabled:            false,
		ScheduledInterval:           5 * time.Second,
		RecurringEnabled:            false,
		RecurringInterval:           60 * time.Second,
		RecurringJitterGuard:        5 * time.Second,
		RetentionEnabled:            false,
		RetentionInterval:           3600 * time.Second,
		CleanupInterval:             60 * time.Second,
	}
}

// Processor owns the select loop. Every collaborator is optional except
// store; a nil collaborator simply means its drain is skipped even if
// its interval fires.
type Processor struct {
	cfg Config

	store         state.Store
	groups        *group.Manager
	statemachines *statemachine.Handler
	chains        *chain.Executor
	bus           *stream.Bus
	dispatch      DispatchFunc

	logger logger.Logger
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Processor. groups/statemachines/chains/bus/dispatch may
// all be nil to disable their respective drains (or, for dispatch, to
// fall back to emit-only semantics) regardless of Config.
func New(cfg Config, store state.Store, groups *group.Manager, statemachines *statemachine.Handler, chains *chain.Executor, bus *stream.Bus, dispatch DispatchFunc, log logger.Logger) *Processor {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Processor{
		cfg: cfg, store: store, groups: groups, statemachines: statemachines, chains: chains, bus: bus, dispatch: dispatch,
		logger: log, now: time.Now,
	}
}

// Run starts the select loop in a new goroutine and returns immediately.
// Stop (or cancelling ctx) ends it; Stop blocks until the loop has
// observed shutdown.
func (p *Processor) Run(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx)
}

// Stop cancels the loop and waits for it to exit.
func (p *Processor) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)

	groupTicker := newTicker(p.cfg.GroupFlushInterval)
	defer groupTicker.Stop()
	timeoutTicker := newTicker(p.cfg.StateMachineTimeoutInterval)
	defer timeoutTicker.Stop()
	chainTicker := newTicker(p.cfg.ChainInterval)
	defer chainTicker.Stop()
	scheduledTicker := newTicker(p.cfg.ScheduledInterval)
	defer scheduledTicker.Stop()
	recurringTicker := newTicker(p.cfg.RecurringInterval)
	defer recurringTicker.Stop()
	retentionTicker := newTicker(p.cfg.RetentionInterval)
	defer retentionTicker.Stop()
	cleanupTicker := newTicker(p.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-groupTicker.C:
			p.flushGroups(ctx)

		case <-timeoutTicker.C:
			p.processTimeouts(ctx)

		case <-chainTicker.C:
			p.advanceChains(ctx)

		case <-scheduledTicker.C:
			if p.cfg.ScheduledEnabled {
				p.drainScheduled(ctx)
			}

		case <-recurringTicker.C:
			if p.cfg.RecurringEnabled {
				p.drainRecurring(ctx)
			}

		case <-retentionTicker.C:
			if p.cfg.RetentionEnabled {
				p.reapRetention(ctx)
			}

		case <-cleanupTicker.C:
			p.cleanup(ctx)
		}
	}
}

// newTicker returns a ticker with a one-year period if d<=0, so a
// zero-valued Config field effectively disables that drain without a
// nil-channel special case.
func newTicker(d time.Duration) *time.Ticker {
	if d <= 0 {
		d = 365 * 24 * time.Hour
	}
	return time.NewTicker(d)
}

func (p *Processor) publish(kind, provider string, details map[string]interface{}) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(stream.Event{Kind: kind, Provider: provider, Details: details})
}
