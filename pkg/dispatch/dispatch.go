// Package dispatch implements the Dispatch Pipeline (spec.md §4.H): the
// gateway's core orchestrator. A single Dispatch call acquires the
// per-action lock, checks quota, evaluates rules (with an optional LLM
// guardrail second opinion), routes the resulting verdict to its
// handler, then emits an audit record and a stream event without
// blocking the caller on either. Grounded on the teacher's
// orchestration.Orchestrator request shape (build context -> evaluate ->
// dispatch -> telemetry) for the overall sequencing.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/acteonerr"
	"github.com/penserai/acteon/pkg/approval"
	"github.com/penserai/acteon/pkg/audit"
	"github.com/penserai/acteon/pkg/chain"
	"github.com/penserai/acteon/pkg/executor"
	"github.com/penserai/acteon/pkg/group"
	"github.com/penserai/acteon/pkg/lock"
	"github.com/penserai/acteon/pkg/logger"
	"github.com/penserai/acteon/pkg/quota"
	"github.com/penserai/acteon/pkg/resilience"
	"github.com/penserai/acteon/pkg/rules"
	"github.com/penserai/acteon/pkg/state"
	"github.com/penserai/acteon/pkg/statemachine"
	"github.com/penserai/acteon/pkg/stream"
	"github.com/penserai/acteon/pkg/tasktracker"
	"github.com/penserai/acteon/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ProviderLookup resolves a provider name (post-reroute/post-fallback) to
// the executor.Provider that performs the call.
type ProviderLookup func(name string) (executor.Provider, bool)

// Config tunes the pipeline's own behavior; collaborators (store, rules,
// quota, ...) are supplied separately to New so each can be reused/shared
// across the gateway.
type Config struct {
	LockTTL            time.Duration
	LockAcquireTimeout time.Duration
	GuardrailFailOpen  bool
	DefaultTimezone    string
}

func DefaultConfig() Config {
	return Config{
		LockTTL:            30 * time.Second,
		LockAcquireTimeout: 5 * time.Second,
		GuardrailFailOpen:  true,
	}
}

// Dispatcher is the pipeline. Every collaborator beyond store/lock/rules/
// executor/providers is optional (nil skips the corresponding verdict kind with a
// configuration error if a rule ever routes to it).
type Dispatcher struct {
	cfg Config

	store    state.Store
	lk       lock.Lock
	quota    *quota.Enforcer
	rules    *rules.RuleEngine
	breakers *resilience.Registry
	exec     *executor.Executor
	providers ProviderLookup

	groups        *group.Manager
	statemachines *statemachine.Handler
	approvals     *approval.Handler
	chains        *chain.Executor

	auditStore audit.Store
	stream     *stream.Bus
	tracker    *tasktracker.Tracker

	evaluator         Evaluator
	guardrailPolicy   PolicyResolver
	defaultEnv        map[string]interface{}
	embedding         rules.EmbeddingProvider

	logger    logger.Logger
	now       func() time.Time
	telemetry *telemetry.Telemetry
}

// WithTelemetry wires tracing/metrics in after construction, so callers
// that don't need it never have to pass nil through New's already-long
// argument list. Safe to call with nil to clear it.
func (d *Dispatcher) WithTelemetry(t *telemetry.Telemetry) *Dispatcher {
	d.telemetry = t
	return d
}

// New builds a Dispatcher. store/lk/re/exec/providers are required;
// every other collaborator may be nil to omit that feature.
func New(
	cfg Config,
	store state.Store,
	lk lock.Lock,
	q *quota.Enforcer,
	re *rules.RuleEngine,
	breakers *resilience.Registry,
	exec *executor.Executor,
	providers ProviderLookup,
	groups *group.Manager,
	statemachines *statemachine.Handler,
	approvals *approval.Handler,
	chains *chain.Executor,
	auditStore audit.Store,
	bus *stream.Bus,
	tracker *tasktracker.Tracker,
	evaluator Evaluator,
	guardrailPolicy PolicyResolver,
	log logger.Logger,
) *Dispatcher {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	if tracker == nil {
		tracker = tasktracker.New(log)
	}
	return &Dispatcher{
		cfg: cfg, store: store, lk: lk, quota: q, rules: re, breakers: breakers, exec: exec, providers: providers,
		groups: groups, statemachines: statemachines, approvals: approvals, chains: chains,
		auditStore: auditStore, stream: bus, tracker: tracker,
		evaluator: evaluator, guardrailPolicy: guardrailPolicy, logger: log, now: time.Now,
	}
}

func (d *Dispatcher) lockName(action acteon.Action) string {
	return "dispatch:" + action.Namespace + ":" + action.Tenant + ":" + action.ID
}

// Dispatch runs the full ten-step pipeline of spec.md §4.H for one
// action.
func (d *Dispatcher) Dispatch(ctx context.Context, action acteon.Action, caller string) (acteon.Outcome, error) {
	return d.dispatch(ctx, action, caller, false)
}

// DispatchDryRun runs rule evaluation and the guardrail only: no lock, no
// quota mutation, no verdict execution, no audit/stream side effects
// (spec.md §4.H step 6).
func (d *Dispatcher) DispatchDryRun(ctx context.Context, action acteon.Action, caller string) (acteon.Outcome, error) {
	return d.dispatch(ctx, action, caller, true)
}

func (d *Dispatcher) dispatch(ctx context.Context, action acteon.Action, caller string, dryRun bool) (acteon.Outcome, error) {
	dispatchedAt := d.now()

	var span trace.Span
	ctx, span = d.telemetry.StartSpan(ctx, "acteon.dispatch",
		attribute.String("provider", action.Provider),
		attribute.String("action_type", action.ActionType),
		attribute.Bool("dry_run", dryRun),
	)
	defer telemetry.SpanDuration(span, dispatchedAt)

	if !dryRun {
		ttl := d.cfg.LockTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		timeout := d.cfg.LockAcquireTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		guard, err := d.lk.Acquire(ctx, d.lockName(action), ttl, timeout)
		if err != nil {
			return nil, acteonerr.New("dispatch.Dispatch", acteonerr.KindLockFailed, acteonerr.ErrLockFailed).WithID(action.ID)
		}
		defer guard.Release(ctx)

		if d.quota != nil {
			qo, err := d.quota.CheckQuota(ctx, action)
			if err != nil {
				return nil, err
			}
			if qo != nil {
				d.emit(ctx, action, caller, "quota_check", "", qo, dispatchedAt)
				return qo, nil
			}
		}
	}

	ec := rules.NewEvalContext(ctx, action, d.store, d.defaultEnv)
	ec.Embedding = d.embedding
	ec.Timezone = d.cfg.DefaultTimezone
	verdict, err := d.rules.Evaluate(ec)
	if err != nil {
		return nil, err
	}

	if d.evaluator != nil && !isFinalDeny(verdict) {
		ruleName := verdictRuleName(verdict)
		policy := d.guardrailPolicy.Resolve(action, ruleMetadataFor(d.rules.Rules(), ruleName))
		allowed, reason, gerr := d.evaluator.Evaluate(ctx, action, policy)
		switch {
		case gerr != nil:
			if !d.cfg.GuardrailFailOpen {
				verdict = acteon.DenyVerdict{Reason: "LLM guardrail unavailable: " + gerr.Error()}
			}
		case !allowed:
			verdict = acteon.DenyVerdict{Reason: "LLM guardrail: " + reason}
		}
	}

	if dryRun {
		wouldBeProvider := action.Provider
		if r, ok := verdict.(acteon.RerouteVerdict); ok {
			wouldBeProvider = r.TargetProvider
		}
		return acteon.DryRunOutcome{
			VerdictTag:      verdictTag(verdict),
			MatchedRule:     verdictRuleName(verdict),
			WouldBeProvider: wouldBeProvider,
		}, nil
	}

	outcome, err := d.handleVerdict(ctx, action, verdict)
	if err != nil {
		return nil, err
	}

	d.emit(ctx, action, caller, verdictTag(verdict), verdictRuleName(verdict), outcome, dispatchedAt)
	return outcome, nil
}

// emit fires the audit record and stream event, both fire-and-forget via
// the task tracker, per spec.md §4.H steps 8-9.
func (d *Dispatcher) emit(ctx context.Context, action acteon.Action, caller, tag, matchedRule string, outcome acteon.Outcome, dispatchedAt time.Time) {
	completedAt := d.now()

	d.telemetry.RecordOutcome(ctx, action.Provider, outcomeTag(outcome))

	if d.auditStore != nil {
		storePayload := d.auditStore.StorePayload()
		rec := audit.Record{
			ID: uuid.NewString(), ActionID: action.ID, Namespace: action.Namespace, Tenant: action.Tenant,
			Provider: action.Provider, ActionType: action.ActionType,
			VerdictTag: tag, MatchedRule: matchedRule,
			OutcomeTag: outcomeTag(outcome), OutcomeDetails: outcomeDetails(outcome, storePayload),
			Metadata: enrichedMetadata(action),
			Caller: caller, DispatchedAt: dispatchedAt, CompletedAt: completedAt,
			DurationMs: completedAt.Sub(dispatchedAt).Milliseconds(),
		}
		if storePayload {
			rec.Payload = action.Payload
		}
		d.tracker.Spawn(func() {
			if err := d.auditStore.Append(context.Background(), rec); err != nil {
				d.logger.Error("audit append failed", map[string]interface{}{"action_id": action.ID, "error": err.Error()})
			}
		})
	}

	if d.stream != nil {
		evt := stream.Event{
			Kind: "action_dispatched", Provider: action.Provider, OutcomeTag: outcomeTag(outcome),
			Details: sanitizeOutcome(outcome),
		}
		d.tracker.Spawn(func() { d.stream.Publish(evt) })
	}
}

// enrichedMetadata augments the action's user metadata with the
// system-prefixed replay fields spec.md §4.H step 8 requires.
func enrichedMetadata(action acteon.Action) map[string]string {
	m := make(map[string]string, len(action.Metadata)+5)
	for k, v := range action.Metadata {
		m[k] = v
	}
	m[audit.MetaDedupKey] = action.DedupKey
	m[audit.MetaFingerprint] = action.Fingerprint
	m[audit.MetaStatus] = action.Status
	if action.StartsAt != nil {
		m[audit.MetaStartsAt] = action.StartsAt.Format(time.RFC3339)
	}
	if action.EndsAt != nil {
		m[audit.MetaEndsAt] = action.EndsAt.Format(time.RFC3339)
	}
	return m
}

func verdictTag(v acteon.Verdict) string {
	switch v.(type) {
	case acteon.AllowVerdict:
		return "allow"
	case acteon.DenyVerdict:
		return "deny"
	case acteon.SuppressVerdict:
		return "suppress"
	case acteon.RerouteVerdict:
		return "reroute"
	case acteon.ThrottleVerdict:
		return "throttle"
	case acteon.ModifyVerdict:
		return "modify"
	case acteon.DeduplicateVerdict:
		return "deduplicate"
	case acteon.StateMachineVerdict:
		return "state_machine"
	case acteon.GroupVerdict:
		return "group"
	case acteon.RequestApprovalVerdict:
		return "request_approval"
	case acteon.ChainVerdict:
		return "chain"
	case acteon.ScheduleVerdict:
		return "schedule"
	default:
		return "unknown"
	}
}

// BatchResult pairs one action with its Dispatch (or DispatchDryRun)
// outcome, for DispatchBatch/DispatchBatchDryRun.
type BatchResult struct {
	Action  acteon.Action
	Outcome acteon.Outcome
	Err     error
}

// DispatchBatch runs Dispatch sequentially over actions, collecting every
// result without short-circuiting on a per-action error (supplemented
// from original_source's gateway.rs dispatch_batch; concurrency is left
// to the caller since each Dispatch already serializes per action id via
// its own lock).
func (d *Dispatcher) DispatchBatch(ctx context.Context, actions []acteon.Action, caller string) []BatchResult {
	return d.dispatchBatch(ctx, actions, caller, false)
}

// DispatchBatchDryRun is DispatchBatch's dry-run counterpart.
func (d *Dispatcher) DispatchBatchDryRun(ctx context.Context, actions []acteon.Action, caller string) []BatchResult {
	return d.dispatchBatch(ctx, actions, caller, true)
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, actions []acteon.Action, caller string, dryRun bool) []BatchResult {
	results := make([]BatchResult, len(actions))
	for i, a := range actions {
		var out acteon.Outcome
		var err error
		if dryRun {
			out, err = d.DispatchDryRun(ctx, a, caller)
		} else {
			out, err = d.Dispatch(ctx, a, caller)
		}
		results[i] = BatchResult{Action: a, Outcome: out, Err: err}
	}
	return results
}

// Shutdown awaits every in-flight audit/stream write before returning
// (spec.md §4.H "fire-and-forget via a tracker that awaits completion on
// shutdown").
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	return d.tracker.Close(ctx)
}
