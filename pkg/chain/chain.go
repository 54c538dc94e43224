// Package chain implements the Chain Executor (spec.md §4.L): step-by-
// step advancement of a multi-step action sequence with branching,
// parallel fan-out, and sub-chains. Retry/backoff around each step's
// provider call is delegated to pkg/executor; circuit-breaking to
// pkg/resilience; quota to pkg/quota — this package only owns chain
// state transitions, templating, and branch resolution.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/acteonerr"
	"github.com/penserai/acteon/pkg/executor"
	"github.com/penserai/acteon/pkg/lock"
	"github.com/penserai/acteon/pkg/logger"
	"github.com/penserai/acteon/pkg/quota"
	"github.com/penserai/acteon/pkg/resilience"
	"github.com/penserai/acteon/pkg/state"
	"github.com/penserai/acteon/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ProviderLookup resolves a step's configured provider name to the
// executor.Provider that actually performs the call.
type ProviderLookup func(name string) (executor.Provider, bool)

// DLQSink receives entries for steps configured with on_failure=dlq.
type DLQSink interface {
	Push(ctx context.Context, entry acteon.DeadLetterEntry) error
}

// CancelNotifier dispatches the on_cancel notification through the full
// gateway pipeline (rules included) — wired by the dispatch package,
// which is the only component that can re-enter itself this way.
type CancelNotifier func(ctx context.Context, action acteon.Action) error

// Executor drives chain start/advance/cancel.
type Executor struct {
	store    state.Store
	lock     lock.Lock
	quota    *quota.Enforcer
	breakers *resilience.Registry
	exec     *executor.Executor
	providers ProviderLookup
	dlq      DLQSink
	cancelNotify CancelNotifier
	logger   logger.Logger
	now      func() time.Time
	telemetry *telemetry.Telemetry

	mu            sync.RWMutex
	configs       map[string]acteon.ChainConfig
	stepNameIndex map[string]map[string]int // chainName -> stepName -> idx
}

func NewExecutor(
	store state.Store,
	lk lock.Lock,
	q *quota.Enforcer,
	breakers *resilience.Registry,
	exec *executor.Executor,
	providers ProviderLookup,
	dlq DLQSink,
	cancelNotify CancelNotifier,
	log logger.Logger,
	configs []acteon.ChainConfig,
) (*Executor, error) {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	byName := make(map[string]acteon.ChainConfig, len(configs))
	for _, c := range configs {
		byName[c.Name] = c
	}
	if err := ValidateGraph(byName); err != nil {
		return nil, err
	}
	nameIdx := make(map[string]map[string]int, len(configs))
	for _, c := range configs {
		if err := ValidateConfig(c); err != nil {
			return nil, err
		}
		idx := make(map[string]int, len(c.Steps))
		for i, s := range c.Steps {
			idx[s.Name] = i
		}
		nameIdx[c.Name] = idx
	}
	return &Executor{
		store: store, lock: lk, quota: q, breakers: breakers, exec: exec,
		providers: providers, dlq: dlq, cancelNotify: cancelNotify, logger: log, now: time.Now,
		configs: byName, stepNameIndex: nameIdx,
	}, nil
}

// WithTelemetry wires tracing in after construction; nil clears it.
func (e *Executor) WithTelemetry(t *telemetry.Telemetry) *Executor {
	e.telemetry = t
	return e
}

func chainStateKey(chainID string) string { return "chain:state:" + chainID }
func stepDedupKey(chainID, stepName string) string {
	return fmt.Sprintf("dedup:chain-step:%s:%s", chainID, stepName)
}

func (e *Executor) config(name string) (acteon.ChainConfig, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.configs[name]
	return c, ok
}

func (e *Executor) nameIndex(chainName string) map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stepNameIndex[chainName]
}

func (e *Executor) persist(ctx context.Context, st acteon.ChainState, ttlSeconds int64) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return e.store.Set(ctx, chainStateKey(st.ChainID), string(data), ttlSeconds)
}

func (e *Executor) load(ctx context.Context, chainID string) (acteon.ChainState, bool, error) {
	raw, ok, err := e.store.Get(ctx, chainStateKey(chainID))
	if err != nil || !ok {
		return acteon.ChainState{}, ok, err
	}
	var st acteon.ChainState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return acteon.ChainState{}, false, err
	}
	return st, true, nil
}

// GetState exposes a chain's current record to external callers (the
// background processor, status endpoints) without letting them mutate
// it directly.
func (e *Executor) GetState(ctx context.Context, chainID string) (acteon.ChainState, bool, error) {
	return e.load(ctx, chainID)
}

const completedChainTTLSeconds = 7 * 24 * 3600 // terminal records are GC'd after a week

// Start creates and persists a new ChainState for chainName, origin being
// the action whose Chain{chain_name} verdict triggered it.
func (e *Executor) Start(ctx context.Context, origin acteon.Action, chainName string) (acteon.ChainStartedOutcome, error) {
	cfg, ok := e.config(chainName)
	if !ok {
		return acteon.ChainStartedOutcome{}, acteonerr.New("chain.Start", acteonerr.KindChainError, acteonerr.ErrChainNotFound).WithID(chainName)
	}
	if len(cfg.Steps) == 0 {
		return acteon.ChainStartedOutcome{}, acteonerr.New("chain.Start", acteonerr.KindChainError, acteonerr.ErrChainConfigInvalid).WithID(chainName)
	}

	now := e.now()
	chainID := uuid.NewString()
	var expiresAt *time.Time
	if cfg.TimeoutSeconds > 0 {
		t := now.Add(time.Duration(cfg.TimeoutSeconds) * time.Second)
		expiresAt = &t
	}

	st := acteon.ChainState{
		ChainID: chainID, ChainName: chainName, OriginAction: origin,
		CurrentStep: 0, TotalSteps: len(cfg.Steps), Status: acteon.ChainRunning,
		StepResults:   make([]*acteon.StepResult, len(cfg.Steps)),
		StartedAt:     now, UpdatedAt: now, ExpiresAt: expiresAt,
		ExecutionPath: []string{cfg.Steps[0].Name},
	}

	if err := e.persist(ctx, st, 0); err != nil {
		return acteon.ChainStartedOutcome{}, err
	}
	if err := e.store.Set(ctx, "pending_chains:"+chainID, chainName, 0); err != nil {
		return acteon.ChainStartedOutcome{}, err
	}
	readyAtMs := now.Add(time.Duration(cfg.Steps[0].DelaySeconds) * time.Second).UnixMilli()
	if err := e.store.IndexChainReady(ctx, chainID, readyAtMs); err != nil {
		return acteon.ChainStartedOutcome{}, err
	}

	return acteon.ChainStartedOutcome{
		ChainID: chainID, Name: chainName, TotalSteps: len(cfg.Steps), FirstStep: cfg.Steps[0].Name,
	}, nil
}

func (e *Executor) cleanup(ctx context.Context, chainID string) {
	_ = e.store.RemoveChainReadyIndex(ctx, chainID)
	_, _ = e.store.Delete(ctx, "pending_chains:"+chainID)
}

// Advance runs one step of chainID, per spec.md §4.L "Advance". It is
// idempotent: calling it for a chain that is not Running is a no-op.
func (e *Executor) Advance(ctx context.Context, chainID string) error {
	start := e.now()
	var span trace.Span
	ctx, span = e.telemetry.StartSpan(ctx, "acteon.chain.advance", attribute.String("chain_id", chainID))
	defer telemetry.SpanDuration(span, start)

	guard, err := e.lock.Acquire(ctx, "chain:"+chainID, 60*time.Second, 5*time.Second)
	if err != nil {
		return err
	}
	defer guard.Release(ctx)

	_ = e.store.RemoveChainReadyIndex(ctx, chainID)

	st, found, err := e.load(ctx, chainID)
	if err != nil {
		return err
	}
	if !found || st.Status != acteon.ChainRunning {
		return nil
	}

	now := e.now()
	if st.ExpiresAt != nil && !st.ExpiresAt.After(now) {
		st.Status = acteon.ChainTimedOut
		st.UpdatedAt = now
		if err := e.persist(ctx, st, completedChainTTLSeconds); err != nil {
			return err
		}
		e.cleanup(ctx, chainID)
		return nil
	}

	cfg, ok := e.config(st.ChainName)
	if !ok {
		return acteonerr.New("chain.Advance", acteonerr.KindChainError, acteonerr.ErrChainNotFound).WithID(st.ChainName)
	}
	if st.CurrentStep < 0 || st.CurrentStep >= len(cfg.Steps) {
		return acteonerr.New("chain.Advance", acteonerr.KindChainError, acteonerr.ErrChainConfigInvalid).WithID(chainID)
	}
	step := cfg.Steps[st.CurrentStep]

	remaining := 24 * 3600
	if st.ExpiresAt != nil {
		if d := int(time.Until(*st.ExpiresAt).Seconds()); d > 0 {
			remaining = d
		}
	}
	dedupKey := stepDedupKey(chainID, step.Name)
	isNew, err := e.store.CheckAndSet(ctx, dedupKey, "dispatched", int64(remaining))
	if err != nil {
		return err
	}
	if !isNew {
		return e.handleDuplicateDispatch(ctx, &st, step)
	}

	var stepErr error
	defer func() {
		_, _ = e.store.Delete(ctx, dedupKey)
		if stepErr == nil {
			stepErr = e.persist(ctx, st, ttlForStatus(st.Status))
		}
	}()

	result, outcomeErr := e.runStep(ctx, &st, step)
	if outcomeErr != nil {
		if _, waiting := outcomeErr.(waitingSubChain); waiting {
			// st.Status is already WaitingSubChain; let the deferred
			// persist above write it and return cleanly.
			return nil
		}
		stepErr = outcomeErr
		return outcomeErr
	}

	return e.applyStepResult(ctx, &st, cfg, step, result)
}

func ttlForStatus(status acteon.ChainStatus) int64 {
	if status.IsTerminal() {
		return completedChainTTLSeconds
	}
	return 0
}

func (e *Executor) handleDuplicateDispatch(ctx context.Context, st *acteon.ChainState, step acteon.StepConfig) error {
	reloaded, found, err := e.load(ctx, st.ChainID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	idx := e.nameIndex(st.ChainName)[step.Name]
	if reloaded.StepResults[idx] != nil || reloaded.CurrentStep != st.CurrentStep {
		// Crash happened between persist and lock release; the step
		// already completed. Nothing to do.
		return nil
	}
	reloaded.StepResults[idx] = &acteon.StepResult{
		Success: false, Error: "interrupted (duplicate dispatch detected)", CompletedAt: e.now(),
	}
	reloaded.Status = acteon.ChainFailed
	reloaded.UpdatedAt = e.now()
	if err := e.persist(ctx, reloaded, completedChainTTLSeconds); err != nil {
		return err
	}
	e.cleanup(ctx, st.ChainID)
	return nil
}

// stepOutcome is the synthetic action's dispatch result, classified down
// to what Advance needs: success/failure plus the structured response.
type stepOutcome struct {
	success bool
	body    map[string]interface{}
	errMsg  string
	quotaBlocked bool
}

func (e *Executor) runStep(ctx context.Context, st *acteon.ChainState, step acteon.StepConfig) (stepOutcome, error) {
	if step.Parallel != nil {
		return e.runParallel(ctx, st, step)
	}
	if step.SubChain != "" {
		return e.runSubChain(ctx, st, step)
	}

	var prev *acteon.StepResult
	if st.CurrentStep > 0 {
		prev = st.StepResults[st.CurrentStep-1]
	}
	named := namedResults(st, e.nameIndex(st.ChainName))
	payload := resolveTemplate(step.PayloadTemplate, st.OriginAction, prev, named, st.ChainID, st.CurrentStep)

	synthetic := acteon.Action{
		ID: uuid.NewString(), Namespace: st.OriginAction.Namespace, Tenant: st.OriginAction.Tenant,
		Provider: step.Provider, ActionType: step.ActionType, Payload: payload, CreatedAt: e.now(),
	}

	if e.quota != nil {
		qo, err := e.quota.CheckQuota(ctx, synthetic)
		if err != nil {
			return stepOutcome{}, err
		}
		if qo != nil {
			if qe, ok := qo.(acteon.QuotaExceededOutcome); ok {
				if qe.OverageBehavior == "block" {
					return stepOutcome{success: false, errMsg: "quota exceeded", quotaBlocked: true}, nil
				}
				const degradePrefix = "degrade:"
				if len(qe.OverageBehavior) > len(degradePrefix) && qe.OverageBehavior[:len(degradePrefix)] == degradePrefix {
					synthetic.Provider = qe.OverageBehavior[len(degradePrefix):]
				}
			}
		}
	}

	return e.executeSynthetic(ctx, synthetic)
}

func (e *Executor) executeSynthetic(ctx context.Context, synthetic acteon.Action) (stepOutcome, error) {
	provider, ok := e.providers(synthetic.Provider)
	if !ok {
		return stepOutcome{success: false, errMsg: "provider not found: " + synthetic.Provider}, nil
	}

	resolved := synthetic.Provider
	if e.breakers != nil {
		r, _, admitted := e.breakers.Resolve(synthetic.Provider)
		if !admitted {
			return stepOutcome{success: false, errMsg: "circuit open: " + synthetic.Provider}, nil
		}
		resolved = r
		if resolved != synthetic.Provider {
			if p, ok := e.providers(resolved); ok {
				provider = p
			}
		}
	}

	outcome := e.exec.Execute(ctx, provider, synthetic)
	var cb *resilience.CircuitBreaker
	if e.breakers != nil {
		cb = e.breakers.Breaker(resolved)
	}
	switch o := outcome.(type) {
	case acteon.ExecutedOutcome:
		if cb != nil {
			cb.RecordResult(nil)
		}
		return stepOutcome{success: true, body: o.Response}, nil
	case acteon.FailedOutcome:
		if cb != nil {
			cb.RecordResult(o.Error)
		}
		return stepOutcome{success: false, errMsg: o.Error.Message}, nil
	default:
		return stepOutcome{success: false, errMsg: fmt.Sprintf("unexpected outcome: %T", outcome)}, nil
	}
}

func namedResults(st *acteon.ChainState, nameIdx map[string]int) map[string]acteon.StepResult {
	out := make(map[string]acteon.StepResult, len(nameIdx))
	for name, idx := range nameIdx {
		if idx < len(st.StepResults) && st.StepResults[idx] != nil {
			out[name] = *st.StepResults[idx]
		}
	}
	return out
}

func (e *Executor) applyStepResult(ctx context.Context, st *acteon.ChainState, cfg acteon.ChainConfig, step acteon.StepConfig, out stepOutcome) error {
	now := e.now()
	result := acteon.StepResult{Success: out.success, Body: out.body, Error: out.errMsg, CompletedAt: now}
	idx := st.CurrentStep
	st.StepResults[idx] = &result
	st.UpdatedAt = now

	if out.success {
		next, hasNext := resolveNextStep(cfg, e.nameIndex(st.ChainName), idx, result, e.logf)
		if !hasNext {
			st.Status = acteon.ChainCompleted
			return nil
		}
		st.CurrentStep = next
		st.ExecutionPath = append(st.ExecutionPath, cfg.Steps[next].Name)
		readyAtMs := now.Add(time.Duration(cfg.Steps[next].DelaySeconds) * time.Second).UnixMilli()
		if err := e.store.IndexChainReady(ctx, st.ChainID, readyAtMs); err != nil {
			return err
		}
		return nil
	}

	onFailure := step.OnFailure
	if onFailure == "" {
		onFailure = acteon.StepOnFailureAbort
	}
	if out.quotaBlocked {
		// A quota block always aborts the chain, independent of the
		// step's own on_failure policy (spec.md §4.L step 9).
		onFailure = acteon.StepOnFailureAbort
	}
	switch onFailure {
	case acteon.StepOnFailureSkip:
		next, hasNext := resolveNextStep(cfg, e.nameIndex(st.ChainName), idx, result, e.logf)
		if !hasNext {
			st.Status = acteon.ChainCompleted
			return nil
		}
		st.CurrentStep = next
		st.ExecutionPath = append(st.ExecutionPath, cfg.Steps[next].Name)
		readyAtMs := now.Add(time.Duration(cfg.Steps[next].DelaySeconds) * time.Second).UnixMilli()
		return e.store.IndexChainReady(ctx, st.ChainID, readyAtMs)
	case acteon.StepOnFailureDlq:
		if e.dlq != nil {
			_ = e.dlq.Push(ctx, acteon.DeadLetterEntry{
				ChainID: st.ChainID, StepName: step.Name, OriginAction: st.OriginAction,
				FailureReason: out.errMsg, Timestamp: now,
			})
		}
		st.Status = acteon.ChainFailed
		return nil
	default: // Abort
		st.Status = acteon.ChainFailed
		return nil
	}
}

func (e *Executor) logf(msg string, fields map[string]interface{}) {
	e.logger.Debug(msg, fields)
}

// Cancel marks a Running chain Cancelled and dispatches the configured
// on_cancel notification through the gateway pipeline.
func (e *Executor) Cancel(ctx context.Context, chainID, reason, cancelledBy string) error {
	guard, err := e.lock.Acquire(ctx, "chain:"+chainID, 60*time.Second, 5*time.Second)
	if err != nil {
		return err
	}
	defer guard.Release(ctx)

	st, found, err := e.load(ctx, chainID)
	if err != nil {
		return err
	}
	if !found {
		return acteonerr.New("chain.Cancel", acteonerr.KindChainError, acteonerr.ErrChainNotFound).WithID(chainID)
	}
	if st.Status != acteon.ChainRunning {
		return acteonerr.New("chain.Cancel", acteonerr.KindChainError, acteonerr.ErrChainAlreadyTerminal).WithID(chainID)
	}

	st.Status = acteon.ChainCancelled
	st.CancelReason = reason
	st.CancelledBy = cancelledBy
	st.UpdatedAt = e.now()
	if err := e.persist(ctx, st, completedChainTTLSeconds); err != nil {
		return err
	}
	e.cleanup(ctx, chainID)

	if e.cancelNotify == nil {
		return nil
	}
	cfg, _ := e.config(st.ChainName)
	provider, actionType := cfg.OnCancelProvider, cfg.OnCancelActionType
	if provider == "" {
		provider = "webhook"
	}
	if actionType == "" {
		actionType = "chain_cancelled"
	}
	notice := acteon.Action{
		ID: uuid.NewString(), Namespace: st.OriginAction.Namespace, Tenant: st.OriginAction.Tenant,
		Provider: provider, ActionType: actionType, CreatedAt: e.now(),
		Payload: map[string]interface{}{"chain_id": chainID, "chain_name": st.ChainName, "reason": reason},
	}
	return e.cancelNotify(ctx, notice)
}
