package dispatch

import (
	"context"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/acteonerr"
	"github.com/penserai/acteon/pkg/resilience"
)

// handleVerdict dispatches v to its handler (spec.md §4.H step 7). Only
// called for non-dry-run dispatches.
func (d *Dispatcher) handleVerdict(ctx context.Context, action acteon.Action, v acteon.Verdict) (acteon.Outcome, error) {
	switch t := v.(type) {
	case acteon.AllowVerdict:
		return d.executeAction(ctx, action)

	case acteon.DeduplicateVerdict:
		return d.deduplicate(ctx, action, t.TTLSeconds)

	case acteon.SuppressVerdict:
		return acteon.SuppressedOutcome{Rule: t.Rule}, nil

	case acteon.DenyVerdict:
		return acteon.SuppressedOutcome{Rule: t.Rule}, nil

	case acteon.RerouteVerdict:
		return d.reroute(ctx, action, t)

	case acteon.ThrottleVerdict:
		return acteon.ThrottledOutcome{RetryAfterSeconds: t.WindowSeconds}, nil

	case acteon.ModifyVerdict:
		modified, err := applyMergePatch(action, t.Changes)
		if err != nil {
			return nil, err
		}
		return d.executeAction(ctx, modified)

	case acteon.StateMachineVerdict:
		if d.statemachines == nil {
			return nil, acteonerr.New("dispatch.handleVerdict", acteonerr.KindConfiguration, acteonerr.ErrMissingConfiguration).WithID(action.ID)
		}
		return d.statemachines.Transition(ctx, action, t.Name)

	case acteon.GroupVerdict:
		if d.groups == nil {
			return nil, acteonerr.New("dispatch.handleVerdict", acteonerr.KindConfiguration, acteonerr.ErrMissingConfiguration).WithID(action.ID)
		}
		res, err := d.groups.AddToGroup(ctx, action, t.GroupBy, t.Wait)
		if err != nil {
			return nil, err
		}
		return acteon.GroupedOutcome{GroupID: res.GroupID, Size: res.Size, NotifyAt: res.NotifyAt}, nil

	case acteon.RequestApprovalVerdict:
		if d.approvals == nil {
			return nil, acteonerr.New("dispatch.handleVerdict", acteonerr.KindConfiguration, acteonerr.ErrMissingConfiguration).WithID(action.ID)
		}
		out, err := d.approvals.RequestApproval(ctx, action, t.Rule, t.NotifyProvider, t.Message, t.TimeoutSeconds)
		return out, err

	case acteon.ChainVerdict:
		if d.chains == nil {
			return nil, acteonerr.New("dispatch.handleVerdict", acteonerr.KindConfiguration, acteonerr.ErrMissingConfiguration).WithID(action.ID)
		}
		return d.chains.Start(ctx, action, t.ChainName)

	case acteon.ScheduleVerdict:
		return d.scheduleAction(ctx, action, t.DelaySeconds)

	default:
		return d.executeAction(ctx, action)
	}
}

// executeAction resolves action.Provider through the circuit-breaker
// registry (falling back along the configured chain) and runs it via the
// bounded/retrying Executor.
func (d *Dispatcher) executeAction(ctx context.Context, action acteon.Action) (acteon.Outcome, error) {
	resolved := action.Provider
	var cb *resilience.CircuitBreaker
	if d.breakers != nil {
		r, chain, ok := d.breakers.Resolve(action.Provider)
		if !ok {
			return resilience.ExhaustedOutcome(action.Provider, chain), nil
		}
		resolved = r
		cb = d.breakers.Breaker(resolved)
	}

	provider, ok := d.providers(resolved)
	if !ok {
		return nil, acteonerr.New("dispatch.executeAction", acteonerr.KindProviderNotFound, acteonerr.ErrProviderNotFound).WithID(resolved)
	}

	invokeAction := action
	invokeAction.Provider = resolved
	outcome := d.exec.Execute(ctx, provider, invokeAction)

	switch o := outcome.(type) {
	case acteon.ExecutedOutcome:
		if cb != nil {
			cb.RecordResult(nil)
		}
		if resolved != action.Provider {
			return acteon.ReroutedOutcome{Original: action.Provider, New: resolved, Response: o.Response}, nil
		}
		return o, nil
	case acteon.FailedOutcome:
		if cb != nil {
			cb.RecordResult(o.Error)
		}
		return o, nil
	default:
		return o, nil
	}
}

// deduplicate implements spec.md §4.H step 7 "Deduplicate".
func (d *Dispatcher) deduplicate(ctx context.Context, action acteon.Action, ttlSeconds int) (acteon.Outcome, error) {
	key := action.DedupKey
	if key == "" {
		key = action.ID
	}
	stateKey := acteon.NewStateKey(action.Namespace, action.Tenant, acteon.KindDedup, key).String()
	isNew, err := d.store.CheckAndSet(ctx, stateKey, "1", int64(ttlSeconds))
	if err != nil {
		return nil, err
	}
	if !isNew {
		return acteon.DeduplicatedOutcome{}, nil
	}
	return d.executeAction(ctx, action)
}

// reroute implements spec.md §4.H step 7 "Reroute": execute against the
// named target provider directly, bypassing the originating provider's
// circuit breaker and fallback chain (the verdict already picked the
// destination).
func (d *Dispatcher) reroute(ctx context.Context, action acteon.Action, v acteon.RerouteVerdict) (acteon.Outcome, error) {
	provider, ok := d.providers(v.TargetProvider)
	if !ok {
		return nil, acteonerr.New("dispatch.reroute", acteonerr.KindProviderNotFound, acteonerr.ErrProviderNotFound).WithID(v.TargetProvider)
	}
	rerouted := action
	rerouted.Provider = v.TargetProvider

	outcome := d.exec.Execute(ctx, provider, rerouted)
	switch o := outcome.(type) {
	case acteon.ExecutedOutcome:
		return acteon.ReroutedOutcome{Original: action.Provider, New: v.TargetProvider, Response: o.Response}, nil
	case acteon.FailedOutcome:
		return o, nil
	default:
		return o, nil
	}
}

// applyMergePatch returns a clone of action with Changes applied to its
// payload per RFC 7396 JSON Merge Patch semantics (spec.md §4.H step 7
// "Modify").
func applyMergePatch(action acteon.Action, changes map[string]interface{}) (acteon.Action, error) {
	cloned := action.Clone()
	if cloned.Payload == nil {
		cloned.Payload = map[string]interface{}{}
	}

	original, err := json.Marshal(cloned.Payload)
	if err != nil {
		return acteon.Action{}, err
	}
	patch, err := json.Marshal(changes)
	if err != nil {
		return acteon.Action{}, err
	}
	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return acteon.Action{}, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(merged, &payload); err != nil {
		return acteon.Action{}, err
	}
	cloned.Payload = payload
	return cloned, nil
}
