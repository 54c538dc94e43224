package background

import (
	"context"
	"encoding/json"
	"time"

	"github.com/penserai/acteon/pkg/acteon"
)

// reapRetention loads every RetentionPolicy and, for each enabled policy
// not under a compliance hold, deletes state aged past its configured TTL
// (spec.md §4.M "Retention reaper"). Each TTL knob maps to the kinds it
// governs:
//
//   - state_ttl_seconds: terminal chains, approvals, scheduled/recurring
//     action definitions — the records the rest of the gateway leaves
//     behind once their lifecycle ends.
//   - event_ttl_seconds: state-machine event state. Left unimplemented
//     here deliberately: event state already self-cleans through the
//     timeout/transition path (pkg/statemachine), so this knob only
//     matters for events that never fire again, a narrower case than the
//     other kinds and deferred pending a concrete need.
//   - audit_ttl_seconds: never applied. audit.Store is an external,
//     pluggable backend with no Delete method in its contract (spec.md
//     §1 scopes audit-store backends out) — reaping audit records is the
//     backend's own retention policy to enforce, not this processor's.
//
// A compliance-hold policy is skipped entirely and only counted, never
// silently ignored.
func (p *Processor) reapRetention(ctx context.Context) {
	keys, err := p.store.ScanKeysByKind(ctx, string(acteon.KindRetention))
	if err != nil {
		p.logger.Warn("background: failed to scan retention policies", map[string]interface{}{"error": err.Error()})
		return
	}

	now := p.now()
	var skippedForCompliance int

	for _, key := range keys {
		raw, found, err := p.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		var policy acteon.RetentionPolicy
		if err := json.Unmarshal([]byte(raw), &policy); err != nil {
			continue
		}
		if !policy.Enabled {
			continue
		}
		if policy.ComplianceHold {
			skippedForCompliance++
			continue
		}

		if policy.StateTTLSeconds > 0 {
			cutoff := now.Add(-time.Duration(policy.StateTTLSeconds) * time.Second)
			p.reapChains(ctx, policy.Namespace, policy.Tenant, cutoff)
			p.reapApprovals(ctx, policy.Namespace, policy.Tenant, cutoff)
			p.reapScheduled(ctx, policy.Namespace, policy.Tenant, cutoff)
			p.reapRecurring(ctx, policy.Namespace, policy.Tenant, cutoff)
		}
	}

	if skippedForCompliance > 0 {
		p.publish("retention_skipped_compliance", "", map[string]interface{}{"count": skippedForCompliance})
	}
}

func (p *Processor) reapChains(ctx context.Context, namespace, tenant string, cutoff time.Time) {
	keys, err := p.store.ScanKeys(ctx, namespace, tenant, string(acteon.KindChain), "")
	if err != nil {
		return
	}
	for _, key := range keys {
		raw, found, err := p.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		var st acteon.ChainState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			continue
		}
		if !st.Status.IsTerminal() {
			continue
		}
		if st.UpdatedAt.After(cutoff) {
			continue
		}
		_, _ = p.store.Delete(ctx, key)
	}
}

func (p *Processor) reapApprovals(ctx context.Context, namespace, tenant string, cutoff time.Time) {
	keys, err := p.store.ScanKeys(ctx, namespace, tenant, string(acteon.KindApproval), "")
	if err != nil {
		return
	}
	for _, key := range keys {
		raw, found, err := p.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		// Decode only the fields the reaper needs, under the snake_case
		// names pkg/approval persists them with.
		var rec struct {
			Status    acteon.ApprovalStatus `json:"status"`
			CreatedAt time.Time             `json:"created_at"`
		}
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if rec.Status == acteon.ApprovalPending {
			continue // still live; the timeout path owns pending approvals
		}
		if rec.CreatedAt.After(cutoff) {
			continue
		}
		_, _ = p.store.Delete(ctx, key)
	}
}

func (p *Processor) reapScheduled(ctx context.Context, namespace, tenant string, cutoff time.Time) {
	keys, err := p.store.ScanKeys(ctx, namespace, tenant, string(acteon.KindScheduledAction), "")
	if err != nil {
		return
	}
	for _, key := range keys {
		raw, found, err := p.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		var rec acteon.ScheduledActionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if rec.CreatedAt.After(cutoff) {
			continue
		}
		_, _ = p.store.Delete(ctx, key)
	}
}

func (p *Processor) reapRecurring(ctx context.Context, namespace, tenant string, cutoff time.Time) {
	keys, err := p.store.ScanKeys(ctx, namespace, tenant, string(acteon.KindRecurringAction), "")
	if err != nil {
		return
	}
	for _, key := range keys {
		raw, found, err := p.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		var rec acteon.RecurringActionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if rec.Enabled {
			continue // still live; only reap disabled definitions
		}
		if rec.CreatedAt.After(cutoff) {
			continue
		}
		_, _ = p.store.Delete(ctx, key)
	}
}
