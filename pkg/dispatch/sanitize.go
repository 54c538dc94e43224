package dispatch

import "github.com/penserai/acteon/pkg/acteon"

// outcomeTag names an Outcome variant for audit/stream purposes.
func outcomeTag(o acteon.Outcome) string {
	switch o.(type) {
	case acteon.ExecutedOutcome:
		return "executed"
	case acteon.FailedOutcome:
		return "failed"
	case acteon.DeduplicatedOutcome:
		return "deduplicated"
	case acteon.SuppressedOutcome:
		return "suppressed"
	case acteon.ReroutedOutcome:
		return "rerouted"
	case acteon.ThrottledOutcome:
		return "throttled"
	case acteon.GroupedOutcome:
		return "grouped"
	case acteon.StateChangedOutcome:
		return "state_changed"
	case acteon.PendingApprovalOutcome:
		return "pending_approval"
	case acteon.ChainStartedOutcome:
		return "chain_started"
	case acteon.ScheduledOutcome:
		return "scheduled"
	case acteon.DryRunOutcome:
		return "dry_run"
	case acteon.CircuitOpenOutcome:
		return "circuit_open"
	case acteon.QuotaExceededOutcome:
		return "quota_exceeded"
	case acteon.RecurringCreatedOutcome:
		return "recurring_created"
	default:
		return "unknown"
	}
}

// sanitizeOutcome strips provider bodies and HMAC-signed approval URLs
// before the outcome is handed to the audit store's OutcomeDetails or
// broadcast on the stream (spec.md §4.H steps 8-9). It is the stream
// payload as-is, and the base that outcomeDetails extends for audit.
func sanitizeOutcome(o acteon.Outcome) map[string]interface{} {
	switch t := o.(type) {
	case acteon.ExecutedOutcome:
		return map[string]interface{}{}
	case acteon.FailedOutcome:
		return map[string]interface{}{"error_code": t.Error.Code, "retryable": t.Error.Retryable}
	case acteon.DeduplicatedOutcome:
		return map[string]interface{}{}
	case acteon.SuppressedOutcome:
		return map[string]interface{}{"rule": t.Rule}
	case acteon.ReroutedOutcome:
		return map[string]interface{}{"original": t.Original, "new": t.New}
	case acteon.ThrottledOutcome:
		return map[string]interface{}{"retry_after_seconds": t.RetryAfterSeconds}
	case acteon.GroupedOutcome:
		return map[string]interface{}{"group_id": t.GroupID, "size": t.Size}
	case acteon.StateChangedOutcome:
		return map[string]interface{}{"previous": t.Previous, "new": t.New}
	case acteon.PendingApprovalOutcome:
		return map[string]interface{}{"approval_id": t.ApprovalID, "expires_at": t.ExpiresAt}
	case acteon.ChainStartedOutcome:
		return map[string]interface{}{"chain_id": t.ChainID, "name": t.Name, "total_steps": t.TotalSteps}
	case acteon.ScheduledOutcome:
		return map[string]interface{}{"action_id": t.ActionID, "scheduled_for": t.ScheduledFor}
	case acteon.DryRunOutcome:
		return map[string]interface{}{"verdict_tag": t.VerdictTag, "matched_rule": t.MatchedRule, "would_be_provider": t.WouldBeProvider}
	case acteon.CircuitOpenOutcome:
		return map[string]interface{}{"provider": t.Provider, "fallback_chain": t.FallbackChain}
	case acteon.QuotaExceededOutcome:
		return map[string]interface{}{"tenant": t.Tenant, "limit": t.Limit, "used": t.Used}
	case acteon.RecurringCreatedOutcome:
		return map[string]interface{}{"recurring_id": t.RecurringID}
	default:
		return map[string]interface{}{}
	}
}

// outcomeDetails is the audit record's richer OutcomeDetails: unlike the
// stream payload, audit may retain the provider response body when the
// store is configured to keep it (spec.md §4.H step 8), so this includes
// Response/body fields sanitizeOutcome omits.
func outcomeDetails(o acteon.Outcome, storePayload bool) map[string]interface{} {
	d := sanitizeOutcome(o)
	if !storePayload {
		return d
	}
	switch t := o.(type) {
	case acteon.ExecutedOutcome:
		d["response"] = t.Response
	case acteon.ReroutedOutcome:
		d["response"] = t.Response
	case acteon.FailedOutcome:
		d["error_message"] = t.Error.Message
	}
	return d
}
