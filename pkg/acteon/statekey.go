package acteon

import (
	"fmt"
	"strings"
)

// Kind enumerates the StateKey kinds. Every read/write is scoped to
// (namespace, tenant) except the system-reserved kinds below.
type Kind string

const (
	KindDedup            Kind = "dedup"
	KindState            Kind = "state"
	KindCounter          Kind = "counter"
	KindEventState       Kind = "event_state"
	KindEventTimeout     Kind = "event_timeout"
	KindActiveEvents     Kind = "active_events"
	KindApproval         Kind = "approval"
	KindPendingApprovals Kind = "pending_approvals"
	KindChain            Kind = "chain"
	KindPendingChains    Kind = "pending_chains"
	KindScheduledAction  Kind = "scheduled_action"
	KindPendingScheduled Kind = "pending_scheduled"
	KindRecurringAction  Kind = "recurring_action"
	KindPendingRecurring Kind = "pending_recurring"
	KindQuota            Kind = "quota"
	KindQuotaUsage       Kind = "quota_usage"
	KindRetention        Kind = "retention"
)

// System-reserved namespace/tenant pair used by cross-tenant bookkeeping
// (quota policy index, retention policy index).
const (
	SystemNamespace = "_system"
	SystemQuotas    = "_quotas"
	SystemRetention = "_retention"
)

// StateKey is the canonical 4-tuple addressing every piece of state.
type StateKey struct {
	Namespace string
	Tenant    string
	Kind      Kind
	ID        string
}

// String renders the canonical "{namespace}:{tenant}:{kind}:{id}" form
// backends use as the literal key (or hash/encode as convenient, provided
// the semantics are preserved).
func (k StateKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Namespace, k.Tenant, k.Kind, k.ID)
}

// NewStateKey builds a StateKey for the given tuple.
func NewStateKey(namespace, tenant string, kind Kind, id string) StateKey {
	return StateKey{Namespace: namespace, Tenant: tenant, Kind: kind, ID: id}
}

// TimeoutRef composes the id stored in a timeout/ready index when the
// indexed record itself needs (namespace, tenant) to be re-fetched (event
// timeouts, scheduled/recurring actions) — unlike a chain id, which is
// already globally unique on its own.
func TimeoutRef(namespace, tenant, id string) string {
	return fmt.Sprintf("%s:%s:%s", namespace, tenant, id)
}

// ParseTimeoutRef splits a TimeoutRef back into its parts. ok is false if
// ref isn't in the expected 3-part form.
func ParseTimeoutRef(ref string) (namespace, tenant, id string, ok bool) {
	parts := strings.SplitN(ref, ":", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
