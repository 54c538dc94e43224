// Package acteon defines the gateway's core domain types: Action, the
// Verdict and Outcome sum types, StateKey, Rule, and the chain/approval/
// group runtime records. It has no dependency on any other gateway
// package so every other package can import it without cycles.
package acteon

import "time"

// Attachment is a binary blob carried alongside an Action.
type Attachment struct {
	ID          string
	Filename    string
	ContentType string
	Data        []byte
}

// Action is the immutable unit of input accepted by the gateway. Once it
// enters the dispatch pipeline it is never mutated, except that a verdict
// handler may rewrite Provider before execution (reroute, quota degrade).
type Action struct {
	ID          string // UUIDv7, globally unique
	Namespace   string
	Tenant      string
	Provider    string
	ActionType  string
	Payload     map[string]interface{}
	Metadata    map[string]string
	DedupKey    string
	Fingerprint string
	Status      string
	StartsAt    *time.Time
	EndsAt      *time.Time
	Attachments []Attachment
	CreatedAt   time.Time
}

// Clone returns a deep-enough copy of a for payload mutation (Modify
// verdicts, chain step templating) without aliasing the original map.
func (a Action) Clone() Action {
	cp := a
	if a.Payload != nil {
		cp.Payload = make(map[string]interface{}, len(a.Payload))
		for k, v := range a.Payload {
			cp.Payload[k] = v
		}
	}
	if a.Metadata != nil {
		cp.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	if a.Attachments != nil {
		cp.Attachments = append([]Attachment(nil), a.Attachments...)
	}
	return cp
}

// Internal re-dispatch markers inspected by the quota enforcer and the
// scheduler to avoid double-counting and re-scheduling loops (spec.md §9).
const (
	MarkerScheduledDispatch = "_scheduled_dispatch"
	MarkerRecurringDispatch = "_recurring_dispatch"
	MarkerGroupDispatch     = "_group_dispatch"
)

// IsInternalRedispatch reports whether the action's payload carries one of
// the internal re-dispatch markers.
func (a Action) IsInternalRedispatch() bool {
	for _, m := range []string{MarkerScheduledDispatch, MarkerRecurringDispatch, MarkerGroupDispatch} {
		if v, ok := a.Payload[m]; ok {
			if b, ok := v.(bool); ok && b {
				return true
			}
		}
	}
	return false
}
