// Package quota implements the gateway's per-tenant windowed quota
// enforcer (spec.md §4.E): policy resolution with a 60-second in-memory
// cache, atomic window-bucket counting, and overage-behavior branching.
package quota

// Window names the counting window a Policy resets on.
type Window string

const (
	WindowHourly  Window = "hourly"
	WindowDaily   Window = "daily"
	WindowMonthly Window = "monthly"
)

// Seconds returns the window's duration, used as the TTL on the bucket
// counter (the bucket timestamp itself is a calendar floor, see
// bucketTimestamp).
func (w Window) Seconds() int64 {
	switch w {
	case WindowHourly:
		return 3600
	case WindowDaily:
		return 86400
	case WindowMonthly:
		return 30 * 86400
	default:
		return 3600
	}
}

// OverageBehaviorKind tags which branch of §4.E step 5 a Policy takes.
type OverageBehaviorKind string

const (
	OverageBlock   OverageBehaviorKind = "block"
	OverageWarn    OverageBehaviorKind = "warn"
	OverageDegrade OverageBehaviorKind = "degrade"
	OverageNotify  OverageBehaviorKind = "notify"
)

// OverageBehavior carries the Degrade/Notify target alongside its kind.
type OverageBehavior struct {
	Kind             OverageBehaviorKind
	FallbackProvider string // Degrade
	NotifyTarget     string // Notify
}

// String renders the behavior the way QuotaExceededOutcome.OverageBehavior
// expects it: "block", "warn", "degrade:{provider}", "notify:{target}".
func (b OverageBehavior) String() string {
	switch b.Kind {
	case OverageDegrade:
		return "degrade:" + b.FallbackProvider
	case OverageNotify:
		return "notify:" + b.NotifyTarget
	default:
		return string(b.Kind)
	}
}

// Policy governs one (namespace, tenant) pair.
type Policy struct {
	MaxActions      int64
	Window          Window
	OverageBehavior OverageBehavior
	Enabled         bool
}
