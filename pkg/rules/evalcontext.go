package rules

import (
	"context"
	"time"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/state"
)

// EmbeddingProvider backs SemanticMatch. It is a contract this package
// defines; concrete implementations (an HTTP embedding service, a local
// model) live outside this module (spec.md §6 external interfaces).
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EvalContext carries everything a single rule evaluation needs: the
// action, a state-store handle, an environment map, an injectable clock
// (never read the wall clock from inside evaluation — spec.md §9), an
// optional embedding provider, an optional timezone override, and a
// once-only cached time map.
type EvalContext struct {
	Ctx       context.Context
	Action    acteon.Action
	Store     state.Store
	Env       map[string]interface{}
	Now       func() time.Time
	Embedding EmbeddingProvider
	Timezone  string // IANA name; empty means UTC

	timeMap      Value
	timeMapBuilt bool
}

// NewEvalContext builds an EvalContext with a real-time clock.
func NewEvalContext(ctx context.Context, action acteon.Action, store state.Store, env map[string]interface{}) *EvalContext {
	return &EvalContext{Ctx: ctx, Action: action, Store: store, Env: env, Now: time.Now}
}

// WithTimezone returns a shallow copy of ec with Timezone overridden (used
// when a matched rule carries a per-rule timezone) and the time-map cache
// cleared so the override takes effect.
func (ec *EvalContext) WithTimezone(tz string) *EvalContext {
	cp := *ec
	cp.Timezone = tz
	cp.timeMapBuilt = false
	return &cp
}

func (ec *EvalContext) now() time.Time {
	if ec.Now != nil {
		return ec.Now()
	}
	return time.Now()
}

func (ec *EvalContext) location() (*time.Location, error) {
	if ec.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(ec.Timezone)
	if err != nil {
		return nil, err
	}
	return loc, nil
}

// timeMapValue computes (once per EvalContext) the time map described in
// spec.md §4.C: hour/minute/second/day/month/year/weekday/weekday_num/
// timestamp, in the effective timezone; timestamp is always UTC seconds.
func (ec *EvalContext) timeMapValue() (Value, error) {
	if ec.timeMapBuilt {
		return ec.timeMap, nil
	}
	loc, err := ec.location()
	if err != nil {
		return Value{}, err
	}
	now := ec.now()
	local := now.In(loc)

	m := map[string]Value{
		"hour":        Int(int64(local.Hour())),
		"minute":      Int(int64(local.Minute())),
		"second":      Int(int64(local.Second())),
		"day":         Int(int64(local.Day())),
		"month":       Int(int64(local.Month())),
		"year":        Int(int64(local.Year())),
		"weekday":     String(local.Weekday().String()),
		"weekday_num": Int(int64(local.Weekday())),
		"timestamp":   Int(now.UTC().Unix()),
	}
	ec.timeMap = Map(m)
	ec.timeMapBuilt = true
	return ec.timeMap, nil
}

// actionValue projects the Action onto a Value Map for Ident("action").
func (ec *EvalContext) actionValue() Value {
	m := map[string]Value{
		"id":          String(ec.Action.ID),
		"namespace":   String(ec.Action.Namespace),
		"tenant":      String(ec.Action.Tenant),
		"provider":    String(ec.Action.Provider),
		"action_type": String(ec.Action.ActionType),
		"payload":     FromAny(map[string]interface{}(ec.Action.Payload)),
		"dedup_key":   String(ec.Action.DedupKey),
		"fingerprint": String(ec.Action.Fingerprint),
		"status":      String(ec.Action.Status),
	}
	metadata := make(map[string]Value, len(ec.Action.Metadata))
	for k, v := range ec.Action.Metadata {
		metadata[k] = String(v)
	}
	m["metadata"] = Map(metadata)
	return Map(m)
}

func (ec *EvalContext) envValue() Value {
	return FromAny(ec.Env)
}

// stateKey builds the StateKey for a state-referencing expression,
// scoped to the evaluating action's namespace/tenant.
func (ec *EvalContext) stateKey(kind acteon.Kind, id string) string {
	return acteon.NewStateKey(ec.Action.Namespace, ec.Action.Tenant, kind, id).String()
}
