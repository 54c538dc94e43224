// Package statemachine implements the State-Machine Handler (spec.md
// §4.J): event-lifecycle transitions keyed by a stable fingerprint, with
// timeout indexing for the background processor.
package statemachine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/acteonerr"
	"github.com/penserai/acteon/pkg/lock"
	"github.com/penserai/acteon/pkg/logger"
	"github.com/penserai/acteon/pkg/state"
)

// Transition describes one allowed state change and whether it notifies.
type Transition struct {
	From           string
	To             string
	Notify         bool
	TimeoutSeconds int // 0 means no timeout for the resulting state
}

// MachineConfig is the static definition of a named state machine.
type MachineConfig struct {
	Name            string
	InitialState    string
	FingerprintKeys []string // used when action.Fingerprint is empty
	Transitions     []Transition
}

func (c MachineConfig) find(from, to string) (Transition, bool) {
	for _, t := range c.Transitions {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return Transition{}, false
}

// Handler resolves MachineConfig by name and drives transitions.
type Handler struct {
	store    state.Store
	lock     lock.Lock
	logger   logger.Logger
	machines map[string]MachineConfig
	now      func() time.Time
}

func NewHandler(store state.Store, lk lock.Lock, log logger.Logger, machines []MachineConfig) *Handler {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	m := make(map[string]MachineConfig, len(machines))
	for _, mc := range machines {
		m[mc.Name] = mc
	}
	return &Handler{store: store, lock: lk, logger: log, machines: m, now: time.Now}
}

// eventStateDoc is the JSON representation stored at KindEventState.
type eventStateDoc struct {
	MachineName string `json:"machine_name"`
	State       string `json:"state"`
}

// Fingerprint computes action.Fingerprint if set, else a stable hash of
// the machine's configured fingerprint fields read off the payload.
func Fingerprint(action acteon.Action, fields []string) string {
	if action.Fingerprint != "" {
		return action.Fingerprint
	}
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f)
		b.WriteByte('=')
		if v, ok := action.Payload[f]; ok {
			enc, _ := json.Marshal(v)
			b.Write(enc)
		}
		b.WriteByte('|')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:32]
}

// Transition runs the full §4.J protocol for machineName against action,
// returning the resulting StateChangedOutcome.
func (h *Handler) Transition(ctx context.Context, action acteon.Action, machineName string) (acteon.Outcome, error) {
	mc, ok := h.machines[machineName]
	if !ok {
		return nil, acteonerr.New("statemachine.Transition", acteonerr.KindStateMachine, acteonerr.ErrStateMachineNotFound).WithID(machineName)
	}

	fingerprint := Fingerprint(action, mc.FingerprintKeys)
	lockName := "state:" + action.Namespace + ":" + action.Tenant + ":" + fingerprint
	guard, err := h.lock.Acquire(ctx, lockName, 10*time.Second, 5*time.Second)
	if err != nil {
		return nil, err
	}
	defer guard.Release(ctx)

	stateKey := acteon.NewStateKey(action.Namespace, action.Tenant, acteon.KindEventState, fingerprint).String()
	current := mc.InitialState
	raw, found, err := h.store.Get(ctx, stateKey)
	if err != nil {
		return nil, err
	}
	if found {
		var doc eventStateDoc
		if err := json.Unmarshal([]byte(raw), &doc); err == nil {
			current = doc.State
		}
	}

	target := action.Status
	if target == "" {
		target = current
	}

	notify := false
	newState := current
	if target != current {
		if t, ok := mc.find(current, target); ok {
			newState = target
			notify = t.Notify
		} else {
			h.logger.Warn("state machine: disallowed transition, keeping current state", map[string]interface{}{
				"machine": machineName, "from": current, "to": target, "fingerprint": fingerprint,
			})
		}
	}

	doc := eventStateDoc{MachineName: machineName, State: newState}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if err := h.store.Set(ctx, stateKey, string(data), 0); err != nil {
		return nil, err
	}

	activeKey := acteon.NewStateKey(action.Namespace, action.Tenant, acteon.KindActiveEvents, action.ActionType).String()
	if err := h.store.Set(ctx, activeKey, fingerprint, 0); err != nil {
		return nil, err
	}

	timeoutKey := acteon.NewStateKey(action.Namespace, action.Tenant, acteon.KindEventTimeout, fingerprint).String()
	var timeoutSeconds int
	if t, ok := mc.find(current, newState); ok {
		timeoutSeconds = t.TimeoutSeconds
	}
	if timeoutSeconds > 0 {
		timeoutDoc := eventTimeoutDoc{
			Fingerprint: fingerprint, MachineName: machineName, State: newState, Target: target,
		}
		td, err := json.Marshal(timeoutDoc)
		if err != nil {
			return nil, err
		}
		expiresAtMs := h.now().Add(time.Duration(timeoutSeconds) * time.Second).UnixMilli()
		if err := h.store.Set(ctx, timeoutKey, string(td), int64(timeoutSeconds)); err != nil {
			return nil, err
		}
		ref := acteon.TimeoutRef(action.Namespace, action.Tenant, fingerprint)
		if err := h.store.IndexTimeout(ctx, timeoutIndexName(machineName), ref, expiresAtMs); err != nil {
			return nil, err
		}
	} else {
		_, _ = h.store.Delete(ctx, timeoutKey)
		_ = h.store.RemoveTimeoutIndex(ctx, timeoutIndexName(machineName), acteon.TimeoutRef(action.Namespace, action.Tenant, fingerprint))
	}

	return acteon.StateChangedOutcome{Fingerprint: fingerprint, Previous: current, New: newState, Notify: notify}, nil
}

type eventTimeoutDoc struct {
	Fingerprint string `json:"fingerprint"`
	MachineName string `json:"machine_name"`
	State       string `json:"state"`
	Target      string `json:"target"`
}

func timeoutIndexName(machineName string) string { return "event_timeout:" + machineName }

// MachineNames returns every configured machine name, for the background
// processor to scan one timeout index per machine (spec.md §4.M
// "state-machine timeouts").
func (h *Handler) MachineNames() []string {
	names := make([]string, 0, len(h.machines))
	for name := range h.machines {
		names = append(names, name)
	}
	return names
}

// TimeoutFired describes one expired state-machine timeout that has been
// force-transitioned, for the background processor's TimeoutEvent.
type TimeoutFired struct {
	Namespace   string
	Tenant      string
	MachineName string
	Fingerprint string
	Previous    string
	New         string
}

// ProcessTimeouts drains every expired entry from machineName's timeout
// index, force-transitions each fingerprint to its recorded target state,
// and deletes the timeout record (spec.md §4.M "state-machine timeouts":
// "parse each record, skip if expires_at > now, else write the
// transitioned state and delete the timeout record").
func (h *Handler) ProcessTimeouts(ctx context.Context, machineName string, now time.Time) ([]TimeoutFired, error) {
	refs, err := h.store.GetExpiredTimeouts(ctx, timeoutIndexName(machineName), now.UnixMilli())
	if err != nil {
		return nil, err
	}

	var fired []TimeoutFired
	for _, ref := range refs {
		namespace, tenant, fingerprint, ok := acteon.ParseTimeoutRef(ref)
		if !ok {
			continue
		}

		timeoutKey := acteon.NewStateKey(namespace, tenant, acteon.KindEventTimeout, fingerprint).String()
		raw, found, err := h.store.Get(ctx, timeoutKey)
		if err != nil || !found {
			_ = h.store.RemoveTimeoutIndex(ctx, timeoutIndexName(machineName), ref)
			continue
		}
		var doc eventTimeoutDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			_ = h.store.RemoveTimeoutIndex(ctx, timeoutIndexName(machineName), ref)
			continue
		}

		stateKey := acteon.NewStateKey(namespace, tenant, acteon.KindEventState, fingerprint).String()
		newDoc := eventStateDoc{MachineName: machineName, State: doc.Target}
		data, err := json.Marshal(newDoc)
		if err != nil {
			continue
		}
		if err := h.store.Set(ctx, stateKey, string(data), 0); err != nil {
			h.logger.Warn("state machine: failed to persist timeout transition", map[string]interface{}{
				"machine": machineName, "fingerprint": fingerprint, "error": err.Error(),
			})
			continue
		}

		_, _ = h.store.Delete(ctx, timeoutKey)
		_ = h.store.RemoveTimeoutIndex(ctx, timeoutIndexName(machineName), ref)

		fired = append(fired, TimeoutFired{
			Namespace: namespace, Tenant: tenant, MachineName: machineName,
			Fingerprint: fingerprint, Previous: doc.State, New: doc.Target,
		})
	}
	return fired, nil
}

