package statemachine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/lock"
	"github.com/penserai/acteon/pkg/state"
	"github.com/penserai/acteon/pkg/statemachine"
)

func incidentMachine() statemachine.MachineConfig {
	return statemachine.MachineConfig{
		Name:            "incident",
		InitialState:    "open",
		FingerprintKeys: []string{"alert_id"},
		Transitions: []statemachine.Transition{
			{From: "open", To: "acknowledged", Notify: true},
			{From: "acknowledged", To: "resolved", Notify: true, TimeoutSeconds: 0},
			{From: "open", To: "resolved", Notify: true},
		},
	}
}

func newHandler() *statemachine.Handler {
	return statemachine.NewHandler(state.NewInMemoryStore(), lock.NewInMemoryLock(), nil, []statemachine.MachineConfig{incidentMachine()})
}

func TestTransitionFromInitialState(t *testing.T) {
	h := newHandler()
	action := acteon.Action{Namespace: "ns", Tenant: "t1", ActionType: "incident", Status: "acknowledged", Payload: map[string]interface{}{"alert_id": "a1"}}

	outcome, err := h.Transition(context.Background(), action, "incident")
	require.NoError(t, err)
	changed := outcome.(acteon.StateChangedOutcome)
	assert.Equal(t, "open", changed.Previous)
	assert.Equal(t, "acknowledged", changed.New)
	assert.True(t, changed.Notify)
}

func TestTransitionIsPersistedAcrossCalls(t *testing.T) {
	h := newHandler()
	ctx := context.Background()
	action := acteon.Action{Namespace: "ns", Tenant: "t1", ActionType: "incident", Payload: map[string]interface{}{"alert_id": "a1"}}

	action.Status = "acknowledged"
	_, err := h.Transition(ctx, action, "incident")
	require.NoError(t, err)

	action.Status = "resolved"
	outcome, err := h.Transition(ctx, action, "incident")
	require.NoError(t, err)
	changed := outcome.(acteon.StateChangedOutcome)
	assert.Equal(t, "acknowledged", changed.Previous)
	assert.Equal(t, "resolved", changed.New)
}

func TestDisallowedTransitionKeepsCurrentState(t *testing.T) {
	h := newHandler()
	ctx := context.Background()
	action := acteon.Action{Namespace: "ns", Tenant: "t1", ActionType: "incident", Payload: map[string]interface{}{"alert_id": "a1"}}

	action.Status = "resolved"
	_, err := h.Transition(ctx, action, "incident")
	require.NoError(t, err)

	action.Status = "acknowledged" // resolved -> acknowledged is not configured
	outcome, err := h.Transition(ctx, action, "incident")
	require.NoError(t, err)
	changed := outcome.(acteon.StateChangedOutcome)
	assert.Equal(t, "resolved", changed.Previous)
	assert.Equal(t, "resolved", changed.New, "disallowed transition must keep current state")
}

func TestFingerprintFallsBackToActionFingerprint(t *testing.T) {
	action := acteon.Action{Fingerprint: "explicit-fp"}
	assert.Equal(t, "explicit-fp", statemachine.Fingerprint(action, []string{"alert_id"}))
}

func TestUnknownMachineErrors(t *testing.T) {
	h := newHandler()
	_, err := h.Transition(context.Background(), acteon.Action{}, "nonexistent")
	assert.Error(t, err)
}
