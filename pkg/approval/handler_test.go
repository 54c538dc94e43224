package approval_test

import (
	"context"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/approval"
	"github.com/penserai/acteon/pkg/state"
)

type fakeNotifier struct {
	calls int
	fail  bool
}

func (f *fakeNotifier) Notify(ctx context.Context, provider string, action acteon.Action, message string) error {
	f.calls++
	if f.fail {
		return assert.AnError
	}
	return nil
}

func newKeySet() *approval.KeySet {
	return approval.NewKeySet(
		approval.Key{ID: "k1", Secret: []byte("current-secret")},
		approval.Key{ID: "k0", Secret: []byte("old-secret")},
	)
}

func parseSigParams(t *testing.T, rawURL string) (sig string, expiresAt int64, kid string) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	q := u.Query()
	sig = q.Get("sig")
	kid = q.Get("kid")
	exp, err := strconv.ParseInt(q.Get("expires_at"), 10, 64)
	require.NoError(t, err)
	return sig, exp, kid
}

func TestRequestApprovalCreatesPendingRecordWithSignedURLs(t *testing.T) {
	store := state.NewInMemoryStore()
	notifier := &fakeNotifier{}
	h := approval.NewHandler(store, newKeySet(), notifier, nil, nil, nil, nil)

	action := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "act-1", ActionType: "refund"}
	out, err := h.RequestApproval(context.Background(), action, "rule-1", "slack", "please approve", 60)
	require.NoError(t, err)
	assert.NotEmpty(t, out.ApprovalID)
	assert.True(t, out.NotificationSent)
	assert.Equal(t, 1, notifier.calls)
	assert.Contains(t, out.ApproveURL, out.ApprovalID)

	sig, exp, kid := parseSigParams(t, out.ApproveURL)
	assert.NotEmpty(t, sig)
	assert.Equal(t, "k1", kid)
	assert.Equal(t, out.ExpiresAt.Unix(), exp)
}

func TestApproveExecutesAction(t *testing.T) {
	store := state.NewInMemoryStore()
	keys := newKeySet()
	h := approval.NewHandler(store, keys, &fakeNotifier{}, nil, func(ctx context.Context, action acteon.Action, verdict acteon.Verdict) (acteon.Outcome, error) {
		return acteon.ExecutedOutcome{Response: map[string]interface{}{"ok": true}}, nil
	}, nil, nil)

	action := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "act-1", ActionType: "refund"}
	out, err := h.RequestApproval(context.Background(), action, "rule-1", "", "", 60)
	require.NoError(t, err)

	sig, exp, kid := parseSigParams(t, out.ApproveURL)
	outcome, err := h.Decide(context.Background(), "ns", "t1", out.ApprovalID, exp, sig, kid, true, "alice")
	require.NoError(t, err)
	executed, ok := outcome.(acteon.ExecutedOutcome)
	require.True(t, ok)
	assert.Equal(t, true, executed.Response["ok"])
}

func TestRejectReturnsSuppressed(t *testing.T) {
	store := state.NewInMemoryStore()
	keys := newKeySet()
	h := approval.NewHandler(store, keys, &fakeNotifier{}, nil, nil, nil, nil)

	action := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "act-1"}
	out, err := h.RequestApproval(context.Background(), action, "rule-1", "", "", 60)
	require.NoError(t, err)

	sig, exp, kid := parseSigParams(t, out.RejectURL)
	outcome, err := h.Decide(context.Background(), "ns", "t1", out.ApprovalID, exp, sig, kid, false, "bob")
	require.NoError(t, err)
	_, ok := outcome.(acteon.SuppressedOutcome)
	assert.True(t, ok)
}

func TestDecideTwiceReturnsAlreadyDecided(t *testing.T) {
	store := state.NewInMemoryStore()
	keys := newKeySet()
	h := approval.NewHandler(store, keys, &fakeNotifier{}, nil, func(ctx context.Context, action acteon.Action, verdict acteon.Verdict) (acteon.Outcome, error) {
		return acteon.ExecutedOutcome{}, nil
	}, nil, nil)

	action := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "act-1"}
	out, err := h.RequestApproval(context.Background(), action, "rule-1", "", "", 60)
	require.NoError(t, err)

	sig, exp, kid := parseSigParams(t, out.ApproveURL)
	_, err = h.Decide(context.Background(), "ns", "t1", out.ApprovalID, exp, sig, kid, true, "alice")
	require.NoError(t, err)

	_, err = h.Decide(context.Background(), "ns", "t1", out.ApprovalID, exp, sig, kid, true, "alice")
	assert.Error(t, err)
}

func TestTOCTOUReevaluationDenyRefusesExecution(t *testing.T) {
	store := state.NewInMemoryStore()
	keys := newKeySet()
	executeCalled := false
	h := approval.NewHandler(store, keys, &fakeNotifier{}, func(ctx context.Context, action acteon.Action) (acteon.Verdict, error) {
		return acteon.DenyVerdict{Rule: "new-policy"}, nil
	}, func(ctx context.Context, action acteon.Action, verdict acteon.Verdict) (acteon.Outcome, error) {
		executeCalled = true
		return acteon.ExecutedOutcome{}, nil
	}, nil, nil)

	action := acteon.Action{Namespace: "ns", Tenant: "t1", ID: "act-1"}
	out, err := h.RequestApproval(context.Background(), action, "rule-1", "", "", 60)
	require.NoError(t, err)

	sig, exp, kid := parseSigParams(t, out.ApproveURL)
	outcome, err := h.Decide(context.Background(), "ns", "t1", out.ApprovalID, exp, sig, kid, true, "alice")
	require.NoError(t, err)
	_, ok := outcome.(acteon.SuppressedOutcome)
	assert.True(t, ok, "a Deny verdict at decision time must refuse execution")
	assert.False(t, executeCalled)
}

func TestKeyRotationCrossDeploymentVerify(t *testing.T) {
	// Deployment A signs with the old key (simulating pre-rotation state).
	oldKeyOnly := approval.NewKeySet(approval.Key{ID: "k0", Secret: []byte("old-secret")})
	sig, kid, err := oldKeyOnly.Sign("ns", "t1", "approval-1", 9999999999)
	require.NoError(t, err)
	assert.Equal(t, "k0", kid)

	// Deployment B has rotated: current key is k1, but k0 is retained for
	// verifying in-flight approvals signed before the rotation.
	rotated := approval.NewKeySet(
		approval.Key{ID: "k1", Secret: []byte("current-secret")},
		approval.Key{ID: "k0", Secret: []byte("old-secret")},
	)
	assert.True(t, rotated.Verify("ns", "t1", "approval-1", 9999999999, sig, kid))
	assert.True(t, rotated.Verify("ns", "t1", "approval-1", 9999999999, sig, ""), "try-all-keys fallback when kid omitted")
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	keys := newKeySet()
	assert.False(t, keys.Verify("ns", "t1", "approval-1", 9999999999, "deadbeef", "k1"))
}
