package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/acteonerr"
	"github.com/penserai/acteon/pkg/logger"
	"github.com/penserai/acteon/pkg/state"
	"github.com/penserai/acteon/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Notifier dispatches the approval notification directly, bypassing the
// rule engine (spec.md §4.K step 4). Implementations live outside this
// module; a provider-backed one typically wraps executor.Provider.
type Notifier interface {
	Notify(ctx context.Context, provider string, action acteon.Action, message string) error
}

// Reevaluator reruns rule evaluation for the TOCTOU check at approval
// time. The dispatch pipeline supplies this as a closure over its live
// *rules.RuleEngine so approval doesn't need to own rule-reload state.
type Reevaluator func(ctx context.Context, action acteon.Action) (acteon.Verdict, error)

// VerdictExecutor carries out a non-reject verdict recovered by the
// TOCTOU re-evaluation, mirroring the dispatch pipeline's own
// verdict-to-handler switch. The approval package never executes actions
// itself; it only decides whether execution may proceed.
type VerdictExecutor func(ctx context.Context, action acteon.Action, verdict acteon.Verdict) (acteon.Outcome, error)

// URLBuilder renders the approve/reject URLs shown to the approver. The
// gateway's HTTP surface is out of scope for this module (spec.md §6);
// callers supply their own base-path formatting.
type URLBuilder func(namespace, tenant, id, action, sig string, expiresAtUnix int64, kid string) string

// Handler implements the create/approve/reject/verify protocol.
type Handler struct {
	store    state.Store
	keys     *KeySet
	notifier Notifier
	reeval   Reevaluator
	execute  VerdictExecutor
	urlFor   URLBuilder
	logger   logger.Logger
	now      func() time.Time
	telemetry *telemetry.Telemetry
}

// WithTelemetry wires tracing in after construction; nil clears it.
func (h *Handler) WithTelemetry(t *telemetry.Telemetry) *Handler {
	h.telemetry = t
	return h
}

func NewHandler(store state.Store, keys *KeySet, notifier Notifier, reeval Reevaluator, execute VerdictExecutor, urlFor URLBuilder, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	if urlFor == nil {
		urlFor = defaultURLBuilder
	}
	return &Handler{store: store, keys: keys, notifier: notifier, reeval: reeval, execute: execute, urlFor: urlFor, logger: log, now: time.Now}
}

func defaultURLBuilder(namespace, tenant, id, action, sig string, expiresAtUnix int64, kid string) string {
	return fmt.Sprintf("/v1/approvals/%s/%s/%s/%s?sig=%s&expires_at=%d&kid=%s",
		namespace, tenant, id, action, sig, expiresAtUnix, kid)
}

// record is the JSON representation persisted at KindApproval.
type record struct {
	Action           acteon.Action          `json:"action"`
	Token            string                 `json:"token"`
	Rule             string                 `json:"rule"`
	CreatedAt        time.Time              `json:"created_at"`
	ExpiresAt        time.Time              `json:"expires_at"`
	Status           acteon.ApprovalStatus  `json:"status"`
	DecidedBy        string                 `json:"decided_by,omitempty"`
	DecidedAt        *time.Time             `json:"decided_at,omitempty"`
	Message          string                 `json:"message"`
	NotificationSent bool                   `json:"notification_sent"`
	NotifyProvider   string                 `json:"notify_provider"`
}

func toRecord(r acteon.ApprovalRecord, notifyProvider string) record {
	return record{
		Action: r.Action, Token: r.Token, Rule: r.Rule, CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt,
		Status: r.Status, DecidedBy: r.DecidedBy, DecidedAt: r.DecidedAt, Message: r.Message,
		NotificationSent: r.NotificationSent, NotifyProvider: notifyProvider,
	}
}

func (r record) toApproval() acteon.ApprovalRecord {
	return acteon.ApprovalRecord{
		Action: r.Action, Token: r.Token, Rule: r.Rule, CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt,
		Status: r.Status, DecidedBy: r.DecidedBy, DecidedAt: r.DecidedAt, Message: r.Message,
		NotificationSent: r.NotificationSent,
	}
}

func (h *Handler) approvalKey(namespace, tenant, id string) string {
	return acteon.NewStateKey(namespace, tenant, acteon.KindApproval, id).String()
}

func (h *Handler) claimKey(namespace, tenant, id string) string {
	return acteon.NewStateKey(namespace, tenant, acteon.KindApproval, id+":claim").String()
}

// RequestApproval creates a pending approval for action and attempts
// immediate notification delivery.
func (h *Handler) RequestApproval(ctx context.Context, action acteon.Action, rule, notifyProvider, message string, timeoutSeconds int) (acteon.PendingApprovalOutcome, error) {
	id := uuid.NewString()
	now := h.now()
	expiresAt := now.Add(time.Duration(timeoutSeconds) * time.Second)

	sig, kid, err := h.keys.Sign(action.Namespace, action.Tenant, id, expiresAt.Unix())
	if err != nil {
		return acteon.PendingApprovalOutcome{}, err
	}
	approveURL := h.urlFor(action.Namespace, action.Tenant, id, "approve", sig, expiresAt.Unix(), kid)
	rejectURL := h.urlFor(action.Namespace, action.Tenant, id, "reject", sig, expiresAt.Unix(), kid)

	rec := acteon.ApprovalRecord{
		Action: action, Token: id, Rule: rule, CreatedAt: now, ExpiresAt: expiresAt,
		Status: acteon.ApprovalPending, Message: message,
	}

	notificationSent := false
	if h.notifier != nil && notifyProvider != "" {
		if err := h.notifier.Notify(ctx, notifyProvider, action, message); err != nil {
			h.logger.Warn("approval notification failed", map[string]interface{}{"approval_id": id, "error": err.Error()})
		} else {
			notificationSent = true
		}
	}
	rec.NotificationSent = notificationSent

	if err := h.persist(ctx, action.Namespace, action.Tenant, id, rec, notifyProvider, timeoutSeconds); err != nil {
		return acteon.PendingApprovalOutcome{}, err
	}
	indexKey := acteon.NewStateKey(action.Namespace, action.Tenant, acteon.KindPendingApprovals, action.ID).String()
	if err := h.store.Set(ctx, indexKey, id, int64(timeoutSeconds)); err != nil {
		return acteon.PendingApprovalOutcome{}, err
	}

	return acteon.PendingApprovalOutcome{
		ApprovalID: id, ExpiresAt: expiresAt, ApproveURL: approveURL, RejectURL: rejectURL,
		NotificationSent: notificationSent,
	}, nil
}

func (h *Handler) persist(ctx context.Context, namespace, tenant, id string, rec acteon.ApprovalRecord, notifyProvider string, ttlSeconds int) error {
	data, err := json.Marshal(toRecord(rec, notifyProvider))
	if err != nil {
		return err
	}
	return h.store.Set(ctx, h.approvalKey(namespace, tenant, id), string(data), int64(ttlSeconds))
}

func (h *Handler) load(ctx context.Context, namespace, tenant, id string) (record, bool, error) {
	raw, ok, err := h.store.Get(ctx, h.approvalKey(namespace, tenant, id))
	if err != nil || !ok {
		return record{}, ok, err
	}
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return record{}, false, err
	}
	return r, true, nil
}

// GetApproval returns the approval record, verifying sig/kid first.
func (h *Handler) GetApproval(ctx context.Context, namespace, tenant, id string, expiresAtUnix int64, sig, kid string) (acteon.ApprovalRecord, error) {
	if !h.keys.Verify(namespace, tenant, id, expiresAtUnix, sig, kid) {
		return acteon.ApprovalRecord{}, acteonerr.New("approval.Get", acteonerr.KindApprovalNotFound, acteonerr.ErrApprovalSignatureBad).WithID(id)
	}
	r, ok, err := h.load(ctx, namespace, tenant, id)
	if err != nil {
		return acteon.ApprovalRecord{}, err
	}
	if !ok {
		return acteon.ApprovalRecord{}, acteonerr.New("approval.Get", acteonerr.KindApprovalNotFound, acteonerr.ErrApprovalNotFound).WithID(id)
	}
	if h.now().After(r.ExpiresAt) {
		return acteon.ApprovalRecord{}, acteonerr.New("approval.Get", acteonerr.KindApprovalNotFound, acteonerr.ErrApprovalExpired).WithID(id)
	}
	return r.toApproval(), nil
}

// Decide runs the two-phase claim + TOCTOU re-evaluation protocol for
// either an approve or a reject. decidedBy identifies the approver.
func (h *Handler) Decide(ctx context.Context, namespace, tenant, id string, expiresAtUnix int64, sig, kid string, approve bool, decidedBy string) (acteon.Outcome, error) {
	start := h.now()
	var span trace.Span
	ctx, span = h.telemetry.StartSpan(ctx, "acteon.approval.decide",
		attribute.String("namespace", namespace),
		attribute.String("tenant", tenant),
		attribute.String("approval_id", id),
		attribute.Bool("approve", approve),
	)
	defer telemetry.SpanDuration(span, start)

	if !h.keys.Verify(namespace, tenant, id, expiresAtUnix, sig, kid) {
		return nil, acteonerr.New("approval.Decide", acteonerr.KindApprovalNotFound, acteonerr.ErrApprovalSignatureBad).WithID(id)
	}

	decision := "rejected"
	if approve {
		decision = "approved"
	}
	claimed, err := h.store.CheckAndSet(ctx, h.claimKey(namespace, tenant, id), decision, 24*3600)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, acteonerr.New("approval.Decide", acteonerr.KindApprovalDecided, acteonerr.ErrApprovalAlreadyDecided).WithID(id)
	}

	outcome, err := h.decideClaimed(ctx, namespace, tenant, id, approve, decidedBy)
	if err != nil {
		// Any post-claim error releases the claim so the approval can be
		// retried (spec.md §4.K).
		_, _ = h.store.Delete(ctx, h.claimKey(namespace, tenant, id))
	}
	return outcome, err
}

func (h *Handler) decideClaimed(ctx context.Context, namespace, tenant, id string, approve bool, decidedBy string) (acteon.Outcome, error) {
	r, ok, err := h.load(ctx, namespace, tenant, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, acteonerr.New("approval.Decide", acteonerr.KindApprovalNotFound, acteonerr.ErrApprovalNotFound).WithID(id)
	}
	if r.Status != acteon.ApprovalPending {
		return nil, acteonerr.New("approval.Decide", acteonerr.KindApprovalDecided, acteonerr.ErrApprovalAlreadyDecided).WithID(id)
	}

	now := h.now()
	r.DecidedAt = &now
	r.DecidedBy = decidedBy
	if approve {
		r.Status = acteon.ApprovalApproved
	} else {
		r.Status = acteon.ApprovalRejected
	}
	if err := h.persist(ctx, namespace, tenant, id, r.toApproval(), r.NotifyProvider, int(time.Until(r.ExpiresAt).Seconds())); err != nil {
		return nil, err
	}

	if !approve {
		return acteon.SuppressedOutcome{Rule: r.Rule}, nil
	}

	if h.reeval == nil {
		return acteon.ExecutedOutcome{}, nil
	}
	verdict, err := h.reeval(ctx, r.Action)
	if err != nil {
		return nil, err
	}
	switch verdict.(type) {
	case acteon.SuppressVerdict, acteon.DenyVerdict:
		// TOCTOU: conditions changed since the approval was requested;
		// refuse execution even though a human approved it.
		return acteon.SuppressedOutcome{Rule: r.Rule}, nil
	}
	if h.execute == nil {
		return nil, errNoExecutor
	}
	return h.execute(ctx, r.Action, verdict)
}

// RetryNotification re-reads the record, re-derives URLs (with a fresh
// signature), and attempts delivery again via the handler's notifier.
func (h *Handler) RetryNotification(ctx context.Context, namespace, tenant, id string) (bool, error) {
	r, ok, err := h.load(ctx, namespace, tenant, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, acteonerr.New("approval.RetryNotification", acteonerr.KindApprovalNotFound, acteonerr.ErrApprovalNotFound).WithID(id)
	}
	if r.NotificationSent || h.notifier == nil || r.NotifyProvider == "" {
		return r.NotificationSent, nil
	}
	if err := h.notifier.Notify(ctx, r.NotifyProvider, r.Action, r.Message); err != nil {
		return false, err
	}
	r.NotificationSent = true
	ttl := int64(time.Until(r.ExpiresAt).Seconds())
	if err := h.persist(ctx, namespace, tenant, id, r.toApproval(), r.NotifyProvider, int(ttl)); err != nil {
		return false, err
	}
	return true, nil
}
