package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/logger"
	"github.com/penserai/acteon/pkg/state"
)

// Enforcer implements the check_quota protocol of spec.md §4.E.
type Enforcer struct {
	store    state.Store
	resolver *cachingResolver
	logger   logger.Logger
	now      func() time.Time
}

// NewEnforcer builds an Enforcer backed by store for both policy
// documents and window-bucket counters, with the spec's 60-second policy
// cache TTL.
func NewEnforcer(store state.Store, log logger.ComponentAwareLogger) *Enforcer {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Enforcer{
		store:    store,
		resolver: newCachingResolver(NewStatePolicyResolver(store), 60*time.Second),
		logger:   log.WithComponent("quota"),
		now:      time.Now,
	}
}

// CheckQuota runs the five-step protocol and returns a non-nil Outcome
// only when dispatch should stop short (Block or Degrade); a nil Outcome
// means "proceed with execution" (Allow, Warn, Notify, no policy, or
// internal re-dispatch skip).
func (e *Enforcer) CheckQuota(ctx context.Context, action acteon.Action) (acteon.Outcome, error) {
	if action.IsInternalRedispatch() {
		return nil, nil
	}

	policy, ok, err := e.resolver.Resolve(ctx, action.Namespace, action.Tenant)
	if err != nil {
		return nil, err
	}
	if !ok || !policy.Enabled {
		return nil, nil
	}

	bucketKey := e.bucketKey(action.Namespace, action.Tenant, policy)
	ttl := policy.Window.Seconds()

	used, err := e.store.Increment(ctx, bucketKey, 1, ttl)
	if err != nil {
		// state backend trouble on the counter itself: fail open rather
		// than block traffic on a storage hiccup.
		e.logger.Warn("quota counter increment failed, failing open", map[string]interface{}{
			"namespace": action.Namespace, "tenant": action.Tenant, "error": err.Error(),
		})
		return nil, nil
	}

	if used <= policy.MaxActions {
		return nil, nil
	}

	switch policy.OverageBehavior.Kind {
	case OverageBlock:
		if _, err := e.store.Increment(ctx, bucketKey, -1, ttl); err != nil {
			e.logger.Warn("quota rollback increment failed", map[string]interface{}{
				"namespace": action.Namespace, "tenant": action.Tenant, "error": err.Error(),
			})
		}
		return acteon.QuotaExceededOutcome{
			Tenant: action.Tenant, Limit: policy.MaxActions, Used: used - 1,
			OverageBehavior: policy.OverageBehavior.String(),
		}, nil
	case OverageWarn:
		e.logger.Warn("quota exceeded, allowing (warn behavior)", map[string]interface{}{
			"namespace": action.Namespace, "tenant": action.Tenant, "used": used, "limit": policy.MaxActions,
		})
		return nil, nil
	case OverageDegrade:
		return acteon.QuotaExceededOutcome{
			Tenant: action.Tenant, Limit: policy.MaxActions, Used: used,
			OverageBehavior: policy.OverageBehavior.String(),
		}, nil
	case OverageNotify:
		e.logger.Info("quota exceeded, notifying", map[string]interface{}{
			"namespace": action.Namespace, "tenant": action.Tenant,
			"target": policy.OverageBehavior.NotifyTarget, "used": used, "limit": policy.MaxActions,
		})
		return nil, nil
	default:
		return nil, nil
	}
}

func (e *Enforcer) bucketKey(namespace, tenant string, policy Policy) string {
	bucket := bucketTimestamp(e.now(), policy.Window)
	return fmt.Sprintf("quota:%s:%s:%s:%d", namespace, tenant, policy.Window, bucket)
}

// bucketTimestamp floors t to the start of its counting window, in Unix
// seconds, so every call within the same window shares one bucket key.
func bucketTimestamp(t time.Time, w Window) int64 {
	u := t.UTC()
	switch w {
	case WindowDaily:
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Unix()
	case WindowMonthly:
		return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC).Unix()
	default: // hourly
		return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC).Unix()
	}
}
