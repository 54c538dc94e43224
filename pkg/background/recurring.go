package background

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/penserai/acteon/pkg/acteon"
)

// drainRecurring drains PendingRecurring similarly to scheduled actions,
// but additionally skips orphaned (definition missing), disabled, and
// expired (ends_at <= now) definitions, plus a clock-jitter guard against
// double-firing a definition two overlapping background instances both
// picked up (spec.md §4.M "Recurring actions"). The next occurrence is
// computed from CronExpr and re-indexed here, since this module has no
// separate dispatch-consumer tier to hand that step to.
func (p *Processor) drainRecurring(ctx context.Context) {
	now := p.now()
	refs, err := p.store.GetExpiredTimeouts(ctx, string(acteon.KindPendingRecurring), now.UnixMilli())
	if err != nil {
		p.logger.Warn("background: failed to list due recurring actions", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, ref := range refs {
		namespace, tenant, id, ok := acteon.ParseTimeoutRef(ref)
		if !ok {
			_ = p.store.RemoveTimeoutIndex(ctx, string(acteon.KindPendingRecurring), ref)
			continue
		}

		key := acteon.NewStateKey(namespace, tenant, acteon.KindRecurringAction, id).String()
		raw, found, err := p.store.Get(ctx, key)
		if err != nil || !found {
			// Orphan cleanup: the definition was deleted out from under us.
			_ = p.store.RemoveTimeoutIndex(ctx, string(acteon.KindPendingRecurring), ref)
			continue
		}

		var rec acteon.RecurringActionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			_ = p.store.RemoveTimeoutIndex(ctx, string(acteon.KindPendingRecurring), ref)
			continue
		}

		if !rec.Enabled {
			_ = p.store.RemoveTimeoutIndex(ctx, string(acteon.KindPendingRecurring), ref)
			continue
		}
		if rec.EndsAt != nil && !rec.EndsAt.After(now) {
			_ = p.store.RemoveTimeoutIndex(ctx, string(acteon.KindPendingRecurring), ref)
			continue
		}
		if rec.LastFiredAt != nil && now.Sub(*rec.LastFiredAt) < p.cfg.RecurringJitterGuard {
			continue // another instance fired this cycle; leave it for that instance to reschedule
		}

		p.publish("recurring_action_due", rec.Action.Provider, map[string]interface{}{
			"recurring_id": id, "namespace": namespace, "tenant": tenant,
		})

		if p.dispatch != nil {
			due := rec.Action.Clone()
			if due.Payload == nil {
				due.Payload = map[string]interface{}{}
			}
			due.Payload[acteon.MarkerRecurringDispatch] = true
			if _, err := p.dispatch(ctx, due); err != nil {
				p.logger.Warn("background: recurring dispatch failed", map[string]interface{}{"recurring_id": id, "error": err.Error()})
			}
		}

		rec.LastFiredAt = &now
		_ = p.store.RemoveTimeoutIndex(ctx, string(acteon.KindPendingRecurring), ref)

		next, err := nextOccurrence(rec.CronExpr, now)
		if err == nil && (rec.EndsAt == nil || next.Before(*rec.EndsAt)) {
			if ierr := p.store.IndexTimeout(ctx, string(acteon.KindPendingRecurring), ref, next.UnixMilli()); ierr != nil {
				p.logger.Warn("background: failed to re-index recurring action", map[string]interface{}{"recurring_id": id, "error": ierr.Error()})
			}
		}
		if err != nil {
			p.logger.Warn("background: invalid cron expression, disabling recurring action", map[string]interface{}{
				"recurring_id": id, "cron_expr": rec.CronExpr, "error": err.Error(),
			})
			rec.Enabled = false
		}

		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		if err := p.store.Set(ctx, key, string(data), 0); err != nil {
			p.logger.Warn("background: failed to persist recurring action", map[string]interface{}{"recurring_id": id, "error": err.Error()})
			continue
		}
	}
}

func nextOccurrence(expr string, from time.Time) (time.Time, error) {
	parsed, err := cronexpr.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.Next(from), nil
}
