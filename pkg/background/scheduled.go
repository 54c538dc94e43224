package background

import (
	"context"
	"encoding/json"

	"github.com/penserai/acteon/pkg/acteon"
)

// drainScheduled drains PendingScheduled via the timeout index: for each
// due entry, read the scheduled-action record, emit ScheduledActionDueEvent
// with the stored Action, and remove the pending-index entry (spec.md
// §4.M "Scheduled actions"). If a DispatchFunc is wired, this processor
// also re-enters dispatch directly and deletes the record; otherwise the
// record is left for an external consumer (at-least-once).
func (p *Processor) drainScheduled(ctx context.Context) {
	refs, err := p.store.GetExpiredTimeouts(ctx, string(acteon.KindPendingScheduled), p.now().UnixMilli())
	if err != nil {
		p.logger.Warn("background: failed to list due scheduled actions", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, ref := range refs {
		namespace, tenant, id, ok := acteon.ParseTimeoutRef(ref)
		if !ok {
			_ = p.store.RemoveTimeoutIndex(ctx, string(acteon.KindPendingScheduled), ref)
			continue
		}

		key := acteon.NewStateKey(namespace, tenant, acteon.KindScheduledAction, id).String()
		raw, found, err := p.store.Get(ctx, key)
		if err != nil {
			p.logger.Warn("background: failed to load scheduled action", map[string]interface{}{"action_id": id, "error": err.Error()})
			continue
		}
		if !found {
			_ = p.store.RemoveTimeoutIndex(ctx, string(acteon.KindPendingScheduled), ref)
			continue
		}

		var rec acteon.ScheduledActionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			_ = p.store.RemoveTimeoutIndex(ctx, string(acteon.KindPendingScheduled), ref)
			continue
		}

		_ = p.store.RemoveTimeoutIndex(ctx, string(acteon.KindPendingScheduled), ref)

		p.publish("scheduled_action_due", rec.Action.Provider, map[string]interface{}{
			"action_id": id, "namespace": namespace, "tenant": tenant, "scheduled_for": rec.ScheduledFor,
		})

		if p.dispatch == nil {
			continue
		}

		due := rec.Action.Clone()
		if due.Payload == nil {
			due.Payload = map[string]interface{}{}
		}
		due.Payload[acteon.MarkerScheduledDispatch] = true
		if _, err := p.dispatch(ctx, due); err != nil {
			p.logger.Warn("background: scheduled dispatch failed", map[string]interface{}{"action_id": id, "error": err.Error()})
			continue
		}
		_, _ = p.store.Delete(ctx, key)
	}
}
