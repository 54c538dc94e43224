package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/acteonerr"
)

const (
	minScheduleDelay = 1 * time.Second
	maxScheduleDelay = 7 * 24 * time.Hour
)

// scheduleAction persists action under KindScheduledAction, indexes it in
// PendingScheduled keyed by its due time, and returns ScheduledOutcome
// (spec.md §4.H step 7 "Schedule").
func (d *Dispatcher) scheduleAction(ctx context.Context, action acteon.Action, delaySeconds int) (acteon.Outcome, error) {
	delay := time.Duration(delaySeconds) * time.Second
	if delay < minScheduleDelay || delay > maxScheduleDelay {
		return nil, acteonerr.New("dispatch.scheduleAction", acteonerr.KindConfiguration, acteonerr.ErrInvalidDelay).WithID(action.ID)
	}
	if action.Payload[acteon.MarkerScheduledDispatch] == true {
		return nil, acteonerr.New("dispatch.scheduleAction", acteonerr.KindConfiguration, acteonerr.ErrInvalidConfiguration).
			WithID(action.ID)
	}

	now := d.now()
	scheduledFor := now.Add(delay)
	doc := acteon.ScheduledActionRecord{Action: action, CreatedAt: now, ScheduledFor: scheduledFor}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	key := acteon.NewStateKey(action.Namespace, action.Tenant, acteon.KindScheduledAction, action.ID).String()
	ttl := int64(delay.Seconds()) + int64(maxScheduleDelay.Seconds())
	if err := d.store.Set(ctx, key, string(data), ttl); err != nil {
		return nil, err
	}
	ref := acteon.TimeoutRef(action.Namespace, action.Tenant, action.ID)
	if err := d.store.IndexTimeout(ctx, string(acteon.KindPendingScheduled), ref, scheduledFor.UnixMilli()); err != nil {
		return nil, err
	}

	return acteon.ScheduledOutcome{ActionID: action.ID, ScheduledFor: scheduledFor}, nil
}
