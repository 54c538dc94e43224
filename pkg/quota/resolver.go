package quota

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/penserai/acteon/pkg/acteonerr"
	"github.com/penserai/acteon/pkg/state"
)

// PolicyResolver looks up the Policy for a (namespace, tenant) pair.
// Resolver implementations are free to fail-open (return false, nil) on
// backend trouble per spec.md §4.E step 2; a real error should only be
// returned for programmer errors (e.g. malformed stored JSON).
type PolicyResolver interface {
	Resolve(ctx context.Context, namespace, tenant string) (Policy, bool, error)
}

// StatePolicyResolver is grounded on the teacher's core.RedisClient key
// layout conventions: an index key `quota-policy-index:{ns}:{tenant}` maps
// to a policy ID, and `quota-policy:{id}` maps to a JSON-encoded Policy
// document. A lookup miss
// at either hop is a normal "no policy configured" result, not an error.
type StatePolicyResolver struct {
	store state.Store
}

func NewStatePolicyResolver(store state.Store) *StatePolicyResolver {
	return &StatePolicyResolver{store: store}
}

func (r *StatePolicyResolver) Resolve(ctx context.Context, namespace, tenant string) (Policy, bool, error) {
	indexKey := fmt.Sprintf("quota-policy-index:%s:%s", namespace, tenant)
	policyID, ok, err := r.store.Get(ctx, indexKey)
	if err != nil {
		return Policy{}, false, nil // fail-open: backend trouble is not a hard error here
	}
	if !ok {
		return Policy{}, false, nil
	}

	docKey := "quota-policy:" + policyID
	doc, ok, err := r.store.Get(ctx, docKey)
	if err != nil {
		return Policy{}, false, nil
	}
	if !ok {
		return Policy{}, false, nil
	}

	var p Policy
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return Policy{}, false, acteonerr.New("quota.Resolve", acteonerr.KindQuota, err).WithID(policyID)
	}
	return p, true, nil
}

// PutPolicy is a test/admin convenience that writes both hops of the
// index in one call.
func PutPolicy(ctx context.Context, store state.Store, namespace, tenant, policyID string, p Policy) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, "quota-policy:"+policyID, string(data), 0); err != nil {
		return err
	}
	return store.Set(ctx, fmt.Sprintf("quota-policy-index:%s:%s", namespace, tenant), policyID, 0)
}
