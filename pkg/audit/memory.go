package audit

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore is an order-preserving, hash-chained audit store for
// tests and single-process deployments.
type InMemoryStore struct {
	mu           sync.RWMutex
	records      []Record
	byID         map[string]int
	storePayload bool
	lastHash     string
}

func NewInMemoryStore(storePayload bool) *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]int), storePayload: storePayload}
}

func (s *InMemoryStore) StorePayload() bool { return s.storePayload }

func (s *InMemoryStore) Append(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.storePayload {
		r.Payload = nil
	}
	r.PrevHash = s.lastHash
	r.Hash = ComputeHash(r, r.PrevHash)
	s.lastHash = r.Hash

	s.byID[r.ID] = len(s.records)
	s.records = append(s.records, r)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return Record{}, false, nil
	}
	return s.records[idx], true, nil
}

func (s *InMemoryStore) List(_ context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if f.Namespace != "" && r.Namespace != f.Namespace {
			continue
		}
		if f.Tenant != "" && r.Tenant != f.Tenant {
			continue
		}
		if f.Provider != "" && r.Provider != f.Provider {
			continue
		}
		if f.ActionType != "" && r.ActionType != f.ActionType {
			continue
		}
		if !f.Since.IsZero() && r.DispatchedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && r.DispatchedAt.After(f.Until) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DispatchedAt.Before(out[j].DispatchedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) VerifyChain(_ context.Context) (bool, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prev := ""
	for _, r := range s.records {
		if r.PrevHash != prev {
			return false, r.ID, nil
		}
		want := ComputeHash(Record{ActionID: r.ActionID, VerdictTag: r.VerdictTag, OutcomeTag: r.OutcomeTag, DispatchedAt: r.DispatchedAt}, prev)
		if want != r.Hash {
			return false, r.ID, nil
		}
		prev = r.Hash
	}
	return true, "", nil
}

var _ Store = (*InMemoryStore)(nil)
