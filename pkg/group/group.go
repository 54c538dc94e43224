// Package group implements the Group Manager (spec.md §4.I): keyed event
// batching with a notify_at flush window, polled by the background
// processor.
package group

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/state"
)

// Manager maintains an in-memory group_key → EventGroup map, protected by
// a read-write lock, with a lightweight persisted summary for crash
// visibility.
type Manager struct {
	mu     sync.RWMutex
	groups map[string]*acteon.EventGroup
	store  state.Store
	now    func() time.Time
}

func NewManager(store state.Store) *Manager {
	return &Manager{groups: make(map[string]*acteon.EventGroup), store: store, now: time.Now}
}

// GroupKey computes the key from the action's namespace/tenant plus the
// values of groupBy fields projected from action.Payload.
func GroupKey(action acteon.Action, groupBy []string) string {
	parts := make([]string, 0, len(groupBy)+2)
	parts = append(parts, action.Namespace, action.Tenant)
	sorted := append([]string(nil), groupBy...)
	sort.Strings(sorted)
	for _, field := range sorted {
		v := action.Payload[field]
		parts = append(parts, field+"=")
		if v != nil {
			b, _ := json.Marshal(v)
			parts[len(parts)-1] += string(b)
		}
	}
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:24]
}

// AddResult is returned by AddToGroup.
type AddResult struct {
	GroupID  string
	GroupKey string
	Size     int
	NotifyAt time.Time
}

// AddToGroup inserts or appends action into the group addressed by
// groupBy, persists a lightweight summary, and returns the group's
// current shape.
func (m *Manager) AddToGroup(ctx context.Context, action acteon.Action, groupBy []string, waitSeconds int) (AddResult, error) {
	key := GroupKey(action, groupBy)
	now := m.now()

	m.mu.Lock()
	g, ok := m.groups[key]
	if !ok {
		g = &acteon.EventGroup{
			GroupID:  uuid.NewString(),
			GroupKey: key,
			NotifyAt: now.Add(time.Duration(waitSeconds) * time.Second),
		}
		m.groups[key] = g
	}
	g.Events = append(g.Events, action)
	g.Size = len(g.Events)
	result := AddResult{GroupID: g.GroupID, GroupKey: g.GroupKey, Size: g.Size, NotifyAt: g.NotifyAt}
	m.mu.Unlock()

	if err := m.persistSummary(ctx, action.Namespace, action.Tenant, *g); err != nil {
		return AddResult{}, err
	}
	return result, nil
}

func (m *Manager) persistSummary(ctx context.Context, namespace, tenant string, g acteon.EventGroup) error {
	summary := struct {
		GroupID  string    `json:"group_id"`
		Size     int       `json:"size"`
		NotifyAt time.Time `json:"notify_at"`
	}{g.GroupID, g.Size, g.NotifyAt}
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	key := acteon.NewStateKey(namespace, tenant, "pending_group", g.GroupKey).String()
	ttl := int64(time.Until(g.NotifyAt).Seconds()) + 3600
	if ttl < 1 {
		ttl = 3600
	}
	return m.store.Set(ctx, key, string(data), ttl)
}

// ReadyGroups returns the keys, sorted, of every group whose NotifyAt has
// passed.
func (m *Manager) ReadyGroups() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var ready []string
	for key, g := range m.groups {
		if !g.NotifyAt.After(now) {
			ready = append(ready, key)
		}
	}
	sort.Strings(ready)
	return ready
}

// FlushGroup removes and returns the group for key, or ok=false if it
// isn't present (already flushed by a racing drain).
func (m *Manager) FlushGroup(key string) (acteon.EventGroup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[key]
	if !ok {
		return acteon.EventGroup{}, false
	}
	delete(m.groups, key)
	return *g, true
}

// Count reports how many groups are currently in flight (test/metrics use).
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.groups)
}
