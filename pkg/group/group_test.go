package group_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penserai/acteon/pkg/acteon"
	"github.com/penserai/acteon/pkg/group"
	"github.com/penserai/acteon/pkg/state"
)

func alertAction(severity string) acteon.Action {
	return acteon.Action{Namespace: "ns", Tenant: "t1", Payload: map[string]interface{}{"severity": severity}}
}

func TestAddToGroupAccumulatesSameKey(t *testing.T) {
	m := group.NewManager(state.NewInMemoryStore())
	ctx := context.Background()

	r1, err := m.AddToGroup(ctx, alertAction("critical"), []string{"severity"}, 60)
	require.NoError(t, err)
	r2, err := m.AddToGroup(ctx, alertAction("critical"), []string{"severity"}, 60)
	require.NoError(t, err)

	assert.Equal(t, r1.GroupID, r2.GroupID)
	assert.Equal(t, 2, r2.Size)
}

func TestAddToGroupDifferentKeysAreIndependent(t *testing.T) {
	m := group.NewManager(state.NewInMemoryStore())
	ctx := context.Background()

	r1, err := m.AddToGroup(ctx, alertAction("critical"), []string{"severity"}, 60)
	require.NoError(t, err)
	r2, err := m.AddToGroup(ctx, alertAction("warning"), []string{"severity"}, 60)
	require.NoError(t, err)

	assert.NotEqual(t, r1.GroupID, r2.GroupID)
}

func TestReadyGroupsAndFlush(t *testing.T) {
	m := group.NewManager(state.NewInMemoryStore())
	ctx := context.Background()

	_, err := m.AddToGroup(ctx, alertAction("critical"), []string{"severity"}, 0)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	ready := m.ReadyGroups()
	require.Len(t, ready, 1)

	g, ok := m.FlushGroup(ready[0])
	require.True(t, ok)
	assert.Equal(t, 1, g.Size)
	assert.Equal(t, 0, m.Count())

	_, ok = m.FlushGroup(ready[0])
	assert.False(t, ok, "a second flush of the same key must be a no-op")
}
