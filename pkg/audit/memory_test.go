package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penserai/acteon/pkg/audit"
)

func TestAppendAndGet(t *testing.T) {
	store := audit.NewInMemoryStore(true)
	ctx := context.Background()

	r := audit.Record{ID: "a1", ActionID: "act-1", Namespace: "ns", Tenant: "t1", VerdictTag: "allow", OutcomeTag: "executed", DispatchedAt: time.Now()}
	require.NoError(t, store.Append(ctx, r))

	got, ok, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "act-1", got.ActionID)
	assert.NotEmpty(t, got.Hash)
}

func TestPayloadOmittedWhenStorePayloadFalse(t *testing.T) {
	store := audit.NewInMemoryStore(false)
	ctx := context.Background()

	r := audit.Record{ID: "a1", Payload: map[string]interface{}{"secret": "x"}, DispatchedAt: time.Now()}
	require.NoError(t, store.Append(ctx, r))

	got, _, _ := store.Get(ctx, "a1")
	assert.Nil(t, got.Payload)
}

func TestListFiltersByNamespaceAndTenant(t *testing.T) {
	store := audit.NewInMemoryStore(false)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, audit.Record{ID: "a1", Namespace: "ns1", Tenant: "t1", DispatchedAt: time.Now()}))
	require.NoError(t, store.Append(ctx, audit.Record{ID: "a2", Namespace: "ns2", Tenant: "t1", DispatchedAt: time.Now()}))

	out, err := store.List(ctx, audit.Filter{Namespace: "ns1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a1", out[0].ID)
}

func TestVerifyChainAcceptsIntactChain(t *testing.T) {
	store := audit.NewInMemoryStore(false)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, audit.Record{ID: "a1", ActionID: "act-1", DispatchedAt: time.Now()}))
	require.NoError(t, store.Append(ctx, audit.Record{ID: "a2", ActionID: "act-2", DispatchedAt: time.Now()}))

	ok, broken, err := store.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, broken)
}
