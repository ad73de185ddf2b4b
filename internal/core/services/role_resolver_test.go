package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall/internal/core/domain"
	"peercall/internal/infrastructure/repositories/memory"
)

func TestRoleResolver_FirstArrivalInitiates(t *testing.T) {
	store := memory.NewMemoryCallStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &domain.CallRecord{ID: "call-1"}))

	resolver := NewRoleResolver(store)
	role, err := resolver.Resolve(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleInitiator, role)
}

func TestRoleResolver_LaterArrivalsRespond(t *testing.T) {
	store := memory.NewMemoryCallStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &domain.CallRecord{ID: "call-1"}))
	require.NoError(t, store.AddParticipant(ctx, "call-1", "p-1"))

	resolver := NewRoleResolver(store)
	role, err := resolver.Resolve(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleResponder, role)
}

func TestRoleResolver_UnknownCall(t *testing.T) {
	store := memory.NewMemoryCallStore()
	resolver := NewRoleResolver(store)

	_, err := resolver.Resolve(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestRoleResolver_RoleDerivedFromCountNotStatus(t *testing.T) {
	store := memory.NewMemoryCallStore()
	ctx := context.Background()

	// A stale offer-posted status must not make an empty call look occupied.
	require.NoError(t, store.Create(ctx, &domain.CallRecord{
		ID:     "call-1",
		Status: domain.StatusOfferPosted,
	}))

	resolver := NewRoleResolver(store)
	role, err := resolver.Resolve(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleInitiator, role)
}
