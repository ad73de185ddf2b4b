package services

import (
	"context"
	"fmt"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
)

// RoleResolver decides whether the local participant initiates or responds,
// by inspecting the participant count at join time. First arrival (count 0)
// initiates; anyone later responds.
//
// Two simultaneous joins can both observe count 0 and both resolve initiator.
// This race is accepted rather than locked away: there is no conditional-write
// primitive in the store contract, and downstream negotiation tolerates it
// last-offer-wins.
type RoleResolver struct {
	store ports.CallStore
}

func NewRoleResolver(store ports.CallStore) *RoleResolver {
	return &RoleResolver{store: store}
}

func (r *RoleResolver) Resolve(ctx context.Context, callID domain.CallID) (domain.Role, error) {
	record, err := r.store.Get(ctx, callID)
	if err != nil {
		return "", fmt.Errorf("resolve role for call %s: %w", callID, err)
	}

	if record.ParticipantCount() == 0 {
		return domain.RoleInitiator, nil
	}
	return domain.RoleResponder, nil
}
