package ports

import (
	"context"

	"peercall/internal/core/domain"
)

// CallStore is the shared, eventually-consistent document store the two
// participants signal through. One document per call identifier.
//
// Ordering contract: a write must be visible to a subsequent read by the same
// client, and subscription callbacks fire at-least-once per committed write,
// in commit order, for a single document. Concurrent writes to the same field
// from different clients resolve last-write-wins.
type CallStore interface {
	// Create bootstraps a call document with status "created".
	Create(ctx context.Context, record *domain.CallRecord) error

	// Get returns the current document or domain.ErrCallNotFound.
	Get(ctx context.Context, callID domain.CallID) (*domain.CallRecord, error)

	// Merge applies a field-scoped partial update; unspecified fields are
	// left untouched.
	Merge(ctx context.Context, callID domain.CallID, patch domain.CallPatch) error

	// Delete removes the document and both candidate collections.
	Delete(ctx context.Context, callID domain.CallID) error

	// AddParticipant and RemoveParticipant are commutative membership ops on
	// the participants set.
	AddParticipant(ctx context.Context, callID domain.CallID, id domain.ParticipantID) error
	RemoveParticipant(ctx context.Context, callID domain.CallID, id domain.ParticipantID) error

	// AppendCandidate appends to the side-segregated, append-only candidate
	// collection. Candidates are never updated or reordered.
	AppendCandidate(ctx context.Context, callID domain.CallID, side domain.CandidateSide, c domain.ICECandidate) error

	// Candidates returns the collection accumulated so far, in append order.
	Candidates(ctx context.Context, callID domain.CallID, side domain.CandidateSide) ([]domain.ICECandidate, error)

	// Subscribe invokes fn for every committed write to the document,
	// including writes authored by this subscriber. The returned cancel
	// function releases the subscription and is safe to call more than once.
	Subscribe(ctx context.Context, callID domain.CallID, fn func(*domain.CallRecord)) (func(), error)

	// SubscribeCandidates invokes fn once per candidate appended to the given
	// side after the subscription is established, in append order.
	SubscribeCandidates(ctx context.Context, callID domain.CallID, side domain.CandidateSide, fn func(domain.ICECandidate)) (func(), error)
}
