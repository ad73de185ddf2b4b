package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"peercall/internal/core/domain"
	"peercall/internal/infrastructure/repositories/memory"
	"peercall/pkg/circuitbreaker"
)

func testBreakerConfig() circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 1,
	}
}

// flakyStore fails every call until healed.
type flakyStore struct {
	failing bool
}

func (f *flakyStore) err() error {
	if f.failing {
		return errors.New("backend down")
	}
	return nil
}

func (f *flakyStore) Create(ctx context.Context, record *domain.CallRecord) error { return f.err() }
func (f *flakyStore) Get(ctx context.Context, callID domain.CallID) (*domain.CallRecord, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return &domain.CallRecord{ID: callID}, nil
}
func (f *flakyStore) Merge(ctx context.Context, callID domain.CallID, patch domain.CallPatch) error {
	return f.err()
}
func (f *flakyStore) Delete(ctx context.Context, callID domain.CallID) error { return f.err() }
func (f *flakyStore) AddParticipant(ctx context.Context, callID domain.CallID, id domain.ParticipantID) error {
	return f.err()
}
func (f *flakyStore) RemoveParticipant(ctx context.Context, callID domain.CallID, id domain.ParticipantID) error {
	return f.err()
}
func (f *flakyStore) AppendCandidate(ctx context.Context, callID domain.CallID, side domain.CandidateSide, c domain.ICECandidate) error {
	return f.err()
}
func (f *flakyStore) Candidates(ctx context.Context, callID domain.CallID, side domain.CandidateSide) ([]domain.ICECandidate, error) {
	return nil, f.err()
}
func (f *flakyStore) Subscribe(ctx context.Context, callID domain.CallID, fn func(*domain.CallRecord)) (func(), error) {
	return func() {}, f.err()
}
func (f *flakyStore) SubscribeCandidates(ctx context.Context, callID domain.CallID, side domain.CandidateSide, fn func(domain.ICECandidate)) (func(), error) {
	return func() {}, f.err()
}

func TestCallStoreWrapper_PassThrough(t *testing.T) {
	store := memory.NewMemoryCallStore()
	wrapper := NewCallStoreWrapper(store, testBreakerConfig(), zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, wrapper.Create(ctx, &domain.CallRecord{ID: "call-1"}))

	record, err := wrapper.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallID("call-1"), record.ID)
}

func TestCallStoreWrapper_NotFoundDoesNotTrip(t *testing.T) {
	store := memory.NewMemoryCallStore()
	wrapper := NewCallStoreWrapper(store, testBreakerConfig(), zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := wrapper.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrCallNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, wrapper.Stats().State)
}

func TestCallStoreWrapper_OpensAfterBackendFailures(t *testing.T) {
	backend := &flakyStore{failing: true}
	// The breaker fires its state-change callback on a separate goroutine,
	// which can log after this test returns; a zaptest logger would panic.
	wrapper := NewCallStoreWrapper(backend, testBreakerConfig(), zap.NewNop().Sugar())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.Error(t, wrapper.Merge(ctx, "call-1", domain.CallPatch{}))
	}
	assert.Equal(t, circuitbreaker.StateOpen, wrapper.Stats().State)

	// Open breaker rejects without touching the backend.
	err := wrapper.Merge(ctx, "call-1", domain.CallPatch{})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
