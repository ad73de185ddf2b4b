package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall/internal/core/domain"
)

func newStoreWithCall(t *testing.T, id domain.CallID) *MemoryCallStore {
	t.Helper()
	store := NewMemoryCallStore().(*MemoryCallStore)
	require.NoError(t, store.Create(context.Background(), &domain.CallRecord{ID: id}))
	return store
}

func TestMemoryCallStore_CreateAndGet(t *testing.T) {
	store := newStoreWithCall(t, "call-1")

	record, err := store.Get(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallID("call-1"), record.ID)
	assert.Equal(t, domain.StatusCreated, record.Status)
	assert.Equal(t, 0, record.ParticipantCount())

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestMemoryCallStore_GetReturnsCopy(t *testing.T) {
	store := newStoreWithCall(t, "call-1")
	ctx := context.Background()

	record, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	record.Status = domain.CallStatus("mutated")
	record.Participants = append(record.Participants, "ghost")

	fresh, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, fresh.Status)
	assert.Equal(t, 0, fresh.ParticipantCount())
}

func TestMemoryCallStore_MergeTouchesOnlyNamedFields(t *testing.T) {
	store := newStoreWithCall(t, "call-1")
	ctx := context.Background()

	offer := domain.SessionDescription{Type: "offer", SDP: "o"}
	require.NoError(t, store.Merge(ctx, "call-1", domain.CallPatch{
		Offer:  &offer,
		Status: domain.StatusPatch(domain.StatusOfferPosted),
	}))

	// A disjoint patch must not clobber the offer.
	answer := domain.SessionDescription{Type: "answer", SDP: "a"}
	require.NoError(t, store.Merge(ctx, "call-1", domain.CallPatch{
		Answer: &answer,
	}))

	record, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, record.Offer)
	assert.Equal(t, "o", record.Offer.SDP)
	require.NotNil(t, record.Answer)
	assert.Equal(t, "a", record.Answer.SDP)
	assert.Equal(t, domain.StatusOfferPosted, record.Status)
}

func TestMemoryCallStore_MergeClears(t *testing.T) {
	store := newStoreWithCall(t, "call-1")
	ctx := context.Background()

	offer := domain.SessionDescription{Type: "offer", SDP: "o"}
	answer := domain.SessionDescription{Type: "answer", SDP: "a"}
	require.NoError(t, store.Merge(ctx, "call-1", domain.CallPatch{Offer: &offer, Answer: &answer}))
	require.NoError(t, store.AppendCandidate(ctx, "call-1", domain.SideOffer, domain.ICECandidate{Candidate: "c1"}))
	require.NoError(t, store.AppendCandidate(ctx, "call-1", domain.SideAnswer, domain.ICECandidate{Candidate: "c2"}))

	require.NoError(t, store.Merge(ctx, "call-1", domain.CallPatch{
		ClearOffer:      true,
		ClearAnswer:     true,
		ClearCandidates: true,
		Status:          domain.StatusPatch(domain.StatusCreated),
	}))

	record, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Nil(t, record.Offer)
	assert.Nil(t, record.Answer)

	for _, side := range []domain.CandidateSide{domain.SideOffer, domain.SideAnswer} {
		cands, err := store.Candidates(ctx, "call-1", side)
		require.NoError(t, err)
		assert.Empty(t, cands)
	}
}

func TestMemoryCallStore_Participants(t *testing.T) {
	store := newStoreWithCall(t, "call-1")
	ctx := context.Background()

	require.NoError(t, store.AddParticipant(ctx, "call-1", "p-1"))
	require.NoError(t, store.AddParticipant(ctx, "call-1", "p-2"))
	// Re-adding is idempotent.
	require.NoError(t, store.AddParticipant(ctx, "call-1", "p-1"))

	record, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, 2, record.ParticipantCount())

	require.NoError(t, store.RemoveParticipant(ctx, "call-1", "p-1"))
	// Removing an absent participant is a no-op.
	require.NoError(t, store.RemoveParticipant(ctx, "call-1", "p-1"))

	record, err = store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, 1, record.ParticipantCount())
	assert.True(t, record.HasParticipant("p-2"))
}

func TestMemoryCallStore_CandidateSidesAreSegregated(t *testing.T) {
	store := newStoreWithCall(t, "call-1")
	ctx := context.Background()

	require.NoError(t, store.AppendCandidate(ctx, "call-1", domain.SideOffer, domain.ICECandidate{Candidate: "from-initiator"}))
	require.NoError(t, store.AppendCandidate(ctx, "call-1", domain.SideAnswer, domain.ICECandidate{Candidate: "from-responder"}))

	offerSide, err := store.Candidates(ctx, "call-1", domain.SideOffer)
	require.NoError(t, err)
	require.Len(t, offerSide, 1)
	assert.Equal(t, "from-initiator", offerSide[0].Candidate)

	answerSide, err := store.Candidates(ctx, "call-1", domain.SideAnswer)
	require.NoError(t, err)
	require.Len(t, answerSide, 1)
	assert.Equal(t, "from-responder", answerSide[0].Candidate)
}

func TestMemoryCallStore_SubscribeDeliversInCommitOrder(t *testing.T) {
	store := newStoreWithCall(t, "call-1")
	ctx := context.Background()

	var mu sync.Mutex
	var statuses []domain.CallStatus
	cancel, err := store.Subscribe(ctx, "call-1", func(rec *domain.CallRecord) {
		mu.Lock()
		statuses = append(statuses, rec.Status)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	for _, s := range []domain.CallStatus{domain.StatusOfferPosted, domain.StatusAnswerPosted, domain.StatusCreated} {
		require.NoError(t, store.Merge(ctx, "call-1", domain.CallPatch{Status: domain.StatusPatch(s)}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.CallStatus{
		domain.StatusOfferPosted,
		domain.StatusAnswerPosted,
		domain.StatusCreated,
	}, statuses)
}

func TestMemoryCallStore_SubscribeCancelStopsDelivery(t *testing.T) {
	store := newStoreWithCall(t, "call-1")
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	cancel, err := store.Subscribe(ctx, "call-1", func(*domain.CallRecord) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, store.Merge(ctx, "call-1", domain.CallPatch{Status: domain.StatusPatch(domain.StatusOfferPosted)}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, store.Merge(ctx, "call-1", domain.CallPatch{Status: domain.StatusPatch(domain.StatusAnswerPosted)}))

	assert.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count > 1
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestMemoryCallStore_SubscribeCandidates(t *testing.T) {
	store := newStoreWithCall(t, "call-1")
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	cancel, err := store.SubscribeCandidates(ctx, "call-1", domain.SideAnswer, func(c domain.ICECandidate) {
		mu.Lock()
		seen = append(seen, c.Candidate)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	// The other side's appends must not leak onto this subscription.
	require.NoError(t, store.AppendCandidate(ctx, "call-1", domain.SideOffer, domain.ICECandidate{Candidate: "wrong-side"}))
	require.NoError(t, store.AppendCandidate(ctx, "call-1", domain.SideAnswer, domain.ICECandidate{Candidate: "first"}))
	require.NoError(t, store.AppendCandidate(ctx, "call-1", domain.SideAnswer, domain.ICECandidate{Candidate: "second"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, seen)
}

func TestMemoryCallStore_SlowSubscriberDoesNotBlockWriters(t *testing.T) {
	store := newStoreWithCall(t, "call-1")
	ctx := context.Background()

	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0
	cancel, err := store.Subscribe(ctx, "call-1", func(*domain.CallRecord) {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	// With the subscriber stalled, writes must still complete promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			store.Merge(ctx, "call-1", domain.CallPatch{Status: domain.StatusPatch(domain.StatusOfferPosted)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked behind a slow subscriber")
	}

	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 10
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryCallStore_Delete(t *testing.T) {
	store := newStoreWithCall(t, "call-1")
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx, "call-1"))
	_, err := store.Get(ctx, "call-1")
	assert.ErrorIs(t, err, domain.ErrCallNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "call-1"), domain.ErrCallNotFound)
}
