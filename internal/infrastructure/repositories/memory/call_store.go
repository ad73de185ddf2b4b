package memory

import (
	"context"
	"sync"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
)

// MemoryCallStore is an in-process CallStore used by tests and single-node
// deployments. Subscribers receive every committed write, in commit order,
// including their own; delivery runs on a per-subscriber goroutine so a slow
// callback never blocks writers or other subscribers.
type MemoryCallStore struct {
	mu      sync.Mutex
	calls   map[domain.CallID]*callState
	nextSub int
}

type callState struct {
	record     domain.CallRecord
	candidates map[domain.CandidateSide][]domain.ICECandidate

	recordSubs map[int]*dispatcher[*domain.CallRecord]
	candSubs   map[domain.CandidateSide]map[int]*dispatcher[domain.ICECandidate]
}

func NewMemoryCallStore() ports.CallStore {
	return &MemoryCallStore{
		calls: make(map[domain.CallID]*callState),
	}
}

func newCallState(record domain.CallRecord) *callState {
	return &callState{
		record: record,
		candidates: map[domain.CandidateSide][]domain.ICECandidate{
			domain.SideOffer:  nil,
			domain.SideAnswer: nil,
		},
		recordSubs: make(map[int]*dispatcher[*domain.CallRecord]),
		candSubs: map[domain.CandidateSide]map[int]*dispatcher[domain.ICECandidate]{
			domain.SideOffer:  make(map[int]*dispatcher[domain.ICECandidate]),
			domain.SideAnswer: make(map[int]*dispatcher[domain.ICECandidate]),
		},
	}
}

func (s *MemoryCallStore) Create(ctx context.Context, record *domain.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.Status == "" {
		record.Status = domain.StatusCreated
	}
	s.calls[record.ID] = newCallState(*record.Clone())
	return nil
}

func (s *MemoryCallStore) Get(ctx context.Context, callID domain.CallID) (*domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return state.record.Clone(), nil
}

func (s *MemoryCallStore) Merge(ctx context.Context, callID domain.CallID, patch domain.CallPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.calls[callID]
	if !ok {
		return domain.ErrCallNotFound
	}

	if patch.Offer != nil {
		offer := *patch.Offer
		state.record.Offer = &offer
	}
	if patch.ClearOffer {
		state.record.Offer = nil
	}
	if patch.Answer != nil {
		answer := *patch.Answer
		state.record.Answer = &answer
	}
	if patch.ClearAnswer {
		state.record.Answer = nil
	}
	if patch.Status != nil {
		state.record.Status = *patch.Status
	}
	if patch.ClearCandidates {
		state.candidates[domain.SideOffer] = nil
		state.candidates[domain.SideAnswer] = nil
	}

	s.notifyRecordLocked(state)
	return nil
}

func (s *MemoryCallStore) Delete(ctx context.Context, callID domain.CallID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.calls[callID]
	if !ok {
		return domain.ErrCallNotFound
	}

	for _, d := range state.recordSubs {
		d.close()
	}
	for _, side := range state.candSubs {
		for _, d := range side {
			d.close()
		}
	}
	delete(s.calls, callID)
	return nil
}

func (s *MemoryCallStore) AddParticipant(ctx context.Context, callID domain.CallID, id domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.calls[callID]
	if !ok {
		return domain.ErrCallNotFound
	}
	if !state.record.HasParticipant(id) {
		state.record.Participants = append(state.record.Participants, id)
	}
	s.notifyRecordLocked(state)
	return nil
}

func (s *MemoryCallStore) RemoveParticipant(ctx context.Context, callID domain.CallID, id domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.calls[callID]
	if !ok {
		return domain.ErrCallNotFound
	}
	out := state.record.Participants[:0]
	for _, p := range state.record.Participants {
		if p != id {
			out = append(out, p)
		}
	}
	state.record.Participants = out
	s.notifyRecordLocked(state)
	return nil
}

func (s *MemoryCallStore) AppendCandidate(ctx context.Context, callID domain.CallID, side domain.CandidateSide, c domain.ICECandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.calls[callID]
	if !ok {
		return domain.ErrCallNotFound
	}
	state.candidates[side] = append(state.candidates[side], c)

	for _, d := range state.candSubs[side] {
		d.push(c)
	}
	return nil
}

func (s *MemoryCallStore) Candidates(ctx context.Context, callID domain.CallID, side domain.CandidateSide) ([]domain.ICECandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return append([]domain.ICECandidate(nil), state.candidates[side]...), nil
}

func (s *MemoryCallStore) Subscribe(ctx context.Context, callID domain.CallID, fn func(*domain.CallRecord)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}

	id := s.nextSub
	s.nextSub++

	d := newDispatcher(fn)
	state.recordSubs[id] = d

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if st, ok := s.calls[callID]; ok {
			if d, ok := st.recordSubs[id]; ok {
				d.close()
				delete(st.recordSubs, id)
			}
		}
	}, nil
}

func (s *MemoryCallStore) SubscribeCandidates(ctx context.Context, callID domain.CallID, side domain.CandidateSide, fn func(domain.ICECandidate)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}

	id := s.nextSub
	s.nextSub++

	d := newDispatcher(fn)
	state.candSubs[side][id] = d

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if st, ok := s.calls[callID]; ok {
			if d, ok := st.candSubs[side][id]; ok {
				d.close()
				delete(st.candSubs[side], id)
			}
		}
	}, nil
}

// notifyRecordLocked snapshots the record once per write and enqueues it to
// every subscriber while the write lock is held, preserving commit order.
func (s *MemoryCallStore) notifyRecordLocked(state *callState) {
	for _, d := range state.recordSubs {
		d.push(state.record.Clone())
	}
}
