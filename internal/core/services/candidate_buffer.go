package services

import (
	"sync"

	"peercall/internal/core/domain"
)

// CandidateBuffer holds remote ICE candidates that arrive before a remote
// description exists. Applying a candidate to the transport without a remote
// description fails, so early arrivals are parked here and replayed, in
// receipt order, immediately after the description is applied.
//
// Drain happens exactly once per negotiation. Once drained, Put reports false
// and the caller applies the candidate directly.
type CandidateBuffer struct {
	mu      sync.Mutex
	pending []domain.ICECandidate
	drained bool
}

func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{}
}

// Put appends a candidate. It reports false when the buffer has already been
// drained, in which case the candidate must be applied immediately instead.
func (b *CandidateBuffer) Put(c domain.ICECandidate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.drained {
		return false
	}
	b.pending = append(b.pending, c)
	return true
}

// Drain returns the buffered candidates in receipt order and empties the
// buffer. Subsequent calls return nil.
func (b *CandidateBuffer) Drain() []domain.ICECandidate {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.drained {
		return nil
	}
	b.drained = true
	out := b.pending
	b.pending = nil
	return out
}

func (b *CandidateBuffer) Drained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drained
}

func (b *CandidateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
