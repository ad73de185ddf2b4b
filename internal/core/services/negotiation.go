package services

import (
	"context"
	"fmt"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

	"go.uber.org/zap"
)

// NegotiationState tracks the offer/answer handshake for one session.
type NegotiationState string

const (
	NegotiationNew                  NegotiationState = "new"
	NegotiationLocalOfferSet        NegotiationState = "local-offer-set"
	NegotiationRemoteOfferReceived  NegotiationState = "remote-offer-received"
	NegotiationLocalAnswerSet       NegotiationState = "local-answer-set"
	NegotiationStable               NegotiationState = "stable"
	NegotiationFailed               NegotiationState = "failed"
	NegotiationClosed               NegotiationState = "closed"
)

// NegotiationEngine owns the peer-connection handle and drives the
// offer/answer handshake for one session. Exactly one local description is
// created per engine; there is no renegotiation.
//
// The engine is not safe for concurrent use. All methods must be invoked from
// the single session loop; transport callbacks are routed through that loop
// by the coordinator rather than calling the engine directly.
type NegotiationEngine struct {
	role   domain.Role
	pc     ports.PeerConnection
	buffer *CandidateBuffer
	state  NegotiationState
	closed bool
	logger *zap.SugaredLogger
}

func NewNegotiationEngine(role domain.Role, pc ports.PeerConnection, logger *zap.SugaredLogger) *NegotiationEngine {
	return &NegotiationEngine{
		role:   role,
		pc:     pc,
		buffer: NewCandidateBuffer(),
		state:  NegotiationNew,
		logger: logger,
	}
}

func (e *NegotiationEngine) Role() domain.Role        { return e.role }
func (e *NegotiationEngine) State() NegotiationState  { return e.state }
func (e *NegotiationEngine) Connection() ports.PeerConnection { return e.pc }

// CreateOffer produces the local description for the initiating side. A
// second call, or a call on a responder engine, is rejected.
func (e *NegotiationEngine) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if e.role != domain.RoleInitiator {
		return domain.SessionDescription{}, fmt.Errorf("create offer as %s: %w", e.role, domain.ErrInvalidTransition)
	}
	if e.state != NegotiationNew {
		return domain.SessionDescription{}, fmt.Errorf("create offer in state %s: %w", e.state, domain.ErrInvalidTransition)
	}

	offer, err := e.pc.CreateOffer(ctx)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(ctx, offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}

	e.state = NegotiationLocalOfferSet
	e.logger.Debugw("local offer set", "role", e.role)
	return offer, nil
}

// AcceptOffer applies the remote offer on the responding side, replays every
// candidate buffered while the offer was still in flight, then creates and
// applies the local answer. The engine is Stable on return.
func (e *NegotiationEngine) AcceptOffer(ctx context.Context, remote domain.SessionDescription) (domain.SessionDescription, error) {
	if e.role != domain.RoleResponder {
		return domain.SessionDescription{}, fmt.Errorf("accept offer as %s: %w", e.role, domain.ErrInvalidTransition)
	}
	if e.state != NegotiationNew {
		return domain.SessionDescription{}, fmt.Errorf("accept offer in state %s: %w", e.state, domain.ErrInvalidTransition)
	}

	if err := e.pc.SetRemoteDescription(ctx, remote); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	e.state = NegotiationRemoteOfferReceived

	e.replayBuffered(ctx)

	answer, err := e.pc.CreateAnswer(ctx)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(ctx, answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	e.state = NegotiationLocalAnswerSet

	e.state = NegotiationStable
	e.logger.Debugw("answer applied, negotiation stable")
	return answer, nil
}

// AcceptAnswer applies the remote answer on the initiating side. Duplicate or
// late deliveries are silently ignored: once a remote description is set it
// must never be applied twice.
func (e *NegotiationEngine) AcceptAnswer(ctx context.Context, remote domain.SessionDescription) error {
	if e.role != domain.RoleInitiator {
		return fmt.Errorf("accept answer as %s: %w", e.role, domain.ErrInvalidTransition)
	}
	if e.pc.HasRemoteDescription() {
		e.logger.Debugw("duplicate answer ignored", "state", e.state)
		return nil
	}
	if e.state != NegotiationLocalOfferSet {
		e.logger.Debugw("answer ignored outside local-offer-set", "state", e.state)
		return nil
	}

	if err := e.pc.SetRemoteDescription(ctx, remote); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}

	e.replayBuffered(ctx)

	e.state = NegotiationStable
	e.logger.Debugw("remote answer applied, negotiation stable")
	return nil
}

// AddRemoteCandidate applies the candidate immediately when a remote
// description is set, otherwise parks it in the buffer.
func (e *NegotiationEngine) AddRemoteCandidate(ctx context.Context, c domain.ICECandidate) error {
	if e.closed {
		return nil
	}
	if !e.pc.HasRemoteDescription() {
		if e.buffer.Put(c) {
			return nil
		}
		// Buffer already drained; fall through and apply directly.
	}
	if err := e.pc.AddICECandidate(ctx, c); err != nil {
		return fmt.Errorf("add remote candidate: %w", err)
	}
	return nil
}

// HandleTransportState maps the transport's connectivity signal onto the
// surfaced contract. Disconnected, failed and closed all collapse to Failed,
// which is what triggers the coordinator's reconnection policy.
func (e *NegotiationEngine) HandleTransportState(s domain.ConnectionState) (domain.ConnectionState, bool) {
	switch s {
	case domain.ConnectionConnected:
		if e.state == NegotiationStable {
			e.logger.Debugw("transport connected")
		}
		return domain.ConnectionConnected, false
	case domain.ConnectionDisconnected, domain.ConnectionFailed, domain.ConnectionClosed:
		if e.closed {
			// Expected after Close; not a failure to repair.
			return domain.ConnectionClosed, false
		}
		e.state = NegotiationFailed
		return domain.ConnectionFailed, true
	default:
		return s, false
	}
}

// Close releases the underlying connection and local media. Idempotent.
func (e *NegotiationEngine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.state = NegotiationClosed
	return e.pc.Close()
}

func (e *NegotiationEngine) replayBuffered(ctx context.Context) {
	for _, c := range e.buffer.Drain() {
		if err := e.pc.AddICECandidate(ctx, c); err != nil {
			e.logger.Warnw("failed to apply buffered candidate", "error", err)
		}
	}
}
