package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/retry"
	"peercall/pkg/tracing"
	"peercall/pkg/utils"

	"go.uber.org/zap"
)

// CoordinatorConfig tunes session supervision. Reconnection uses exponential
// backoff with a max-attempts ceiling; an unbounded retry loop is deliberately
// not supported.
type CoordinatorConfig struct {
	ReconnectMaxAttempts  int
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMultiplier   float64
	ReconnectJitter       bool

	// OfferWaitTimeout bounds how long a responder waits for the initiator's
	// offer to appear before the session is treated as failed.
	OfferWaitTimeout time.Duration

	EventQueueSize int
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		ReconnectMaxAttempts:  5,
		ReconnectInitialDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:     10 * time.Second,
		ReconnectMultiplier:   2.0,
		ReconnectJitter:       true,
		OfferWaitTimeout:      30 * time.Second,
		EventQueueSize:        256,
	}
}

// SessionCoordinator binds role resolution, negotiation and candidate
// buffering to a call identifier, manages participant membership against the
// call store, and supervises reconnection.
type SessionCoordinator struct {
	store     ports.CallStore
	connector ports.PeerConnector
	roles     *RoleResolver
	cfg       CoordinatorConfig
	metrics   ports.SessionMetrics
	logger    *zap.SugaredLogger
}

func NewSessionCoordinator(
	store ports.CallStore,
	connector ports.PeerConnector,
	cfg CoordinatorConfig,
	metrics ports.SessionMetrics,
	logger *zap.SugaredLogger,
) *SessionCoordinator {
	if metrics == nil {
		metrics = NopSessionMetrics{}
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = DefaultCoordinatorConfig().EventQueueSize
	}
	return &SessionCoordinator{
		store:     store,
		connector: connector,
		roles:     NewRoleResolver(store),
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
	}
}

// Session is one participant's handle on a call. All store notifications,
// transport events and user actions are serialized onto a single loop
// goroutine per session; no two callbacks for the same session ever run
// concurrently.
type Session struct {
	participantID domain.ParticipantID
	callID        domain.CallID
	coord         *SessionCoordinator
	logger        *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	events chan any
	leave  chan leaveEvent
	states chan domain.ConnectionState
	tracks chan domain.RemoteTrack
	done   chan struct{}

	// Everything below is owned by the loop goroutine (the initial attach
	// runs before the loop starts, the reconnect attach runs inside it).
	epoch        int
	engine       *NegotiationEngine
	unsubs       []func()
	reconnecting bool
	closed       bool
	offerTimer   *time.Timer
	seen         map[string]struct{}

	mu   sync.Mutex
	info domain.ParticipantSession
}

// Internal loop events. Epoch-tagged events from a torn-down connection or a
// cancelled subscription are dropped by the loop.
type recordEvent struct {
	epoch  int
	record *domain.CallRecord
}

type remoteCandidateEvent struct {
	epoch     int
	candidate domain.ICECandidate
}

type localCandidateEvent struct {
	epoch     int
	candidate domain.ICECandidate
}

type transportStateEvent struct {
	epoch int
	state domain.ConnectionState
}

type trackEvent struct {
	epoch int
	track domain.RemoteTrack
}

type offerTimeoutEvent struct {
	epoch int
}

type toggleEvent struct {
	audio   bool
	enabled bool
}

// leaveEvent travels on its own channel, not the event queue, so a leave can
// preempt the loop even while it sits in a reconnection backoff wait.
type leaveEvent struct {
	done chan error
}

// Join resolves the local role for callID, wires a fresh negotiation engine
// to the store, registers the participant, runs the role's half of the
// offer/answer handshake and starts the session loop.
func (c *SessionCoordinator) Join(ctx context.Context, callID domain.CallID) (*Session, error) {
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		participantID: domain.ParticipantID(utils.GenerateParticipantID()),
		callID:        callID,
		coord:         c,
		ctx:           sctx,
		cancel:        cancel,
		events:        make(chan any, c.cfg.EventQueueSize),
		leave:         make(chan leaveEvent, 1),
		states:        make(chan domain.ConnectionState, 16),
		tracks:        make(chan domain.RemoteTrack, 8),
		done:          make(chan struct{}),
		seen:          make(map[string]struct{}),
	}
	s.logger = c.logger.With("call_id", callID, "participant_id", s.participantID)

	if err := c.attach(ctx, s); err != nil {
		cancel()
		return nil, err
	}
	c.metrics.SessionJoined(s.Role())

	go s.run()
	return s, nil
}

// attach performs one join cycle for the session's next epoch: fresh role
// resolution, fresh connection, fresh subscriptions. It is called once from
// Join and again, inside the loop, for every reconnection attempt.
func (c *SessionCoordinator) attach(ctx context.Context, s *Session) (err error) {
	s.epoch++
	epoch := s.epoch

	ctx, span := tracing.TraceNegotiation(ctx, "attach", string(s.callID), string(s.participantID))
	defer func() {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()
	}()

	role, err := c.roles.Resolve(ctx, s.callID)
	if err != nil {
		return err
	}
	tracing.AddSpanAttributes(ctx, tracing.RoleKey.String(string(role)))

	pc, err := c.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}

	var unsubs []func()
	participantAdded := false
	defer func() {
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			pc.Close()
			if participantAdded {
				if rmErr := c.store.RemoveParticipant(ctx, s.callID, s.participantID); rmErr != nil {
					s.logger.Warnw("rollback of participant add failed", "error", rmErr)
				}
			}
		}
	}()

	engine := NewNegotiationEngine(role, pc, s.logger.With("role", role))

	pc.OnICECandidate(func(cand domain.ICECandidate) {
		s.post(localCandidateEvent{epoch: epoch, candidate: cand})
	})
	pc.OnConnectionStateChange(func(state domain.ConnectionState) {
		s.post(transportStateEvent{epoch: epoch, state: state})
	})
	pc.OnTrack(func(t domain.RemoteTrack) {
		s.post(trackEvent{epoch: epoch, track: t})
	})

	// The initiator watches the record for the answer; the responder watches
	// it for a late-arriving offer. Both subscribe to the opposite side's
	// candidate collection.
	unsubRecord, err := c.store.Subscribe(s.ctx, s.callID, func(rec *domain.CallRecord) {
		s.post(recordEvent{epoch: epoch, record: rec})
	})
	if err != nil {
		return fmt.Errorf("subscribe call record: %w", err)
	}
	unsubs = append(unsubs, unsubRecord)

	unsubCands, err := c.store.SubscribeCandidates(s.ctx, s.callID, role.RemoteSide(), func(cand domain.ICECandidate) {
		s.post(remoteCandidateEvent{epoch: epoch, candidate: cand})
	})
	if err != nil {
		return fmt.Errorf("subscribe candidates: %w", err)
	}
	unsubs = append(unsubs, unsubCands)

	if err = c.store.AddParticipant(ctx, s.callID, s.participantID); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	participantAdded = true

	s.engine = engine
	s.unsubs = unsubs
	s.setInfo(role, domain.ConnectionNew)

	switch role {
	case domain.RoleInitiator:
		var offer domain.SessionDescription
		offer, err = engine.CreateOffer(ctx)
		if err != nil {
			return err
		}
		err = c.store.Merge(ctx, s.callID, domain.CallPatch{
			Offer:  &offer,
			Status: domain.StatusPatch(domain.StatusOfferPosted),
		})
		if err != nil {
			return fmt.Errorf("publish offer: %w", err)
		}
		s.logger.Infow("offer published")

	case domain.RoleResponder:
		var record *domain.CallRecord
		record, err = c.store.Get(ctx, s.callID)
		if err != nil {
			return err
		}
		if err = c.respond(ctx, s, record); errors.Is(err, domain.ErrOfferNotReady) {
			// Joined before the initiator's offer landed. Wait for the
			// record subscription to deliver it, bounded.
			err = nil
			s.logger.Infow("offer not posted yet, waiting")
			s.offerTimer = time.AfterFunc(c.cfg.OfferWaitTimeout, func() {
				s.post(offerTimeoutEvent{epoch: epoch})
			})
		} else if err != nil {
			return err
		}
	}

	return nil
}

// respond runs the responder's half of the handshake: feed the backlog of
// initiator candidates into the buffer, apply the offer (which drains the
// buffer), then publish the answer. Returns ErrOfferNotReady when the record
// carries no offer yet; callers decide whether that means wait or give up.
func (c *SessionCoordinator) respond(ctx context.Context, s *Session, record *domain.CallRecord) error {
	if record.Offer == nil {
		return domain.ErrOfferNotReady
	}

	backlog, err := c.store.Candidates(ctx, s.callID, domain.SideOffer)
	if err != nil {
		return fmt.Errorf("fetch buffered candidates: %w", err)
	}
	for _, cand := range backlog {
		if !s.markSeen(cand) {
			continue
		}
		if err := s.engine.AddRemoteCandidate(ctx, cand); err != nil {
			s.logger.Warnw("failed to stage buffered candidate", "error", err)
		}
	}

	answer, err := s.engine.AcceptOffer(ctx, *record.Offer)
	if err != nil {
		return err
	}

	if err := c.store.Merge(ctx, s.callID, domain.CallPatch{
		Answer: &answer,
		Status: domain.StatusPatch(domain.StatusAnswerPosted),
	}); err != nil {
		return fmt.Errorf("publish answer: %w", err)
	}
	s.logger.Infow("answer published")
	return nil
}

// removeAndCleanup removes the participant and, when the call is fully empty,
// resets the negotiation state so a future join starts clean.
func (c *SessionCoordinator) removeAndCleanup(ctx context.Context, callID domain.CallID, id domain.ParticipantID) error {
	if err := c.store.RemoveParticipant(ctx, callID, id); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}

	record, err := c.store.Get(ctx, callID)
	if err != nil {
		return err
	}
	if record.ParticipantCount() > 0 {
		// Leave negotiation state intact for the remaining participant.
		return nil
	}

	return c.store.Merge(ctx, callID, domain.CallPatch{
		ClearOffer:      true,
		ClearAnswer:     true,
		ClearCandidates: true,
		Status:          domain.StatusPatch(domain.StatusCreated),
	})
}

func (s *Session) ID() domain.ParticipantID { return s.participantID }
func (s *Session) CallID() domain.CallID    { return s.callID }

// Snapshot returns the current session metadata.
func (s *Session) Snapshot() domain.ParticipantSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *Session) Role() domain.Role {
	return s.Snapshot().Role
}

// ConnectionStates is the observable connectivity stream. Slow consumers see
// the most recent transitions; intermediate ones may be dropped.
func (s *Session) ConnectionStates() <-chan domain.ConnectionState {
	return s.states
}

// RemoteTracks surfaces remote media track handles as the transport raises
// them.
func (s *Session) RemoteTracks() <-chan domain.RemoteTrack {
	return s.tracks
}

// Done is closed once the session loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Leave closes the negotiation engine, removes the participant and, when the
// call is left empty, clears the shared negotiation state.
func (s *Session) Leave(ctx context.Context) error {
	select {
	case <-s.ctx.Done():
		return domain.ErrSessionClosed
	default:
	}

	done := make(chan error, 1)
	select {
	case s.leave <- leaveEvent{done: done}:
	case <-s.ctx.Done():
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-s.ctx.Done():
		// The loop replies before cancelling itself, so prefer a reply that
		// raced with the shutdown over reporting the session closed.
		select {
		case err := <-done:
			return err
		default:
			return domain.ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) SetAudioEnabled(enabled bool) {
	s.post(toggleEvent{audio: true, enabled: enabled})
}

func (s *Session) SetVideoEnabled(enabled bool) {
	s.post(toggleEvent{audio: false, enabled: enabled})
}

func (s *Session) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) run() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			if !s.closed {
				s.detach(context.Background())
			}
			return
		case ev := <-s.leave:
			ev.done <- s.finishLeave()
			s.cancel()
			return
		case ev := <-s.events:
			switch ev := ev.(type) {
			case recordEvent:
				if ev.epoch != s.epoch {
					continue
				}
				s.handleRecord(ev.record)
			case remoteCandidateEvent:
				if ev.epoch != s.epoch {
					continue
				}
				s.handleRemoteCandidate(ev.candidate)
			case localCandidateEvent:
				if ev.epoch != s.epoch {
					continue
				}
				s.publishLocalCandidate(ev.candidate)
			case transportStateEvent:
				if ev.epoch != s.epoch {
					continue
				}
				s.handleTransportState(ev.state)
			case trackEvent:
				if ev.epoch != s.epoch {
					continue
				}
				s.pushTrack(ev.track)
			case offerTimeoutEvent:
				if ev.epoch != s.epoch {
					continue
				}
				s.handleOfferTimeout()
			case toggleEvent:
				if ev.audio {
					s.engine.Connection().SetAudioEnabled(ev.enabled)
				} else {
					s.engine.Connection().SetVideoEnabled(ev.enabled)
				}
			}
		}
	}
}

func (s *Session) handleRecord(record *domain.CallRecord) {
	switch s.engine.Role() {
	case domain.RoleResponder:
		if s.engine.State() != NegotiationNew {
			return
		}
		err := s.coord.respond(s.ctx, s, record)
		if errors.Is(err, domain.ErrOfferNotReady) {
			// Offer still missing from this update; keep the timer running.
			return
		}
		s.stopOfferTimer()
		if err != nil {
			s.logger.Errorw("responding to offer failed", "error", err)
			s.fail()
		}
	case domain.RoleInitiator:
		if record.Answer != nil {
			if err := s.engine.AcceptAnswer(s.ctx, *record.Answer); err != nil {
				s.logger.Errorw("applying answer failed", "error", err)
				s.fail()
			}
		}
	}
}

func (s *Session) handleRemoteCandidate(cand domain.ICECandidate) {
	if !s.markSeen(cand) {
		return
	}
	if err := s.engine.AddRemoteCandidate(s.ctx, cand); err != nil {
		s.logger.Warnw("failed to apply remote candidate", "error", err)
	}
}

func (s *Session) publishLocalCandidate(cand domain.ICECandidate) {
	side := s.engine.Role().LocalSide()
	if err := s.coord.store.AppendCandidate(s.ctx, s.callID, side, cand); err != nil {
		s.logger.Warnw("failed to publish local candidate", "side", side, "error", err)
		return
	}
	s.coord.metrics.CandidatePublished(side)
}

func (s *Session) handleTransportState(state domain.ConnectionState) {
	surfaced, failed := s.engine.HandleTransportState(state)

	s.setInfoState(surfaced)
	s.coord.metrics.ConnectionStateChanged(surfaced)
	s.pushState(surfaced)

	if failed && !s.reconnecting {
		s.reconnect()
	}
}

func (s *Session) handleOfferTimeout() {
	if s.engine.Role() != domain.RoleResponder || s.engine.State() != NegotiationNew {
		return
	}
	s.logger.Warnw("offer never arrived", "timeout", s.coord.cfg.OfferWaitTimeout)
	s.fail()
}

// fail surfaces a Failed transition and hands over to the reconnection
// policy, exactly once per transition.
func (s *Session) fail() {
	s.setInfoState(domain.ConnectionFailed)
	s.coord.metrics.ConnectionStateChanged(domain.ConnectionFailed)
	s.pushState(domain.ConnectionFailed)

	if !s.reconnecting {
		s.reconnect()
	}
}

// reconnect tears down the current engine and re-runs the join cycle from
// scratch. It executes on the loop goroutine, so no competing event can
// start an overlapping cycle while it is in flight.
func (s *Session) reconnect() {
	s.reconnecting = true
	s.coord.metrics.ReconnectStarted()
	s.logger.Infow("reconnecting")

	s.detach(s.ctx)

	cfg := retry.Config{
		Enabled:      true,
		MaxAttempts:  s.coord.cfg.ReconnectMaxAttempts,
		InitialDelay: s.coord.cfg.ReconnectInitialDelay,
		MaxDelay:     s.coord.cfg.ReconnectMaxDelay,
		Multiplier:   s.coord.cfg.ReconnectMultiplier,
		Jitter:       s.coord.cfg.ReconnectJitter,
		// A denied media device does not heal on its own; dialing again only
		// delays the terminal Failed transition.
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, domain.ErrMediaAccessDenied)
		},
	}

	// Leave must cut the backoff schedule short. The loop goroutine is busy
	// in Retry here, so a watcher steals the leave request and cancels the
	// retry context on its behalf.
	rctx, rcancel := context.WithCancel(s.ctx)
	pending := make(chan leaveEvent, 1)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case ev := <-s.leave:
			pending <- ev
			rcancel()
		case <-rctx.Done():
		}
	}()

	err := retry.Retry(rctx, cfg, func() error {
		return s.coord.attach(rctx, s)
	})
	rcancel()
	<-watchDone
	s.coord.metrics.ReconnectFinished(err == nil)

	select {
	case ev := <-pending:
		ev.done <- s.finishLeave()
		s.cancel()
		return
	default:
	}

	if err != nil {
		s.logger.Errorw("reconnection exhausted", "error", err)
		s.setInfoState(domain.ConnectionFailed)
		s.pushState(domain.ConnectionFailed)
		s.coord.metrics.SessionLeft()
		s.closed = true
		s.cancel()
		return
	}

	s.reconnecting = false
	s.logger.Infow("reconnected", "role", s.engine.Role())
}

// detach releases subscriptions, the engine and the store membership for the
// current epoch. Safe against partially-constructed state.
func (s *Session) detach(ctx context.Context) {
	s.stopOfferTimer()

	for _, u := range s.unsubs {
		u()
	}
	s.unsubs = nil

	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.logger.Warnw("engine close failed", "error", err)
		}
	}

	s.seen = make(map[string]struct{})

	if err := s.coord.removeAndCleanup(ctx, s.callID, s.participantID); err != nil {
		s.logger.Warnw("participant cleanup failed", "error", err)
	}
}

func (s *Session) finishLeave() error {
	s.closed = true
	s.stopOfferTimer()

	for _, u := range s.unsubs {
		u()
	}
	s.unsubs = nil

	var closeErr error
	if s.engine != nil {
		closeErr = s.engine.Close()
	}

	s.setInfoState(domain.ConnectionClosed)
	s.pushState(domain.ConnectionClosed)
	s.coord.metrics.SessionLeft()

	if err := s.coord.removeAndCleanup(context.Background(), s.callID, s.participantID); err != nil {
		return err
	}
	return closeErr
}

func (s *Session) stopOfferTimer() {
	if s.offerTimer != nil {
		s.offerTimer.Stop()
		s.offerTimer = nil
	}
}

func (s *Session) markSeen(cand domain.ICECandidate) bool {
	key := cand.Candidate
	if cand.SDPMid != nil {
		key += "|" + *cand.SDPMid
	}
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *Session) setInfo(role domain.Role, state domain.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = domain.ParticipantSession{
		ParticipantID:   s.participantID,
		CallID:          s.callID,
		Role:            role,
		ConnectionState: state,
		JoinedAt:        time.Now(),
	}
}

func (s *Session) setInfoState(state domain.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.ConnectionState = state
}

func (s *Session) pushState(state domain.ConnectionState) {
	for {
		select {
		case s.states <- state:
			return
		default:
		}
		// Full: drop the oldest transition and retry.
		select {
		case <-s.states:
		default:
		}
	}
}

func (s *Session) pushTrack(t domain.RemoteTrack) {
	select {
	case s.tracks <- t:
	default:
		s.logger.Warnw("remote track dropped, consumer too slow", "track_id", t.ID)
	}
}

// NopSessionMetrics discards every signal.
type NopSessionMetrics struct{}

func (NopSessionMetrics) SessionJoined(domain.Role)                    {}
func (NopSessionMetrics) SessionLeft()                                 {}
func (NopSessionMetrics) ReconnectStarted()                            {}
func (NopSessionMetrics) ReconnectFinished(bool)                       {}
func (NopSessionMetrics) ConnectionStateChanged(domain.ConnectionState) {}
func (NopSessionMetrics) CandidatePublished(domain.CandidateSide)      {}
