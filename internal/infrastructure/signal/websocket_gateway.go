package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/core/services"
	"peercall/pkg/logger"
	"peercall/pkg/tracing"
	"peercall/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketGateway bridges browser clients to the call store. The browser owns
// its RTCPeerConnection; the gateway resolves its role, relays descriptions and
// candidates into the shared call document and streams remote updates back.
type WebSocketGateway struct {
	store  ports.CallStore
	roles  *services.RoleResolver
	tokens services.TokenService

	connections map[domain.ParticipantID]*websocket.Conn
	mu          sync.RWMutex

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

type SignalMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type DescriptionPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type CandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func NewWebSocketGateway(store ports.CallStore, tokens services.TokenService, logger *zap.SugaredLogger) *WebSocketGateway {
	return &WebSocketGateway{
		store:        store,
		roles:        services.NewRoleResolver(store),
		tokens:       tokens,
		connections:  make(map[domain.ParticipantID]*websocket.Conn),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// SetPingInterval sets ping interval for WebSocket connections
func (g *WebSocketGateway) SetPingInterval(interval time.Duration) {
	g.pingInterval = interval
}

// clientSession is the per-connection state built up by the join message.
type clientSession struct {
	callID        domain.CallID
	participantID domain.ParticipantID
	role          domain.Role
	joined        bool
	unsubs        []func()
}

// outboundQueue funnels writes from subscription goroutines to the single
// writer loop. A full buffer trips overflow and the connection is dropped:
// silently losing a call_record update (it may carry the answer) would stall
// the browser peer permanently, and blocking would deadlock the loop.
type outboundQueue struct {
	ch       chan any
	overflow chan struct{}
	once     sync.Once
}

func newOutboundQueue(size int) *outboundQueue {
	return &outboundQueue{
		ch:       make(chan any, size),
		overflow: make(chan struct{}),
	}
}

func (q *outboundQueue) push(data any) {
	select {
	case q.ch <- data:
	default:
		q.once.Do(func() { close(q.overflow) })
	}
}

func (g *WebSocketGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	rawCallID := r.URL.Query().Get("call_id")
	if err := validation.ValidateCallID(rawCallID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	callID := domain.CallID(rawCallID)
	rawParticipantID := r.URL.Query().Get("participant_id")
	if err := validation.ValidateParticipantID(rawParticipantID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	participantID := domain.ParticipantID(rawParticipantID)

	if g.tokens != nil {
		claims, err := g.tokens.ValidateCallToken(bearerToken(r))
		if err != nil || claims.CallID != callID {
			http.Error(w, "invalid call token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	g.mu.Lock()
	if old, ok := g.connections[participantID]; ok && old != nil {
		old.Close()
		g.logger.Infow("closing old connection for reconnecting participant", "participant_id", participantID)
	}
	g.connections[participantID] = conn
	g.mu.Unlock()

	scoped := logger.CallScope(g.logger, string(callID), string(participantID))
	scoped.Infow("participant connected")

	// Store and trace layers below only see the context, so the call scope
	// rides along in it.
	sessionCtx := logger.WithCall(context.Background(), string(callID), string(participantID))

	conn.SetReadDeadline(time.Now().Add(g.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(g.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(g.pingInterval)
	defer pingTicker.Stop()

	session := &clientSession{callID: callID, participantID: participantID}

	messageChan := make(chan SignalMessage, 10)
	// Store notifications arrive on subscription goroutines; they are funneled
	// through outbound so only this loop ever writes to the connection.
	outbound := newOutboundQueue(64)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg SignalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(g.readTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if err := g.handleMessage(sessionCtx, session, outbound, msg); err != nil {
				scoped.Infow("error handling message", "error", err)
				g.send(conn, map[string]any{"type": "error", "message": err.Error()})
			}

		case data := <-outbound.ch:
			if err := g.send(conn, data); err != nil {
				scoped.Infow("error writing to participant", "error", err)
				goto cleanup
			}

		case <-outbound.overflow:
			scoped.Warnw("outbound backlog overflowed, dropping slow client")
			goto cleanup

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				scoped.Infow("error sending ping", "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				scoped.Infow("error reading from participant", "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	g.mu.Lock()
	if g.connections[participantID] == conn {
		delete(g.connections, participantID)
	}
	g.mu.Unlock()

	g.teardown(sessionCtx, session)
	scoped.Infow("participant disconnected")
}

func (g *WebSocketGateway) handleMessage(ctx context.Context, session *clientSession, outbound *outboundQueue, msg SignalMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}

	ctx, span := tracing.TraceSignaling(ctx, msg.Type, string(session.callID))
	defer span.End()

	switch msg.Type {
	case "join":
		return g.handleJoin(ctx, session, outbound)
	case "offer":
		return g.handleDescription(ctx, session, msg, true)
	case "answer":
		return g.handleDescription(ctx, session, msg, false)
	case "ice_candidate":
		return g.handleCandidate(ctx, session, msg)
	case "leave":
		g.teardown(ctx, session)
		outbound.push(map[string]any{"type": "left"})
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

// handleJoin resolves the client's role, registers it on the call and wires
// the subscriptions that feed remote updates back down the socket.
func (g *WebSocketGateway) handleJoin(ctx context.Context, session *clientSession, outbound *outboundQueue) error {
	if session.joined {
		return fmt.Errorf("already joined")
	}

	role, err := g.roles.Resolve(ctx, session.callID)
	if err != nil {
		return fmt.Errorf("resolve role: %w", err)
	}
	session.role = role

	unsubRecord, err := g.store.Subscribe(ctx, session.callID, func(record *domain.CallRecord) {
		outbound.push(map[string]any{"type": "call_record", "payload": record})
	})
	if err != nil {
		return fmt.Errorf("subscribe call record: %w", err)
	}
	session.unsubs = append(session.unsubs, unsubRecord)

	unsubCands, err := g.store.SubscribeCandidates(ctx, session.callID, role.RemoteSide(), func(c domain.ICECandidate) {
		outbound.push(map[string]any{"type": "ice_candidate", "payload": c})
	})
	if err != nil {
		unsubRecord()
		session.unsubs = nil
		return fmt.Errorf("subscribe candidates: %w", err)
	}
	session.unsubs = append(session.unsubs, unsubCands)

	if err := g.store.AddParticipant(ctx, session.callID, session.participantID); err != nil {
		g.teardownSubs(session)
		return fmt.Errorf("add participant: %w", err)
	}
	session.joined = true

	record, err := g.store.Get(ctx, session.callID)
	if err != nil {
		return err
	}

	outbound.push(map[string]any{
		"type": "joined",
		"payload": map[string]any{
			"role":        role,
			"call_record": record,
		},
	})
	logger.FromContext(ctx, g.logger).Infow("participant joined call", "role", role)
	return nil
}

func (g *WebSocketGateway) handleDescription(ctx context.Context, session *clientSession, msg SignalMessage, isOffer bool) error {
	if !session.joined {
		return fmt.Errorf("join first")
	}

	var payload DescriptionPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid description payload: %w", err)
	}
	if err := validation.ValidateSDP(payload.SDP); err != nil {
		return err
	}

	desc := domain.SessionDescription{Type: payload.Type, SDP: payload.SDP}
	patch := domain.CallPatch{}
	if isOffer {
		if session.role != domain.RoleInitiator {
			return fmt.Errorf("only the initiator publishes the offer")
		}
		patch.Offer = &desc
		patch.Status = domain.StatusPatch(domain.StatusOfferPosted)
	} else {
		if session.role != domain.RoleResponder {
			return fmt.Errorf("only the responder publishes the answer")
		}
		patch.Answer = &desc
		patch.Status = domain.StatusPatch(domain.StatusAnswerPosted)
	}

	if err := g.store.Merge(ctx, session.callID, patch); err != nil {
		return fmt.Errorf("publish description: %w", err)
	}

	logger.FromContext(ctx, g.logger).Infow("description published",
		"offer", isOffer,
		"sdp_length", len(payload.SDP),
	)
	return nil
}

func (g *WebSocketGateway) handleCandidate(ctx context.Context, session *clientSession, msg SignalMessage) error {
	if !session.joined {
		return fmt.Errorf("join first")
	}

	var payload CandidatePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid ICE candidate payload: %w", err)
	}
	if payload.Candidate == "" {
		return fmt.Errorf("ICE candidate is required")
	}

	candidate := domain.ICECandidate{
		Candidate:        payload.Candidate,
		SDPMid:           payload.SDPMid,
		SDPMLineIndex:    payload.SDPMLineIndex,
		UsernameFragment: payload.UsernameFragment,
	}

	side := session.role.LocalSide()
	tracing.AddSpanAttributes(ctx, tracing.SideKey.String(string(side)))
	if err := g.store.AppendCandidate(ctx, session.callID, side, candidate); err != nil {
		return fmt.Errorf("publish candidate: %w", err)
	}

	logger.FromContext(ctx, g.logger).Debugw("candidate published", "side", side)
	return nil
}

// teardown releases subscriptions and call membership. When the departing
// client was the last participant the negotiation fields are cleared so the
// call can be rejoined from scratch.
func (g *WebSocketGateway) teardown(ctx context.Context, session *clientSession) {
	g.teardownSubs(session)

	if !session.joined {
		return
	}
	session.joined = false

	if err := g.store.RemoveParticipant(ctx, session.callID, session.participantID); err != nil {
		logger.FromContext(ctx, g.logger).Infow("error removing participant", "error", err)
		return
	}

	record, err := g.store.Get(ctx, session.callID)
	if err != nil || record.ParticipantCount() > 0 {
		return
	}
	if err := g.store.Merge(ctx, session.callID, domain.CallPatch{
		ClearOffer:      true,
		ClearAnswer:     true,
		ClearCandidates: true,
		Status:          domain.StatusPatch(domain.StatusCreated),
	}); err != nil {
		logger.FromContext(ctx, g.logger).Infow("error clearing empty call", "error", err)
	}
}

func (g *WebSocketGateway) teardownSubs(session *clientSession) {
	for _, u := range session.unsubs {
		u()
	}
	session.unsubs = nil
}

func (g *WebSocketGateway) send(conn *websocket.Conn, data any) error {
	conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
	return conn.WriteJSON(data)
}

// HealthCheck reports the gateway's connected participants for readiness
// probes and operator inspection.
func (g *WebSocketGateway) HealthCheck(w http.ResponseWriter, r *http.Request) {
	participants := g.ConnectedParticipants()

	response := map[string]any{
		"status":       "healthy",
		"timestamp":    time.Now().Unix(),
		"connections":  len(participants),
		"participants": participants,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (g *WebSocketGateway) ConnectedParticipants() []domain.ParticipantID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	participants := make([]domain.ParticipantID, 0, len(g.connections))
	for id := range g.connections {
		participants = append(participants, id)
	}
	return participants
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	return strings.TrimPrefix(header, "Bearer ")
}
