package services

import (
	"context"
	"fmt"
	"sync"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
)

// fakePeerConnection records every negotiation call so tests can assert on
// call order and duplicate suppression. Callback registration is thread-safe
// because the real transport fires handlers from its own goroutines.
type fakePeerConnection struct {
	mu sync.Mutex

	offerSDP  string
	answerSDP string

	localDesc  *domain.SessionDescription
	remoteDesc *domain.SessionDescription

	remoteSetCalls int
	applied        []domain.ICECandidate
	closed         bool

	audioEnabled bool
	videoEnabled bool

	onCandidate func(domain.ICECandidate)
	onTrack     func(domain.RemoteTrack)
	onState     func(domain.ConnectionState)

	failCreateOffer bool
	failSetRemote   bool
}

func newFakePeerConnection() *fakePeerConnection {
	return &fakePeerConnection{
		offerSDP:     "v=0 fake-offer",
		answerSDP:    "v=0 fake-answer",
		audioEnabled: true,
		videoEnabled: true,
	}
}

func (f *fakePeerConnection) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateOffer {
		return domain.SessionDescription{}, fmt.Errorf("transport refused offer")
	}
	return domain.SessionDescription{Type: "offer", SDP: f.offerSDP}, nil
}

func (f *fakePeerConnection) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "answer", SDP: f.answerSDP}, nil
}

func (f *fakePeerConnection) SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localDesc = &desc
	return nil
}

func (f *fakePeerConnection) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSetRemote {
		return fmt.Errorf("transport refused remote description")
	}
	f.remoteDesc = &desc
	f.remoteSetCalls++
	return nil
}

func (f *fakePeerConnection) HasRemoteDescription() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteDesc != nil
}

func (f *fakePeerConnection) AddICECandidate(ctx context.Context, c domain.ICECandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, c)
	return nil
}

func (f *fakePeerConnection) OnICECandidate(fn func(domain.ICECandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakePeerConnection) OnTrack(fn func(domain.RemoteTrack)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakePeerConnection) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakePeerConnection) SetAudioEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioEnabled = enabled
}

func (f *fakePeerConnection) SetVideoEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoEnabled = enabled
}

func (f *fakePeerConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePeerConnection) fireCandidate(c domain.ICECandidate) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (f *fakePeerConnection) fireTrack(t domain.RemoteTrack) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func (f *fakePeerConnection) fireState(s domain.ConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (f *fakePeerConnection) remoteSetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteSetCalls
}

func (f *fakePeerConnection) appliedCandidates() []domain.ICECandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ICECandidate(nil), f.applied...)
}

func (f *fakePeerConnection) audioState() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioEnabled
}

func (f *fakePeerConnection) videoState() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.videoEnabled
}

func (f *fakePeerConnection) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeConnector hands out one fresh fakePeerConnection per Connect call and
// keeps them all for later inspection.
type fakeConnector struct {
	mu          sync.Mutex
	connections []*fakePeerConnection
	connectErr  error
	attempts    int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{}
}

func (c *fakeConnector) Connect(ctx context.Context) (ports.PeerConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	pc := newFakePeerConnection()
	c.connections = append(c.connections, pc)
	return pc, nil
}

func (c *fakeConnector) setConnectErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

func (c *fakeConnector) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connections)
}

// attemptCount includes dials that were rejected with connectErr.
func (c *fakeConnector) attemptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *fakeConnector) connection(i int) *fakePeerConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.connections) {
		return nil
	}
	return c.connections[i]
}

// recordingMetrics counts lifecycle signals so tests can assert the session
// gauge stays balanced across reconnect cycles.
type recordingMetrics struct {
	mu                sync.Mutex
	joinedCalls       int
	leftCalls         int
	reconnectStarts   int
	reconnectFinishes int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{}
}

func (m *recordingMetrics) SessionJoined(domain.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinedCalls++
}

func (m *recordingMetrics) SessionLeft() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leftCalls++
}

func (m *recordingMetrics) ReconnectStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectStarts++
}

func (m *recordingMetrics) ReconnectFinished(bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectFinishes++
}

func (m *recordingMetrics) ConnectionStateChanged(domain.ConnectionState) {}

func (m *recordingMetrics) CandidatePublished(domain.CandidateSide) {}

func (m *recordingMetrics) joined() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joinedCalls
}

func (m *recordingMetrics) left() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leftCalls
}

func (m *recordingMetrics) reconnectStarted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectStarts
}
