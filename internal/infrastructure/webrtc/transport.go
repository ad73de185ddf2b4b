package webrtc

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const pliInterval = 3 * time.Second

// TransportConfig carries WebRTC engine configuration.
type TransportConfig struct {
	ICEServers []webrtc.ICEServer
}

// Connector creates pion-backed peer connections with local media attached.
type Connector struct {
	config TransportConfig
	media  MediaSource
	logger *zap.SugaredLogger
}

func NewConnector(config TransportConfig, media MediaSource, logger *zap.SugaredLogger) *Connector {
	return &Connector{
		config: config,
		media:  media,
		logger: logger,
	}
}

func (c *Connector) Connect(ctx context.Context) (ports.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: c.config.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	tracks, err := c.media.Tracks(ctx)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("acquire local media: %w: %w", domain.ErrMediaAccessDenied, err)
	}

	conn := &peerConnection{
		pc:     pc,
		tracks: tracks,
		logger: c.logger,
	}

	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to add local track %s: %w", track.ID(), err)
		}
	}

	return conn, nil
}

// peerConnection adapts *webrtc.PeerConnection to the transport contract.
type peerConnection struct {
	pc     *webrtc.PeerConnection
	tracks []LocalTrack
	logger *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

func (p *peerConnection) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPionDescription(offer), nil
}

func (p *peerConnection) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPionDescription(answer), nil
}

func (p *peerConnection) SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error {
	return p.pc.SetLocalDescription(toPionDescription(desc))
}

func (p *peerConnection) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	return p.pc.SetRemoteDescription(toPionDescription(desc))
}

func (p *peerConnection) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *peerConnection) AddICECandidate(ctx context.Context, c domain.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (p *peerConnection) OnICECandidate(fn func(domain.ICECandidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End-of-candidates marker.
			return
		}
		init := c.ToJSON()
		fn(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (p *peerConnection) OnTrack(fn func(domain.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		fn(domain.RemoteTrack{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Kind:     track.Kind().String(),
		})

		go p.drainTrack(track)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go p.sendPLI(track)
		}
	})
}

func (p *peerConnection) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	p.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		fn(mapICEConnectionState(state))
	})
}

func (p *peerConnection) SetAudioEnabled(enabled bool) {
	p.setTrackEnabled(webrtc.RTPCodecTypeAudio, enabled)
}

func (p *peerConnection) SetVideoEnabled(enabled bool) {
	p.setTrackEnabled(webrtc.RTPCodecTypeVideo, enabled)
}

func (p *peerConnection) setTrackEnabled(kind webrtc.RTPCodecType, enabled bool) {
	for _, track := range p.tracks {
		if track.Kind() == kind {
			track.SetEnabled(enabled)
		}
	}
}

func (p *peerConnection) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for _, track := range p.tracks {
		track.Stop()
	}
	return p.pc.Close()
}

func (p *peerConnection) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// drainTrack reads inbound RTP so the receiver's buffers and RTCP feedback
// keep flowing. Packets themselves are consumed by the media engine.
func (p *peerConnection) drainTrack(track *webrtc.TrackRemote) {
	buffer := make([]byte, 1500) // MTU size
	packet := &rtp.Packet{}

	for {
		n, _, err := track.Read(buffer)
		if err != nil {
			if err != io.EOF && !p.isClosed() {
				p.logger.Warnw("error reading remote track",
					"track_id", track.ID(),
					"error", err,
				)
			}
			return
		}

		if err := packet.Unmarshal(buffer[:n]); err != nil {
			p.logger.Warnw("error unmarshaling RTP packet",
				"track_id", track.ID(),
				"error", err,
			)
			continue
		}
	}
}

// sendPLI periodically requests keyframes for inbound video so a newly joined
// or reconnected peer renders without waiting for the encoder's own cadence.
func (p *peerConnection) sendPLI(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for range ticker.C {
		if p.isClosed() {
			return
		}
		err := p.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		})
		if err != nil {
			return
		}
	}
}

func fromPionDescription(d webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{
		Type: d.Type.String(),
		SDP:  d.SDP,
	}
}

func toPionDescription(d domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(d.Type),
		SDP:  d.SDP,
	}
}

func mapICEConnectionState(state webrtc.ICEConnectionState) domain.ConnectionState {
	switch state {
	case webrtc.ICEConnectionStateChecking:
		return domain.ConnectionConnecting
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return domain.ConnectionConnected
	case webrtc.ICEConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case webrtc.ICEConnectionStateFailed:
		return domain.ConnectionFailed
	case webrtc.ICEConnectionStateClosed:
		return domain.ConnectionClosed
	default:
		return domain.ConnectionNew
	}
}
