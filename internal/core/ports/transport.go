package ports

import (
	"context"

	"peercall/internal/core/domain"
)

// PeerConnector creates peer connections with local media already attached.
// Connect returns an error wrapping domain.ErrMediaAccessDenied when local
// media acquisition is refused; that failure is terminal for the session.
type PeerConnector interface {
	Connect(ctx context.Context) (PeerConnection, error)
}

// PeerConnection is the narrow contract over the WebRTC engine. The engine
// itself (ICE, DTLS, SRTP) is an external collaborator; negotiation payloads
// pass through verbatim.
//
// The On* handlers may be invoked from transport-owned goroutines; registered
// callbacks must not call back into the connection.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(ctx context.Context, c domain.ICECandidate) error

	OnICECandidate(fn func(domain.ICECandidate))
	OnTrack(fn func(domain.RemoteTrack))
	OnConnectionStateChange(fn func(domain.ConnectionState))

	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)

	// Close releases the connection and all local media tracks. Idempotent.
	Close() error
}
