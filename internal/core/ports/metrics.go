package ports

import "peercall/internal/core/domain"

// SessionMetrics receives session lifecycle signals. Implementations must be
// safe for concurrent use; a nil-safe no-op implementation is provided by the
// services package for callers that do not collect metrics.
type SessionMetrics interface {
	SessionJoined(role domain.Role)
	SessionLeft()
	ReconnectStarted()
	ReconnectFinished(success bool)
	ConnectionStateChanged(state domain.ConnectionState)
	CandidatePublished(side domain.CandidateSide)
}
