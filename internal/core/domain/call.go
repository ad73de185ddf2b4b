package domain

import "time"

type CallID string
type ParticipantID string

// Role is fixed once resolved at join time and never changes within a session.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// CandidateSide names one of the two side-segregated candidate collections.
type CandidateSide string

const (
	SideOffer  CandidateSide = "offer"
	SideAnswer CandidateSide = "answer"
)

// LocalSide is the collection this role publishes its own candidates to.
func (r Role) LocalSide() CandidateSide {
	if r == RoleInitiator {
		return SideOffer
	}
	return SideAnswer
}

// RemoteSide is the collection the opposite participant publishes to.
func (r Role) RemoteSide() CandidateSide {
	if r == RoleInitiator {
		return SideAnswer
	}
	return SideOffer
}

// CallStatus is advisory: it reflects the latest negotiation phase and is
// never used to derive the local role.
type CallStatus string

const (
	StatusCreated      CallStatus = "created"
	StatusOfferPosted  CallStatus = "offer-posted"
	StatusAnswerPosted CallStatus = "answer-posted"
)

// SessionDescription carries an SDP blob through the store verbatim.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors the browser's RTCIceCandidateInit shape so payloads
// pass through the store without translation.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// CallRecord is the shared document for one call. Offer and answer are set at
// most once per negotiation and cleared when the call fully empties.
type CallRecord struct {
	ID           CallID              `json:"id"`
	Offer        *SessionDescription `json:"offer,omitempty"`
	Answer       *SessionDescription `json:"answer,omitempty"`
	Status       CallStatus          `json:"status"`
	Participants []ParticipantID     `json:"participants"`
	CreatedAt    time.Time           `json:"created_at"`
}

func (r *CallRecord) ParticipantCount() int {
	return len(r.Participants)
}

func (r *CallRecord) HasParticipant(id ParticipantID) bool {
	for _, p := range r.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to subscribers.
func (r *CallRecord) Clone() *CallRecord {
	cp := *r
	if r.Offer != nil {
		offer := *r.Offer
		cp.Offer = &offer
	}
	if r.Answer != nil {
		answer := *r.Answer
		cp.Answer = &answer
	}
	cp.Participants = append([]ParticipantID(nil), r.Participants...)
	return &cp
}

// CallPatch is a field-scoped partial update. Unset fields leave the stored
// document untouched, so concurrent writers touching disjoint fields never
// clobber each other.
type CallPatch struct {
	Offer           *SessionDescription
	ClearOffer      bool
	Answer          *SessionDescription
	ClearAnswer     bool
	Status          *CallStatus
	ClearCandidates bool
}

// StatusPatch is a convenience constructor used on the hot signaling path.
func StatusPatch(s CallStatus) *CallStatus {
	return &s
}

// ConnectionState is the five-state connectivity contract surfaced to callers.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// RemoteTrack is a handle to a remote media track surfaced by the transport.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string // "audio" or "video"
}
