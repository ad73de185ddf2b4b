package domain

import "time"

// ParticipantSession is a snapshot of one client's in-memory session. It is
// owned by a single session loop; copies handed out are read-only.
type ParticipantSession struct {
	ParticipantID   ParticipantID
	CallID          CallID
	Role            Role
	ConnectionState ConnectionState
	JoinedAt        time.Time
}
