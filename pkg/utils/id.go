package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GenerateCallID generates a unique call ID, short enough to share in a URL.
func GenerateCallID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("call_%s", hex.EncodeToString(b))
}

// GenerateParticipantID generates an identifier unique for one client's
// lifetime.
func GenerateParticipantID() string {
	return uuid.NewString()
}
