package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// identifierAllowed reports whether r may appear in a call or participant ID.
func identifierAllowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}

func validateIdentifier(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > 100 {
		return fmt.Errorf("%s is too long (max 100 characters)", fieldName)
	}
	for _, r := range id {
		if !identifierAllowed(r) {
			return fmt.Errorf("invalid %s format", fieldName)
		}
	}
	return nil
}

// ValidateCallID validates a call identifier. Server-minted IDs are UUIDs,
// but clients may bring their own as long as they stay URL- and key-safe.
func ValidateCallID(callID string) error {
	if _, err := uuid.Parse(callID); err == nil {
		return nil
	}
	return validateIdentifier(callID, "call ID")
}

// ValidateParticipantID validates a participant identifier.
func ValidateParticipantID(participantID string) error {
	return validateIdentifier(participantID, "participant ID")
}

// ValidateSDP performs a shallow structural check on a session description.
// It catches truncated or garbage payloads before they reach the store,
// without attempting a full SDP parse.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if !strings.HasPrefix(sdp, "v=") {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	for _, field := range []string{"v=", "o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}

// ValidateCandidateSide validates a candidate collection name.
func ValidateCandidateSide(side string) error {
	if side != "offer" && side != "answer" {
		return fmt.Errorf("side must be 'offer' or 'answer'")
	}
	return nil
}

// ValidateSignalURL validates a signaling endpoint URL.
func ValidateSignalURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
