package domain

import "errors"

var (
	ErrCallNotFound      = errors.New("call not found")
	ErrOfferNotReady     = errors.New("offer not ready")
	ErrMediaAccessDenied = errors.New("media access denied")
	ErrInvalidTransition = errors.New("invalid negotiation transition")
	ErrStoreUnavailable  = errors.New("call store unavailable")
	ErrSessionClosed     = errors.New("session closed")
)
