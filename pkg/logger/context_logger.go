package logger

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	callIDKey        contextKey = "call_id"
	participantIDKey contextKey = "participant_id"
)

// WithCall stashes the call scope in ctx so layers that only receive a
// context can still log with it.
func WithCall(ctx context.Context, callID, participantID string) context.Context {
	ctx = context.WithValue(ctx, callIDKey, callID)
	return context.WithValue(ctx, participantIDKey, participantID)
}

// FromContext returns base enriched with whatever call scope ctx carries.
// A context without call scope returns base unchanged.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if callID, ok := ctx.Value(callIDKey).(string); ok {
		base = base.With("call_id", callID)
	}
	if participantID, ok := ctx.Value(participantIDKey).(string); ok {
		base = base.With("participant_id", participantID)
	}
	return base
}

// CallScope pre-tags base with a fixed call and participant.
func CallScope(base *zap.SugaredLogger, callID, participantID string) *zap.SugaredLogger {
	return base.With("call_id", callID, "participant_id", participantID)
}
