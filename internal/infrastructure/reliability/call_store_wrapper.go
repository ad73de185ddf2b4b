package reliability

import (
	"context"
	"errors"
	"fmt"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// CallStoreWrapper guards a CallStore behind a circuit breaker. When the
// backend starts failing the breaker opens and calls are rejected with
// domain.ErrStoreUnavailable instead of piling up on a dead connection; the
// session coordinator's reconnection policy handles the rest.
type CallStoreWrapper struct {
	store   ports.CallStore
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewCallStoreWrapper(store ports.CallStore, cbConfig circuitbreaker.Config, logger *zap.SugaredLogger) *CallStoreWrapper {
	w := &CallStoreWrapper{
		store:   store,
		breaker: circuitbreaker.New(cbConfig),
		logger:  logger,
	}

	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("call store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

func (w *CallStoreWrapper) execute(ctx context.Context, op string, fn func() error) error {
	// Not-found is a business outcome, not a backend failure; it must pass
	// through without counting against the breaker.
	var bizErr error
	err := w.breaker.Execute(ctx, func() error {
		if err := fn(); err != nil {
			if errors.Is(err, domain.ErrCallNotFound) {
				bizErr = err
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return fmt.Errorf("%s: %w", op, domain.ErrStoreUnavailable)
		}
		return err
	}
	return bizErr
}

func (w *CallStoreWrapper) Create(ctx context.Context, record *domain.CallRecord) error {
	return w.execute(ctx, "create call", func() error {
		return w.store.Create(ctx, record)
	})
}

func (w *CallStoreWrapper) Get(ctx context.Context, callID domain.CallID) (*domain.CallRecord, error) {
	var record *domain.CallRecord
	err := w.execute(ctx, "get call", func() error {
		var err error
		record, err = w.store.Get(ctx, callID)
		return err
	})
	return record, err
}

func (w *CallStoreWrapper) Merge(ctx context.Context, callID domain.CallID, patch domain.CallPatch) error {
	return w.execute(ctx, "merge call", func() error {
		return w.store.Merge(ctx, callID, patch)
	})
}

func (w *CallStoreWrapper) Delete(ctx context.Context, callID domain.CallID) error {
	return w.execute(ctx, "delete call", func() error {
		return w.store.Delete(ctx, callID)
	})
}

func (w *CallStoreWrapper) AddParticipant(ctx context.Context, callID domain.CallID, id domain.ParticipantID) error {
	return w.execute(ctx, "add participant", func() error {
		return w.store.AddParticipant(ctx, callID, id)
	})
}

func (w *CallStoreWrapper) RemoveParticipant(ctx context.Context, callID domain.CallID, id domain.ParticipantID) error {
	return w.execute(ctx, "remove participant", func() error {
		return w.store.RemoveParticipant(ctx, callID, id)
	})
}

func (w *CallStoreWrapper) AppendCandidate(ctx context.Context, callID domain.CallID, side domain.CandidateSide, c domain.ICECandidate) error {
	return w.execute(ctx, "append candidate", func() error {
		return w.store.AppendCandidate(ctx, callID, side, c)
	})
}

func (w *CallStoreWrapper) Candidates(ctx context.Context, callID domain.CallID, side domain.CandidateSide) ([]domain.ICECandidate, error) {
	var candidates []domain.ICECandidate
	err := w.execute(ctx, "list candidates", func() error {
		var err error
		candidates, err = w.store.Candidates(ctx, callID, side)
		return err
	})
	return candidates, err
}

func (w *CallStoreWrapper) Subscribe(ctx context.Context, callID domain.CallID, fn func(*domain.CallRecord)) (func(), error) {
	var cancel func()
	err := w.execute(ctx, "subscribe call record", func() error {
		var err error
		cancel, err = w.store.Subscribe(ctx, callID, fn)
		return err
	})
	return cancel, err
}

func (w *CallStoreWrapper) SubscribeCandidates(ctx context.Context, callID domain.CallID, side domain.CandidateSide, fn func(domain.ICECandidate)) (func(), error) {
	var cancel func()
	err := w.execute(ctx, "subscribe candidates", func() error {
		var err error
		cancel, err = w.store.SubscribeCandidates(ctx, callID, side, fn)
		return err
	})
	return cancel, err
}

// Stats exposes the breaker state for health reporting.
func (w *CallStoreWrapper) Stats() circuitbreaker.Stats {
	return w.breaker.GetStats()
}
