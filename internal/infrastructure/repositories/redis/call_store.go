package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCallStore is the production CallStore. Call documents are stored as
// hashes so a merge touches only its own fields, participants live in a set
// with commutative SADD/SREM, and the side-segregated candidate collections
// are append-only lists. Every committed write publishes a change event on a
// per-call pub/sub channel; Redis delivers channel messages in publish order,
// which satisfies the per-document ordering contract.
type RedisCallStore struct {
	client *redis.Client
	prefix string
	logger *zap.SugaredLogger
}

func NewRedisCallStore(client *redis.Client, logger *zap.SugaredLogger) ports.CallStore {
	return &RedisCallStore{
		client: client,
		prefix: "peercall:call:",
		logger: logger,
	}
}

type changeEvent struct {
	Kind      string               `json:"kind"` // "record" or "candidate"
	Side      domain.CandidateSide `json:"side,omitempty"`
	Candidate *domain.ICECandidate `json:"candidate,omitempty"`
}

func (s *RedisCallStore) callKey(id domain.CallID) string {
	return s.prefix + string(id)
}

func (s *RedisCallStore) participantsKey(id domain.CallID) string {
	return s.callKey(id) + ":participants"
}

func (s *RedisCallStore) candidatesKey(id domain.CallID, side domain.CandidateSide) string {
	return fmt.Sprintf("%s:candidates:%s", s.callKey(id), side)
}

func (s *RedisCallStore) eventsChannel(id domain.CallID) string {
	return s.callKey(id) + ":events"
}

func (s *RedisCallStore) Create(ctx context.Context, record *domain.CallRecord) error {
	status := record.Status
	if status == "" {
		status = domain.StatusCreated
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	fields := map[string]interface{}{
		"status":     string(status),
		"created_at": createdAt.Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, s.callKey(record.ID), fields).Err(); err != nil {
		return fmt.Errorf("failed to create call in Redis: %w", err)
	}

	for _, p := range record.Participants {
		if err := s.client.SAdd(ctx, s.participantsKey(record.ID), string(p)).Err(); err != nil {
			return fmt.Errorf("failed to seed participants: %w", err)
		}
	}

	return s.publish(ctx, record.ID, changeEvent{Kind: "record"})
}

func (s *RedisCallStore) Get(ctx context.Context, callID domain.CallID) (*domain.CallRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.callKey(callID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get call from Redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrCallNotFound
	}

	record := &domain.CallRecord{
		ID:     callID,
		Status: domain.CallStatus(fields["status"]),
	}
	if raw, ok := fields["offer"]; ok && raw != "" {
		var desc domain.SessionDescription
		if err := json.Unmarshal([]byte(raw), &desc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal offer: %w", err)
		}
		record.Offer = &desc
	}
	if raw, ok := fields["answer"]; ok && raw != "" {
		var desc domain.SessionDescription
		if err := json.Unmarshal([]byte(raw), &desc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answer: %w", err)
		}
		record.Answer = &desc
	}
	if raw, ok := fields["created_at"]; ok && raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			record.CreatedAt = t
		}
	}

	members, err := s.client.SMembers(ctx, s.participantsKey(callID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get participants from Redis: %w", err)
	}
	for _, m := range members {
		record.Participants = append(record.Participants, domain.ParticipantID(m))
	}

	return record, nil
}

func (s *RedisCallStore) Merge(ctx context.Context, callID domain.CallID, patch domain.CallPatch) error {
	key := s.callKey(callID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check call existence: %w", err)
	}
	if exists == 0 {
		return domain.ErrCallNotFound
	}

	pipe := s.client.TxPipeline()

	if patch.Offer != nil {
		data, err := json.Marshal(patch.Offer)
		if err != nil {
			return fmt.Errorf("failed to marshal offer: %w", err)
		}
		pipe.HSet(ctx, key, "offer", data)
	}
	if patch.ClearOffer {
		pipe.HDel(ctx, key, "offer")
	}
	if patch.Answer != nil {
		data, err := json.Marshal(patch.Answer)
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		pipe.HSet(ctx, key, "answer", data)
	}
	if patch.ClearAnswer {
		pipe.HDel(ctx, key, "answer")
	}
	if patch.Status != nil {
		pipe.HSet(ctx, key, "status", string(*patch.Status))
	}
	if patch.ClearCandidates {
		pipe.Del(ctx, s.candidatesKey(callID, domain.SideOffer))
		pipe.Del(ctx, s.candidatesKey(callID, domain.SideAnswer))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to merge call in Redis: %w", err)
	}

	return s.publish(ctx, callID, changeEvent{Kind: "record"})
}

func (s *RedisCallStore) Delete(ctx context.Context, callID domain.CallID) error {
	keys := []string{
		s.callKey(callID),
		s.participantsKey(callID),
		s.candidatesKey(callID, domain.SideOffer),
		s.candidatesKey(callID, domain.SideAnswer),
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete call from Redis: %w", err)
	}
	return nil
}

func (s *RedisCallStore) AddParticipant(ctx context.Context, callID domain.CallID, id domain.ParticipantID) error {
	if err := s.client.SAdd(ctx, s.participantsKey(callID), string(id)).Err(); err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return s.publish(ctx, callID, changeEvent{Kind: "record"})
}

func (s *RedisCallStore) RemoveParticipant(ctx context.Context, callID domain.CallID, id domain.ParticipantID) error {
	if err := s.client.SRem(ctx, s.participantsKey(callID), string(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	return s.publish(ctx, callID, changeEvent{Kind: "record"})
}

func (s *RedisCallStore) AppendCandidate(ctx context.Context, callID domain.CallID, side domain.CandidateSide, c domain.ICECandidate) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal candidate: %w", err)
	}
	if err := s.client.RPush(ctx, s.candidatesKey(callID, side), data).Err(); err != nil {
		return fmt.Errorf("failed to append candidate: %w", err)
	}
	return s.publish(ctx, callID, changeEvent{Kind: "candidate", Side: side, Candidate: &c})
}

func (s *RedisCallStore) Candidates(ctx context.Context, callID domain.CallID, side domain.CandidateSide) ([]domain.ICECandidate, error) {
	raw, err := s.client.LRange(ctx, s.candidatesKey(callID, side), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates: %w", err)
	}

	out := make([]domain.ICECandidate, 0, len(raw))
	for _, item := range raw {
		var c domain.ICECandidate
		if err := json.Unmarshal([]byte(item), &c); err != nil {
			s.logger.Warnw("skipping malformed candidate", "call_id", callID, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *RedisCallStore) Subscribe(ctx context.Context, callID domain.CallID, fn func(*domain.CallRecord)) (func(), error) {
	return s.subscribe(ctx, callID, func(ev changeEvent) {
		if ev.Kind != "record" {
			return
		}
		record, err := s.Get(ctx, callID)
		if err != nil {
			s.logger.Warnw("failed to refresh call after change", "call_id", callID, "error", err)
			return
		}
		fn(record)
	})
}

func (s *RedisCallStore) SubscribeCandidates(ctx context.Context, callID domain.CallID, side domain.CandidateSide, fn func(domain.ICECandidate)) (func(), error) {
	return s.subscribe(ctx, callID, func(ev changeEvent) {
		if ev.Kind != "candidate" || ev.Side != side || ev.Candidate == nil {
			return
		}
		fn(*ev.Candidate)
	})
}

func (s *RedisCallStore) subscribe(ctx context.Context, callID domain.CallID, handle func(changeEvent)) (func(), error) {
	pubsub := s.client.Subscribe(ctx, s.eventsChannel(callID))

	// Force the subscription onto the wire before returning so callers never
	// miss writes committed after Subscribe returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to call events: %w", err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var ev changeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.logger.Warnw("failed to unmarshal change event",
					"call_id", callID,
					"payload", msg.Payload,
					"error", err,
				)
				continue
			}
			handle(ev)
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			s.logger.Debugw("pubsub close", "call_id", callID, "error", err)
		}
	}, nil
}

func (s *RedisCallStore) publish(ctx context.Context, callID domain.CallID, ev changeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	if err := s.client.Publish(ctx, s.eventsChannel(callID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}
