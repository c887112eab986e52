package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	outcomeKeyPrefix = "dispatch:outcomes:"
	outcomeTTL       = 24 * time.Hour
)

// RedisOutcomeStore shares delivery outcomes across instances. Outcomes
// expire after a day; they are debugging state, not a ledger.
type RedisOutcomeStore struct {
	client *redis.Client
}

// NewRedisOutcomeStore constructs a Redis-backed outcome store.
func NewRedisOutcomeStore(client *redis.Client) *RedisOutcomeStore {
	return &RedisOutcomeStore{client: client}
}

func (s *RedisOutcomeStore) Record(ctx context.Context, outcome DeliveryOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode delivery outcome: %w", err)
	}
	key := outcomeKeyPrefix + outcome.EventID

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, outcomeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record delivery outcome: %w", err)
	}
	return nil
}

func (s *RedisOutcomeStore) ListByEvent(ctx context.Context, eventID string) ([]DeliveryOutcome, error) {
	entries, err := s.client.LRange(ctx, outcomeKeyPrefix+eventID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list delivery outcomes: %w", err)
	}
	outcomes := make([]DeliveryOutcome, 0, len(entries))
	for _, entry := range entries {
		var outcome DeliveryOutcome
		if err := json.Unmarshal([]byte(entry), &outcome); err != nil {
			return nil, fmt.Errorf("decode delivery outcome: %w", err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
