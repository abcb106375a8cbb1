package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes and TTLs.
const (
	dedupKeyPrefix  = "review:dedup:"
	defaultDedupTTL = 24 * time.Hour
)

// RedisDeduplicationStore is a Redis-backed deduplication store shared by
// every reviewer instance.
type RedisDeduplicationStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduplicationStore creates a new Redis-backed deduplication store.
func NewRedisDeduplicationStore(client *redis.Client, ttl time.Duration) *RedisDeduplicationStore {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &RedisDeduplicationStore{
		client: client,
		ttl:    ttl,
	}
}

// IsProcessed checks if a request has been processed.
func (s *RedisDeduplicationStore) IsProcessed(ctx context.Context, eventID EventID) (bool, error) {
	exists, err := s.client.Exists(ctx, dedupKeyPrefix+eventID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("check exists: %w", err)
	}
	return exists > 0, nil
}

// MarkProcessed records the outcome of processing a request.
func (s *RedisDeduplicationStore) MarkProcessed(ctx context.Context, eventID EventID, result *ProcessingResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if setErr := s.client.Set(ctx, dedupKeyPrefix+eventID.String(), data, s.ttl).Err(); setErr != nil {
		return fmt.Errorf("set key: %w", setErr)
	}
	return nil
}

// GetProcessingResult returns the recorded outcome of a request.
func (s *RedisDeduplicationStore) GetProcessingResult(ctx context.Context, eventID EventID) (*ProcessingResult, error) {
	data, err := s.client.Get(ctx, dedupKeyPrefix+eventID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // nil result is valid for unseen requests
	}
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}

	var result ProcessingResult
	if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", unmarshalErr)
	}
	return &result, nil
}

// Cleanup is a no-op; Redis expires entries through their TTL.
func (s *RedisDeduplicationStore) Cleanup(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}
