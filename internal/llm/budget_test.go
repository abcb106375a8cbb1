package llm_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/codereview/internal/llm"
)

func getRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Skipf("invalid redis URL: %v", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		t.Skipf("redis not available: %v", pingErr)
	}

	t.Cleanup(func() {
		cleanupSpendKeys(context.Background(), client)
		client.Close()
	})
	cleanupSpendKeys(context.Background(), client)

	return client
}

func cleanupSpendKeys(ctx context.Context, client *redis.Client) {
	iter := client.Scan(ctx, 0, "llm:spend:*", 0).Iterator()
	for iter.Next(ctx) {
		client.Del(ctx, iter.Val())
	}
}

func exerciseCostTracker(t *testing.T, tracker llm.CostTracker) {
	t.Helper()
	ctx := context.Background()
	today := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	spent, err := tracker.Spent(ctx, today)
	require.NoError(t, err)
	assert.Zero(t, spent)

	total, err := tracker.Add(ctx, today, 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, total, 1e-9)

	total, err = tracker.Add(ctx, today.Add(3*time.Hour), 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, total, 1e-9)

	tomorrow, err := tracker.Spent(ctx, today.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, tomorrow)
}

func TestMemoryCostTracker(t *testing.T) {
	exerciseCostTracker(t, llm.NewMemoryCostTracker())
}

func TestRedisCostTracker(t *testing.T) {
	client := getRedisClient(t)
	exerciseCostTracker(t, llm.NewRedisCostTracker(client))

	ttl, err := client.TTL(context.Background(), "llm:spend:2026-03-14").Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}
