package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	spendKeyPrefix = "llm:spend:"
	spendKeyTTL    = 48 * time.Hour
	spendDayLayout = "2006-01-02"
)

// CostTracker accumulates daily LLM spend.
type CostTracker interface {
	// Add records spend and returns the running total for the day.
	Add(ctx context.Context, day time.Time, costUSD float64) (float64, error)

	// Spent returns the total recorded for the day.
	Spent(ctx context.Context, day time.Time) (float64, error)
}

func spendDay(day time.Time) string {
	return day.UTC().Format(spendDayLayout)
}

// RedisCostTracker keeps daily spend in a Redis float counter shared by
// every reviewer instance.
type RedisCostTracker struct {
	client *redis.Client
}

// NewRedisCostTracker creates a Redis-backed cost tracker.
func NewRedisCostTracker(client *redis.Client) *RedisCostTracker {
	return &RedisCostTracker{client: client}
}

// Add implements CostTracker.
func (t *RedisCostTracker) Add(ctx context.Context, day time.Time, costUSD float64) (float64, error) {
	key := spendKeyPrefix + spendDay(day)

	pipe := t.client.TxPipeline()
	incr := pipe.IncrByFloat(ctx, key, costUSD)
	pipe.Expire(ctx, key, spendKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record spend: %w", err)
	}
	return incr.Val(), nil
}

// Spent implements CostTracker.
func (t *RedisCostTracker) Spent(ctx context.Context, day time.Time) (float64, error) {
	v, err := t.client.Get(ctx, spendKeyPrefix+spendDay(day)).Float64()
	if err == redis.Nil { //nolint:errorlint // redis.Nil is returned unwrapped
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read spend: %w", err)
	}
	return v, nil
}

// MemoryCostTracker keeps daily spend in process memory.
type MemoryCostTracker struct {
	mu    sync.Mutex
	spend map[string]float64
}

// NewMemoryCostTracker creates an in-memory cost tracker.
func NewMemoryCostTracker() *MemoryCostTracker {
	return &MemoryCostTracker{spend: make(map[string]float64)}
}

// Add implements CostTracker.
func (t *MemoryCostTracker) Add(_ context.Context, day time.Time, costUSD float64) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := spendDay(day)
	t.spend[key] += costUSD
	return t.spend[key], nil
}

// Spent implements CostTracker.
func (t *MemoryCostTracker) Spent(_ context.Context, day time.Time) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.spend[spendDay(day)], nil
}

// crossedThreshold reports whether adding cost moved total across the
// alert line.
func crossedThreshold(total, cost float64, tracking CostTracking) bool {
	limit := tracking.DailyBudgetUSD * tracking.AlertThreshold
	return total >= limit && total-cost < limit
}
