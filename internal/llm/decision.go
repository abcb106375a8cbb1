package llm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/frame/datastore/pool"
	"gorm.io/gorm"

	"github.com/antinvestor/codereview/internal/events"
)

// ErrDatabaseUnavailable is returned when the database connection is not available.
var ErrDatabaseUnavailable = errors.New("database connection is not available")

const maxMemoryDecisions = 1000

// RoutingDecision is the persisted record of one routed invocation. A
// fallback attempt updates the same record.
type RoutingDecision struct {
	ID            string          `gorm:"primaryKey;type:varchar(20)" json:"id"`
	ReviewID      events.ReviewID `gorm:"type:varchar(20);index"      json:"review_id"`
	TaskType      TaskType        `gorm:"type:varchar(40);index"      json:"task_type"`
	Strategy      StrategyName    `gorm:"type:varchar(20)"            json:"strategy"`
	SelectedModel string          `gorm:"type:varchar(120);index"     json:"selected_model"`
	Provider      Provider        `gorm:"type:varchar(20)"            json:"provider"`
	Reasoning     string          `gorm:"type:text"                   json:"reasoning"`
	InputTokens   int             `json:"input_tokens"`
	OutputTokens  int             `json:"output_tokens"`
	CostUSD       float64         `json:"cost_usd"`
	LatencyMS     int64           `json:"latency_ms"`
	Fallback      bool            `json:"fallback"`
	Success       bool            `json:"success"`
	Error         string          `gorm:"type:text"                   json:"error,omitempty"`
	CreatedAt     time.Time       `gorm:"index"                       json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName sets the table name for GORM.
func (RoutingDecision) TableName() string {
	return "llm_routing_decisions"
}

// ModelStats aggregates decisions for one model.
type ModelStats struct {
	Model        string  `json:"model"`
	Invocations  int     `json:"invocations"`
	Failures     int     `json:"failures"`
	Fallbacks    int     `json:"fallbacks"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// DecisionStore persists routing decisions. Implementations are safe for
// concurrent use across reviews.
type DecisionStore interface {
	// Save inserts or updates a decision.
	Save(ctx context.Context, d *RoutingDecision) error

	// Recent returns up to limit decisions, newest first.
	Recent(ctx context.Context, limit int) ([]*RoutingDecision, error)

	// Stats aggregates decisions created since the given time by model.
	Stats(ctx context.Context, since time.Time) ([]ModelStats, error)
}

// NewDecisionStore creates a decision store. With a database pool it
// persists to PostgreSQL, otherwise it keeps decisions in memory.
func NewDecisionStore(_ context.Context, p pool.Pool) DecisionStore {
	if p != nil {
		return &PGDecisionStore{pool: p}
	}
	return NewMemoryDecisionStore()
}

// PGDecisionStore is the PostgreSQL implementation of DecisionStore.
type PGDecisionStore struct {
	pool pool.Pool
}

func (s *PGDecisionStore) db(ctx context.Context, readOnly bool) *gorm.DB {
	if s.pool == nil {
		return nil
	}
	return s.pool.DB(ctx, readOnly)
}

// Save upserts the decision.
func (s *PGDecisionStore) Save(ctx context.Context, d *RoutingDecision) error {
	db := s.db(ctx, false)
	if db == nil {
		return ErrDatabaseUnavailable
	}
	return db.Save(d).Error
}

// Recent returns the newest decisions.
func (s *PGDecisionStore) Recent(ctx context.Context, limit int) ([]*RoutingDecision, error) {
	db := s.db(ctx, true)
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}

	var decisions []*RoutingDecision
	if err := db.Order("created_at DESC").Limit(limit).Find(&decisions).Error; err != nil {
		return nil, err
	}
	return decisions, nil
}

// Stats aggregates decisions per model in the database.
func (s *PGDecisionStore) Stats(ctx context.Context, since time.Time) ([]ModelStats, error) {
	db := s.db(ctx, true)
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}

	var stats []ModelStats
	err := db.Model(&RoutingDecision{}).
		Select(`selected_model AS model,
			COUNT(*) AS invocations,
			SUM(CASE WHEN success THEN 0 ELSE 1 END) AS failures,
			SUM(CASE WHEN fallback THEN 1 ELSE 0 END) AS fallbacks,
			COALESCE(SUM(cost_usd), 0) AS total_cost_usd,
			COALESCE(AVG(latency_ms), 0) AS avg_latency_ms`).
		Where("created_at >= ?", since).
		Group("selected_model").
		Order("total_cost_usd DESC").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Migrate creates or updates the decisions table.
func (s *PGDecisionStore) Migrate(ctx context.Context) error {
	db := s.db(ctx, false)
	if db == nil {
		return ErrDatabaseUnavailable
	}
	return db.AutoMigrate(&RoutingDecision{})
}

// MemoryDecisionStore keeps the most recent decisions in memory.
type MemoryDecisionStore struct {
	mu        sync.RWMutex
	decisions map[string]*RoutingDecision
	order     []string
}

// NewMemoryDecisionStore creates an empty in-memory decision store.
func NewMemoryDecisionStore() *MemoryDecisionStore {
	return &MemoryDecisionStore{decisions: make(map[string]*RoutingDecision)}
}

// Save stores a copy of the decision.
func (s *MemoryDecisionStore) Save(_ context.Context, d *RoutingDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *d
	if _, exists := s.decisions[d.ID]; !exists {
		s.order = append(s.order, d.ID)
	}
	s.decisions[d.ID] = &stored

	for len(s.order) > maxMemoryDecisions {
		delete(s.decisions, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// Get returns a copy of a stored decision.
func (s *MemoryDecisionStore) Get(id string) (*RoutingDecision, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.decisions[id]
	if !ok {
		return nil, false
	}
	c := *d
	return &c, true
}

// Recent returns the newest decisions.
func (s *MemoryDecisionStore) Recent(_ context.Context, limit int) ([]*RoutingDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*RoutingDecision, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(result) < limit; i-- {
		c := *s.decisions[s.order[i]]
		result = append(result, &c)
	}
	return result, nil
}

// Stats aggregates stored decisions per model.
func (s *MemoryDecisionStore) Stats(_ context.Context, since time.Time) ([]ModelStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byModel := make(map[string]*ModelStats)
	latency := make(map[string]int64)
	for _, d := range s.decisions {
		if d.CreatedAt.Before(since) {
			continue
		}
		st, ok := byModel[d.SelectedModel]
		if !ok {
			st = &ModelStats{Model: d.SelectedModel}
			byModel[d.SelectedModel] = st
		}
		st.Invocations++
		if !d.Success {
			st.Failures++
		}
		if d.Fallback {
			st.Fallbacks++
		}
		st.TotalCostUSD += d.CostUSD
		latency[d.SelectedModel] += d.LatencyMS
	}

	stats := make([]ModelStats, 0, len(byModel))
	for model, st := range byModel {
		st.AvgLatencyMS = float64(latency[model]) / float64(st.Invocations)
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(a, b int) bool {
		if stats[a].TotalCostUSD != stats[b].TotalCostUSD {
			return stats[a].TotalCostUSD > stats[b].TotalCostUSD
		}
		return stats[a].Model < stats[b].Model
	})
	return stats, nil
}
