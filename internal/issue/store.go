package issue

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

const saveBatchSize = 100

// Store persists review issues.
type Store interface {
	// SaveAll persists issues and returns the persisted records. Issues
	// previously saved for the same reviews are replaced, so running a
	// review again leaves only its latest findings.
	SaveAll(ctx context.Context, issues []*Issue) ([]*Issue, error)

	// ListByReview returns the issues persisted for a review.
	ListByReview(ctx context.Context, reviewID events.ReviewID) ([]*Issue, error)

	// MarkFalsePositive flags an issue as a false positive.
	MarkFalsePositive(ctx context.Context, id string) error
}

// NewStore creates an issue store. With a database pool it persists to
// PostgreSQL, otherwise it keeps issues in memory.
func NewStore(_ context.Context, p pool.Pool) Store {
	if p != nil {
		return &PGStore{pool: p}
	}
	return NewMemoryStore()
}

// PGStore is the PostgreSQL implementation of Store.
type PGStore struct {
	pool pool.Pool
}

func (s *PGStore) db(ctx context.Context, readOnly bool) *gorm.DB {
	if s.pool == nil {
		return nil
	}
	return s.pool.DB(ctx, readOnly)
}

// SaveAll replaces the issues of the affected reviews in one transaction.
func (s *PGStore) SaveAll(ctx context.Context, issues []*Issue) ([]*Issue, error) {
	if len(issues) == 0 {
		return []*Issue{}, nil
	}

	db := s.db(ctx, false)
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}

	prepare(issues)
	err := db.Transaction(func(tx *gorm.DB) error {
		if reviews := reviewIDs(issues); len(reviews) > 0 {
			if err := tx.Where("review_id IN ?", reviews).Delete(&Issue{}).Error; err != nil {
				return err
			}
		}
		return tx.CreateInBatches(issues, saveBatchSize).Error
	})
	if err != nil {
		return nil, err
	}
	return issues, nil
}

// ListByReview returns the issues persisted for a review, most severe first.
func (s *PGStore) ListByReview(ctx context.Context, reviewID events.ReviewID) ([]*Issue, error) {
	db := s.db(ctx, true)
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}

	var issues []*Issue
	if err := db.Where("review_id = ?", reviewID).Order("created_at").Find(&issues).Error; err != nil {
		return nil, err
	}
	sortBySeverity(issues)
	return issues, nil
}

// MarkFalsePositive flags an issue as a false positive.
func (s *PGStore) MarkFalsePositive(ctx context.Context, id string) error {
	db := s.db(ctx, false)
	if db == nil {
		return ErrDatabaseUnavailable
	}

	return db.Model(&Issue{}).Where("id = ?", id).Update("false_positive", true).Error
}

// Migrate creates or updates the issue table.
func (s *PGStore) Migrate(ctx context.Context) error {
	db := s.db(ctx, false)
	if db == nil {
		return ErrDatabaseUnavailable
	}
	return db.AutoMigrate(&Issue{})
}

// MemoryStore is an in-memory issue store.
type MemoryStore struct {
	mu     sync.RWMutex
	issues map[string]*Issue
}

// NewMemoryStore creates an empty in-memory issue store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{issues: make(map[string]*Issue)}
}

// SaveAll stores issues in memory, replacing those of the same reviews.
func (s *MemoryStore) SaveAll(_ context.Context, issues []*Issue) ([]*Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepare(issues)
	replaced := make(map[events.ReviewID]struct{})
	for _, id := range reviewIDs(issues) {
		replaced[id] = struct{}{}
	}
	for id, existing := range s.issues {
		if _, ok := replaced[existing.ReviewID]; ok {
			delete(s.issues, id)
		}
	}

	saved := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		s.issues[i.ID] = i
		saved = append(saved, i)
	}
	return saved, nil
}

// ListByReview returns the issues stored for a review, most severe first.
func (s *MemoryStore) ListByReview(_ context.Context, reviewID events.ReviewID) ([]*Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Issue
	for _, i := range s.issues {
		if i.ReviewID == reviewID {
			result = append(result, i)
		}
	}
	sortBySeverity(result)
	return result, nil
}

// MarkFalsePositive flags an issue as a false positive.
func (s *MemoryStore) MarkFalsePositive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.issues[id]; ok {
		i.FalsePositive = true
	}
	return nil
}

func prepare(issues []*Issue) {
	now := time.Now()
	for _, i := range issues {
		if i.ID == "" {
			i.ID = events.NewRecordID()
		}
		if i.CreatedAt.IsZero() {
			i.CreatedAt = now
		}
	}
}

// reviewIDs returns the distinct non-zero review ids of issues.
func reviewIDs(issues []*Issue) []events.ReviewID {
	seen := make(map[events.ReviewID]struct{})
	var ids []events.ReviewID
	for _, i := range issues {
		if i.ReviewID.IsZero() {
			continue
		}
		if _, ok := seen[i.ReviewID]; !ok {
			seen[i.ReviewID] = struct{}{}
			ids = append(ids, i.ReviewID)
		}
	}
	return ids
}

func sortBySeverity(issues []*Issue) {
	sort.SliceStable(issues, func(a, b int) bool {
		if issues[a].Severity != issues[b].Severity {
			return issues[a].Severity.MoreSevereThan(issues[b].Severity)
		}
		return issues[a].CreatedAt.Before(issues[b].CreatedAt)
	})
}
