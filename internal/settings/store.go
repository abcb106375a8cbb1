package settings

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/frame/datastore/pool"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDatabaseUnavailable is returned when the database connection is not available.
var ErrDatabaseUnavailable = errors.New("database connection is not available")

// Setting is one stored configuration value.
type Setting struct {
	Level     Level     `gorm:"primaryKey;size:20"`
	OwnerID   string    `gorm:"primaryKey;size:64"`
	Key       string    `gorm:"primaryKey;size:128"`
	Value     string    `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName returns the table name for the Setting model.
func (Setting) TableName() string {
	return "review_settings"
}

// NewStore creates a settings store. With a database pool it persists to
// PostgreSQL, otherwise it keeps values in memory.
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

// Get returns a stored value.
func (s *PGStore) Get(ctx context.Context, level Level, ownerID, key string) (string, error) {
	db := s.db(ctx, true)
	if db == nil {
		return "", ErrDatabaseUnavailable
	}

	var setting Setting
	err := db.Where("level = ? AND owner_id = ? AND key = ?", level, ownerID, key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// Set upserts a value.
func (s *PGStore) Set(ctx context.Context, level Level, ownerID, key, value string) error {
	db := s.db(ctx, false)
	if db == nil {
		return ErrDatabaseUnavailable
	}

	setting := &Setting{Level: level, OwnerID: ownerID, Key: key, Value: value, UpdatedAt: time.Now()}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "level"}, {Name: "owner_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(setting).Error
}

// Migrate creates or updates the settings table.
func (s *PGStore) Migrate(ctx context.Context) error {
	db := s.db(ctx, false)
	if db == nil {
		return ErrDatabaseUnavailable
	}
	return db.AutoMigrate(&Setting{})
}

type memoryKey struct {
	level   Level
	ownerID string
	key     string
}

// MemoryStore is an in-memory settings store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[memoryKey]string
}

// NewMemoryStore creates an empty in-memory settings store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[memoryKey]string)}
}

// Get returns a stored value.
func (s *MemoryStore) Get(_ context.Context, level Level, ownerID, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[memoryKey{level: level, ownerID: ownerID, key: key}]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores a value.
func (s *MemoryStore) Set(_ context.Context, level Level, ownerID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[memoryKey{level: level, ownerID: ownerID, key: key}] = value
	return nil
}
