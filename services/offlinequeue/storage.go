package offlinequeue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"lessonpulse/database"
	"lessonpulse/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultRecordKey names the client record that holds the queue.
const DefaultRecordKey = "heartbeat_queue"

// GormStorage keeps the queue as a JSON list in a single ClientRecord row.
type GormStorage struct {
	db  *gorm.DB
	key string
}

// NewGormStorage migrates the client record table on db and stores the queue
// under key.
func NewGormStorage(db *gorm.DB, key string) (*GormStorage, error) {
	if key == "" {
		key = DefaultRecordKey
	}
	if err := db.AutoMigrate(&models.ClientRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate client records")
	}
	return &GormStorage{db: db, key: key}, nil
}

// OpenSQLite opens (or creates) the client-local queue database at path.
func OpenSQLite(path string) (*GormStorage, error) {
	db, err := database.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open queue database %s", path)
	}
	return NewGormStorage(db, DefaultRecordKey)
}

func (s *GormStorage) Load(ctx context.Context) ([]Heartbeat, error) {
	var record models.ClientRecord
	err := s.db.WithContext(ctx).Where(&models.ClientRecord{Key: s.key}).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load record %s", s.key)
	}

	var entries []Heartbeat
	if len(record.Value) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(record.Value, &entries); err != nil {
		return nil, errors.Wrapf(err, "decode record %s", s.key)
	}
	return entries, nil
}

func (s *GormStorage) Save(ctx context.Context, entries []Heartbeat) error {
	if entries == nil {
		entries = []Heartbeat{}
	}
	value, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "encode queue")
	}

	record := models.ClientRecord{Key: s.key, Value: value, UpdatedAt: time.Now()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error
	return errors.Wrapf(err, "save record %s", s.key)
}

// Close releases the underlying connection pool.
func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// MemoryStorage is a non-durable Storage for tests and ephemeral clients.
type MemoryStorage struct {
	mu      sync.Mutex
	entries []Heartbeat
	err     error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load(_ context.Context) ([]Heartbeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	return append([]Heartbeat(nil), m.entries...), nil
}

func (m *MemoryStorage) Save(_ context.Context, entries []Heartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.entries = append([]Heartbeat(nil), entries...)
	return nil
}

// FailWith makes every later Load and Save return err; nil restores it.
func (m *MemoryStorage) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}
