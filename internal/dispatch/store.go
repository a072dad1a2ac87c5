package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// LogStore persists dispatch log entries.
type LogStore interface {
	// Claim inserts e unless its visit is already logged and reports whether
	// the insert happened.
	Claim(ctx context.Context, e *Entry) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]Entry, int64, error)
	Ping(ctx context.Context) error
}

// -- gorm --

// GormLogStore keeps the dispatch log in Postgres through gorm, on a
// connection separate from the engine's pgx pool.
type GormLogStore struct {
	db *gorm.DB
}

// OpenGormLogStore connects to dsn.
func OpenGormLogStore(dsn string) (*GormLogStore, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open dispatch log store: %w", err)
	}
	return NewGormLogStore(gdb), nil
}

func NewGormLogStore(db *gorm.DB) *GormLogStore {
	return &GormLogStore{db: db}
}

// Migrate creates the dispatch_log table and its unique visit index.
func (s *GormLogStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Entry{})
}

func (s *GormLogStore) Claim(ctx context.Context, e *Entry) (bool, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "appointment_id"}, {Name: "visit_date"}, {Name: "visit_time"}},
			DoNothing: true,
		}).
		Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormLogStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&Entry{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": StatusSent, "error": nil, "updated_at": time.Now()}).Error
}

func (s *GormLogStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.db.WithContext(ctx).Model(&Entry{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": StatusFailed, "error": reason, "updated_at": time.Now()}).Error
}

func (s *GormLogStore) List(ctx context.Context, f ListFilter, limit, offset int) ([]Entry, int64, error) {
	q := s.db.WithContext(ctx).Model(&Entry{})
	if f.AppointmentID != "" {
		q = q.Where("appointment_id = ?", f.AppointmentID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.VisitDate != nil {
		q = q.Where("visit_date = ?", f.VisitDate.Format("2006-01-02"))
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []Entry
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *GormLogStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormLogStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// -- memory --

// MemoryLogStore is an in-process LogStore.
type MemoryLogStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	visits  map[string]uuid.UUID
	// ClaimErr, when set, fails every Claim.
	ClaimErr error
}

func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{
		entries: make(map[uuid.UUID]*Entry),
		visits:  make(map[string]uuid.UUID),
	}
}

func (m *MemoryLogStore) Claim(_ context.Context, e *Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClaimErr != nil {
		return false, m.ClaimErr
	}
	key := visitKey(e.AppointmentID, e.VisitDate, e.VisitTime)
	if _, ok := m.visits[key]; ok {
		return false, nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	m.entries[e.ID] = &cp
	m.visits[key] = e.ID
	return true, nil
}

func (m *MemoryLogStore) mark(id uuid.UUID, status EntryStatus, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("dispatch log entry %s not found", id)
	}
	e.Status = status
	e.Error = reason
	e.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryLogStore) MarkSent(_ context.Context, id uuid.UUID) error {
	return m.mark(id, StatusSent, nil)
}

func (m *MemoryLogStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	return m.mark(id, StatusFailed, &reason)
}

func (m *MemoryLogStore) List(_ context.Context, f ListFilter, limit, offset int) ([]Entry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []Entry
	for _, e := range m.entries {
		if f.AppointmentID != "" && e.AppointmentID != f.AppointmentID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.VisitDate != nil && !sameDay(e.VisitDate, *f.VisitDate) {
			continue
		}
		items = append(items, *e)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	total := int64(len(items))
	if offset >= len(items) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end], total, nil
}

func (m *MemoryLogStore) Ping(context.Context) error { return nil }

func sameDay(a, b time.Time) bool {
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}
