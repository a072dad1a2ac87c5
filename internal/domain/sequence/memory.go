package sequence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository. Advance holds one mutex per
// entity for the whole read-modify-write, mirroring the row lock of the
// Postgres store.
type MemoryRepository struct {
	mu       sync.Mutex
	counters map[string]*Counter
	locks    map[string]*sync.Mutex
	// FailNext makes the next n Advance calls fail with this error.
	FailErr  error
	FailNext int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		counters: make(map[string]*Counter),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *MemoryRepository) entityLock(entity string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[entity]
	if !ok {
		l = &sync.Mutex{}
		m.locks[entity] = l
	}
	return l
}

func (m *MemoryRepository) Advance(_ context.Context, entity string, next func(last string) (string, error)) (string, error) {
	l := m.entityLock(entity)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	if m.FailNext > 0 {
		m.FailNext--
		err := m.FailErr
		m.mu.Unlock()
		return "", err
	}
	c, ok := m.counters[entity]
	var last string
	if ok && c.Active {
		last = c.LastCode
	}
	m.mu.Unlock()
	if !ok || !c.Active {
		return "", ErrCounterNotFound
	}

	code, err := next(last)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	c.LastCode = code
	c.UpdatedAt = time.Now()
	m.mu.Unlock()
	return code, nil
}

func (m *MemoryRepository) Seed(_ context.Context, entity, initialCode string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counters[entity]; ok {
		return false, nil
	}
	m.counters[entity] = &Counter{EntityName: entity, LastCode: initialCode, Active: true, UpdatedAt: time.Now()}
	return true, nil
}

// Deactivate flips a counter's active flag off.
func (m *MemoryRepository) Deactivate(entity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[entity]; ok {
		c.Active = false
	}
}

func (m *MemoryRepository) Get(_ context.Context, entity string) (*Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[entity]
	if !ok {
		return nil, ErrCounterNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryRepository) List(_ context.Context) ([]*Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]*Counter, 0, len(m.counters))
	for _, c := range m.counters {
		cp := *c
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].EntityName < items[j].EntityName })
	return items, nil
}
