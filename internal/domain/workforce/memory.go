package workforce

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryDirectory is an in-process Directory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	orgs    map[string]*Organization
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		workers: make(map[string]*Worker),
		orgs:    make(map[string]*Organization),
	}
}

func (m *MemoryDirectory) PutOrganization(o *Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orgs[o.ID] = &cp
}

func (m *MemoryDirectory) PutWorker(w *Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.workers[w.ID] = &cp
}

func (m *MemoryDirectory) GetWorker(_ context.Context, id string) (*Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, ErrWorkerNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryDirectory) GetOrganization(_ context.Context, id string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orgs[id]
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryDirectory) ListAvailableWorkers(_ context.Context, orgID, subtype, exclude string) ([]*Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []*Worker
	for _, w := range m.workers {
		if w.OrganizationID == orgID && w.ServiceSubtype == subtype && w.Active && w.ID != exclude {
			cp := *w
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// MemoryDeviceRegistry is an in-process DeviceRegistry.
type MemoryDeviceRegistry struct {
	mu      sync.Mutex
	devices []*DeviceToken
	nextID  int64
}

func NewMemoryDeviceRegistry() *MemoryDeviceRegistry {
	return &MemoryDeviceRegistry{}
}

func (m *MemoryDeviceRegistry) GetActiveDeviceToken(_ context.Context, mobile string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.devices) - 1; i >= 0; i-- {
		if d := m.devices[i]; d.Mobile == mobile && d.Active {
			return d.Token, nil
		}
	}
	return "", ErrNoDevice
}

func (m *MemoryDeviceRegistry) RegisterDevice(_ context.Context, d *DeviceToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.devices {
		if existing.Token == d.Token && existing.Mobile != d.Mobile {
			existing.Active = false
		}
	}
	m.nextID++
	d.ID = m.nextID
	d.Active = true
	d.UpdatedAt = time.Now()
	cp := *d
	m.devices = append(m.devices, &cp)
	return nil
}
