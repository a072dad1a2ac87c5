package appointment

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/catalog"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/sequence"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/workforce"
)

// -- Mock Repository --

type mockRepo struct {
	mu           sync.Mutex
	appointments map[string]*Appointment
	assignments  map[string]*Assignment
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		appointments: make(map[string]*Appointment),
		assignments:  make(map[string]*Assignment),
	}
}

type repoState struct {
	appointments map[string]Appointment
	assignments  map[string]Assignment
}

func (m *mockRepo) snapshot() repoState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := repoState{appointments: map[string]Appointment{}, assignments: map[string]Assignment{}}
	for k, v := range m.appointments {
		st.appointments[k] = *v
	}
	for k, v := range m.assignments {
		st.assignments[k] = *v
	}
	return st
}

func (m *mockRepo) restore(st repoState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments = make(map[string]*Appointment, len(st.appointments))
	for k, v := range st.appointments {
		v := v
		m.appointments[k] = &v
	}
	m.assignments = make(map[string]*Assignment, len(st.assignments))
	for k, v := range st.assignments {
		v := v
		m.assignments[k] = &v
	}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	m.appointments[a.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id string) (*Appointment, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	a.UpdatedAt = time.Now()
	cp := *a
	cp.ActiveAssignment, cp.Package = nil, nil
	m.appointments[a.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*Appointment
	for _, a := range m.appointments {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.SubscriberID != "" && a.SubscriberID != f.SubscriberID {
			continue
		}
		if f.ProviderID != "" && (a.ProviderID == nil || *a.ProviderID != f.ProviderID) {
			continue
		}
		if f.WorkerID != "" && !m.heldLocked(a.ID, f.WorkerID) {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *mockRepo) heldLocked(appointmentID, workerID string) bool {
	for _, s := range m.assignments {
		if s.AppointmentID == appointmentID && s.WorkerID == workerID && s.Active {
			return true
		}
	}
	return false
}

func (m *mockRepo) CreateAssignment(_ context.Context, asg *Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if asg.Active {
		for _, s := range m.assignments {
			if s.AppointmentID == asg.AppointmentID && s.Active {
				return ErrInvalidTransition
			}
		}
	}
	now := time.Now()
	asg.CreatedAt, asg.UpdatedAt = now, now
	cp := *asg
	m.assignments[asg.ID] = &cp
	return nil
}

func (m *mockRepo) UpdateAssignment(_ context.Context, asg *Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[asg.ID]; !ok {
		return ErrNoActiveAssignment
	}
	asg.UpdatedAt = time.Now()
	cp := *asg
	m.assignments[asg.ID] = &cp
	return nil
}

func (m *mockRepo) ActiveAssignment(_ context.Context, appointmentID string) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.assignments {
		if s.AppointmentID == appointmentID && s.Active {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNoActiveAssignment
}

func (m *mockRepo) ListAssignments(_ context.Context, appointmentID string) ([]*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*Assignment
	for _, s := range m.assignments {
		if s.AppointmentID == appointmentID {
			cp := *s
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *mockRepo) activeCount(appointmentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.assignments {
		if s.AppointmentID == appointmentID && s.Active {
			n++
		}
	}
	return n
}

// -- Transactions --

// rollbackTx serializes units of work like a row lock and restores the
// repository when fn fails.
type rollbackTx struct {
	mu   sync.Mutex
	repo *mockRepo
}

func (t *rollbackTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.repo.snapshot()
	if err := fn(ctx); err != nil {
		t.repo.restore(st)
		return err
	}
	return nil
}

type nopTx struct{}

func (nopTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type failingAllocator struct{ err error }

func (f failingAllocator) Allocate(context.Context, string) (string, error) { return "", f.err }

// -- Fixtures --

type fixture struct {
	svc  *Service
	repo *mockRepo
	dir  *workforce.MemoryDirectory
	seq  *sequence.Service
}

const (
	orgID   = "ICSORG0001"
	subtype = "physio"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	seqRepo := sequence.NewMemoryRepository()
	ctx := context.Background()
	for entity, code := range map[string]string{
		sequence.EntityAppointment: "ICSPAPT000",
		sequence.EntityAssignment:  "ICSASGN00000",
	} {
		if _, err := seqRepo.Seed(ctx, entity, code); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	seq := sequence.NewService(seqRepo, nopTx{}, 0)

	dir := workforce.NewMemoryDirectory()
	dir.PutOrganization(&workforce.Organization{ID: orgID, Name: "CareWell", Mobile: "9000000001", Active: true})
	dir.PutOrganization(&workforce.Organization{ID: "ICSORG0002", Name: "HomeHeal", Mobile: "9000000002", Active: true})
	dir.PutWorker(&workforce.Worker{ID: "ICSEMP0001", OrganizationID: orgID, ServiceSubtype: subtype, Active: true})

	sessions := 6
	cat := catalog.NewMemoryReader(&catalog.Package{
		ID: "ICSCPCK0001", Name: "Knee rehab", ServiceType: "therapy", ServiceSubtype: subtype,
		SessionCount: &sessions, Active: true,
	})

	repo := newMockRepo()
	return &fixture{
		svc:  NewService(repo, &rollbackTx{repo: repo}, seq, dir, cat),
		repo: repo,
		dir:  dir,
		seq:  seq,
	}
}

func (f *fixture) addWorker(id, org, st string, active bool) {
	f.dir.PutWorker(&workforce.Worker{ID: id, OrganizationID: org, ServiceSubtype: st, Active: active})
}

// listed creates a Listed appointment through the service.
func (f *fixture) listed(t *testing.T) *Appointment {
	t.Helper()
	a := &Appointment{
		SubscriberID:   "ICSSUB0001",
		PackageID:      "ICSCPCK0001",
		VisitMode:      "home",
		ScheduledFrom:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ScheduledUntil: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		SessionTime:    "10:00",
	}
	if err := f.svc.CreateAppointment(context.Background(), a); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return a
}

// accepted creates an appointment accepted by ICSEMP0001.
func (f *fixture) accepted(t *testing.T) *Appointment {
	t.Helper()
	a := f.listed(t)
	if _, err := f.svc.Accept(context.Background(), a.ID, "ICSEMP0001"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return a
}
