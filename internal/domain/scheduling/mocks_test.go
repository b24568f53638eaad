package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/outbox"
)

type slot struct {
	doctor uuid.UUID
	at     time.Time
}

// mockAppointmentRepo enforces the (doctor, time) uniqueness the database
// index provides.
type mockAppointmentRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]Appointment
	slots map[slot]uuid.UUID
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{store: make(map[uuid.UUID]Appointment), slots: make(map[slot]uuid.UUID)}
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := slot{a.DoctorID, a.AppointmentAt}
	if _, ok := m.slots[k]; ok {
		return ErrSlotTaken
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.store[a.ID] = *a
	m.slots[k] = a.ID
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *mockAppointmentRepo) SlotTaken(_ context.Context, doctorID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.slots[slot{doctorID, at}]
	return ok, nil
}

func (m *mockAppointmentRepo) list(match func(Appointment) bool) []*Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.store {
		if match(a) {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentAt.Before(out[j].AppointmentAt) })
	return out
}

func (m *mockAppointmentRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	return m.list(func(a Appointment) bool { return a.PatientID == patientID }), nil
}

func (m *mockAppointmentRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*Appointment, error) {
	return m.list(func(a Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (m *mockAppointmentRepo) Transition(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	m.store[id] = a
	return true, nil
}

type mockSurgeryRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]Surgery
}

func newMockSurgeryRepo() *mockSurgeryRepo {
	return &mockSurgeryRepo{store: make(map[uuid.UUID]Surgery)}
}

func (m *mockSurgeryRepo) Create(_ context.Context, s *Surgery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	m.store[s.ID] = *s
	return nil
}

func (m *mockSurgeryRepo) GetByID(_ context.Context, id uuid.UUID) (*Surgery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return nil, ErrSurgeryNotFound
	}
	return &s, nil
}

func (m *mockSurgeryRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*Surgery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Surgery
	for _, s := range m.store {
		if s.DoctorID == doctorID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *mockSurgeryRepo) ListByPatient(_ context.Context, patientID uuid.UUID, status SurgeryStatus) ([]*Surgery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Surgery
	for _, s := range m.store {
		if s.PatientID == patientID && (status == "" || s.Status == status) {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *mockSurgeryRepo) Update(_ context.Context, s *Surgery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[s.ID]; !ok {
		return ErrSurgeryNotFound
	}
	m.store[s.ID] = *s
	return nil
}

func (m *mockSurgeryRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return ErrSurgeryNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockSurgeryRepo) Complete(_ context.Context, id uuid.UUID, at time.Time) (*Surgery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return nil, ErrSurgeryNotFound
	}
	s.Status = SurgeryCompleted
	s.CompletedAt = &at
	m.store[id] = s
	return &s, nil
}

func (m *mockSurgeryRepo) CountByStatus(_ context.Context, doctorID uuid.UUID) (*SurgeryCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c SurgeryCounts
	for _, s := range m.store {
		if s.DoctorID != doctorID {
			continue
		}
		switch s.Status {
		case SurgeryPending:
			c.Pending++
		case SurgeryCompleted:
			c.Completed++
		}
	}
	return &c, nil
}

type mockUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*identity.User
}

func (m *mockUsers) FindByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

func (m *mockUsers) FindByEmail(_ context.Context, email string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

type recordingWriter struct {
	mu     sync.Mutex
	events []outbox.Event
}

func (w *recordingWriter) Write(_ context.Context, events ...outbox.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, events...)
	return nil
}

func (w *recordingWriter) types() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.events))
	for i, e := range w.events {
		out[i] = e.EventType
	}
	return out
}

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc          *Service
	appointments *mockAppointmentRepo
	surgeries    *mockSurgeryRepo
	users        *mockUsers
	events       *recordingWriter
	now          time.Time
}

func newFixture() *fixture {
	f := &fixture{
		appointments: newMockAppointmentRepo(),
		surgeries:    newMockSurgeryRepo(),
		users:        &mockUsers{users: make(map[uuid.UUID]*identity.User)},
		events:       &recordingWriter{},
		now:          fixedNow,
	}
	f.svc = NewService(f.appointments, f.surgeries, f.users, passthroughTx{}, f.events, zerolog.Nop(), nil,
		WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) addUser(u *identity.User) *identity.User {
	u.ID = uuid.New()
	u.Email = u.ID.String() + "@example.com"
	f.users.mu.Lock()
	f.users.users[u.ID] = u
	f.users.mu.Unlock()
	return u
}

func (f *fixture) patient() *identity.User {
	return f.addUser(&identity.User{FirstName: "Ada", LastName: "Patel", Roles: []string{identity.RolePatient}, Active: true})
}

func (f *fixture) doctor() *identity.User {
	spec := "Cardiology"
	return f.addUser(&identity.User{
		FirstName: "Grace", LastName: "Okafor", Roles: []string{identity.RoleDoctor},
		Active: true, Approved: true, Specialization: &spec,
	})
}

func (f *fixture) book(patient, doctor *identity.User, at time.Time) (*Appointment, error) {
	return f.svc.Book(context.Background(), patient.ID, &BookingRequest{DoctorID: doctor.ID, AppointmentAt: at})
}

func (f *fixture) surgery(doctor, patient *identity.User) *Surgery {
	sg, err := f.svc.ScheduleSurgery(context.Background(), doctor.ID, &SurgeryRequest{
		PatientID: patient.ID, Condition: "appendicitis", ScheduledAt: fixedNow.Add(48 * time.Hour),
	})
	if err != nil {
		panic(err)
	}
	return sg
}

func strPtr(s string) *string { return &s }
