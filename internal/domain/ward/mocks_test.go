package ward

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/outbox"
)

type mockBedRepo struct {
	mu    sync.Mutex
	store map[Key]Bed
}

func newMockBedRepo() *mockBedRepo {
	return &mockBedRepo{store: make(map[Key]Bed)}
}

func (m *mockBedRepo) Create(_ context.Context, b *Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[b.Key()]; ok {
		return ErrDuplicateBed
	}
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	m.store[b.Key()] = *b
	return nil
}

func (m *mockBedRepo) Get(_ context.Context, key Key) (*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.store[key]
	if !ok {
		return nil, ErrBedNotFound
	}
	return &b, nil
}

func (m *mockBedRepo) List(_ context.Context, f Filter) ([]*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Bed
	for _, b := range m.store {
		if (f.WardNo == "" || f.WardNo == b.WardNo) && (f.Status == "" || f.Status == b.Status) {
			b := b
			out = append(out, &b)
		}
	}
	return out, nil
}

func (m *mockBedRepo) Assign(_ context.Context, key Key, patientID uuid.UUID) (*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.store[key]
	if !ok {
		return nil, ErrBedNotFound
	}
	if b.Status == BedOccupied {
		return nil, ErrBedOccupied
	}
	b.Status = BedOccupied
	b.PatientID = &patientID
	b.UpdatedAt = time.Now()
	m.store[key] = b
	return &b, nil
}

func (m *mockBedRepo) SetState(_ context.Context, key Key, status BedStatus, patientID *uuid.UUID) (*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.store[key]
	if !ok {
		return nil, ErrBedNotFound
	}
	b.Status = status
	b.PatientID = patientID
	b.UpdatedAt = time.Now()
	m.store[key] = b
	return &b, nil
}

func (m *mockBedRepo) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[key]; !ok {
		return ErrBedNotFound
	}
	delete(m.store, key)
	return nil
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

type fixture struct {
	svc    *Service
	beds   *mockBedRepo
	users  *mockUsers
	events *recordingWriter
}

func newFixture() *fixture {
	f := &fixture{
		beds:   newMockBedRepo(),
		users:  &mockUsers{users: make(map[uuid.UUID]*identity.User)},
		events: &recordingWriter{},
	}
	f.svc = NewService(f.beds, f.users, passthroughTx{}, f.events, zerolog.Nop(), nil)
	return f
}

func (f *fixture) patient(active bool) uuid.UUID {
	u := &identity.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Roles: []string{identity.RolePatient}, Active: active}
	f.users.mu.Lock()
	f.users.users[u.ID] = u
	f.users.mu.Unlock()
	return u.ID
}

func (f *fixture) seedBed(ward, bed string) Key {
	key := Key{WardNo: ward, BedNo: bed}
	_ = f.beds.Create(context.Background(), &Bed{WardNo: ward, BedNo: bed, Status: BedAvailable})
	return key
}
