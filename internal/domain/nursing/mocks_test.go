package nursing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/outbox"
)

// -- Identity --

type mockUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*identity.User
}

func newMockUsers() *mockUsers {
	return &mockUsers{users: make(map[uuid.UUID]*identity.User)}
}

func (m *mockUsers) add(u *identity.User) *identity.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	m.users[u.ID] = u
	return u
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
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (m *mockUsers) CountActivePatients(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.users {
		if u.IsActivePatient() {
			n++
		}
	}
	return n, nil
}

func (m *mockUsers) SearchPatients(_ context.Context, _ identity.SearchType, term string) ([]*identity.User, error) {
	all, _ := m.ListPatients(context.Background(), term)
	var out []*identity.User
	for _, u := range all {
		if u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockUsers) ListPatients(_ context.Context, q string) ([]*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q = strings.ToLower(q)
	var out []*identity.User
	for _, u := range m.users {
		if u.HasRole(identity.RolePatient) && strings.Contains(strings.ToLower(u.FullName()+" "+u.Email), q) {
			out = append(out, u)
		}
	}
	return out, nil
}

// -- Medication repo --

type mockMedRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]Medication
}

func newMockMedRepo() *mockMedRepo {
	return &mockMedRepo{store: make(map[uuid.UUID]Medication)}
}

func (m *mockMedRepo) Create(_ context.Context, med *Medication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	med.ID = uuid.New()
	med.CreatedAt = time.Now()
	med.UpdatedAt = med.CreatedAt
	m.store[med.ID] = *med
	return nil
}

func (m *mockMedRepo) GetByID(_ context.Context, id uuid.UUID) (*Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	med, ok := m.store[id]
	if !ok {
		return nil, ErrMedicationNotFound
	}
	return &med, nil
}

func (m *mockMedRepo) List(_ context.Context, activeOnly bool) ([]*Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Medication
	for _, med := range m.store {
		if activeOnly && !med.Active {
			continue
		}
		med := med
		out = append(out, &med)
	}
	return out, nil
}

// -- Prescription repo --

type mockRxRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]Prescription
}

func newMockRxRepo() *mockRxRepo {
	return &mockRxRepo{store: make(map[uuid.UUID]Prescription)}
}

func (m *mockRxRepo) Create(_ context.Context, p *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.store[p.ID] = *p
	return nil
}

func (m *mockRxRepo) put(p Prescription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[p.ID] = p
}

func (m *mockRxRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, ErrPrescriptionNotFound
	}
	return &p, nil
}

func (m *mockRxRepo) filter(keep func(Prescription) bool) []*Prescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Prescription
	for _, p := range m.store {
		if keep(p) {
			p := p
			out = append(out, &p)
		}
	}
	return out
}

func (m *mockRxRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return m.filter(func(p Prescription) bool { return p.PatientID == patientID }), nil
}

func (m *mockRxRepo) ListActiveForMedication(_ context.Context, patientID, medicationID uuid.UUID) ([]*Prescription, error) {
	return m.filter(func(p Prescription) bool {
		return p.PatientID == patientID && p.MedicationID == medicationID && p.Status == PrescriptionActive
	}), nil
}

func (m *mockRxRepo) ListActiveForPatient(_ context.Context, patientID uuid.UUID, now time.Time) ([]*Prescription, error) {
	return m.filter(func(p Prescription) bool {
		return p.PatientID == patientID && p.Status == PrescriptionActive && (p.EndDate == nil || p.EndDate.After(now))
	}), nil
}

func (m *mockRxRepo) ConsumeOne(_ context.Context, id uuid.UUID) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok || p.Status != PrescriptionActive || !p.HasRemaining() {
		return nil, ErrNoValidPrescription
	}
	if p.RemainingQuantity != nil {
		left := *p.RemainingQuantity - 1
		p.RemainingQuantity = &left
		if left == 0 {
			p.Status = PrescriptionCompleted
		}
	}
	p.UpdatedAt = time.Now()
	m.store[id] = p
	return &p, nil
}

func (m *mockRxRepo) ExpireLapsed(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, p := range m.store {
		if p.Status == PrescriptionActive && p.EndDate != nil && !p.EndDate.After(now) {
			p.Status = PrescriptionExpired
			m.store[id] = p
			n++
		}
	}
	return n, nil
}

func (m *mockRxRepo) CountActiveBetween(_ context.Context, from, to time.Time) (int, error) {
	return len(m.filter(func(p Prescription) bool {
		return p.Status == PrescriptionActive && !p.StartDate.After(to) && (p.EndDate == nil || !p.EndDate.Before(from))
	})), nil
}

func (m *mockRxRepo) snapshot() map[uuid.UUID]Prescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[uuid.UUID]Prescription, len(m.store))
	for k, v := range m.store {
		cp[k] = v
	}
	return cp
}

func (m *mockRxRepo) restore(s map[uuid.UUID]Prescription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = s
}

// -- Administration record repo --

type mockRecordRepo struct {
	mu    sync.Mutex
	store map[string]AdministrationRecord
	// failCreate makes Create fail after the prescription was consumed.
	failCreate error
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{store: make(map[string]AdministrationRecord)}
}

func (m *mockRecordRepo) Create(_ context.Context, r *AdministrationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	m.store[r.RecordID] = *r
	return nil
}

func (m *mockRecordRepo) GetByRecordID(_ context.Context, recordID string) (*AdministrationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[recordID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &r, nil
}

func (m *mockRecordRepo) SetAdverseReaction(_ context.Context, recordID, reaction string) (*AdministrationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[recordID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	r.AdverseReaction = &reaction
	r.UpdatedAt = time.Now()
	m.store[recordID] = r
	return &r, nil
}

func (m *mockRecordRepo) filter(keep func(AdministrationRecord) bool) []*AdministrationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AdministrationRecord
	for _, r := range m.store {
		if keep(r) {
			r := r
			out = append(out, &r)
		}
	}
	return out
}

func (m *mockRecordRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*AdministrationRecord, error) {
	return m.filter(func(r AdministrationRecord) bool { return r.PatientID == patientID }), nil
}

func (m *mockRecordRepo) ListByNurse(_ context.Context, nurseID uuid.UUID) ([]*AdministrationRecord, error) {
	return m.filter(func(r AdministrationRecord) bool { return r.NurseID == nurseID }), nil
}

func (m *mockRecordRepo) ListByNurseBetween(_ context.Context, nurseID uuid.UUID, from, to time.Time) ([]*AdministrationRecord, error) {
	return m.filter(func(r AdministrationRecord) bool {
		return r.NurseID == nurseID && !r.AdministrationTime.Before(from) && !r.AdministrationTime.After(to)
	}), nil
}

func (m *mockRecordRepo) ListRecent(_ context.Context, patientID, medicationID uuid.UUID, since time.Time) ([]*AdministrationRecord, error) {
	return m.filter(func(r AdministrationRecord) bool {
		return r.PatientID == patientID && r.MedicationID == medicationID && !r.AdministrationTime.Before(since)
	}), nil
}

func (m *mockRecordRepo) CountAdverseReactionsByNurse(_ context.Context, nurseID uuid.UUID) (int, error) {
	return len(m.filter(func(r AdministrationRecord) bool {
		return r.NurseID == nurseID && r.AdverseReaction != nil && *r.AdverseReaction != ""
	})), nil
}

func (m *mockRecordRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

func (m *mockRecordRepo) snapshot() map[string]AdministrationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]AdministrationRecord, len(m.store))
	for k, v := range m.store {
		cp[k] = v
	}
	return cp
}

func (m *mockRecordRepo) restore(s map[string]AdministrationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = s
}

// -- Outbox --

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

func (w *recordingWriter) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

func (w *recordingWriter) truncate(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = w.events[:n]
}

// -- Transactions --

// rollbackTx restores every store when fn fails.
type rollbackTx struct {
	rx      *mockRxRepo
	records *mockRecordRepo
	events  *recordingWriter
}

func (t *rollbackTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	rx, records, n := t.rx.snapshot(), t.records.snapshot(), t.events.len()
	if err := fn(ctx); err != nil {
		t.rx.restore(rx)
		t.records.restore(records)
		t.events.truncate(n)
		return err
	}
	return nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// -- Fixture --

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	users   *mockUsers
	meds    *mockMedRepo
	rx      *mockRxRepo
	records *mockRecordRepo
	events  *recordingWriter
	now     time.Time
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		users:   newMockUsers(),
		meds:    newMockMedRepo(),
		rx:      newMockRxRepo(),
		records: newMockRecordRepo(),
		events:  &recordingWriter{},
		now:     fixedNow,
	}
	tx := &rollbackTx{rx: f.rx, records: f.records, events: f.events}
	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.svc = NewService(f.meds, f.rx, f.records, f.users, tx, f.events, zerolog.Nop(), nil, opts...)
	return f
}

func (f *fixture) seedPatient(allergies ...string) *identity.User {
	return f.users.add(&identity.User{
		Email:     uuid.NewString()[:8] + "@patients.example.com",
		FirstName: "Pat",
		LastName:  "Ient",
		Roles:     []string{identity.RolePatient},
		Active:    true,
		Approved:  true,
		Allergies: allergies,
	})
}

func (f *fixture) seedMedication(name string) *Medication {
	m := &Medication{Name: name, DosageStrength: decimal.NewFromInt(500), DosageUnit: "mg", Active: true}
	_ = f.meds.Create(context.Background(), m)
	return m
}

// seedPrescription stores an ACTIVE 500 mg order with the given remaining
// quantity; nil means unlimited.
func (f *fixture) seedPrescription(patient *identity.User, med *Medication, total int, remaining *int) *Prescription {
	p := &Prescription{
		PrescriptionID:    newReference("RX"),
		PatientID:         patient.ID,
		PrescriberID:      uuid.New(),
		MedicationID:      med.ID,
		MedicationName:    med.Name,
		Dosage:            decimal.NewFromInt(500),
		DosageUnit:        "mg",
		Frequency:         "BID",
		StartDate:         fixedNow.Add(-48 * time.Hour),
		TotalQuantity:     total,
		RemainingQuantity: remaining,
		Status:            PrescriptionActive,
	}
	_ = f.rx.Create(context.Background(), p)
	return p
}

func intPtr(n int) *int { return &n }

func (f *fixture) request(patient *identity.User, med *Medication) *AdministrationRequest {
	return &AdministrationRequest{
		PatientID:          patient.ID,
		MedicationID:       med.ID,
		AdministeredDosage: decimal.NewFromInt(500),
		DosageUnit:         "mg",
	}
}
