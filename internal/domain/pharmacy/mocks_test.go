package pharmacy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/outbox"
)

// -- Drug repo --

type mockDrugRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]Drug
	// casHook runs before every compare-and-set; returning false forces a lost race.
	casHook func() bool
}

func newMockDrugRepo() *mockDrugRepo {
	return &mockDrugRepo{store: make(map[uuid.UUID]Drug)}
}

func (m *mockDrugRepo) Create(_ context.Context, d *Drug) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.store[d.ID] = *d
	return nil
}

func (m *mockDrugRepo) GetByID(_ context.Context, id uuid.UUID) (*Drug, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return nil, ErrDrugNotFound
	}
	return &d, nil
}

func (m *mockDrugRepo) Update(_ context.Context, d *Drug) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[d.ID]; !ok {
		return ErrDrugNotFound
	}
	d.UpdatedAt = time.Now()
	m.store[d.ID] = *d
	return nil
}

func (m *mockDrugRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return ErrDrugNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockDrugRepo) filter(keep func(Drug) bool) []*Drug {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Drug
	for _, d := range m.store {
		if keep(d) {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *mockDrugRepo) List(_ context.Context, limit, offset int) ([]*Drug, int, error) {
	all := m.filter(func(Drug) bool { return true })
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (m *mockDrugRepo) ListByStatus(_ context.Context, status DrugStatus) ([]*Drug, error) {
	return m.filter(func(d Drug) bool { return d.Status == status }), nil
}

func (m *mockDrugRepo) SearchByName(_ context.Context, name string) ([]*Drug, error) {
	needle := strings.ToLower(name)
	return m.filter(func(d Drug) bool { return strings.Contains(strings.ToLower(d.Name), needle) }), nil
}

func (m *mockDrugRepo) ListLowStock(_ context.Context, threshold int) ([]*Drug, error) {
	return m.filter(func(d Drug) bool { return d.Quantity <= threshold }), nil
}

func (m *mockDrugRepo) ListExpiringBefore(_ context.Context, t time.Time) ([]*Drug, error) {
	return m.filter(func(d Drug) bool {
		return d.ExpiryDate != nil && d.ExpiryDate.Before(t) && d.Status != DrugExpired
	}), nil
}

func (m *mockDrugRepo) CompareAndSetQuantity(_ context.Context, id uuid.UUID, expected, quantity int, status DrugStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.casHook != nil && !m.casHook() {
		return false, nil
	}
	d, ok := m.store[id]
	if !ok || d.Quantity != expected {
		return false, nil
	}
	d.Quantity, d.Status = quantity, status
	m.store[id] = d
	return true, nil
}

func (m *mockDrugRepo) SetQuantity(_ context.Context, id uuid.UUID, quantity int, status DrugStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return ErrDrugNotFound
	}
	d.Quantity, d.Status = quantity, status
	m.store[id] = d
	return nil
}

func (m *mockDrugRepo) SetStatus(_ context.Context, id uuid.UUID, status DrugStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return ErrDrugNotFound
	}
	d.Status = status
	m.store[id] = d
	return nil
}

func (m *mockDrugRepo) snapshot() map[uuid.UUID]Drug {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[uuid.UUID]Drug, len(m.store))
	for k, v := range m.store {
		cp[k] = v
	}
	return cp
}

func (m *mockDrugRepo) restore(s map[uuid.UUID]Drug) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = s
}

// -- Pharmacy prescription repo --

type mockRxRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]Prescription
	// beforeMark runs before MarkDispensed, simulating a concurrent writer.
	beforeMark func(p *Prescription)
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

func (m *mockRxRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, ErrPrescriptionNotFound
	}
	return &p, nil
}

func (m *mockRxRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return ErrPrescriptionNotFound
	}
	delete(m.store, id)
	return nil
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

func (m *mockRxRepo) List(_ context.Context, limit, offset int) ([]*Prescription, int, error) {
	all := m.filter(func(Prescription) bool { return true })
	return all, len(all), nil
}

func (m *mockRxRepo) ListByStatus(_ context.Context, status PrescriptionStatus) ([]*Prescription, error) {
	return m.filter(func(p Prescription) bool { return p.Status == status }), nil
}

func (m *mockRxRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return m.filter(func(p Prescription) bool { return p.PatientID == patientID }), nil
}

func (m *mockRxRepo) ListByPharmacist(_ context.Context, pharmacistID uuid.UUID) ([]*Prescription, error) {
	return m.filter(func(p Prescription) bool { return p.PharmacistID != nil && *p.PharmacistID == pharmacistID }), nil
}

func (m *mockRxRepo) UpdateUnlessDispensed(_ context.Context, p *Prescription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.store[p.ID]
	if !ok || cur.Status == PrescriptionDispensed {
		return false, nil
	}
	p.UpdatedAt = time.Now()
	m.store[p.ID] = *p
	return true, nil
}

func (m *mockRxRepo) MarkDispensed(_ context.Context, id, pharmacistID uuid.UUID, name string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return false, nil
	}
	if m.beforeMark != nil {
		m.beforeMark(&p)
	}
	if !p.Dispensable() {
		m.store[id] = p
		return false, nil
	}
	p.Status = PrescriptionDispensed
	p.PharmacistID = &pharmacistID
	p.PharmacistName = &name
	p.DispensedAt = &at
	m.store[id] = p
	return true, nil
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

func (w *recordingWriter) truncate(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = w.events[:n]
}

func (w *recordingWriter) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

// -- Transactions --

// passthroughTx runs fn without rollback; safe for concurrent use.
type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// rollbackTx restores the in-memory stores when fn fails. Not for
// concurrent tests.
type rollbackTx struct {
	drugs  *mockDrugRepo
	rx     *mockRxRepo
	events *recordingWriter
}

func (t *rollbackTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	drugs, rx, n := t.drugs.snapshot(), t.rx.snapshot(), t.events.len()
	if err := fn(ctx); err != nil {
		t.drugs.restore(drugs)
		t.rx.restore(rx)
		t.events.truncate(n)
		return err
	}
	return nil
}

// -- Fixture --

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	drugs  *mockDrugRepo
	rx     *mockRxRepo
	events *recordingWriter
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{drugs: newMockDrugRepo(), rx: newMockRxRepo(), events: &recordingWriter{}}
	tx := &rollbackTx{drugs: f.drugs, rx: f.rx, events: f.events}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	f.svc = NewService(f.drugs, f.rx, tx, f.events, zerolog.Nop(), nil, opts...)
	return f
}

func (f *fixture) seedDrug(name string, qty int, expiry *time.Time) *Drug {
	d := &Drug{Name: name, DosageForm: "tablet", Quantity: qty, ExpiryDate: expiry}
	d.Reclassify(fixedNow)
	_ = f.drugs.Create(context.Background(), d)
	return d
}
