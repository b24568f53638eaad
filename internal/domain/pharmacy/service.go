package pharmacy

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/outbox"
	"github.com/hms/hms/internal/platform/tracing"
)

const (
	tracerName = "github.com/hms/hms/internal/domain/pharmacy"

	aggregateDrug         = "drug"
	aggregatePrescription = "pharmacy_prescription"

	DefaultMaxRetries = 5
)

// Service is the inventory stock engine plus the dispensing track.
type Service struct {
	drugs         DrugRepository
	prescriptions PrescriptionRepository
	tx            db.TxRunner
	events        outbox.Writer
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	maxRetries    int
	now           func() time.Time
}

type Option func(*Service)

// WithMaxRetries bounds the compare-and-set rounds of a drug decrement.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(drugs DrugRepository, prescriptions PrescriptionRepository, tx db.TxRunner,
	events outbox.Writer, logger zerolog.Logger, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		drugs:         drugs,
		prescriptions: prescriptions,
		tx:            tx,
		events:        events,
		logger:        logger.With().Str("component", "pharmacy").Logger(),
		metrics:       m,
		maxRetries:    DefaultMaxRetries,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -- Drug catalogue --

func validateDrugRequest(req *DrugRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return ErrInvalidDrug.WithDetails("name is required")
	}
	if req.Quantity < 0 {
		return ErrInvalidQuantity
	}
	if req.UnitPrice.IsNegative() {
		return ErrInvalidDrug.WithDetails("unit_price must not be negative")
	}
	return nil
}

func (s *Service) CreateDrug(ctx context.Context, req *DrugRequest) (*Drug, error) {
	if err := validateDrugRequest(req); err != nil {
		return nil, err
	}
	d := &Drug{
		Name:         strings.TrimSpace(req.Name),
		DosageForm:   req.DosageForm,
		Quantity:     req.Quantity,
		UnitPrice:    req.UnitPrice,
		Manufacturer: req.Manufacturer,
		Description:  req.Description,
		ExpiryDate:   req.ExpiryDate,
	}
	d.Reclassify(s.now())
	if err := s.drugs.Create(ctx, d); err != nil {
		return nil, err
	}
	s.metrics.ObserveStockLevel(string(d.Status))
	return d, nil
}

func (s *Service) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return s.drugs.GetByID(ctx, id)
}

// UpdateDrug replaces every catalogue field and reclassifies. Like
// UpdateQuantity it is an absolute write: the last writer wins.
func (s *Service) UpdateDrug(ctx context.Context, id uuid.UUID, req *DrugRequest) (*Drug, error) {
	if err := validateDrugRequest(req); err != nil {
		return nil, err
	}
	var out *Drug
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		d, err := s.drugs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		prev := d.Status
		d.Name = strings.TrimSpace(req.Name)
		d.DosageForm = req.DosageForm
		d.Quantity = req.Quantity
		d.UnitPrice = req.UnitPrice
		d.Manufacturer = req.Manufacturer
		d.Description = req.Description
		d.ExpiryDate = req.ExpiryDate
		d.Reclassify(s.now())
		if err := s.drugs.Update(ctx, d); err != nil {
			return err
		}
		out = d
		return s.emitStockChange(ctx, d, prev)
	})
	return out, err
}

func (s *Service) DeleteDrug(ctx context.Context, id uuid.UUID) error {
	return s.drugs.Delete(ctx, id)
}

func (s *Service) ListDrugs(ctx context.Context, limit, offset int) ([]*Drug, int, error) {
	return s.drugs.List(ctx, limit, offset)
}

func (s *Service) ListDrugsByStatus(ctx context.Context, status DrugStatus) ([]*Drug, error) {
	if !validDrugStatuses[status] {
		return nil, ErrInvalidStatus.Withf("unknown drug status %q", status)
	}
	return s.drugs.ListByStatus(ctx, status)
}

func (s *Service) SearchDrugs(ctx context.Context, name string) ([]*Drug, error) {
	return s.drugs.SearchByName(ctx, strings.TrimSpace(name))
}

func (s *Service) ListLowStock(ctx context.Context) ([]*Drug, error) {
	return s.drugs.ListLowStock(ctx, LowStockThreshold)
}

// UpdateQuantity records a stock count. The new quantity replaces whatever is
// stored, a concurrent dispense included; only Dispense, whose result depends
// on the quantity it read, is conditioned on it.
func (s *Service) UpdateQuantity(ctx context.Context, id uuid.UUID, quantity int) (*Drug, error) {
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	var out *Drug
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		d, err := s.drugs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		prev := d.Status
		d.Quantity = quantity
		d.Reclassify(s.now())
		if err := s.drugs.SetQuantity(ctx, id, d.Quantity, d.Status); err != nil {
			return err
		}
		out = d
		return s.emitStockChange(ctx, d, prev)
	})
	return out, err
}

// CheckStockLevel reclassifies a drug against the current time and persists
// the result.
func (s *Service) CheckStockLevel(ctx context.Context, id uuid.UUID) (*Drug, error) {
	var out *Drug
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		d, err := s.drugs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		prev := d.Status
		if d.Reclassify(s.now()) {
			if err := s.drugs.SetStatus(ctx, id, d.Status); err != nil {
				return err
			}
		}
		out = d
		return s.emitStockChange(ctx, d, prev)
	})
	if err == nil {
		s.metrics.ObserveStockLevel(string(out.Status))
	}
	return out, err
}

// MarkExpired forces EXPIRED regardless of expiry date.
func (s *Service) MarkExpired(ctx context.Context, id uuid.UUID) (*Drug, error) {
	var out *Drug
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		d, err := s.drugs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		prev := d.Status
		if err := s.drugs.SetStatus(ctx, id, DrugExpired); err != nil {
			return err
		}
		d.Status = DrugExpired
		out = d
		return s.emitStockChange(ctx, d, prev)
	})
	if err == nil {
		s.metrics.ObserveExpired(1)
	}
	return out, err
}

// SweepExpired marks every drug whose expiry has passed as EXPIRED and
// returns how many changed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	drugs, err := s.drugs.ListExpiringBefore(ctx, now)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range drugs {
		prev := d.Status
		if !d.Reclassify(now) {
			continue
		}
		err := s.tx.WithTx(ctx, func(ctx context.Context) error {
			if err := s.drugs.SetStatus(ctx, d.ID, d.Status); err != nil {
				return err
			}
			return s.emitStockChange(ctx, d, prev)
		})
		if err != nil {
			return n, err
		}
		n++
	}
	s.metrics.ObserveExpired(n)
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("expired drugs reclassified")
	}
	return n, nil
}

// -- Stock engine --

// Dispense removes amount units from a drug's stock.
func (s *Service) Dispense(ctx context.Context, drugID uuid.UUID, amount int) (out *Drug, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "pharmacy.Dispense",
		trace.WithAttributes(attribute.String("drug.id", drugID.String()), attribute.Int("amount", amount)))
	defer func() { tracing.End(span, err) }()

	var retries int
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		d, prev, n, err := s.decrement(ctx, drugID, amount)
		retries = n
		if err != nil {
			return err
		}
		out = d
		return s.emitDispensed(ctx, d, prev, amount, nil)
	})
	s.metrics.ObserveDispense(retries, err == nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// decrement is a compare-and-set loop on the drug quantity. It returns the
// updated drug, its status before the write and the number of lost races.
func (s *Service) decrement(ctx context.Context, drugID uuid.UUID, amount int) (*Drug, DrugStatus, int, error) {
	if amount <= 0 {
		return nil, "", 0, ErrInvalidQuantity.WithDetails("amount must be positive")
	}
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		d, err := s.drugs.GetByID(ctx, drugID)
		if err != nil {
			return nil, "", attempt, err
		}
		if amount > d.Quantity {
			return nil, "", attempt, ErrInsufficientStock.Withf("available %d, requested %d", d.Quantity, amount)
		}
		prev := d.Status
		remaining := d.Quantity - amount
		next := Classify(remaining, d.ExpiryDate, s.now())
		ok, err := s.drugs.CompareAndSetQuantity(ctx, drugID, d.Quantity, remaining, next)
		if err != nil {
			return nil, "", attempt, err
		}
		if ok {
			d.Quantity, d.Status = remaining, next
			return d, prev, attempt, nil
		}
	}
	s.logger.Warn().Str("drug_id", drugID.String()).Int("retries", s.maxRetries).Msg("drug decrement lost every compare-and-set round")
	return nil, "", s.maxRetries, ErrStockContention
}

func (s *Service) emitDispensed(ctx context.Context, d *Drug, prev DrugStatus, amount int, prescriptionID *uuid.UUID) error {
	events := []outbox.Event{{
		AggregateID:   d.ID.String(),
		AggregateType: aggregateDrug,
		EventType:     "drug.dispensed",
		Topic:         outbox.TopicPharmacy,
		Payload: dispensedEvent{
			DrugID: d.ID, DrugName: d.Name, Amount: amount, Remaining: d.Quantity,
			Status: d.Status, PrescriptionID: prescriptionID,
		},
	}}
	if prev != d.Status {
		events = append(events, stockChanged(d, prev))
	}
	s.logger.Info().Str("drug_id", d.ID.String()).Int("amount", amount).Int("remaining", d.Quantity).
		Str("status", string(d.Status)).Msg("drug dispensed")
	return s.events.Write(ctx, events...)
}

func (s *Service) emitStockChange(ctx context.Context, d *Drug, prev DrugStatus) error {
	if prev == d.Status {
		return nil
	}
	s.logger.Info().Str("drug_id", d.ID.String()).Str("from", string(prev)).Str("to", string(d.Status)).Msg("drug stock status changed")
	return s.events.Write(ctx, stockChanged(d, prev))
}

func stockChanged(d *Drug, prev DrugStatus) outbox.Event {
	return outbox.Event{
		AggregateID:   d.ID.String(),
		AggregateType: aggregateDrug,
		EventType:     "drug.stock_changed",
		Topic:         outbox.TopicPharmacy,
		Payload:       stockChangedEvent{DrugID: d.ID, DrugName: d.Name, Quantity: d.Quantity, From: prev, To: d.Status},
	}
}
