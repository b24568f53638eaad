package ward

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/outbox"
	"github.com/hms/hms/internal/platform/tracing"
)

const (
	tracerName   = "github.com/hms/hms/internal/domain/ward"
	aggregateBed = "ward_bed"
)

// Service allocates ward beds to patients.
type Service struct {
	beds    BedRepository
	users   identity.Lookup
	tx      db.TxRunner
	events  outbox.Writer
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewService(beds BedRepository, users identity.Lookup, tx db.TxRunner, events outbox.Writer,
	logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		beds:    beds,
		users:   users,
		tx:      tx,
		events:  events,
		logger:  logger.With().Str("component", "ward").Logger(),
		metrics: m,
	}
}

// normalize trims both parts of key and rejects empty ones.
func normalize(key Key) (Key, error) {
	key.WardNo = strings.TrimSpace(key.WardNo)
	key.BedNo = strings.TrimSpace(key.BedNo)
	if key.WardNo == "" || key.BedNo == "" {
		return key, ErrInvalidBed
	}
	return key, nil
}

// Create registers an AVAILABLE bed.
func (s *Service) Create(ctx context.Context, key Key) (*Bed, error) {
	key, err := normalize(key)
	if err != nil {
		return nil, err
	}
	b := &Bed{WardNo: key.WardNo, BedNo: key.BedNo, Status: BedAvailable}
	if err := s.beds.Create(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info().Str("bed", key.String()).Msg("bed created")
	return b, nil
}

func (s *Service) Get(ctx context.Context, key Key) (*Bed, error) {
	key, err := normalize(key)
	if err != nil {
		return nil, err
	}
	return s.beds.Get(ctx, key)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Bed, error) {
	if f.Status != "" && !validBedStatuses[f.Status] {
		return nil, ErrInvalidStatus.Withf("unknown bed status %q", f.Status)
	}
	f.WardNo = strings.TrimSpace(f.WardNo)
	return s.beds.List(ctx, f)
}

// Assign occupies a bed with an active patient. The storage write is
// conditional, so of two concurrent assignments exactly one wins.
func (s *Service) Assign(ctx context.Context, key Key, patientID uuid.UUID) (out *Bed, err error) {
	key, err = normalize(key)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.Start(ctx, tracerName, "ward.Assign",
		trace.WithAttributes(attribute.String("bed", key.String()), attribute.String("patient.id", patientID.String())))
	defer func() {
		s.metrics.ObserveBedAssignment(assignmentResult(err))
		tracing.End(span, err)
	}()

	cur, err := s.beds.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if cur.Status == BedOccupied {
		return nil, ErrBedOccupied
	}
	if err := s.checkPatient(ctx, patientID); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.beds.Assign(ctx, key, patientID)
		if err != nil {
			return err
		}
		out = b
		return s.events.Write(ctx, bedChanged(b, "bed.assigned", cur))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("bed", key.String()).Str("patient_id", patientID.String()).Msg("bed assigned")
	return out, nil
}

func assignmentResult(err error) string {
	switch {
	case err == nil:
		return "assigned"
	case errors.Is(err, ErrBedOccupied):
		return "occupied"
	case errors.Is(err, ErrBedNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidPatient):
		return "invalid_patient"
	default:
		return "error"
	}
}

func (s *Service) checkPatient(ctx context.Context, id uuid.UUID) error {
	u, err := s.users.FindByID(ctx, id)
	if errors.Is(err, identity.ErrUserNotFound) {
		return ErrInvalidPatient
	}
	if err != nil {
		return err
	}
	if !u.IsActivePatient() {
		return ErrInvalidPatient
	}
	return nil
}

// Release frees the bed whatever its current state.
func (s *Service) Release(ctx context.Context, key Key) (*Bed, error) {
	key, err := normalize(key)
	if err != nil {
		return nil, err
	}
	return s.setState(ctx, key, BedAvailable, "bed.released")
}

// SetStatus is an administrative override. Leaving OCCUPIED clears the
// patient; entering OCCUPIED requires Assign.
func (s *Service) SetStatus(ctx context.Context, key Key, status BedStatus) (*Bed, error) {
	key, err := normalize(key)
	if err != nil {
		return nil, err
	}
	if !validBedStatuses[status] {
		return nil, ErrInvalidStatus.Withf("unknown bed status %q", status)
	}
	if status == BedOccupied {
		cur, err := s.beds.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if cur.Status == BedOccupied {
			return cur, nil
		}
		return nil, ErrInvalidStatus.WithDetails("assign a patient to occupy a bed")
	}
	return s.setState(ctx, key, status, "bed.status_changed")
}

func (s *Service) setState(ctx context.Context, key Key, status BedStatus, eventType string) (*Bed, error) {
	var out *Bed
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		prev, err := s.beds.Get(ctx, key)
		if err != nil {
			return err
		}
		b, err := s.beds.SetState(ctx, key, status, nil)
		if err != nil {
			return err
		}
		out = b
		return s.events.Write(ctx, bedChanged(b, eventType, prev))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("bed", key.String()).Str("status", string(status)).Msg("bed state changed")
	return out, nil
}

// Delete removes the bed, occupied or not.
func (s *Service) Delete(ctx context.Context, key Key) error {
	key, err := normalize(key)
	if err != nil {
		return err
	}
	if err := s.beds.Delete(ctx, key); err != nil {
		return err
	}
	s.logger.Info().Str("bed", key.String()).Msg("bed deleted")
	return nil
}

func bedChanged(b *Bed, eventType string, prev *Bed) outbox.Event {
	payload := bedEvent{WardNo: b.WardNo, BedNo: b.BedNo, Status: b.Status, PatientID: b.PatientID}
	if prev != nil {
		payload.PreviousStatus = prev.Status
		payload.PreviousPatient = prev.PatientID
	}
	return outbox.Event{
		AggregateID:   b.ID.String(),
		AggregateType: aggregateBed,
		EventType:     eventType,
		Topic:         outbox.TopicWard,
		Payload:       payload,
	}
}
