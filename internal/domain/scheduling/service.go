package scheduling

import (
	"context"
	"errors"
	"time"

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
	tracerName = "github.com/hms/hms/internal/domain/scheduling"

	aggregateAppointment = "appointment"
	aggregateSurgery     = "surgery"
)

// Service books appointments and schedules surgeries.
type Service struct {
	appointments AppointmentRepository
	surgeries    SurgeryRepository
	users        identity.Lookup
	tx           db.TxRunner
	events       outbox.Writer
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(appointments AppointmentRepository, surgeries SurgeryRepository, users identity.Lookup,
	tx db.TxRunner, events outbox.Writer, logger zerolog.Logger, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		appointments: appointments,
		surgeries:    surgeries,
		users:        users,
		tx:           tx,
		events:       events,
		logger:       logger.With().Str("component", "scheduling").Logger(),
		metrics:      m,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type appointmentEvent struct {
	AppointmentID uuid.UUID         `json:"appointment_id"`
	PatientID     uuid.UUID         `json:"patient_id"`
	DoctorID      uuid.UUID         `json:"doctor_id"`
	AppointmentAt time.Time         `json:"appointment_at"`
	Status        AppointmentStatus `json:"status"`
}

func appointmentChanged(a *Appointment, eventType string) outbox.Event {
	return outbox.Event{
		AggregateID:   a.ID.String(),
		AggregateType: aggregateAppointment,
		EventType:     eventType,
		Topic:         outbox.TopicScheduling,
		Payload: appointmentEvent{
			AppointmentID: a.ID, PatientID: a.PatientID, DoctorID: a.DoctorID,
			AppointmentAt: a.AppointmentAt, Status: a.Status,
		},
	}
}

func (s *Service) lookup(ctx context.Context, id uuid.UUID, missing error) (*identity.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if errors.Is(err, identity.ErrUserNotFound) {
		return nil, missing
	}
	return u, err
}

// Book reserves the doctor's slot at req.AppointmentAt for the patient. The
// slot check here only produces the friendlier error; the unique index on
// (doctor_id, appointment_at) decides concurrent bookings.
func (s *Service) Book(ctx context.Context, patientID uuid.UUID, req *BookingRequest) (out *Appointment, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "scheduling.Book",
		trace.WithAttributes(
			attribute.String("doctor.id", req.DoctorID.String()),
			attribute.String("appointment.at", req.AppointmentAt.Format(time.RFC3339)),
		))
	defer func() {
		if err == nil || errors.Is(err, ErrSlotTaken) {
			s.metrics.ObserveBooking(err == nil)
		}
		tracing.End(span, err)
	}()

	at := slotTime(req.AppointmentAt)
	if !at.After(s.now()) {
		return nil, ErrPastAppointment
	}
	doctor, err := s.lookup(ctx, req.DoctorID, ErrDoctorUnavailable)
	if err != nil {
		return nil, err
	}
	if !doctor.IsAvailableDoctor() {
		return nil, ErrDoctorUnavailable
	}
	patient, err := s.lookup(ctx, patientID, ErrPatientNotFound)
	if err != nil {
		return nil, err
	}
	if !patient.IsActivePatient() {
		return nil, ErrPatientNotFound
	}

	taken, err := s.appointments.SlotTaken(ctx, doctor.ID, at)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrSlotTaken
	}

	a := &Appointment{
		PatientID:            patient.ID,
		DoctorID:             doctor.ID,
		PatientName:          patient.FullName(),
		DoctorName:           doctor.FullName(),
		DoctorSpecialization: doctor.SpecializationOrEmpty(),
		PatientEmail:         patient.Email,
		DoctorEmail:          doctor.Email,
		AppointmentAt:        at,
		Reason:               req.Reason,
		Status:               AppointmentScheduled,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.Create(ctx, a); err != nil {
			return err
		}
		return s.events.Write(ctx, appointmentChanged(a, "appointment.booked"))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", a.ID.String()).Str("doctor_id", a.DoctorID.String()).
		Time("at", a.AppointmentAt).Msg("appointment booked")
	return a, nil
}

func (s *Service) ListAppointmentsForPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	return s.appointments.ListByPatient(ctx, patientID)
}

func (s *Service) ListAppointmentsForDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Appointment, error) {
	return s.appointments.ListByDoctor(ctx, doctorID)
}

// CancelAppointment lets either party cancel a SCHEDULED appointment.
func (s *Service) CancelAppointment(ctx context.Context, id, callerID uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Involves(callerID) {
		return nil, ErrNotOwner
	}
	return s.transition(ctx, a, AppointmentCancelled, "appointment.cancelled")
}

// CompleteAppointment is reserved to the appointment's doctor.
func (s *Service) CompleteAppointment(ctx context.Context, id, doctorID uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.DoctorID != doctorID {
		return nil, ErrNotOwner
	}
	return s.transition(ctx, a, AppointmentCompleted, "appointment.completed")
}

func (s *Service) transition(ctx context.Context, a *Appointment, to AppointmentStatus, eventType string) (*Appointment, error) {
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		ok, err := s.appointments.Transition(ctx, a.ID, AppointmentScheduled, to)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAppointmentState.Withf("appointment is %s", a.Status)
		}
		a.Status = to
		return s.events.Write(ctx, appointmentChanged(a, eventType))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", a.ID.String()).Str("status", string(to)).Msg("appointment status changed")
	return a, nil
}
