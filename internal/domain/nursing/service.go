package nursing

import (
	"context"
	"errors"
	"fmt"
	"strings"
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
	tracerName = "github.com/hms/hms/internal/domain/nursing"

	aggregatePrescription   = "prescription"
	aggregateAdministration = "administration_record"

	DefaultRecentWindow = time.Hour
)

type Service struct {
	meds          MedicationRepository
	prescriptions PrescriptionRepository
	records       AdministrationRepository
	users         identity.Directory
	tx            db.TxRunner
	events        outbox.Writer
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	recentWindow  time.Duration
	now           func() time.Time
}

type Option func(*Service)

// WithRecentWindow sets how far back the recent-administration warning looks.
func WithRecentWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.recentWindow = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(meds MedicationRepository, prescriptions PrescriptionRepository, records AdministrationRepository,
	users identity.Directory, tx db.TxRunner, events outbox.Writer, logger zerolog.Logger, m *metrics.Metrics,
	opts ...Option) *Service {
	s := &Service{
		meds:          meds,
		prescriptions: prescriptions,
		records:       records,
		users:         users,
		tx:            tx,
		events:        events,
		logger:        logger.With().Str("component", "nursing").Logger(),
		metrics:       m,
		recentWindow:  DefaultRecentWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type consumedEvent struct {
	PrescriptionID    uuid.UUID          `json:"prescription_id"`
	PatientID         uuid.UUID          `json:"patient_id"`
	MedicationID      uuid.UUID          `json:"medication_id"`
	RemainingQuantity *int               `json:"remaining_quantity"`
	Status            PrescriptionStatus `json:"status"`
}

type administrationEvent struct {
	RecordID        string               `json:"record_id"`
	PatientID       uuid.UUID            `json:"patient_id"`
	NurseID         uuid.UUID            `json:"nurse_id"`
	PrescriptionID  uuid.UUID            `json:"prescription_id"`
	MedicationID    uuid.UUID            `json:"medication_id"`
	MedicationName  string               `json:"medication_name"`
	Status          AdministrationStatus `json:"status"`
	AdverseReaction *string              `json:"adverse_reaction,omitempty"`
}

func newReference(prefix string) string {
	return prefix + "-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// activePatient resolves id to an active PATIENT.
func (s *Service) activePatient(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if errors.Is(err, identity.ErrUserNotFound) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActivePatient() {
		return nil, ErrPatientNotFound
	}
	return u, nil
}

// -- Medication catalogue --

func (s *Service) CreateMedication(ctx context.Context, m *Medication) (*Medication, error) {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" || strings.TrimSpace(m.DosageUnit) == "" {
		return nil, ErrInvalidRequest.WithDetails("name and dosage_unit are required")
	}
	if m.DosageStrength.IsNegative() {
		return nil, ErrInvalidRequest.WithDetails("dosage_strength must not be negative")
	}
	if err := s.meds.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) GetMedication(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return s.meds.GetByID(ctx, id)
}

func (s *Service) ListMedications(ctx context.Context, activeOnly bool) ([]*Medication, error) {
	return s.meds.List(ctx, activeOnly)
}

// -- Prescription lifecycle --

func validateOrder(req *OrderRequest) error {
	var details []string
	if req.MedicationID == uuid.Nil {
		details = append(details, "medication_id is required")
	}
	if !req.Dosage.IsPositive() {
		details = append(details, "dosage must be positive")
	}
	if strings.TrimSpace(req.DosageUnit) == "" {
		details = append(details, "dosage_unit is required")
	}
	if strings.TrimSpace(req.Frequency) == "" {
		details = append(details, "frequency is required")
	}
	if req.TotalQuantity <= 0 {
		details = append(details, "total_quantity must be positive")
	}
	if req.StartDate != nil && req.EndDate != nil && !req.EndDate.After(*req.StartDate) {
		details = append(details, "end_date must be after start_date")
	}
	if len(details) > 0 {
		return ErrInvalidOrder.WithDetails(details...)
	}
	return nil
}

// CreateFromOrder turns a prescriber's order into an ACTIVE prescription
// with its full quantity remaining.
func (s *Service) CreateFromOrder(ctx context.Context, prescriberID uuid.UUID, req *OrderRequest) (*Prescription, error) {
	if err := validateOrder(req); err != nil {
		return nil, err
	}
	if _, err := s.activePatient(ctx, req.PatientID); err != nil {
		return nil, err
	}
	med, err := s.meds.GetByID(ctx, req.MedicationID)
	if err != nil {
		return nil, err
	}
	start := s.now()
	if req.StartDate != nil {
		start = *req.StartDate
	}
	remaining := req.TotalQuantity
	p := &Prescription{
		PrescriptionID:    newReference("RX"),
		PatientID:         req.PatientID,
		PrescriberID:      prescriberID,
		MedicationID:      med.ID,
		MedicationName:    med.Name,
		Dosage:            req.Dosage,
		DosageUnit:        strings.TrimSpace(req.DosageUnit),
		Frequency:         strings.TrimSpace(req.Frequency),
		StartDate:         start,
		EndDate:           req.EndDate,
		TotalQuantity:     req.TotalQuantity,
		RemainingQuantity: &remaining,
		Instructions:      req.Instructions,
		Notes:             req.Notes,
		Status:            PrescriptionActive,
	}
	if err := s.prescriptions.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("prescription_id", p.PrescriptionID).Str("patient_id", p.PatientID.String()).
		Str("medication", p.MedicationName).Msg("prescription created")
	return p, nil
}

// CreateFromOrderForPatientEmail resolves the patient by e-mail first.
func (s *Service) CreateFromOrderForPatientEmail(ctx context.Context, prescriberID uuid.UUID, req *OrderRequest) (*Prescription, error) {
	u, err := s.users.FindByEmail(ctx, req.PatientEmail)
	if errors.Is(err, identity.ErrUserNotFound) || errors.Is(err, identity.ErrInvalidEmail) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	req.PatientID = u.ID
	return s.CreateFromOrder(ctx, prescriberID, req)
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.prescriptions.GetByID(ctx, id)
}

// ResolveValidPrescription picks the prescription a dose is given against.
// An explicit id must belong to the patient, be for the medication and be
// active; otherwise the most recently updated active candidate with doses
// left wins.
func (s *Service) ResolveValidPrescription(ctx context.Context, patientID, medicationID uuid.UUID, prescriptionID *uuid.UUID) (*Prescription, error) {
	now := s.now()
	if prescriptionID != nil {
		p, err := s.prescriptions.GetByID(ctx, *prescriptionID)
		if err != nil {
			return nil, err
		}
		if p.PatientID != patientID || p.MedicationID != medicationID || !p.IsActive(now) {
			return nil, ErrPrescriptionNotFound
		}
		return p, nil
	}
	candidates, err := s.prescriptions.ListActiveForMedication(ctx, patientID, medicationID)
	if err != nil {
		return nil, err
	}
	var best *Prescription
	for _, p := range candidates {
		if !p.IsActive(now) {
			continue
		}
		if best == nil || p.newerThan(best) {
			best = p
		}
	}
	if best == nil {
		return nil, ErrPrescriptionNotFound
	}
	return best, nil
}

// ConsumeOne takes a single dose from the prescription.
func (s *Service) ConsumeOne(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	var out *Prescription
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.consume(ctx, id)
		out = p
		return err
	})
	return out, err
}

func (s *Service) consume(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.prescriptions.ConsumeOne(ctx, id)
	if err != nil {
		return nil, err
	}
	payload := consumedEvent{
		PrescriptionID: p.ID, PatientID: p.PatientID, MedicationID: p.MedicationID,
		RemainingQuantity: p.RemainingQuantity, Status: p.Status,
	}
	events := []outbox.Event{{
		AggregateID: p.ID.String(), AggregateType: aggregatePrescription,
		EventType: "prescription.consumed", Topic: outbox.TopicNursing, Payload: payload,
	}}
	if p.Status == PrescriptionCompleted {
		events = append(events, outbox.Event{
			AggregateID: p.ID.String(), AggregateType: aggregatePrescription,
			EventType: "prescription.completed", Topic: outbox.TopicNursing, Payload: payload,
		})
		s.logger.Info().Str("prescription_id", p.PrescriptionID).Msg("prescription completed")
	}
	return p, s.events.Write(ctx, events...)
}

func (s *Service) ActivePrescriptions(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return s.prescriptions.ListActiveForPatient(ctx, patientID, s.now())
}

func (s *Service) PrescriptionsForPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return s.prescriptions.ListByPatient(ctx, patientID)
}

// ExpireLapsed marks ACTIVE prescriptions past their end date as EXPIRED.
func (s *Service) ExpireLapsed(ctx context.Context) (int, error) {
	n, err := s.prescriptions.ExpireLapsed(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("lapsed prescriptions expired")
	}
	return n, nil
}

// -- Administration --

// Administer re-runs validation and, when it passes, records the dose and
// consumes one unit of the resolved prescription in the same transaction.
func (s *Service) Administer(ctx context.Context, nurseID uuid.UUID, req *AdministrationRequest) (rec *AdministrationRecord, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "nursing.Administer",
		trace.WithAttributes(
			attribute.String("patient.id", req.PatientID.String()),
			attribute.String("medication.id", req.MedicationID.String()),
		))
	defer func() { tracing.End(span, err) }()

	res, err := s.Validate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		s.metrics.ObserveValidationErrors(res.codes())
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.consume(ctx, res.prescription.ID)
		if err != nil {
			return err
		}
		r := &AdministrationRecord{
			RecordID:           newReference("ADM"),
			PatientID:          req.PatientID,
			NurseID:            nurseID,
			PrescriptionID:     p.ID,
			MedicationID:       req.MedicationID,
			MedicationName:     res.medicationName(),
			AdministeredDosage: req.AdministeredDosage,
			DosageUnit:         req.DosageUnit,
			AdministrationTime: s.now(),
			Notes:              req.Notes,
			AdverseReaction:    req.AdverseReaction,
			Status:             AdministrationCompleted,
			VerificationCode:   req.VerificationCode,
		}
		if err := s.records.Create(ctx, r); err != nil {
			return err
		}
		rec = r
		return s.events.Write(ctx, administrationRecorded(r, "administration.recorded"))
	})
	s.metrics.ObserveAdministration(string(AdministrationCompleted), err == nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("record_id", rec.RecordID).Str("nurse_id", nurseID.String()).
		Str("medication", rec.MedicationName).Int("warnings", len(res.Warnings)).Msg("medication administered")
	return rec, nil
}

// MarkMissed records a FAILED administration. It never consumes quantity.
func (s *Service) MarkMissed(ctx context.Context, nurseID uuid.UUID, req *MissedRequest) (*AdministrationRecord, error) {
	if req.PatientID == uuid.Nil || req.PrescriptionID == uuid.Nil {
		return nil, ErrInvalidRequest.WithDetails("patient_id and prescription_id are required")
	}
	p, err := s.prescriptions.GetByID(ctx, req.PrescriptionID)
	if err != nil {
		return nil, err
	}
	if p.PatientID != req.PatientID {
		return nil, ErrPrescriptionNotFound
	}
	if req.MedicationID != nil && *req.MedicationID != p.MedicationID {
		return nil, ErrInvalidRequest.WithDetails("medication_id does not match prescription")
	}
	r := &AdministrationRecord{
		RecordID:           newReference("ADM"),
		PatientID:          p.PatientID,
		NurseID:            nurseID,
		PrescriptionID:     p.ID,
		MedicationID:       p.MedicationID,
		MedicationName:     p.MedicationName,
		DosageUnit:         p.DosageUnit,
		AdministrationTime: s.now(),
		Notes:              req.Notes,
		Status:             AdministrationFailed,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.records.Create(ctx, r); err != nil {
			return err
		}
		return s.events.Write(ctx, administrationRecorded(r, "administration.missed"))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveAdministration(string(AdministrationFailed), false)
	s.logger.Info().Str("record_id", r.RecordID).Str("prescription_id", p.PrescriptionID).Msg("administration marked missed")
	return r, nil
}

func (s *Service) ReportAdverseReaction(ctx context.Context, recordID, reaction string) (*AdministrationRecord, error) {
	reaction = strings.TrimSpace(reaction)
	if reaction == "" {
		return nil, ErrInvalidRequest.WithDetails("adverse_reaction is required")
	}
	var out *AdministrationRecord
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.records.SetAdverseReaction(ctx, recordID, reaction)
		if err != nil {
			return err
		}
		out = r
		return s.events.Write(ctx, administrationRecorded(r, "administration.adverse_reaction"))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn().Str("record_id", recordID).Str("patient_id", out.PatientID.String()).Msg("adverse reaction reported")
	return out, nil
}

func administrationRecorded(r *AdministrationRecord, eventType string) outbox.Event {
	return outbox.Event{
		AggregateID:   r.ID.String(),
		AggregateType: aggregateAdministration,
		EventType:     eventType,
		Topic:         outbox.TopicNursing,
		Payload: administrationEvent{
			RecordID: r.RecordID, PatientID: r.PatientID, NurseID: r.NurseID,
			PrescriptionID: r.PrescriptionID, MedicationID: r.MedicationID, MedicationName: r.MedicationName,
			Status: r.Status, AdverseReaction: r.AdverseReaction,
		},
	}
}

// -- Patient lookup --

func (s *Service) SearchPatients(ctx context.Context, by identity.SearchType, term string) ([]*identity.User, error) {
	return s.users.SearchPatients(ctx, by, term)
}

func (s *Service) ListPatients(ctx context.Context, q string) ([]*identity.User, error) {
	return s.users.ListPatients(ctx, q)
}

func (s *Service) GetRecord(ctx context.Context, recordID string) (*AdministrationRecord, error) {
	return s.records.GetByRecordID(ctx, recordID)
}

func (s *Service) AdministrationHistory(ctx context.Context, patientID uuid.UUID) ([]*AdministrationRecord, error) {
	return s.records.ListByPatient(ctx, patientID)
}

func (s *Service) NurseHistory(ctx context.Context, nurseID uuid.UUID) ([]*AdministrationRecord, error) {
	return s.records.ListByNurse(ctx, nurseID)
}

func (s *Service) NurseAdministrationsBetween(ctx context.Context, nurseID uuid.UUID, from, to time.Time) ([]*AdministrationRecord, error) {
	if to.Before(from) {
		return nil, ErrInvalidRequest.WithDetails("to must not be before from")
	}
	return s.records.ListByNurseBetween(ctx, nurseID, from, to)
}

// Dashboard summarises the calendar day containing now, in now's location.
func (s *Service) Dashboard(ctx context.Context, nurseID uuid.UUID) (*Dashboard, error) {
	now := s.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := start.Add(24*time.Hour - time.Nanosecond)

	var d Dashboard
	var err error
	if d.ActivePatients, err = s.users.CountActivePatients(ctx); err != nil {
		return nil, fmt.Errorf("dashboard active patients: %w", err)
	}
	if d.ActivePrescriptionsToday, err = s.prescriptions.CountActiveBetween(ctx, start, end); err != nil {
		return nil, fmt.Errorf("dashboard active prescriptions: %w", err)
	}
	today, err := s.records.ListByNurseBetween(ctx, nurseID, start, end)
	if err != nil {
		return nil, fmt.Errorf("dashboard administrations: %w", err)
	}
	for _, r := range today {
		if r.Status == AdministrationCompleted {
			d.CompletedToday++
		}
	}
	if d.AdverseReactions, err = s.records.CountAdverseReactionsByNurse(ctx, nurseID); err != nil {
		return nil, fmt.Errorf("dashboard adverse reactions: %w", err)
	}
	return &d, nil
}
