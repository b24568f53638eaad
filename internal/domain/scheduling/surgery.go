package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/outbox"
)

type surgeryEvent struct {
	SurgeryID   uuid.UUID     `json:"surgery_id"`
	DoctorID    uuid.UUID     `json:"doctor_id"`
	PatientID   uuid.UUID     `json:"patient_id"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Status      SurgeryStatus `json:"status"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

func surgeryChanged(sg *Surgery, eventType string) outbox.Event {
	return outbox.Event{
		AggregateID:   sg.ID.String(),
		AggregateType: aggregateSurgery,
		EventType:     eventType,
		Topic:         outbox.TopicScheduling,
		Payload: surgeryEvent{
			SurgeryID: sg.ID, DoctorID: sg.DoctorID, PatientID: sg.PatientID,
			ScheduledAt: sg.ScheduledAt, Status: sg.Status, CompletedAt: sg.CompletedAt,
		},
	}
}

// ScheduleSurgery creates a PENDING surgery owned by doctorID. Unlike
// appointments, surgeries at the same instant do not collide.
func (s *Service) ScheduleSurgery(ctx context.Context, doctorID uuid.UUID, req *SurgeryRequest) (*Surgery, error) {
	if strings.TrimSpace(req.Condition) == "" {
		return nil, ErrInvalidSurgery.WithDetails("condition is required")
	}
	if !req.ScheduledAt.After(s.now()) {
		return nil, ErrInvalidSurgery.WithDetails("scheduled_at must be in the future")
	}
	patient, err := s.lookup(ctx, req.PatientID, ErrPatientNotFound)
	if err != nil {
		return nil, err
	}
	if !patient.HasRole(identity.RolePatient) {
		return nil, ErrPatientNotFound
	}

	sg := &Surgery{
		DoctorID:      doctorID,
		PatientID:     patient.ID,
		PatientName:   patient.FullName(),
		Condition:     strings.TrimSpace(req.Condition),
		Notes:         req.Notes,
		OperatingRoom: req.OperatingRoom,
		SurgeryType:   req.SurgeryType,
		Urgency:       req.Urgency,
		ScheduledAt:   req.ScheduledAt.UTC(),
		Status:        SurgeryPending,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.surgeries.Create(ctx, sg); err != nil {
			return err
		}
		return s.events.Write(ctx, surgeryChanged(sg, "surgery.scheduled"))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveSurgeryScheduled()
	s.logger.Info().Str("surgery_id", sg.ID.String()).Str("doctor_id", doctorID.String()).Msg("surgery scheduled")
	return sg, nil
}

// owned loads a surgery and checks the caller is its doctor.
func (s *Service) owned(ctx context.Context, id, doctorID uuid.UUID) (*Surgery, error) {
	sg, err := s.surgeries.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sg.DoctorID != doctorID {
		return nil, ErrNotOwner
	}
	return sg, nil
}

func (s *Service) GetSurgery(ctx context.Context, id, doctorID uuid.UUID) (*Surgery, error) {
	return s.owned(ctx, id, doctorID)
}

func (s *Service) ListSurgeries(ctx context.Context, doctorID uuid.UUID) ([]*Surgery, error) {
	return s.surgeries.ListByDoctor(ctx, doctorID)
}

// ListSurgeriesForPatient lists the patient's own surgeries, optionally
// narrowed to one status.
func (s *Service) ListSurgeriesForPatient(ctx context.Context, patientID uuid.UUID, status SurgeryStatus) ([]*Surgery, error) {
	switch status {
	case "", SurgeryPending, SurgeryCompleted:
	default:
		return nil, ErrInvalidSurgery.Withf("unknown surgery status %q", status)
	}
	return s.surgeries.ListByPatient(ctx, patientID, status)
}

// UpdateSurgery overwrites only the fields set on upd.
func (s *Service) UpdateSurgery(ctx context.Context, id, doctorID uuid.UUID, upd *SurgeryUpdate) (*Surgery, error) {
	if upd.Condition != nil && strings.TrimSpace(*upd.Condition) == "" {
		return nil, ErrInvalidSurgery.WithDetails("condition must not be empty")
	}
	if upd.ScheduledAt != nil && !upd.ScheduledAt.After(s.now()) {
		return nil, ErrInvalidSurgery.WithDetails("scheduled_at must be in the future")
	}
	sg, err := s.owned(ctx, id, doctorID)
	if err != nil {
		return nil, err
	}
	upd.apply(sg)
	if err := s.surgeries.Update(ctx, sg); err != nil {
		return nil, err
	}
	return sg, nil
}

func (s *Service) DeleteSurgery(ctx context.Context, id, doctorID uuid.UUID) error {
	if _, err := s.owned(ctx, id, doctorID); err != nil {
		return err
	}
	return s.surgeries.Delete(ctx, id)
}

// CompleteSurgery marks the surgery COMPLETED at the current time. Repeating
// it only moves CompletedAt.
func (s *Service) CompleteSurgery(ctx context.Context, id, doctorID uuid.UUID) (*Surgery, error) {
	if _, err := s.owned(ctx, id, doctorID); err != nil {
		return nil, err
	}
	var out *Surgery
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		sg, err := s.surgeries.Complete(ctx, id, s.now())
		if err != nil {
			return err
		}
		out = sg
		return s.events.Write(ctx, surgeryChanged(sg, "surgery.completed"))
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("surgery_id", id.String()).Msg("surgery completed")
	return out, nil
}

func (s *Service) SurgeryCounts(ctx context.Context, doctorID uuid.UUID) (*SurgeryCounts, error) {
	return s.surgeries.CountByStatus(ctx, doctorID)
}
