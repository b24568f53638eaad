package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	// Create returns ErrSlotTaken when the doctor already has an appointment
	// at the same instant.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	SlotTaken(ctx context.Context, doctorID uuid.UUID, at time.Time) (bool, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Appointment, error)
	// Transition moves the appointment from one status to another and
	// reports false when it was not in the from status.
	Transition(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (bool, error)
}

type SurgeryRepository interface {
	Create(ctx context.Context, s *Surgery) error
	GetByID(ctx context.Context, id uuid.UUID) (*Surgery, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Surgery, error)
	// ListByPatient orders by scheduled time; an empty status matches all.
	ListByPatient(ctx context.Context, patientID uuid.UUID, status SurgeryStatus) ([]*Surgery, error)
	Update(ctx context.Context, s *Surgery) error
	Delete(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, at time.Time) (*Surgery, error)
	CountByStatus(ctx context.Context, doctorID uuid.UUID) (*SurgeryCounts, error)
}
