package nursing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MedicationRepository interface {
	Create(ctx context.Context, m *Medication) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medication, error)
	List(ctx context.Context, activeOnly bool) ([]*Medication, error)
}

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error)
	// ListActiveForMedication returns ACTIVE orders for the pair, regardless
	// of end date or remaining quantity.
	ListActiveForMedication(ctx context.Context, patientID, medicationID uuid.UUID) ([]*Prescription, error)
	// ListActiveForPatient returns ACTIVE orders that have not ended at now.
	ListActiveForPatient(ctx context.Context, patientID uuid.UUID, now time.Time) ([]*Prescription, error)

	// ConsumeOne atomically takes one dose from an ACTIVE order, completing it
	// when the last dose is taken. It returns ErrNoValidPrescription when the
	// order is no longer ACTIVE or has nothing left.
	ConsumeOne(ctx context.Context, id uuid.UUID) (*Prescription, error)

	// ExpireLapsed moves ACTIVE orders whose end date passed to EXPIRED.
	ExpireLapsed(ctx context.Context, now time.Time) (int, error)

	CountActiveBetween(ctx context.Context, from, to time.Time) (int, error)
}

type AdministrationRepository interface {
	Create(ctx context.Context, r *AdministrationRecord) error
	GetByRecordID(ctx context.Context, recordID string) (*AdministrationRecord, error)
	SetAdverseReaction(ctx context.Context, recordID, reaction string) (*AdministrationRecord, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*AdministrationRecord, error)
	ListByNurse(ctx context.Context, nurseID uuid.UUID) ([]*AdministrationRecord, error)
	ListByNurseBetween(ctx context.Context, nurseID uuid.UUID, from, to time.Time) ([]*AdministrationRecord, error)
	ListRecent(ctx context.Context, patientID, medicationID uuid.UUID, since time.Time) ([]*AdministrationRecord, error)
	CountAdverseReactionsByNurse(ctx context.Context, nurseID uuid.UUID) (int, error)
}
