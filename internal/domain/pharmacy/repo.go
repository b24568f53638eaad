package pharmacy

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type DrugRepository interface {
	Create(ctx context.Context, d *Drug) error
	GetByID(ctx context.Context, id uuid.UUID) (*Drug, error)
	Update(ctx context.Context, d *Drug) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Drug, int, error)
	ListByStatus(ctx context.Context, status DrugStatus) ([]*Drug, error)
	SearchByName(ctx context.Context, name string) ([]*Drug, error)
	ListLowStock(ctx context.Context, threshold int) ([]*Drug, error)
	ListExpiringBefore(ctx context.Context, t time.Time) ([]*Drug, error)

	// CompareAndSetQuantity writes quantity and status only if the stored
	// quantity still equals expected. It reports whether the write happened.
	CompareAndSetQuantity(ctx context.Context, id uuid.UUID, expected, quantity int, status DrugStatus) (bool, error)
	// SetQuantity writes quantity and status unconditionally.
	SetQuantity(ctx context.Context, id uuid.UUID, quantity int, status DrugStatus) error
	SetStatus(ctx context.Context, id uuid.UUID, status DrugStatus) error
}

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Prescription, int, error)
	ListByStatus(ctx context.Context, status PrescriptionStatus) ([]*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error)
	ListByPharmacist(ctx context.Context, pharmacistID uuid.UUID) ([]*Prescription, error)

	// UpdateUnlessDispensed writes p only while the stored row is not
	// DISPENSED. It reports whether the write happened.
	UpdateUnlessDispensed(ctx context.Context, p *Prescription) (bool, error)

	// MarkDispensed moves a dispensable row to DISPENSED. It reports false
	// when the row was already DISPENSED, CANCELLED or EXPIRED.
	MarkDispensed(ctx context.Context, id, pharmacistID uuid.UUID, pharmacistName string, at time.Time) (bool, error)
}
