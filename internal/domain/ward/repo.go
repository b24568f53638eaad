package ward

import (
	"context"

	"github.com/google/uuid"
)

type BedRepository interface {
	// Create returns ErrDuplicateBed when (ward_no, bed_no) exists.
	Create(ctx context.Context, b *Bed) error
	Get(ctx context.Context, key Key) (*Bed, error)
	List(ctx context.Context, f Filter) ([]*Bed, error)

	// Assign occupies the bed only if it is not already OCCUPIED. It returns
	// ErrBedOccupied when a concurrent writer got there first and
	// ErrBedNotFound when the bed does not exist.
	Assign(ctx context.Context, key Key, patientID uuid.UUID) (*Bed, error)

	// SetState overwrites status and patient unconditionally.
	SetState(ctx context.Context, key Key, status BedStatus, patientID *uuid.UUID) (*Bed, error)

	Delete(ctx context.Context, key Key) error
}
