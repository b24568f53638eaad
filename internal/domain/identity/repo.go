package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListByRole(ctx context.Context, role string) ([]*User, error)
	CountActiveByRole(ctx context.Context, role string) (int, error)
	// SearchByRole matches term as a case-insensitive substring of first
	// name, last name or email.
	SearchByRole(ctx context.Context, role, term string) ([]*User, error)
}

// Lookup is the identity capability other domains consume.
type Lookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// Directory extends Lookup with the patient queries nursing staff run.
type Directory interface {
	Lookup
	CountActivePatients(ctx context.Context) (int, error)
	SearchPatients(ctx context.Context, by SearchType, term string) ([]*User, error)
	ListPatients(ctx context.Context, q string) ([]*User, error)
}
