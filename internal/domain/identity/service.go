package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
)

var (
	ErrUserNotFound  = apperr.NotFound("USER_NOT_FOUND", "user not found")
	ErrInvalidEmail  = apperr.Validation("INVALID_EMAIL", "email is required")
	ErrInvalidSearch = apperr.Validation("INVALID_SEARCH", "invalid patient search")
)

// SearchType selects which field a patient search matches.
type SearchType string

const (
	SearchByName  SearchType = "NAME"
	SearchByID    SearchType = "ID"
	SearchByEmail SearchType = "EMAIL"
	SearchByAny   SearchType = "ANY"
)

type Service struct {
	users UserRepository
}

func NewService(users UserRepository) *Service {
	return &Service{users: users}
}

func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) FindByEmail(ctx context.Context, email string) (*User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, ErrInvalidEmail
	}
	return s.users.GetByEmail(ctx, email)
}

// ListAvailableDoctors returns doctors that are active and approved.
func (s *Service) ListAvailableDoctors(ctx context.Context) ([]*User, error) {
	all, err := s.users.ListByRole(ctx, RoleDoctor)
	if err != nil {
		return nil, err
	}
	out := make([]*User, 0, len(all))
	for _, u := range all {
		if u.IsAvailableDoctor() {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Service) CountActivePatients(ctx context.Context) (int, error) {
	return s.users.CountActiveByRole(ctx, RolePatient)
}

// SearchPatients returns active patients matching term. NAME and ANY match
// substrings; ID and EMAIL are exact lookups yielding at most one user.
func (s *Service) SearchPatients(ctx context.Context, by SearchType, term string) ([]*User, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, ErrInvalidSearch.WithDetails("search term is required")
	}

	var found []*User
	switch SearchType(strings.ToUpper(string(by))) {
	case SearchByID:
		id, err := uuid.Parse(term)
		if err != nil {
			return nil, ErrInvalidSearch.WithDetails("id search term must be a UUID")
		}
		found, err = s.one(s.users.GetByID(ctx, id))
		if err != nil {
			return nil, err
		}
	case SearchByEmail:
		var err error
		if found, err = s.one(s.users.GetByEmail(ctx, term)); err != nil {
			return nil, err
		}
	case SearchByName:
		all, err := s.users.SearchByRole(ctx, RolePatient, term)
		if err != nil {
			return nil, err
		}
		for _, u := range all {
			if containsFold(u.FirstName, term) || containsFold(u.LastName, term) {
				found = append(found, u)
			}
		}
	default:
		var err error
		if found, err = s.users.SearchByRole(ctx, RolePatient, term); err != nil {
			return nil, err
		}
	}

	out := make([]*User, 0, len(found))
	for _, u := range found {
		if u.IsActivePatient() {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Service) one(u *User, err error) ([]*User, error) {
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []*User{u}, nil
}

// ListPatients lists every PATIENT account, inactive ones included, optionally
// narrowed by a name or email substring.
func (s *Service) ListPatients(ctx context.Context, q string) ([]*User, error) {
	if strings.TrimSpace(q) == "" {
		return s.users.ListByRole(ctx, RolePatient)
	}
	return s.users.SearchByRole(ctx, RolePatient, q)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
