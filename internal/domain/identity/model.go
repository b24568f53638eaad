package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Roles a user account can hold.
const (
	RoleAdmin      = "ADMIN"
	RolePatient    = "PATIENT"
	RoleDoctor     = "DOCTOR"
	RoleNurse      = "NURSE"
	RolePharmacist = "PHARMACIST"
)

// User maps to the users table. Patients and staff share it; capability is
// expressed through Roles.
type User struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Email          string    `db:"email" json:"email"`
	FirstName      string    `db:"first_name" json:"first_name"`
	LastName       string    `db:"last_name" json:"last_name"`
	Roles          []string  `db:"roles" json:"roles"`
	Active         bool      `db:"active" json:"active"`
	Approved       bool      `db:"approved" json:"approved"`
	Specialization *string   `db:"specialization" json:"specialization,omitempty"`
	Allergies      []string  `db:"allergies" json:"allergies,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// IsActivePatient reports whether u can be treated, admitted or prescribed for.
func (u *User) IsActivePatient() bool {
	return u.Active && u.HasRole(RolePatient)
}

// IsAvailableDoctor reports whether u can take appointments.
func (u *User) IsAvailableDoctor() bool {
	return u.Active && u.Approved && u.HasRole(RoleDoctor)
}

// IsAllergicTo matches a medication name against the allergy list,
// ignoring case and surrounding space.
func (u *User) IsAllergicTo(medication string) bool {
	name := strings.TrimSpace(medication)
	if name == "" {
		return false
	}
	for _, a := range u.Allergies {
		if strings.EqualFold(strings.TrimSpace(a), name) {
			return true
		}
	}
	return false
}

func (u *User) SpecializationOrEmpty() string {
	if u.Specialization == nil {
		return ""
	}
	return *u.Specialization
}
