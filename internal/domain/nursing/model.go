package nursing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Medication is a nursing-track catalogue entry, mapped to the medication table.
type Medication struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	GenericName    *string         `db:"generic_name" json:"generic_name,omitempty"`
	Type           *string         `db:"type" json:"type,omitempty"`
	DosageStrength decimal.Decimal `db:"dosage_strength" json:"dosage_strength"`
	DosageUnit     string          `db:"dosage_unit" json:"dosage_unit"`
	Manufacturer   *string         `db:"manufacturer" json:"manufacturer,omitempty"`
	Controlled     bool            `db:"controlled" json:"controlled"`
	Active         bool            `db:"active" json:"active"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

type PrescriptionStatus string

const (
	PrescriptionActive    PrescriptionStatus = "ACTIVE"
	PrescriptionCompleted PrescriptionStatus = "COMPLETED"
	PrescriptionCancelled PrescriptionStatus = "CANCELLED"
	PrescriptionExpired   PrescriptionStatus = "EXPIRED"
)

// Prescription is an administration-track order. A nil RemainingQuantity
// means the order is not quantity limited.
type Prescription struct {
	ID                uuid.UUID          `db:"id" json:"id"`
	PrescriptionID    string             `db:"prescription_id" json:"prescription_id"`
	PatientID         uuid.UUID          `db:"patient_id" json:"patient_id"`
	PrescriberID      uuid.UUID          `db:"prescriber_id" json:"prescriber_id"`
	MedicationID      uuid.UUID          `db:"medication_id" json:"medication_id"`
	MedicationName    string             `db:"medication_name" json:"medication_name"`
	Dosage            decimal.Decimal    `db:"dosage" json:"dosage"`
	DosageUnit        string             `db:"dosage_unit" json:"dosage_unit"`
	Frequency         string             `db:"frequency" json:"frequency"`
	StartDate         time.Time          `db:"start_date" json:"start_date"`
	EndDate           *time.Time         `db:"end_date" json:"end_date,omitempty"`
	TotalQuantity     int                `db:"total_quantity" json:"total_quantity"`
	RemainingQuantity *int               `db:"remaining_quantity" json:"remaining_quantity,omitempty"`
	Instructions      *string            `db:"instructions" json:"instructions,omitempty"`
	Notes             *string            `db:"notes" json:"notes,omitempty"`
	Status            PrescriptionStatus `db:"status" json:"status"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
}

// HasRemaining is true for unlimited orders and for orders with doses left.
func (p *Prescription) HasRemaining() bool {
	return p.RemainingQuantity == nil || *p.RemainingQuantity > 0
}

// IsActive reports whether doses may be administered against p at now.
func (p *Prescription) IsActive(now time.Time) bool {
	if p.Status != PrescriptionActive {
		return false
	}
	if p.EndDate != nil && !p.EndDate.After(now) {
		return false
	}
	return p.HasRemaining()
}

// newerThan orders candidates by updatedAt, then createdAt, both descending.
func (p *Prescription) newerThan(o *Prescription) bool {
	if !p.UpdatedAt.Equal(o.UpdatedAt) {
		return p.UpdatedAt.After(o.UpdatedAt)
	}
	return p.CreatedAt.After(o.CreatedAt)
}

type AdministrationStatus string

const (
	AdministrationPending   AdministrationStatus = "PENDING"
	AdministrationCompleted AdministrationStatus = "COMPLETED"
	AdministrationFailed    AdministrationStatus = "FAILED"
	AdministrationCancelled AdministrationStatus = "CANCELLED"
)

// AdministrationRecord is one administration attempt. Only AdverseReaction
// changes after creation.
type AdministrationRecord struct {
	ID                 uuid.UUID            `db:"id" json:"id"`
	RecordID           string               `db:"record_id" json:"record_id"`
	PatientID          uuid.UUID            `db:"patient_id" json:"patient_id"`
	NurseID            uuid.UUID            `db:"nurse_id" json:"nurse_id"`
	PrescriptionID     uuid.UUID            `db:"prescription_id" json:"prescription_id"`
	MedicationID       uuid.UUID            `db:"medication_id" json:"medication_id"`
	MedicationName     string               `db:"medication_name" json:"medication_name"`
	AdministeredDosage decimal.Decimal      `db:"administered_dosage" json:"administered_dosage"`
	DosageUnit         string               `db:"dosage_unit" json:"dosage_unit"`
	AdministrationTime time.Time            `db:"administration_time" json:"administration_time"`
	Notes              *string              `db:"notes" json:"notes,omitempty"`
	AdverseReaction    *string              `db:"adverse_reaction" json:"adverse_reaction,omitempty"`
	Status             AdministrationStatus `db:"status" json:"status"`
	VerificationCode   *string              `db:"verification_code" json:"verification_code,omitempty"`
	CreatedAt          time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time            `db:"updated_at" json:"updated_at"`
}

// OrderRequest creates an administration-track prescription.
type OrderRequest struct {
	PatientID      uuid.UUID       `json:"patient_id"`
	PatientEmail   string          `json:"patient_email,omitempty"`
	MedicationID   uuid.UUID       `json:"medication_id"`
	MedicationName string          `json:"medication_name,omitempty"`
	Dosage         decimal.Decimal `json:"dosage"`
	DosageUnit     string          `json:"dosage_unit"`
	Frequency      string          `json:"frequency"`
	StartDate      *time.Time      `json:"start_date,omitempty"`
	EndDate        *time.Time      `json:"end_date,omitempty"`
	TotalQuantity  int             `json:"total_quantity"`
	Instructions   *string         `json:"instructions,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
}

type AdministrationRequest struct {
	PatientID          uuid.UUID       `json:"patient_id"`
	PrescriptionID     *uuid.UUID      `json:"prescription_id,omitempty"`
	MedicationID       uuid.UUID       `json:"medication_id"`
	AdministeredDosage decimal.Decimal `json:"administered_dosage"`
	DosageUnit         string          `json:"dosage_unit"`
	Notes              *string         `json:"notes,omitempty"`
	AdverseReaction    *string         `json:"adverse_reaction,omitempty"`
	VerificationCode   *string         `json:"verification_code,omitempty"`
}

type MissedRequest struct {
	PatientID      uuid.UUID  `json:"patient_id"`
	PrescriptionID uuid.UUID  `json:"prescription_id"`
	MedicationID   *uuid.UUID `json:"medication_id,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
}

// Dashboard summarises a nurse's day.
type Dashboard struct {
	// ActivePatients counts every active patient, with or without orders.
	ActivePatients           int `json:"active_patients"`
	ActivePrescriptionsToday int `json:"active_prescriptions_today"`
	CompletedToday           int `json:"completed_today"`
	AdverseReactions         int `json:"adverse_reactions"`
}
