package pharmacy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LowStockThreshold is the quantity at or below which a drug is LOW_STOCK.
const LowStockThreshold = 10

type DrugStatus string

const (
	DrugInStock    DrugStatus = "IN_STOCK"
	DrugLowStock   DrugStatus = "LOW_STOCK"
	DrugOutOfStock DrugStatus = "OUT_OF_STOCK"
	DrugExpired    DrugStatus = "EXPIRED"
)

var validDrugStatuses = map[DrugStatus]bool{
	DrugInStock: true, DrugLowStock: true, DrugOutOfStock: true, DrugExpired: true,
}

// Classify derives a drug's stock status. Expiry wins over quantity.
func Classify(quantity int, expiry *time.Time, now time.Time) DrugStatus {
	switch {
	case expiry != nil && expiry.Before(now):
		return DrugExpired
	case quantity <= 0:
		return DrugOutOfStock
	case quantity <= LowStockThreshold:
		return DrugLowStock
	default:
		return DrugInStock
	}
}

// Drug maps to the drug table.
type Drug struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	DosageForm   string          `db:"dosage_form" json:"dosage_form"`
	Quantity     int             `db:"quantity" json:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	Manufacturer *string         `db:"manufacturer" json:"manufacturer,omitempty"`
	Description  *string         `db:"description" json:"description,omitempty"`
	ExpiryDate   *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	Status       DrugStatus      `db:"status" json:"status"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Reclassify recomputes Status and reports whether it changed.
func (d *Drug) Reclassify(now time.Time) bool {
	next := Classify(d.Quantity, d.ExpiryDate, now)
	changed := next != d.Status
	d.Status = next
	return changed
}

// DrugRequest is the create/replace payload for a catalogue entry.
type DrugRequest struct {
	Name         string          `json:"name"`
	DosageForm   string          `json:"dosage_form"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Manufacturer *string         `json:"manufacturer,omitempty"`
	Description  *string         `json:"description,omitempty"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
}

type PrescriptionStatus string

const (
	PrescriptionPending               PrescriptionStatus = "PENDING"
	PrescriptionDispensed             PrescriptionStatus = "DISPENSED"
	PrescriptionCancelled             PrescriptionStatus = "CANCELLED"
	PrescriptionSubstitutionRequested PrescriptionStatus = "SUBSTITUTION_REQUESTED"
	PrescriptionExpired               PrescriptionStatus = "EXPIRED"
)

var validPrescriptionStatuses = map[PrescriptionStatus]bool{
	PrescriptionPending: true, PrescriptionDispensed: true, PrescriptionCancelled: true,
	PrescriptionSubstitutionRequested: true, PrescriptionExpired: true,
}

// Prescription is a dispensing-track order, mapped to pharmacy_prescription.
type Prescription struct {
	ID                  uuid.UUID          `db:"id" json:"id"`
	PatientID           uuid.UUID          `db:"patient_id" json:"patient_id"`
	PatientName         string             `db:"patient_name" json:"patient_name"`
	DoctorID            uuid.UUID          `db:"doctor_id" json:"doctor_id"`
	DoctorName          string             `db:"doctor_name" json:"doctor_name"`
	DrugID              uuid.UUID          `db:"drug_id" json:"drug_id"`
	DrugName            string             `db:"drug_name" json:"drug_name"`
	Dosage              string             `db:"dosage" json:"dosage"`
	Quantity            int                `db:"quantity" json:"quantity"`
	Instructions        *string            `db:"instructions" json:"instructions,omitempty"`
	Status              PrescriptionStatus `db:"status" json:"status"`
	PharmacistID        *uuid.UUID         `db:"pharmacist_id" json:"pharmacist_id,omitempty"`
	PharmacistName      *string            `db:"pharmacist_name" json:"pharmacist_name,omitempty"`
	DispensedAt         *time.Time         `db:"dispensed_at" json:"dispensed_at,omitempty"`
	SubstitutionRequest *string            `db:"substitution_request" json:"substitution_request,omitempty"`
	SubstitutionReason  *string            `db:"substitution_reason" json:"substitution_reason,omitempty"`
	CreatedAt           time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updated_at"`
}

// Dispensable reports whether the order may still be filled.
func (p *Prescription) Dispensable() bool {
	switch p.Status {
	case PrescriptionDispensed, PrescriptionCancelled, PrescriptionExpired:
		return false
	}
	return true
}

type PrescriptionRequest struct {
	PatientID    uuid.UUID `json:"patient_id"`
	PatientName  string    `json:"patient_name"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	DoctorName   string    `json:"doctor_name"`
	DrugID       uuid.UUID `json:"drug_id"`
	Dosage       string    `json:"dosage"`
	Quantity     int       `json:"quantity"`
	Instructions *string   `json:"instructions,omitempty"`
}

type DispenseRequest struct {
	PharmacistName string `json:"pharmacist_name"`
}

type SubstitutionRequest struct {
	RequestedDrugName  string `json:"requested_drug_name"`
	SubstitutionReason string `json:"substitution_reason"`
}

// Stock event payloads.
type dispensedEvent struct {
	DrugID         uuid.UUID  `json:"drug_id"`
	DrugName       string     `json:"drug_name"`
	Amount         int        `json:"amount"`
	Remaining      int        `json:"remaining"`
	Status         DrugStatus `json:"status"`
	PrescriptionID *uuid.UUID `json:"prescription_id,omitempty"`
}

type stockChangedEvent struct {
	DrugID   uuid.UUID  `json:"drug_id"`
	DrugName string     `json:"drug_name"`
	Quantity int        `json:"quantity"`
	From     DrugStatus `json:"from"`
	To       DrugStatus `json:"to"`
}
