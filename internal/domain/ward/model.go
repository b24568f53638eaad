package ward

import (
	"time"

	"github.com/google/uuid"
)

type BedStatus string

const (
	BedAvailable   BedStatus = "AVAILABLE"
	BedOccupied    BedStatus = "OCCUPIED"
	BedMaintenance BedStatus = "MAINTENANCE"
	BedReserved    BedStatus = "RESERVED"
)

var validBedStatuses = map[BedStatus]bool{
	BedAvailable: true, BedOccupied: true, BedMaintenance: true, BedReserved: true,
}

// Bed maps to the ward_bed table. PatientID is set exactly when the bed is
// OCCUPIED.
type Bed struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	WardNo    string     `db:"ward_no" json:"ward_no"`
	BedNo     string     `db:"bed_no" json:"bed_no"`
	Status    BedStatus  `db:"status" json:"status"`
	PatientID *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Key is the natural key of a bed.
type Key struct {
	WardNo string `json:"ward_no"`
	BedNo  string `json:"bed_no"`
}

func (k Key) String() string { return k.WardNo + "/" + k.BedNo }

func (b *Bed) Key() Key { return Key{WardNo: b.WardNo, BedNo: b.BedNo} }

// Filter narrows List; empty fields match every bed.
type Filter struct {
	WardNo string
	Status BedStatus
}

type bedEvent struct {
	WardNo          string     `json:"ward_no"`
	BedNo           string     `json:"bed_no"`
	Status          BedStatus  `json:"status"`
	PreviousStatus  BedStatus  `json:"previous_status,omitempty"`
	PatientID       *uuid.UUID `json:"patient_id,omitempty"`
	PreviousPatient *uuid.UUID `json:"previous_patient_id,omitempty"`
}
