package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "SCHEDULED"
	AppointmentCompleted AppointmentStatus = "COMPLETED"
	AppointmentCancelled AppointmentStatus = "CANCELLED"
)

// Appointment maps to the appointment table. (DoctorID, AppointmentAt) is
// unique.
type Appointment struct {
	ID                   uuid.UUID         `db:"id" json:"id"`
	PatientID            uuid.UUID         `db:"patient_id" json:"patient_id"`
	DoctorID             uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	PatientName          string            `db:"patient_name" json:"patient_name"`
	DoctorName           string            `db:"doctor_name" json:"doctor_name"`
	DoctorSpecialization string            `db:"doctor_specialization" json:"doctor_specialization,omitempty"`
	PatientEmail         string            `db:"patient_email" json:"patient_email"`
	DoctorEmail          string            `db:"doctor_email" json:"doctor_email"`
	AppointmentAt        time.Time         `db:"appointment_at" json:"appointment_at"`
	Reason               *string           `db:"reason" json:"reason,omitempty"`
	Status               AppointmentStatus `db:"status" json:"status"`
	CreatedAt            time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time         `db:"updated_at" json:"updated_at"`
}

// Involves reports whether id is the appointment's patient or doctor.
func (a *Appointment) Involves(id uuid.UUID) bool {
	return a.PatientID == id || a.DoctorID == id
}

type BookingRequest struct {
	DoctorID      uuid.UUID `json:"doctor_id"`
	AppointmentAt time.Time `json:"appointment_at"`
	Reason        *string   `json:"reason,omitempty"`
}

type SurgeryStatus string

const (
	SurgeryPending   SurgeryStatus = "PENDING"
	SurgeryCompleted SurgeryStatus = "COMPLETED"
)

// Surgery maps to the surgery table. CompletedAt is set only once the
// surgery is COMPLETED.
type Surgery struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	DoctorID      uuid.UUID     `db:"doctor_id" json:"doctor_id"`
	PatientID     uuid.UUID     `db:"patient_id" json:"patient_id"`
	PatientName   string        `db:"patient_name" json:"patient_name"`
	Condition     string        `db:"condition" json:"condition"`
	Notes         *string       `db:"notes" json:"notes,omitempty"`
	OperatingRoom *string       `db:"operating_room" json:"operating_room,omitempty"`
	SurgeryType   *string       `db:"surgery_type" json:"surgery_type,omitempty"`
	Urgency       *string       `db:"urgency" json:"urgency,omitempty"`
	ScheduledAt   time.Time     `db:"scheduled_at" json:"scheduled_at"`
	Status        SurgeryStatus `db:"status" json:"status"`
	CompletedAt   *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

type SurgeryRequest struct {
	PatientID     uuid.UUID `json:"patient_id"`
	Condition     string    `json:"condition"`
	Notes         *string   `json:"notes,omitempty"`
	OperatingRoom *string   `json:"operating_room,omitempty"`
	SurgeryType   *string   `json:"surgery_type,omitempty"`
	Urgency       *string   `json:"urgency,omitempty"`
	ScheduledAt   time.Time `json:"scheduled_at"`
}

// SurgeryUpdate carries a partial update; nil fields are left unchanged.
type SurgeryUpdate struct {
	Condition     *string    `json:"condition,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	OperatingRoom *string    `json:"operating_room,omitempty"`
	SurgeryType   *string    `json:"surgery_type,omitempty"`
	Urgency       *string    `json:"urgency,omitempty"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
}

func (u *SurgeryUpdate) apply(s *Surgery) {
	if u.Condition != nil {
		s.Condition = *u.Condition
	}
	if u.Notes != nil {
		s.Notes = u.Notes
	}
	if u.OperatingRoom != nil {
		s.OperatingRoom = u.OperatingRoom
	}
	if u.SurgeryType != nil {
		s.SurgeryType = u.SurgeryType
	}
	if u.Urgency != nil {
		s.Urgency = u.Urgency
	}
	if u.ScheduledAt != nil {
		s.ScheduledAt = *u.ScheduledAt
	}
}

type SurgeryCounts struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
}

// slotTime normalises a timestamp to the precision the database stores, so
// equal slots compare equal before and after a round trip.
func slotTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
