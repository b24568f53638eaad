package scheduling

import "github.com/hms/hms/internal/platform/apperr"

var (
	ErrPastAppointment     = apperr.Validation("PAST_APPOINTMENT", "appointment time must be in the future")
	ErrDoctorUnavailable   = apperr.InvalidState("DOCTOR_UNAVAILABLE", "doctor not found, inactive or not approved")
	ErrPatientNotFound     = apperr.NotFound("PATIENT_NOT_FOUND", "patient not found")
	ErrSlotTaken           = apperr.Conflict("SLOT_TAKEN", "doctor already has an appointment at this time")
	ErrAppointmentNotFound = apperr.NotFound("APPOINTMENT_NOT_FOUND", "appointment not found")
	ErrAppointmentState    = apperr.InvalidState("APPOINTMENT_NOT_SCHEDULED", "appointment is no longer scheduled")

	ErrSurgeryNotFound = apperr.NotFound("SURGERY_NOT_FOUND", "surgery not found")
	ErrInvalidSurgery  = apperr.Validation("INVALID_SURGERY", "invalid surgery")
	ErrNotOwner        = apperr.Unauthorized("NOT_OWNER", "caller does not own this resource")
)
