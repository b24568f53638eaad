package nursing

import "github.com/hms/hms/internal/platform/apperr"

var (
	ErrPatientNotFound      = apperr.NotFound("PATIENT_NOT_FOUND", "patient not found or inactive")
	ErrMedicationNotFound   = apperr.NotFound("MEDICATION_NOT_FOUND", "medication not found")
	ErrPrescriptionNotFound = apperr.NotFound("PRESCRIPTION_NOT_FOUND", "no matching prescription")
	ErrRecordNotFound       = apperr.NotFound("RECORD_NOT_FOUND", "administration record not found")
	ErrInvalidOrder         = apperr.Validation("INVALID_ORDER", "invalid prescription order")
	ErrInvalidRequest       = apperr.Validation("INVALID_REQUEST", "invalid administration request")

	ErrNoValidPrescription = apperr.InvalidState("NO_VALID_PRESCRIPTION", "no valid prescription found for this medication")
	ErrDosageMismatch      = apperr.Validation("DOSAGE_MISMATCH", "administered dosage does not match prescribed dosage")
	ErrUnitMismatch        = apperr.Validation("UNIT_MISMATCH", "dosage unit does not match prescription")
	ErrAllergyConflict     = apperr.Validation("ALLERGY_CONFLICT", "patient has allergy to this medication")
	ErrValidationFailed    = apperr.Validation("VALIDATION_FAILED", "administration validation failed")

	WarnRecentAdministration = apperr.Validation("RECENT_ADMINISTRATION", "medication was administered recently, verify timing")
)

// validationError is a VALIDATION_FAILED *apperr.Error that also matches the
// sentinel of every failed check, so errors.Is(err, ErrDosageMismatch) holds
// for a result that failed on dosage.
type validationError struct {
	base  *apperr.Error
	codes []string
}

func (e *validationError) Error() string { return e.base.Error() }

func (e *validationError) Unwrap() error { return e.base }

func (e *validationError) Is(target error) bool {
	t, ok := target.(*apperr.Error)
	if !ok {
		return false
	}
	for _, c := range e.codes {
		if c == t.Code {
			return true
		}
	}
	return false
}
