package ward

import "github.com/hms/hms/internal/platform/apperr"

var (
	ErrBedNotFound    = apperr.NotFound("BED_NOT_FOUND", "bed not found")
	ErrDuplicateBed   = apperr.Conflict("DUPLICATE_BED", "bed already exists in this ward")
	ErrBedOccupied    = apperr.Conflict("BED_OCCUPIED", "bed is already occupied")
	ErrInvalidPatient = apperr.InvalidState("INVALID_PATIENT", "patient not found or inactive")
	ErrInvalidBed     = apperr.Validation("INVALID_BED", "ward_no and bed_no are required")
	ErrInvalidStatus  = apperr.Validation("INVALID_STATUS", "invalid bed status")
)
