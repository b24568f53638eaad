package pharmacy

import "github.com/hms/hms/internal/platform/apperr"

var (
	ErrDrugNotFound      = apperr.NotFound("DRUG_NOT_FOUND", "drug not found")
	ErrDrugInUse         = apperr.Conflict("DRUG_IN_USE", "drug is referenced by pharmacy prescriptions")
	ErrInvalidDrug       = apperr.Validation("INVALID_DRUG", "invalid drug")
	ErrInvalidQuantity   = apperr.Validation("INVALID_QUANTITY", "quantity must not be negative")
	ErrInvalidStatus     = apperr.Validation("INVALID_STATUS", "invalid status")
	ErrInsufficientStock = apperr.InvalidState("INSUFFICIENT_STOCK", "insufficient drug quantity")
	ErrStockContention   = apperr.Conflict("STOCK_CONTENTION", "drug quantity changed concurrently, retry")

	ErrPrescriptionNotFound = apperr.NotFound("PHARMACY_PRESCRIPTION_NOT_FOUND", "pharmacy prescription not found")
	ErrInvalidPrescription  = apperr.Validation("INVALID_PRESCRIPTION", "invalid pharmacy prescription")
	ErrAlreadyDispensed     = apperr.Conflict("ALREADY_DISPENSED", "prescription already dispensed")
	ErrNotDispensable       = apperr.InvalidState("PRESCRIPTION_NOT_DISPENSABLE", "prescription cannot be dispensed")
)
