package nursing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/tracing"
)

// Issue is a single validation finding.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult accumulates every check; it never stops at the first
// failure.
type ValidationResult struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`

	patient      *identity.User
	prescription *Prescription
	medication   *Medication
}

func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) addError(e *apperr.Error) {
	r.Errors = append(r.Errors, Issue{Code: e.Code, Message: e.Error()})
}

func (r *ValidationResult) addWarning(e *apperr.Error) {
	r.Warnings = append(r.Warnings, Issue{Code: e.Code, Message: e.Message})
}

func (r *ValidationResult) codes() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Code
	}
	return out
}

// Err is nil for a valid result. Otherwise it is a VALIDATION_FAILED error
// that also matches each failed check's sentinel.
func (r *ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	details := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		details[i] = e.Code + ": " + e.Message
	}
	return &validationError{base: ErrValidationFailed.WithDetails(details...), codes: r.codes()}
}

func (r *ValidationResult) medicationName() string {
	if r.medication != nil {
		return r.medication.Name
	}
	if r.prescription != nil {
		return r.prescription.MedicationName
	}
	return ""
}

// Validate runs the administration checks in order: patient, prescription,
// dosage, unit, allergy, recency. Checks that depend on an earlier lookup
// are skipped when that lookup failed. Only infrastructure failures are
// returned as err.
func (s *Service) Validate(ctx context.Context, req *AdministrationRequest) (res *ValidationResult, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "nursing.Validate",
		trace.WithAttributes(attribute.String("patient.id", req.PatientID.String())))
	defer func() {
		if res != nil {
			span.SetAttributes(attribute.Int("validation.errors", len(res.Errors)),
				attribute.Int("validation.warnings", len(res.Warnings)))
		}
		tracing.End(span, err)
	}()

	res = &ValidationResult{Errors: []Issue{}, Warnings: []Issue{}}

	patient, err := s.activePatient(ctx, req.PatientID)
	switch {
	case errors.Is(err, ErrPatientNotFound):
		res.addError(ErrPatientNotFound)
	case err != nil:
		return nil, err
	default:
		res.patient = patient
	}

	p, err := s.ResolveValidPrescription(ctx, req.PatientID, req.MedicationID, req.PrescriptionID)
	switch {
	case errors.Is(err, ErrPrescriptionNotFound):
		res.addError(ErrNoValidPrescription)
	case err != nil:
		return nil, err
	default:
		res.prescription = p
	}

	if res.prescription != nil {
		if !req.AdministeredDosage.Equal(res.prescription.Dosage) {
			res.addError(ErrDosageMismatch.Withf("prescribed %s, administered %s",
				res.prescription.Dosage.String(), req.AdministeredDosage.String()))
		}
		if req.DosageUnit != res.prescription.DosageUnit {
			res.addError(ErrUnitMismatch.Withf("prescribed %q, administered %q",
				res.prescription.DosageUnit, req.DosageUnit))
		}
	}

	med, err := s.meds.GetByID(ctx, req.MedicationID)
	switch {
	case errors.Is(err, ErrMedicationNotFound):
	case err != nil:
		return nil, err
	default:
		res.medication = med
	}
	if res.patient != nil && s.allergic(res) {
		res.addError(ErrAllergyConflict)
	}

	recent, err := s.records.ListRecent(ctx, req.PatientID, req.MedicationID, s.now().Add(-s.recentWindow))
	if err != nil {
		return nil, err
	}
	if len(recent) > 0 {
		res.addWarning(WarnRecentAdministration)
	}
	return res, nil
}

func (s *Service) allergic(res *ValidationResult) bool {
	if res.medication != nil {
		if res.patient.IsAllergicTo(res.medication.Name) {
			return true
		}
		if res.medication.GenericName != nil && res.patient.IsAllergicTo(*res.medication.GenericName) {
			return true
		}
		return false
	}
	return res.prescription != nil && res.patient.IsAllergicTo(res.prescription.MedicationName)
}
