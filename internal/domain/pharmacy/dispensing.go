package pharmacy

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hms/hms/internal/platform/outbox"
	"github.com/hms/hms/internal/platform/tracing"
)

type prescriptionDispensedEvent struct {
	PrescriptionID uuid.UUID `json:"prescription_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	DrugID         uuid.UUID `json:"drug_id"`
	Quantity       int       `json:"quantity"`
	PharmacistID   uuid.UUID `json:"pharmacist_id"`
}

func validatePrescriptionRequest(req *PrescriptionRequest) error {
	var details []string
	if req.PatientID == uuid.Nil {
		details = append(details, "patient_id is required")
	}
	if req.DrugID == uuid.Nil {
		details = append(details, "drug_id is required")
	}
	if req.Quantity <= 0 {
		details = append(details, "quantity must be positive")
	}
	if len(details) > 0 {
		return ErrInvalidPrescription.WithDetails(details...)
	}
	return nil
}

// apply copies the request onto p, snapshotting the drug name and falling
// back to the drug's dosage form when no dosage is given.
func (req *PrescriptionRequest) apply(p *Prescription, d *Drug) {
	p.PatientID = req.PatientID
	p.PatientName = req.PatientName
	p.DoctorID = req.DoctorID
	p.DoctorName = req.DoctorName
	p.DrugID = d.ID
	p.DrugName = d.Name
	p.Dosage = req.Dosage
	if strings.TrimSpace(p.Dosage) == "" {
		p.Dosage = d.DosageForm
	}
	p.Quantity = req.Quantity
	p.Instructions = req.Instructions
}

func (s *Service) CreatePrescription(ctx context.Context, req *PrescriptionRequest) (*Prescription, error) {
	if err := validatePrescriptionRequest(req); err != nil {
		return nil, err
	}
	d, err := s.drugs.GetByID(ctx, req.DrugID)
	if err != nil {
		return nil, err
	}
	p := &Prescription{Status: PrescriptionPending}
	req.apply(p, d)
	if err := s.prescriptions.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.prescriptions.GetByID(ctx, id)
}

// UpdatePrescription replaces the order's clinical fields. Dispensed orders
// are immutable.
func (s *Service) UpdatePrescription(ctx context.Context, id uuid.UUID, req *PrescriptionRequest) (*Prescription, error) {
	if err := validatePrescriptionRequest(req); err != nil {
		return nil, err
	}
	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == PrescriptionDispensed {
		return nil, ErrAlreadyDispensed
	}
	d, err := s.drugs.GetByID(ctx, req.DrugID)
	if err != nil {
		return nil, err
	}
	req.apply(p, d)
	return s.saveUnlessDispensed(ctx, p)
}

func (s *Service) DeletePrescription(ctx context.Context, id uuid.UUID) error {
	return s.prescriptions.Delete(ctx, id)
}

func (s *Service) ListPrescriptions(ctx context.Context, limit, offset int) ([]*Prescription, int, error) {
	return s.prescriptions.List(ctx, limit, offset)
}

func (s *Service) ListPrescriptionsByStatus(ctx context.Context, status PrescriptionStatus) ([]*Prescription, error) {
	if !validPrescriptionStatuses[status] {
		return nil, ErrInvalidStatus.Withf("unknown prescription status %q", status)
	}
	return s.prescriptions.ListByStatus(ctx, status)
}

func (s *Service) ListPrescriptionsForPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return s.prescriptions.ListByPatient(ctx, patientID)
}

func (s *Service) ListPrescriptionsForPharmacist(ctx context.Context, pharmacistID uuid.UUID) ([]*Prescription, error) {
	return s.prescriptions.ListByPharmacist(ctx, pharmacistID)
}

// DispensePrescription fills a pending order. The stock decrement, the status
// write and the outbox rows commit together or not at all.
func (s *Service) DispensePrescription(ctx context.Context, id, pharmacistID uuid.UUID, pharmacistName string) (out *Prescription, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "pharmacy.DispensePrescription",
		trace.WithAttributes(attribute.String("prescription.id", id.String())))
	defer func() { tracing.End(span, err) }()

	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case p.Status == PrescriptionDispensed:
		return nil, ErrAlreadyDispensed
	case !p.Dispensable():
		return nil, ErrNotDispensable.Withf("status is %s", p.Status)
	}

	var retries int
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		d, prev, n, err := s.decrement(ctx, p.DrugID, p.Quantity)
		retries = n
		if err != nil {
			return err
		}
		at := s.now()
		ok, err := s.prescriptions.MarkDispensed(ctx, p.ID, pharmacistID, pharmacistName, at)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyDispensed
		}
		p.Status = PrescriptionDispensed
		p.PharmacistID = &pharmacistID
		p.PharmacistName = &pharmacistName
		p.DispensedAt = &at

		if err := s.emitDispensed(ctx, d, prev, p.Quantity, &p.ID); err != nil {
			return err
		}
		return s.events.Write(ctx, outbox.Event{
			AggregateID:   p.ID.String(),
			AggregateType: aggregatePrescription,
			EventType:     "pharmacy_prescription.dispensed",
			Topic:         outbox.TopicPharmacy,
			Payload: prescriptionDispensedEvent{
				PrescriptionID: p.ID, PatientID: p.PatientID, DrugID: p.DrugID,
				Quantity: p.Quantity, PharmacistID: pharmacistID,
			},
		})
	})
	s.metrics.ObserveDispense(retries, err == nil)
	if err != nil {
		if errors.Is(err, ErrAlreadyDispensed) {
			s.logger.Warn().Str("prescription_id", id.String()).Msg("prescription dispensed concurrently")
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) RequestSubstitution(ctx context.Context, id uuid.UUID, req *SubstitutionRequest) (*Prescription, error) {
	if strings.TrimSpace(req.RequestedDrugName) == "" {
		return nil, ErrInvalidPrescription.WithDetails("requested_drug_name is required")
	}
	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == PrescriptionDispensed {
		return nil, ErrAlreadyDispensed
	}
	name, reason := req.RequestedDrugName, req.SubstitutionReason
	p.Status = PrescriptionSubstitutionRequested
	p.SubstitutionRequest = &name
	p.SubstitutionReason = &reason
	return s.saveUnlessDispensed(ctx, p)
}

func (s *Service) CancelPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == PrescriptionDispensed {
		return nil, ErrAlreadyDispensed
	}
	p.Status = PrescriptionCancelled
	return s.saveUnlessDispensed(ctx, p)
}

func (s *Service) saveUnlessDispensed(ctx context.Context, p *Prescription) (*Prescription, error) {
	ok, err := s.prescriptions.UpdateUnlessDispensed(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyDispensed
	}
	return p, nil
}
