package nursing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

func (r *medicationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const medCols = `id, name, generic_name, type, dosage_strength, dosage_unit, manufacturer,
	controlled, active, created_at, updated_at`

func (r *medicationRepoPG) scanMed(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.Name, &m.GenericName, &m.Type, &m.DosageStrength, &m.DosageUnit, &m.Manufacturer,
		&m.Controlled, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMedicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan medication: %w", err)
	}
	return &m, nil
}

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medication (id, name, generic_name, type, dosage_strength, dosage_unit, manufacturer, controlled, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		m.ID, m.Name, m.GenericName, m.Type, m.DosageStrength, m.DosageUnit, m.Manufacturer, m.Controlled, m.Active,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return r.scanMed(r.conn(ctx).QueryRow(ctx, `SELECT `+medCols+` FROM medication WHERE id = $1`, id))
}

func (r *medicationRepoPG) List(ctx context.Context, activeOnly bool) ([]*Medication, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+medCols+` FROM medication WHERE active OR NOT $1 ORDER BY name`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	defer rows.Close()
	var out []*Medication
	for rows.Next() {
		m, err := r.scanMed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =========== Prescription Repository ===========

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const rxCols = `id, prescription_id, patient_id, prescriber_id, medication_id, medication_name,
	dosage, dosage_unit, frequency, start_date, end_date, total_quantity, remaining_quantity,
	instructions, notes, status, created_at, updated_at`

func (r *prescriptionRepoPG) scanRx(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PrescriptionID, &p.PatientID, &p.PrescriberID, &p.MedicationID, &p.MedicationName,
		&p.Dosage, &p.DosageUnit, &p.Frequency, &p.StartDate, &p.EndDate, &p.TotalQuantity, &p.RemainingQuantity,
		&p.Instructions, &p.Notes, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPrescriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan prescription: %w", err)
	}
	return &p, nil
}

func (r *prescriptionRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	defer rows.Close()
	var out []*Prescription
	for rows.Next() {
		p, err := r.scanRx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription (id, prescription_id, patient_id, prescriber_id, medication_id, medication_name,
			dosage, dosage_unit, frequency, start_date, end_date, total_quantity, remaining_quantity,
			instructions, notes, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		p.ID, p.PrescriptionID, p.PatientID, p.PrescriberID, p.MedicationID, p.MedicationName,
		p.Dosage, p.DosageUnit, p.Frequency, p.StartDate, p.EndDate, p.TotalQuantity, p.RemainingQuantity,
		p.Instructions, p.Notes, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.scanRx(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+` FROM prescription WHERE id = $1`, id))
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return r.query(ctx, `SELECT `+rxCols+` FROM prescription WHERE patient_id = $1 ORDER BY start_date DESC`, patientID)
}

func (r *prescriptionRepoPG) ListActiveForMedication(ctx context.Context, patientID, medicationID uuid.UUID) ([]*Prescription, error) {
	return r.query(ctx, `SELECT `+rxCols+` FROM prescription
		WHERE patient_id = $1 AND medication_id = $2 AND status = 'ACTIVE'
		ORDER BY updated_at DESC, created_at DESC`, patientID, medicationID)
}

func (r *prescriptionRepoPG) ListActiveForPatient(ctx context.Context, patientID uuid.UUID, now time.Time) ([]*Prescription, error) {
	return r.query(ctx, `SELECT `+rxCols+` FROM prescription
		WHERE patient_id = $1 AND status = 'ACTIVE' AND (end_date IS NULL OR end_date > $2)
		ORDER BY start_date`, patientID, now)
}

func (r *prescriptionRepoPG) ConsumeOne(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := r.scanRx(r.conn(ctx).QueryRow(ctx, `
		UPDATE prescription
		SET remaining_quantity = CASE WHEN remaining_quantity IS NULL THEN NULL ELSE remaining_quantity - 1 END,
			status = CASE WHEN remaining_quantity = 1 THEN 'COMPLETED' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE' AND (remaining_quantity IS NULL OR remaining_quantity > 0)
		RETURNING `+rxCols, id))
	if errors.Is(err, ErrPrescriptionNotFound) {
		return nil, ErrNoValidPrescription
	}
	return p, err
}

func (r *prescriptionRepoPG) ExpireLapsed(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription SET status = 'EXPIRED', updated_at = NOW()
		WHERE status = 'ACTIVE' AND end_date IS NOT NULL AND end_date <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire prescriptions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *prescriptionRepoPG) CountActiveBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM prescription
		WHERE status = 'ACTIVE' AND start_date <= $2 AND (end_date IS NULL OR end_date >= $1)`,
		from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active prescriptions: %w", err)
	}
	return n, nil
}

// =========== Administration Record Repository ===========

type administrationRepoPG struct{ pool *pgxpool.Pool }

func NewAdministrationRepoPG(pool *pgxpool.Pool) AdministrationRepository {
	return &administrationRepoPG{pool: pool}
}

func (r *administrationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const recCols = `id, record_id, patient_id, nurse_id, prescription_id, medication_id, medication_name,
	administered_dosage, dosage_unit, administration_time, notes, adverse_reaction, status,
	verification_code, created_at, updated_at`

func (r *administrationRepoPG) scanRecord(row pgx.Row) (*AdministrationRecord, error) {
	var a AdministrationRecord
	err := row.Scan(&a.ID, &a.RecordID, &a.PatientID, &a.NurseID, &a.PrescriptionID, &a.MedicationID, &a.MedicationName,
		&a.AdministeredDosage, &a.DosageUnit, &a.AdministrationTime, &a.Notes, &a.AdverseReaction, &a.Status,
		&a.VerificationCode, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan administration record: %w", err)
	}
	return &a, nil
}

func (r *administrationRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*AdministrationRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query administration records: %w", err)
	}
	defer rows.Close()
	var out []*AdministrationRecord
	for rows.Next() {
		a, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *administrationRepoPG) Create(ctx context.Context, a *AdministrationRecord) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO administration_record (id, record_id, patient_id, nurse_id, prescription_id, medication_id,
			medication_name, administered_dosage, dosage_unit, administration_time, notes, adverse_reaction,
			status, verification_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		a.ID, a.RecordID, a.PatientID, a.NurseID, a.PrescriptionID, a.MedicationID,
		a.MedicationName, a.AdministeredDosage, a.DosageUnit, a.AdministrationTime, a.Notes, a.AdverseReaction,
		a.Status, a.VerificationCode,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *administrationRepoPG) GetByRecordID(ctx context.Context, recordID string) (*AdministrationRecord, error) {
	return r.scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recCols+` FROM administration_record WHERE record_id = $1`, recordID))
}

func (r *administrationRepoPG) SetAdverseReaction(ctx context.Context, recordID, reaction string) (*AdministrationRecord, error) {
	return r.scanRecord(r.conn(ctx).QueryRow(ctx, `
		UPDATE administration_record SET adverse_reaction = $2, updated_at = NOW()
		WHERE record_id = $1
		RETURNING `+recCols, recordID, reaction))
}

func (r *administrationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*AdministrationRecord, error) {
	return r.query(ctx, `SELECT `+recCols+` FROM administration_record
		WHERE patient_id = $1 ORDER BY administration_time DESC`, patientID)
}

func (r *administrationRepoPG) ListByNurse(ctx context.Context, nurseID uuid.UUID) ([]*AdministrationRecord, error) {
	return r.query(ctx, `SELECT `+recCols+` FROM administration_record
		WHERE nurse_id = $1 ORDER BY administration_time DESC`, nurseID)
}

func (r *administrationRepoPG) ListByNurseBetween(ctx context.Context, nurseID uuid.UUID, from, to time.Time) ([]*AdministrationRecord, error) {
	return r.query(ctx, `SELECT `+recCols+` FROM administration_record
		WHERE nurse_id = $1 AND administration_time >= $2 AND administration_time <= $3
		ORDER BY administration_time`, nurseID, from, to)
}

func (r *administrationRepoPG) ListRecent(ctx context.Context, patientID, medicationID uuid.UUID, since time.Time) ([]*AdministrationRecord, error) {
	return r.query(ctx, `SELECT `+recCols+` FROM administration_record
		WHERE patient_id = $1 AND medication_id = $2 AND administration_time >= $3
		ORDER BY administration_time DESC`, patientID, medicationID, since)
}

func (r *administrationRepoPG) CountAdverseReactionsByNurse(ctx context.Context, nurseID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM administration_record
		WHERE nurse_id = $1 AND adverse_reaction IS NOT NULL AND adverse_reaction <> ''`, nurseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count adverse reactions: %w", err)
	}
	return n, nil
}
