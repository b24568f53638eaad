package pharmacy

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

// =========== Drug Repository ===========

type drugRepoPG struct{ pool *pgxpool.Pool }

func NewDrugRepoPG(pool *pgxpool.Pool) DrugRepository {
	return &drugRepoPG{pool: pool}
}

func (r *drugRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const drugCols = `id, name, dosage_form, quantity, unit_price, manufacturer, description,
	expiry_date, status, created_at, updated_at`

func (r *drugRepoPG) scanDrug(row pgx.Row) (*Drug, error) {
	var d Drug
	err := row.Scan(&d.ID, &d.Name, &d.DosageForm, &d.Quantity, &d.UnitPrice, &d.Manufacturer, &d.Description,
		&d.ExpiryDate, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDrugNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan drug: %w", err)
	}
	return &d, nil
}

func (r *drugRepoPG) collect(rows pgx.Rows) ([]*Drug, error) {
	defer rows.Close()
	var out []*Drug
	for rows.Next() {
		d, err := r.scanDrug(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *drugRepoPG) Create(ctx context.Context, d *Drug) error {
	d.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO drug (id, name, dosage_form, quantity, unit_price, manufacturer, description, expiry_date, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.DosageForm, d.Quantity, d.UnitPrice, d.Manufacturer, d.Description, d.ExpiryDate, d.Status,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *drugRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return r.scanDrug(r.conn(ctx).QueryRow(ctx, `SELECT `+drugCols+` FROM drug WHERE id = $1`, id))
}

func (r *drugRepoPG) Update(ctx context.Context, d *Drug) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE drug SET name=$2, dosage_form=$3, quantity=$4, unit_price=$5, manufacturer=$6,
			description=$7, expiry_date=$8, status=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.Name, d.DosageForm, d.Quantity, d.UnitPrice, d.Manufacturer,
		d.Description, d.ExpiryDate, d.Status,
	).Scan(&d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDrugNotFound
	}
	return err
}

func (r *drugRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM drug WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return ErrDrugInUse
	}
	if err != nil {
		return fmt.Errorf("delete drug: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDrugNotFound
	}
	return nil
}

func (r *drugRepoPG) List(ctx context.Context, limit, offset int) ([]*Drug, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM drug`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count drugs: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+drugCols+` FROM drug ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list drugs: %w", err)
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *drugRepoPG) ListByStatus(ctx context.Context, status DrugStatus) ([]*Drug, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+drugCols+` FROM drug WHERE status = $1 ORDER BY name`, status)
	if err != nil {
		return nil, fmt.Errorf("list drugs by status: %w", err)
	}
	return r.collect(rows)
}

func (r *drugRepoPG) SearchByName(ctx context.Context, name string) ([]*Drug, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+drugCols+` FROM drug WHERE name ILIKE '%' || $1 || '%' ORDER BY name`, name)
	if err != nil {
		return nil, fmt.Errorf("search drugs: %w", err)
	}
	return r.collect(rows)
}

func (r *drugRepoPG) ListLowStock(ctx context.Context, threshold int) ([]*Drug, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+drugCols+` FROM drug WHERE quantity <= $1 ORDER BY quantity, name`, threshold)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	return r.collect(rows)
}

func (r *drugRepoPG) ListExpiringBefore(ctx context.Context, t time.Time) ([]*Drug, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+drugCols+` FROM drug WHERE expiry_date < $1 AND status <> 'EXPIRED' ORDER BY expiry_date`, t)
	if err != nil {
		return nil, fmt.Errorf("list expiring drugs: %w", err)
	}
	return r.collect(rows)
}

func (r *drugRepoPG) CompareAndSetQuantity(ctx context.Context, id uuid.UUID, expected, quantity int, status DrugStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE drug SET quantity = $3, status = $4, updated_at = NOW()
		WHERE id = $1 AND quantity = $2`,
		id, expected, quantity, status)
	if err != nil {
		return false, fmt.Errorf("set drug quantity: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *drugRepoPG) SetQuantity(ctx context.Context, id uuid.UUID, quantity int, status DrugStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE drug SET quantity = $2, status = $3, updated_at = NOW() WHERE id = $1`,
		id, quantity, status)
	if err != nil {
		return fmt.Errorf("set drug quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDrugNotFound
	}
	return nil
}

func (r *drugRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status DrugStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE drug SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set drug status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDrugNotFound
	}
	return nil
}

// =========== Pharmacy Prescription Repository ===========

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const rxCols = `id, patient_id, patient_name, doctor_id, doctor_name, drug_id, drug_name, dosage,
	quantity, instructions, status, pharmacist_id, pharmacist_name, dispensed_at,
	substitution_request, substitution_reason, created_at, updated_at`

func (r *prescriptionRepoPG) scanRx(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.PatientName, &p.DoctorID, &p.DoctorName, &p.DrugID, &p.DrugName, &p.Dosage,
		&p.Quantity, &p.Instructions, &p.Status, &p.PharmacistID, &p.PharmacistName, &p.DispensedAt,
		&p.SubstitutionRequest, &p.SubstitutionReason, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPrescriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pharmacy prescription: %w", err)
	}
	return &p, nil
}

func (r *prescriptionRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query pharmacy prescriptions: %w", err)
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
		INSERT INTO pharmacy_prescription (id, patient_id, patient_name, doctor_id, doctor_name,
			drug_id, drug_name, dosage, quantity, instructions, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, p.PatientName, p.DoctorID, p.DoctorName,
		p.DrugID, p.DrugName, p.Dosage, p.Quantity, p.Instructions, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.scanRx(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+` FROM pharmacy_prescription WHERE id = $1`, id))
}

func (r *prescriptionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM pharmacy_prescription WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pharmacy prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPrescriptionNotFound
	}
	return nil
}

func (r *prescriptionRepoPG) List(ctx context.Context, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pharmacy_prescription`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pharmacy prescriptions: %w", err)
	}
	items, err := r.query(ctx, `SELECT `+rxCols+` FROM pharmacy_prescription
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	return items, total, err
}

func (r *prescriptionRepoPG) ListByStatus(ctx context.Context, status PrescriptionStatus) ([]*Prescription, error) {
	return r.query(ctx, `SELECT `+rxCols+` FROM pharmacy_prescription WHERE status = $1 ORDER BY created_at DESC`, status)
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return r.query(ctx, `SELECT `+rxCols+` FROM pharmacy_prescription WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
}

func (r *prescriptionRepoPG) ListByPharmacist(ctx context.Context, pharmacistID uuid.UUID) ([]*Prescription, error) {
	return r.query(ctx, `SELECT `+rxCols+` FROM pharmacy_prescription WHERE pharmacist_id = $1 ORDER BY dispensed_at DESC`, pharmacistID)
}

func (r *prescriptionRepoPG) UpdateUnlessDispensed(ctx context.Context, p *Prescription) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE pharmacy_prescription SET patient_id=$2, patient_name=$3, doctor_id=$4, doctor_name=$5,
			drug_id=$6, drug_name=$7, dosage=$8, quantity=$9, instructions=$10, status=$11,
			substitution_request=$12, substitution_reason=$13, updated_at=NOW()
		WHERE id = $1 AND status <> 'DISPENSED'
		RETURNING updated_at`,
		p.ID, p.PatientID, p.PatientName, p.DoctorID, p.DoctorName,
		p.DrugID, p.DrugName, p.Dosage, p.Quantity, p.Instructions, p.Status,
		p.SubstitutionRequest, p.SubstitutionReason,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update pharmacy prescription: %w", err)
	}
	return true, nil
}

func (r *prescriptionRepoPG) MarkDispensed(ctx context.Context, id, pharmacistID uuid.UUID, pharmacistName string, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pharmacy_prescription
		SET status = 'DISPENSED', pharmacist_id = $2, pharmacist_name = $3, dispensed_at = $4, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('DISPENSED', 'CANCELLED', 'EXPIRED')`,
		id, pharmacistID, pharmacistName, at)
	if err != nil {
		return false, fmt.Errorf("mark dispensed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
