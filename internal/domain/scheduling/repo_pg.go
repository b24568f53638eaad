package scheduling

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

const appointmentSlotKey = "appointment_doctor_id_appointment_at_key"

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, patient_id, doctor_id, patient_name, doctor_name, doctor_specialization,
	patient_email, doctor_email, appointment_at, reason, status, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.PatientName, &a.DoctorName, &a.DoctorSpecialization,
		&a.PatientEmail, &a.DoctorEmail, &a.AppointmentAt, &a.Reason, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan appointment: %w", err)
	}
	return &a, nil
}

func (r *appointmentRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, patient_name, doctor_name, doctor_specialization,
			patient_email, doctor_email, appointment_at, reason, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.PatientName, a.DoctorName, a.DoctorSpecialization,
		a.PatientEmail, a.DoctorEmail, a.AppointmentAt, a.Reason, a.Status,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err, appointmentSlotKey) {
		return ErrSlotTaken
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) SlotTaken(ctx context.Context, doctorID uuid.UUID, at time.Time) (bool, error) {
	var taken bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM appointment WHERE doctor_id = $1 AND appointment_at = $2)`,
		doctorID, at).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return taken, nil
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	return r.list(ctx, `SELECT `+apptCols+` FROM appointment WHERE patient_id = $1 ORDER BY appointment_at`, patientID)
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Appointment, error) {
	return r.list(ctx, `SELECT `+apptCols+` FROM appointment WHERE doctor_id = $1 ORDER BY appointment_at`, doctorID)
}

func (r *appointmentRepoPG) Transition(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("transition appointment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// =========== Surgery Repository ===========

type surgeryRepoPG struct{ pool *pgxpool.Pool }

func NewSurgeryRepoPG(pool *pgxpool.Pool) SurgeryRepository {
	return &surgeryRepoPG{pool: pool}
}

func (r *surgeryRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const surgeryCols = `id, doctor_id, patient_id, patient_name, condition, notes, operating_room,
	surgery_type, urgency, scheduled_at, status, completed_at, created_at, updated_at`

func (r *surgeryRepoPG) scanSurgery(row pgx.Row) (*Surgery, error) {
	var s Surgery
	err := row.Scan(&s.ID, &s.DoctorID, &s.PatientID, &s.PatientName, &s.Condition, &s.Notes, &s.OperatingRoom,
		&s.SurgeryType, &s.Urgency, &s.ScheduledAt, &s.Status, &s.CompletedAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSurgeryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan surgery: %w", err)
	}
	return &s, nil
}

func (r *surgeryRepoPG) Create(ctx context.Context, s *Surgery) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO surgery (id, doctor_id, patient_id, patient_name, condition, notes, operating_room,
			surgery_type, urgency, scheduled_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		s.ID, s.DoctorID, s.PatientID, s.PatientName, s.Condition, s.Notes, s.OperatingRoom,
		s.SurgeryType, s.Urgency, s.ScheduledAt, s.Status,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *surgeryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Surgery, error) {
	return r.scanSurgery(r.conn(ctx).QueryRow(ctx, `SELECT `+surgeryCols+` FROM surgery WHERE id = $1`, id))
}

func (r *surgeryRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Surgery, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+surgeryCols+` FROM surgery WHERE doctor_id = $1 ORDER BY scheduled_at`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list surgeries: %w", err)
	}
	return r.collect(rows)
}

func (r *surgeryRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status SurgeryStatus) ([]*Surgery, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+surgeryCols+` FROM surgery
		WHERE patient_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY scheduled_at`, patientID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list patient surgeries: %w", err)
	}
	return r.collect(rows)
}

func (r *surgeryRepoPG) collect(rows pgx.Rows) ([]*Surgery, error) {
	defer rows.Close()
	var out []*Surgery
	for rows.Next() {
		s, err := r.scanSurgery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *surgeryRepoPG) Update(ctx context.Context, s *Surgery) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE surgery SET condition = $2, notes = $3, operating_room = $4, surgery_type = $5,
			urgency = $6, scheduled_at = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Condition, s.Notes, s.OperatingRoom, s.SurgeryType, s.Urgency, s.ScheduledAt,
	).Scan(&s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSurgeryNotFound
	}
	return err
}

func (r *surgeryRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM surgery WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete surgery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSurgeryNotFound
	}
	return nil
}

func (r *surgeryRepoPG) Complete(ctx context.Context, id uuid.UUID, at time.Time) (*Surgery, error) {
	return r.scanSurgery(r.conn(ctx).QueryRow(ctx, `
		UPDATE surgery SET status = 'COMPLETED', completed_at = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+surgeryCols, id, at))
}

func (r *surgeryRepoPG) CountByStatus(ctx context.Context, doctorID uuid.UUID) (*SurgeryCounts, error) {
	var c SurgeryCounts
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'PENDING'), COUNT(*) FILTER (WHERE status = 'COMPLETED')
		FROM surgery WHERE doctor_id = $1`, doctorID).Scan(&c.Pending, &c.Completed)
	if err != nil {
		return nil, fmt.Errorf("count surgeries: %w", err)
	}
	return &c, nil
}
