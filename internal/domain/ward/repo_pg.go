package ward

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

const wardBedKey = "ward_bed_ward_no_bed_no_key"

type bedRepoPG struct{ pool *pgxpool.Pool }

func NewBedRepoPG(pool *pgxpool.Pool) BedRepository {
	return &bedRepoPG{pool: pool}
}

func (r *bedRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const bedCols = `id, ward_no, bed_no, status, patient_id, created_at, updated_at`

func (r *bedRepoPG) scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	err := row.Scan(&b.ID, &b.WardNo, &b.BedNo, &b.Status, &b.PatientID, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bed: %w", err)
	}
	return &b, nil
}

func (r *bedRepoPG) Create(ctx context.Context, b *Bed) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ward_bed (id, ward_no, bed_no, status, patient_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		b.ID, b.WardNo, b.BedNo, b.Status, b.PatientID,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if db.IsUniqueViolation(err, wardBedKey) {
		return ErrDuplicateBed
	}
	return err
}

func (r *bedRepoPG) Get(ctx context.Context, key Key) (*Bed, error) {
	return r.scanBed(r.conn(ctx).QueryRow(ctx,
		`SELECT `+bedCols+` FROM ward_bed WHERE ward_no = $1 AND bed_no = $2`, key.WardNo, key.BedNo))
}

func (r *bedRepoPG) List(ctx context.Context, f Filter) ([]*Bed, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+bedCols+` FROM ward_bed
		WHERE ($1 = '' OR ward_no = $1) AND ($2 = '' OR status = $2)
		ORDER BY ward_no, bed_no`, f.WardNo, string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("list beds: %w", err)
	}
	defer rows.Close()
	var out []*Bed
	for rows.Next() {
		b, err := r.scanBed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *bedRepoPG) Assign(ctx context.Context, key Key, patientID uuid.UUID) (*Bed, error) {
	b, err := r.scanBed(r.conn(ctx).QueryRow(ctx, `
		UPDATE ward_bed SET status = 'OCCUPIED', patient_id = $3, updated_at = NOW()
		WHERE ward_no = $1 AND bed_no = $2 AND status <> 'OCCUPIED'
		RETURNING `+bedCols, key.WardNo, key.BedNo, patientID))
	if !errors.Is(err, ErrBedNotFound) {
		return b, err
	}
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ward_bed WHERE ward_no = $1 AND bed_no = $2)`,
		key.WardNo, key.BedNo).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check bed: %w", err)
	}
	if exists {
		return nil, ErrBedOccupied
	}
	return nil, ErrBedNotFound
}

func (r *bedRepoPG) SetState(ctx context.Context, key Key, status BedStatus, patientID *uuid.UUID) (*Bed, error) {
	return r.scanBed(r.conn(ctx).QueryRow(ctx, `
		UPDATE ward_bed SET status = $3, patient_id = $4, updated_at = NOW()
		WHERE ward_no = $1 AND bed_no = $2
		RETURNING `+bedCols, key.WardNo, key.BedNo, status, patientID))
}

func (r *bedRepoPG) Delete(ctx context.Context, key Key) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM ward_bed WHERE ward_no = $1 AND bed_no = $2`, key.WardNo, key.BedNo)
	if err != nil {
		return fmt.Errorf("delete bed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBedNotFound
	}
	return nil
}
