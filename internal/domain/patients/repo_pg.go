package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medlab/medlab/internal/platform/access"
	"github.com/medlab/medlab/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const patientCols = `id, last_name, first_name, middle_name, birth_date, gender,
	phone, address, medical_history, created_by, self_record, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.LastName, &p.FirstName, &p.MiddleName, &p.BirthDate, &p.Gender,
		&p.Phone, &p.Address, &p.MedicalHistory, &p.CreatedBy, &p.SelfRecord, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, last_name, first_name, middle_name, birth_date, gender,
			phone, address, medical_history, created_by, self_record)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.LastName, p.FirstName, p.MiddleName, p.BirthDate, p.Gender,
		p.Phone, p.Address, p.MedicalHistory, p.CreatedBy, p.SelfRecord)
	return err
}

// CreateSelf relies on the partial unique index on (created_by) for
// self records, so concurrent provisioning attempts collapse to a
// single row.
func (r *patientRepoPG) CreateSelf(ctx context.Context, p *Patient) (bool, error) {
	p.ID = uuid.New()
	p.SelfRecord = true
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, last_name, first_name, middle_name, birth_date, gender,
			phone, address, medical_history, created_by, self_record)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,TRUE)
		ON CONFLICT (created_by) WHERE self_record DO NOTHING`,
		p.ID, p.LastName, p.FirstName, p.MiddleName, p.BirthDate, p.Gender,
		p.Phone, p.Address, p.MedicalHistory, p.CreatedBy)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetSelfByCreator(ctx context.Context, accountID uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE created_by = $1 AND self_record`, accountID))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET last_name=$2, first_name=$3, middle_name=$4, birth_date=$5, gender=$6,
			phone=$7, address=$8, medical_history=$9, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.LastName, p.FirstName, p.MiddleName, p.BirthDate, p.Gender,
		p.Phone, p.Address, p.MedicalHistory)
	return err
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	return err
}

func (r *patientRepoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error) {
	var conds []string
	var args []interface{}

	if !filter.Scope.All {
		args = append(args, filter.Scope.AccountID)
		conds = append(conds, fmt.Sprintf("created_by = $%d AND self_record", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(LOWER(last_name) LIKE $%d OR LOWER(first_name) LIKE $%d)", n, n))
	}
	if filter.Gender != "" {
		args = append(args, filter.Gender)
		conds = append(conds, fmt.Sprintf("gender = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patient`+where+
			fmt.Sprintf(` ORDER BY last_name, first_name LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}

func (r *patientRepoPG) Stats(ctx context.Context, scope access.Scope) (*Stats, error) {
	where := ""
	var args []interface{}
	if !scope.All {
		where = " WHERE created_by = $1 AND self_record"
		args = append(args, scope.AccountID)
	}

	s := &Stats{ByGender: make(map[string]int)}
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE self_record) FROM patient`+where, args...).
		Scan(&s.Total, &s.SelfService); err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT gender, COUNT(*) FROM patient`+where+` GROUP BY gender`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var gender string
		var count int
		if err := rows.Scan(&gender, &count); err != nil {
			return nil, err
		}
		s.ByGender[gender] = count
	}
	return s, nil
}
