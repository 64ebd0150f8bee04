package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medlab/medlab/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type accountRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &accountRepoPG{pool: pool}
}

func (r *accountRepoPG) conn(ctx context.Context) queryable {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const accountCols = `id, email, password_hash, last_name, first_name, middle_name,
	birth_date, gender, phone, address, medical_history,
	superuser, groups, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.LastName, &a.FirstName, &a.MiddleName,
		&a.BirthDate, &a.Gender, &a.Phone, &a.Address, &a.MedicalHistory,
		&a.Superuser, &a.Groups, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *accountRepoPG) Create(ctx context.Context, a *Account) error {
	a.ID = uuid.New()
	if a.Groups == nil {
		a.Groups = []string{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO account (id, email, password_hash, last_name, first_name, middle_name,
			birth_date, gender, phone, address, medical_history, superuser, groups)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.Email, a.PasswordHash, a.LastName, a.FirstName, a.MiddleName,
		a.BirthDate, a.Gender, a.Phone, a.Address, a.MedicalHistory, a.Superuser, a.Groups)
	return err
}

func (r *accountRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM account WHERE id = $1`, id))
}

func (r *accountRepoPG) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM account WHERE email = $1`, email))
}

func (r *accountRepoPG) Update(ctx context.Context, a *Account) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE account SET email=$2, password_hash=$3, last_name=$4, first_name=$5, middle_name=$6,
			birth_date=$7, gender=$8, phone=$9, address=$10, medical_history=$11,
			superuser=$12, groups=$13, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Email, a.PasswordHash, a.LastName, a.FirstName, a.MiddleName,
		a.BirthDate, a.Gender, a.Phone, a.Address, a.MedicalHistory, a.Superuser, a.Groups)
	return err
}

func (r *accountRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM account WHERE id = $1`, id)
	return err
}

func (r *accountRepoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Account, int, error) {
	var conds []string
	var args []interface{}

	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(LOWER(email) LIKE $%d OR LOWER(last_name) LIKE $%d OR LOWER(first_name) LIKE $%d)", n, n, n))
	}
	if filter.ExcludeAdministrators {
		conds = append(conds, "NOT superuser AND NOT ('administrators' = ANY(groups))")
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM account`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+accountCols+` FROM account`+where+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, nil
}
