package lab

import (
	"context"
	"errors"
	"fmt"
	"math"
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

// -- Analysis types --

type typeRepoPG struct{ pool *pgxpool.Pool }

func NewTypeRepoPG(pool *pgxpool.Pool) TypeRepository {
	return &typeRepoPG{pool: pool}
}

func (r *typeRepoPG) conn(ctx context.Context) queryable {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const typeCols = `id, name, description, price, prep_instructions, turnaround_days, active, created_at, updated_at`

func scanType(row pgx.Row) (*AnalysisType, error) {
	var t AnalysisType
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Price, &t.PrepInstructions,
		&t.TurnaroundDays, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTypeNotFound
	}
	return &t, err
}

func (r *typeRepoPG) Create(ctx context.Context, t *AnalysisType) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO analysis_type (id, name, description, price, prep_instructions, turnaround_days, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.Name, t.Description, t.Price, t.PrepInstructions, t.TurnaroundDays, t.Active)
	return err
}

func (r *typeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AnalysisType, error) {
	return scanType(r.conn(ctx).QueryRow(ctx, `SELECT `+typeCols+` FROM analysis_type WHERE id = $1`, id))
}

func (r *typeRepoPG) Update(ctx context.Context, t *AnalysisType) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE analysis_type SET name=$2, description=$3, price=$4, prep_instructions=$5,
			turnaround_days=$6, active=$7, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Name, t.Description, t.Price, t.PrepInstructions, t.TurnaroundDays, t.Active)
	return err
}

func (r *typeRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*AnalysisType, int, error) {
	where := ""
	if activeOnly {
		where = " WHERE active"
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM analysis_type`+where).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+typeCols+` FROM analysis_type`+where+` ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*AnalysisType
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, nil
}

// -- Analyses --

type analysisRepoPG struct{ pool *pgxpool.Pool }

func NewAnalysisRepoPG(pool *pgxpool.Pool) AnalysisRepository {
	return &analysisRepoPG{pool: pool}
}

func (r *analysisRepoPG) conn(ctx context.Context) queryable {
	if q := db.QuerierFromContext(ctx); q != nil {
		return q
	}
	return r.pool
}

const analysisCols = `a.id, a.patient_id, a.type_id, t.name, a.status, a.ordered_by,
	a.technician_id, a.comment, a.result, a.result_values, a.normal_range, a.result_note,
	a.collection_date, a.completion_date, a.created_at, a.updated_at`

const analysisFrom = ` FROM analysis a JOIN analysis_type t ON t.id = a.type_id`

func scanAnalysis(row pgx.Row) (*Analysis, error) {
	var a Analysis
	err := row.Scan(&a.ID, &a.PatientID, &a.TypeID, &a.TypeName, &a.Status, &a.OrderedBy,
		&a.TechnicianID, &a.Comment, &a.Result, &a.ResultValues, &a.NormalRange, &a.ResultNote,
		&a.CollectionDate, &a.CompletionDate, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *analysisRepoPG) Create(ctx context.Context, a *Analysis) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusRegistered
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO analysis (id, patient_id, type_id, status, ordered_by, comment, collection_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.PatientID, a.TypeID, a.Status, a.OrderedBy, a.Comment, a.CollectionDate)
	return err
}

func (r *analysisRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Analysis, error) {
	return scanAnalysis(r.conn(ctx).QueryRow(ctx,
		`SELECT `+analysisCols+analysisFrom+` WHERE a.id = $1`, id))
}

// UpdateStatus guards the transition with the current status, so
// concurrent writers serialize: at most one CAS per step succeeds.
// completion_date is preserved once set.
func (r *analysisRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, upd StatusUpdate) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE analysis SET status=$3,
			completion_date = COALESCE(completion_date, $4),
			technician_id = COALESCE($5, technician_id),
			result = COALESCE($6, result),
			result_values = COALESCE($7, result_values),
			normal_range = COALESCE($8, normal_range),
			result_note = COALESCE($9, result_note),
			updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, upd.From, upd.To, upd.CompletionDate, upd.TechnicianID,
		upd.Result, upd.ResultValues, upd.NormalRange, upd.ResultNote)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *analysisRepoPG) UpdateComment(ctx context.Context, id uuid.UUID, comment *string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE analysis SET comment=$2, updated_at=NOW() WHERE id = $1`, id, comment)
	return err
}

func (r *analysisRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM analysis WHERE id = $1`, id)
	return err
}

func scopeCond(scope access.Scope, args *[]interface{}) string {
	if scope.All {
		return ""
	}
	*args = append(*args, scope.AccountID)
	return fmt.Sprintf(
		"a.patient_id IN (SELECT id FROM patient WHERE created_by = $%d AND self_record)", len(*args))
}

func (r *analysisRepoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Analysis, int, error) {
	var conds []string
	var args []interface{}

	if c := scopeCond(filter.Scope, &args); c != "" {
		conds = append(conds, c)
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("a.status = $%d", len(args)))
	}
	if filter.TypeID != uuid.Nil {
		args = append(args, filter.TypeID)
		conds = append(conds, fmt.Sprintf("a.type_id = $%d", len(args)))
	}
	if filter.PatientID != uuid.Nil {
		args = append(args, filter.PatientID)
		conds = append(conds, fmt.Sprintf("a.patient_id = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+analysisFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+analysisCols+analysisFrom+where+
			fmt.Sprintf(` ORDER BY a.created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, nil
}

func (r *analysisRepoPG) Stats(ctx context.Context, scope access.Scope, filter StatsFilter) (*DashboardStats, error) {
	var conds []string
	var args []interface{}

	if c := scopeCond(scope, &args); c != "" {
		conds = append(conds, c)
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("a.created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("a.created_at <= $%d", len(args)))
	}
	if filter.TypeID != uuid.Nil {
		args = append(args, filter.TypeID)
		conds = append(conds, fmt.Sprintf("a.type_id = $%d", len(args)))
	}
	if filter.PatientID != uuid.Nil {
		args = append(args, filter.PatientID)
		conds = append(conds, fmt.Sprintf("a.patient_id = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	s := &DashboardStats{ByStatus: make(map[string]int)}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT a.status, COUNT(*)`+analysisFrom+where+` GROUP BY a.status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		s.ByStatus[status] = count
		s.Total += count
	}
	rows.Close()

	if s.Total > 0 {
		pct := float64(s.ByStatus[StatusCompleted]) / float64(s.Total) * 100
		s.CompletionRate = math.Round(pct*100) / 100
	}

	rows, err = r.conn(ctx).Query(ctx,
		`SELECT a.type_id, t.name, COUNT(*)`+analysisFrom+where+
			` GROUP BY a.type_id, t.name ORDER BY COUNT(*) DESC, t.name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.TypeID, &tc.Name, &tc.Count); err != nil {
			return nil, err
		}
		s.ByType = append(s.ByType, tc)
	}

	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(t.price), 0)`+analysisFrom+where+
			andCond(where, "a.status = '"+StatusCompleted+"'"), args...).Scan(&s.Revenue); err != nil {
		return nil, err
	}
	return s, nil
}

func andCond(where, cond string) string {
	if where == "" {
		return " WHERE " + cond
	}
	return " AND " + cond
}
