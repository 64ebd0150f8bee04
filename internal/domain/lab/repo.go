package lab

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medlab/medlab/internal/platform/access"
)

var (
	// ErrNotFound is returned when no analysis matches the query.
	ErrNotFound = errors.New("analysis not found")
	// ErrTypeNotFound is returned when no analysis type matches.
	ErrTypeNotFound = errors.New("analysis type not found")
	// ErrConflict is returned when a compare-and-set update loses to a
	// concurrent status change.
	ErrConflict = errors.New("analysis was modified concurrently")
)

type TypeRepository interface {
	Create(ctx context.Context, t *AnalysisType) error
	GetByID(ctx context.Context, id uuid.UUID) (*AnalysisType, error)
	Update(ctx context.Context, t *AnalysisType) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*AnalysisType, int, error)
}

// ListFilter narrows analysis listings. Scope is mandatory.
type ListFilter struct {
	Scope     access.Scope
	Status    string
	TypeID    uuid.UUID
	PatientID uuid.UUID
}

// TypeCount is one row of the per-type breakdown, ordered by Count
// descending.
type TypeCount struct {
	TypeID uuid.UUID `json:"type_id"`
	Name   string    `json:"name"`
	Count  int       `json:"count"`
}

// DashboardStats summarizes analyses visible to the caller.
type DashboardStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByType   []TypeCount    `json:"by_type"`
	// CompletionRate is the share of completed analyses as a
	// percentage, rounded to two decimals.
	CompletionRate float64 `json:"completion_rate"`
	Revenue        float64 `json:"revenue"`
}

// StatusUpdate is a compare-and-set lifecycle change. The row is
// updated only while its status still equals From; CompletionDate and
// result fields apply only when present.
type StatusUpdate struct {
	From           string
	To             string
	CompletionDate *time.Time
	TechnicianID   *uuid.UUID
	Result         *string
	ResultValues   map[string]interface{}
	NormalRange    *string
	ResultNote     *string
}

// StatsFilter narrows the dashboard aggregation. All fields are
// optional; the scope from the caller's role is applied regardless.
type StatsFilter struct {
	From      *time.Time
	To        *time.Time
	TypeID    uuid.UUID
	PatientID uuid.UUID
}

type AnalysisRepository interface {
	Create(ctx context.Context, a *Analysis) error
	GetByID(ctx context.Context, id uuid.UUID) (*Analysis, error)
	// UpdateStatus applies a compare-and-set transition. Reports
	// whether the row was updated; false means the status no longer
	// matched From.
	UpdateStatus(ctx context.Context, id uuid.UUID, upd StatusUpdate) (bool, error)
	UpdateComment(ctx context.Context, id uuid.UUID, comment *string) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Analysis, int, error)
	Stats(ctx context.Context, scope access.Scope, filter StatsFilter) (*DashboardStats, error)
}
