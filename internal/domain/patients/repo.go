package patients

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/medlab/medlab/internal/platform/access"
)

// ErrNotFound is returned when no patient matches the query.
var ErrNotFound = errors.New("patient not found")

// ListFilter narrows List results. Scope is mandatory; a patient-role
// scope restricts results to the caller's own record.
type ListFilter struct {
	Scope  access.Scope
	Search string
	Gender string
}

// Stats summarizes the patient registry.
type Stats struct {
	Total       int            `json:"total"`
	SelfService int            `json:"self_service"`
	ByGender    map[string]int `json:"by_gender"`
}

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	// CreateSelf inserts a self-service record unless the creator
	// already has one. Reports whether a row was inserted.
	CreateSelf(ctx context.Context, p *Patient) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetSelfByCreator(ctx context.Context, accountID uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error)
	Stats(ctx context.Context, scope access.Scope) (*Stats, error)
}
