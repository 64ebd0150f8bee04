package accounts

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an account does not exist.
var ErrNotFound = errors.New("account not found")

// ListFilter narrows account listings.
type ListFilter struct {
	// Search matches email and name parts.
	Search string
	// ExcludeAdministrators hides superusers and members of the
	// administrators group. Applied for moderator listings.
	ExcludeAdministrators bool
}

type Repository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Update(ctx context.Context, a *Account) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Account, int, error)
}
