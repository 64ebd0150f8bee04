package accounts

import (
	"time"

	"github.com/google/uuid"

	"github.com/medlab/medlab/internal/platform/access"
)

// Account maps to the account table. Roles are never stored here;
// they are resolved from Superuser and Groups on every request.
type Account struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	LastName       string     `db:"last_name" json:"last_name"`
	FirstName      string     `db:"first_name" json:"first_name"`
	MiddleName     *string    `db:"middle_name" json:"middle_name,omitempty"`
	BirthDate      *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender         *string    `db:"gender" json:"gender,omitempty"`
	Phone          *string    `db:"phone" json:"phone,omitempty"`
	Address        *string    `db:"address" json:"address,omitempty"`
	MedicalHistory *string    `db:"medical_history" json:"medical_history,omitempty"`
	Superuser      bool       `db:"superuser" json:"superuser"`
	Groups         []string   `db:"groups" json:"groups"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Role resolves the account's effective role.
func (a *Account) Role() access.Role {
	return access.ResolveRole(a.Superuser, a.Groups)
}

// Actor builds the request actor for this account.
func (a *Account) Actor() access.Actor {
	return access.Actor{ID: a.ID, Email: a.Email, Role: a.Role()}
}

// FullName joins the name parts for display and notifications.
func (a *Account) FullName() string {
	name := a.LastName + " " + a.FirstName
	if a.MiddleName != nil && *a.MiddleName != "" {
		name += " " + *a.MiddleName
	}
	return name
}
