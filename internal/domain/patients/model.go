package patients

import (
	"time"

	"github.com/google/uuid"
)

// Patient is a demographic record. Self-service accounts own exactly
// one record with SelfRecord set; moderators and administrators may
// register any number of walk-in patients.
type Patient struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	LastName       string     `db:"last_name" json:"last_name"`
	FirstName      string     `db:"first_name" json:"first_name"`
	MiddleName     *string    `db:"middle_name" json:"middle_name,omitempty"`
	BirthDate      time.Time  `db:"birth_date" json:"birth_date"`
	Gender         string     `db:"gender" json:"gender"`
	Phone          *string    `db:"phone" json:"phone,omitempty"`
	Address        *string    `db:"address" json:"address,omitempty"`
	MedicalHistory *string    `db:"medical_history" json:"medical_history,omitempty"`
	CreatedBy      *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	SelfRecord     bool       `db:"self_record" json:"self_record"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins the name parts, skipping an absent middle name.
func (p *Patient) FullName() string {
	name := p.LastName + " " + p.FirstName
	if p.MiddleName != nil && *p.MiddleName != "" {
		name += " " + *p.MiddleName
	}
	return name
}

// Age in whole years as of now.
func (p *Patient) Age() int {
	now := time.Now()
	years := now.Year() - p.BirthDate.Year()
	if now.YearDay() < p.BirthDate.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// OwnedBy reports whether the record belongs to the given account.
func (p *Patient) OwnedBy(accountID uuid.UUID) bool {
	return p.CreatedBy != nil && *p.CreatedBy == accountID && p.SelfRecord
}
