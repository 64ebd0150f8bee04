package reports

import (
	"time"

	"github.com/google/uuid"

	"github.com/medlab/medlab/internal/domain/lab"
)

// Report categories. Custom covers ad-hoc snapshots that do not fit
// the stock dashboards.
const (
	TypePatients  = "patients"
	TypeAnalyses  = "analyses"
	TypeFinancial = "financial"
	TypeCustom    = "custom"
)

// ValidType reports whether t is a known report category.
func ValidType(t string) bool {
	switch t {
	case TypePatients, TypeAnalyses, TypeFinancial, TypeCustom:
		return true
	}
	return false
}

// Filter narrows the aggregate to a date range, one analysis type or
// one patient. All fields are optional.
type Filter struct {
	From      *time.Time
	To        *time.Time
	TypeID    uuid.UUID
	PatientID uuid.UUID
}

// Summary is the aggregated view of the lab at one point in time.
type Summary struct {
	TotalPatients   int             `json:"total_patients"`
	SelfService     int             `json:"self_service_patients"`
	TotalAnalyses   int             `json:"total_analyses"`
	ByStatus        map[string]int  `json:"by_status"`
	ByType          []lab.TypeCount `json:"by_type"`
	CompletionRate  float64         `json:"completion_rate"`
	Revenue         float64         `json:"revenue"`
	PatientByGender map[string]int  `json:"patients_by_gender"`
}

// Report is a persisted summary snapshot. Reports are immutable once
// generated; regenerating produces a new record.
type Report struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Title       string     `db:"title" json:"title"`
	Type        string     `db:"report_type" json:"type"`
	GeneratedBy uuid.UUID  `db:"generated_by" json:"generated_by"`
	DateFrom    *time.Time `db:"date_from" json:"date_from,omitempty"`
	DateTo      *time.Time `db:"date_to" json:"date_to,omitempty"`
	Summary     Summary    `db:"summary" json:"summary"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}
