package lab

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AnalysisType is a catalog entry for an orderable lab test. Types are
// deactivated rather than deleted so historical analyses keep their
// reference.
type AnalysisType struct {
	ID               uuid.UUID `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	Description      *string   `db:"description" json:"description,omitempty"`
	Price            float64   `db:"price" json:"price"`
	PrepInstructions *string   `db:"prep_instructions" json:"prep_instructions,omitempty"`
	TurnaroundDays   *int      `db:"turnaround_days" json:"turnaround_days,omitempty"`
	Active           bool      `db:"active" json:"active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Analysis lifecycle states.
const (
	StatusRegistered = "registered"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// validTransitions maps each status to the states reachable from it.
// Any non-terminal state reaches any other state; completed and
// cancelled are terminal.
var validTransitions = map[string][]string{
	StatusRegistered: {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusRegistered, StatusCompleted, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// ValidStatus reports whether s names a known lifecycle state.
func ValidStatus(s string) bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are allowed.
func IsTerminal(s string) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ValidateTransition checks a single lifecycle step.
func ValidateTransition(from, to string) error {
	if !ValidStatus(to) {
		return fmt.Errorf("invalid status: %s", to)
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	if IsTerminal(from) {
		return fmt.Errorf("analysis is %s and cannot change status", from)
	}
	return fmt.Errorf("cannot transition from %s to %s", from, to)
}

// Analysis is one ordered lab test for a patient.
type Analysis struct {
	ID             uuid.UUID              `db:"id" json:"id"`
	PatientID      uuid.UUID              `db:"patient_id" json:"patient_id"`
	TypeID         uuid.UUID              `db:"type_id" json:"type_id"`
	TypeName       string                 `db:"type_name" json:"type_name,omitempty"`
	Status         string                 `db:"status" json:"status"`
	OrderedBy      *uuid.UUID             `db:"ordered_by" json:"ordered_by,omitempty"`
	TechnicianID   *uuid.UUID             `db:"technician_id" json:"technician_id,omitempty"`
	Comment        *string                `db:"comment" json:"comment,omitempty"`
	Result         *string                `db:"result" json:"result,omitempty"`
	ResultValues   map[string]interface{} `db:"result_values" json:"result_values,omitempty"`
	NormalRange    *string                `db:"normal_range" json:"normal_range,omitempty"`
	ResultNote     *string                `db:"result_note" json:"result_note,omitempty"`
	CollectionDate *time.Time             `db:"collection_date" json:"collection_date,omitempty"`
	CompletionDate *time.Time             `db:"completion_date" json:"completion_date,omitempty"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time              `db:"updated_at" json:"updated_at"`
}

// CompletionNotice is emitted when an analysis reaches the completed
// state. It is dispatched after the database change is durable, and at
// most once per analysis.
type CompletionNotice struct {
	AnalysisID  uuid.UUID
	PatientID   uuid.UUID
	PatientName string
	TypeName    string
	Recipient   string
}
