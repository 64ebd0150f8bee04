package lab

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medlab/medlab/internal/domain/accounts"
	"github.com/medlab/medlab/internal/domain/patients"
	"github.com/medlab/medlab/internal/platform/access"
	"github.com/medlab/medlab/internal/platform/notification"
)

// Provisioner supplies the caller's own patient record, creating it on
// first use. Satisfied by the patients service.
type Provisioner interface {
	EnsureSelfPatient(ctx context.Context, actor access.Actor) (*patients.Patient, error)
}

// PatientSource reads patient records without access checks; the lab
// service applies its own. Satisfied by the patients repository.
type PatientSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patients.Patient, error)
}

// AccountSource resolves notification recipients.
type AccountSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*accounts.Account, error)
}

// Notifier delivers completion notices. Satisfied by
// *notification.Manager.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

type Service struct {
	types       TypeRepository
	analyses    AnalysisRepository
	provisioner Provisioner
	patientSrc  PatientSource
	accountSrc  AccountSource
	notifier    Notifier
	logger      zerolog.Logger
}

func NewService(types TypeRepository, analyses AnalysisRepository, provisioner Provisioner,
	patientSrc PatientSource, accountSrc AccountSource, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		types:       types,
		analyses:    analyses,
		provisioner: provisioner,
		patientSrc:  patientSrc,
		accountSrc:  accountSrc,
		notifier:    notifier,
		logger:      logger,
	}
}

// -- Analysis type catalog --

// TypeInput carries catalog entry fields.
type TypeInput struct {
	Name             string  `json:"name"`
	Description      *string `json:"description,omitempty"`
	Price            float64 `json:"price"`
	PrepInstructions *string `json:"prep_instructions,omitempty"`
	TurnaroundDays   *int    `json:"turnaround_days,omitempty"`
}

func (in *TypeInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if in.Price < 0 {
		return fmt.Errorf("price cannot be negative")
	}
	if in.TurnaroundDays != nil && *in.TurnaroundDays < 0 {
		return fmt.Errorf("turnaround days cannot be negative")
	}
	return nil
}

func staffOnly(actor access.Actor) error {
	if actor.Role != access.RoleModerator && actor.Role != access.RoleAdministrator {
		return access.ErrForbidden
	}
	return nil
}

func (s *Service) CreateType(ctx context.Context, actor access.Actor, in TypeInput) (*AnalysisType, error) {
	if err := staffOnly(actor); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	t := &AnalysisType{
		Name:             strings.TrimSpace(in.Name),
		Description:      in.Description,
		Price:            in.Price,
		PrepInstructions: in.PrepInstructions,
		TurnaroundDays:   in.TurnaroundDays,
		Active:           true,
	}
	if err := s.types.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) GetType(ctx context.Context, id uuid.UUID) (*AnalysisType, error) {
	return s.types.GetByID(ctx, id)
}

// ListTypes returns catalog entries. Non-staff callers only see active
// entries.
func (s *Service) ListTypes(ctx context.Context, actor access.Actor, limit, offset int) ([]*AnalysisType, int, error) {
	activeOnly := actor.Role != access.RoleModerator && actor.Role != access.RoleAdministrator
	return s.types.List(ctx, activeOnly, limit, offset)
}

func (s *Service) UpdateType(ctx context.Context, actor access.Actor, id uuid.UUID, in TypeInput) (*AnalysisType, error) {
	if err := staffOnly(actor); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	t, err := s.types.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Name = strings.TrimSpace(in.Name)
	t.Description = in.Description
	t.Price = in.Price
	t.PrepInstructions = in.PrepInstructions
	t.TurnaroundDays = in.TurnaroundDays
	if err := s.types.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeactivateType retires a catalog entry. Existing analyses keep their
// reference; new ones can no longer order it.
func (s *Service) DeactivateType(ctx context.Context, actor access.Actor, id uuid.UUID) (*AnalysisType, error) {
	if err := staffOnly(actor); err != nil {
		return nil, err
	}
	t, err := s.types.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return t, nil
	}
	t.Active = false
	if err := s.types.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// -- Analyses --

// CreateAnalysisInput orders a lab test. PatientID is ignored for
// self-service callers, who always order for their own record.
type CreateAnalysisInput struct {
	PatientID      uuid.UUID  `json:"patient_id,omitempty"`
	TypeID         uuid.UUID  `json:"type_id"`
	Comment        *string    `json:"comment,omitempty"`
	CollectionDate *time.Time `json:"collection_date,omitempty"`
}

// CreateAnalysis registers a new analysis. A self-service caller's
// patient record is provisioned on the spot if it does not exist yet.
func (s *Service) CreateAnalysis(ctx context.Context, actor access.Actor, in CreateAnalysisInput) (*Analysis, error) {
	if err := access.Authorize(actor, access.ActionCreate, access.ResourceAnalysis, false); err != nil {
		return nil, err
	}

	if in.TypeID == uuid.Nil {
		return nil, fmt.Errorf("type_id is required")
	}
	t, err := s.types.GetByID(ctx, in.TypeID)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, fmt.Errorf("analysis type %s is no longer offered", t.Name)
	}

	var patientID uuid.UUID
	if actor.Role == access.RolePatient {
		p, err := s.provisioner.EnsureSelfPatient(ctx, actor)
		if err != nil {
			return nil, err
		}
		patientID = p.ID
	} else {
		if in.PatientID == uuid.Nil {
			return nil, fmt.Errorf("patient_id is required")
		}
		if _, err := s.patientSrc.GetByID(ctx, in.PatientID); err != nil {
			return nil, err
		}
		patientID = in.PatientID
	}

	orderedBy := actor.ID
	a := &Analysis{
		PatientID:      patientID,
		TypeID:         in.TypeID,
		Status:         StatusRegistered,
		OrderedBy:      &orderedBy,
		Comment:        in.Comment,
		CollectionDate: in.CollectionDate,
	}
	if err := s.analyses.Create(ctx, a); err != nil {
		return nil, err
	}
	a.TypeName = t.Name
	return a, nil
}

func (s *Service) ownedBy(ctx context.Context, a *Analysis, actor access.Actor) bool {
	p, err := s.patientSrc.GetByID(ctx, a.PatientID)
	if err != nil {
		return false
	}
	return p.OwnedBy(actor.ID)
}

// Get returns one analysis. Self-service callers may only read
// analyses attached to their own record.
func (s *Service) Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*Analysis, error) {
	a, err := s.analyses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, access.ActionRead, access.ResourceAnalysis, s.ownedBy(ctx, a, actor)); err != nil {
		return nil, err
	}
	return a, nil
}

// ListOptions narrows List results.
type ListOptions struct {
	Status    string
	TypeID    uuid.UUID
	PatientID uuid.UUID
}

// List returns analyses visible to the actor.
func (s *Service) List(ctx context.Context, actor access.Actor, opts ListOptions, limit, offset int) ([]*Analysis, int, error) {
	if err := access.Authorize(actor, access.ActionList, access.ResourceAnalysis, false); err != nil {
		return nil, 0, err
	}
	if opts.Status != "" && !ValidStatus(opts.Status) {
		return nil, 0, fmt.Errorf("invalid status: %s", opts.Status)
	}
	filter := ListFilter{
		Scope:     access.ScopeFor(actor),
		Status:    opts.Status,
		TypeID:    opts.TypeID,
		PatientID: opts.PatientID,
	}
	return s.analyses.List(ctx, filter, limit, offset)
}

// SetStatus moves an analysis one lifecycle step. Transitions out of
// completed or cancelled are rejected. Concurrent updates serialize on
// the stored status: the loser gets ErrConflict.
func (s *Service) SetStatus(ctx context.Context, actor access.Actor, id uuid.UUID, to string) (*Analysis, error) {
	if err := access.Authorize(actor, access.ActionSetStatus, access.ResourceAnalysis, false); err != nil {
		return nil, err
	}
	a, err := s.analyses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(a.Status, to); err != nil {
		return nil, err
	}

	upd := StatusUpdate{From: a.Status, To: to}
	if to == StatusCompleted {
		now := time.Now()
		techID := actor.ID
		upd.CompletionDate = &now
		upd.TechnicianID = &techID
	}

	ok, err := s.analyses.UpdateStatus(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	updated, err := s.analyses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if to == StatusCompleted {
		s.dispatchCompletionNotice(ctx, updated)
	}
	return updated, nil
}

// AttachResultInput carries the result text, measured values, the
// reference range, and the technician's note.
type AttachResultInput struct {
	Result      *string                `json:"result,omitempty"`
	Values      map[string]interface{} `json:"values,omitempty"`
	NormalRange *string                `json:"normal_range,omitempty"`
	Note        *string                `json:"note,omitempty"`
}

func (in *AttachResultInput) validate() error {
	hasText := in.Result != nil && strings.TrimSpace(*in.Result) != ""
	if len(in.Values) == 0 && !hasText {
		return fmt.Errorf("a result text or result values are required")
	}
	for k := range in.Values {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("result value keys cannot be empty")
		}
	}
	return nil
}

// AttachResult stores results and completes the analysis in one step,
// assigning the caller as the technician. Attaching to an already
// completed analysis returns it unchanged; a second completion notice
// is never sent.
func (s *Service) AttachResult(ctx context.Context, actor access.Actor, id uuid.UUID, in AttachResultInput) (*Analysis, error) {
	if err := access.Authorize(actor, access.ActionAttachResult, access.ResourceAnalysis, false); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	a, err := s.analyses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusCompleted {
		return a, nil
	}
	if a.Status == StatusCancelled {
		return nil, fmt.Errorf("analysis is cancelled and cannot receive results")
	}

	now := time.Now()
	techID := actor.ID
	ok, err := s.analyses.UpdateStatus(ctx, id, StatusUpdate{
		From:           a.Status,
		To:             StatusCompleted,
		CompletionDate: &now,
		TechnicianID:   &techID,
		Result:         in.Result,
		ResultValues:   in.Values,
		NormalRange:    in.NormalRange,
		ResultNote:     in.Note,
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.analyses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race. If someone else completed it the result is
		// already in place; anything else is a genuine conflict.
		if updated.Status == StatusCompleted {
			return updated, nil
		}
		return nil, ErrConflict
	}

	s.dispatchCompletionNotice(ctx, updated)
	return updated, nil
}

// UpdateComment edits the order comment. Staff may annotate any
// analysis; a self-service caller only their own.
func (s *Service) UpdateComment(ctx context.Context, actor access.Actor, id uuid.UUID, comment *string) (*Analysis, error) {
	a, err := s.analyses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, access.ActionUpdate, access.ResourceAnalysis, s.ownedBy(ctx, a, actor)); err != nil {
		return nil, err
	}
	if err := s.analyses.UpdateComment(ctx, id, comment); err != nil {
		return nil, err
	}
	return s.analyses.GetByID(ctx, id)
}

// Delete removes an analysis. Administrator only.
func (s *Service) Delete(ctx context.Context, actor access.Actor, id uuid.UUID) error {
	if err := access.Authorize(actor, access.ActionDelete, access.ResourceAnalysis, false); err != nil {
		return err
	}
	if _, err := s.analyses.GetByID(ctx, id); err != nil {
		return err
	}
	return s.analyses.Delete(ctx, id)
}

// Stats summarizes analyses visible to the actor, optionally narrowed
// by date range, type, or patient. Self-service callers get their own
// numbers; staff see the whole lab.
func (s *Service) Stats(ctx context.Context, actor access.Actor, filter StatsFilter) (*DashboardStats, error) {
	if err := access.Authorize(actor, access.ActionViewStats, access.ResourceAnalysis, false); err != nil {
		return nil, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("date range end precedes its start")
	}
	return s.analyses.Stats(ctx, access.ScopeFor(actor), filter)
}

// dispatchCompletionNotice is best effort: delivery failure never
// rolls back a completed analysis.
func (s *Service) dispatchCompletionNotice(ctx context.Context, a *Analysis) {
	notice := s.buildCompletionNotice(ctx, a)
	if notice == nil || s.notifier == nil {
		return
	}
	if _, err := s.notifier.SendFromTemplate(ctx, notification.TemplateAnalysisCompleted, map[string]string{
		"patient_name":  notice.PatientName,
		"analysis_type": notice.TypeName,
	}, notice.Recipient); err != nil {
		s.logger.Warn().Err(err).
			Str("analysis_id", a.ID.String()).
			Str("template", notification.TemplateAnalysisCompleted).
			Msg("completion notification failed")
	}
}

// buildCompletionNotice resolves the recipient. Walk-in patients have
// no linked account and get no notice.
func (s *Service) buildCompletionNotice(ctx context.Context, a *Analysis) *CompletionNotice {
	p, err := s.patientSrc.GetByID(ctx, a.PatientID)
	if err != nil || !p.SelfRecord || p.CreatedBy == nil {
		return nil
	}
	acct, err := s.accountSrc.GetByID(ctx, *p.CreatedBy)
	if err != nil {
		return nil
	}
	return &CompletionNotice{
		AnalysisID:  a.ID,
		PatientID:   p.ID,
		PatientName: p.FullName(),
		TypeName:    a.TypeName,
		Recipient:   acct.Email,
	}
}
