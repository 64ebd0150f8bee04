package reports

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/medlab/medlab/internal/domain/lab"
	"github.com/medlab/medlab/internal/domain/patients"
	"github.com/medlab/medlab/internal/platform/access"
)

// AnalysisStats supplies the lab breakdown. Satisfied by the lab
// analysis repository.
type AnalysisStats interface {
	Stats(ctx context.Context, scope access.Scope, filter lab.StatsFilter) (*lab.DashboardStats, error)
}

// PatientStats supplies registry counts. Satisfied by the patients
// repository.
type PatientStats interface {
	Stats(ctx context.Context, scope access.Scope) (*patients.Stats, error)
}

type Service struct {
	repo     Repository
	analyses AnalysisStats
	patients PatientStats
}

func NewService(repo Repository, analyses AnalysisStats, patients PatientStats) *Service {
	return &Service{repo: repo, analyses: analyses, patients: patients}
}

func (f Filter) validate() error {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return fmt.Errorf("date range end precedes its start")
	}
	return nil
}

func (f Filter) labFilter() lab.StatsFilter {
	return lab.StatsFilter{
		From:      f.From,
		To:        f.To,
		TypeID:    f.TypeID,
		PatientID: f.PatientID,
	}
}

// Aggregate builds a summary of everything visible to the actor,
// narrowed by the filter. Self-service callers get their own numbers;
// staff see the whole lab. An empty lab yields a zero completion
// rate, never a division error.
func (s *Service) Aggregate(ctx context.Context, actor access.Actor, filter Filter) (*Summary, error) {
	if err := access.Authorize(actor, access.ActionViewStats, access.ResourceAnalysis, false); err != nil {
		return nil, err
	}
	if err := filter.validate(); err != nil {
		return nil, err
	}
	scope := access.ScopeFor(actor)

	as, err := s.analyses.Stats(ctx, scope, filter.labFilter())
	if err != nil {
		return nil, err
	}
	ps, err := s.patients.Stats(ctx, scope)
	if err != nil {
		return nil, err
	}

	return &Summary{
		TotalPatients:   ps.Total,
		SelfService:     ps.SelfService,
		TotalAnalyses:   as.Total,
		ByStatus:        as.ByStatus,
		ByType:          as.ByType,
		CompletionRate:  as.CompletionRate,
		Revenue:         as.Revenue,
		PatientByGender: ps.ByGender,
	}, nil
}

func staffOnly(actor access.Actor) error {
	if actor.Role != access.RoleModerator && actor.Role != access.RoleAdministrator {
		return access.ErrForbidden
	}
	return nil
}

// SaveInput describes a snapshot to generate and persist.
type SaveInput struct {
	Title  string
	Type   string
	Filter Filter
}

func (in SaveInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if !ValidType(in.Type) {
		return fmt.Errorf("unknown report type %q", in.Type)
	}
	return in.Filter.validate()
}

// Save aggregates and persists a snapshot. Staff only.
func (s *Service) Save(ctx context.Context, actor access.Actor, in SaveInput) (*Report, error) {
	if err := staffOnly(actor); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	summary, err := s.Aggregate(ctx, actor, in.Filter)
	if err != nil {
		return nil, err
	}
	r := &Report{
		Title:       strings.TrimSpace(in.Title),
		Type:        in.Type,
		GeneratedBy: actor.ID,
		DateFrom:    in.Filter.From,
		DateTo:      in.Filter.To,
		Summary:     *summary,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns a persisted report. Staff only.
func (s *Service) Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*Report, error) {
	if err := staffOnly(actor); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// List returns persisted reports, newest first. Staff only.
func (s *Service) List(ctx context.Context, actor access.Actor, limit, offset int) ([]*Report, int, error) {
	if err := staffOnly(actor); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, limit, offset)
}

// Delete removes a persisted report. Administrator only.
func (s *Service) Delete(ctx context.Context, actor access.Actor, id uuid.UUID) error {
	if actor.Role != access.RoleAdministrator {
		return access.ErrForbidden
	}
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}
