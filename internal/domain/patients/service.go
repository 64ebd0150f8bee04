package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medlab/medlab/internal/domain/accounts"
	"github.com/medlab/medlab/internal/platform/access"
)

// Sentinel demographics used when a self-service account has not
// filled in its profile yet.
const (
	DefaultLastName  = "User"
	DefaultFirstName = "Unknown"
	DefaultGender    = "O"
)

// DefaultBirthDate is the placeholder birth date for provisioned
// self-service records.
var DefaultBirthDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// AccountSource provides profile data for self-record provisioning.
// Satisfied by the accounts repository.
type AccountSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*accounts.Account, error)
}

type Service struct {
	repo     Repository
	accounts AccountSource
}

func NewService(repo Repository, accountSource AccountSource) *Service {
	return &Service{repo: repo, accounts: accountSource}
}

var validGenders = map[string]bool{"M": true, "F": true, "O": true}

// maxAgeYears bounds plausible birth dates.
const maxAgeYears = 150

func validateDemographics(lastName, firstName, gender string, birth time.Time) error {
	if strings.TrimSpace(lastName) == "" {
		return fmt.Errorf("last_name is required")
	}
	if strings.TrimSpace(firstName) == "" {
		return fmt.Errorf("first_name is required")
	}
	if !validGenders[gender] {
		return fmt.Errorf("invalid gender: %s", gender)
	}
	if birth.IsZero() {
		return fmt.Errorf("birth_date is required")
	}
	now := time.Now()
	if birth.After(now) {
		return fmt.Errorf("birth date cannot be in the future")
	}
	if now.Sub(birth).Hours()/24/365.25 > maxAgeYears {
		return fmt.Errorf("birth date implies an age over %d years", maxAgeYears)
	}
	return nil
}

func validatePhone(phone *string) error {
	if phone == nil || *phone == "" {
		return nil
	}
	digits := 0
	for _, r := range *phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 10 {
		return fmt.Errorf("phone number must contain at least 10 digits")
	}
	return nil
}

// EnsureSelfPatient returns the actor's own patient record, creating
// it on first use. Demographics come from the account profile with
// placeholder values for anything missing, so the record always
// satisfies the registry's required fields. Safe to call concurrently;
// all callers converge on a single record.
func (s *Service) EnsureSelfPatient(ctx context.Context, actor access.Actor) (*Patient, error) {
	if actor.Role == access.RoleGuest {
		return nil, access.ErrForbidden
	}

	p, err := s.repo.GetSelfByCreator(ctx, actor.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	p = s.selfPatientFromProfile(ctx, actor)
	created, err := s.repo.CreateSelf(ctx, p)
	if err != nil {
		return nil, err
	}
	if created {
		return p, nil
	}
	// Lost the race to a concurrent request; the row exists now.
	return s.repo.GetSelfByCreator(ctx, actor.ID)
}

func (s *Service) selfPatientFromProfile(ctx context.Context, actor access.Actor) *Patient {
	accountID := actor.ID
	p := &Patient{
		LastName:   DefaultLastName,
		FirstName:  DefaultFirstName,
		BirthDate:  DefaultBirthDate,
		Gender:     DefaultGender,
		CreatedBy:  &accountID,
		SelfRecord: true,
	}

	a, err := s.accounts.GetByID(ctx, actor.ID)
	if err != nil {
		return p
	}
	if a.LastName != "" {
		p.LastName = a.LastName
	}
	if a.FirstName != "" {
		p.FirstName = a.FirstName
	}
	p.MiddleName = a.MiddleName
	if a.BirthDate != nil {
		p.BirthDate = *a.BirthDate
	}
	if a.Gender != nil && validGenders[*a.Gender] {
		p.Gender = *a.Gender
	}
	p.Phone = a.Phone
	p.Address = a.Address
	p.MedicalHistory = a.MedicalHistory
	return p
}

// CreateInput carries the patient registration form.
type CreateInput struct {
	LastName       string    `json:"last_name"`
	FirstName      string    `json:"first_name"`
	MiddleName     *string   `json:"middle_name,omitempty"`
	BirthDate      time.Time `json:"birth_date"`
	Gender         string    `json:"gender"`
	Phone          *string   `json:"phone,omitempty"`
	Address        *string   `json:"address,omitempty"`
	MedicalHistory *string   `json:"medical_history,omitempty"`
}

// Create registers a walk-in patient. Moderators and administrators
// only; self-service accounts get their record through provisioning.
func (s *Service) Create(ctx context.Context, actor access.Actor, in CreateInput) (*Patient, error) {
	if err := access.Authorize(actor, access.ActionCreate, access.ResourcePatient, false); err != nil {
		return nil, err
	}
	if err := validateDemographics(in.LastName, in.FirstName, in.Gender, in.BirthDate); err != nil {
		return nil, err
	}
	if err := validatePhone(in.Phone); err != nil {
		return nil, err
	}

	creator := actor.ID
	p := &Patient{
		LastName:       strings.TrimSpace(in.LastName),
		FirstName:      strings.TrimSpace(in.FirstName),
		MiddleName:     in.MiddleName,
		BirthDate:      in.BirthDate,
		Gender:         in.Gender,
		Phone:          in.Phone,
		Address:        in.Address,
		MedicalHistory: in.MedicalHistory,
		CreatedBy:      &creator,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns one patient. Self-service accounts may only read their
// own record.
func (s *Service) Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, access.ActionRead, access.ResourcePatient, p.OwnedBy(actor.ID)); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns patients visible to the actor. Self-service accounts
// see at most their own record.
func (s *Service) List(ctx context.Context, actor access.Actor, search, gender string, limit, offset int) ([]*Patient, int, error) {
	if err := access.Authorize(actor, access.ActionList, access.ResourcePatient, false); err != nil {
		return nil, 0, err
	}
	filter := ListFilter{Scope: access.ScopeFor(actor), Search: search, Gender: gender}
	return s.repo.List(ctx, filter, limit, offset)
}

// UpdateInput carries the editable demographic fields.
type UpdateInput struct {
	LastName       *string    `json:"last_name,omitempty"`
	FirstName      *string    `json:"first_name,omitempty"`
	MiddleName     *string    `json:"middle_name,omitempty"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	Gender         *string    `json:"gender,omitempty"`
	Phone          *string    `json:"phone,omitempty"`
	Address        *string    `json:"address,omitempty"`
	MedicalHistory *string    `json:"medical_history,omitempty"`
}

// Update edits demographics. Staff may edit any record; self-service
// accounts only their own.
func (s *Service) Update(ctx context.Context, actor access.Actor, id uuid.UUID, in UpdateInput) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, access.ActionUpdate, access.ResourcePatient, p.OwnedBy(actor.ID)); err != nil {
		return nil, err
	}

	if in.LastName != nil {
		p.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.FirstName != nil {
		p.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.MiddleName != nil {
		p.MiddleName = in.MiddleName
	}
	if in.BirthDate != nil {
		p.BirthDate = *in.BirthDate
	}
	if in.Gender != nil {
		p.Gender = *in.Gender
	}
	if in.Phone != nil {
		p.Phone = in.Phone
	}
	if in.Address != nil {
		p.Address = in.Address
	}
	if in.MedicalHistory != nil {
		p.MedicalHistory = in.MedicalHistory
	}
	if err := validateDemographics(p.LastName, p.FirstName, p.Gender, p.BirthDate); err != nil {
		return nil, err
	}
	if err := validatePhone(p.Phone); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a patient record. Administrator only.
func (s *Service) Delete(ctx context.Context, actor access.Actor, id uuid.UUID) error {
	if err := access.Authorize(actor, access.ActionDelete, access.ResourcePatient, false); err != nil {
		return err
	}
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// Stats summarizes the registry for staff dashboards.
func (s *Service) Stats(ctx context.Context, actor access.Actor) (*Stats, error) {
	if err := access.Authorize(actor, access.ActionViewStats, access.ResourcePatient, false); err != nil {
		return nil, err
	}
	return s.repo.Stats(ctx, access.ScopeFor(actor))
}
