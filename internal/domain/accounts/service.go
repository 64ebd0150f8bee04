package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/medlab/medlab/internal/platform/access"
	"github.com/medlab/medlab/internal/platform/notification"
)

// ErrInvalidCredentials is returned for a failed login attempt.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Notifier sends templated notifications. Satisfied by
// *notification.Manager; tests provide fakes.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

type Service struct {
	repo     Repository
	notifier Notifier
	logger   zerolog.Logger
}

func NewService(repo Repository, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, logger: logger}
}

var validGenders = map[string]bool{"M": true, "F": true, "O": true}

// maxAgeYears bounds plausible birth dates.
const maxAgeYears = 150

func validateBirthDate(birth *time.Time) error {
	if birth == nil {
		return nil
	}
	now := time.Now()
	if birth.After(now) {
		return fmt.Errorf("birth date cannot be in the future")
	}
	ageYears := now.Sub(*birth).Hours() / 24 / 365.25
	if ageYears > maxAgeYears {
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

func validatePassword(password, confirm string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}
	return nil
}

func validateGender(gender *string) error {
	if gender == nil || *gender == "" {
		return nil
	}
	if !validGenders[*gender] {
		return fmt.Errorf("invalid gender: %s", *gender)
	}
	return nil
}

// RegisterInput carries the self-registration form fields.
type RegisterInput struct {
	Email           string     `json:"email"`
	Password        string     `json:"password"`
	ConfirmPassword string     `json:"confirm_password"`
	LastName        string     `json:"last_name"`
	FirstName       string     `json:"first_name"`
	MiddleName      *string    `json:"middle_name,omitempty"`
	BirthDate       *time.Time `json:"birth_date,omitempty"`
	Gender          *string    `json:"gender,omitempty"`
	Phone           *string    `json:"phone,omitempty"`
	Address         *string    `json:"address,omitempty"`
	MedicalHistory  *string    `json:"medical_history,omitempty"`
}

func (in *RegisterInput) validate() error {
	if strings.TrimSpace(in.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if !strings.Contains(in.Email, "@") {
		return fmt.Errorf("invalid email address")
	}
	if strings.TrimSpace(in.LastName) == "" {
		return fmt.Errorf("last_name is required")
	}
	if strings.TrimSpace(in.FirstName) == "" {
		return fmt.Errorf("first_name is required")
	}
	if err := validatePassword(in.Password, in.ConfirmPassword); err != nil {
		return err
	}
	if err := validateBirthDate(in.BirthDate); err != nil {
		return err
	}
	if err := validateGender(in.Gender); err != nil {
		return err
	}
	return validatePhone(in.Phone)
}

// Register creates a self-service account. New registrations carry no
// group memberships, so they resolve to the patient role.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if existing, err := s.repo.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, fmt.Errorf("email %s is already registered", email)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	a := &Account{
		Email:          email,
		PasswordHash:   string(hash),
		LastName:       strings.TrimSpace(in.LastName),
		FirstName:      strings.TrimSpace(in.FirstName),
		MiddleName:     in.MiddleName,
		BirthDate:      in.BirthDate,
		Gender:         in.Gender,
		Phone:          in.Phone,
		Address:        in.Address,
		MedicalHistory: in.MedicalHistory,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if _, err := s.notifier.SendFromTemplate(ctx, notification.TemplateAccountCreated, map[string]string{
			"patient_name": a.FullName(),
		}, a.Email); err != nil {
			s.logger.Warn().Err(err).
				Str("account_id", a.ID.String()).
				Str("template", notification.TemplateAccountCreated).
				Msg("welcome notification failed")
		}
	}

	return a, nil
}

// Authenticate verifies credentials and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	a, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return a, nil
}

// Get returns an account. Accounts are visible to their owner and to
// administrators; moderators may read non-administrator accounts.
func (s *Service) Get(ctx context.Context, actor access.Actor, id uuid.UUID) (*Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID == id {
		return a, nil
	}
	switch actor.Role {
	case access.RoleAdministrator:
		return a, nil
	case access.RoleModerator:
		if a.Role() == access.RoleAdministrator {
			return nil, access.ErrForbidden
		}
		return a, nil
	default:
		return nil, access.ErrForbidden
	}
}

// List returns accounts. Moderators never see administrator accounts.
func (s *Service) List(ctx context.Context, actor access.Actor, filter ListFilter, limit, offset int) ([]*Account, int, error) {
	switch actor.Role {
	case access.RoleAdministrator:
	case access.RoleModerator:
		filter.ExcludeAdministrators = true
	default:
		return nil, 0, access.ErrForbidden
	}
	return s.repo.List(ctx, filter, limit, offset)
}

// UpdateInput carries the editable profile fields.
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

// Update edits an account profile. Owners and administrators only.
func (s *Service) Update(ctx context.Context, actor access.Actor, id uuid.UUID, in UpdateInput) (*Account, error) {
	if actor.ID != id && actor.Role != access.RoleAdministrator {
		return nil, access.ErrForbidden
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.LastName != nil {
		if strings.TrimSpace(*in.LastName) == "" {
			return nil, fmt.Errorf("last_name cannot be empty")
		}
		a.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.FirstName != nil {
		if strings.TrimSpace(*in.FirstName) == "" {
			return nil, fmt.Errorf("first_name cannot be empty")
		}
		a.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.MiddleName != nil {
		a.MiddleName = in.MiddleName
	}
	if in.BirthDate != nil {
		if err := validateBirthDate(in.BirthDate); err != nil {
			return nil, err
		}
		a.BirthDate = in.BirthDate
	}
	if in.Gender != nil {
		if err := validateGender(in.Gender); err != nil {
			return nil, err
		}
		a.Gender = in.Gender
	}
	if in.Phone != nil {
		if err := validatePhone(in.Phone); err != nil {
			return nil, err
		}
		a.Phone = in.Phone
	}
	if in.Address != nil {
		a.Address = in.Address
	}
	if in.MedicalHistory != nil {
		a.MedicalHistory = in.MedicalHistory
	}

	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ChangePassword verifies the current password and sets a new one.
func (s *Service) ChangePassword(ctx context.Context, actor access.Actor, id uuid.UUID, current, password, confirm string) error {
	if actor.ID != id && actor.Role != access.RoleAdministrator {
		return access.ErrForbidden
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	// Owners must prove knowledge of the current password;
	// administrators resetting someone else's password do not.
	if actor.ID == id {
		if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(current)) != nil {
			return ErrInvalidCredentials
		}
	}

	if err := validatePassword(password, confirm); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	a.PasswordHash = string(hash)
	return s.repo.Update(ctx, a)
}

// SetGroups replaces group memberships. Administrator only.
func (s *Service) SetGroups(ctx context.Context, actor access.Actor, id uuid.UUID, groups []string) (*Account, error) {
	if actor.Role != access.RoleAdministrator {
		return nil, access.ErrForbidden
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g != access.GroupModerators && g != access.GroupAdministrators {
			return nil, fmt.Errorf("unknown group: %s", g)
		}
	}
	a.Groups = groups
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Delete removes an account. Administrator only.
func (s *Service) Delete(ctx context.Context, actor access.Actor, id uuid.UUID) error {
	if actor.Role != access.RoleAdministrator {
		return access.ErrForbidden
	}
	return s.repo.Delete(ctx, id)
}
