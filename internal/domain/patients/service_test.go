package patients

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medlab/medlab/internal/domain/accounts"
	"github.com/medlab/medlab/internal/platform/access"
)

// -- Mock Repository --

type mockPatientRepo struct {
	patients map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) CreateSelf(_ context.Context, p *Patient) (bool, error) {
	for _, existing := range m.patients {
		if existing.SelfRecord && existing.CreatedBy != nil && p.CreatedBy != nil &&
			*existing.CreatedBy == *p.CreatedBy {
			return false, nil
		}
	}
	p.ID = uuid.New()
	p.SelfRecord = true
	m.patients[p.ID] = p
	return true, nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) GetSelfByCreator(_ context.Context, accountID uuid.UUID) (*Patient, error) {
	for _, p := range m.patients {
		if p.SelfRecord && p.CreatedBy != nil && *p.CreatedBy == accountID {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.patients, id)
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error) {
	var items []*Patient
	for _, p := range m.patients {
		if !filter.Scope.All && !p.OwnedBy(filter.Scope.AccountID) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.LastName), strings.ToLower(filter.Search)) {
			continue
		}
		if filter.Gender != "" && p.Gender != filter.Gender {
			continue
		}
		items = append(items, p)
	}
	return items, len(items), nil
}

func (m *mockPatientRepo) Stats(_ context.Context, scope access.Scope) (*Stats, error) {
	s := &Stats{ByGender: make(map[string]int)}
	for _, p := range m.patients {
		if !scope.All && !p.OwnedBy(scope.AccountID) {
			continue
		}
		s.Total++
		if p.SelfRecord {
			s.SelfService++
		}
		s.ByGender[p.Gender]++
	}
	return s, nil
}

type mockAccountSource struct {
	accounts map[uuid.UUID]*accounts.Account
}

func (m *mockAccountSource) GetByID(_ context.Context, id uuid.UUID) (*accounts.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return a, nil
}

func newTestService() (*Service, *mockPatientRepo, *mockAccountSource) {
	repo := newMockPatientRepo()
	src := &mockAccountSource{accounts: make(map[uuid.UUID]*accounts.Account)}
	return NewService(repo, src), repo, src
}

func patientActor() access.Actor {
	return access.Actor{ID: uuid.New(), Email: "p@example.com", Role: access.RolePatient}
}

func moderatorActor() access.Actor {
	return access.Actor{ID: uuid.New(), Email: "m@example.com", Role: access.RoleModerator}
}

func adminActor() access.Actor {
	return access.Actor{ID: uuid.New(), Email: "a@example.com", Role: access.RoleAdministrator}
}

// -- EnsureSelfPatient --

func TestEnsureSelfPatient_ProvisionsWithDefaults(t *testing.T) {
	svc, _, _ := newTestService()
	actor := patientActor()

	p, err := svc.EnsureSelfPatient(context.Background(), actor)
	if err != nil {
		t.Fatalf("EnsureSelfPatient() error = %v", err)
	}
	if !p.SelfRecord {
		t.Error("expected self_record to be set")
	}
	if p.CreatedBy == nil || *p.CreatedBy != actor.ID {
		t.Error("expected created_by to be the actor")
	}
	if p.LastName != DefaultLastName || p.FirstName != DefaultFirstName {
		t.Errorf("name = %s %s, want placeholder defaults", p.LastName, p.FirstName)
	}
	if !p.BirthDate.Equal(DefaultBirthDate) {
		t.Errorf("birth date = %v, want %v", p.BirthDate, DefaultBirthDate)
	}
	if p.Gender != DefaultGender {
		t.Errorf("gender = %s, want %s", p.Gender, DefaultGender)
	}
}

func TestEnsureSelfPatient_UsesAccountProfile(t *testing.T) {
	svc, _, src := newTestService()
	actor := patientActor()

	birth := time.Date(1987, time.June, 12, 0, 0, 0, 0, time.UTC)
	gender := "F"
	src.accounts[actor.ID] = &accounts.Account{
		ID: actor.ID, LastName: "Petrova", FirstName: "Anna",
		BirthDate: &birth, Gender: &gender,
	}

	p, err := svc.EnsureSelfPatient(context.Background(), actor)
	if err != nil {
		t.Fatalf("EnsureSelfPatient() error = %v", err)
	}
	if p.LastName != "Petrova" || p.FirstName != "Anna" {
		t.Errorf("name = %s %s, want profile values", p.LastName, p.FirstName)
	}
	if !p.BirthDate.Equal(birth) || p.Gender != "F" {
		t.Errorf("demographics not taken from profile: %v %s", p.BirthDate, p.Gender)
	}
}

func TestEnsureSelfPatient_Idempotent(t *testing.T) {
	svc, repo, _ := newTestService()
	actor := patientActor()

	first, err := svc.EnsureSelfPatient(context.Background(), actor)
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	second, err := svc.EnsureSelfPatient(context.Background(), actor)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected one record, got %s and %s", first.ID, second.ID)
	}
	if len(repo.patients) != 1 {
		t.Errorf("repo holds %d records, want 1", len(repo.patients))
	}
}

func TestEnsureSelfPatient_GuestDenied(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.EnsureSelfPatient(context.Background(), access.Guest); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("guest error = %v, want ErrForbidden", err)
	}
}

// -- Create --

func TestCreate_RoleCells(t *testing.T) {
	svc, _, _ := newTestService()

	in := CreateInput{
		LastName: "Sidorov", FirstName: "Pavel", Gender: "M",
		BirthDate: time.Date(1990, time.March, 3, 0, 0, 0, 0, time.UTC),
	}

	if _, err := svc.Create(context.Background(), patientActor(), in); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("patient Create() error = %v, want ErrForbidden", err)
	}

	mod := moderatorActor()
	p, err := svc.Create(context.Background(), mod, in)
	if err != nil {
		t.Fatalf("moderator Create() error = %v", err)
	}
	if p.SelfRecord {
		t.Error("staff-created record must not be a self record")
	}
	if p.CreatedBy == nil || *p.CreatedBy != mod.ID {
		t.Error("expected created_by to be the moderator")
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	mod := moderatorActor()

	valid := CreateInput{
		LastName: "Sidorov", FirstName: "Pavel", Gender: "M",
		BirthDate: time.Date(1990, time.March, 3, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing last name", func(in *CreateInput) { in.LastName = "" }},
		{"missing first name", func(in *CreateInput) { in.FirstName = " " }},
		{"invalid gender", func(in *CreateInput) { in.Gender = "unknown" }},
		{"missing birth date", func(in *CreateInput) { in.BirthDate = time.Time{} }},
		{"future birth date", func(in *CreateInput) { in.BirthDate = time.Now().Add(48 * time.Hour) }},
		{"implausibly old birth date", func(in *CreateInput) { in.BirthDate = time.Now().AddDate(-500, 0, 0) }},
		{"short phone", func(in *CreateInput) { short := "123"; in.Phone = &short }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			if _, err := svc.Create(context.Background(), mod, in); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// -- Get / List scoping --

func TestGet_OwnerScoping(t *testing.T) {
	svc, _, _ := newTestService()

	owner := patientActor()
	other := patientActor()

	mine, err := svc.EnsureSelfPatient(context.Background(), owner)
	if err != nil {
		t.Fatalf("EnsureSelfPatient() error = %v", err)
	}

	if _, err := svc.Get(context.Background(), owner, mine.ID); err != nil {
		t.Errorf("owner Get() error = %v", err)
	}
	if _, err := svc.Get(context.Background(), other, mine.ID); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("other patient Get() error = %v, want ErrForbidden", err)
	}
	if _, err := svc.Get(context.Background(), moderatorActor(), mine.ID); err != nil {
		t.Errorf("moderator Get() error = %v", err)
	}
}

func TestList_ScopedToOwnRecord(t *testing.T) {
	svc, _, _ := newTestService()

	owner := patientActor()
	if _, err := svc.EnsureSelfPatient(context.Background(), owner); err != nil {
		t.Fatalf("EnsureSelfPatient() error = %v", err)
	}
	if _, err := svc.EnsureSelfPatient(context.Background(), patientActor()); err != nil {
		t.Fatalf("EnsureSelfPatient() error = %v", err)
	}

	items, total, err := svc.List(context.Background(), owner, "", "", 20, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("patient sees %d records, want 1", total)
	}
	if !items[0].OwnedBy(owner.ID) {
		t.Error("patient list contains a foreign record")
	}

	_, total, err = svc.List(context.Background(), moderatorActor(), "", "", 20, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 2 {
		t.Errorf("moderator sees %d records, want 2", total)
	}
}

// -- Update / Delete --

func TestUpdate_OwnerAndStaff(t *testing.T) {
	svc, _, _ := newTestService()

	owner := patientActor()
	p, _ := svc.EnsureSelfPatient(context.Background(), owner)

	newLast := "Renamed"
	if _, err := svc.Update(context.Background(), owner, p.ID, UpdateInput{LastName: &newLast}); err != nil {
		t.Errorf("owner Update() error = %v", err)
	}
	if _, err := svc.Update(context.Background(), patientActor(), p.ID, UpdateInput{LastName: &newLast}); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("foreign patient Update() error = %v, want ErrForbidden", err)
	}

	badGender := "Z"
	if _, err := svc.Update(context.Background(), owner, p.ID, UpdateInput{Gender: &badGender}); err == nil {
		t.Error("expected validation error for bad gender")
	}

	shortPhone := "555"
	if _, err := svc.Update(context.Background(), owner, p.ID, UpdateInput{Phone: &shortPhone}); err == nil {
		t.Error("expected validation error for short phone")
	}
}

func TestDelete_AdministratorOnly(t *testing.T) {
	svc, repo, _ := newTestService()

	owner := patientActor()
	p, _ := svc.EnsureSelfPatient(context.Background(), owner)

	if err := svc.Delete(context.Background(), owner, p.ID); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("owner Delete() error = %v, want ErrForbidden", err)
	}
	if err := svc.Delete(context.Background(), moderatorActor(), p.ID); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("moderator Delete() error = %v, want ErrForbidden", err)
	}
	if err := svc.Delete(context.Background(), adminActor(), p.ID); err != nil {
		t.Fatalf("administrator Delete() error = %v", err)
	}
	if len(repo.patients) != 0 {
		t.Error("record still present after delete")
	}

	if err := svc.Delete(context.Background(), adminActor(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing record Delete() error = %v, want ErrNotFound", err)
	}
}

// -- Stats --

func TestStats_StaffOnly(t *testing.T) {
	svc, _, _ := newTestService()

	female := patientActor()
	if _, err := svc.EnsureSelfPatient(context.Background(), female); err != nil {
		t.Fatal(err)
	}
	mod := moderatorActor()
	if _, err := svc.Create(context.Background(), mod, CreateInput{
		LastName: "Sidorov", FirstName: "Pavel", Gender: "M",
		BirthDate: time.Date(1990, time.March, 3, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.Stats(context.Background(), mod)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 2 || stats.SelfService != 1 {
		t.Errorf("stats = %+v, want total 2 self 1", stats)
	}
	if stats.ByGender["M"] != 1 {
		t.Errorf("ByGender[M] = %d, want 1", stats.ByGender["M"])
	}

	if _, err := svc.Stats(context.Background(), patientActor()); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("patient Stats() error = %v, want ErrForbidden", err)
	}
}

func TestPatientAge(t *testing.T) {
	p := &Patient{BirthDate: time.Now().AddDate(-30, 0, -1)}
	if got := p.Age(); got != 30 {
		t.Errorf("Age() = %d, want 30", got)
	}
	p = &Patient{BirthDate: time.Now().AddDate(-30, 0, 1)}
	if got := p.Age(); got != 29 {
		t.Errorf("Age() before birthday = %d, want 29", got)
	}
}
