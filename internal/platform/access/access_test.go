package access

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestResolveRole_Superuser(t *testing.T) {
	if got := ResolveRole(true, nil); got != RoleAdministrator {
		t.Fatalf("expected administrator, got %s", got)
	}
}

func TestResolveRole_AdministratorGroupWins(t *testing.T) {
	got := ResolveRole(false, []string{"moderators", "administrators"})
	if got != RoleAdministrator {
		t.Fatalf("expected administrator, got %s", got)
	}
}

func TestResolveRole_Moderator(t *testing.T) {
	if got := ResolveRole(false, []string{"moderators"}); got != RoleModerator {
		t.Fatalf("expected moderator, got %s", got)
	}
}

func TestResolveRole_DefaultPatient(t *testing.T) {
	if got := ResolveRole(false, nil); got != RolePatient {
		t.Fatalf("expected patient, got %s", got)
	}
	if got := ResolveRole(false, []string{"unknown"}); got != RolePatient {
		t.Fatalf("expected patient for unknown group, got %s", got)
	}
}

func actorWithRole(r Role) Actor {
	return Actor{ID: uuid.New(), Email: "a@example.com", Role: r}
}

func TestAuthorize_PatientCannotCreatePatient(t *testing.T) {
	err := Authorize(actorWithRole(RolePatient), ActionCreate, ResourcePatient, false)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAuthorize_PatientReadsOwnRecord(t *testing.T) {
	a := actorWithRole(RolePatient)
	if err := Authorize(a, ActionRead, ResourcePatient, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Authorize(a, ActionRead, ResourcePatient, false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign record, got %v", err)
	}
}

func TestAuthorize_DeleteIsAdministratorOnly(t *testing.T) {
	for _, r := range []Role{RoleGuest, RolePatient, RoleModerator} {
		err := Authorize(actorWithRole(r), ActionDelete, ResourcePatient, true)
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("role %s: expected ErrForbidden, got %v", r, err)
		}
	}
	if err := Authorize(actorWithRole(RoleAdministrator), ActionDelete, ResourcePatient, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthorize_PatientUpdatesOwnAnalysis(t *testing.T) {
	a := actorWithRole(RolePatient)
	if err := Authorize(a, ActionUpdate, ResourceAnalysis, true); err != nil {
		t.Fatalf("owner update on own analysis: %v", err)
	}
	if err := Authorize(a, ActionUpdate, ResourceAnalysis, false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign analysis, got %v", err)
	}
	if err := Authorize(actorWithRole(RoleModerator), ActionUpdate, ResourceAnalysis, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthorize_AttachResult(t *testing.T) {
	if err := Authorize(actorWithRole(RoleModerator), ActionAttachResult, ResourceAnalysis, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Authorize(actorWithRole(RoleAdministrator), ActionAttachResult, ResourceAnalysis, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := Authorize(actorWithRole(RolePatient), ActionAttachResult, ResourceAnalysis, true)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAuthorize_SetStatus(t *testing.T) {
	err := Authorize(actorWithRole(RolePatient), ActionSetStatus, ResourceAnalysis, true)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := Authorize(actorWithRole(RoleModerator), ActionSetStatus, ResourceAnalysis, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthorize_GuestDeniedEverywhere(t *testing.T) {
	g := Guest
	for key := range policy {
		if err := Authorize(g, key.Action, key.Resource, false); !errors.Is(err, ErrForbidden) {
			t.Fatalf("%s %s: expected ErrForbidden, got %v", key.Action, key.Resource, err)
		}
	}
}

func TestAuthorize_UnknownActionDenied(t *testing.T) {
	err := Authorize(actorWithRole(RoleAdministrator), Action("export"), ResourcePatient, false)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestScopeFor(t *testing.T) {
	mod := actorWithRole(RoleModerator)
	if s := ScopeFor(mod); !s.All {
		t.Fatal("moderator scope should cover all records")
	}
	admin := actorWithRole(RoleAdministrator)
	if s := ScopeFor(admin); !s.All {
		t.Fatal("administrator scope should cover all records")
	}
	p := actorWithRole(RolePatient)
	s := ScopeFor(p)
	if s.All {
		t.Fatal("patient scope should not cover all records")
	}
	if s.AccountID != p.ID {
		t.Fatalf("expected scope account %s, got %s", p.ID, s.AccountID)
	}
	gs := ScopeFor(Guest)
	if gs.All || gs.AccountID != uuid.Nil {
		t.Fatalf("guest scope should match nothing, got %+v", gs)
	}
}
