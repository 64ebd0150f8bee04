// Package access resolves account roles and enforces the authorization
// policy for patient and analysis resources. Roles are derived from
// account flags at request time and are never stored.
package access

import (
	"errors"

	"github.com/google/uuid"
)

// Role is the effective role of a caller for a single request.
type Role string

const (
	RoleGuest         Role = "guest"
	RolePatient       Role = "patient"
	RoleModerator     Role = "moderator"
	RoleAdministrator Role = "administrator"
)

// Group names recognized by ResolveRole.
const (
	GroupModerators     = "moderators"
	GroupAdministrators = "administrators"
)

// ResolveRole maps account flags to a role. Administrator wins over
// Moderator when an account qualifies for both; every other
// authenticated account is a self-service Patient.
func ResolveRole(superuser bool, groups []string) Role {
	if superuser {
		return RoleAdministrator
	}
	for _, g := range groups {
		if g == GroupAdministrators {
			return RoleAdministrator
		}
	}
	for _, g := range groups {
		if g == GroupModerators {
			return RoleModerator
		}
	}
	return RolePatient
}

// Actor identifies the caller for the duration of one request.
type Actor struct {
	ID    uuid.UUID
	Email string
	Role  Role
}

// Guest is the actor used for unauthenticated requests.
var Guest = Actor{Role: RoleGuest}

// Action enumerates the operations the policy knows about.
type Action string

const (
	ActionList         Action = "list"
	ActionRead         Action = "read"
	ActionCreate       Action = "create"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionSetStatus    Action = "set_status"
	ActionAttachResult Action = "attach_result"
	ActionViewStats    Action = "view_stats"
)

// Resource enumerates the protected resource kinds.
type Resource string

const (
	ResourcePatient  Resource = "patient"
	ResourceAnalysis Resource = "analysis"
)

// ErrForbidden is returned for any authorization denial.
var ErrForbidden = errors.New("forbidden")

type policyKey struct {
	Action   Action
	Resource Resource
}

// grant admits an action when the actor's role is listed, or when the
// actor owns the record and Owner is set. Entries compose with OR.
type grant struct {
	Roles map[Role]bool
	Owner bool
}

var policy = map[policyKey]grant{
	{ActionList, ResourcePatient}:   {Roles: roles(RolePatient, RoleModerator, RoleAdministrator)},
	{ActionRead, ResourcePatient}:   {Roles: roles(RoleModerator, RoleAdministrator), Owner: true},
	{ActionCreate, ResourcePatient}: {Roles: roles(RoleModerator, RoleAdministrator)},
	{ActionUpdate, ResourcePatient}: {Roles: roles(RoleModerator, RoleAdministrator), Owner: true},
	{ActionDelete, ResourcePatient}: {Roles: roles(RoleAdministrator)},

	{ActionList, ResourceAnalysis}:         {Roles: roles(RolePatient, RoleModerator, RoleAdministrator)},
	{ActionRead, ResourceAnalysis}:         {Roles: roles(RoleModerator, RoleAdministrator), Owner: true},
	{ActionCreate, ResourceAnalysis}:       {Roles: roles(RolePatient, RoleModerator, RoleAdministrator)},
	{ActionUpdate, ResourceAnalysis}:       {Roles: roles(RoleModerator, RoleAdministrator), Owner: true},
	{ActionDelete, ResourceAnalysis}:       {Roles: roles(RoleAdministrator)},
	{ActionSetStatus, ResourceAnalysis}:    {Roles: roles(RoleModerator, RoleAdministrator)},
	{ActionAttachResult, ResourceAnalysis}: {Roles: roles(RoleModerator, RoleAdministrator)},

	{ActionViewStats, ResourcePatient}:  {Roles: roles(RoleModerator, RoleAdministrator)},
	{ActionViewStats, ResourceAnalysis}: {Roles: roles(RolePatient, RoleModerator, RoleAdministrator)},
}

func roles(rs ...Role) map[Role]bool {
	m := make(map[Role]bool, len(rs))
	for _, r := range rs {
		m[r] = true
	}
	return m
}

// Authorize checks a single (action, resource) cell of the policy table.
// owned reports whether the target record belongs to the actor; pass
// false for collection-level actions.
func Authorize(actor Actor, action Action, resource Resource, owned bool) error {
	g, ok := policy[policyKey{action, resource}]
	if !ok {
		return ErrForbidden
	}
	if g.Roles[actor.Role] {
		return nil
	}
	if g.Owner && owned && actor.Role == RolePatient {
		return nil
	}
	return ErrForbidden
}

// Scope restricts list and aggregate queries. When All is false,
// repositories must filter to records owned by AccountID; the zero
// UUID matches nothing, which is the guest scope.
type Scope struct {
	All       bool
	AccountID uuid.UUID
}

// ScopeFor returns the visibility scope for list and stats queries.
// Scoping narrows results instead of rejecting the request.
func ScopeFor(actor Actor) Scope {
	switch actor.Role {
	case RoleModerator, RoleAdministrator:
		return Scope{All: true}
	case RolePatient:
		return Scope{AccountID: actor.ID}
	default:
		return Scope{}
	}
}
