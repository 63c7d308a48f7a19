package core

import (
	"strings"
	"time"
)

// UserProfile is the global profile of a user.
type UserProfile string

const (
	ProfileSuperAdmin UserProfile = "SUPER_ADMIN"
	ProfileAuditor    UserProfile = "AUDITOR"
	ProfileScopedUser UserProfile = "SCOPED_USER"
)

// ParseUserProfile parses a profile name case-insensitively.
func ParseUserProfile(s string) (UserProfile, bool) {
	p := UserProfile(strings.ToUpper(strings.TrimSpace(s)))
	return p, p.IsValid()
}

// IsValid checks if the profile is valid
func (p UserProfile) IsValid() bool {
	switch p {
	case ProfileSuperAdmin, ProfileAuditor, ProfileScopedUser:
		return true
	default:
		return false
	}
}

// IsGlobal reports whether the profile grants access regardless of project scopes.
func (p UserProfile) IsGlobal() bool {
	return p == ProfileSuperAdmin || p == ProfileAuditor
}

// ScopeRole is the role a scoped user holds on one project.
// Roles are declared from the highest to the lowest privilege.
type ScopeRole string

const (
	RoleAdmin      ScopeRole = "ADMIN"
	RoleMaintainer ScopeRole = "MAINTAINER"
	RoleMember     ScopeRole = "MEMBER"
)

var roleRanks = map[ScopeRole]int{
	RoleAdmin:      0,
	RoleMaintainer: 1,
	RoleMember:     2,
}

// ParseScopeRole parses a role name case-insensitively.
func ParseScopeRole(s string) (ScopeRole, bool) {
	r := ScopeRole(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.IsValid()
}

// IsValid checks if the role is valid
func (r ScopeRole) IsValid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Rank returns 0 for the highest role; invalid roles rank past every valid one.
func (r ScopeRole) Rank() int {
	if rank, ok := roleRanks[r]; ok {
		return rank
	}
	return len(roleRanks)
}

// AtLeast reports whether r grants at least the privileges of other.
func (r ScopeRole) AtLeast(other ScopeRole) bool {
	return r.IsValid() && r.Rank() <= other.Rank()
}

// ScopeAssignment is the role of a user on one project. A user holds at most one per project.
type ScopeAssignment struct {
	UserID      int64     `json:"user_id"`
	ProjectID   int64     `json:"project_id"`
	ProjectCode string    `json:"project_code"`
	ProjectName string    `json:"project_name,omitempty"`
	Role        ScopeRole `json:"role"`
}

// User is the persisted account of someone who logged in through a provider.
// Login is unique per provider.
type User struct {
	ID                 int64             `json:"id"`
	Login              string            `json:"login"`
	ProviderName       string            `json:"provider_name"`
	FirstName          string            `json:"first_name,omitempty"`
	LastName           string            `json:"last_name,omitempty"`
	Email              string            `json:"email,omitempty"`
	PictureURL         string            `json:"picture_url,omitempty"`
	Profile            UserProfile       `json:"profile"`
	DefaultProjectCode string            `json:"default_project_code,omitempty"`
	Scopes             []ScopeAssignment `json:"scopes"`
	CreationDate       time.Time         `json:"creation_date"`
	UpdateDate         time.Time         `json:"update_date"`
}

// ScopeAssignments returns the user's project scopes.
func (u *User) ScopeAssignments() []ScopeAssignment {
	return u.Scopes
}

// FindScope returns the index of the scope on projectCode, or -1.
func (u *User) FindScope(projectCode string) int {
	for i, scope := range u.Scopes {
		if scope.ProjectCode == projectCode {
			return i
		}
	}
	return -1
}
