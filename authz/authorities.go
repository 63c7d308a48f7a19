// Package authz derives security authorities from a user's profile and project
// scopes, and carries them in an explicit Principal value.
//
// Authorities are a pure function of (profile, scopes) at the moment they are
// computed; nothing here caches them. Callers that change scopes get a new
// Principal back and are responsible for installing it (for instance by
// re-issuing the access token).
package authz

import (
	"sort"
	"strings"

	"ara/core"
)

// Authority is a granted permission string.
type Authority string

const (
	// ProfileAuthorityPrefix prefixes the single authority of global profiles.
	ProfileAuthorityPrefix = "USER_PROFILE:"
	// ScopeAuthorityPrefix prefixes per-project authorities of scoped users.
	ScopeAuthorityPrefix = "USER_PROJECT_SCOPE:"
)

// ProfileAuthority encodes a global profile.
func ProfileAuthority(profile core.UserProfile) Authority {
	return Authority(ProfileAuthorityPrefix + string(profile))
}

// ScopeAuthority encodes a role on a project.
func ScopeAuthority(projectCode string, role core.ScopeRole) Authority {
	return Authority(ScopeAuthorityPrefix + projectCode + ":" + string(role))
}

// ParseScopeAuthority decodes an authority built by ScopeAuthority.
func ParseScopeAuthority(a Authority) (projectCode string, role core.ScopeRole, ok bool) {
	rest, found := strings.CutPrefix(string(a), ScopeAuthorityPrefix)
	if !found {
		return "", "", false
	}
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 {
		return "", "", false
	}
	role = core.ScopeRole(rest[idx+1:])
	if !role.IsValid() {
		return "", "", false
	}
	return rest[:idx], role, true
}

// ParseProfileAuthority decodes an authority built by ProfileAuthority.
func ParseProfileAuthority(a Authority) (core.UserProfile, bool) {
	rest, found := strings.CutPrefix(string(a), ProfileAuthorityPrefix)
	if !found {
		return "", false
	}
	profile := core.UserProfile(rest)
	return profile, profile.IsValid()
}

// ScopeSource provides the scope assignments of a user. It is only consulted for scoped users.
type ScopeSource interface {
	ScopeAssignments() []core.ScopeAssignment
}

// Authorities is a sorted set of authorities.
type Authorities []Authority

// Has reports whether the set contains a.
func (as Authorities) Has(a Authority) bool {
	idx := sort.Search(len(as), func(i int) bool { return as[i] >= a })
	return idx < len(as) && as[idx] == a
}

// Strings returns the authorities as plain strings.
func (as Authorities) Strings() []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = string(a)
	}
	return out
}

// NewAuthorities builds a sorted, de-duplicated set. The result is never nil.
func NewAuthorities(values ...Authority) Authorities {
	set := make(Authorities, 0, len(values))
	seen := make(map[Authority]struct{}, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		set = append(set, v)
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set
}

// RecomputeAuthorities returns the authorities granted by profile and scopes.
//
// SUPER_ADMIN and AUDITOR get exactly their profile authority and scopes is never read.
// SCOPED_USER gets one authority per scope assignment, possibly none. An unknown
// profile grants nothing.
func RecomputeAuthorities(profile core.UserProfile, scopes ScopeSource) Authorities {
	if profile.IsGlobal() {
		return NewAuthorities(ProfileAuthority(profile))
	}
	if profile != core.ProfileScopedUser || scopes == nil {
		return NewAuthorities()
	}

	assignments := scopes.ScopeAssignments()
	values := make([]Authority, 0, len(assignments))
	for _, scope := range assignments {
		values = append(values, ScopeAuthority(scope.ProjectCode, scope.Role))
	}
	return NewAuthorities(values...)
}
