package authz

import (
	"testing"

	"ara/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockScopeSource struct {
	mock.Mock
}

func (m *mockScopeSource) ScopeAssignments() []core.ScopeAssignment {
	args := m.Called()
	if scopes := args.Get(0); scopes != nil {
		return scopes.([]core.ScopeAssignment)
	}
	return nil
}

func TestRecomputeAuthorities_GlobalProfilesNeverReadScopes(t *testing.T) {
	for _, profile := range []core.UserProfile{core.ProfileSuperAdmin, core.ProfileAuditor} {
		t.Run(string(profile), func(t *testing.T) {
			source := &mockScopeSource{}

			authorities := RecomputeAuthorities(profile, source)

			require.Len(t, authorities, 1)
			assert.Equal(t, ProfileAuthority(profile), authorities[0])
			source.AssertNotCalled(t, "ScopeAssignments")
		})
	}
}

func TestRecomputeAuthorities_ScopedUserOnePerAssignment(t *testing.T) {
	source := &mockScopeSource{}
	source.On("ScopeAssignments").Return([]core.ScopeAssignment{
		{ProjectCode: "alpha", Role: core.RoleAdmin},
		{ProjectCode: "beta", Role: core.RoleMember},
		{ProjectCode: "gamma", Role: core.RoleMaintainer},
	})

	authorities := RecomputeAuthorities(core.ProfileScopedUser, source)

	require.Len(t, authorities, 3)
	assert.True(t, authorities.Has("USER_PROJECT_SCOPE:alpha:ADMIN"))
	assert.True(t, authorities.Has("USER_PROJECT_SCOPE:beta:MEMBER"))
	assert.True(t, authorities.Has("USER_PROJECT_SCOPE:gamma:MAINTAINER"))
	source.AssertNumberOfCalls(t, "ScopeAssignments", 1)
}

func TestRecomputeAuthorities_ScopedUserWithoutScopes(t *testing.T) {
	source := &mockScopeSource{}
	source.On("ScopeAssignments").Return(nil)

	authorities := RecomputeAuthorities(core.ProfileScopedUser, source)

	assert.NotNil(t, authorities)
	assert.Empty(t, authorities)
}

func TestRecomputeAuthorities_Stable(t *testing.T) {
	user := &core.User{Profile: core.ProfileScopedUser, Scopes: []core.ScopeAssignment{
		{ProjectCode: "beta", Role: core.RoleMember},
		{ProjectCode: "alpha", Role: core.RoleAdmin},
	}}

	first := RecomputeAuthorities(user.Profile, user)
	second := RecomputeAuthorities(user.Profile, user)

	assert.Equal(t, first, second)
}

func TestRecomputeAuthorities_ReflectsNewAssignment(t *testing.T) {
	user := &core.User{Profile: core.ProfileScopedUser}
	assert.Empty(t, RecomputeAuthorities(user.Profile, user))

	user.Scopes = append(user.Scopes, core.ScopeAssignment{ProjectCode: "alpha", Role: core.RoleMaintainer})

	authorities := RecomputeAuthorities(user.Profile, user)
	assert.Equal(t, Authorities{ScopeAuthority("alpha", core.RoleMaintainer)}, authorities)
}

func TestParseScopeAuthority(t *testing.T) {
	code, role, ok := ParseScopeAuthority(ScopeAuthority("my:project", core.RoleAdmin))
	require.True(t, ok)
	assert.Equal(t, "my:project", code)
	assert.Equal(t, core.RoleAdmin, role)

	_, _, ok = ParseScopeAuthority("USER_PROJECT_SCOPE:alpha:OWNER")
	assert.False(t, ok)

	_, _, ok = ParseScopeAuthority(ProfileAuthority(core.ProfileAuditor))
	assert.False(t, ok)
}

func TestNewAuthorities_SortedUnique(t *testing.T) {
	set := NewAuthorities("b", "a", "b")
	assert.Equal(t, Authorities{"a", "b"}, set)
}
