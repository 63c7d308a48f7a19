package api

import (
	"net/http"
	"testing"

	"ara/authz"
	"ara/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_Success(t *testing.T) {
	ts := newTestServer(t, testConfig(t, "alice"), nil)

	rr := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Login: "alice", Password: testPassword})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	session := decode[SessionResponse](t, rr)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "alice", session.Principal.Login)
	assert.Equal(t, core.ProfileScopedUser, session.Principal.Profile)
	assert.False(t, session.ExpiresAt.IsZero())

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == authCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "login should set the auth cookie")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, session.Token, cookie.Value)

	me := ts.do(t, http.MethodGet, "/api/v1/user/me", session.Token, nil)
	require.Equal(t, http.StatusOK, me.Code)
	user := decode[core.User](t, me)
	assert.Equal(t, "alice", user.Login)
	assert.Equal(t, "alice@example.com", user.Email)
}

func TestLogin_Failures(t *testing.T) {
	ts := newTestServer(t, testConfig(t, "alice"), nil)

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
	}{
		{"wrong password", LoginRequest{Login: "alice", Password: "nope"}, http.StatusUnauthorized},
		{"unknown login", LoginRequest{Login: "mallory", Password: testPassword}, http.StatusUnauthorized},
		{"missing password", map[string]string{"login": "alice"}, http.StatusBadRequest},
		{"unknown field", map[string]string{"login": "alice", "password": testPassword, "admin": "true"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", tt.body)
			assert.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			assert.Empty(t, rr.Result().Cookies())
		})
	}
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	ts := newTestServer(t, testConfig(t, "alice"), nil)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/v1/user/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/v1/user/me", "not-a-jwt", nil).Code)
}

func TestLogout_RevokesToken(t *testing.T) {
	ts := newTestServer(t, testConfig(t, "alice"), nil)
	token := ts.login(t, "alice")

	rr := ts.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/v1/user/me", token, nil).Code)
}

func TestUpdateOwnScope_ReissuesToken(t *testing.T) {
	ts := newTestServer(t, testConfig(t, "alice"), nil)
	ts.project(t, "alpha")
	oldToken := ts.login(t, "alice")

	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/projects/alpha", oldToken, nil).Code)

	rr := ts.do(t, http.MethodPut, "/api/v1/user/me/scopes/alpha", oldToken, ScopeRequest{Role: "member"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	session := decode[SessionResponse](t, rr)
	require.NotEmpty(t, session.Token)
	assert.NotEqual(t, oldToken, session.Token)
	assert.True(t, session.Principal.Authorities.Has(authz.ScopeAuthority("alpha", core.RoleMember)))

	// The previous token carried the old authorities and is revoked
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/v1/user/me", oldToken, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/projects/alpha", session.Token, nil).Code)

	// Removing the scope closes the project again
	rr = ts.do(t, http.MethodDelete, "/api/v1/user/me/scopes/alpha", session.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	removed := decode[SessionResponse](t, rr)
	assert.Empty(t, removed.Principal.ProjectCodes())
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/projects/alpha", removed.Token, nil).Code)
}

func TestUpdateOwnScope_Errors(t *testing.T) {
	ts := newTestServer(t, testConfig(t, "alice"), nil)
	ts.project(t, "alpha")
	token := ts.login(t, "alice")

	rr := ts.do(t, http.MethodPut, "/api/v1/user/me/scopes/alpha", token, ScopeRequest{Role: "OWNER"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, core.KeyRoleMissing, decode[ErrorResponse](t, rr).Key)

	rr = ts.do(t, http.MethodPut, "/api/v1/user/me/scopes/ghost", token, ScopeRequest{Role: "ADMIN"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, http.MethodDelete, "/api/v1/user/me/scopes/alpha", token, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, core.KeyProjectNotInScopes, decode[ErrorResponse](t, rr).Key)

	// A failed change keeps the current token valid
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/user/me", token, nil).Code)
}

func TestUpdateUserProfile(t *testing.T) {
	ts := newTestServer(t, testConfig(t, "root", "bob"), nil)
	ts.seedUser(t, "root", core.ProfileSuperAdmin, nil)
	ts.seedUser(t, "bob", core.ProfileScopedUser, nil)
	rootToken := ts.login(t, "root")
	bobToken := ts.login(t, "bob")

	rr := ts.do(t, http.MethodPut, "/api/v1/users/bob/profile", rootToken, ProfileRequest{Profile: "auditor"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, core.ProfileAuditor, decode[core.User](t, rr).Profile)

	rr = ts.do(t, http.MethodPut, "/api/v1/users/root/profile", rootToken, ProfileRequest{Profile: "SCOPED_USER"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, core.KeyProfileUnchangeable, decode[ErrorResponse](t, rr).Key)

	rr = ts.do(t, http.MethodPut, "/api/v1/users/root/profile", bobToken, ProfileRequest{Profile: "SCOPED_USER"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestUpdateUserProfile_DemotionAppliesToLiveToken(t *testing.T) {
	ts := newTestServer(t, testConfig(t, "root", "eve"), nil)
	ts.project(t, "p1")
	ts.seedUser(t, "root", core.ProfileSuperAdmin, nil)
	ts.seedUser(t, "eve", core.ProfileSuperAdmin, nil)
	rootToken := ts.login(t, "root")
	eveToken := ts.login(t, "eve")

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/projects/p1", eveToken, nil).Code)

	rr := ts.do(t, http.MethodPut, "/api/v1/users/eve/profile", rootToken, ProfileRequest{Profile: "SCOPED_USER"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Same token, recomputed authorities
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/projects/p1", eveToken, nil).Code)
	rr = ts.do(t, http.MethodPut, "/api/v1/users/root/profile", eveToken, ProfileRequest{Profile: "SCOPED_USER"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, http.MethodGet, "/api/v1/user/me", rootToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, core.ProfileSuperAdmin, decode[core.User](t, rr).Profile)
}

func TestUserScopeChangesApplyToLiveToken(t *testing.T) {
	ts := newTestServer(t, testConfig(t, "ada", "bob"), nil)
	alpha := ts.project(t, "alpha")
	ts.seedUser(t, "ada", core.ProfileScopedUser, map[*core.Project]core.ScopeRole{alpha: core.RoleAdmin})
	ts.seedUser(t, "bob", core.ProfileScopedUser, nil)
	adaToken := ts.login(t, "ada")
	bobToken := ts.login(t, "bob")

	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/projects/alpha", bobToken, nil).Code)

	rr := ts.do(t, http.MethodPut, "/api/v1/users/bob/scopes/alpha", adaToken, ScopeRequest{Role: "MEMBER"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/projects/alpha", bobToken, nil).Code)

	rr = ts.do(t, http.MethodDelete, "/api/v1/users/bob/scopes/alpha", adaToken, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/projects/alpha", bobToken, nil).Code)
}

func TestUserScopeManagement(t *testing.T) {
	ts := newTestServer(t, testConfig(t, "ada", "bob"), nil)
	alpha := ts.project(t, "alpha")
	ts.project(t, "beta")
	ts.seedUser(t, "ada", core.ProfileScopedUser, map[*core.Project]core.ScopeRole{alpha: core.RoleAdmin})
	ts.seedUser(t, "bob", core.ProfileScopedUser, nil)
	token := ts.login(t, "ada")

	rr := ts.do(t, http.MethodPut, "/api/v1/users/bob/scopes/alpha", token, ScopeRequest{Role: "MAINTAINER"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	bob := decode[core.User](t, rr)
	require.Len(t, bob.Scopes, 1)
	assert.Equal(t, core.RoleMaintainer, bob.Scopes[0].Role)

	rr = ts.do(t, http.MethodGet, "/api/v1/users/scoped?role=maintainer&project=alpha", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	scoped := decode[[]core.User](t, rr)
	require.Len(t, scoped, 1)
	assert.Equal(t, "bob", scoped[0].Login)

	// ada does not administer beta
	rr = ts.do(t, http.MethodPut, "/api/v1/users/bob/scopes/beta", token, ScopeRequest{Role: "MEMBER"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.do(t, http.MethodDelete, "/api/v1/users/bob/scopes/alpha", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Empty(t, decode[core.User](t, rr).Scopes)
}

func TestCurrentUserProjectsAndDefault(t *testing.T) {
	ts := newTestServer(t, testConfig(t, "ada"), nil)
	alpha := ts.project(t, "alpha")
	ts.project(t, "beta")
	ts.seedUser(t, "ada", core.ProfileScopedUser, map[*core.Project]core.ScopeRole{alpha: core.RoleMember})
	token := ts.login(t, "ada")

	rr := ts.do(t, http.MethodGet, "/api/v1/user/me/projects", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	projects := decode[[]core.Project](t, rr)
	require.Len(t, projects, 1)
	assert.Equal(t, "alpha", projects[0].Code)

	rr = ts.do(t, http.MethodPut, "/api/v1/user/me/default-project", token, DefaultProjectRequest{ProjectCode: "alpha"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "alpha", decode[core.User](t, rr).DefaultProjectCode)

	rr = ts.do(t, http.MethodPut, "/api/v1/user/me/default-project", token, DefaultProjectRequest{ProjectCode: "beta"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAuthDisabled_UsesAnonymousSuperAdmin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Enabled = false
	ts := newTestServer(t, cfg, nil)
	ts.project(t, "alpha")

	rr := ts.do(t, http.MethodGet, "/api/v1/projects/alpha/functionalities", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}
