package api

import (
	"net/http"
	"testing"

	"ara/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// accessFixture holds one token per kind of user on project alpha
type accessFixture struct {
	ts                                    *testServer
	root, auditor, admin, maintainer, mem string
	outsider                              string
}

func newAccessFixture(t *testing.T) *accessFixture {
	t.Helper()
	ts := newTestServer(t, testConfig(t, "root", "audrey", "ada", "max", "mel", "oscar"), nil)
	alpha := ts.project(t, "alpha")
	beta := ts.project(t, "beta")

	ts.seedUser(t, "root", core.ProfileSuperAdmin, nil)
	ts.seedUser(t, "audrey", core.ProfileAuditor, nil)
	ts.seedUser(t, "ada", core.ProfileScopedUser, map[*core.Project]core.ScopeRole{alpha: core.RoleAdmin})
	ts.seedUser(t, "max", core.ProfileScopedUser, map[*core.Project]core.ScopeRole{alpha: core.RoleMaintainer})
	ts.seedUser(t, "mel", core.ProfileScopedUser, map[*core.Project]core.ScopeRole{alpha: core.RoleMember})
	ts.seedUser(t, "oscar", core.ProfileScopedUser, map[*core.Project]core.ScopeRole{beta: core.RoleAdmin})

	return &accessFixture{
		ts:         ts,
		root:       ts.login(t, "root"),
		auditor:    ts.login(t, "audrey"),
		admin:      ts.login(t, "ada"),
		maintainer: ts.login(t, "max"),
		mem:        ts.login(t, "mel"),
		outsider:   ts.login(t, "oscar"),
	}
}

func TestProjectAccess_Matrix(t *testing.T) {
	f := newAccessFixture(t)
	folder := CreateFunctionalityRequest{FunctionalityRequest: FunctionalityRequest{Type: core.FunctionalityTypeFolder, Name: "Checkout"}}
	team := TeamRequest{Name: "Payments"}

	tests := []struct {
		name   string
		token  string
		read   int
		write  int
		admin  int
		folder string
		team   string
	}{
		{"super admin", f.root, http.StatusOK, http.StatusCreated, http.StatusCreated, "Root folder", "Root team"},
		{"auditor is read-only", f.auditor, http.StatusOK, http.StatusForbidden, http.StatusForbidden, "Audit folder", "Audit team"},
		{"project admin", f.admin, http.StatusOK, http.StatusCreated, http.StatusCreated, "Admin folder", "Admin team"},
		{"maintainer writes but does not administer", f.maintainer, http.StatusOK, http.StatusCreated, http.StatusForbidden, "Maintainer folder", "Maintainer team"},
		{"member only reads", f.mem, http.StatusOK, http.StatusForbidden, http.StatusForbidden, "Member folder", "Member team"},
		{"user scoped elsewhere sees nothing", f.outsider, http.StatusNotFound, http.StatusNotFound, http.StatusNotFound, "Outsider folder", "Outsider team"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.ts.do(t, http.MethodGet, "/api/v1/projects/alpha/functionalities", tt.token, nil)
			assert.Equal(t, tt.read, rr.Code, rr.Body.String())

			req := folder
			req.Name = tt.folder
			rr = f.ts.do(t, http.MethodPost, "/api/v1/projects/alpha/functionalities", tt.token, req)
			assert.Equal(t, tt.write, rr.Code, rr.Body.String())

			teamReq := team
			teamReq.Name = tt.team
			rr = f.ts.do(t, http.MethodPost, "/api/v1/projects/alpha/teams", tt.token, teamReq)
			assert.Equal(t, tt.admin, rr.Code, rr.Body.String())
		})
	}
}

func TestProjectAccess_UnknownProject(t *testing.T) {
	f := newAccessFixture(t)

	// Super admins can read everything, so the lookup itself answers
	rr := f.ts.do(t, http.MethodGet, "/api/v1/projects/ghost", f.root, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, core.ResourceProject, decode[ErrorResponse](t, rr).Resource)

	rr = f.ts.do(t, http.MethodGet, "/api/v1/projects/ghost", f.mem, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateProject(t *testing.T) {
	f := newAccessFixture(t)

	rr := f.ts.do(t, http.MethodPost, "/api/v1/projects", f.root, ProjectRequest{Code: "gamma", Name: "Gamma"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	project := decode[core.Project](t, rr)
	assert.Equal(t, "gamma", project.Code)
	assert.NotZero(t, project.ID)

	rr = f.ts.do(t, http.MethodPost, "/api/v1/projects", f.root, ProjectRequest{Code: "gamma", Name: "Gamma again"})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "not_unique:code", decode[ErrorResponse](t, rr).Key)

	rr = f.ts.do(t, http.MethodPost, "/api/v1/projects", f.root, ProjectRequest{Code: "Not A Code", Name: "Bad"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.ts.do(t, http.MethodPost, "/api/v1/projects", f.admin, ProjectRequest{Code: "delta", Name: "Delta"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestUpdateProject(t *testing.T) {
	f := newAccessFixture(t)

	rr := f.ts.do(t, http.MethodPut, "/api/v1/projects/alpha", f.admin, ProjectRequest{Name: "Alpha renamed", DefaultAtStartup: true})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[core.Project](t, rr)
	assert.Equal(t, "alpha", updated.Code)
	assert.Equal(t, "Alpha renamed", updated.Name)
	assert.True(t, updated.DefaultAtStartup)

	rr = f.ts.do(t, http.MethodPut, "/api/v1/projects/alpha", f.maintainer, ProjectRequest{Name: "Nope"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestReferenceData(t *testing.T) {
	f := newAccessFixture(t)

	rr := f.ts.do(t, http.MethodPost, "/api/v1/projects/alpha/countries", f.admin, CountryRequest{Code: "FR", Name: "France"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "fr", decode[core.Country](t, rr).Code)

	rr = f.ts.do(t, http.MethodPost, "/api/v1/projects/alpha/countries", f.admin, CountryRequest{Code: "fr", Name: "France bis"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.ts.do(t, http.MethodPost, "/api/v1/projects/alpha/types", f.admin, TypeRequest{Code: "hybrid", Name: "Hybrid", IsBrowser: true, IsMobile: true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.ts.do(t, http.MethodPost, "/api/v1/projects/alpha/types", f.admin, TypeRequest{Code: "desktop", Name: "Desktop", IsBrowser: true})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = f.ts.do(t, http.MethodGet, "/api/v1/projects/alpha/countries", f.mem, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]core.Country](t, rr), 1)

	rr = f.ts.do(t, http.MethodGet, "/api/v1/projects/alpha/types", f.auditor, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]core.Type](t, rr), 1)

	rr = f.ts.do(t, http.MethodGet, "/api/v1/projects/beta/teams", f.outsider, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]core.Team](t, rr))
}
