package api

import (
	"net/http"
	"strings"

	"ara/authz"
	"ara/core"

	"github.com/gorilla/mux"
)

// ScopeRequest sets the role held on a project
type ScopeRequest struct {
	Role string `json:"role" validate:"required,max=20"`
}

// ProfileRequest sets the global profile of a user
type ProfileRequest struct {
	Profile string `json:"profile" validate:"required,max=20"`
}

// DefaultProjectRequest sets the project opened at startup. An empty code clears it.
type DefaultProjectRequest struct {
	ProjectCode string `json:"project_code" validate:"max=32"`
}

// principal returns the authenticated principal, writing a 401 when there is none
func (a *API) principal(w http.ResponseWriter, r *http.Request) (*authz.Principal, bool) {
	principal, ok := authz.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authorization required", nil, a.logger)
	}
	return principal, ok
}

// getCurrentUser godoc
//
//	@Summary	Get the current user
//	@Tags		users
//	@Security	ApiKeyAuth
//	@Produce	json
//	@Success	200	{object}	core.User
//	@Failure	404	{object}	ErrorResponse
//	@Router		/user/me [get]
func (a *API) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	user, err := a.services.Users.GetCurrentUser(r.Context(), principal)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, user, http.StatusOK)
}

// updateDefaultProject godoc
//
//	@Summary	Set the default project of the current user
//	@Tags		users
//	@Security	ApiKeyAuth
//	@Accept		json
//	@Produce	json
//	@Param		request	body		DefaultProjectRequest	true	"Project"
//	@Success	200		{object}	core.User
//	@Failure	403		{object}	ErrorResponse
//	@Failure	404		{object}	ErrorResponse
//	@Router		/user/me/default-project [put]
func (a *API) updateDefaultProject(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req DefaultProjectRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	user, err := a.services.Users.UpdateDefaultProject(r.Context(), principal, strings.TrimSpace(req.ProjectCode))
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, user, http.StatusOK)
}

// updateOwnScope godoc
//
//	@Summary		Set the current user's role on a project
//	@Description	Adds or replaces the scope and returns a new token carrying the recomputed authorities. The previous token is revoked.
//	@Tags			users
//	@Security		ApiKeyAuth
//	@Accept			json
//	@Produce		json
//	@Param			code	path		string			true	"Project code"
//	@Param			request	body		ScopeRequest	true	"Role"
//	@Success		200		{object}	SessionResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/user/me/scopes/{code} [put]
func (a *API) updateOwnScope(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req ScopeRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	role, _ := core.ParseScopeRole(req.Role)

	updated, err := a.services.Users.UpdateScope(r.Context(), principal, mux.Vars(r)["code"], role)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.reissueSession(w, r, updated)
}

// removeOwnScope godoc
//
//	@Summary		Remove the current user's scope on a project
//	@Description	Returns a new token carrying the recomputed authorities. The previous token is revoked.
//	@Tags			users
//	@Security		ApiKeyAuth
//	@Produce		json
//	@Param			code	path		string	true	"Project code"
//	@Success		200		{object}	SessionResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/user/me/scopes/{code} [delete]
func (a *API) removeOwnScope(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	updated, err := a.services.Users.RemoveScope(r.Context(), principal, mux.Vars(r)["code"])
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.reissueSession(w, r, updated)
}

// getCurrentUserProjects godoc
//
//	@Summary		List the projects of the current user
//	@Description	Global profiles see every project, scoped users the projects they hold a scope on
//	@Tags			users
//	@Security		ApiKeyAuth
//	@Produce		json
//	@Success		200	{array}	core.Project
//	@Router			/user/me/projects [get]
func (a *API) getCurrentUserProjects(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	projects, err := a.services.Users.CurrentUserProjects(r.Context(), principal)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, projects, http.StatusOK)
}

// listUsers godoc
//
//	@Summary	List the users of the current user's provider
//	@Tags		users
//	@Security	ApiKeyAuth
//	@Produce	json
//	@Success	200	{array}	core.User
//	@Router		/users [get]
func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	users, err := a.services.Users.ListUsers(r.Context(), principal)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, users, http.StatusOK)
}

// listScopedUsers godoc
//
//	@Summary	List scoped users
//	@Tags		users
//	@Security	ApiKeyAuth
//	@Produce	json
//	@Param		role	query	string	false	"Only users holding this role"
//	@Param		project	query	string	false	"Only users scoped on this project"
//	@Success	200		{array}	core.User
//	@Failure	400		{object}	ErrorResponse
//	@Router		/users/scoped [get]
func (a *API) listScopedUsers(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	var role core.ScopeRole
	if raw := query.Get("role"); raw != "" {
		role, _ = core.ParseScopeRole(raw)
	}
	users, err := a.services.Users.ListScopedUsers(r.Context(), principal, role, strings.TrimSpace(query.Get("project")))
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, users, http.StatusOK)
}

// updateUserProfile godoc
//
//	@Summary		Change the profile of a user
//	@Description	Super admins only. Nobody can change their own profile.
//	@Tags			users
//	@Security		ApiKeyAuth
//	@Accept			json
//	@Produce		json
//	@Param			login	path		string			true	"Login"
//	@Param			request	body		ProfileRequest	true	"Profile"
//	@Success		200		{object}	core.User
//	@Failure		400		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/users/{login}/profile [put]
func (a *API) updateUserProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req ProfileRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	profile, _ := core.ParseUserProfile(req.Profile)

	user, err := a.services.Users.UpdateUserProfile(r.Context(), principal, mux.Vars(r)["login"], profile)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, user, http.StatusOK)
}

// updateUserScope godoc
//
//	@Summary		Set the role of a scoped user on a project
//	@Description	Requires the ADMIN role on the project, or the SUPER_ADMIN profile
//	@Tags			users
//	@Security		ApiKeyAuth
//	@Accept			json
//	@Produce		json
//	@Param			login	path		string			true	"Login"
//	@Param			code	path		string			true	"Project code"
//	@Param			request	body		ScopeRequest	true	"Role"
//	@Success		200		{object}	core.User
//	@Failure		400		{object}	ErrorResponse
//	@Failure		403		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/users/{login}/scopes/{code} [put]
func (a *API) updateUserScope(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req ScopeRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	role, _ := core.ParseScopeRole(req.Role)

	vars := mux.Vars(r)
	user, err := a.services.Users.UpdateUserScope(r.Context(), principal, vars["login"], vars["code"], role)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, user, http.StatusOK)
}

// removeUserScope godoc
//
//	@Summary	Remove the scope of a user on a project
//	@Tags		users
//	@Security	ApiKeyAuth
//	@Produce	json
//	@Param		login	path		string	true	"Login"
//	@Param		code	path		string	true	"Project code"
//	@Success	200		{object}	core.User
//	@Failure	400		{object}	ErrorResponse
//	@Failure	403		{object}	ErrorResponse
//	@Router		/users/{login}/scopes/{code} [delete]
func (a *API) removeUserScope(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	user, err := a.services.Users.RemoveUserScope(r.Context(), principal, vars["login"], vars["code"])
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, user, http.StatusOK)
}
