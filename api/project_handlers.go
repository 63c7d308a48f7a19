package api

import (
	"net/http"

	"ara/core"
)

// ProjectRequest creates or updates a project. Code is ignored on update.
type ProjectRequest struct {
	Code             string `json:"code" validate:"omitempty,max=32"`
	Name             string `json:"name" validate:"required,max=40"`
	DefaultAtStartup bool   `json:"default_at_startup"`
}

// TeamRequest creates a team
type TeamRequest struct {
	Name                  string `json:"name" validate:"required,max=40"`
	AssignProblems        bool   `json:"assign_problems"`
	AssignFunctionalities bool   `json:"assign_functionalities"`
}

// CountryRequest creates a country
type CountryRequest struct {
	Code string `json:"code" validate:"required,max=32"`
	Name string `json:"name" validate:"required,max=40"`
}

// TypeRequest creates a run type
type TypeRequest struct {
	Code      string `json:"code" validate:"required,max=32"`
	Name      string `json:"name" validate:"required,max=50"`
	IsBrowser bool   `json:"is_browser"`
	IsMobile  bool   `json:"is_mobile"`
}

// createProject godoc
//
//	@Summary	Create a project
//	@Tags		projects
//	@Security	ApiKeyAuth
//	@Accept		json
//	@Produce	json
//	@Param		project	body		ProjectRequest	true	"Project"
//	@Success	201		{object}	core.Project
//	@Failure	400		{object}	ErrorResponse
//	@Failure	403		{object}	ErrorResponse
//	@Failure	409		{object}	ErrorResponse
//	@Router		/projects [post]
func (a *API) createProject(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	if !principal.IsSuperAdmin() {
		a.writeAppError(w, core.NewForbidden(core.ResourceProject, "only super admins can create projects"))
		return
	}

	var req ProjectRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	project, err := a.services.Projects.Create(r.Context(), &core.Project{
		Code:             req.Code,
		Name:             req.Name,
		DefaultAtStartup: req.DefaultAtStartup,
	})
	if err != nil {
		a.writeAppError(w, err)
		return
	}

	a.logger.Infow("Project created", "action", "create_project", "outcome", "success",
		"username", principal.Login, "project", project.Code)
	a.respondJSON(w, project, http.StatusCreated)
}

// getProject godoc
//
//	@Summary	Get a project
//	@Tags		projects
//	@Security	ApiKeyAuth
//	@Produce	json
//	@Param		code	path		string	true	"Project code"
//	@Success	200		{object}	core.Project
//	@Failure	404		{object}	ErrorResponse
//	@Router		/projects/{code} [get]
func (a *API) getProject(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	a.respondJSON(w, project, http.StatusOK)
}

// updateProject godoc
//
//	@Summary	Update a project
//	@Tags		projects
//	@Security	ApiKeyAuth
//	@Accept		json
//	@Produce	json
//	@Param		code	path		string			true	"Project code"
//	@Param		project	body		ProjectRequest	true	"Project"
//	@Success	200		{object}	core.Project
//	@Failure	400		{object}	ErrorResponse
//	@Failure	403		{object}	ErrorResponse
//	@Failure	409		{object}	ErrorResponse
//	@Router		/projects/{code} [put]
func (a *API) updateProject(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	var req ProjectRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	updated, err := a.services.Projects.Update(r.Context(), project.Code, req.Name, req.DefaultAtStartup)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, updated, http.StatusOK)
}

// listTeams godoc
//
//	@Summary	List the teams of a project
//	@Tags		settings
//	@Security	ApiKeyAuth
//	@Produce	json
//	@Param		code	path	string	true	"Project code"
//	@Success	200		{array}	core.Team
//	@Router		/projects/{code}/teams [get]
func (a *API) listTeams(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	teams, err := a.services.Settings.ListTeams(r.Context(), project.ID)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, teams, http.StatusOK)
}

// createTeam godoc
//
//	@Summary	Create a team
//	@Tags		settings
//	@Security	ApiKeyAuth
//	@Accept		json
//	@Produce	json
//	@Param		code	path		string		true	"Project code"
//	@Param		team	body		TeamRequest	true	"Team"
//	@Success	201		{object}	core.Team
//	@Failure	409		{object}	ErrorResponse
//	@Router		/projects/{code}/teams [post]
func (a *API) createTeam(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	var req TeamRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	team, err := a.services.Settings.CreateTeam(r.Context(), project.ID, &core.Team{
		Name:                  req.Name,
		AssignProblems:        req.AssignProblems,
		AssignFunctionalities: req.AssignFunctionalities,
	})
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, team, http.StatusCreated)
}

// listCountries godoc
//
//	@Summary	List the countries of a project
//	@Tags		settings
//	@Security	ApiKeyAuth
//	@Produce	json
//	@Param		code	path	string	true	"Project code"
//	@Success	200		{array}	core.Country
//	@Router		/projects/{code}/countries [get]
func (a *API) listCountries(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	countries, err := a.services.Settings.ListCountries(r.Context(), project.ID)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, countries, http.StatusOK)
}

// createCountry godoc
//
//	@Summary	Create a country
//	@Tags		settings
//	@Security	ApiKeyAuth
//	@Accept		json
//	@Produce	json
//	@Param		code	path		string			true	"Project code"
//	@Param		country	body		CountryRequest	true	"Country"
//	@Success	201		{object}	core.Country
//	@Failure	409		{object}	ErrorResponse
//	@Router		/projects/{code}/countries [post]
func (a *API) createCountry(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	var req CountryRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	country, err := a.services.Settings.CreateCountry(r.Context(), project.ID, &core.Country{Code: req.Code, Name: req.Name})
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, country, http.StatusCreated)
}

// listTypes godoc
//
//	@Summary	List the run types of a project
//	@Tags		settings
//	@Security	ApiKeyAuth
//	@Produce	json
//	@Param		code	path	string	true	"Project code"
//	@Success	200		{array}	core.Type
//	@Router		/projects/{code}/types [get]
func (a *API) listTypes(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	types, err := a.services.Settings.ListTypes(r.Context(), project.ID)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, types, http.StatusOK)
}

// createType godoc
//
//	@Summary	Create a run type
//	@Tags		settings
//	@Security	ApiKeyAuth
//	@Accept		json
//	@Produce	json
//	@Param		code	path		string		true	"Project code"
//	@Param		type	body		TypeRequest	true	"Type"
//	@Success	201		{object}	core.Type
//	@Failure	400		{object}	ErrorResponse
//	@Failure	409		{object}	ErrorResponse
//	@Router		/projects/{code}/types [post]
func (a *API) createType(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	var req TypeRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	t, err := a.services.Settings.CreateType(r.Context(), project.ID, &core.Type{
		Code:      req.Code,
		Name:      req.Name,
		IsBrowser: req.IsBrowser,
		IsMobile:  req.IsMobile,
	})
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, t, http.StatusCreated)
}
