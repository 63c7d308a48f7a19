package api

import (
	"net/http"

	"ara/core"
	"ara/service"
)

// PatternRequest is a partial predicate over errors. Empty fields impose no constraint.
type PatternRequest struct {
	FeatureFile              string `json:"feature_file" validate:"max=256"`
	FeatureName              string `json:"feature_name" validate:"max=256"`
	ScenarioName             string `json:"scenario_name" validate:"max=512"`
	ScenarioNameStartsWith   bool   `json:"scenario_name_starts_with"`
	Step                     string `json:"step" validate:"max=2048"`
	StepStartsWith           bool   `json:"step_starts_with"`
	StepDefinition           string `json:"step_definition" validate:"max=2048"`
	StepDefinitionStartsWith bool   `json:"step_definition_starts_with"`
	Exception                string `json:"exception" validate:"max=8192"`
	Release                  string `json:"release" validate:"max=32"`
	CountryCode              string `json:"country_code" validate:"max=32"`
	TypeCode                 string `json:"type_code" validate:"max=32"`
	TypeIsBrowser            *bool  `json:"type_is_browser"`
	TypeIsMobile             *bool  `json:"type_is_mobile"`
	Platform                 string `json:"platform" validate:"max=32"`
}

func (req *PatternRequest) toPattern() *core.ProblemPattern {
	return &core.ProblemPattern{
		FeatureFile:              req.FeatureFile,
		FeatureName:              req.FeatureName,
		ScenarioName:             req.ScenarioName,
		ScenarioNameStartsWith:   req.ScenarioNameStartsWith,
		Step:                     req.Step,
		StepStartsWith:           req.StepStartsWith,
		StepDefinition:           req.StepDefinition,
		StepDefinitionStartsWith: req.StepDefinitionStartsWith,
		Exception:                req.Exception,
		Release:                  req.Release,
		CountryCode:              req.CountryCode,
		TypeCode:                 req.TypeCode,
		TypeIsBrowser:            req.TypeIsBrowser,
		TypeIsMobile:             req.TypeIsMobile,
		Platform:                 req.Platform,
	}
}

// ProblemRequest creates a problem together with its patterns
type ProblemRequest struct {
	Name         string           `json:"name" validate:"max=256"`
	Comment      string           `json:"comment" validate:"max=4096"`
	Status       string           `json:"status" validate:"omitempty,oneof=OPEN CLOSED"`
	BlamedTeamID *int64           `json:"blamed_team_id"`
	Patterns     []PatternRequest `json:"patterns" validate:"max=100,dive"`
}

// CountResponse holds the number of matching errors
type CountResponse struct {
	Count int64 `json:"count"`
}

// AssignResponse holds the number of new problem occurrences
type AssignResponse struct {
	Occurrences int `json:"occurrences"`
}

// countMatchingErrors godoc
//
//	@Summary		Count the errors matching a pattern
//	@Description	An empty pattern matches every error of the project
//	@Tags			problems
//	@Security		ApiKeyAuth
//	@Accept			json
//	@Produce		json
//	@Param			code	path		string			true	"Project code"
//	@Param			pattern	body		PatternRequest	true	"Pattern"
//	@Success		200		{object}	CountResponse
//	@Router			/projects/{code}/errors/matches/count [post]
func (a *API) countMatchingErrors(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	var req PatternRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	count, err := a.services.Problems.CountMatchingErrors(r.Context(), project.ID, req.toPattern())
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, CountResponse{Count: count}, http.StatusOK)
}

// findMatchingErrors godoc
//
//	@Summary		List the errors matching a pattern
//	@Description	Errors are sorted by execution, run, scenario and error. Each error lists the problems it is already assigned to.
//	@Tags			problems
//	@Security		ApiKeyAuth
//	@Accept			json
//	@Produce		json
//	@Param			code	path		string			true	"Project code"
//	@Param			page	query		int				false	"Page number (1-based)"
//	@Param			limit	query		int				false	"Page size (max 500)"
//	@Param			pattern	body		PatternRequest	true	"Pattern"
//	@Success		200		{object}	PaginationResponse
//	@Router			/projects/{code}/errors/matches [post]
func (a *API) findMatchingErrors(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	params := ParsePaginationParams(r, service.DefaultMatchLimit, service.MaxMatchLimit)
	var req PatternRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	pattern := req.toPattern()

	total, err := a.services.Problems.CountMatchingErrors(r.Context(), project.ID, pattern)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	matches, err := a.services.Problems.FindMatchingErrors(r.Context(), project.ID, pattern, params.CalculateOffset(), params.Limit)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, NewPaginationResponse(matches, total, params.Page, params.Limit), http.StatusOK)
}

// createProblem godoc
//
//	@Summary		Create a problem with its patterns
//	@Description	Every error currently matching one of the patterns is assigned to the new problem
//	@Tags			problems
//	@Security		ApiKeyAuth
//	@Accept			json
//	@Produce		json
//	@Param			code	path		string			true	"Project code"
//	@Param			problem	body		ProblemRequest	true	"Problem"
//	@Success		201		{object}	core.Problem
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/projects/{code}/problems [post]
func (a *API) createProblem(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	var req ProblemRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	problem := &core.Problem{
		Name:         req.Name,
		Comment:      req.Comment,
		Status:       core.ProblemStatus(req.Status),
		BlamedTeamID: req.BlamedTeamID,
	}
	if problem.Status == "" {
		problem.Status = core.ProblemOpen
	}
	for i := range req.Patterns {
		problem.Patterns = append(problem.Patterns, *req.Patterns[i].toPattern())
	}

	created, err := a.services.Problems.CreateProblemWithPatterns(r.Context(), project.ID, problem)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, created, http.StatusCreated)
}

// createPattern godoc
//
//	@Summary	Add a pattern to a problem
//	@Tags		problems
//	@Security	ApiKeyAuth
//	@Accept		json
//	@Produce	json
//	@Param		code	path		string			true	"Project code"
//	@Param		id		path		int				true	"Problem ID"
//	@Param		pattern	body		PatternRequest	true	"Pattern"
//	@Success	201		{object}	core.ProblemPattern
//	@Failure	400		{object}	ErrorResponse
//	@Failure	404		{object}	ErrorResponse
//	@Router		/projects/{code}/problems/{id}/patterns [post]
func (a *API) createPattern(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	problemID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	var req PatternRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	pattern, err := a.services.Problems.CreatePattern(r.Context(), project.ID, problemID, req.toPattern())
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, pattern, http.StatusCreated)
}

// deletePattern godoc
//
//	@Summary	Delete a pattern and the occurrences it created
//	@Tags		problems
//	@Security	ApiKeyAuth
//	@Param		code	path	string	true	"Project code"
//	@Param		id		path	int		true	"Pattern ID"
//	@Success	204
//	@Failure	404	{object}	ErrorResponse
//	@Router		/projects/{code}/problem-patterns/{id} [delete]
func (a *API) deletePattern(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	patternID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	if err := a.services.Problems.DeletePattern(r.Context(), project.ID, patternID); err != nil {
		a.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// assignPattern godoc
//
//	@Summary	Assign every error matching a pattern to its problem
//	@Tags		problems
//	@Security	ApiKeyAuth
//	@Produce	json
//	@Param		code	path		string	true	"Project code"
//	@Param		id		path		int		true	"Pattern ID"
//	@Success	200		{object}	AssignResponse
//	@Failure	404		{object}	ErrorResponse
//	@Router		/projects/{code}/problem-patterns/{id}/assign [post]
func (a *API) assignPattern(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	patternID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	n, err := a.services.Problems.AssignPattern(r.Context(), project.ID, patternID)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, AssignResponse{Occurrences: n}, http.StatusOK)
}
