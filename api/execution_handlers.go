package api

import (
	"context"
	"net/http"
	"strconv"

	"ara/core"
)

// importExecution godoc
//
//	@Summary		Import a test execution
//	@Description	Stores the execution with its runs, scenarios and errors. When enabled, the problem patterns of the project are matched against the new errors.
//	@Tags			executions
//	@Security		ApiKeyAuth
//	@Accept			json
//	@Produce		json
//	@Param			code		path		string			true	"Project code"
//	@Param			execution	body		core.Execution	true	"Execution"
//	@Success		201			{object}	service.ImportResult
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		413			{object}	ErrorResponse
//	@Router			/projects/{code}/executions [post]
func (a *API) importExecution(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	var execution core.Execution
	if err := a.decodeJSONBodyWithLimit(w, r, &execution, maxImportBodySize); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), core.ImportTimeout)
	defer cancel()

	result, err := a.services.Executions.Import(ctx, project.ID, &execution)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, result, http.StatusCreated)
}

// listExecutions godoc
//
//	@Summary	List the latest executions
//	@Tags		executions
//	@Security	ApiKeyAuth
//	@Produce	json
//	@Param		code	path	string	true	"Project code"
//	@Param		limit	query	int		false	"Maximum number of executions (default 20, max 100)"
//	@Success	200		{array}	core.Execution
//	@Router		/projects/{code}/executions [get]
func (a *API) listExecutions(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	executions, err := a.services.Executions.List(r.Context(), project.ID, limit)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, executions, http.StatusOK)
}
