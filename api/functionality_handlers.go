package api

import (
	"net/http"

	"ara/core"
	"ara/ordering"
)

// FunctionalityRequest holds the editable fields of a tree node
type FunctionalityRequest struct {
	Type           core.FunctionalityType     `json:"type" validate:"omitempty,oneof=FOLDER FUNCTIONALITY"`
	Name           string                     `json:"name" validate:"required,max=512"`
	CountryCodes   string                     `json:"country_codes" validate:"max=128"`
	TeamID         *int64                     `json:"team_id"`
	Severity       core.FunctionalitySeverity `json:"severity" validate:"omitempty,oneof=HIGH MEDIUM LOW"`
	Created        string                     `json:"created" validate:"max=10"`
	Started        bool                       `json:"started"`
	NotAutomatable bool                       `json:"not_automatable"`
	Comment        string                     `json:"comment" validate:"max=4096"`
}

func (req *FunctionalityRequest) toFunctionality() *core.Functionality {
	return &core.Functionality{
		Type:           req.Type,
		Name:           req.Name,
		CountryCodes:   req.CountryCodes,
		TeamID:         req.TeamID,
		Severity:       req.Severity,
		Created:        req.Created,
		Started:        req.Started,
		NotAutomatable: req.NotAutomatable,
		Comment:        req.Comment,
	}
}

// CreateFunctionalityRequest inserts a node relative to a reference node.
// Without a reference the node is appended to the root.
type CreateFunctionalityRequest struct {
	FunctionalityRequest
	ReferenceID      *int64 `json:"reference_id"`
	RelativePosition string `json:"relative_position" validate:"omitempty,max=20"`
}

// MoveRequest moves one node
type MoveRequest struct {
	ReferenceID      *int64 `json:"reference_id"`
	RelativePosition string `json:"relative_position" validate:"omitempty,max=20"`
}

// MoveListRequest moves several nodes, keeping the listed order
type MoveListRequest struct {
	IDs              []int64 `json:"ids" validate:"required,min=1,max=1000,dive,gt=0"`
	ReferenceID      *int64  `json:"reference_id"`
	RelativePosition string  `json:"relative_position" validate:"omitempty,max=20"`
}

// DeleteListRequest deletes several nodes and their descendants
type DeleteListRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,max=1000,dive,gt=0"`
}

// parsePosition writes a 400 response for an unknown position
func (a *API) parsePosition(w http.ResponseWriter, raw string) (ordering.Position, bool) {
	position, ok := ordering.ParsePosition(raw)
	if !ok {
		a.writeAppError(w, core.NewBadRequest(core.ResourceFunctionality, core.KeyValidation,
			"relative_position must be ABOVE, BELOW or LAST_CHILD"))
	}
	return position, ok
}

// getFunctionalityTree godoc
//
//	@Summary		Get the functionality tree
//	@Description	Returns the root nodes, each with its children sorted by order
//	@Tags			functionalities
//	@Security		ApiKeyAuth
//	@Produce		json
//	@Param			code	path	string	true	"Project code"
//	@Success		200		{array}	core.FunctionalityNode
//	@Router			/projects/{code}/functionalities [get]
func (a *API) getFunctionalityTree(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	tree, err := a.services.Functionalities.GetTree(r.Context(), project.ID)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, tree, http.StatusOK)
}

// createFunctionality godoc
//
//	@Summary	Create a folder or functionality
//	@Tags		functionalities
//	@Security	ApiKeyAuth
//	@Accept		json
//	@Produce	json
//	@Param		code			path		string						true	"Project code"
//	@Param		functionality	body		CreateFunctionalityRequest	true	"Node and placement"
//	@Success	201				{object}	core.Functionality
//	@Failure	400				{object}	ErrorResponse
//	@Failure	404				{object}	ErrorResponse
//	@Failure	409				{object}	ErrorResponse
//	@Router		/projects/{code}/functionalities [post]
func (a *API) createFunctionality(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	var req CreateFunctionalityRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	position, ok := a.parsePosition(w, req.RelativePosition)
	if !ok {
		return
	}

	created, err := a.services.Functionalities.Create(r.Context(), project.ID, req.toFunctionality(), req.ReferenceID, position)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, created, http.StatusCreated)
}

// updateFunctionality godoc
//
//	@Summary		Update a folder or functionality
//	@Description	Parent, order and type are kept
//	@Tags			functionalities
//	@Security		ApiKeyAuth
//	@Accept			json
//	@Produce		json
//	@Param			code			path		string					true	"Project code"
//	@Param			id				path		int						true	"Functionality ID"
//	@Param			functionality	body		FunctionalityRequest	true	"Node"
//	@Success		200				{object}	core.Functionality
//	@Failure		400				{object}	ErrorResponse
//	@Failure		404				{object}	ErrorResponse
//	@Router			/projects/{code}/functionalities/{id} [put]
func (a *API) updateFunctionality(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	var req FunctionalityRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	f := req.toFunctionality()
	f.ID = id
	updated, err := a.services.Functionalities.Update(r.Context(), project.ID, f)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, updated, http.StatusOK)
}

// deleteFunctionality godoc
//
//	@Summary	Delete a node and its descendants
//	@Tags		functionalities
//	@Security	ApiKeyAuth
//	@Param		code	path	string	true	"Project code"
//	@Param		id		path	int		true	"Functionality ID"
//	@Success	204
//	@Failure	404	{object}	ErrorResponse
//	@Router		/projects/{code}/functionalities/{id} [delete]
func (a *API) deleteFunctionality(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	if err := a.services.Functionalities.Delete(r.Context(), project.ID, id); err != nil {
		a.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// moveFunctionality godoc
//
//	@Summary	Move a node
//	@Tags		functionalities
//	@Security	ApiKeyAuth
//	@Accept		json
//	@Produce	json
//	@Param		code	path		string		true	"Project code"
//	@Param		id		path		int			true	"Functionality ID"
//	@Param		move	body		MoveRequest	true	"Placement"
//	@Success	200		{object}	core.Functionality
//	@Failure	400		{object}	ErrorResponse
//	@Failure	404		{object}	ErrorResponse
//	@Router		/projects/{code}/functionalities/{id}/move [post]
func (a *API) moveFunctionality(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	var req MoveRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	position, ok := a.parsePosition(w, req.RelativePosition)
	if !ok {
		return
	}

	moved, err := a.services.Functionalities.Move(r.Context(), project.ID, id, req.ReferenceID, position)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, moved, http.StatusOK)
}

// moveFunctionalities godoc
//
//	@Summary	Move several nodes
//	@Tags		functionalities
//	@Security	ApiKeyAuth
//	@Accept		json
//	@Produce	json
//	@Param		code	path	string			true	"Project code"
//	@Param		move	body	MoveListRequest	true	"Nodes and placement"
//	@Success	200		{array}	core.Functionality
//	@Failure	400		{object}	ErrorResponse
//	@Router		/projects/{code}/functionalities/move-list [post]
func (a *API) moveFunctionalities(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	var req MoveListRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	position, ok := a.parsePosition(w, req.RelativePosition)
	if !ok {
		return
	}

	moved, err := a.services.Functionalities.MoveList(r.Context(), project.ID, req.IDs, req.ReferenceID, position)
	if err != nil {
		a.writeAppError(w, err)
		return
	}
	a.respondJSON(w, moved, http.StatusOK)
}

// deleteFunctionalities godoc
//
//	@Summary	Delete several nodes and their descendants
//	@Tags		functionalities
//	@Security	ApiKeyAuth
//	@Accept		json
//	@Param		code	path	string				true	"Project code"
//	@Param		ids		body	DeleteListRequest	true	"Nodes"
//	@Success	204
//	@Failure	404	{object}	ErrorResponse
//	@Router		/projects/{code}/functionalities/delete-list [post]
func (a *API) deleteFunctionalities(w http.ResponseWriter, r *http.Request) {
	project, _ := GetProject(r.Context())
	var req DeleteListRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	if err := a.services.Functionalities.DeleteList(r.Context(), project.ID, req.IDs); err != nil {
		a.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
