package api

import (
	"fmt"
	"net/http"
	"testing"

	"ara/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func superAdminServer(t *testing.T) (*testServer, string) {
	t.Helper()
	ts := newTestServer(t, testConfig(t, "root"), nil)
	ts.project(t, "alpha")
	ts.seedUser(t, "root", core.ProfileSuperAdmin, nil)
	return ts, ts.login(t, "root")
}

func createFolder(t *testing.T, ts *testServer, token, name string, referenceID *int64, position string) core.Functionality {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/api/v1/projects/alpha/functionalities", token, CreateFunctionalityRequest{
		FunctionalityRequest: FunctionalityRequest{Type: core.FunctionalityTypeFolder, Name: name},
		ReferenceID:          referenceID,
		RelativePosition:     position,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[core.Functionality](t, rr)
}

func rootNames(t *testing.T, ts *testServer, token string) []string {
	t.Helper()
	rr := ts.do(t, http.MethodGet, "/api/v1/projects/alpha/functionalities", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var names []string
	for _, node := range decode[[]core.FunctionalityNode](t, rr) {
		names = append(names, node.Name)
	}
	return names
}

func TestFunctionalities_CreateAndMove(t *testing.T) {
	ts, token := superAdminServer(t)

	a := createFolder(t, ts, token, "A", nil, "")
	b := createFolder(t, ts, token, "B", nil, "LAST_CHILD")
	createFolder(t, ts, token, "Above B", &b.ID, "above")
	c := createFolder(t, ts, token, "C", nil, "")
	assert.Equal(t, []string{"A", "Above B", "B", "C"}, rootNames(t, ts, token))

	rr := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/projects/alpha/functionalities/%d/move", c.ID), token,
		MoveRequest{ReferenceID: &a.ID, RelativePosition: "ABOVE"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"C", "A", "Above B", "B"}, rootNames(t, ts, token))

	// Move A into B
	rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/projects/alpha/functionalities/%d/move", a.ID), token,
		MoveRequest{ReferenceID: &b.ID, RelativePosition: "LAST_CHILD"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	moved := decode[core.Functionality](t, rr)
	require.NotNil(t, moved.ParentID)
	assert.Equal(t, b.ID, *moved.ParentID)

	rr = ts.do(t, http.MethodGet, "/api/v1/projects/alpha/functionalities", token, nil)
	tree := decode[[]core.FunctionalityNode](t, rr)
	require.Len(t, tree, 3)
	require.Len(t, tree[2].Children, 1)
	assert.Equal(t, "A", tree[2].Children[0].Name)
}

func TestFunctionalities_MoveIntoItself(t *testing.T) {
	ts, token := superAdminServer(t)
	parent := createFolder(t, ts, token, "Parent", nil, "")
	child := createFolder(t, ts, token, "Child", &parent.ID, "LAST_CHILD")

	rr := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/projects/alpha/functionalities/%d/move", parent.ID), token,
		MoveRequest{ReferenceID: &child.ID, RelativePosition: "LAST_CHILD"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, core.KeyCannotMoveToItself, decode[ErrorResponse](t, rr).Key)
}

func TestFunctionalities_InvalidRequests(t *testing.T) {
	ts, token := superAdminServer(t)
	a := createFolder(t, ts, token, "A", nil, "")

	tests := []struct {
		name     string
		body     CreateFunctionalityRequest
		wantCode int
		wantKey  string
	}{
		{
			name:     "unknown position",
			body:     CreateFunctionalityRequest{FunctionalityRequest: FunctionalityRequest{Type: core.FunctionalityTypeFolder, Name: "X"}, ReferenceID: &a.ID, RelativePosition: "INSIDE"},
			wantCode: http.StatusBadRequest,
			wantKey:  core.KeyValidation,
		},
		{
			name:     "sibling position without reference",
			body:     CreateFunctionalityRequest{FunctionalityRequest: FunctionalityRequest{Type: core.FunctionalityTypeFolder, Name: "X"}, RelativePosition: "BELOW"},
			wantCode: http.StatusBadRequest,
			wantKey:  core.KeyNoReference,
		},
		{
			name:     "duplicate sibling name",
			body:     CreateFunctionalityRequest{FunctionalityRequest: FunctionalityRequest{Type: core.FunctionalityTypeFolder, Name: "A"}},
			wantCode: http.StatusConflict,
			wantKey:  "not_unique:name",
		},
		{
			name:     "functionality without team",
			body:     CreateFunctionalityRequest{FunctionalityRequest: FunctionalityRequest{Type: core.FunctionalityTypeFunctionality, Name: "Leaf", Severity: core.SeverityHigh, CountryCodes: "fr"}},
			wantCode: http.StatusBadRequest,
			wantKey:  core.KeyValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, "/api/v1/projects/alpha/functionalities", token, tt.body)
			require.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantKey, decode[ErrorResponse](t, rr).Key)
		})
	}

	rr := ts.do(t, http.MethodPost, "/api/v1/projects/alpha/functionalities", token, map[string]string{"type": "FOLDER"})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "name is required")
}

func TestFunctionalities_UpdateAndDelete(t *testing.T) {
	ts, token := superAdminServer(t)
	a := createFolder(t, ts, token, "A", nil, "")
	createFolder(t, ts, token, "Inside A", &a.ID, "LAST_CHILD")

	rr := ts.do(t, http.MethodPut, fmt.Sprintf("/api/v1/projects/alpha/functionalities/%d", a.ID), token,
		FunctionalityRequest{Type: core.FunctionalityTypeFunctionality, Name: "Renamed"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[core.Functionality](t, rr)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, core.FunctionalityTypeFolder, updated.Type, "the type is kept")
	assert.Equal(t, a.Order, updated.Order)

	rr = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/projects/alpha/functionalities/%d", a.ID), token, nil)
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	assert.Empty(t, rootNames(t, ts, token))

	rr = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/projects/alpha/functionalities/%d", a.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFunctionalities_MoveListAndDeleteList(t *testing.T) {
	ts, token := superAdminServer(t)
	a := createFolder(t, ts, token, "A", nil, "")
	b := createFolder(t, ts, token, "B", nil, "")
	c := createFolder(t, ts, token, "C", nil, "")
	d := createFolder(t, ts, token, "D", nil, "")

	// D and B go above A, keeping the listed order
	rr := ts.do(t, http.MethodPost, "/api/v1/projects/alpha/functionalities/move-list", token,
		MoveListRequest{IDs: []int64{d.ID, b.ID}, ReferenceID: &a.ID, RelativePosition: "ABOVE"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Len(t, decode[[]core.Functionality](t, rr), 2)
	assert.Equal(t, []string{"D", "B", "A", "C"}, rootNames(t, ts, token))

	rr = ts.do(t, http.MethodPost, "/api/v1/projects/alpha/functionalities/delete-list", token,
		DeleteListRequest{IDs: []int64{a.ID, c.ID}})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"D", "B"}, rootNames(t, ts, token))

	rr = ts.do(t, http.MethodPost, "/api/v1/projects/alpha/functionalities/delete-list", token, DeleteListRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
