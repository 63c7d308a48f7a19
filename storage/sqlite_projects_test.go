package storage

import (
	"context"
	"testing"

	"ara/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSQLiteProjectStorage(t *testing.T) {
	sqlite := setupTestSQLite(t)
	storage := NewSQLiteProjectStorage(sqlite, zap.NewNop().Sugar())
	ctx := context.Background()

	beta := &core.Project{Code: "beta", Name: "Beta", DefaultAtStartup: true}
	alpha := &core.Project{Code: "alpha", Name: "Alpha"}
	require.NoError(t, storage.CreateProject(ctx, beta))
	require.NoError(t, storage.CreateProject(ctx, alpha))

	got, err := storage.GetProjectByCode(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, beta.ID, got.ID)
	assert.True(t, got.DefaultAtStartup)

	_, err = storage.GetProjectByCode(ctx, "gamma")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	err = storage.CreateProject(ctx, &core.Project{Code: "alpha", Name: "Another"})
	assert.ErrorIs(t, err, ErrConstraintViolation)

	// Only one default project
	alpha.DefaultAtStartup = true
	require.NoError(t, storage.UpdateProject(ctx, alpha))
	got, err = storage.GetProject(ctx, beta.ID)
	require.NoError(t, err)
	assert.False(t, got.DefaultAtStartup)

	list, err := storage.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Code)

	assert.ErrorIs(t, storage.UpdateProject(ctx, &core.Project{ID: 999, Name: "Nope"}), ErrProjectNotFound)
}

func TestSQLiteSettingsStorage(t *testing.T) {
	sqlite := setupTestSQLite(t)
	project := createTestProject(t, sqlite, "p")
	storage := NewSQLiteSettingsStorage(sqlite, zap.NewNop().Sugar())
	ctx := context.Background()

	team := &core.Team{ProjectID: project.ID, Name: "Checkout", AssignFunctionalities: true}
	require.NoError(t, storage.CreateTeam(ctx, team))
	got, err := storage.GetTeam(ctx, project.ID, team.ID)
	require.NoError(t, err)
	assert.True(t, got.AssignFunctionalities)
	assert.False(t, got.AssignProblems)
	_, err = storage.GetTeam(ctx, project.ID+1, team.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.CreateCountry(ctx, &core.Country{ProjectID: project.ID, Code: "us", Name: "USA"}))
	require.NoError(t, storage.CreateCountry(ctx, &core.Country{ProjectID: project.ID, Code: "fr", Name: "France"}))
	assert.ErrorIs(t, storage.CreateCountry(ctx, &core.Country{ProjectID: project.ID, Code: "fr", Name: "Dup"}), ErrConstraintViolation)
	countries, err := storage.ListCountries(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, countries, 2)
	assert.Equal(t, "fr", countries[0].Code)

	require.NoError(t, storage.CreateType(ctx, &core.Type{ProjectID: project.ID, Code: "ios", Name: "iOS", IsMobile: true}))
	types, err := storage.ListTypes(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.True(t, types[0].IsMobile)

	teams, err := storage.ListTeams(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, teams, 1)
}
