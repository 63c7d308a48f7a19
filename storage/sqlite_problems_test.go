package storage

import (
	"context"
	"testing"

	"ara/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSQLiteProblemStorage_CreateAndGet(t *testing.T) {
	sqlite := setupTestSQLite(t)
	project := createTestProject(t, sqlite, "p")
	storage := NewSQLiteProblemStorage(sqlite, zap.NewNop().Sugar())
	ctx := context.Background()

	problem := &core.Problem{
		ProjectID: project.ID,
		Name:      "Login broken",
		Patterns: []core.ProblemPattern{
			{ScenarioName: "Login", ScenarioNameStartsWith: true, TypeIsBrowser: boolPtr(false)},
			{Exception: "Timeout"},
		},
	}
	require.NoError(t, storage.CreateProblem(ctx, problem))
	assert.NotZero(t, problem.ID)
	assert.Equal(t, core.ProblemOpen, problem.Status)

	got, err := storage.GetProblem(ctx, project.ID, problem.ID)
	require.NoError(t, err)
	assert.Equal(t, "Login broken", got.Name)
	require.Len(t, got.Patterns, 2)
	assert.True(t, got.Patterns[0].ScenarioNameStartsWith)
	require.NotNil(t, got.Patterns[0].TypeIsBrowser)
	assert.False(t, *got.Patterns[0].TypeIsBrowser)
	assert.Nil(t, got.Patterns[0].TypeIsMobile)
	assert.Equal(t, "Timeout", got.Patterns[1].Exception)

	_, err = storage.GetProblem(ctx, project.ID+1, problem.ID)
	assert.ErrorIs(t, err, ErrProblemNotFound)
}

func TestSQLiteProblemStorage_DuplicateName(t *testing.T) {
	sqlite := setupTestSQLite(t)
	project := createTestProject(t, sqlite, "p")
	storage := NewSQLiteProblemStorage(sqlite, zap.NewNop().Sugar())
	ctx := context.Background()

	require.NoError(t, storage.CreateProblem(ctx, &core.Problem{ProjectID: project.ID, Name: "Same"}))
	err := storage.CreateProblem(ctx, &core.Problem{ProjectID: project.ID, Name: "Same"})
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func TestSQLiteProblemStorage_Patterns(t *testing.T) {
	sqlite := setupTestSQLite(t)
	project := createTestProject(t, sqlite, "p")
	other := createTestProject(t, sqlite, "o")
	storage := NewSQLiteProblemStorage(sqlite, zap.NewNop().Sugar())
	ctx := context.Background()

	problem := &core.Problem{ProjectID: project.ID, Name: "P"}
	require.NoError(t, storage.CreateProblem(ctx, problem))

	pattern := &core.ProblemPattern{ProblemID: problem.ID, Release: "v1"}
	require.NoError(t, storage.CreatePattern(ctx, project.ID, pattern))
	assert.ErrorIs(t, storage.CreatePattern(ctx, other.ID, &core.ProblemPattern{ProblemID: problem.ID}), ErrProblemNotFound)

	got, err := storage.GetPattern(ctx, project.ID, pattern.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Release)
	_, err = storage.GetPattern(ctx, other.ID, pattern.ID)
	assert.ErrorIs(t, err, ErrPatternNotFound)

	list, err := storage.ListPatterns(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, storage.DeletePattern(ctx, other.ID, pattern.ID), ErrPatternNotFound)
	require.NoError(t, storage.DeletePattern(ctx, project.ID, pattern.ID))
	list, err = storage.ListPatterns(ctx, project.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLiteProblemStorage_Occurrences(t *testing.T) {
	sqlite := setupTestSQLite(t)
	fixture := setupErrorFixture(t, sqlite)
	storage := NewSQLiteProblemStorage(sqlite, zap.NewNop().Sugar())
	ctx := context.Background()

	first := &core.Problem{ProjectID: fixture.project.ID, Name: "First", Patterns: []core.ProblemPattern{{Exception: "1"}, {Exception: "2"}}}
	second := &core.Problem{ProjectID: fixture.project.ID, Name: "Second", Patterns: []core.ProblemPattern{{Exception: "12"}}}
	require.NoError(t, storage.CreateProblem(ctx, first))
	require.NoError(t, storage.CreateProblem(ctx, second))

	e12 := fixture.byName["Exception 12"]
	e3 := fixture.byName["Exception 3"]

	n, err := storage.InsertOccurrences(ctx, first.Patterns[0].ID, []int64{e12})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = storage.InsertOccurrences(ctx, first.Patterns[1].ID, []int64{e12})
	require.NoError(t, err)
	_, err = storage.InsertOccurrences(ctx, second.Patterns[0].ID, []int64{e12})
	require.NoError(t, err)

	// Already linked
	n, err = storage.InsertOccurrences(ctx, first.Patterns[0].ID, []int64{e12})
	require.NoError(t, err)
	assert.Zero(t, n)

	problems, err := storage.ErrorsProblems(ctx, []int64{e12, e3})
	require.NoError(t, err)
	require.Len(t, problems[e12], 2, "problems are distinct even when several patterns match")
	assert.Equal(t, "First", problems[e12][0].Name)
	assert.Equal(t, "Second", problems[e12][1].Name)
	assert.NotContains(t, problems, e3)

	empty, err := storage.ErrorsProblems(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
