package service

import (
	"context"
	"testing"

	"ara/core"
	"ara/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type problemFixture struct {
	env        *testEnv
	project    *core.Project
	patterns   *ProblemPatternServiceImpl
	executions *ExecutionServiceImpl
}

func newProblemFixture(t *testing.T, autoAssign bool) *problemFixture {
	t.Helper()
	env := newTestEnv(t)
	ctx := context.Background()
	project := env.project(t, "p")

	require.NoError(t, env.settings.CreateCountry(ctx, &core.Country{ProjectID: project.ID, Code: "fr", Name: "France"}))
	require.NoError(t, env.settings.CreateCountry(ctx, &core.Country{ProjectID: project.ID, Code: "us", Name: "USA"}))
	require.NoError(t, env.settings.CreateType(ctx, &core.Type{ProjectID: project.ID, Code: "firefox", Name: "Firefox", IsBrowser: true}))
	require.NoError(t, env.settings.CreateType(ctx, &core.Type{ProjectID: project.ID, Code: "api", Name: "API"}))

	problems := storage.NewSQLiteProblemStorage(env.sqlite, env.logger)
	patterns := NewProblemPatternService(problems, storage.NewSQLiteErrorStorage(env.sqlite, problems, env.logger), env.logger)
	executions := NewExecutionService(storage.NewSQLiteExecutionStorage(env.sqlite, env.logger), env.settings, patterns, autoAssign, env.logger)
	return &problemFixture{env: env, project: project, patterns: patterns, executions: executions}
}

func testExecution(name string, exceptions map[string][]string) *core.Execution {
	execution := &core.Execution{Branch: "develop", Name: name, Release: "v1"}
	for _, key := range []string{"fr/firefox", "us/api"} {
		list, ok := exceptions[key]
		if !ok {
			continue
		}
		run := core.Run{CountryCode: key[:2], TypeCode: key[3:], Platform: "int"}
		scenario := core.ExecutedScenario{FeatureFile: "cart.feature", FeatureName: "Cart", Name: "Checkout", Line: 3}
		for i, exc := range list {
			scenario.Errors = append(scenario.Errors, core.Error{Step: "I pay", StepDefinition: "^I pay$", StepLine: 4 + i, Exception: exc})
		}
		run.Scenarios = []core.ExecutedScenario{scenario}
		execution.Runs = append(execution.Runs, run)
	}
	return execution
}

func (f *problemFixture) importDay(t *testing.T) *ImportResult {
	t.Helper()
	result, err := f.executions.Import(context.Background(), f.project.ID, testExecution("day", map[string][]string{
		"fr/firefox": {"NullPointerException at checkout", "Timeout waiting for #pay"},
		"us/api":     {"HTTP 504 Timeout"},
	}))
	require.NoError(t, err)
	return result
}

func TestProblemPatternService_CreateProblemAssignsExistingErrors(t *testing.T) {
	f := newProblemFixture(t, true)
	ctx := context.Background()
	f.importDay(t)

	problem, err := f.patterns.CreateProblemWithPatterns(ctx, f.project.ID, &core.Problem{
		Name:     " Timeouts ",
		Patterns: []core.ProblemPattern{{Exception: "Timeout"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Timeouts", problem.Name)
	assert.Equal(t, core.ProblemOpen, problem.Status)
	require.Len(t, problem.Patterns, 1)
	assert.NotZero(t, problem.Patterns[0].ID)

	count, err := f.patterns.CountMatchingErrors(ctx, f.project.ID, &core.ProblemPattern{Exception: "Timeout"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	matched, err := f.patterns.FindMatchingErrors(ctx, f.project.ID, &core.ProblemPattern{Exception: "Timeout"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, matched, 2)
	for _, m := range matched {
		require.Len(t, m.Problems, 1)
		assert.Equal(t, "Timeouts", m.Problems[0].Name)
	}

	all, err := f.patterns.FindMatchingErrors(ctx, f.project.ID, nil, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.NotNil(t, all[0].Problems)
	assert.Empty(t, all[0].Problems)

	// Re-assigning creates no duplicate occurrence
	n, err := f.patterns.AssignPattern(ctx, f.project.ID, problem.Patterns[0].ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProblemPatternService_ImportAssignsOnlyNewErrors(t *testing.T) {
	f := newProblemFixture(t, true)
	ctx := context.Background()
	f.importDay(t)

	_, err := f.patterns.CreateProblemWithPatterns(ctx, f.project.ID, &core.Problem{
		Name:     "Firefox timeouts",
		Patterns: []core.ProblemPattern{{Exception: "Timeout", TypeIsBrowser: boolPtr(true)}},
	})
	require.NoError(t, err)

	result, err := f.executions.Import(ctx, f.project.ID, testExecution("night", map[string][]string{
		"fr/firefox": {"Timeout again", "Element not found"},
		"us/api":     {"Timeout on api"},
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, result.ErrorCount)
	assert.Equal(t, 1, result.Occurrences)
	assert.NotZero(t, result.Execution.ID)

	newIDs := make([]int64, 0)
	for _, run := range result.Execution.Runs {
		for _, s := range run.Scenarios {
			for _, e := range s.Errors {
				newIDs = append(newIDs, e.ID)
			}
		}
	}
	problems, err := f.patterns.ErrorsProblems(ctx, newIDs)
	require.NoError(t, err)
	require.Len(t, problems, 3)
	assert.Len(t, problems[newIDs[0]], 1)
	assert.Empty(t, problems[newIDs[1]])
	assert.NotNil(t, problems[newIDs[2]])
}

func TestProblemPatternService_ImportWithoutAutoAssign(t *testing.T) {
	f := newProblemFixture(t, false)
	ctx := context.Background()
	_, err := f.patterns.CreateProblemWithPatterns(ctx, f.project.ID, &core.Problem{
		Name:     "Timeouts",
		Patterns: []core.ProblemPattern{{Exception: "Timeout"}},
	})
	require.NoError(t, err)

	result := f.importDay(t)
	assert.Zero(t, result.Occurrences)

	n, err := f.patterns.AutoAssignProblemsToNewErrors(ctx, f.project.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProblemPatternService_PatternLifecycle(t *testing.T) {
	f := newProblemFixture(t, true)
	ctx := context.Background()
	f.importDay(t)

	problem, err := f.patterns.CreateProblemWithPatterns(ctx, f.project.ID, &core.Problem{
		Name:     "API",
		Patterns: []core.ProblemPattern{{TypeCode: "api"}},
	})
	require.NoError(t, err)

	pattern, err := f.patterns.CreatePattern(ctx, f.project.ID, problem.ID, &core.ProblemPattern{Exception: "NullPointer"})
	require.NoError(t, err)
	assert.Equal(t, problem.ID, pattern.ProblemID)

	matched, err := f.patterns.FindMatchingErrors(ctx, f.project.ID, &core.ProblemPattern{Exception: "NullPointer"}, 0, 5)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	require.Len(t, matched[0].Problems, 1)
	assert.Equal(t, "API", matched[0].Problems[0].Name)

	require.NoError(t, f.patterns.DeletePattern(ctx, f.project.ID, pattern.ID))
	matched, err = f.patterns.FindMatchingErrors(ctx, f.project.ID, &core.ProblemPattern{Exception: "NullPointer"}, 0, 5)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Empty(t, matched[0].Problems)

	err = f.patterns.DeletePattern(ctx, f.project.ID, pattern.ID)
	requireAppError(t, err, core.KindNotFound, "")

	_, err = f.patterns.AssignPattern(ctx, f.project.ID, pattern.ID)
	requireAppError(t, err, core.KindNotFound, "")

	_, err = f.patterns.CreatePattern(ctx, f.project.ID, 999, &core.ProblemPattern{Exception: "x"})
	requireAppError(t, err, core.KindNotFound, "")
}

func TestProblemPatternService_Validation(t *testing.T) {
	f := newProblemFixture(t, true)
	ctx := context.Background()

	tests := []struct {
		name    string
		problem *core.Problem
		kind    core.ErrorKind
		key     string
	}{
		{"no name", &core.Problem{Patterns: []core.ProblemPattern{{Exception: "x"}}}, core.KindBadRequest, core.KeyValidation},
		{"no pattern", &core.Problem{Name: "A"}, core.KindBadRequest, core.KeyPatternEmpty},
		{"empty pattern", &core.Problem{Name: "A", Patterns: []core.ProblemPattern{{Exception: "x"}, {Step: "  "}}}, core.KindBadRequest, core.KeyPatternEmpty},
		{"bad status", &core.Problem{Name: "A", Status: "PENDING", Patterns: []core.ProblemPattern{{Exception: "x"}}}, core.KindBadRequest, core.KeyValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.patterns.CreateProblemWithPatterns(ctx, f.project.ID, tt.problem)
			requireAppError(t, err, tt.kind, tt.key)
		})
	}

	_, err := f.patterns.CreateProblemWithPatterns(ctx, f.project.ID, &core.Problem{Name: "A", Patterns: []core.ProblemPattern{{Exception: "x"}}})
	require.NoError(t, err)
	_, err = f.patterns.CreateProblemWithPatterns(ctx, f.project.ID, &core.Problem{Name: "A", Patterns: []core.ProblemPattern{{Exception: "y"}}})
	requireAppError(t, err, core.KindNotUnique, "not_unique:name")

	_, err = f.patterns.CreatePattern(ctx, f.project.ID, 1, &core.ProblemPattern{TypeIsMobile: nil})
	requireAppError(t, err, core.KindBadRequest, core.KeyPatternEmpty)
}

// MockErrorMatcher mocks ErrorMatcher
type MockErrorMatcher struct {
	mock.Mock
}

func (m *MockErrorMatcher) CountMatchingErrors(ctx context.Context, projectID int64, pattern *core.ProblemPattern) (int64, error) {
	args := m.Called(ctx, projectID, pattern)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockErrorMatcher) FindMatchingErrors(ctx context.Context, projectID int64, pattern *core.ProblemPattern, offset, limit int) ([]core.MatchedError, error) {
	args := m.Called(ctx, projectID, pattern, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]core.MatchedError), args.Error(1)
}

func (m *MockErrorMatcher) MatchingErrorIDs(ctx context.Context, projectID int64, pattern *core.ProblemPattern, candidates []int64) ([]int64, error) {
	args := m.Called(ctx, projectID, pattern, candidates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func TestProblemPatternService_FindMatchingErrorsBoundsPage(t *testing.T) {
	env := newTestEnv(t)
	matcher := new(MockErrorMatcher)
	svc := NewProblemPatternService(storage.NewSQLiteProblemStorage(env.sqlite, env.logger), matcher, zap.NewNop().Sugar())
	ctx := context.Background()

	matcher.On("FindMatchingErrors", ctx, int64(1), mock.Anything, 0, DefaultMatchLimit).Return([]core.MatchedError{}, nil).Once()
	matcher.On("FindMatchingErrors", ctx, int64(1), mock.Anything, 20, MaxMatchLimit).Return([]core.MatchedError{}, nil).Once()

	_, err := svc.FindMatchingErrors(ctx, 1, nil, -3, 0)
	require.NoError(t, err)
	_, err = svc.FindMatchingErrors(ctx, 1, &core.ProblemPattern{Exception: "x"}, 20, 100000)
	require.NoError(t, err)
	matcher.AssertExpectations(t)
}

func TestNewProblemPatternService_PanicsOnNilDependencies(t *testing.T) {
	assert.Panics(t, func() { NewProblemPatternService(nil, new(MockErrorMatcher), zap.NewNop().Sugar()) })
}

func boolPtr(b bool) *bool {
	return &b
}
