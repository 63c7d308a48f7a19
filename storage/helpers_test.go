package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ara/core"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func createTestProject(t *testing.T, sqlite *SQLite, code string) *core.Project {
	t.Helper()
	project := &core.Project{Code: code, Name: "Project " + code}
	require.NoError(t, NewSQLiteProjectStorage(sqlite, zap.NewNop().Sugar()).CreateProject(context.Background(), project))
	return project
}

// errorFixture imports two executions holding 19 errors into the project.
//
// Exceptions are "Exception 1" to "Exception 16", "Exception 18", "Exception 7 bis"
// and "Exception 7 ter", so exactly three contain "Exception 7". Errors 2 and 12 sit
// in "Scenario d". Runs on type "firefox" (a browser) hold 8 errors.
type errorFixture struct {
	project  *core.Project
	errorIDs []int64
	byName   map[string]int64
}

func setupErrorFixture(t *testing.T, sqlite *SQLite) *errorFixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop().Sugar()
	project := createTestProject(t, sqlite, "p")

	settings := NewSQLiteSettingsStorage(sqlite, logger)
	require.NoError(t, settings.CreateType(ctx, &core.Type{ProjectID: project.ID, Code: "firefox", Name: "Firefox", IsBrowser: true}))
	require.NoError(t, settings.CreateType(ctx, &core.Type{ProjectID: project.ID, Code: "api", Name: "API"}))
	require.NoError(t, settings.CreateType(ctx, &core.Type{ProjectID: project.ID, Code: "android", Name: "Android", IsMobile: true}))

	scenario := func(name string, exceptions ...string) core.ExecutedScenario {
		s := core.ExecutedScenario{FeatureFile: "f.feature", FeatureName: "Feature", Name: name, Line: 1}
		for i, exc := range exceptions {
			s.Errors = append(s.Errors, core.Error{
				Step:           fmt.Sprintf("step %d", i+1),
				StepDefinition: "^step (\\d+)$",
				StepLine:       i + 2,
				Exception:      exc,
			})
		}
		return s
	}
	exc := func(n int) string { return fmt.Sprintf("Exception %d", n) }

	executions := []*core.Execution{
		{
			ProjectID: project.ID, Branch: "develop", Name: "day", Release: "v1",
			TestDateTime: time.Now().Add(-time.Hour), BuildDateTime: time.Now().Add(-2 * time.Hour),
			Runs: []core.Run{
				{CountryCode: "fr", TypeCode: "firefox", Platform: "int", Scenarios: []core.ExecutedScenario{
					scenario("Scenario a", exc(1)),
					scenario("Scenario d", exc(2), exc(12)),
					scenario("Scenario b", exc(3), exc(4), exc(5), exc(6), exc(7)),
				}},
				{CountryCode: "us", TypeCode: "api", Platform: "int", Scenarios: []core.ExecutedScenario{
					scenario("Scenario c", exc(8), exc(9), exc(10), exc(11)),
				}},
			},
		},
		{
			ProjectID: project.ID, Branch: "develop", Name: "night", Release: "v2",
			TestDateTime: time.Now(), BuildDateTime: time.Now().Add(-time.Hour),
			Runs: []core.Run{
				{CountryCode: "fr", TypeCode: "android", Platform: "prod", Scenarios: []core.ExecutedScenario{
					scenario("Scenario e", exc(13), exc(14), exc(15), exc(16), exc(18)),
					scenario("Other f", "Exception 7 bis", "Exception 7 ter"),
				}},
			},
		},
	}

	fixture := &errorFixture{project: project, byName: make(map[string]int64)}
	executionStorage := NewSQLiteExecutionStorage(sqlite, logger)
	for _, x := range executions {
		ids, err := executionStorage.ImportExecution(ctx, x)
		require.NoError(t, err)
		fixture.errorIDs = append(fixture.errorIDs, ids...)
		for _, run := range x.Runs {
			for _, s := range run.Scenarios {
				for _, e := range s.Errors {
					fixture.byName[e.Exception] = e.ID
				}
			}
		}
	}
	require.Len(t, fixture.errorIDs, 19)
	return fixture
}

func boolPtr(b bool) *bool {
	return &b
}
