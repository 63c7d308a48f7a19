package service

import (
	"context"
	"path/filepath"
	"testing"

	"ara/core"
	"ara/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testEnv wires services on a throwaway SQLite database
type testEnv struct {
	sqlite          *storage.SQLite
	projects        *ProjectServiceImpl
	users           *storage.SQLiteUserStorage
	settings        *storage.SQLiteSettingsStorage
	functionalities *FunctionalityServiceImpl
	logger          *zap.SugaredLogger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop().Sugar()
	sqlite, err := storage.NewSQLite(filepath.Join(t.TempDir(), "ara.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	settings := storage.NewSQLiteSettingsStorage(sqlite, logger)
	return &testEnv{
		sqlite:          sqlite,
		projects:        NewProjectService(storage.NewSQLiteProjectStorage(sqlite, logger), logger),
		users:           storage.NewSQLiteUserStorage(sqlite, logger),
		settings:        settings,
		functionalities: NewFunctionalityService(storage.NewSQLiteFunctionalityStorage(sqlite, logger), settings, logger),
		logger:          logger,
	}
}

func (e *testEnv) project(t *testing.T, code string) *core.Project {
	t.Helper()
	project, err := e.projects.Create(context.Background(), &core.Project{Code: code, Name: "Project " + code})
	require.NoError(t, err)
	return project
}

func (e *testEnv) user(t *testing.T, user *core.User) *core.User {
	t.Helper()
	require.NoError(t, e.users.SaveUser(context.Background(), user))
	return user
}

func requireAppError(t *testing.T, err error, kind core.ErrorKind, key string) {
	t.Helper()
	require.Error(t, err)
	require.True(t, core.IsKind(err, kind), "expected %s error, got %v", kind, err)
	if key != "" {
		require.Equal(t, key, core.KeyOf(err))
	}
}
