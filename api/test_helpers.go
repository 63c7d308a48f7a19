package api

// Shared test helpers: a fully wired API on a throwaway SQLite database

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"ara/config"
	"ara/core"
	"ara/service"
	"ara/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testJWTSecret = "0123456789abcdef0123456789abcdef-ara-tests"
	testPassword  = "correct horse battery staple"
)

// testServer is an API wired on real services and storage
type testServer struct {
	api      *API
	config   *config.Config
	sqlite   *storage.SQLite
	users    *storage.SQLiteUserStorage
	projects *service.ProjectServiceImpl
	settings *service.SettingsServiceImpl
}

// testConfig returns an auth-enabled configuration accepting testPassword for every login in logins
func testConfig(t *testing.T, logins ...string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.API.Port = 8080
	cfg.API.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = testJWTSecret
	cfg.Auth.JWTExpiry = 15 * time.Minute
	cfg.Auth.Issuer = "ara-test"
	cfg.Auth.BcryptCost = bcrypt.MinCost

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	for _, login := range logins {
		cfg.Auth.LocalUsers = append(cfg.Auth.LocalUsers, config.LocalUser{
			Login:        login,
			PasswordHash: string(hash),
			Email:        login + "@example.com",
		})
	}
	return cfg
}

// newTestServer wires every service on a fresh database. redis may be nil.
func newTestServer(t *testing.T, cfg *config.Config, redis *core.RedisCache) *testServer {
	t.Helper()
	logger := zap.NewNop().Sugar()

	sqlite, err := storage.NewSQLite(filepath.Join(t.TempDir(), "ara.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	userStorage := storage.NewSQLiteUserStorage(sqlite, logger)
	settingsStorage := storage.NewSQLiteSettingsStorage(sqlite, logger)
	problemStorage := storage.NewSQLiteProblemStorage(sqlite, logger)
	errorStorage := storage.NewSQLiteErrorStorage(sqlite, problemStorage, logger)

	projects := service.NewProjectService(storage.NewSQLiteProjectStorage(sqlite, logger), logger)
	settings := service.NewSettingsService(settingsStorage, logger)
	problems := service.NewProblemPatternService(problemStorage, errorStorage, logger)

	services := Services{
		Projects:        projects,
		Functionalities: service.NewFunctionalityService(storage.NewSQLiteFunctionalityStorage(sqlite, logger), settingsStorage, logger),
		Settings:        settings,
		Users:           service.NewUserScopeService(userStorage, projects, nil, logger),
		Problems:        problems,
		Executions:      service.NewExecutionService(storage.NewSQLiteExecutionStorage(sqlite, logger), settingsStorage, problems, true, logger),
		Health:          sqlite,
	}

	a := NewAPI(services, cfg, redis, logger)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	return &testServer{
		api:      a,
		config:   cfg,
		sqlite:   sqlite,
		users:    userStorage,
		projects: projects,
		settings: settings,
	}
}

// project creates a project directly through the service
func (ts *testServer) project(t *testing.T, code string) *core.Project {
	t.Helper()
	project, err := ts.projects.Create(context.Background(), &core.Project{Code: code, Name: "Project " + code})
	require.NoError(t, err)
	return project
}

// seedUser stores a local user with a profile and scopes before its first login
func (ts *testServer) seedUser(t *testing.T, login string, profile core.UserProfile, scopes map[*core.Project]core.ScopeRole) {
	t.Helper()
	user := &core.User{Login: login, ProviderName: config.LocalProviderName, Profile: profile}
	for project, role := range scopes {
		user.Scopes = append(user.Scopes, core.ScopeAssignment{
			ProjectID:   project.ID,
			ProjectCode: project.Code,
			Role:        role,
		})
	}
	require.NoError(t, ts.users.SaveUser(context.Background(), user))
}

// login authenticates through the API and returns the issued token
func (ts *testServer) login(t *testing.T, login string) string {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Login: login, Password: testPassword})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var session SessionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &session))
	require.NotEmpty(t, session.Token)
	return session.Token
}

// do sends a request with an optional bearer token and JSON body
func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:41000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	ts.api.Handler().ServeHTTP(rr, req)
	return rr
}

// decode unmarshals a response body
func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}
