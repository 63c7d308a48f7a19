// Package api ARA API
//
//	@title			ARA API
//	@version		1.0
//	@description	API for managing ARA projects: the functionality tree, user scopes, test executions and problem patterns
//	@termsOfService	http://swagger.io/terms/
//
// @license.name	MIT
// @license.url	https://opensource.org/licenses/MIT
//
// @host		localhost:8080
// @BasePath	/api/v1
// @securityDefinitions.apikey	ApiKeyAuth
// @in							header
// @name						Authorization
// @description				Enter "Bearer " followed by the token returned by /auth/login
package api

import (
	"context"
	"net/http"
	"time"

	"ara/authz"
	"ara/config"
	"ara/core"
	"ara/ordering"
	"ara/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

// ProjectService manages projects
type ProjectService interface {
	Create(ctx context.Context, project *core.Project) (*core.Project, error)
	Update(ctx context.Context, code, name string, defaultAtStartup bool) (*core.Project, error)
	FindByCode(ctx context.Context, code string) (*core.Project, error)
}

// FunctionalityService maintains the ordered functionality tree of a project
type FunctionalityService interface {
	GetTree(ctx context.Context, projectID int64) ([]*core.FunctionalityNode, error)
	Create(ctx context.Context, projectID int64, f *core.Functionality, referenceID *int64, position ordering.Position) (*core.Functionality, error)
	Update(ctx context.Context, projectID int64, f *core.Functionality) (*core.Functionality, error)
	Move(ctx context.Context, projectID, id int64, referenceID *int64, position ordering.Position) (*core.Functionality, error)
	MoveList(ctx context.Context, projectID int64, ids []int64, referenceID *int64, position ordering.Position) ([]*core.Functionality, error)
	Delete(ctx context.Context, projectID, id int64) error
	DeleteList(ctx context.Context, projectID int64, ids []int64) error
}

// SettingsService manages the teams, countries and types of a project
type SettingsService interface {
	CreateTeam(ctx context.Context, projectID int64, team *core.Team) (*core.Team, error)
	ListTeams(ctx context.Context, projectID int64) ([]core.Team, error)
	CreateCountry(ctx context.Context, projectID int64, country *core.Country) (*core.Country, error)
	ListCountries(ctx context.Context, projectID int64) ([]core.Country, error)
	CreateType(ctx context.Context, projectID int64, t *core.Type) (*core.Type, error)
	ListTypes(ctx context.Context, projectID int64) ([]core.Type, error)
}

// UserScopeService manages user accounts, their scopes and the authorities derived from them
type UserScopeService interface {
	ManageUserAtLogin(ctx context.Context, identity service.LoginIdentity, providerName string) (authz.Principal, error)
	ResolvePrincipal(ctx context.Context, login, providerName string) (authz.Principal, error)
	UpdateScope(ctx context.Context, principal *authz.Principal, projectCode string, role core.ScopeRole) (authz.Principal, error)
	RemoveScope(ctx context.Context, principal *authz.Principal, projectCode string) (authz.Principal, error)
	GetCurrentUser(ctx context.Context, principal *authz.Principal) (*core.User, error)
	UpdateUserProfile(ctx context.Context, principal *authz.Principal, login string, profile core.UserProfile) (*core.User, error)
	UpdateDefaultProject(ctx context.Context, principal *authz.Principal, projectCode string) (*core.User, error)
	ListUsers(ctx context.Context, principal *authz.Principal) ([]core.User, error)
	ListScopedUsers(ctx context.Context, principal *authz.Principal, role core.ScopeRole, projectCode string) ([]core.User, error)
	CurrentUserProjects(ctx context.Context, principal *authz.Principal) ([]core.Project, error)
	UpdateUserScope(ctx context.Context, principal *authz.Principal, login, projectCode string, role core.ScopeRole) (*core.User, error)
	RemoveUserScope(ctx context.Context, principal *authz.Principal, login, projectCode string) (*core.User, error)
}

// ProblemPatternService matches errors against problem patterns
type ProblemPatternService interface {
	CountMatchingErrors(ctx context.Context, projectID int64, pattern *core.ProblemPattern) (int64, error)
	FindMatchingErrors(ctx context.Context, projectID int64, pattern *core.ProblemPattern, offset, limit int) ([]core.MatchedError, error)
	CreateProblemWithPatterns(ctx context.Context, projectID int64, problem *core.Problem) (*core.Problem, error)
	CreatePattern(ctx context.Context, projectID, problemID int64, pattern *core.ProblemPattern) (*core.ProblemPattern, error)
	DeletePattern(ctx context.Context, projectID, patternID int64) error
	AssignPattern(ctx context.Context, projectID, patternID int64) (int, error)
}

// ExecutionService imports and lists test executions
type ExecutionService interface {
	Import(ctx context.Context, projectID int64, execution *core.Execution) (*service.ImportResult, error)
	List(ctx context.Context, projectID int64, limit int) ([]core.Execution, error)
}

// HealthChecker reports whether the storage backend is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Services groups the dependencies of the API
type Services struct {
	Projects        ProjectService
	Functionalities FunctionalityService
	Settings        SettingsService
	Users           UserScopeService
	Problems        ProblemPatternService
	Executions      ExecutionService
	Health          HealthChecker
}

// API holds the API server
type API struct {
	router      *mux.Router
	server      *http.Server
	services    Services
	config      *config.Config
	logger      *zap.SugaredLogger
	revocation  TokenRevoker
	rateLimiter *MultiTierRateLimiter
	stopCh      chan struct{}
}

// NewAPI creates a new API server. redis may be nil, in which case token revocation and
// rate limiting are kept in process memory.
func NewAPI(services Services, cfg *config.Config, redis *core.RedisCache, logger *zap.SugaredLogger) *API {
	a := &API{
		router:   mux.NewRouter(),
		services: services,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	if redis != nil {
		a.revocation = NewRedisTokenRevoker(redis, logger)
	} else {
		a.revocation = NewMemoryTokenRevoker(defaultRevocationCapacity, cfg.Auth.JWTExpiry)
	}

	if cfg.RateLimit.Enabled {
		a.rateLimiter = NewMultiTierRateLimiter(
			&RateLimiterConfig{Limit: cfg.RateLimit.LoginPerMinute, Window: time.Minute, Burst: cfg.RateLimit.LoginPerMinute},
			&RateLimiterConfig{Limit: cfg.RateLimit.RequestsPerMinute, Window: time.Minute, Burst: cfg.RateLimit.Burst},
			redis, logger)
	}

	a.setupRoutes()
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.metricsMiddleware)
	a.router.Use(a.errorRecoveryMiddleware)
	a.router.Use(a.securityHeadersMiddleware)
	a.router.Use(a.corsMiddleware)

	// Preflight requests are answered by corsMiddleware
	a.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
	if a.config.API.Swagger {
		a.router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)
	}

	v1 := a.router.PathPrefix("/api/v1").Subrouter()

	// Unauthenticated
	v1.Handle("/auth/login", a.loginRateLimitMiddleware(http.HandlerFunc(a.login))).Methods("POST")

	protected := v1.NewRoute().Subrouter()
	protected.Use(a.jwtAuthMiddleware)
	protected.Use(a.apiRateLimitMiddleware)

	protected.HandleFunc("/auth/logout", a.logout).Methods("POST")

	// Current user
	protected.HandleFunc("/user/me", a.getCurrentUser).Methods("GET")
	protected.HandleFunc("/user/me/default-project", a.updateDefaultProject).Methods("PUT")
	protected.HandleFunc("/user/me/scopes/{code}", a.updateOwnScope).Methods("PUT")
	protected.HandleFunc("/user/me/scopes/{code}", a.removeOwnScope).Methods("DELETE")
	protected.HandleFunc("/user/me/projects", a.getCurrentUserProjects).Methods("GET")

	// Other users
	protected.HandleFunc("/users", a.listUsers).Methods("GET")
	protected.HandleFunc("/users/scoped", a.listScopedUsers).Methods("GET")
	protected.HandleFunc("/users/{login}/profile", a.updateUserProfile).Methods("PUT")
	protected.HandleFunc("/users/{login}/scopes/{code}", a.updateUserScope).Methods("PUT")
	protected.HandleFunc("/users/{login}/scopes/{code}", a.removeUserScope).Methods("DELETE")

	// Projects
	protected.HandleFunc("/projects", a.createProject).Methods("POST")
	protected.HandleFunc("/projects", a.getCurrentUserProjects).Methods("GET")
	protected.Handle("/projects/{code}", a.readProject(a.getProject)).Methods("GET")
	protected.Handle("/projects/{code}", a.adminProject(a.updateProject)).Methods("PUT")

	// Reference data
	protected.Handle("/projects/{code}/teams", a.readProject(a.listTeams)).Methods("GET")
	protected.Handle("/projects/{code}/teams", a.adminProject(a.createTeam)).Methods("POST")
	protected.Handle("/projects/{code}/countries", a.readProject(a.listCountries)).Methods("GET")
	protected.Handle("/projects/{code}/countries", a.adminProject(a.createCountry)).Methods("POST")
	protected.Handle("/projects/{code}/types", a.readProject(a.listTypes)).Methods("GET")
	protected.Handle("/projects/{code}/types", a.adminProject(a.createType)).Methods("POST")

	// Functionality tree
	protected.Handle("/projects/{code}/functionalities", a.readProject(a.getFunctionalityTree)).Methods("GET")
	protected.Handle("/projects/{code}/functionalities", a.writeProject(a.createFunctionality)).Methods("POST")
	protected.Handle("/projects/{code}/functionalities/move-list", a.writeProject(a.moveFunctionalities)).Methods("POST")
	protected.Handle("/projects/{code}/functionalities/delete-list", a.writeProject(a.deleteFunctionalities)).Methods("POST")
	protected.Handle("/projects/{code}/functionalities/{id:[0-9]+}/move", a.writeProject(a.moveFunctionality)).Methods("POST")
	protected.Handle("/projects/{code}/functionalities/{id:[0-9]+}", a.writeProject(a.updateFunctionality)).Methods("PUT")
	protected.Handle("/projects/{code}/functionalities/{id:[0-9]+}", a.writeProject(a.deleteFunctionality)).Methods("DELETE")

	// Executions
	protected.Handle("/projects/{code}/executions", a.readProject(a.listExecutions)).Methods("GET")
	protected.Handle("/projects/{code}/executions", a.writeProject(a.importExecution)).Methods("POST")

	// Errors and problems
	protected.Handle("/projects/{code}/errors/matches/count", a.readProject(a.countMatchingErrors)).Methods("POST")
	protected.Handle("/projects/{code}/errors/matches", a.readProject(a.findMatchingErrors)).Methods("POST")
	protected.Handle("/projects/{code}/problems", a.writeProject(a.createProblem)).Methods("POST")
	protected.Handle("/projects/{code}/problems/{id:[0-9]+}/patterns", a.writeProject(a.createPattern)).Methods("POST")
	protected.Handle("/projects/{code}/problem-patterns/{id:[0-9]+}", a.writeProject(a.deletePattern)).Methods("DELETE")
	protected.Handle("/projects/{code}/problem-patterns/{id:[0-9]+}/assign", a.writeProject(a.assignPattern)).Methods("POST")
}

// Handler exposes the router, mostly for tests
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server
func (a *API) Start(addr string) error {
	a.server = a.newServer(addr)
	return a.server.ListenAndServe()
}

// StartTLS starts the API server with TLS
func (a *API) StartTLS(addr, certFile, keyFile string) error {
	a.server = a.newServer(addr)
	return a.server.ListenAndServeTLS(certFile, keyFile)
}

func (a *API) newServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadTimeout:       a.config.API.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.config.API.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.rateLimiter != nil {
		a.rateLimiter.Close()
	}
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// healthCheck godoc
//
//	@Summary		Health check
//	@Description	Reports whether the API and its database are up
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	map[string]string
//	@Failure		503	{object}	map[string]string
//	@Router			/health [get]
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	if a.services.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), core.DBHealthTimeout)
		defer cancel()
		if err := a.services.Health.HealthCheck(ctx); err != nil {
			a.logger.Errorw("Health check failed", "error", err)
			a.respondJSON(w, map[string]string{"status": "unhealthy"}, http.StatusServiceUnavailable)
			return
		}
	}
	a.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
