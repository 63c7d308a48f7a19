package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ara/api"
	"ara/config"
	"ara/core"
	"ara/service"
	"ara/util/goroutine"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// App represents the ARA application with all its components.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Sugar    *zap.SugaredLogger
	LogLevel zap.AtomicLevel

	Storage  *StorageComponents
	Redis    *core.RedisCache
	Services api.Services

	APIServer *api.API

	// Lifecycle
	serviceWg *sync.WaitGroup
	cancel    context.CancelFunc
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{serviceWg: &sync.WaitGroup{}}

	logger, level := InitLogger()
	app.Logger = logger
	app.Sugar = logger.Sugar()
	app.LogLevel = level
	sugar := app.Sugar

	sugar.Info("ARA starting...")

	cfg, err := InitConfig(level, sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	dirs := DataDirectoriesFromConfig(cfg)
	if err := EnsureDataDirectories(dirs, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	sqlite, err := InitSQLite(dirs, sugar)
	if err != nil {
		return nil, err
	}

	app.Storage, err = InitStorage(sqlite, sugar)
	if err != nil {
		_ = sqlite.Close()
		return nil, err
	}

	app.Redis, err = InitRedis(ctx, cfg, sugar)
	if err != nil {
		_ = sqlite.Close()
		return nil, err
	}

	setup, err := service.LoadProviderSetup(cfg.Auth.ProvidersFile)
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("failed to load provider setup: %w", err)
	}
	if cfg.Auth.ProvidersFile != "" {
		sugar.Infow("Provider setup loaded", "path", cfg.Auth.ProvidersFile, "providers", len(setup.Providers))
	}

	app.Services = NewServices(app.Storage, setup, cfg, sugar)

	firstRun, err := app.runFirstRunSetup(ctx)
	if err != nil {
		sugar.Errorf("First-run setup encountered errors: %v", err)
	} else if firstRun.IsFirstRun {
		sugar.Infow("First-run setup completed",
			"admin_login", firstRun.AdminLogin,
			"admin_generated", firstRun.AdminGenerated)
	}

	return app, nil
}

// NewServices wires the business services on the given storage.
func NewServices(stores *StorageComponents, setup *service.ProviderSetup, cfg *config.Config, sugar *zap.SugaredLogger) api.Services {
	projects := service.NewProjectService(stores.Projects, sugar)
	problems := service.NewProblemPatternService(stores.Problems, stores.Errors, sugar)

	return api.Services{
		Projects:        projects,
		Functionalities: service.NewFunctionalityService(stores.Functionalities, stores.Settings, sugar),
		Settings:        service.NewSettingsService(stores.Settings, sugar),
		Users:           service.NewUserScopeService(stores.Users, projects, setup, sugar),
		Problems:        problems,
		Executions:      service.NewExecutionService(stores.Executions, stores.Settings, problems, cfg.Problems.AutoAssignOnImport, sugar),
		Health:          stores.SQLite,
	}
}

// Start starts background collectors and the API server.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	interval := a.Config.Metrics.PoolInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	a.Storage.SQLite.StartMetricsCollection(ctx, interval)

	return a.startAPIServer()
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
	}

	a.Sugar.Info("Phase 2: Stopping background collectors...")
	if a.cancel != nil {
		a.cancel()
	}

	a.Sugar.Info("Phase 3: Waiting for service goroutines to complete...")
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped successfully")
	case <-time.After(10 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	a.Sugar.Info("Phase 4: Closing connections...")
	a.closeStores()

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}

func (a *App) closeStores() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Sugar.Errorw("Failed to close Redis connection", "error", err)
		}
	}
	if a.Storage != nil && a.Storage.SQLite != nil {
		if err := a.Storage.SQLite.Close(); err != nil {
			a.Sugar.Errorw("Failed to close SQLite", "error", err)
		}
	}
}

// startAPIServer creates the API server and serves it in the background.
func (a *App) startAPIServer() error {
	a.APIServer = api.NewAPI(a.Services, a.Config, a.Redis, a.Sugar)

	addr := fmt.Sprintf(":%d", a.Config.API.Port)
	goroutine.Go(a.serviceWg, "api-server", a.Sugar, func() {
		a.Sugar.Infof("API server started on %s", addr)

		var err error
		if a.Config.API.TLS {
			err = a.APIServer.StartTLS(addr, a.Config.API.CertFile, a.Config.API.KeyFile)
		} else {
			err = a.APIServer.Start(addr)
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorf("API server error: %v", err)
		}
	})

	return nil
}

// FirstRunResult contains information about first-run initialization.
type FirstRunResult struct {
	IsFirstRun     bool
	AdminLogin     string
	AdminGenerated bool
}

// runFirstRunSetup makes sure somebody can administer a fresh installation. With no
// local user persisted yet, the first configured local user becomes SUPER_ADMIN. When
// none is configured a one-time "admin" account is generated for this process.
func (a *App) runFirstRunSetup(ctx context.Context) (*FirstRunResult, error) {
	result := &FirstRunResult{}
	if !a.Config.Auth.Enabled {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	existing, err := a.Storage.Users.ListUsers(ctx, config.LocalProviderName)
	if err != nil {
		return result, fmt.Errorf("failed to count users: %w", err)
	}
	if len(existing) > 0 {
		return result, nil
	}
	result.IsFirstRun = true

	a.Sugar.Info("========================================")
	a.Sugar.Info("FIRST RUN DETECTED - Running initial setup")
	a.Sugar.Info("========================================")

	if len(a.Config.Auth.LocalUsers) == 0 {
		password, err := GenerateSecurePassword(24)
		if err != nil {
			return result, fmt.Errorf("failed to generate admin password: %w", err)
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), a.Config.Auth.BcryptCost)
		if err != nil {
			return result, fmt.Errorf("failed to hash admin password: %w", err)
		}
		a.Config.Auth.LocalUsers = append(a.Config.Auth.LocalUsers, config.LocalUser{
			Login:        "admin",
			PasswordHash: string(hashed),
		})
		result.AdminGenerated = true

		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "     DEFAULT ADMIN CREDENTIALS\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "  Login:    admin\n")
		fmt.Fprintf(os.Stderr, "  Password: %s\n", password)
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "  Valid until restart. Add the account\n")
		fmt.Fprintf(os.Stderr, "  to auth.local_users to keep it.\n")
		fmt.Fprintf(os.Stderr, "========================================\n\n")
	}

	first := a.Config.Auth.LocalUsers[0]
	admin := &core.User{
		Login:        first.Login,
		ProviderName: config.LocalProviderName,
		Email:        first.Email,
		FirstName:    first.FirstName,
		LastName:     first.LastName,
		Profile:      core.ProfileSuperAdmin,
	}
	if err := a.Storage.Users.SaveUser(ctx, admin); err != nil {
		return result, fmt.Errorf("failed to create admin user: %w", err)
	}
	result.AdminLogin = admin.Login

	a.Sugar.Info("First-run setup completed")
	return result, nil
}
