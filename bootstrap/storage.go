package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"ara/config"
	"ara/core"
	"ara/storage"

	"go.uber.org/zap"
)

// StorageComponents holds all storage-related components.
type StorageComponents struct {
	SQLite          *storage.SQLite
	Projects        *storage.SQLiteProjectStorage
	Functionalities *storage.SQLiteFunctionalityStorage
	Settings        *storage.SQLiteSettingsStorage
	Users           *storage.SQLiteUserStorage
	Problems        *storage.SQLiteProblemStorage
	Errors          *storage.SQLiteErrorStorage
	Executions      *storage.SQLiteExecutionStorage
}

// InitSQLite opens the database and applies migrations.
func InitSQLite(dirs DataDirectories, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(dirs.SQLite, sugar)
	if err != nil {
		errMsg := ClassifySQLiteError(err, dirs.SQLite)
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: SQLite Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	sugar.Info("SQLite initialized successfully")
	return sqlite, nil
}

// InitStorage builds every SQLite-backed storage on one connection pair.
func InitStorage(sqlite *storage.SQLite, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	if sqlite == nil {
		return nil, fmt.Errorf("SQLite is required for storage")
	}

	problems := storage.NewSQLiteProblemStorage(sqlite, sugar)
	components := &StorageComponents{
		SQLite:          sqlite,
		Projects:        storage.NewSQLiteProjectStorage(sqlite, sugar),
		Functionalities: storage.NewSQLiteFunctionalityStorage(sqlite, sugar),
		Settings:        storage.NewSQLiteSettingsStorage(sqlite, sugar),
		Users:           storage.NewSQLiteUserStorage(sqlite, sugar),
		Problems:        problems,
		Errors:          storage.NewSQLiteErrorStorage(sqlite, problems, sugar),
		Executions:      storage.NewSQLiteExecutionStorage(sqlite, sugar),
	}

	sugar.Info("Storage initialized successfully")
	return components, nil
}

// InitRedis connects to Redis with retries. It returns nil when Redis is disabled.
func InitRedis(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*core.RedisCache, error) {
	if !cfg.Redis.Enabled {
		sugar.Info("Redis disabled, token revocation and rate limits stay in process memory")
		return nil, nil
	}

	const maxRetries = 3
	retryDelays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

	cache := core.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, sugar)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			sugar.Infow("Retrying Redis connection",
				"attempt", attempt,
				"max_retries", maxRetries,
				"delay", retryDelays[attempt-1])
			select {
			case <-ctx.Done():
				_ = cache.Close()
				return nil, ctx.Err()
			case <-time.After(retryDelays[attempt-1]):
			}
		}

		pingCtx, cancel := context.WithTimeout(ctx, core.DBHealthTimeout)
		lastErr = cache.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			sugar.Infow("Connected to Redis successfully", "addr", cfg.Redis.Addr)
			return cache, nil
		}

		sugar.Warnw("Redis connection attempt failed",
			"attempt", attempt+1,
			"error", lastErr)
	}

	_ = cache.Close()
	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "FATAL: Redis Connection Failed\n")
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "%s\n", ClassifyRedisError(lastErr, cfg.Redis.Addr))
	fmt.Fprintf(os.Stderr, "========================================\n\n")
	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries+1, lastErr)
}
