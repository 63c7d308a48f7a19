package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ara/metrics"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the SQLite connection pools.
// Writes go through WriteDB (a single connection, as WAL allows one writer); reads use ReadDB.
type SQLite struct {
	DB      *sql.DB // same pool as WriteDB
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	Logger  *zap.SugaredLogger

	prevWriteWaitCount int64
	prevReadWaitCount  int64
}

// configureSQLiteConnection enables WAL and verifies the pragmas set by the DSN
func configureSQLiteConnection(db *sql.DB, logger *zap.SugaredLogger, dbPath string, poolType string) error {
	// journal_mode is persistent, so only the write pool sets it
	if poolType == "write" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	// Cascades depend on foreign keys, which the DSN enables
	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got: %d, expected: 1)", fkEnabled)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	// In-memory databases report "memory"
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s, expected: wal)", journalMode)
	}
	logger.Debugf("SQLite %s pool configured (journal mode: %s)", poolType, journalMode)

	return nil
}

// NewSQLite opens the database at dbPath, configures both pools and creates the schema
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	dir := filepath.Dir(dbPath)
	if dbPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	writeDB, err := sql.Open("sqlite", buildDSN(dbPath, false))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	if err := configureSQLiteConnection(writeDB, logger, dbPath, "write"); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	writeDB.SetConnMaxIdleTime(0)

	sqlite := &SQLite{
		DB:      writeDB,
		WriteDB: writeDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := sqlite.createTables(); err != nil {
		_ = sqlite.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := sqlite.RunMigrations(); err != nil {
		_ = sqlite.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// The read pool is opened once the schema exists; every connection in it is query_only
	readDB, err := sql.Open("sqlite", buildDSN(dbPath, true))
	if err != nil {
		_ = sqlite.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	sqlite.ReadDB = readDB
	if err := configureSQLiteConnection(readDB, logger, dbPath, "read"); err != nil {
		_ = sqlite.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	logger.Infof("SQLite database initialized at %s", dbPath)
	return sqlite, nil
}

// buildDSN applies the connection pragmas through the DSN so that every
// connection the pool opens gets them, not only the first one.
func buildDSN(dbPath string, readOnly bool) string {
	base := "file:" + dbPath + "?"
	if dbPath == ":memory:" {
		// Both pools must see the same in-memory database
		base = "file::memory:?cache=shared&"
	}
	dsn := base + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if readOnly {
		dsn += "&_pragma=query_only(1)"
	}
	return dsn
}

// WithTransaction runs fn in a transaction on the write pool.
// The transaction is rolled back if fn returns an error or panics.
func (s *SQLite) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.WriteDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL UNIQUE,
	default_at_startup INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS teams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	assign_problems INTEGER NOT NULL DEFAULT 1,
	assign_functionalities INTEGER NOT NULL DEFAULT 1,
	UNIQUE(project_id, name)
);

CREATE TABLE IF NOT EXISTS countries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	code TEXT NOT NULL,
	name TEXT NOT NULL,
	UNIQUE(project_id, code)
);

CREATE TABLE IF NOT EXISTS types (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	code TEXT NOT NULL,
	name TEXT NOT NULL,
	is_browser INTEGER NOT NULL DEFAULT 0,
	is_mobile INTEGER NOT NULL DEFAULT 0,
	UNIQUE(project_id, code)
);

CREATE TABLE IF NOT EXISTS functionalities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	parent_id INTEGER REFERENCES functionalities(id) ON DELETE CASCADE,
	display_order REAL NOT NULL,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	country_codes TEXT NOT NULL DEFAULT '',
	team_id INTEGER REFERENCES teams(id) ON DELETE SET NULL,
	severity TEXT NOT NULL DEFAULT '',
	created TEXT NOT NULL DEFAULT '',
	started INTEGER NOT NULL DEFAULT 0,
	not_automatable INTEGER NOT NULL DEFAULT 0,
	comment TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_functionalities_sibling_order
	ON functionalities(project_id, IFNULL(parent_id, 0), display_order);
CREATE INDEX IF NOT EXISTS idx_functionalities_parent ON functionalities(parent_id);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	login TEXT NOT NULL,
	provider_name TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	picture_url TEXT NOT NULL DEFAULT '',
	profile TEXT NOT NULL,
	default_project_code TEXT NOT NULL DEFAULT '',
	creation_date TEXT NOT NULL,
	update_date TEXT NOT NULL,
	UNIQUE(login, provider_name)
);

CREATE TABLE IF NOT EXISTS user_scopes (
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	PRIMARY KEY (user_id, project_id)
);
CREATE INDEX IF NOT EXISTS idx_user_scopes_project ON user_scopes(project_id);

CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	branch TEXT NOT NULL,
	name TEXT NOT NULL,
	release_name TEXT NOT NULL DEFAULT '',
	test_date_time TEXT NOT NULL,
	build_date_time TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_project ON executions(project_id);

CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id INTEGER NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
	country_code TEXT NOT NULL,
	type_code TEXT NOT NULL,
	platform TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_execution ON runs(execution_id);

CREATE TABLE IF NOT EXISTS executed_scenarios (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	feature_file TEXT NOT NULL,
	feature_name TEXT NOT NULL,
	name TEXT NOT NULL,
	line INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_executed_scenarios_run ON executed_scenarios(run_id);

CREATE TABLE IF NOT EXISTS errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	executed_scenario_id INTEGER NOT NULL REFERENCES executed_scenarios(id) ON DELETE CASCADE,
	step TEXT NOT NULL,
	step_definition TEXT NOT NULL,
	step_line INTEGER NOT NULL DEFAULT 0,
	exception TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_errors_scenario ON errors(executed_scenario_id);

CREATE TABLE IF NOT EXISTS problems (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	comment TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'OPEN',
	blamed_team_id INTEGER REFERENCES teams(id) ON DELETE SET NULL,
	creation_date_time TEXT NOT NULL,
	UNIQUE(project_id, name)
);

CREATE TABLE IF NOT EXISTS problem_patterns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	problem_id INTEGER NOT NULL REFERENCES problems(id) ON DELETE CASCADE,
	feature_file TEXT NOT NULL DEFAULT '',
	feature_name TEXT NOT NULL DEFAULT '',
	scenario_name TEXT NOT NULL DEFAULT '',
	scenario_name_starts_with INTEGER NOT NULL DEFAULT 0,
	step TEXT NOT NULL DEFAULT '',
	step_starts_with INTEGER NOT NULL DEFAULT 0,
	step_definition TEXT NOT NULL DEFAULT '',
	step_definition_starts_with INTEGER NOT NULL DEFAULT 0,
	exception TEXT NOT NULL DEFAULT '',
	release_name TEXT NOT NULL DEFAULT '',
	country_code TEXT NOT NULL DEFAULT '',
	type_code TEXT NOT NULL DEFAULT '',
	type_is_browser INTEGER,
	type_is_mobile INTEGER,
	platform TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_problem_patterns_problem ON problem_patterns(problem_id);

CREATE TABLE IF NOT EXISTS problem_occurrences (
	error_id INTEGER NOT NULL REFERENCES errors(id) ON DELETE CASCADE,
	problem_pattern_id INTEGER NOT NULL REFERENCES problem_patterns(id) ON DELETE CASCADE,
	PRIMARY KEY (error_id, problem_pattern_id)
);
`

// createTables creates all necessary tables
func (s *SQLite) createTables() error {
	if _, err := s.WriteDB.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes both connection pools
func (s *SQLite) Close() error {
	var writeErr, readErr error
	if s.WriteDB != nil {
		writeErr = s.WriteDB.Close()
	}
	if s.ReadDB != nil {
		readErr = s.ReadDB.Close()
	}
	if writeErr != nil {
		return fmt.Errorf("failed to close write pool: %w", writeErr)
	}
	if readErr != nil {
		return fmt.Errorf("failed to close read pool: %w", readErr)
	}
	return nil
}

// HealthCheck verifies the database connection is alive
func (s *SQLite) HealthCheck(ctx context.Context) error {
	return s.WriteDB.PingContext(ctx)
}

// StartMetricsCollection periodically publishes pool statistics until ctx is cancelled
func (s *SQLite) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	s.updatePoolMetrics()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.Logger.Info("SQLite metrics collection stopped")
				return
			case <-ticker.C:
				s.updatePoolMetrics()
			}
		}
	}()
}

func (s *SQLite) updatePoolMetrics() {
	s.updatePoolMetricsForType("write", s.WriteDB.Stats(), &s.prevWriteWaitCount)
	s.updatePoolMetricsForType("read", s.ReadDB.Stats(), &s.prevReadWaitCount)
}

func (s *SQLite) updatePoolMetricsForType(poolType string, stats sql.DBStats, prevWaitCount *int64) {
	metrics.SQLitePoolOpenConnections.WithLabelValues(poolType).Set(float64(stats.OpenConnections))
	metrics.SQLitePoolInUse.WithLabelValues(poolType).Set(float64(stats.InUse))
	metrics.SQLitePoolIdle.WithLabelValues(poolType).Set(float64(stats.Idle))

	// Counters only move forward, so publish the delta
	if delta := stats.WaitCount - *prevWaitCount; delta > 0 {
		metrics.SQLitePoolWaitCount.WithLabelValues(poolType).Add(float64(delta))
		*prevWaitCount = stats.WaitCount
	}
}

// validateDatabasePath rejects paths that could escape the working directory.
// Temp directories are accepted so tests can use t.TempDir().
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if dbPath == ":memory:" {
		return nil
	}
	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}
	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("null bytes not allowed in path")
	}
	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
	}

	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if strings.HasPrefix(absPath, os.TempDir()) {
		return nil
	}
	if filepath.IsAbs(dbPath) {
		return fmt.Errorf("absolute paths not allowed: %s", dbPath)
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	rel, err := filepath.Rel(wd, absPath)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}
	if strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path escapes working directory: %s resolves to %s", dbPath, absPath)
	}
	return nil
}

// Time values are stored as RFC 3339 text
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
