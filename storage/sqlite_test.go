package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ara/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestSQLite creates a test SQLite database
func setupTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sqlite, err := NewSQLite(dbPath, zap.NewNop().Sugar())
	require.NoError(t, err, "Failed to create SQLite database")
	require.NotNil(t, sqlite)
	t.Cleanup(func() { _ = sqlite.Close() })
	return sqlite
}

func TestNewSQLite_Success(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sqlite, err := NewSQLite(dbPath, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, dbPath, sqlite.Path)
	assert.Same(t, sqlite.DB, sqlite.WriteDB)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
	assert.NoError(t, sqlite.Close())
}

func TestNewSQLite_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	sqlite, err := NewSQLite(dbPath, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer sqlite.Close()

	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSQLite_HealthCheck(t *testing.T) {
	sqlite := setupTestSQLite(t)
	assert.NoError(t, sqlite.HealthCheck(context.Background()))

	require.NoError(t, sqlite.Close())
	assert.Error(t, sqlite.HealthCheck(context.Background()))
}

func TestSQLite_CreateTables(t *testing.T) {
	sqlite := setupTestSQLite(t)

	tables := []string{
		"projects", "teams", "countries", "types", "functionalities", "users", "user_scopes",
		"executions", "runs", "executed_scenarios", "errors", "problems", "problem_patterns",
		"problem_occurrences", "schema_migrations",
	}
	for _, table := range tables {
		var name string
		err := sqlite.ReadDB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}
}

func TestSQLite_Migrations(t *testing.T) {
	sqlite := setupTestSQLite(t)

	var count int
	require.NoError(t, sqlite.ReadDB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(schemaMigrations()), count)

	var indexName string
	err := sqlite.ReadDB.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_problems_status'").Scan(&indexName)
	assert.NoError(t, err)

	var columns int
	require.NoError(t, sqlite.ReadDB.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('problem_occurrences') WHERE name='assigned_at'").Scan(&columns))
	assert.Equal(t, 1, columns)
}

func TestSQLite_Migrations_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := zap.NewNop().Sugar()

	first, err := NewSQLite(dbPath, logger)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLite(dbPath, logger)
	require.NoError(t, err)
	defer second.Close()

	runner, err := NewMigrationRunner(second.WriteDB, logger)
	require.NoError(t, err)
	for _, m := range schemaMigrations() {
		runner.Register(m)
	}
	pending, err := runner.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	applied, err := runner.Applied()
	require.NoError(t, err)
	require.Len(t, applied, len(schemaMigrations()))
	assert.Equal(t, "1.0.0", applied[0].Version)
	assert.False(t, applied[0].AppliedAt.IsZero())
}

func TestMigrationRunner_PanicBecomesError(t *testing.T) {
	sqlite := setupTestSQLite(t)

	runner, err := NewMigrationRunner(sqlite.WriteDB, zap.NewNop().Sugar())
	require.NoError(t, err)
	runner.Register(Migration{
		Version: "9.0.0",
		Name:    "explode",
		Up:      func(*sql.Tx) error { panic("boom") },
	})

	err = runner.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	pending, err := runner.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSQLite_ReadPoolIsQueryOnly(t *testing.T) {
	sqlite := setupTestSQLite(t)

	_, err := sqlite.ReadDB.Exec("INSERT INTO projects (code, name) VALUES ('x', 'X')")
	assert.Error(t, err)
}

func TestSQLite_Transaction(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		err := sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
			_, err := tx.Exec("INSERT INTO projects (code, name) VALUES ('c1', 'Committed')")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, countRows(t, sqlite, "SELECT COUNT(*) FROM projects WHERE code = 'c1'"))
	})

	t.Run("rollback on error", func(t *testing.T) {
		sentinel := errors.New("abort")
		err := sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.Exec("INSERT INTO projects (code, name) VALUES ('c2', 'Rolled back')"); err != nil {
				return err
			}
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 0, countRows(t, sqlite, "SELECT COUNT(*) FROM projects WHERE code = 'c2'"))
	})

	t.Run("rollback on panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
				_, _ = tx.Exec("INSERT INTO projects (code, name) VALUES ('c3', 'Panicked')")
				panic("boom")
			})
		})
		assert.Equal(t, 0, countRows(t, sqlite, "SELECT COUNT(*) FROM projects WHERE code = 'c3'"))
	})
}

func TestSQLite_ForeignKeyCascade(t *testing.T) {
	sqlite := setupTestSQLite(t)
	ctx := context.Background()
	project := createTestProject(t, sqlite, "cascade")

	settings := NewSQLiteSettingsStorage(sqlite, zap.NewNop().Sugar())
	require.NoError(t, settings.CreateCountry(ctx, &core.Country{ProjectID: project.ID, Code: "fr", Name: "France"}))

	_, err := sqlite.WriteDB.Exec("DELETE FROM projects WHERE id = ?", project.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, countRows(t, sqlite, "SELECT COUNT(*) FROM countries"))
}

func TestSQLite_SiblingOrderIsUnique(t *testing.T) {
	sqlite := setupTestSQLite(t)
	project := createTestProject(t, sqlite, "uniq")

	insert := "INSERT INTO functionalities (project_id, parent_id, display_order, type, name, updated_at) VALUES (?, NULL, 10, 'FOLDER', ?, '')"
	_, err := sqlite.WriteDB.Exec(insert, project.ID, "a")
	require.NoError(t, err)
	_, err = sqlite.WriteDB.Exec(insert, project.ID, "b")
	require.Error(t, err)
	assert.True(t, isConstraintError(err))
}

func TestValidateDatabasePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"empty", "", true},
		{"memory", ":memory:", false},
		{"relative", "data/ara.db", false},
		{"dot dot", "../ara.db", true},
		{"nested dot dot", "data/../../ara.db", true},
		{"null byte", "data/ara\x00.db", true},
		{"absolute outside temp", "/etc/ara.db", true},
		{"temp dir", filepath.Join(os.TempDir(), "ara.db"), false},
		{"too long", string(make([]byte, 600)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDatabasePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, compareVersions("1.0.0", "1.1.0"))
	assert.Equal(t, 1, compareVersions("1.10.0", "1.9.0"))
	assert.Equal(t, 0, compareVersions("1.0", "1.0.0"))
}

func TestValidateSQLIdentifier(t *testing.T) {
	assert.NoError(t, validateSQLIdentifier("problem_occurrences"))
	assert.NoError(t, validateSQLIdentifier("_idx2"))
	assert.Error(t, validateSQLIdentifier(""))
	assert.Error(t, validateSQLIdentifier("2fast"))
	assert.Error(t, validateSQLIdentifier("users; DROP TABLE users"))
}

func countRows(t *testing.T, sqlite *SQLite, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, sqlite.ReadDB.QueryRow(query, args...).Scan(&n))
	return n
}
