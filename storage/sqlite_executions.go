package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ara/core"

	"go.uber.org/zap"
)

// SQLiteExecutionStorage persists imported executions with their runs, scenarios and errors
type SQLiteExecutionStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

func NewSQLiteExecutionStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteExecutionStorage {
	return &SQLiteExecutionStorage{sqlite: sqlite, logger: logger}
}

// ImportExecution stores the whole execution tree in one transaction, filling in
// every generated ID, and returns the IDs of the new errors.
func (es *SQLiteExecutionStorage) ImportExecution(ctx context.Context, execution *core.Execution) ([]int64, error) {
	errorIDs := make([]int64, 0)
	err := es.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO executions (project_id, branch, name, release_name, test_date_time, build_date_time)
			VALUES (?, ?, ?, ?, ?, ?)`,
			execution.ProjectID, execution.Branch, execution.Name, execution.Release,
			formatTime(execution.TestDateTime), formatTime(execution.BuildDateTime))
		if err != nil {
			return fmt.Errorf("failed to insert execution: %w", err)
		}
		if execution.ID, err = res.LastInsertId(); err != nil {
			return err
		}

		for i := range execution.Runs {
			run := &execution.Runs[i]
			run.ExecutionID = execution.ID
			res, err := tx.ExecContext(ctx,
				`INSERT INTO runs (execution_id, country_code, type_code, platform) VALUES (?, ?, ?, ?)`,
				run.ExecutionID, run.CountryCode, run.TypeCode, run.Platform)
			if err != nil {
				return fmt.Errorf("failed to insert run: %w", err)
			}
			if run.ID, err = res.LastInsertId(); err != nil {
				return err
			}

			for j := range run.Scenarios {
				scenario := &run.Scenarios[j]
				scenario.RunID = run.ID
				res, err := tx.ExecContext(ctx, `
					INSERT INTO executed_scenarios (run_id, feature_file, feature_name, name, line)
					VALUES (?, ?, ?, ?, ?)`,
					scenario.RunID, scenario.FeatureFile, scenario.FeatureName, scenario.Name, scenario.Line)
				if err != nil {
					return fmt.Errorf("failed to insert executed scenario: %w", err)
				}
				if scenario.ID, err = res.LastInsertId(); err != nil {
					return err
				}

				for k := range scenario.Errors {
					e := &scenario.Errors[k]
					e.ExecutedScenarioID = scenario.ID
					res, err := tx.ExecContext(ctx, `
						INSERT INTO errors (executed_scenario_id, step, step_definition, step_line, exception)
						VALUES (?, ?, ?, ?, ?)`,
						e.ExecutedScenarioID, e.Step, e.StepDefinition, e.StepLine, e.Exception)
					if err != nil {
						return fmt.Errorf("failed to insert error: %w", err)
					}
					if e.ID, err = res.LastInsertId(); err != nil {
						return err
					}
					errorIDs = append(errorIDs, e.ID)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	es.logger.Debugf("Imported execution %d with %d errors", execution.ID, len(errorIDs))
	return errorIDs, nil
}

// ListExecutions returns the executions of the project, most recent test first, without their runs
func (es *SQLiteExecutionStorage) ListExecutions(ctx context.Context, projectID int64, limit int) ([]core.Execution, error) {
	rows, err := es.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, project_id, branch, name, release_name, test_date_time, build_date_time
		FROM executions WHERE project_id = ?
		ORDER BY test_date_time DESC, id DESC
		LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	executions := make([]core.Execution, 0)
	for rows.Next() {
		var x core.Execution
		var tested, built string
		if err := rows.Scan(&x.ID, &x.ProjectID, &x.Branch, &x.Name, &x.Release, &tested, &built); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		x.TestDateTime = parseTime(tested)
		x.BuildDateTime = parseTime(built)
		executions = append(executions, x)
	}
	return executions, rows.Err()
}
