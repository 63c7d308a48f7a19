package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ara/core"

	"go.uber.org/zap"
)

// SQLiteProblemStorage persists problems, their patterns and the occurrences
// linking patterns to errors.
type SQLiteProblemStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

func NewSQLiteProblemStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteProblemStorage {
	return &SQLiteProblemStorage{sqlite: sqlite, logger: logger}
}

const patternColumns = `pp.id, pp.problem_id, pp.feature_file, pp.feature_name, pp.scenario_name, pp.scenario_name_starts_with,
	pp.step, pp.step_starts_with, pp.step_definition, pp.step_definition_starts_with, pp.exception, pp.release_name,
	pp.country_code, pp.type_code, pp.type_is_browser, pp.type_is_mobile, pp.platform`

const problemColumns = `p.id, p.project_id, p.name, p.comment, p.status, p.blamed_team_id, p.creation_date_time`

// CreateProblem inserts the problem and its patterns in one transaction
func (ps *SQLiteProblemStorage) CreateProblem(ctx context.Context, problem *core.Problem) error {
	if problem.Status == "" {
		problem.Status = core.ProblemOpen
	}
	if problem.CreationDateTime.IsZero() {
		problem.CreationDateTime = time.Now().UTC()
	}
	return ps.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO problems (project_id, name, comment, status, blamed_team_id, creation_date_time)
			VALUES (?, ?, ?, ?, ?, ?)`,
			problem.ProjectID, problem.Name, problem.Comment, string(problem.Status),
			idArg(problem.BlamedTeamID), formatTime(problem.CreationDateTime))
		if err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("problem %q: %w", problem.Name, ErrConstraintViolation)
			}
			return fmt.Errorf("failed to create problem: %w", err)
		}
		if problem.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		for i := range problem.Patterns {
			problem.Patterns[i].ProblemID = problem.ID
			if err := insertPattern(ctx, tx, &problem.Patterns[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetProblem returns the problem with its patterns
func (ps *SQLiteProblemStorage) GetProblem(ctx context.Context, projectID, id int64) (*core.Problem, error) {
	row := ps.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT `+problemColumns+` FROM problems p WHERE p.project_id = ? AND p.id = ?`, projectID, id)
	problem, err := scanProblem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProblemNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := ps.sqlite.ReadDB.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM problem_patterns pp WHERE pp.problem_id = ? ORDER BY pp.id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}
	defer rows.Close()
	if problem.Patterns, err = scanPatterns(rows); err != nil {
		return nil, err
	}
	return problem, nil
}

// CreatePattern adds a pattern to an existing problem of the project
func (ps *SQLiteProblemStorage) CreatePattern(ctx context.Context, projectID int64, pattern *core.ProblemPattern) error {
	return ps.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM problems WHERE project_id = ? AND id = ?`, projectID, pattern.ProblemID).Scan(&n); err != nil {
			return fmt.Errorf("failed to check problem: %w", err)
		}
		if n == 0 {
			return ErrProblemNotFound
		}
		return insertPattern(ctx, tx, pattern)
	})
}

// GetPattern returns ErrPatternNotFound unless the pattern belongs to a problem of the project
func (ps *SQLiteProblemStorage) GetPattern(ctx context.Context, projectID, patternID int64) (*core.ProblemPattern, error) {
	rows, err := ps.sqlite.ReadDB.QueryContext(ctx, `
		SELECT `+patternColumns+` FROM problem_patterns pp
		JOIN problems p ON p.id = pp.problem_id
		WHERE p.project_id = ? AND pp.id = ?`, projectID, patternID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	defer rows.Close()
	patterns, err := scanPatterns(rows)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, ErrPatternNotFound
	}
	return &patterns[0], nil
}

// ListPatterns returns every pattern of every problem of the project
func (ps *SQLiteProblemStorage) ListPatterns(ctx context.Context, projectID int64) ([]core.ProblemPattern, error) {
	rows, err := ps.sqlite.ReadDB.QueryContext(ctx, `
		SELECT `+patternColumns+` FROM problem_patterns pp
		JOIN problems p ON p.id = pp.problem_id
		WHERE p.project_id = ?
		ORDER BY pp.id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()
	return scanPatterns(rows)
}

// DeletePattern removes the pattern and, by cascade, its occurrences
func (ps *SQLiteProblemStorage) DeletePattern(ctx context.Context, projectID, patternID int64) error {
	res, err := ps.sqlite.WriteDB.ExecContext(ctx, `
		DELETE FROM problem_patterns
		WHERE id = ? AND problem_id IN (SELECT id FROM problems WHERE project_id = ?)`, patternID, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete pattern: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPatternNotFound
	}
	return nil
}

// InsertOccurrences links the errors to the pattern and returns how many links are new
func (ps *SQLiteProblemStorage) InsertOccurrences(ctx context.Context, patternID int64, errorIDs []int64) (int, error) {
	if len(errorIDs) == 0 {
		return 0, nil
	}
	inserted := 0
	now := formatTime(time.Now())
	err := ps.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO problem_occurrences (error_id, problem_pattern_id, assigned_at) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare occurrence insert: %w", err)
		}
		defer stmt.Close()

		for _, errorID := range errorIDs {
			res, err := stmt.ExecContext(ctx, errorID, patternID, now)
			if err != nil {
				return fmt.Errorf("failed to insert occurrence: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	return inserted, err
}

// ErrorsProblems returns, for each given error, the distinct problems whose patterns it occurs in.
// Errors without problems are absent from the map.
func (ps *SQLiteProblemStorage) ErrorsProblems(ctx context.Context, errorIDs []int64) (map[int64][]core.Problem, error) {
	result := make(map[int64][]core.Problem)
	if len(errorIDs) == 0 {
		return result, nil
	}

	args := make([]any, len(errorIDs))
	for i, id := range errorIDs {
		args[i] = id
	}
	rows, err := ps.sqlite.ReadDB.QueryContext(ctx, `
		SELECT DISTINCT o.error_id, `+problemColumns+`
		FROM problem_occurrences o
		JOIN problem_patterns pp ON pp.id = o.problem_pattern_id
		JOIN problems p ON p.id = pp.problem_id
		WHERE o.error_id IN (`+placeholders(len(errorIDs))+`)
		ORDER BY o.error_id, p.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load error problems: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var errorID int64
		var p core.Problem
		var status, created string
		var blamed sql.NullInt64
		if err := rows.Scan(&errorID, &p.ID, &p.ProjectID, &p.Name, &p.Comment, &status, &blamed, &created); err != nil {
			return nil, fmt.Errorf("failed to scan error problem: %w", err)
		}
		p.Status = core.ProblemStatus(status)
		p.BlamedTeamID = nullableID(blamed)
		p.CreationDateTime = parseTime(created)
		result[errorID] = append(result[errorID], p)
	}
	return result, rows.Err()
}

func insertPattern(ctx context.Context, tx *sql.Tx, p *core.ProblemPattern) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO problem_patterns (problem_id, feature_file, feature_name, scenario_name, scenario_name_starts_with,
			step, step_starts_with, step_definition, step_definition_starts_with, exception, release_name,
			country_code, type_code, type_is_browser, type_is_mobile, platform)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProblemID, p.FeatureFile, p.FeatureName, p.ScenarioName, boolToInt(p.ScenarioNameStartsWith),
		p.Step, boolToInt(p.StepStartsWith), p.StepDefinition, boolToInt(p.StepDefinitionStartsWith),
		p.Exception, p.Release, p.CountryCode, p.TypeCode, boolPtrArg(p.TypeIsBrowser), boolPtrArg(p.TypeIsMobile),
		p.Platform)
	if err != nil {
		return fmt.Errorf("failed to insert pattern: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

func scanProblem(row rowScanner) (*core.Problem, error) {
	var p core.Problem
	var status, created string
	var blamed sql.NullInt64
	if err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Comment, &status, &blamed, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan problem: %w", err)
	}
	p.Status = core.ProblemStatus(status)
	p.BlamedTeamID = nullableID(blamed)
	p.CreationDateTime = parseTime(created)
	return &p, nil
}

func scanPatterns(rows *sql.Rows) ([]core.ProblemPattern, error) {
	patterns := make([]core.ProblemPattern, 0)
	for rows.Next() {
		var p core.ProblemPattern
		var scenarioStarts, stepStarts, stepDefStarts int
		var browser, mobile sql.NullInt64
		if err := rows.Scan(&p.ID, &p.ProblemID, &p.FeatureFile, &p.FeatureName, &p.ScenarioName, &scenarioStarts,
			&p.Step, &stepStarts, &p.StepDefinition, &stepDefStarts, &p.Exception, &p.Release,
			&p.CountryCode, &p.TypeCode, &browser, &mobile, &p.Platform); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		p.ScenarioNameStartsWith = scenarioStarts == 1
		p.StepStartsWith = stepStarts == 1
		p.StepDefinitionStartsWith = stepDefStarts == 1
		p.TypeIsBrowser = nullableBool(browser)
		p.TypeIsMobile = nullableBool(mobile)
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func boolPtrArg(b *bool) any {
	if b == nil {
		return nil
	}
	return boolToInt(*b)
}

func nullableBool(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 == 1
	return &b
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
