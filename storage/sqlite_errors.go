package storage

import (
	"context"
	"fmt"
	"time"

	"ara/core"
	"ara/matching"
	"ara/metrics"

	"go.uber.org/zap"
)

// errorMatchColumns maps pattern fields onto the error match join below
var errorMatchColumns = matching.Columns{
	matching.FieldFeatureFile:    "s.feature_file",
	matching.FieldFeatureName:    "s.feature_name",
	matching.FieldScenarioName:   "s.name",
	matching.FieldStep:           "e.step",
	matching.FieldStepDefinition: "e.step_definition",
	matching.FieldException:      "e.exception",
	matching.FieldRelease:        "x.release_name",
	matching.FieldCountry:        "r.country_code",
	matching.FieldType:           "r.type_code",
	matching.FieldTypeIsBrowser:  "t.is_browser",
	matching.FieldTypeIsMobile:   "t.is_mobile",
	matching.FieldPlatform:       "r.platform",
}

// Types are joined on the run's type code; an unknown code matches no flag predicate.
const errorMatchFrom = `
	FROM errors e
	JOIN executed_scenarios s ON s.id = e.executed_scenario_id
	JOIN runs r ON r.id = s.run_id
	JOIN executions x ON x.id = r.execution_id
	LEFT JOIN types t ON t.project_id = x.project_id AND t.code = r.type_code`

// SQLiteErrorStorage answers the pattern-matching queries over recorded errors
type SQLiteErrorStorage struct {
	sqlite   *SQLite
	problems *SQLiteProblemStorage
	logger   *zap.SugaredLogger
}

func NewSQLiteErrorStorage(sqlite *SQLite, problems *SQLiteProblemStorage, logger *zap.SugaredLogger) *SQLiteErrorStorage {
	return &SQLiteErrorStorage{sqlite: sqlite, problems: problems, logger: logger}
}

// matchCondition builds the WHERE clause of a pattern, always scoped to the project
func matchCondition(projectID int64, pattern *core.ProblemPattern) (string, []any, error) {
	where, args, err := matching.Fold(matching.FromPattern(pattern), errorMatchColumns)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build pattern condition: %w", err)
	}
	return "x.project_id = ? AND " + where, append([]any{projectID}, args...), nil
}

// CountMatchingErrors counts the errors of the project satisfying every constraint of the pattern
func (es *SQLiteErrorStorage) CountMatchingErrors(ctx context.Context, projectID int64, pattern *core.ProblemPattern) (int64, error) {
	start := time.Now()
	defer func() {
		metrics.PatternQueryDuration.WithLabelValues("count").Observe(time.Since(start).Seconds())
	}()

	where, args, err := matchCondition(projectID, pattern)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := es.sqlite.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) `+errorMatchFrom+` WHERE `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count matching errors: %w", err)
	}
	return count, nil
}

// FindMatchingErrors returns one page of matching errors ordered by execution, run,
// scenario and error id, each carrying the problems it is already attached to.
func (es *SQLiteErrorStorage) FindMatchingErrors(ctx context.Context, projectID int64, pattern *core.ProblemPattern, offset, limit int) ([]core.MatchedError, error) {
	start := time.Now()
	defer func() {
		metrics.PatternQueryDuration.WithLabelValues("find").Observe(time.Since(start).Seconds())
	}()

	where, args, err := matchCondition(projectID, pattern)
	if err != nil {
		return nil, err
	}
	args = append(args, limit, offset)
	rows, err := es.sqlite.ReadDB.QueryContext(ctx, `
		SELECT e.id, e.executed_scenario_id, e.step, e.step_definition, e.step_line, e.exception,
			s.feature_file, s.feature_name, s.name, r.id, r.country_code, r.type_code, r.platform,
			x.id, x.release_name
		`+errorMatchFrom+`
		WHERE `+where+`
		ORDER BY x.id, r.id, s.id, e.id
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find matching errors: %w", err)
	}
	defer rows.Close()

	matched := make([]core.MatchedError, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var m core.MatchedError
		if err := rows.Scan(&m.ID, &m.ExecutedScenarioID, &m.Step, &m.StepDefinition, &m.StepLine, &m.Exception,
			&m.FeatureFile, &m.FeatureName, &m.ScenarioName, &m.RunID, &m.CountryCode, &m.TypeCode, &m.Platform,
			&m.ExecutionID, &m.Release); err != nil {
			return nil, fmt.Errorf("failed to scan matching error: %w", err)
		}
		matched = append(matched, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	problems, err := es.problems.ErrorsProblems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range matched {
		matched[i].Problems = problems[matched[i].ID]
		if matched[i].Problems == nil {
			matched[i].Problems = []core.Problem{}
		}
	}
	return matched, nil
}

// MatchingErrorIDs lists the ids of matching errors, optionally restricted to candidates.
// A non-nil empty candidates slice matches nothing.
func (es *SQLiteErrorStorage) MatchingErrorIDs(ctx context.Context, projectID int64, pattern *core.ProblemPattern, candidates []int64) ([]int64, error) {
	if candidates != nil && len(candidates) == 0 {
		return []int64{}, nil
	}
	where, args, err := matchCondition(projectID, pattern)
	if err != nil {
		return nil, err
	}
	if candidates != nil {
		where += " AND e.id IN (" + placeholders(len(candidates)) + ")"
		for _, id := range candidates {
			args = append(args, id)
		}
	}

	rows, err := es.sqlite.ReadDB.QueryContext(ctx, `SELECT e.id `+errorMatchFrom+` WHERE `+where+` ORDER BY e.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list matching errors: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan error id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
