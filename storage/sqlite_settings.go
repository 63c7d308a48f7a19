package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ara/core"

	"go.uber.org/zap"
)

// SQLiteSettingsStorage persists the per-project reference data:
// teams, countries and run types.
type SQLiteSettingsStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

func NewSQLiteSettingsStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteSettingsStorage {
	return &SQLiteSettingsStorage{sqlite: sqlite, logger: logger}
}

func (ss *SQLiteSettingsStorage) CreateTeam(ctx context.Context, team *core.Team) error {
	res, err := ss.sqlite.WriteDB.ExecContext(ctx,
		`INSERT INTO teams (project_id, name, assign_problems, assign_functionalities) VALUES (?, ?, ?, ?)`,
		team.ProjectID, team.Name, boolToInt(team.AssignProblems), boolToInt(team.AssignFunctionalities))
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("team %s: %w", team.Name, ErrConstraintViolation)
		}
		return fmt.Errorf("failed to create team: %w", err)
	}
	team.ID, err = res.LastInsertId()
	return err
}

// GetTeam returns ErrNotFound if the team is absent or belongs to another project
func (ss *SQLiteSettingsStorage) GetTeam(ctx context.Context, projectID, id int64) (*core.Team, error) {
	var t core.Team
	var assignProblems, assignFunctionalities int
	err := ss.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT id, project_id, name, assign_problems, assign_functionalities FROM teams WHERE project_id = ? AND id = ?`,
		projectID, id).Scan(&t.ID, &t.ProjectID, &t.Name, &assignProblems, &assignFunctionalities)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	t.AssignProblems = assignProblems == 1
	t.AssignFunctionalities = assignFunctionalities == 1
	return &t, nil
}

func (ss *SQLiteSettingsStorage) ListTeams(ctx context.Context, projectID int64) ([]core.Team, error) {
	rows, err := ss.sqlite.ReadDB.QueryContext(ctx,
		`SELECT id, project_id, name, assign_problems, assign_functionalities FROM teams WHERE project_id = ? ORDER BY name`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	teams := make([]core.Team, 0)
	for rows.Next() {
		var t core.Team
		var assignProblems, assignFunctionalities int
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &assignProblems, &assignFunctionalities); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		t.AssignProblems = assignProblems == 1
		t.AssignFunctionalities = assignFunctionalities == 1
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (ss *SQLiteSettingsStorage) CreateCountry(ctx context.Context, country *core.Country) error {
	res, err := ss.sqlite.WriteDB.ExecContext(ctx,
		`INSERT INTO countries (project_id, code, name) VALUES (?, ?, ?)`,
		country.ProjectID, country.Code, country.Name)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("country %s: %w", country.Code, ErrConstraintViolation)
		}
		return fmt.Errorf("failed to create country: %w", err)
	}
	country.ID, err = res.LastInsertId()
	return err
}

func (ss *SQLiteSettingsStorage) ListCountries(ctx context.Context, projectID int64) ([]core.Country, error) {
	rows, err := ss.sqlite.ReadDB.QueryContext(ctx,
		`SELECT id, project_id, code, name FROM countries WHERE project_id = ? ORDER BY code`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list countries: %w", err)
	}
	defer rows.Close()

	countries := make([]core.Country, 0)
	for rows.Next() {
		var c core.Country
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Code, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan country: %w", err)
		}
		countries = append(countries, c)
	}
	return countries, rows.Err()
}

func (ss *SQLiteSettingsStorage) CreateType(ctx context.Context, t *core.Type) error {
	res, err := ss.sqlite.WriteDB.ExecContext(ctx,
		`INSERT INTO types (project_id, code, name, is_browser, is_mobile) VALUES (?, ?, ?, ?, ?)`,
		t.ProjectID, t.Code, t.Name, boolToInt(t.IsBrowser), boolToInt(t.IsMobile))
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("type %s: %w", t.Code, ErrConstraintViolation)
		}
		return fmt.Errorf("failed to create type: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (ss *SQLiteSettingsStorage) ListTypes(ctx context.Context, projectID int64) ([]core.Type, error) {
	rows, err := ss.sqlite.ReadDB.QueryContext(ctx,
		`SELECT id, project_id, code, name, is_browser, is_mobile FROM types WHERE project_id = ? ORDER BY code`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list types: %w", err)
	}
	defer rows.Close()

	types := make([]core.Type, 0)
	for rows.Next() {
		var t core.Type
		var browser, mobile int
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Code, &t.Name, &browser, &mobile); err != nil {
			return nil, fmt.Errorf("failed to scan type: %w", err)
		}
		t.IsBrowser = browser == 1
		t.IsMobile = mobile == 1
		types = append(types, t)
	}
	return types, rows.Err()
}
