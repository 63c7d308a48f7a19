package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ara/core"

	"go.uber.org/zap"
)

// SQLiteProjectStorage persists projects
type SQLiteProjectStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

func NewSQLiteProjectStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteProjectStorage {
	return &SQLiteProjectStorage{sqlite: sqlite, logger: logger}
}

// CreateProject inserts a project and sets its ID.
// Only one project may be the default at startup.
func (ps *SQLiteProjectStorage) CreateProject(ctx context.Context, project *core.Project) error {
	return ps.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		if project.DefaultAtStartup {
			if _, err := tx.ExecContext(ctx, `UPDATE projects SET default_at_startup = 0`); err != nil {
				return fmt.Errorf("failed to reset default project: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO projects (code, name, default_at_startup) VALUES (?, ?, ?)`,
			project.Code, project.Name, boolToInt(project.DefaultAtStartup))
		if err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("project %s: %w", project.Code, ErrConstraintViolation)
			}
			return fmt.Errorf("failed to create project: %w", err)
		}
		project.ID, err = res.LastInsertId()
		return err
	})
}

// UpdateProject changes the name and default flag of a project
func (ps *SQLiteProjectStorage) UpdateProject(ctx context.Context, project *core.Project) error {
	return ps.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		if project.DefaultAtStartup {
			if _, err := tx.ExecContext(ctx, `UPDATE projects SET default_at_startup = 0 WHERE id <> ?`, project.ID); err != nil {
				return fmt.Errorf("failed to reset default project: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE projects SET name = ?, default_at_startup = ? WHERE id = ?`,
			project.Name, boolToInt(project.DefaultAtStartup), project.ID)
		if err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("project %s: %w", project.Code, ErrConstraintViolation)
			}
			return fmt.Errorf("failed to update project: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrProjectNotFound
		}
		return nil
	})
}

// GetProjectByCode returns ErrProjectNotFound when no project has this code
func (ps *SQLiteProjectStorage) GetProjectByCode(ctx context.Context, code string) (*core.Project, error) {
	row := ps.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT id, code, name, default_at_startup FROM projects WHERE code = ?`, code)
	return scanProject(row)
}

func (ps *SQLiteProjectStorage) GetProject(ctx context.Context, id int64) (*core.Project, error) {
	row := ps.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT id, code, name, default_at_startup FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjects returns all projects sorted by name
func (ps *SQLiteProjectStorage) ListProjects(ctx context.Context) ([]core.Project, error) {
	rows, err := ps.sqlite.ReadDB.QueryContext(ctx,
		`SELECT id, code, name, default_at_startup FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]core.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*core.Project, error) {
	var p core.Project
	var def int
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &def); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.DefaultAtStartup = def == 1
	return &p, nil
}
