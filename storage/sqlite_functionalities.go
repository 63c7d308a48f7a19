package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ara/core"

	"go.uber.org/zap"
)

// OrderFunc computes the order of a node from its future siblings.
// It runs inside the write transaction, so the siblings it sees are final.
type OrderFunc func(siblings []*core.Functionality) (float64, error)

// SQLiteFunctionalityStorage persists the functionality tree
type SQLiteFunctionalityStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

func NewSQLiteFunctionalityStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteFunctionalityStorage {
	return &SQLiteFunctionalityStorage{sqlite: sqlite, logger: logger}
}

const functionalityColumns = `id, project_id, parent_id, display_order, type, name, country_codes, team_id,
	severity, created, started, not_automatable, comment, updated_at`

// ListFunctionalities returns every node of the project ordered by parent then order
func (fs *SQLiteFunctionalityStorage) ListFunctionalities(ctx context.Context, projectID int64) ([]*core.Functionality, error) {
	rows, err := fs.sqlite.ReadDB.QueryContext(ctx,
		`SELECT `+functionalityColumns+` FROM functionalities WHERE project_id = ?
		ORDER BY IFNULL(parent_id, 0), display_order`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list functionalities: %w", err)
	}
	defer rows.Close()
	return scanFunctionalities(rows)
}

// GetFunctionality returns ErrFunctionalityNotFound if the node is absent from the project
func (fs *SQLiteFunctionalityStorage) GetFunctionality(ctx context.Context, projectID, id int64) (*core.Functionality, error) {
	row := fs.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT `+functionalityColumns+` FROM functionalities WHERE project_id = ? AND id = ?`, projectID, id)
	f, err := scanFunctionality(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFunctionalityNotFound
	}
	return f, err
}

// InsertWithOrder inserts f under f.ParentID with the order computed by orderFn.
// Sibling lookup, name check and insert share one transaction on the single writer.
func (fs *SQLiteFunctionalityStorage) InsertWithOrder(ctx context.Context, f *core.Functionality, orderFn OrderFunc) error {
	return fs.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		siblings, err := listSiblings(ctx, tx, f.ProjectID, f.ParentID, 0)
		if err != nil {
			return err
		}
		if nameTaken(siblings, f.Name, 0) {
			return ErrDuplicateName
		}
		order, err := orderFn(siblings)
		if err != nil {
			return err
		}

		f.Order = order
		f.UpdatedAt = time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO functionalities (project_id, parent_id, display_order, type, name, country_codes,
				team_id, severity, created, started, not_automatable, comment, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ProjectID, idArg(f.ParentID), f.Order, string(f.Type), f.Name, f.CountryCodes,
			idArg(f.TeamID), string(f.Severity), f.Created, boolToInt(f.Started), boolToInt(f.NotAutomatable),
			f.Comment, formatTime(f.UpdatedAt))
		if err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("functionality %q: %w", f.Name, ErrConstraintViolation)
			}
			return fmt.Errorf("failed to insert functionality: %w", err)
		}
		f.ID, err = res.LastInsertId()
		return err
	})
}

// UpdateFunctionality rewrites the editable columns; parent and order are left untouched
func (fs *SQLiteFunctionalityStorage) UpdateFunctionality(ctx context.Context, f *core.Functionality) error {
	return fs.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		var parentID sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT parent_id FROM functionalities WHERE project_id = ? AND id = ?`, f.ProjectID, f.ID).Scan(&parentID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFunctionalityNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load functionality: %w", err)
		}

		siblings, err := listSiblings(ctx, tx, f.ProjectID, nullableID(parentID), f.ID)
		if err != nil {
			return err
		}
		if nameTaken(siblings, f.Name, f.ID) {
			return ErrDuplicateName
		}

		f.UpdatedAt = time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE functionalities SET name = ?, country_codes = ?, team_id = ?, severity = ?, created = ?,
				started = ?, not_automatable = ?, comment = ?, updated_at = ?
			WHERE project_id = ? AND id = ?`,
			f.Name, f.CountryCodes, idArg(f.TeamID), string(f.Severity), f.Created,
			boolToInt(f.Started), boolToInt(f.NotAutomatable), f.Comment, formatTime(f.UpdatedAt),
			f.ProjectID, f.ID)
		if err != nil {
			return fmt.Errorf("failed to update functionality: %w", err)
		}
		return nil
	})
}

// MoveWithOrder reparents node id under parentID at the order computed by orderFn.
// The moved node is excluded from the siblings handed to orderFn.
func (fs *SQLiteFunctionalityStorage) MoveWithOrder(ctx context.Context, projectID, id int64, parentID *int64, orderFn OrderFunc) (*core.Functionality, error) {
	var moved *core.Functionality
	err := fs.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+functionalityColumns+` FROM functionalities WHERE project_id = ? AND id = ?`, projectID, id)
		node, err := scanFunctionality(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFunctionalityNotFound
		}
		if err != nil {
			return err
		}

		siblings, err := listSiblings(ctx, tx, projectID, parentID, id)
		if err != nil {
			return err
		}
		if nameTaken(siblings, node.Name, id) {
			return ErrDuplicateName
		}
		order, err := orderFn(siblings)
		if err != nil {
			return err
		}

		node.ParentID = parentID
		node.Order = order
		node.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE functionalities SET parent_id = ?, display_order = ?, updated_at = ? WHERE id = ?`,
			idArg(node.ParentID), node.Order, formatTime(node.UpdatedAt), id); err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("functionality %d: %w", id, ErrConstraintViolation)
			}
			return fmt.Errorf("failed to move functionality: %w", err)
		}
		moved = node
		return nil
	})
	return moved, err
}

// DeleteFunctionalities removes the nodes; descendants go with them through ON DELETE CASCADE.
// Every id must exist in the project, otherwise nothing is deleted.
func (fs *SQLiteFunctionalityStorage) DeleteFunctionalities(ctx context.Context, projectID int64, ids []int64) error {
	return fs.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM functionalities WHERE project_id = ? AND id = ?`, projectID, id).Scan(&n); err != nil {
				return fmt.Errorf("failed to check functionality %d: %w", id, err)
			}
			if n == 0 {
				return fmt.Errorf("functionality %d: %w", id, ErrFunctionalityNotFound)
			}
		}
		// A later id may already be gone as the descendant of an earlier one
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM functionalities WHERE project_id = ? AND id = ?`, projectID, id); err != nil {
				return fmt.Errorf("failed to delete functionality %d: %w", id, err)
			}
		}
		return nil
	})
}

func listSiblings(ctx context.Context, q queryer, projectID int64, parentID *int64, excludeID int64) ([]*core.Functionality, error) {
	var parent int64
	if parentID != nil {
		parent = *parentID
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+functionalityColumns+` FROM functionalities
		WHERE project_id = ? AND IFNULL(parent_id, 0) = ? AND id <> ?
		ORDER BY display_order`, projectID, parent, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list siblings: %w", err)
	}
	defer rows.Close()
	return scanFunctionalities(rows)
}

func nameTaken(siblings []*core.Functionality, name string, excludeID int64) bool {
	for _, s := range siblings {
		if s.ID != excludeID && s.Name == name {
			return true
		}
	}
	return false
}

func scanFunctionalities(rows *sql.Rows) ([]*core.Functionality, error) {
	list := make([]*core.Functionality, 0)
	for rows.Next() {
		f, err := scanFunctionality(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, f)
	}
	return list, rows.Err()
}

func scanFunctionality(row rowScanner) (*core.Functionality, error) {
	var f core.Functionality
	var parentID, teamID sql.NullInt64
	var fType, severity, updatedAt string
	var started, notAutomatable int
	err := row.Scan(&f.ID, &f.ProjectID, &parentID, &f.Order, &fType, &f.Name, &f.CountryCodes, &teamID,
		&severity, &f.Created, &started, &notAutomatable, &f.Comment, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan functionality: %w", err)
	}
	f.ParentID = nullableID(parentID)
	f.TeamID = nullableID(teamID)
	f.Type = core.FunctionalityType(fType)
	f.Severity = core.FunctionalitySeverity(severity)
	f.Started = started == 1
	f.NotAutomatable = notAutomatable == 1
	f.UpdatedAt = parseTime(updatedAt)
	return &f, nil
}

func nullableID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

// idArg binds a nullable foreign key
func idArg(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
