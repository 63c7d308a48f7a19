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

// SQLiteUserStorage persists users and their project scopes
type SQLiteUserStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

func NewSQLiteUserStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteUserStorage {
	return &SQLiteUserStorage{sqlite: sqlite, logger: logger}
}

const userColumns = `id, login, provider_name, first_name, last_name, email, picture_url, profile,
	default_project_code, creation_date, update_date`

// GetUser returns the user identified by login and provider, with scopes
func (us *SQLiteUserStorage) GetUser(ctx context.Context, login, providerName string) (*core.User, error) {
	return us.getUser(ctx, us.sqlite.ReadDB, login, providerName)
}

// UserMutation changes a loaded user in place. Returning an error aborts the write.
type UserMutation func(user *core.User) error

// MutateUser loads the user, applies mutate and saves the result in one transaction on the
// single writer, so concurrent changes to the same user are applied one after the other.
// Nothing is written when mutate fails.
func (us *SQLiteUserStorage) MutateUser(ctx context.Context, login, providerName string, mutate UserMutation) (*core.User, error) {
	var user *core.User
	err := us.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		loaded, err := us.getUser(ctx, tx, login, providerName)
		if err != nil {
			return err
		}
		if err := mutate(loaded); err != nil {
			return err
		}
		if err := saveUser(ctx, tx, loaded); err != nil {
			return err
		}
		user = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (us *SQLiteUserStorage) getUser(ctx context.Context, q queryer, login, providerName string) (*core.User, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE login = ? AND provider_name = ?`, login, providerName)
	user, err := scanUser(row)
	if err != nil {
		return nil, err
	}
	scopes, err := us.loadScopes(ctx, q, `s.user_id = ?`, user.ID)
	if err != nil {
		return nil, err
	}
	user.Scopes = scopesOf(scopes, user.ID)
	return user, nil
}

// SaveUser inserts or updates the user and replaces its scope set.
// Both happen in one transaction so readers never see a partial scope set.
func (us *SQLiteUserStorage) SaveUser(ctx context.Context, user *core.User) error {
	return us.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		return saveUser(ctx, tx, user)
	})
}

func saveUser(ctx context.Context, tx *sql.Tx, user *core.User) error {
	now := time.Now().UTC()
	if user.ID == 0 {
		if user.CreationDate.IsZero() {
			user.CreationDate = now
		}
		user.UpdateDate = now
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (login, provider_name, first_name, last_name, email, picture_url, profile,
				default_project_code, creation_date, update_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			user.Login, user.ProviderName, user.FirstName, user.LastName, user.Email, user.PictureURL,
			string(user.Profile), user.DefaultProjectCode, formatTime(user.CreationDate), formatTime(user.UpdateDate))
		if err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("user %s: %w", user.Login, ErrConstraintViolation)
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		if user.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	} else {
		user.UpdateDate = now
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET first_name = ?, last_name = ?, email = ?, picture_url = ?, profile = ?,
				default_project_code = ?, update_date = ?
			WHERE id = ?`,
			user.FirstName, user.LastName, user.Email, user.PictureURL, string(user.Profile),
			user.DefaultProjectCode, formatTime(user.UpdateDate), user.ID)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrUserNotFound
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_scopes WHERE user_id = ?`, user.ID); err != nil {
		return fmt.Errorf("failed to clear scopes: %w", err)
	}
	for i := range user.Scopes {
		scope := &user.Scopes[i]
		scope.UserID = user.ID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_scopes (user_id, project_id, role) VALUES (?, ?, ?)`,
			user.ID, scope.ProjectID, string(scope.Role)); err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("scope on %s: %w", scope.ProjectCode, ErrConstraintViolation)
			}
			return fmt.Errorf("failed to save scope: %w", err)
		}
	}
	return nil
}

// ListUsers returns the users of one provider sorted by login
func (us *SQLiteUserStorage) ListUsers(ctx context.Context, providerName string) ([]core.User, error) {
	rows, err := us.sqlite.ReadDB.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider_name = ? ORDER BY login`, providerName)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]core.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scopes, err := us.loadScopes(ctx, us.sqlite.ReadDB,
		`s.user_id IN (SELECT id FROM users WHERE provider_name = ?)`, providerName)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Scopes = scopesOf(scopes, users[i].ID)
	}
	return users, nil
}

// loadScopes groups scope assignments by user for the given filter
func (us *SQLiteUserStorage) loadScopes(ctx context.Context, q queryer, where string, args ...any) (map[int64][]core.ScopeAssignment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT s.user_id, s.project_id, p.code, p.name, s.role
		FROM user_scopes s JOIN projects p ON p.id = s.project_id
		WHERE `+where+`
		ORDER BY p.code`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load scopes: %w", err)
	}
	defer rows.Close()

	byUser := make(map[int64][]core.ScopeAssignment)
	for rows.Next() {
		var s core.ScopeAssignment
		var role string
		if err := rows.Scan(&s.UserID, &s.ProjectID, &s.ProjectCode, &s.ProjectName, &role); err != nil {
			return nil, fmt.Errorf("failed to scan scope: %w", err)
		}
		s.Role = core.ScopeRole(role)
		byUser[s.UserID] = append(byUser[s.UserID], s)
	}
	return byUser, rows.Err()
}

func scanUser(row rowScanner) (*core.User, error) {
	var u core.User
	var profile, created, updated string
	err := row.Scan(&u.ID, &u.Login, &u.ProviderName, &u.FirstName, &u.LastName, &u.Email, &u.PictureURL,
		&profile, &u.DefaultProjectCode, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Profile = core.UserProfile(profile)
	u.CreationDate = parseTime(created)
	u.UpdateDate = parseTime(updated)
	return &u, nil
}

// scopesOf never returns nil so a user without scopes serializes as an empty list
func scopesOf(byUser map[int64][]core.ScopeAssignment, userID int64) []core.ScopeAssignment {
	if scopes := byUser[userID]; scopes != nil {
		return scopes
	}
	return []core.ScopeAssignment{}
}
