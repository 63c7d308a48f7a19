package storage

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is a generic "not found" error
	ErrNotFound = errors.New("not found")

	ErrUserNotFound          = errors.New("user not found")
	ErrProjectNotFound       = errors.New("project not found")
	ErrFunctionalityNotFound = errors.New("functionality not found")
	ErrProblemNotFound       = errors.New("problem not found")
	ErrPatternNotFound       = errors.New("problem pattern not found")

	// ErrDuplicateName is returned when a sibling already carries the name
	ErrDuplicateName = errors.New("name already used by a sibling")

	// ErrConstraintViolation is returned when a UNIQUE or FOREIGN KEY constraint fails
	ErrConstraintViolation = errors.New("constraint violation")
)

// isConstraintError reports whether err is a SQLite constraint failure.
// The driver error text is matched since its codes are not exported in a stable way.
func isConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
