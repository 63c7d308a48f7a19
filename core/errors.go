package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an AppError so the transport layer can map it to a response.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindBadRequest       ErrorKind = "bad_request"
	KindForbidden        ErrorKind = "forbidden"
	KindInvalidReference ErrorKind = "invalid_reference"
	KindNotUnique        ErrorKind = "not_unique"
	KindInternal         ErrorKind = "internal"
)

// Stable message keys carried by AppError.Key
const (
	KeyNoReference                   = "no_reference"
	KeyFunctionalitiesHaveNoChildren = "functionalities_cannot_have_children"
	KeyCannotMoveToItself            = "cannot_move_to_itself_or_sub_folder"
	KeyOrderExhausted                = "order_exhausted"
	KeyProjectCodeBlank              = "project_code_blank"
	KeyRoleMissing                   = "role_missing"
	KeyProjectNotInScopes            = "project_not_found_in_user_scopes"
	KeyUserAuthentication            = "user_authentication_error"
	KeyProfileUnchangeable           = "own_profile_unchangeable"
	KeyAccessDenied                  = "access_denied"
	KeyPatternEmpty                  = "pattern_empty"
	KeyValidation                    = "validation_failed"
)

// AppError is the typed failure returned by services.
type AppError struct {
	Kind     ErrorKind `json:"kind"`
	Resource string    `json:"resource,omitempty"`
	Key      string    `json:"key,omitempty"`
	Message  string    `json:"message"`
	Err      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFound reports that a referenced entity does not exist.
func NewNotFound(resource, message string) *AppError {
	return &AppError{Kind: KindNotFound, Resource: resource, Key: "not_found", Message: message}
}

// NewBadRequest reports a request that breaks a business rule.
func NewBadRequest(resource, key, message string) *AppError {
	return &AppError{Kind: KindBadRequest, Resource: resource, Key: key, Message: message}
}

// NewForbidden reports a caller lacking the required authority.
func NewForbidden(resource, message string) *AppError {
	return &AppError{Kind: KindForbidden, Resource: resource, Key: KeyAccessDenied, Message: message}
}

// NewInvalidReference reports a position that needs a reference node that was not supplied.
func NewInvalidReference(resource, message string) *AppError {
	return &AppError{Kind: KindInvalidReference, Resource: resource, Key: KeyNoReference, Message: message}
}

// NewNotUnique reports a name collision within the same parent or scope.
func NewNotUnique(resource, property, message string) *AppError {
	return &AppError{Kind: KindNotUnique, Resource: resource, Key: "not_unique:" + property, Message: message}
}

// NewInternal wraps an unexpected failure, typically from storage.
func NewInternal(message string, err error) *AppError {
	return &AppError{Kind: KindInternal, Key: "internal", Message: message, Err: err}
}

// IsKind reports whether err, or anything it wraps, is an AppError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// KeyOf returns the message key of the AppError wrapped by err, or "" if there is none.
func KeyOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Key
	}
	return ""
}
