package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/npezzotti/go-chatrooms/internal/database"
)

var ErrServerStopped = errors.New("chat server stopped")

// AuthError is returned when a connection cannot be tied to a known user.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication error: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ValidationError carries a message that is safe to show to the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErr(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Resource string
	Id       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Id)
}

// PersistenceError wraps a repository failure. Callers may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// repoErr converts a repository error into the matching typed error.
func repoErr(op, resource, id string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return &NotFoundError{Resource: resource, Id: id}
	}
	return &PersistenceError{Op: op, Err: err}
}

// StatusCode maps an error to the HTTP status used in responses.
func StatusCode(err error) int {
	var (
		authErr       *AuthError
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		persistErr    *PersistenceError
	)

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound
	case errors.As(err, &persistErr), errors.Is(err, ErrServerStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
