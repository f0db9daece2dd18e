package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-chatrooms/internal/database"
	"github.com/npezzotti/go-chatrooms/internal/server"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func newApiError(code int) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    strings.ToLower(http.StatusText(code)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewConflictError() *ApiError {
	return newApiError(http.StatusConflict)
}

func NewServiceUnavailableError(err error) *ApiError {
	e := newApiError(http.StatusServiceUnavailable)
	e.Err = err
	return e
}

// repoError maps a repository error to its response.
func repoError(err error) *ApiError {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, database.ErrConflict):
		return NewConflictError()
	default:
		return NewInternalServerError(err)
	}
}

// chatError maps an error from the chat server to its response. Validation
// messages are passed through to the client.
func chatError(err error) *ApiError {
	var validationErr *server.ValidationError
	if errors.As(err, &validationErr) {
		return &ApiError{
			StatusCode: http.StatusBadRequest,
			Message:    validationErr.Message,
		}
	}

	switch code := server.StatusCode(err); code {
	case http.StatusServiceUnavailable:
		return NewServiceUnavailableError(err)
	case http.StatusInternalServerError:
		return NewInternalServerError(err)
	default:
		e := newApiError(code)
		e.Err = err
		return e
	}
}
