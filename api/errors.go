package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"prism-gtd/domain"
)

var errDuplicateRequest = errors.New("duplicate request")

type authError struct{ err error }

func (e *authError) Error() string { return e.err.Error() }
func (e *authError) Unwrap() error { return e.err }

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// statusFor maps an error to its HTTP status. Validation is checked before
// not-found because a rejected reorder batch may wrap ErrNotFound.
func statusFor(err error) int {
	var (
		authErr *authError
		badReq  *badRequestError
		httpErr *echo.HTTPError
	)
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &badReq), errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errDuplicateRequest), errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.As(err, &httpErr):
		return httpErr.Code
	}
	return http.StatusInternalServerError
}

// respondError writes the JSON error body and records the failure on the
// request metrics. Internal errors are logged, not echoed.
func respondError(c echo.Context, stage string, err error) error {
	metricsFrom(c).Fail(stage, err)
	status := statusFor(err)
	body := errorResponse{Error: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
		body.TaskID = verr.TaskID
	}
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
		body = errorResponse{Error: "internal error"}
	}
	return c.JSON(status, body)
}
