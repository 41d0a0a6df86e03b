// Package apperr maps domain failures onto the service error taxonomy.
//
// Kinds are juju/errors constant errors so callers classify with errors.Is:
// NotValid (400), Unauthorized (401), Forbidden (403), NotFound (404),
// AlreadyExists or Conflict (409). Anything else is internal.
package apperr

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/juju/errors"
)

// Conflict marks a request that is well formed but clashes with current state,
// such as an illegal order transition.
const Conflict = errors.ConstError("conflict")

// FieldIssue names one invalid input field.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field-level issues. It satisfies errors.Is(err, errors.NotValid).
type ValidationError struct {
	Issues []FieldIssue
}

// Add records an issue for field.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Issues = append(e.Issues, FieldIssue{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns e when it holds issues, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Field+": "+issue.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return errors.NotValid
}

// Conflictf returns an error of kind Conflict.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), Conflict)
}

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.BadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errors.Unauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errors.Forbidden):
		return http.StatusForbidden
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.AlreadyExists), errors.Is(err, Conflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Issues extracts field issues when err is a validation failure.
func Issues(err error) []FieldIssue {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Issues
	}
	return nil
}
