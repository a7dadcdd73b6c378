// Package httpx provides JSON and RFC7807 response helpers for the API.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors handlers map onto status codes.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("service unavailable")
)

// StatusFor returns the HTTP status and title err maps to.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict, "Duplicate"
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "Service Unavailable"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

// RespondError maps domain errors to RFC7807 responses. Details of
// unclassified errors are not exposed.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := StatusFor(err)
	detail := ""
	if status != http.StatusInternalServerError {
		detail = err.Error()
	}
	Problem(w, r, status, title, detail)
}
