// Package permstore keeps the authenticated user's role and permission matrix
// for one dashboard session.
package permstore

import "errors"

var (
	// ErrNotAuthenticated reports that no credential is present or the backend
	// answered 401.
	ErrNotAuthenticated = errors.New("permstore: not authenticated")
	// ErrSessionExpired reports a 401 for a credential that used to be valid.
	ErrSessionExpired = errors.New("permstore: session expired")
	// ErrNotAuthorized reports a 403 from the backend.
	ErrNotAuthorized = errors.New("permstore: not authorized")
	// ErrUnavailable covers transport failures and unexpected statuses.
	ErrUnavailable = errors.New("permstore: permissions unavailable")
)

// Message turns a store error into text fit for the user.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionExpired):
		return "Your session has expired, please sign in again."
	case errors.Is(err, ErrNotAuthenticated):
		return "You are not signed in."
	case errors.Is(err, ErrNotAuthorized):
		return "Your account is not allowed to use the dashboard."
	default:
		return "Permissions could not be loaded. Please try again."
	}
}
