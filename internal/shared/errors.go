package shared

import "errors"

// Errors shared by the API repositories and the dashboard login flow.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
