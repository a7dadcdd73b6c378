package auth

import "time"

// User represents an account able to sign in to the dashboard.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	RoleID       int64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayName returns the name shown in the dashboard header.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Token is a bearer credential issued by the API.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Name      string    `json:"name,omitempty"`
}
