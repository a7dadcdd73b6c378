package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/snies/snies-admin/internal/shared"
)

// TokenPath is the API endpoint exchanging email and password for a token.
const TokenPath = "/auth/token"

// ErrRateLimited is returned when the API throttles sign-in attempts.
var ErrRateLimited = errors.New("auth: too many sign-in attempts")

// TokenIssuer exchanges account credentials for a bearer token.
type TokenIssuer interface {
	IssueToken(ctx context.Context, email, password string) (Token, error)
}

// BackendClient calls the API's token endpoint.
type BackendClient struct {
	baseURL string
	http    *http.Client
}

// NewBackendClient constructs a BackendClient.
func NewBackendClient(baseURL string, timeout time.Duration) *BackendClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BackendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// IssueToken implements TokenIssuer.
func (c *BackendClient) IssueToken(ctx context.Context, email, password string) (Token, error) {
	body, err := json.Marshal(tokenRequest{Email: email, Password: password})
	if err != nil {
		return Token{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+TokenPath, bytes.NewReader(body))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("auth: request token: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusBadRequest:
		return Token{}, shared.ErrInvalidCredentials
	case resp.StatusCode == http.StatusTooManyRequests:
		return Token{}, ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Token{}, fmt.Errorf("auth: token endpoint returned %d", resp.StatusCode)
	}

	var token Token
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return Token{}, fmt.Errorf("auth: decode token: %w", err)
	}
	if token.Token == "" {
		return Token{}, errors.New("auth: empty token")
	}
	return token, nil
}
