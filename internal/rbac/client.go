package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/snies/snies-admin/internal/authz"
)

// RolesPath is the API endpoint listing roles and matrices.
const RolesPath = "/roles/"

// ErrClientForbidden is returned when the API refuses the role listing.
var ErrClientForbidden = errors.New("rbac: role listing forbidden")

// Client reads role administration data from the API on behalf of a
// dashboard session.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
}

// ListRoles fetches every role with its matrix, sorted by name.
func (c *Client) ListRoles(ctx context.Context, credential string) ([]RoleGrant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+RolesPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, ErrClientForbidden
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("rbac: list roles returned %d", resp.StatusCode)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("rbac: decode roles: %w", err)
	}
	out := make([]RoleGrant, 0, len(raw))
	for _, item := range raw {
		role, matrix, _, err := authz.DecodePermissions(item)
		if err != nil {
			return nil, err
		}
		out = append(out, RoleGrant{Role: role, Matrix: matrix})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role.Name < out[j].Role.Name })
	return out, nil
}
