package permstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/snies/snies-admin/internal/authz"
)

// PermissionsPath is the backend endpoint serving the caller's permissions.
const PermissionsPath = "/users/me/permissions/"

const (
	maxBodyBytes          = 1 << 20
	defaultClientTimeout  = 10 * time.Second
	defaultBreakerFailure = 5
	defaultBreakerTimeout = 30 * time.Second
)

// Grant is a successfully fetched role and matrix.
type Grant struct {
	Role   authz.Role
	Matrix authz.Matrix
}

// Fetcher loads the permissions attached to a credential.
type Fetcher interface {
	FetchPermissions(ctx context.Context, credential string) (Grant, error)
}

// ClientConfig configures Client.
type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client calls the backend permissions endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
	group   singleflight.Group
	breaker *gobreaker.CircuitBreaker[Grant]
}

// NewClient builds a Client.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailure
	}
	openFor := cfg.BreakerTimeout
	if openFor <= 0 {
		openFor = defaultBreakerTimeout
	}
	breaker := gobreaker.NewCircuitBreaker[Grant](gobreaker.Settings{
		Name:        "permissions",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		// Auth answers are verdicts from a healthy backend. Cancellation comes
		// from our side, never from the backend.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotAuthenticated) ||
				errors.Is(err, ErrNotAuthorized) ||
				errors.Is(err, context.Canceled)
		},
	})
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		timeout: timeout,
		logger:  logger,
		breaker: breaker,
	}
}

// FetchPermissions implements Fetcher. Concurrent calls for the same
// credential share one request. The shared request is detached from ctx and
// bounded by the client timeout, so a caller giving up only affects itself.
func (c *Client) FetchPermissions(ctx context.Context, credential string) (Grant, error) {
	if credential == "" {
		return Grant{}, ErrNotAuthenticated
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(credential, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(shared, c.timeout)
		defer cancel()
		return c.breaker.Execute(func() (Grant, error) {
			return c.fetch(fetchCtx, credential)
		})
	})
	select {
	case <-ctx.Done():
		return Grant{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, gobreaker.ErrOpenState) || errors.Is(res.Err, gobreaker.ErrTooManyRequests) {
				return Grant{}, fmt.Errorf("%w: circuit open: %v", ErrUnavailable, res.Err)
			}
			return Grant{}, res.Err
		}
		grant, _ := res.Val.(Grant)
		return Grant{Role: grant.Role, Matrix: grant.Matrix.Clone()}, nil
	}
}

// BreakerState reports the breaker state ("closed", "half-open" or "open").
// The dashboard /healthz body includes it.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) fetch(ctx context.Context, credential string) (Grant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PermissionsPath, nil)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Grant{}, ErrNotAuthenticated
	case resp.StatusCode == http.StatusForbidden:
		return Grant{}, ErrNotAuthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Grant{}, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Grant{}, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	role, matrix, unknown, err := authz.DecodePermissions(body)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(unknown) > 0 {
		c.logger.Debug("ignoring unknown permission modules", slog.Any("modules", unknown))
	}
	return Grant{Role: role, Matrix: matrix}, nil
}

var _ Fetcher = (*Client)(nil)
