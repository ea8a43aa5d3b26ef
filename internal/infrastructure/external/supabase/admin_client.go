// Package supabase implements the parts of the Supabase Auth admin API used
// for signup.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/circuitbreaker"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the admin client.
type Config struct {
	// URL is the project URL, e.g. https://abc.supabase.co
	URL string

	// ServiceRoleKey authorizes admin calls. Never sent to browsers.
	ServiceRoleKey string

	Timeout time.Duration

	Breaker *circuitbreaker.CircuitBreaker
	Retrier *retry.Retrier
	Logger  *logger.Logger

	HTTPClient *http.Client
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError is a non-2xx response from the auth API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error_code,omitempty"`
	Message string `json:"msg,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase auth: status %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase auth: status %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying may help.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func (e *APIError) emailTaken() bool {
	if e.Code == "email_exists" || e.Code == "user_already_exists" {
		return true
	}
	return e.Status == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(e.Message), "already been registered")
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// AdminClient implements identity.Provisioner against /auth/v1/admin/users.
type AdminClient struct {
	baseURL    string
	key        string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
	log        *logger.Logger
}

// NewAdminClient creates a new client.
func NewAdminClient(cfg Config) (*AdminClient, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, errors.New("supabase: url and service role key are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	log := cfg.Logger.With(logger.Component("supabase_admin"))

	if cfg.Breaker == nil {
		bc := circuitbreaker.IdentityProviderConfig()
		bc.IsFailure = isProviderFailure
		bc.OnStateChange = func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}
		cfg.Breaker = circuitbreaker.New(bc)
	}
	if cfg.Retrier == nil {
		rc := retry.IdentityProviderConfig()
		rc.RetryIf = isProviderFailure
		cfg.Retrier = retry.New(rc)
	}

	return &AdminClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		key:        cfg.ServiceRoleKey,
		httpClient: cfg.HTTPClient,
		breaker:    cfg.Breaker,
		retrier:    cfg.Retrier,
		log:        log,
	}, nil
}

type createUserRequest struct {
	Email        string            `json:"email"`
	Password     string            `json:"password"`
	EmailConfirm bool              `json:"email_confirm"`
	UserMetadata map[string]string `json:"user_metadata"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// CreateAccount implements identity.Provisioner. The account is created
// already confirmed, with name and role in user_metadata.
func (c *AdminClient) CreateAccount(ctx context.Context, account identity.NewAccount) (string, error) {
	body := createUserRequest{
		Email:        account.Email,
		Password:     account.Password,
		EmailConfirm: true,
		UserMetadata: map[string]string{
			"name": account.Name,
			"role": account.Role.String(),
		},
	}

	user, err := retry.DoWithData(ctx, c.retrier, func(ctx context.Context) (userResponse, error) {
		var out userResponse
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.do(ctx, http.MethodPost, "/auth/v1/admin/users", body, &out)
		})
		return out, err
	})
	if err != nil {
		return "", c.classify(err, account.Email)
	}
	if user.ID == "" {
		return "", shared.ErrIdentityProviderDown.Wrap(errors.New("response without user id"))
	}

	c.log.Info("identity created", logger.UserID(user.ID), logger.Email(account.Email))
	return user.ID, nil
}

// Ping checks that the auth API answers its health endpoint.
func (c *AdminClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/auth/v1/health", nil, nil)
}

// BreakerState returns the current state of the circuit breaker.
func (c *AdminClient) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

func (c *AdminClient) classify(err error, email string) error {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.emailTaken():
		return shared.ErrIdentityExists
	case errors.As(err, &apiErr) && !apiErr.Temporary():
		return shared.WrapError("identity", "CreateUser", shared.ErrInvalidInput, apiErr.Message, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		c.log.Error("identity provider call failed", logger.Email(email), logger.Err(err))
		return shared.ErrIdentityProviderDown.Wrap(err)
	}
}

// do performs a single request.
func (c *AdminClient) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// isProviderFailure reports whether err means the provider is unhealthy:
// transport errors, 429 and 5xx. Client errors are the caller's fault.
func isProviderFailure(err error) bool {
	if err == nil || circuitbreaker.IsRejected(err) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}
