package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// AuthOptions configure Qubic API login.
type AuthOptions struct {
	BaseURL  string
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// Credentials identify a Qubic account.
type Credentials struct {
	Username      string `json:"userName"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"twoFactorCode,omitempty"`
}

// Authenticator obtains bearer tokens from the Qubic API.
type Authenticator struct {
	http    *resty.Client
	baseURL string
	logger  zerolog.Logger
}

// NewAuthenticator builds a login client retrying transient failures with a fixed backoff.
func NewAuthenticator(opts AuthOptions, logger zerolog.Logger) *Authenticator {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	l := logger.With().Str("component", "qubic_auth").Logger()
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(attempts - 1).
		SetRetryWaitTime(backoff).
		SetRetryMaxWaitTime(backoff).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		}).
		AddRetryHook(func(r *resty.Response, err error) {
			event := l.Warn().Err(err)
			if r != nil && r.Request != nil {
				event = event.Int("attempt", r.Request.Attempt).Int("status", r.StatusCode())
			}
			event.Msg("login attempt failed, retrying")
		})
	client.JSONMarshal = sonic.Marshal
	client.JSONUnmarshal = sonic.Unmarshal

	return &Authenticator{
		http:    client,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  l,
	}
}

// Login exchanges credentials for a bearer token.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) (string, error) {
	if creds.Username == "" || creds.Password == "" {
		return "", errors.New("qubic username and password are required")
	}

	resp, err := a.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(creds).
		Post(a.baseURL + "/Auth/Login")
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("login failed after %d attempts: status %d: %s", resp.Request.Attempt, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := sonic.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if body.Token == "" {
		return "", errors.New("no token in login response")
	}

	a.logger.Info().Int("attempts", resp.Request.Attempt).Msg("qubic login succeeded")
	return body.Token, nil
}

// Preview shortens a token for display.
func Preview(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10] + "..."
}
