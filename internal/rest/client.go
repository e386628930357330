package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CredentialSource supplies the bearer credential for API calls and the
// push channel. Token issuance and refresh are outside this engine; when a
// call fails with an AuthError the session must obtain a fresh credential
// and reconnect.
type CredentialSource interface {
	Token() (string, error)
	OnExpired(func())
}

// AuthError reports an invalid or expired credential. It is terminal: the
// engine never retries it.
type AuthError struct {
	Op     string
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: credential rejected (HTTP %d)", e.Op, e.Status)
}

// IsAuthError reports whether err (or any error in its chain) is an
// AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// StaticCredentials is a CredentialSource holding a fixed token, suitable
// for tests and for callers that manage refresh themselves via SetToken.
type StaticCredentials struct {
	mu        sync.Mutex
	token     string
	callbacks []func()
}

// NewStaticCredentials creates a credential source with the given token.
func NewStaticCredentials(token string) *StaticCredentials {
	return &StaticCredentials{token: token}
}

// Token returns the current token.
func (s *StaticCredentials) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", fmt.Errorf("no credential available")
	}
	return s.token, nil
}

// OnExpired registers a callback invoked when the credential is rejected.
func (s *StaticCredentials) OnExpired(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// SetToken replaces the token.
func (s *StaticCredentials) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Expire clears the token and fires the expiry callbacks.
func (s *StaticCredentials) Expire() {
	s.mu.Lock()
	s.token = ""
	cbs := append([]func(){}, s.callbacks...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

const (
	// maxRateLimitRetries bounds how often a 429 response is retried
	// before the call fails.
	maxRateLimitRetries = 2

	// rateLimitBaseWait and rateLimitMaxWait bound the 429 retry delay:
	// min(base * 2^attempt, max).
	rateLimitBaseWait = 2 * time.Second
	rateLimitMaxWait  = 10 * time.Second

	// maxResponseBytes caps response body reads so a misbehaving server
	// cannot consume unbounded memory.
	maxResponseBytes = 4 << 20
)

// Client is the authenticated HTTP client shared by the directory, history
// and send services.
type Client struct {
	http    *http.Client
	baseURL string
	creds   CredentialSource
	logger  *zap.Logger

	// sleep is replaceable in tests to avoid real 429 backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a REST client rooted at baseURL. If httpClient is nil a
// client with a 30-second timeout is used.
func NewClient(baseURL string, creds CredentialSource, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		creds:   creds,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// do issues an authenticated request. 429 responses are retried with a
// capped exponential wait; 401/403 surface as AuthError and are never
// retried. The caller owns the response body of a successful call.
func (c *Client) do(ctx context.Context, method, path string, body func() (io.Reader, string)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.creds.Token()
		if err != nil {
			return nil, &AuthError{Op: method + " " + path, Status: 0}
		}

		var reader io.Reader
		var contentType string
		if body != nil {
			reader, contentType = body()
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			_ = resp.Body.Close()
			if attempt >= maxRateLimitRetries {
				return nil, fmt.Errorf("%s %s: rate limit exceeded", method, path)
			}
			wait := rateLimitBaseWait << attempt
			if wait > rateLimitMaxWait {
				wait = rateLimitMaxWait
			}
			c.logger.Warn("rate limited, retrying",
				zap.String("path", path),
				zap.Duration("wait", wait))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			_ = resp.Body.Close()
			return nil, &AuthError{Op: method + " " + path, Status: resp.StatusCode}
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		default:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, snippet)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
