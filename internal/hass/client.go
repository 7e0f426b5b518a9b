// Package hass talks to the Home Assistant REST and websocket APIs.
package hass

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultAttempts = 3
	defaultBackoff  = time.Second
)

// authorizer decorates outgoing requests with credentials.
type authorizer interface {
	authorize(req *http.Request)
	ready() bool
}

// bearerAuth sends a long-lived access token.
type bearerAuth struct{ token string }

func (a bearerAuth) authorize(req *http.Request) { req.Header.Set("Authorization", "Bearer "+a.token) }
func (a bearerAuth) ready() bool                 { return a.token != "" }

// sessionAuth relies on ambient credentials: cookies held by the HTTP
// client's jar, or a trusted network that needs none.
type sessionAuth struct{}

func (sessionAuth) authorize(*http.Request) {}
func (sessionAuth) ready() bool             { return true }

// Client is a Home Assistant REST client. Construct it with NewTokenClient or
// NewSessionClient; both satisfy history.Service and comparison.LiveLookup.
type Client struct {
	baseURL  string
	auth     authorizer
	http     *http.Client
	logger   *logrus.Logger
	attempts int
	backoff  time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *logrus.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetry sets the number of attempts for retryable failures and the base
// of the exponential backoff between them.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.backoff = backoff
	}
}

// NewTokenClient authenticates with a long-lived access token.
func NewTokenClient(baseURL, token string, opts ...Option) *Client {
	return newClient(baseURL, bearerAuth{token: token}, opts...)
}

// NewSessionClient authenticates with whatever the HTTP client carries. A nil
// jar leaves the client's cookie handling as is.
func NewSessionClient(baseURL string, jar http.CookieJar, opts ...Option) *Client {
	c := newClient(baseURL, sessionAuth{}, opts...)
	if jar != nil {
		hc := *c.http
		hc.Jar = jar
		c.http = &hc
	}
	return c
}

func newClient(baseURL string, auth authorizer, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		auth:     auth,
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   logrus.StandardLogger(),
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Available reports whether the client has enough configuration to be used.
func (c *Client) Available() bool {
	return c != nil && c.baseURL != "" && c.auth.ready()
}

type apiError struct {
	statusCode int
	message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.message)
}

func isRetryable(err error) bool {
	ae, ok := err.(*apiError)
	if !ok {
		return true // network errors are retryable
	}
	return ae.statusCode == http.StatusTooManyRequests || ae.statusCode >= 500
}

func isNotFound(err error) bool {
	ae, ok := err.(*apiError)
	return ok && ae.statusCode == http.StatusNotFound
}

// get issues a GET against path (relative to /api) and retries 429, 5xx and
// network failures with exponential backoff.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + "/api/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body []byte
	var err error
	for attempt := 0; attempt < c.attempts; attempt++ {
		body, err = c.doRequest(ctx, u)
		if err == nil {
			return body, nil
		}
		if !isRetryable(err) || ctx.Err() != nil || attempt == c.attempts-1 {
			break
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * c.backoff
		c.logger.WithFields(logrus.Fields{"path": path, "wait": wait, "error": err}).Debug("retrying request")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, err
}

func (c *Client) doRequest(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &apiError{statusCode: resp.StatusCode, message: "authentication failed, check the access token"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{statusCode: resp.StatusCode, message: string(body)}
	}
	return body, nil
}
