package unifi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every controller request.
	DefaultTimeout = 10 * time.Second

	// DefaultSite is the controller site used when none is configured.
	DefaultSite = "default"

	maxResponseSize = 4 << 20
)

// Logger is the logging interface used by this package.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a controller Client.
type Options struct {
	// BaseURL is the controller root, e.g. "https://192.168.1.1".
	BaseURL string

	// Site is the controller site name. Default: "default"
	Site string

	Credentials Credentials

	// VerifyTLS enables certificate verification. Controllers commonly use
	// self-signed certificates, so this is configurable.
	VerifyTLS bool

	// Timeout bounds each request. Default: 10s
	Timeout time.Duration

	// HTTPClient overrides the HTTP client. Its Jar should hold cookies for
	// session mode. Used by tests.
	HTTPClient *http.Client

	Logger Logger
}

// Client is the authenticated transport to a UniFi Network controller.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	baseURL string
	site    string
	http    *http.Client
	session *Session
	logger  Logger
}

// NewClient builds a Client. No network traffic happens until the first
// request.
//
// Returns:
//   - *Client: Ready client
//   - error: ErrInvalidOptions when the base URL or credentials are missing
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrInvalidOptions)
	}
	creds := opts.Credentials
	if creds.APIKey == "" && (creds.Username == "" || creds.Password == "") {
		return nil, fmt.Errorf("%w: an API key or username and password are required", ErrInvalidOptions)
	}

	site := opts.Site
	if site == "" {
		site = DefaultSite
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: creating cookie jar: %w", ErrInvalidOptions, err)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		// #nosec G402 -- verification is an explicit operator choice
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !opts.VerifyTLS}
		httpClient = &http.Client{Timeout: timeout, Jar: jar, Transport: transport}
	}

	return &Client{
		baseURL: baseURL,
		site:    site,
		http:    httpClient,
		session: newSession(baseURL, creds, httpClient, logger),
		logger:  logger,
	}, nil
}

// Session returns the client's auth session.
func (c *Client) Session() *Session {
	return c.session
}

// Site returns the configured site name.
func (c *Client) Site() string {
	return c.site
}

// response is a fully read controller reply.
type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// do performs an authorised request against path (relative to the base
// URL). In session mode one 401/403 triggers a single re-login and retry;
// a second rejection, or any rejection in API-key mode, is
// ErrAuthentication. Other statuses are returned to the caller.
func (c *Client) do(ctx context.Context, method, path string, payload any) (response, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return response{}, fmt.Errorf("%w: encoding request: %w", ErrRequestFailed, err)
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.session.EnsureAuthenticated(ctx); err != nil {
			return response{}, err
		}

		headers, generation := c.session.AuthHeaders()
		resp, err := c.send(ctx, method, path, headers, body)
		if err != nil {
			return response{}, err
		}

		if resp.status != http.StatusUnauthorized && resp.status != http.StatusForbidden {
			return resp, nil
		}
		if c.session.Mode() == ModeAPIKey {
			return response{}, fmt.Errorf("%w: API key rejected (%d %s)", ErrAuthentication, resp.status, path)
		}
		if attempt > 0 {
			return response{}, fmt.Errorf("%w: still unauthorised after re-login (%d %s)", ErrAuthentication, resp.status, path)
		}

		c.logger.Info("controller session expired, logging in again", "path", path, "status", resp.status)
		c.session.Invalidate(generation)
	}
}

func (c *Client) send(ctx context.Context, method, path string, headers http.Header, body []byte) (response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return response{}, fmt.Errorf("%w: building request: %w", ErrRequestFailed, err)
	}
	req.Header = headers

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	c.session.updateToken(resp)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return response{}, fmt.Errorf("%w: reading %s: %w", ErrRequestFailed, path, err)
	}
	return response{status: resp.StatusCode, body: data}, nil
}

// decodeEnvelope parses a {"meta":{...},"data":[...]} reply. A missing
// meta block counts as malformed.
func decodeEnvelope(body []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Meta == nil {
		return envelope{}, fmt.Errorf("malformed envelope: missing meta")
	}
	return env, nil
}
