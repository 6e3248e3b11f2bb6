package unifi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Header names used by the controller.
const (
	HeaderAPIKey     = "X-API-Key"
	HeaderCSRFToken  = "X-CSRF-Token"
	headerCSRFUpdate = "X-Updated-Csrf-Token"
)

// Login endpoints, tried in order.
var loginPaths = []string{
	"/api/login",
	"/proxy/network/api/login",
}

// Credentials holds either an API key or a username/password pair. When
// both are present the API key wins.
type Credentials struct {
	APIKey   string
	Username string
	Password string
}

// AuthMode is fixed when a Session is created.
type AuthMode int

const (
	// ModeAPIKey sends a static key header and never logs in.
	ModeAPIKey AuthMode = iota

	// ModeSession logs in with username/password and sends the CSRF token.
	ModeSession
)

func (m AuthMode) String() string {
	if m == ModeAPIKey {
		return "api_key"
	}
	return "session"
}

// doer is satisfied by *http.Client.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Session owns credential material and the login token for one controller.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Concurrent callers that find
//     no valid session share one in-flight login.
type Session struct {
	baseURL string
	creds   Credentials
	mode    AuthMode
	http    doer
	logger  Logger

	mu            sync.RWMutex
	authenticated bool
	token         string
	generation    uint64

	logins singleflight.Group
}

func newSession(baseURL string, creds Credentials, httpClient doer, logger Logger) *Session {
	mode := ModeSession
	if creds.APIKey != "" {
		mode = ModeAPIKey
	}
	return &Session{
		baseURL: baseURL,
		creds:   creds,
		mode:    mode,
		http:    httpClient,
		logger:  logger,
	}
}

// Mode returns the credential mode chosen at construction.
func (s *Session) Mode() AuthMode {
	return s.mode
}

// EnsureAuthenticated returns nil once requests can be authorised.
//
// In API-key mode it never touches the network. In session mode it logs in
// when no session is cached; concurrent callers await the same login.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	if s.mode == ModeAPIKey {
		return nil
	}
	if s.isAuthenticated() {
		return nil
	}

	// A cancelled waiter must not fail the login shared with other callers.
	ch := s.logins.DoChan("login", func() (interface{}, error) {
		if s.isAuthenticated() {
			return nil, nil
		}
		return nil, s.Login(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Login posts the credentials to each login endpoint in order and stops at
// the first success. 401/403 and other failures advance to the next
// endpoint; exhausting the list returns ErrAuthentication.
func (s *Session) Login(ctx context.Context) error {
	if s.creds.Username == "" || s.creds.Password == "" {
		return fmt.Errorf("%w: username and password required for login", ErrAuthentication)
	}

	body, err := json.Marshal(map[string]string{
		"username": s.creds.Username,
		"password": s.creds.Password,
	})
	if err != nil {
		return fmt.Errorf("%w: encoding login payload: %w", ErrAuthentication, err)
	}

	for _, path := range loginPaths {
		token, ok := s.tryLogin(ctx, s.baseURL+path, body)
		if !ok {
			continue
		}

		s.mu.Lock()
		s.authenticated = true
		s.token = token
		s.generation++
		s.mu.Unlock()

		s.logger.Info("logged in to controller", "endpoint", path)
		return nil
	}

	return fmt.Errorf("%w: all login endpoints rejected the credentials", ErrAuthentication)
}

func (s *Session) tryLogin(ctx context.Context, url string, body []byte) (token string, ok bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("building login request failed", "url", url, "error", err)
		return "", false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		s.logger.Warn("login request failed", "url", url, "error", err)
		return "", false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for keep-alive

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		token = resp.Header.Get(HeaderCSRFToken)
		if token == "" {
			token = resp.Header.Get(headerCSRFUpdate)
		}
		return token, true
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		s.logger.Debug("login endpoint rejected credentials", "url", url, "status", resp.StatusCode)
	default:
		s.logger.Warn("unexpected login response", "url", url, "status", resp.StatusCode)
	}
	return "", false
}

// AuthHeaders returns the headers for one request together with the session
// generation they belong to. Pass the generation to Invalidate if the
// request is rejected.
func (s *Session) AuthHeaders() (http.Header, uint64) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")

	if s.mode == ModeAPIKey {
		h.Set(HeaderAPIKey, s.creds.APIKey)
		return h, 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token != "" {
		h.Set(HeaderCSRFToken, s.token)
	}
	return h, s.generation
}

// Invalidate drops the cached session if it is still the one identified by
// generation. A newer session established concurrently is kept.
func (s *Session) Invalidate(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == generation {
		s.authenticated = false
		s.token = ""
	}
}

func (s *Session) isAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// updateToken records a rotated CSRF token sent on a regular response.
func (s *Session) updateToken(resp *http.Response) {
	if s.mode != ModeSession {
		return
	}
	if t := resp.Header.Get(headerCSRFUpdate); t != "" {
		s.mu.Lock()
		s.token = t
		s.mu.Unlock()
	}
}
