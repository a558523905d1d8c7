// Package client is a typed Go client for the InfoRx API that keeps the
// current session in an explicit store.
//
// A Client is created per caller and passed around by composition. It holds
// an immutable Snapshot of the session and notifies subscribers whenever the
// snapshot changes:
//
//	c := client.New("http://localhost:8080", nil, logger)
//	unsubscribe := c.Subscribe(func(ev client.Event, s client.Snapshot) { ... })
//	defer unsubscribe()
//	err := c.SignIn(ctx, "ada@example.com", "Str0ng!pass")
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sakif/inforx/internal/model"
)

// Event names what changed in the session.
type Event string

const (
	EventSignedIn       Event = "signed_in"
	EventSignedOut      Event = "signed_out"
	EventTokenRefreshed Event = "token_refreshed"
	EventProfileLoaded  Event = "profile_loaded"
	EventError          Event = "error"
)

// Snapshot is the session state at one point in time. A new Snapshot is
// built on every change; the pointers inside must be treated as read-only.
type Snapshot struct {
	User    *model.User
	Profile *model.Profile
	Loading bool
	Err     error
}

// SignedIn reports whether the snapshot holds a user.
func (s Snapshot) SignedIn() bool { return s.User != nil }

// Listener receives every session change.
type Listener func(Event, Snapshot)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Type    string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("inforx: http %d", e.Status)
	}
	return fmt.Sprintf("inforx: %s (%d)", e.Message, e.Status)
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	snap      Snapshot
	listeners map[int]Listener
	nextID    int
}

// New creates a client for the API at baseURL. A nil httpClient uses a
// client with a 30 second timeout.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      httpClient,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
}

// Snapshot returns the current session state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Token returns the bearer token of the current session, if any.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// ExpiresAt is the expiry the server reported for the current token.
func (c *Client) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

// SetToken restores a token saved from an earlier session. Call Load
// afterwards to fetch the user.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Subscribe registers fn for every later change and returns a function that
// removes it. Listeners run synchronously on the goroutine that made the
// change, after the new snapshot is in place.
func (c *Client) Subscribe(fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// update swaps in the next snapshot and notifies listeners outside the lock.
func (c *Client) update(ev Event, mutate func(*Snapshot)) {
	c.mu.Lock()
	next := c.snap
	mutate(&next)
	c.snap = next
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	if ev == "" {
		return
	}
	for _, l := range listeners {
		l(ev, next)
	}
}

func (c *Client) setLoading() {
	c.update("", func(s *Snapshot) { s.Loading = true })
}

func (c *Client) fail(err error) error {
	if c.logger != nil {
		c.logger.Warn("session request failed", slog.String("error", err.Error()))
	}
	c.update(EventError, func(s *Snapshot) {
		s.Loading = false
		s.Err = err
	})
	return err
}

type sessionResponse struct {
	User      *model.User    `json:"user"`
	Profile   *model.Profile `json:"profile"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

func (c *Client) startSession(ev Event, res *sessionResponse) {
	c.mu.Lock()
	c.token = res.Token
	c.expiresAt = res.ExpiresAt
	c.mu.Unlock()

	c.update(ev, func(s *Snapshot) {
		s.User = res.User
		s.Profile = res.Profile
		s.Loading = false
		s.Err = nil
	})
}

// Load performs the initial session fetch. Without a token, or when the
// server rejects it, the snapshot settles as signed out and Load returns nil.
func (c *Client) Load(ctx context.Context) error {
	if c.Token() == "" {
		c.update("", func(s *Snapshot) { *s = Snapshot{} })
		return nil
	}
	c.setLoading()

	var sess sessionResponse
	err := c.do(ctx, http.MethodGet, "/api/me", nil, &sess)
	if IsUnauthorized(err) {
		c.SetToken("")
		c.update(EventSignedOut, func(s *Snapshot) { *s = Snapshot{} })
		return nil
	}
	if err != nil {
		return c.fail(err)
	}
	c.update(EventProfileLoaded, func(s *Snapshot) {
		s.User = sess.User
		s.Profile = sess.Profile
		s.Loading = false
		s.Err = nil
	})
	return nil
}

// SignUpRequest mirrors the sign-up form.
type SignUpRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword,omitempty"`
	FullName        string `json:"fullName"`
	Role            string `json:"role,omitempty"`
}

// SignUp creates an account and signs it in.
func (c *Client) SignUp(ctx context.Context, req SignUpRequest) error {
	c.setLoading()
	var res sessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", req, &res); err != nil {
		return c.fail(err)
	}
	c.startSession(EventSignedIn, &res)
	return nil
}

// SignIn signs in with email and password.
func (c *Client) SignIn(ctx context.Context, email, password string) error {
	c.setLoading()
	var res sessionResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/signin", body, &res); err != nil {
		return c.fail(err)
	}
	c.startSession(EventSignedIn, &res)
	return nil
}

// SignOut ends the session locally even when the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/signout", nil, nil)

	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
	c.update(EventSignedOut, func(s *Snapshot) { *s = Snapshot{} })
	return err
}

// Refresh swaps the token for a new one with a fresh expiry.
func (c *Client) Refresh(ctx context.Context) error {
	var res sessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, &res); err != nil {
		return c.fail(err)
	}
	c.startSession(EventTokenRefreshed, &res)
	return nil
}

// UpdateProfile changes the display name and avatar and publishes the new
// profile.
func (c *Client) UpdateProfile(ctx context.Context, fullName string, avatarURL *string) (*model.Profile, error) {
	body := map[string]any{"fullName": fullName, "avatarUrl": avatarURL}
	var profile model.Profile
	if err := c.do(ctx, http.MethodPut, "/api/profile", body, &profile); err != nil {
		return nil, c.fail(err)
	}
	c.update(EventProfileLoaded, func(s *Snapshot) {
		s.Profile = &profile
		s.Err = nil
	})
	return &profile, nil
}

// do sends one JSON request with the session token and decodes a 2xx body
// into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
