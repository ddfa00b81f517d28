// Package agriapi is the HTTP client for the agri backend's alert and
// profile endpoints.
package agriapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"vn.io.arda/cropalert/internal/domain"
)

// ErrUnsuccessful is returned when the backend answers with success=false.
var ErrUnsuccessful = errors.New("agri backend reported failure")

// Client implements poller.AlertAPI against the agri backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	// Preference lookups are cached briefly; every new session and every
	// refresh asks for it.
	mu        sync.RWMutex
	cacheTTL  time.Duration
	prefCache map[string]cacheEntry
	// prefVersion moves on every write or invalidation. A lookup that
	// started under an older version does not cache its answer.
	prefVersion map[string]uint64
}

type cacheEntry struct {
	enabled   bool
	expiresAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outbound requests per second across all callers.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithPreferenceCacheTTL sets how long preference lookups are reused.
// Zero disables the cache.
func WithPreferenceCacheTTL(d time.Duration) Option {
	return func(c *Client) { c.cacheTTL = d }
}

// New creates a Client with a 10-second timeout, 20 req/s limit and a
// 30-second preference cache.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(20), 20),
		cacheTTL:   30 * time.Second,
		prefCache:  make(map[string]cacheEntry),

		prefVersion: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the common {success, ...} wrapper used by every endpoint.
type envelope struct {
	Success bool           `json:"success"`
	Enabled bool           `json:"enabled"`
	Count   int            `json:"count"`
	Alerts  []domain.Alert `json:"alerts"`
	Message string         `json:"message"`
	Error   string         `json:"error"`
}

// NotificationPreference reports whether the user wants alert notifications.
func (c *Client) NotificationPreference(ctx context.Context, email string) (bool, error) {
	enabled, version, ok := c.fromCache(email)
	if ok {
		return enabled, nil
	}

	q := url.Values{"email": {email}}
	env, err := c.get(ctx, "/api/profile/notification-preference", q)
	if err != nil {
		return false, fmt.Errorf("notification preference: %w", err)
	}
	c.toCache(email, env.Enabled, version)
	return env.Enabled, nil
}

// AlertsByLocation returns up to limit alerts near the user, newest first.
func (c *Client) AlertsByLocation(ctx context.Context, email string, limit int) ([]domain.Alert, error) {
	q := url.Values{"email": {email}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	env, err := c.get(ctx, "/api/alerts/by-location", q)
	if err != nil {
		return nil, fmt.Errorf("alerts by location: %w", err)
	}
	return env.Alerts, nil
}

// NewAlertsCount returns how many alerts near the user have id > lastSeenID.
func (c *Client) NewAlertsCount(ctx context.Context, email string, lastSeenID int64) (int, error) {
	q := url.Values{
		"email":      {email},
		"lastSeenId": {strconv.FormatInt(lastSeenID, 10)},
	}
	env, err := c.get(ctx, "/api/alerts/new-count", q)
	if err != nil {
		return 0, fmt.Errorf("new alerts count: %w", err)
	}
	return env.Count, nil
}

// UpdateNotificationPreference writes the preference through to the backend.
func (c *Client) UpdateNotificationPreference(ctx context.Context, email string, enabled bool) error {
	body, err := json.Marshal(map[string]any{"email": email, "enabled": enabled})
	if err != nil {
		return err
	}
	c.Invalidate(email)

	if _, err := c.do(ctx, http.MethodPost, "/api/profile/update-notification-preference", nil, body); err != nil {
		return fmt.Errorf("update notification preference: %w", err)
	}

	// Lookups that ran while the write was in flight may have cached the
	// old value; the written value replaces it.
	c.mu.Lock()
	c.prefVersion[email]++
	if c.cacheTTL > 0 {
		c.prefCache[email] = cacheEntry{enabled: enabled, expiresAt: time.Now().Add(c.cacheTTL)}
	}
	c.mu.Unlock()
	return nil
}

// Invalidate drops the cached preference for email.
func (c *Client) Invalidate(email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prefCache, email)
	c.prefVersion[email]++
}

// --- internal helpers ---

func (c *Client) get(ctx context.Context, path string, q url.Values) (*envelope, error) {
	return c.do(ctx, http.MethodGet, path, q, nil)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte) (*envelope, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if env.Error != "" {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, env.Error)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	if !env.Success {
		if env.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrUnsuccessful, env.Message)
		}
		return nil, ErrUnsuccessful
	}
	return &env, nil
}

// fromCache retrieves a cached preference if not expired, along with the
// version a fresh lookup must present to toCache.
func (c *Client) fromCache(email string) (enabled bool, version uint64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	version = c.prefVersion[email]
	if c.cacheTTL <= 0 {
		return false, version, false
	}
	entry, found := c.prefCache[email]
	if !found || time.Now().After(entry.expiresAt) {
		return false, version, false
	}
	return entry.enabled, version, true
}

// toCache stores a preference with the configured TTL unless the entry was
// written or invalidated since version was read.
func (c *Client) toCache(email string, enabled bool, version uint64) {
	if c.cacheTTL <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prefVersion[email] != version {
		return
	}
	c.prefCache[email] = cacheEntry{enabled: enabled, expiresAt: time.Now().Add(c.cacheTTL)}
}
