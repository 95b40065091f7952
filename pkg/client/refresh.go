// Package client provides the client-side credential refresh coordinator.
// It keeps a shared access/refresh token pair fresh so that long-lived
// websocket sessions never present an expired bearer token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshBuffer is how much remaining lifetime triggers a proactive
// refresh.
const DefaultRefreshBuffer = 5 * time.Minute

// Credentials is the access/refresh token pair held by the coordinator.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// RefreshFunc exchanges a refresh token for a new credential pair,
// normally by calling the server's refresh endpoint.
type RefreshFunc func(ctx context.Context, refreshToken string) (Credentials, error)

// Listener is notified after a successful refresh. Listeners should
// re-read credentials from the coordinator rather than caching the
// delivered pair.
type Listener func(Credentials)

// Coordinator serializes refresh attempts. Concurrent callers of
// EnsureFreshToken during an in-flight refresh share the single
// outstanding attempt.
type Coordinator struct {
	refresh RefreshFunc
	buffer  time.Duration

	group singleflight.Group

	mu        sync.RWMutex
	creds     Credentials
	listeners []Listener
}

// NewCoordinator seeds the coordinator with the current credential pair.
// A buffer <= 0 falls back to DefaultRefreshBuffer.
func NewCoordinator(creds Credentials, refresh RefreshFunc, buffer time.Duration) *Coordinator {
	if buffer <= 0 {
		buffer = DefaultRefreshBuffer
	}
	return &Coordinator{
		refresh: refresh,
		buffer:  buffer,
		creds:   creds,
	}
}

// Credentials returns the current pair.
func (c *Coordinator) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// SetCredentials replaces the stored pair, e.g. after a fresh login.
func (c *Coordinator) SetCredentials(creds Credentials) {
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
}

// OnUpdate registers a listener invoked after every successful refresh.
func (c *Coordinator) OnUpdate(fn Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// EnsureFreshToken returns an access token with at least the configured
// buffer of lifetime remaining, refreshing if needed. On refresh failure
// the stale credentials stay in place and the error is returned.
func (c *Coordinator) EnsureFreshToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	current := c.creds
	c.mu.RUnlock()

	if !needsRefresh(current.AccessToken, c.buffer) {
		return current.AccessToken, nil
	}

	// One refresh at a time per client; late arrivals share the result.
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		c.mu.RLock()
		creds := c.creds
		c.mu.RUnlock()

		// Another caller may have finished a refresh while we waited.
		if !needsRefresh(creds.AccessToken, c.buffer) {
			return creds.AccessToken, nil
		}

		fresh, err := c.refresh(ctx, creds.RefreshToken)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.creds = fresh
		listeners := make([]Listener, len(c.listeners))
		copy(listeners, c.listeners)
		c.mu.Unlock()

		for _, fn := range listeners {
			fn(fresh)
		}
		return fresh.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// needsRefresh decodes the expiry claim without verifying the signature.
// The server remains the authority; this is a convenience check only.
// Tokens that cannot be decoded are treated as needing a refresh.
func needsRefresh(accessToken string, buffer time.Duration) bool {
	if accessToken == "" {
		return true
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Until(exp.Time) < buffer
}

// HTTPRefreshFunc builds a RefreshFunc posting to the server's
// /api/auth/refresh endpoint.
func HTTPRefreshFunc(baseURL string, httpClient *http.Client) RefreshFunc {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context, refreshToken string) (Credentials, error) {
		body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
		if err != nil {
			return Credentials{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/auth/refresh", bytes.NewReader(body))
		if err != nil {
			return Credentials{}, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(req)
		if err != nil {
			return Credentials{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return Credentials{}, fmt.Errorf("refresh failed: status %d: %s", resp.StatusCode, string(data))
		}

		var parsed struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return Credentials{}, err
		}
		if parsed.AccessToken == "" {
			return Credentials{}, errors.New("refresh response missing access token")
		}
		return Credentials{AccessToken: parsed.AccessToken, RefreshToken: parsed.RefreshToken}, nil
	}
}
