// Package providerapi contains the HTTP client for the remote translation provider:
// a cached client-credentials token source and the start/stop task endpoints.
package providerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AliJawad91/falavox-server/telemetry"
)

// safetyMargin is subtracted from the provider-reported token lifetime so the
// cached token is refreshed before it actually expires.
const safetyMargin = 5 * time.Minute

// ErrAuth marks failures caused by missing or rejected OAuth credentials.
// Callers distinguish it from transport/provider failures with errors.Is.
var ErrAuth = errors.New("provider authentication failed")

// TokenSource fetches and caches a provider app access (client credentials) token.
// The cached token is shared by all provider calls; concurrent refreshes collapse
// into a single request. A failed refresh leaves any previous token in place.
type TokenSource struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	sf singleflight.Group
}

// TokenStatus is a diagnostic snapshot of the cache.
type TokenStatus struct {
	HasToken     bool      `json:"hasToken"`
	IsExpired    bool      `json:"isExpired"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
	IsConfigured bool      `json:"isConfigured"`
}

// Get returns a valid (fresh or cached) app access token. The common case is a
// cache hit and performs no network call.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Now().Before(ts.expiresAt) {
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()

	// Collapse concurrent refreshes: one round trip, every waiter shares its result.
	v, err, _ := ts.sf.Do("token", func() (any, error) {
		return ts.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Now().Before(ts.expiresAt) {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", fmt.Errorf("%w: missing client id/secret", ErrAuth)
	}
	telemetry.Inc(telemetry.TokenRefreshes)
	form := url.Values{}
	form.Set("client_id", ts.ClientID)
	form.Set("client_secret", ts.ClientSecret)
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hc := ts.HTTPClient
	if hc == nil {
		// Never an unbounded default: the token endpoint must not be able to
		// stall callers even when no client was wired in.
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		telemetry.Inc(telemetry.TokenRefreshFailures)
		// Previous token (if any) stays cached: a transient failure must not
		// invalidate one that still has remaining validity.
		return "", fmt.Errorf("%w: token request: %v", ErrAuth, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		telemetry.Inc(telemetry.TokenRefreshFailures)
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: token request: %s: %s", ErrAuth, resp.Status, string(b))
	}
	var at struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&at); err != nil {
		telemetry.Inc(telemetry.TokenRefreshFailures)
		return "", fmt.Errorf("%w: decode token response: %v", ErrAuth, err)
	}
	if at.AccessToken == "" {
		telemetry.Inc(telemetry.TokenRefreshFailures)
		return "", fmt.Errorf("%w: empty access_token in response", ErrAuth)
	}
	ts.token = at.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(at.ExpiresIn)*time.Second - safetyMargin)
	return ts.token, nil
}

// Invalidate clears the cached token unconditionally. Used for manual recovery
// and when the provider rejects the bearer token.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = ""
	ts.expiresAt = time.Time{}
}

// Status reports the cache state for the diagnostic endpoint. The token value
// itself is never exposed.
func (ts *TokenSource) Status() TokenStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return TokenStatus{
		HasToken:     ts.token != "",
		IsExpired:    ts.token == "" || !time.Now().Before(ts.expiresAt),
		ExpiresAt:    ts.expiresAt,
		IsConfigured: ts.ClientID != "" && ts.ClientSecret != "",
	}
}
