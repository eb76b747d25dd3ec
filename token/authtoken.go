// Package token manages the lifecycle of the opaque auth tokens and
// per-context presence state that ride alongside a pubnub.Pool, independent
// of any single Context's subscribe engine.
package token

import (
	"fmt"
	"sync"
	"time"
)

// AuthTokenManager holds a single opaque auth token (the grant token set via
// Context.SetAuthToken) and its expiry, refreshing it automatically before
// expiry via a caller-supplied callback.
//
// The token's wire representation and claims are opaque to this package --
// unlike a JWT, a PubNub grant token is not decoded locally; the caller's
// refreshFn is responsible for obtaining a new token (typically by calling a
// grant endpoint) and reporting its TTL.
type AuthTokenManager struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	stopCh chan struct{}
	once   sync.Once
}

// NewAuthTokenManager creates an AuthTokenManager holding no token.
func NewAuthTokenManager() *AuthTokenManager {
	return &AuthTokenManager{stopCh: make(chan struct{})}
}

// SetToken stores token and its absolute expiry. Safe for concurrent use.
func (m *AuthTokenManager) SetToken(tok string, expiresAt time.Time) {
	m.mu.Lock()
	m.token = tok
	m.expiresAt = expiresAt
	m.mu.Unlock()
}

// Token returns the current token. Safe for concurrent use.
func (m *AuthTokenManager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// IsExpired reports whether the held token's expiry has passed. A token with
// a zero expiresAt is treated as never expiring (matching the common case of
// a static auth key rather than a granted, time-limited token).
func (m *AuthTokenManager) IsExpired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.expiresAt.IsZero() {
		return false
	}
	return time.Now().After(m.expiresAt)
}

// RefreshFunc obtains a fresh token and reports how long it is valid for.
type RefreshFunc func() (token string, ttl time.Duration, err error)

// StartAutoRefresh launches a background goroutine that checks the current
// token every checkInterval and calls refreshFn when the token is expired or
// will expire within refreshBefore. StartAutoRefresh is non-blocking; call
// Stop to terminate the goroutine.
func (m *AuthTokenManager) StartAutoRefresh(checkInterval, refreshBefore time.Duration, refreshFn RefreshFunc) {
	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.mu.RLock()
				expiresAt := m.expiresAt
				m.mu.RUnlock()
				if expiresAt.IsZero() {
					continue
				}
				if time.Now().Before(expiresAt.Add(-refreshBefore)) {
					continue
				}
				if tok, ttl, err := refreshFn(); err == nil {
					m.SetToken(tok, time.Now().Add(ttl))
				}
			}
		}
	}()
}

// Stop signals the background refresh goroutine, if any, to exit. Idempotent.
func (m *AuthTokenManager) Stop() {
	m.once.Do(func() {
		close(m.stopCh)
	})
}

// String renders the manager state for logging without leaking the token
// value itself.
func (m *AuthTokenManager) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" {
		return "token.AuthTokenManager{<empty>}"
	}
	return fmt.Sprintf("token.AuthTokenManager{set, expires=%s}", m.expiresAt.Format(time.RFC3339))
}
