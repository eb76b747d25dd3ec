package token_test

import (
	"testing"
	"time"

	"github.com/pubnub-go/pncore/token"
)

func TestAuthTokenManager_SetAndIsExpired(t *testing.T) {
	m := token.NewAuthTokenManager()
	if m.IsExpired() {
		t.Error("empty manager with zero expiry should not report expired")
	}

	m.SetToken("tok-1", time.Now().Add(-time.Second))
	if !m.IsExpired() {
		t.Error("expected token to be expired")
	}
	if m.Token() != "tok-1" {
		t.Errorf("got token %q", m.Token())
	}
}

func TestAuthTokenManager_AutoRefreshReplacesExpiredToken(t *testing.T) {
	m := token.NewAuthTokenManager()
	defer m.Stop()
	m.SetToken("stale", time.Now().Add(5*time.Millisecond))

	refreshed := make(chan struct{}, 1)
	m.StartAutoRefresh(5*time.Millisecond, 50*time.Millisecond, func() (string, time.Duration, error) {
		refreshed <- struct{}{}
		return "fresh", time.Hour, nil
	})

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for refresh")
	}

	time.Sleep(10 * time.Millisecond)
	if m.Token() != "fresh" {
		t.Errorf("got token %q, want fresh", m.Token())
	}
}
