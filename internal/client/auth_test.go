package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"parley/internal/credstore"
)

func testAccessToken(t *testing.T, email string, ttl time.Duration) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "u1",
		"email": email,
		"exp":   time.Now().Add(ttl).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestLogin_StoresPairAndReturnsUser(t *testing.T) {
	access := testAccessToken(t, "ada@example.test", time.Hour)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" {
			http.NotFound(w, r)
			return
		}
		var payload loginRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		if payload.Email != "ada@example.test" || payload.Password != "hunter2" {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(loginResponse{
			AccessToken:  access,
			RefreshToken: "refresh-1",
			User:         User{Email: "ada@example.test"},
		})
	}))
	defer server.Close()

	c, keeper := newTestClient(t, server, nil)

	user, err := c.Login(context.Background(), "ada@example.test", "hunter2")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.Email != "ada@example.test" {
		t.Fatalf("user = %#v", user)
	}
	pair, ok := keeper.Load()
	if !ok || pair.AccessToken != access || pair.RefreshToken != "refresh-1" {
		t.Fatalf("stored pair = %#v ok=%v", pair, ok)
	}

	identity, ok := c.CurrentIdentity()
	if !ok || identity.Email != "ada@example.test" {
		t.Fatalf("identity = %#v ok=%v", identity, ok)
	}
}

func TestLogin_RejectedCredentialsSurfaceStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer server.Close()

	c, keeper := newTestClient(t, server, nil)
	if _, err := c.Login(context.Background(), "ada@example.test", "wrong"); !IsUnauthorized(err) {
		t.Fatalf("Login() error = %v, want unauthorized", err)
	}
	if _, ok := keeper.Load(); ok {
		t.Fatalf("failed login must not store credentials")
	}
}

func TestCurrentIdentity_MalformedTokenClearsSession(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	c, keeper := newTestClient(t, server, &credstore.Pair{AccessToken: "not-a-jwt", RefreshToken: "refresh-1"})

	if _, ok := c.CurrentIdentity(); ok {
		t.Fatalf("CurrentIdentity() ok = true for malformed token")
	}
	if _, ok := keeper.Load(); ok {
		t.Fatalf("malformed credential should clear the stored pair")
	}
}

func TestLogout_ClearsPairWithoutExpiredHook(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	c, keeper := newTestClient(t, server, &credstore.Pair{AccessToken: "a1", RefreshToken: "r1"})
	var expired atomic.Int32
	c.OnSessionExpired(func(error) { expired.Add(1) })

	if err := c.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, ok := keeper.Load(); ok {
		t.Fatalf("Logout() should clear the stored pair")
	}
	if expired.Load() != 0 {
		t.Fatalf("user-initiated logout must not fire the expired hook")
	}
}

func TestEnsureFreshSession_RenewsNearExpiryToken(t *testing.T) {
	var refreshCalls atomic.Int32
	fresh := testAccessToken(t, "ada@example.test", time.Hour)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/refresh" {
			http.NotFound(w, r)
			return
		}
		refreshCalls.Add(1)
		_ = json.NewEncoder(w).Encode(refreshResponse{AccessToken: fresh, RefreshToken: "refresh-2"})
	}))
	defer server.Close()

	nearExpiry := testAccessToken(t, "ada@example.test", time.Minute)
	c, keeper := newTestClient(t, server, &credstore.Pair{AccessToken: nearExpiry, RefreshToken: "refresh-1"})

	if err := c.EnsureFreshSession(context.Background()); err != nil {
		t.Fatalf("EnsureFreshSession() error = %v", err)
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	pair, _ := keeper.Load()
	if pair.AccessToken != fresh {
		t.Fatalf("pair not renewed: %#v", pair)
	}

	// A fresh token is left alone.
	if err := c.EnsureFreshSession(context.Background()); err != nil {
		t.Fatalf("EnsureFreshSession() second call error = %v", err)
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls after fresh token = %d, want still 1", got)
	}
}
