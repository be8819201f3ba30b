package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealdesk/authsession/pkg/session"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cli, err := New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return cli, srv
}

func writeEnvelope(w http.ResponseWriter, token string, expiresIn int64) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"accessToken": token,
		"tokenType":   "Bearer",
		"expiresIn":   expiresIn,
	})
}

func TestLogin_plantsCookieAndParsesEnvelope(t *testing.T) {
	so := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		so.Equal("alice@mealdesk.test", body.Email)
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "rt-1", HttpOnly: true, Path: "/auth"})
		writeEnvelope(w, "acc-1", 900)
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("refresh_token")
		require.NoError(t, err, "jar must auto-attach the refresh cookie")
		so.Equal("rt-1", cookie.Value)
		writeEnvelope(w, "acc-2", 900)
	})

	cli, _ := newTestClient(t, mux)

	cred, err := cli.Login(context.Background(), "alice@mealdesk.test", "hunter2")
	require.NoError(t, err)
	so.Equal("acc-1", cred.Token)
	so.Equal(900*time.Second, cred.ExpiresIn)
	so.False(cred.IssuedAt.IsZero())

	cred, err = cli.Refresh(context.Background())
	require.NoError(t, err)
	so.Equal("acc-2", cred.Token)
}

func TestRefresh_errors(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		cli, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		_, err := cli.Refresh(context.Background())
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("malformed envelope", func(t *testing.T) {
		cli, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, "", 900) // missing accessToken
		}))
		_, err := cli.Refresh(context.Background())
		assert.Error(t, err, "a malformed success payload must never become a credential")
	})

	t.Run("zero lifetime", func(t *testing.T) {
		cli, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, "acc", 0)
		}))
		_, err := cli.Refresh(context.Background())
		assert.Error(t, err)
	})
}

func TestLogout_networkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	cli, err := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	srv.Close() // backend is gone

	err = cli.Logout(context.Background())
	assert.Error(t, err, "the transport reports the failure; swallowing it is the manager's job")
}

func TestValidateSession_retriesOnceAfter401(t *testing.T) {
	so := assert.New(t)

	var sessionCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/session", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&sessionCalls, 1)
		if n == 1 {
			so.Equal("Bearer stale", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		so.Equal("Bearer fresh", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SessionInfo{
			UserID:    "alice@mealdesk.test",
			IssuedAt:  time.Now(),
			ExpiresAt: time.Now().Add(15 * time.Minute),
		})
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "fresh", 900)
	})

	cli, _ := newTestClient(t, mux)
	mgr := session.NewManager(session.Config{Refresher: cli})
	t.Cleanup(mgr.ClearCredential)
	mgr.SetCredential(session.Credential{Token: "stale", ExpiresIn: 900 * time.Second})

	info, err := cli.ValidateSession(context.Background(), mgr)
	require.NoError(t, err)
	so.Equal("alice@mealdesk.test", info.UserID)
	so.Equal(int32(2), atomic.LoadInt32(&sessionCalls))

	cred, ok := mgr.Credential()
	so.True(ok)
	so.Equal("fresh", cred.Token, "the retry must run on the refreshed credential")
}

func TestValidateSession_noCredential(t *testing.T) {
	cli, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected without a credential")
	}))
	mgr := session.NewManager(session.Config{Refresher: cli})

	_, err := cli.ValidateSession(context.Background(), mgr)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}
