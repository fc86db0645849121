package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"talekeeper/internal/app/client/transport"
)

func newTestManager(t *testing.T, r *chi.Mux) (*Manager, string) {
	t.Helper()

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokenPath := filepath.Join(t.TempDir(), "token")
	return New(transport.NewHTTP(srv.URL, nil, log), tokenPath, log), tokenPath
}

func TestManager_LoginSavesToken(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/v1/auth/login", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "parent@example.com", body.Email)

		_ = json.NewEncoder(w).Encode(Token{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    time.Now().Add(time.Hour),
		})
	})

	m, tokenPath := newTestManager(t, r)
	require.NoError(t, m.Login(context.Background(), "parent@example.com", "secret"))

	assert.True(t, m.IsValid())

	token, err := m.CurrentToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	// токен сохранён на диск с ограниченными правами
	info, err := os.Stat(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestManager_NoSession(t *testing.T) {
	m, _ := newTestManager(t, chi.NewRouter())

	assert.False(t, m.IsValid())

	_, err := m.CurrentToken(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_LoadsTokenFromFile(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	data, err := json.Marshal(Token{
		AccessToken: "persisted",
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tokenPath, data, 0600))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(transport.NewHTTP("http://127.0.0.1:1", nil, log), tokenPath, log)

	token, err := m.CurrentToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "persisted", token)
}

func TestManager_TransparentRefresh(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Token{
			AccessToken:  "stale",
			RefreshToken: "refresh-1",
			// истекает внутри опережающего окна
			ExpiresAt: time.Now().Add(time.Minute),
		})
	})
	refreshed := false
	r.Post("/api/v1/auth/refresh", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "refresh-1", body.RefreshToken)
		refreshed = true

		_ = json.NewEncoder(w).Encode(Token{
			AccessToken:  "fresh",
			RefreshToken: "refresh-2",
			ExpiresAt:    time.Now().Add(time.Hour),
		})
	})

	m, _ := newTestManager(t, r)
	require.NoError(t, m.Login(context.Background(), "parent@example.com", "secret"))

	token, err := m.CurrentToken(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, "fresh", token)
}

func TestManager_ExpiredWithoutRefreshTokenIsInvalid(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Token{
			AccessToken: "stale",
			ExpiresAt:   time.Now().Add(-time.Minute),
		})
	})

	m, _ := newTestManager(t, r)
	require.NoError(t, m.Login(context.Background(), "parent@example.com", "secret"))

	assert.False(t, m.IsValid())
}

func TestManager_Logout(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Token{
			AccessToken: "access-1",
			ExpiresAt:   time.Now().Add(time.Hour),
		})
	})

	m, tokenPath := newTestManager(t, r)
	require.NoError(t, m.Login(context.Background(), "parent@example.com", "secret"))
	require.NoError(t, m.Logout())

	assert.False(t, m.IsValid())
	_, err := os.Stat(tokenPath)
	assert.True(t, os.IsNotExist(err))

	// повторный logout не ошибка
	assert.NoError(t, m.Logout())
}

func TestToken_Expired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		token   Token
		expired bool
	}{
		{"без срока", Token{AccessToken: "a"}, false},
		{"свежий", Token{AccessToken: "a", ExpiresAt: now.Add(time.Hour)}, false},
		{"внутри окна обновления", Token{AccessToken: "a", ExpiresAt: now.Add(time.Minute)}, true},
		{"истёкший", Token{AccessToken: "a", ExpiresAt: now.Add(-time.Minute)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, tt.token.Expired(now))
		})
	}
}
