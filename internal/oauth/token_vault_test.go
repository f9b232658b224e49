package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/internal/api"
	pkgoauth "toolgate/pkg/oauth"
)

func TestTokenVault_Set(t *testing.T) {
	t.Run("computes absolute expiry", func(t *testing.T) {
		vault := NewTokenVault(NewTokenClient())
		vault.Set("s1", &pkgoauth.TokenResponse{
			AccessToken: "at-1",
			ExpiresIn:   120,
		})

		record := vault.Get("s1")
		require.NotNil(t, record)
		assert.WithinDuration(t, time.Now().Add(120*time.Second), record.ExpiresAt, 5*time.Second)
	})

	t.Run("defaults expiry to one hour", func(t *testing.T) {
		vault := NewTokenVault(NewTokenClient())
		vault.Set("s1", &pkgoauth.TokenResponse{AccessToken: "at-1"})

		record := vault.Get("s1")
		require.NotNil(t, record)
		assert.WithinDuration(t, time.Now().Add(time.Hour), record.ExpiresAt, 5*time.Second)
	})

	t.Run("retains previous refresh token when response omits one", func(t *testing.T) {
		vault := NewTokenVault(NewTokenClient())
		vault.Set("s1", &pkgoauth.TokenResponse{AccessToken: "at-1", RefreshToken: "rt-1"})
		vault.Set("s1", &pkgoauth.TokenResponse{AccessToken: "at-2"})

		record := vault.Get("s1")
		require.NotNil(t, record)
		assert.Equal(t, "at-2", record.AccessToken)
		assert.Equal(t, "rt-1", record.RefreshToken)
	})
}

func TestTokenVault_AuthHeader(t *testing.T) {
	t.Run("returns cached token while valid", func(t *testing.T) {
		vault := NewTokenVault(NewTokenClient())
		vault.Set("s1", &pkgoauth.TokenResponse{
			AccessToken: "at-1",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		})

		header, err := vault.AuthHeader(context.Background(), "s1", nil)
		require.NoError(t, err)
		assert.Equal(t, "Bearer at-1", header)
	})

	t.Run("refreshes expired token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
			assert.Equal(t, "rt-1", r.Form.Get("refresh_token"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "at-fresh",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		}))
		defer server.Close()

		vault := NewTokenVault(NewTokenClient())
		vault.Set("s1", &pkgoauth.TokenResponse{
			AccessToken:  "at-stale",
			RefreshToken: "rt-1",
			ExpiresIn:    1, // expires within the safety margin
		})

		header, err := vault.AuthHeader(context.Background(), "s1", &api.OAuthConfig{
			TokenURL: server.URL,
			ClientID: "client-1",
		})

		require.NoError(t, err)
		assert.Equal(t, "Bearer at-fresh", header)
	})

	t.Run("refresh failure surfaces the typed error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		}))
		defer server.Close()

		vault := NewTokenVault(NewTokenClient())
		vault.Set("s1", &pkgoauth.TokenResponse{
			AccessToken:  "at-stale",
			RefreshToken: "rt-1",
			ExpiresIn:    1,
		})

		_, err := vault.AuthHeader(context.Background(), "s1", &api.OAuthConfig{
			TokenURL: server.URL,
		})

		var exchangeErr *TokenExchangeError
		require.ErrorAs(t, err, &exchangeErr)
		assert.Equal(t, TokenErrorRefreshFailed, exchangeErr.Class)
	})

	t.Run("no credential yields AuthRequiredError with connect URL", func(t *testing.T) {
		vault := NewTokenVault(NewTokenClient())

		_, err := vault.AuthHeader(context.Background(), "s1", &api.OAuthConfig{
			AuthURL:  "https://as.example.com/authorize",
			ClientID: "client-1",
			Scope:    "read",
		})

		var authErr *AuthRequiredError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "s1", authErr.ServerID)
		assert.Contains(t, authErr.ConnectURL, "https://as.example.com/authorize")
		assert.Contains(t, authErr.ConnectURL, "client_id=client-1")
	})
}

func TestTokenVault_DeleteAndHas(t *testing.T) {
	vault := NewTokenVault(NewTokenClient())
	vault.Set("s1", &pkgoauth.TokenResponse{AccessToken: "at-1"})

	assert.True(t, vault.Has("s1"))
	vault.Delete("s1")
	assert.False(t, vault.Has("s1"))

	// Deleting an unknown id is a no-op.
	vault.Delete("missing")
}
