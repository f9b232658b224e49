package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover_NoAuthRequired(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := NewDiscoveryEngine()
	result, err := engine.Discover(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, int32(1), requests.Load(), "a 200 probe must short-circuit with no further calls")
}

func TestDiscover_NetworkFailure(t *testing.T) {
	engine := NewDiscoveryEngine()
	result, err := engine.Discover(context.Background(), "http://127.0.0.1:1/unreachable")

	// Discovery must never block a connection attempt.
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestDiscover_FullCascade(t *testing.T) {
	// Authorization server with RFC 8414 metadata.
	as := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/oauth-authorization-server" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                 "https://as.example.com",
			"authorization_endpoint": "https://as.example.com/authorize",
			"token_endpoint":         "https://as.example.com/token",
			"registration_endpoint":  "https://as.example.com/register",
			"scopes_supported":       []string{"asm-scope"},
		})
	}))
	defer as.Close()

	// Protected resource answering 401 with a resource_metadata hint.
	var resource *httptest.Server
	resource = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/oauth-protected-resource":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"resource":              resource.URL,
				"authorization_servers": []string{as.URL},
				"scopes_supported":      []string{"prm-scope"},
			})
		default:
			w.Header().Set("WWW-Authenticate",
				`Bearer resource_metadata="`+resource.URL+`/.well-known/oauth-protected-resource", scope="read write"`)
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer resource.Close()

	engine := NewDiscoveryEngine()
	result, err := engine.Discover(context.Background(), resource.URL)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.RequiresAuth)
	assert.Equal(t, "https://as.example.com/token", result.TokenEndpoint)
	assert.Equal(t, "https://as.example.com/authorize", result.AuthorizationEndpoint)
	assert.Equal(t, "https://as.example.com/register", result.RegistrationEndpoint)
	assert.Equal(t, "read write", result.ScopeHint)
	assert.Equal(t, []string{"prm-scope"}, result.PRMScopes)
	assert.Equal(t, []string{"asm-scope"}, result.ASMScopes)
}

func TestDiscover_OIDCFallback(t *testing.T) {
	// The resource is its own issuer; only OIDC discovery is served.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"issuer":                 "https://idp.example.com",
				"authorization_endpoint": "https://idp.example.com/authorize",
				"token_endpoint":         "https://idp.example.com/token",
			})
		case "/.well-known/oauth-authorization-server", "/.well-known/oauth-protected-resource":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	engine := NewDiscoveryEngine()
	result, err := engine.Discover(context.Background(), server.URL)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "https://idp.example.com/token", result.TokenEndpoint)
	assert.Equal(t, "https://idp.example.com/authorize", result.AuthorizationEndpoint)
}

func TestDiscover_PartialResult(t *testing.T) {
	// 401 with a scope hint but no discoverable metadata anywhere.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Header().Set("WWW-Authenticate", `Bearer scope="read"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	engine := NewDiscoveryEngine()
	result, err := engine.Discover(context.Background(), server.URL)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.RequiresAuth)
	assert.Equal(t, "read", result.ScopeHint)
	assert.Empty(t, result.TokenEndpoint)
	assert.Empty(t, result.AuthorizationEndpoint)
}

func TestDiscover_PRMPathSuffixCandidate(t *testing.T) {
	// No resource_metadata hint; the path-suffixed well-known URL serves PRM.
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1":
			w.Header().Set("WWW-Authenticate", `Bearer`)
			w.WriteHeader(http.StatusUnauthorized)
		case "/.well-known/oauth-protected-resource/api/v1":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"resource":              server.URL + "/api/v1",
				"authorization_servers": []string{server.URL},
			})
		case "/.well-known/oauth-authorization-server":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"issuer":                 server.URL,
				"authorization_endpoint": server.URL + "/authorize",
				"token_endpoint":         server.URL + "/token",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	engine := NewDiscoveryEngine()
	result, err := engine.Discover(context.Background(), server.URL+"/api/v1")

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, server.URL+"/token", result.TokenEndpoint)
}

func TestDiscover_NormalizesTransportSuffix(t *testing.T) {
	// Metadata is keyed on the resource without its /mcp transport suffix:
	// PRM lives at the path-suffixed well-known URL for /api, and the
	// authorization server it names is only reachable through it.
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/mcp":
			w.Header().Set("WWW-Authenticate", `Bearer`)
			w.WriteHeader(http.StatusUnauthorized)
		case "/.well-known/oauth-protected-resource/api":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"resource":              server.URL + "/api",
				"authorization_servers": []string{server.URL + "/tenant"},
			})
		case "/tenant/.well-known/oauth-authorization-server":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"issuer":                 server.URL + "/tenant",
				"authorization_endpoint": server.URL + "/tenant/authorize",
				"token_endpoint":         server.URL + "/tenant/token",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	engine := NewDiscoveryEngine()
	result, err := engine.Discover(context.Background(), server.URL+"/api/mcp")

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, server.URL+"/tenant/token", result.TokenEndpoint)
	assert.Equal(t, server.URL+"/tenant/authorize", result.AuthorizationEndpoint)
}

func TestResolveScopes(t *testing.T) {
	result := &DiscoveryResult{
		ScopeHint: "c",
		PRMScopes: []string{"d"},
		ASMScopes: []string{"e"},
	}

	t.Run("user scope wins over everything", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b"}, ResolveScopes("a b", result, "f"))
	})

	t.Run("header hint wins over PRM", func(t *testing.T) {
		assert.Equal(t, []string{"c"}, ResolveScopes("", result, "f"))
	})

	t.Run("PRM wins over registration scope", func(t *testing.T) {
		r := &DiscoveryResult{PRMScopes: []string{"d"}, ASMScopes: []string{"e"}}
		assert.Equal(t, []string{"d"}, ResolveScopes("", r, "f"))
	})

	t.Run("registration scope wins over ASM", func(t *testing.T) {
		r := &DiscoveryResult{ASMScopes: []string{"e"}}
		assert.Equal(t, []string{"f"}, ResolveScopes("", r, "f"))
	})

	t.Run("ASM wins over fallback", func(t *testing.T) {
		r := &DiscoveryResult{ASMScopes: []string{"e"}}
		assert.Equal(t, []string{"e"}, ResolveScopes("", r, ""))
	})

	t.Run("fallback applies when nothing is known", func(t *testing.T) {
		assert.Equal(t, []string{"openid", "email", "profile"}, ResolveScopes("", nil, ""))
	})
}
