package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/internal/api"
	"toolgate/internal/mcpclient"
	"toolgate/internal/oauth"
	pkgoauth "toolgate/pkg/oauth"
)

// unreachableURL makes the discovery probe fail fast with a connect error,
// which discovery treats as "no auth required".
const unreachableURL = "http://127.0.0.1:1/mcp"

// dialRecorder scripts the transport dialer and counts activity across all
// clients it hands out.
type dialRecorder struct {
	initErr   error
	initDelay time.Duration
	tools     []mcp.Tool
	callRes   *mcp.CallToolResult

	inits  atomic.Int32
	closes atomic.Int32
}

func (d *dialRecorder) dial(url string, headers map[string]string) mcpclient.MCPClient {
	return &stubClient{rec: d}
}

type stubClient struct {
	rec *dialRecorder
}

func (s *stubClient) Initialize(ctx context.Context) error {
	s.rec.inits.Add(1)
	if s.rec.initDelay > 0 {
		time.Sleep(s.rec.initDelay)
	}
	return s.rec.initErr
}

func (s *stubClient) Close() error {
	s.rec.closes.Add(1)
	return nil
}

func (s *stubClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return s.rec.tools, nil
}

func (s *stubClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return s.rec.callRes, nil
}

func (s *stubClient) Ping(ctx context.Context) error { return nil }

func newTestCoordinator(t *testing.T, rec *dialRecorder) *Coordinator {
	t.Helper()
	c, err := New(Deps{
		Registry:  NewConnectionRegistry(),
		Vault:     oauth.NewTokenVault(oauth.NewTokenClient()),
		Discovery: oauth.NewDiscoveryEngine(),
		Registrar: oauth.NewClientRegistrar("http://localhost:8080/oauth/callback", nil),
		Factory:   mcpclient.NewFactory(mcpclient.WithDialers(rec.dial, rec.dial)),
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestConnect_Success(t *testing.T) {
	rec := &dialRecorder{}
	c := newTestCoordinator(t, rec)

	desc := &api.ServerDescriptor{ID: "plain", Name: "Plain Server", Type: api.ServerTypeSSE, URL: unreachableURL}
	state := c.Connect(context.Background(), desc)

	assert.Equal(t, api.StatusConnected, state.Status)
	assert.Equal(t, "Plain Server", state.Name)
	assert.Empty(t, state.Error)
	assert.Equal(t, int32(1), rec.inits.Load())

	// Connecting an already-connected server is a no-op.
	state = c.Connect(context.Background(), desc)
	assert.Equal(t, api.StatusConnected, state.Status)
	assert.Equal(t, int32(1), rec.inits.Load())

	statuses := c.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "plain", statuses[0].ID)
	assert.False(t, statuses[0].HasToken)
}

func TestConnect_AuthCascadeEndToEnd(t *testing.T) {
	// Authorization server metadata, no registration endpoint.
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
			"scopes_supported":       []string{"asm-scope"},
		})
	}))
	defer as.Close()

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

	rec := &dialRecorder{initErr: &mcpclient.TransportError{Class: mcpclient.FailureAuthRejected, StatusCode: 401}}
	c := newTestCoordinator(t, rec)

	desc := &api.ServerDescriptor{ID: "github", Type: api.ServerTypeSSE, URL: resource.URL}
	state := c.Connect(context.Background(), desc)

	assert.Equal(t, api.StatusAuthRequired, state.Status)
	assert.NotEmpty(t, state.Error)

	// The connect URL points at the discovered authorization endpoint and
	// carries exactly the scope hinted by the WWW-Authenticate challenge.
	require.NotEmpty(t, state.ConnectURL)
	connectURL, err := url.Parse(state.ConnectURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(state.ConnectURL, "https://as.example.com/authorize"))
	assert.Equal(t, "read write", connectURL.Query().Get("scope"))
	assert.Equal(t, "code", connectURL.Query().Get("response_type"))

	// Discovery results were merged into the descriptor's oauth config.
	require.NotNil(t, desc.OAuth)
	assert.Equal(t, "https://as.example.com/token", desc.OAuth.TokenURL)
	assert.Equal(t, "https://as.example.com/authorize", desc.OAuth.AuthURL)

	// A 401 never triggers the transport fallback.
	assert.Equal(t, int32(1), rec.inits.Load())

	_, err = c.ListTools(context.Background(), "github")
	var ncErr *NotConnectedError
	require.ErrorAs(t, err, &ncErr)
	assert.Equal(t, "github", ncErr.ServerID)
}

func TestConnect_DynamicRegistration(t *testing.T) {
	var registered atomic.Int32
	var requestedScope string
	reg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		registered.Add(1)
		var req pkgoauth.ClientRegistrationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requestedScope = req.Scope
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"client_id": "generated-id",
			"scope":     "granted",
		})
	}))
	defer reg.Close()

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
			"registration_endpoint":  reg.URL,
		})
	}))
	defer as.Close()

	var resource *httptest.Server
	resource = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/oauth-protected-resource":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"resource":              resource.URL,
				"authorization_servers": []string{as.URL},
			})
		default:
			w.Header().Set("WWW-Authenticate",
				`Bearer resource_metadata="`+resource.URL+`/.well-known/oauth-protected-resource", scope="read write"`)
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer resource.Close()

	rec := &dialRecorder{initErr: &mcpclient.TransportError{Class: mcpclient.FailureAuthRejected, StatusCode: 401}}
	c := newTestCoordinator(t, rec)

	desc := &api.ServerDescriptor{ID: "registered", Type: api.ServerTypeSSE, URL: resource.URL}
	state := c.Connect(context.Background(), desc)

	assert.Equal(t, api.StatusAuthRequired, state.Status)
	assert.Equal(t, int32(1), registered.Load())
	assert.Equal(t, "read write", requestedScope)

	require.NotNil(t, desc.OAuth)
	assert.Equal(t, "generated-id", desc.OAuth.ClientID)

	connectURL, err := url.Parse(state.ConnectURL)
	require.NoError(t, err)
	assert.Equal(t, "generated-id", connectURL.Query().Get("client_id"))
}

func TestConnect_RefreshFailureBecomesAuthRequired(t *testing.T) {
	var attempts atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
	}))
	defer tokenSrv.Close()

	rec := &dialRecorder{initErr: &mcpclient.TransportError{Class: mcpclient.FailureAuthRejected, StatusCode: 401}}
	c := newTestCoordinator(t, rec)

	// Expires inside the validity margin, so the vault must refresh.
	c.vault.Set("s1", &pkgoauth.TokenResponse{
		AccessToken:  "stale",
		RefreshToken: "rt",
		ExpiresIn:    30,
	})

	desc := &api.ServerDescriptor{
		ID:   "s1",
		Type: api.ServerTypeSSE,
		URL:  unreachableURL,
		OAuth: &api.OAuthConfig{
			ClientID:     "cid",
			ClientSecret: "sec",
			TokenURL:     tokenSrv.URL,
			AuthURL:      "https://as.example.com/authorize",
		},
	}
	state := c.Connect(context.Background(), desc)

	assert.Equal(t, api.StatusAuthRequired, state.Status)
	assert.NotEmpty(t, state.ConnectURL)
	// Basic auth first, then exactly one body-credential retry.
	assert.Equal(t, int32(2), attempts.Load())
}

func TestConnect_TransportFailureBecomesError(t *testing.T) {
	rec := &dialRecorder{initErr: &mcpclient.TransportError{Class: mcpclient.FailureOther, Err: assert.AnError}}
	c := newTestCoordinator(t, rec)

	desc := &api.ServerDescriptor{ID: "down", Type: api.ServerTypeHTTPDirect, URL: unreachableURL}
	state := c.Connect(context.Background(), desc)

	assert.Equal(t, api.StatusError, state.Status)
	assert.NotEmpty(t, state.Error)
	assert.Empty(t, state.ConnectURL)
}

func TestConnect_ConcurrentCallsShareOneAttempt(t *testing.T) {
	rec := &dialRecorder{initDelay: 100 * time.Millisecond}
	c := newTestCoordinator(t, rec)

	desc := &api.ServerDescriptor{ID: "shared", Type: api.ServerTypeSSE, URL: unreachableURL}

	start := make(chan struct{})
	var wg sync.WaitGroup
	states := make([]api.ConnectionState, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			states[i] = c.Connect(context.Background(), desc)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), rec.inits.Load())
	for _, state := range states {
		assert.Equal(t, api.StatusConnected, state.Status)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	rec := &dialRecorder{}
	c := newTestCoordinator(t, rec)

	desc := &api.ServerDescriptor{ID: "gone", Type: api.ServerTypeSSE, URL: unreachableURL}
	require.Equal(t, api.StatusConnected, c.Connect(context.Background(), desc).Status)
	c.ImportToken("gone", &pkgoauth.TokenResponse{AccessToken: "tok"})

	c.Disconnect("gone")
	assert.Equal(t, int32(1), rec.closes.Load())
	assert.False(t, c.vault.Has("gone"))

	// The record survives in the terminal Disconnected state.
	statuses := c.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "gone", statuses[0].ID)
	assert.Equal(t, api.StatusDisconnected, statuses[0].Status)
	assert.Empty(t, statuses[0].Error)

	var ncErr *NotConnectedError
	_, err := c.ListTools(context.Background(), "gone")
	require.ErrorAs(t, err, &ncErr)

	// Unknown and repeated ids are no-ops.
	c.Disconnect("gone")
	c.Disconnect("never-seen")
	assert.Equal(t, int32(1), rec.closes.Load())
	assert.Len(t, c.Status(), 1)
}

func TestConnectAll_SkipDisconnect(t *testing.T) {
	rec := &dialRecorder{}
	c := newTestCoordinator(t, rec)

	a := &api.ServerDescriptor{ID: "a", Type: api.ServerTypeSSE, URL: unreachableURL}
	b := &api.ServerDescriptor{ID: "b", Type: api.ServerTypeSSE, URL: unreachableURL}

	require.Equal(t, api.StatusConnected, c.Connect(context.Background(), a).Status)

	// skipDisconnect keeps the existing connection intact.
	results := c.ConnectAll(context.Background(), []*api.ServerDescriptor{b}, true)
	require.Len(t, results, 1)
	assert.Equal(t, api.StatusConnected, results[0].Status)
	assert.Equal(t, int32(0), rec.closes.Load())
	assert.Len(t, c.Status(), 2)

	// Without skipDisconnect everything is replaced.
	results = c.ConnectAll(context.Background(), []*api.ServerDescriptor{b}, false)
	require.Len(t, results, 1)
	statuses := c.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "b", statuses[0].ID)
	assert.Equal(t, int32(2), rec.closes.Load())
}

func TestToolOperations(t *testing.T) {
	rec := &dialRecorder{
		tools:   []mcp.Tool{{Name: "search"}},
		callRes: mcp.NewToolResultText("found"),
	}
	c := newTestCoordinator(t, rec)

	desc := &api.ServerDescriptor{ID: "tools", Type: api.ServerTypeSSE, URL: unreachableURL}
	require.Equal(t, api.StatusConnected, c.Connect(context.Background(), desc).Status)

	tools, err := c.ListTools(context.Background(), "tools")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name)

	result, err := c.CallTool(context.Background(), "tools", "search", map[string]interface{}{"q": "x"})
	require.NoError(t, err)
	require.NotNil(t, result)

	var ncErr *NotConnectedError
	_, err = c.ListTools(context.Background(), "other")
	require.ErrorAs(t, err, &ncErr)
	_, err = c.CallTool(context.Background(), "other", "search", nil)
	require.ErrorAs(t, err, &ncErr)
}
