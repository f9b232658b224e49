package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"toolgate/internal/api"
	"toolgate/internal/mcpclient"
	"toolgate/internal/oauth"
	"toolgate/pkg/logging"
	pkgoauth "toolgate/pkg/oauth"
)

// Deps are the collaborators a Coordinator needs. All fields are required.
type Deps struct {
	Registry  *ConnectionRegistry
	Vault     *oauth.TokenVault
	Discovery *oauth.DiscoveryEngine
	Registrar *oauth.ClientRegistrar
	Factory   *mcpclient.Factory
}

func (d Deps) validate() error {
	if d.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if d.Vault == nil {
		return fmt.Errorf("token vault is required")
	}
	if d.Discovery == nil {
		return fmt.Errorf("discovery engine is required")
	}
	if d.Registrar == nil {
		return fmt.Errorf("client registrar is required")
	}
	if d.Factory == nil {
		return fmt.Errorf("transport factory is required")
	}
	return nil
}

// Coordinator orchestrates connection establishment for tool-servers:
// metadata discovery, dynamic client registration, credential lookup, and
// the transport handshake with fallback. Every outcome lands in the
// connection registry; Connect never returns an error, only a terminal
// connection state.
type Coordinator struct {
	registry  *ConnectionRegistry
	vault     *oauth.TokenVault
	discovery *oauth.DiscoveryEngine
	registrar *oauth.ClientRegistrar
	factory   *mcpclient.Factory

	// connects de-duplicates concurrent Connect calls per server id;
	// different ids proceed in parallel.
	connects singleflight.Group
}

// New creates a Coordinator from its dependencies.
func New(deps Deps) (*Coordinator, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid coordinator dependencies: %w", err)
	}
	return &Coordinator{
		registry:  deps.Registry,
		vault:     deps.Vault,
		discovery: deps.Discovery,
		registrar: deps.Registrar,
		factory:   deps.Factory,
	}, nil
}

// Connect establishes a connection for the descriptor and returns the
// terminal connection state. A Connect for an id that is already Connected
// is a no-op; concurrent Connects for the same id share one attempt.
func (c *Coordinator) Connect(ctx context.Context, desc *api.ServerDescriptor) api.ConnectionState {
	if state, ok := c.registry.Get(desc.ID); ok && state.Status == api.StatusConnected {
		logging.Debug("Coordinator", "Server %s already connected, skipping connect", desc.ID)
		return state
	}

	v, _, _ := c.connects.Do(desc.ID, func() (interface{}, error) {
		// Detached from the caller's cancellation: an abandoned Connect
		// still runs to completion and records its terminal state.
		return c.connect(context.WithoutCancel(ctx), desc), nil
	})
	return v.(api.ConnectionState)
}

func (c *Coordinator) connect(ctx context.Context, desc *api.ServerDescriptor) api.ConnectionState {
	if state, ok := c.registry.Get(desc.ID); ok && state.Status == api.StatusConnected {
		return state
	}

	name := desc.DisplayName()
	c.registry.SetStatus(desc.ID, name, api.StatusConnecting, "", "")

	cfg := c.resolveAuthConfig(ctx, desc)

	headerFn := func(hctx context.Context) (mcpclient.Headers, error) {
		if cfg == nil && !c.vault.Has(desc.ID) {
			return mcpclient.Headers{}, nil
		}
		value, err := c.vault.AuthHeader(hctx, desc.ID, cfg)
		if err != nil {
			// Attempt the connection without credentials; the error is
			// surfaced only if the server actually rejects us.
			return mcpclient.Headers{SuppressedAuthErr: err}, nil
		}
		return mcpclient.Headers{
			Values: map[string]string{"Authorization": value},
		}, nil
	}

	client, outcome, err := c.factory.Connect(ctx, desc, headerFn)
	if err != nil {
		return c.recordFailure(desc.ID, name, cfg, err)
	}

	c.registry.SetConnected(desc.ID, name, client)
	if outcome.UsedFallback {
		logging.Info("Coordinator", "Connected to server %s via %s (after transport fallback)", desc.ID, outcome.Transport)
	} else {
		logging.Info("Coordinator", "Connected to server %s via %s", desc.ID, outcome.Transport)
	}

	state, _ := c.registry.Get(desc.ID)
	return state
}

// resolveAuthConfig runs metadata discovery and dynamic client registration
// when the configured auth settings are missing pieces, merging the results
// into the descriptor's OAuth config. The resolved scope set lands in
// cfg.Scopes so later authorization URLs carry it.
func (c *Coordinator) resolveAuthConfig(ctx context.Context, desc *api.ServerDescriptor) *api.OAuthConfig {
	cfg := desc.OAuth

	var discovered *oauth.DiscoveryResult
	if cfg == nil || cfg.AutoDiscover || cfg.TokenURL == "" || cfg.AuthURL == "" {
		result, err := c.discovery.Discover(ctx, desc.URL)
		if err != nil {
			logging.Warn("Coordinator", "OAuth discovery for server %s failed: %v", desc.ID, err)
		}
		discovered = result
		if discovered != nil {
			if cfg == nil {
				cfg = &api.OAuthConfig{AutoDiscover: true}
				desc.OAuth = cfg
			}
			if cfg.TokenURL == "" {
				cfg.TokenURL = discovered.TokenEndpoint
			}
			if cfg.AuthURL == "" {
				cfg.AuthURL = discovered.AuthorizationEndpoint
			}
			if cfg.RegistrationURL == "" {
				cfg.RegistrationURL = discovered.RegistrationEndpoint
			}
		}
	}

	if cfg == nil {
		return nil
	}

	var registrationScope string
	if cfg.ClientID == "" && cfg.RegistrationURL != "" {
		scopes := oauth.ResolveScopes(cfg.UserScope(), discovered, "")
		if resp := c.registrar.Register(ctx, cfg.RegistrationURL, scopes); resp != nil {
			cfg.ClientID = resp.ClientID
			cfg.ClientSecret = resp.ClientSecret
			registrationScope = resp.Scope
			logging.Info("Coordinator", "Registered OAuth client %s for server %s", resp.ClientID, desc.ID)
		}
	}

	cfg.Scopes = oauth.ResolveScopes(cfg.UserScope(), discovered, registrationScope)
	return cfg
}

// recordFailure converts a connect error into a terminal registry state.
// Nothing escapes Connect; auth-shaped failures become AuthRequired with a
// connect URL when one can be built, everything else becomes Error.
func (c *Coordinator) recordFailure(id, name string, cfg *api.OAuthConfig, err error) api.ConnectionState {
	var authErr *oauth.AuthRequiredError
	var tokenErr *oauth.TokenExchangeError
	var transportErr *mcpclient.TransportError

	switch {
	case errors.As(err, &authErr):
		connectURL := authErr.ConnectURL
		if connectURL == "" {
			connectURL = authorizeURL(cfg)
		}
		c.registry.SetStatus(id, name, api.StatusAuthRequired, err.Error(), connectURL)

	case errors.As(err, &tokenErr):
		c.registry.SetStatus(id, name, api.StatusAuthRequired, err.Error(), authorizeURL(cfg))

	case errors.As(err, &transportErr) && transportErr.Class == mcpclient.FailureAuthRejected:
		c.registry.SetStatus(id, name, api.StatusAuthRequired, err.Error(), authorizeURL(cfg))

	default:
		c.registry.SetStatus(id, name, api.StatusError, err.Error(), "")
	}

	logging.Warn("Coordinator", "Connect for server %s failed: %v", id, err)

	state, _ := c.registry.Get(id)
	return state
}

// Disconnect tears down the connection for id, closing the transport handle
// and evicting the cached token. The record stays tracked in the terminal
// Disconnected state so a status query still reports the server. Unknown
// ids are a no-op; Disconnect never fails.
func (c *Coordinator) Disconnect(id string) {
	client, known := c.registry.Disconnect(id)
	if client != nil {
		if err := client.Close(); err != nil {
			logging.Warn("Coordinator", "Closing connection for server %s failed: %v", id, err)
		}
	}
	c.vault.Delete(id)
	if known {
		logging.Debug("Coordinator", "Disconnected server %s", id)
	}
}

// remove tears a connection down and drops its record entirely. Used when
// the tracked set itself is being replaced, not for a caller-visible
// disconnect.
func (c *Coordinator) remove(id string) {
	if client := c.registry.Remove(id); client != nil {
		if err := client.Close(); err != nil {
			logging.Warn("Coordinator", "Closing connection for server %s failed: %v", id, err)
		}
	}
	c.vault.Delete(id)
}

// ConnectAll connects every descriptor concurrently and returns the states
// in input order. Unless skipDisconnect is set, all existing connections
// are torn down first.
func (c *Coordinator) ConnectAll(ctx context.Context, descs []*api.ServerDescriptor, skipDisconnect bool) []api.ConnectionState {
	if !skipDisconnect {
		c.DisconnectAll()
	}

	results := make([]api.ConnectionState, len(descs))
	var g errgroup.Group
	for i, desc := range descs {
		g.Go(func() error {
			results[i] = c.Connect(ctx, desc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// DisconnectAll tears down every tracked connection and empties the
// registry. Entries are handled independently; one slow or failing close
// does not block the others.
func (c *Coordinator) DisconnectAll() {
	var g errgroup.Group
	for _, state := range c.registry.Snapshot() {
		g.Go(func() error {
			c.remove(state.ID)
			return nil
		})
	}
	_ = g.Wait()
}

// ListTools returns the tools of a connected server. A server in any other
// state fails fast with *NotConnectedError and no network call.
func (c *Coordinator) ListTools(ctx context.Context, id string) ([]mcp.Tool, error) {
	client, ok := c.registry.Client(id)
	if !ok {
		return nil, &NotConnectedError{ServerID: id}
	}
	return client.ListTools(ctx)
}

// CallTool executes a tool on a connected server. A server in any other
// state fails fast with *NotConnectedError and no network call.
func (c *Coordinator) CallTool(ctx context.Context, id, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	client, ok := c.registry.Client(id)
	if !ok {
		return nil, &NotConnectedError{ServerID: id}
	}
	return client.CallTool(ctx, name, args)
}

// Status reports every tracked connection, with token presence from the
// vault folded in.
func (c *Coordinator) Status() []api.ConnectionState {
	states := c.registry.Snapshot()
	for i := range states {
		states[i].HasToken = c.vault.Has(states[i].ID)
	}
	return states
}

// ImportToken stores an externally obtained token for a server. A follow-up
// Connect uses it.
func (c *Coordinator) ImportToken(id string, resp *pkgoauth.TokenResponse) {
	c.vault.Import(id, resp)
}

// authorizeURL builds a best-effort authorization URL from whatever config
// exists. It carries no PKCE state; the real flow starts at the authorize
// endpoint.
func authorizeURL(cfg *api.OAuthConfig) string {
	if cfg == nil || cfg.AuthURL == "" {
		return ""
	}
	return pkgoauth.BuildAuthorizationURL(cfg.AuthURL, cfg.ClientID, "", "", cfg.UserScope(), "")
}
