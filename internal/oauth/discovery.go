package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgoauth "toolgate/pkg/oauth"
	"toolgate/pkg/logging"
)

// DefaultDiscoveryTimeout bounds each discovery HTTP request.
const DefaultDiscoveryTimeout = 15 * time.Second

// DiscoveryResult describes what the discovery cascade learned about a
// resource. All endpoint fields are optional; RequiresAuth is set whenever
// the initial probe answered 401, even if no metadata could be found.
type DiscoveryResult struct {
	TokenEndpoint         string
	AuthorizationEndpoint string
	RegistrationEndpoint  string

	// ScopeHint is the scope parameter from the WWW-Authenticate challenge.
	ScopeHint string

	// PRMScopes is scopes_supported from Protected Resource Metadata.
	PRMScopes []string

	// ASMScopes is scopes_supported from Authorization Server Metadata.
	ASMScopes []string

	RequiresAuth bool
}

// DiscoveryEngine probes a resource URL and runs the metadata discovery
// cascade: unauthenticated probe, Protected Resource Metadata (RFC 9728),
// Authorization Server Metadata (RFC 8414), and OpenID Connect discovery,
// each step short-circuiting on the first success.
type DiscoveryEngine struct {
	httpClient *http.Client
}

// DiscoveryOption configures the discovery engine.
type DiscoveryOption func(*DiscoveryEngine)

// WithDiscoveryHTTPClient sets a custom HTTP client.
func WithDiscoveryHTTPClient(httpClient *http.Client) DiscoveryOption {
	return func(e *DiscoveryEngine) {
		e.httpClient = httpClient
	}
}

// NewDiscoveryEngine creates a discovery engine.
func NewDiscoveryEngine(opts ...DiscoveryOption) *DiscoveryEngine {
	e := &DiscoveryEngine{
		httpClient: &http.Client{Timeout: DefaultDiscoveryTimeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover probes resourceURL and runs the metadata cascade.
//
// It returns (nil, nil) when the resource needs no authentication (probe
// answered 200) and when the probe fails at the network level: a discovery
// failure must never block a connection attempt. A non-nil result always has
// RequiresAuth set; a result without endpoints means the caller has to fall
// back to manual endpoint configuration.
func (e *DiscoveryEngine) Discover(ctx context.Context, resourceURL string) (*DiscoveryResult, error) {
	challenge, ok := e.probe(ctx, resourceURL)
	if !ok {
		return nil, nil
	}

	result := &DiscoveryResult{RequiresAuth: true}
	if challenge != nil {
		result.ScopeHint = challenge.Scope
	}

	// Metadata lookups key on the normalized resource URL: the transport
	// path suffix is not part of the resource identity, so two descriptors
	// pointing at /mcp and /sse of the same server resolve to the same
	// well-known documents.
	resource := pkgoauth.NormalizeServerURL(resourceURL)

	prm := e.fetchProtectedResourceMetadata(ctx, resource, challenge)
	if prm != nil {
		result.PRMScopes = prm.ScopesSupported
	}

	candidates := authServerCandidates(resource, prm)

	asm := e.fetchFirst(ctx, candidates, "/.well-known/oauth-authorization-server")
	if asm == nil {
		asm = e.fetchFirst(ctx, candidates, "/.well-known/openid-configuration")
	}

	if asm != nil {
		result.TokenEndpoint = asm.TokenEndpoint
		result.AuthorizationEndpoint = asm.AuthorizationEndpoint
		result.RegistrationEndpoint = asm.RegistrationEndpoint
		result.ASMScopes = asm.ScopesSupported
		return result, nil
	}

	// The resource demanded auth but no metadata could be located. The
	// partial result lets the caller surface "manual configuration
	// required" with whatever scope information exists.
	logging.Debug("Discovery", "No authorization server metadata found for %s", resourceURL)
	return result, nil
}

// probe performs the unauthenticated request against the resource.
// The second return value reports whether discovery should continue: it is
// false on network failure and on any status other than 401.
func (e *DiscoveryEngine) probe(ctx context.Context, resourceURL string) (*pkgoauth.AuthChallenge, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		logging.Debug("Discovery", "Invalid resource URL %s: %v", resourceURL, err)
		return nil, false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		logging.Debug("Discovery", "Probe of %s failed: %v", resourceURL, err)
		return nil, false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusUnauthorized {
		logging.Debug("Discovery", "Probe of %s answered %d, no auth required", resourceURL, resp.StatusCode)
		return nil, false
	}

	return pkgoauth.ParseWWWAuthenticateFromResponse(resp), true
}

// fetchProtectedResourceMetadata tries the PRM candidate URLs in order:
// the WWW-Authenticate resource_metadata hint, the well-known URL with the
// resource path appended, then the bare well-known URL at the origin.
func (e *DiscoveryEngine) fetchProtectedResourceMetadata(ctx context.Context, resourceURL string, challenge *pkgoauth.AuthChallenge) *pkgoauth.ProtectedResourceMetadata {
	var candidates []string
	if challenge != nil && challenge.ResourceMetadataURL != "" {
		candidates = append(candidates, challenge.ResourceMetadataURL)
	}

	if u, err := url.Parse(resourceURL); err == nil {
		origin := u.Scheme + "://" + u.Host
		if path := strings.TrimSuffix(u.Path, "/"); path != "" {
			candidates = append(candidates, origin+"/.well-known/oauth-protected-resource"+path)
		}
		candidates = append(candidates, origin+"/.well-known/oauth-protected-resource")
	}

	for _, candidate := range dedupe(candidates) {
		var prm pkgoauth.ProtectedResourceMetadata
		if err := e.fetchJSON(ctx, candidate, &prm); err != nil {
			logging.Debug("Discovery", "PRM fetch from %s failed: %v", candidate, err)
			continue
		}
		logging.Debug("Discovery", "Found protected resource metadata at %s", candidate)
		return &prm
	}

	return nil
}

// fetchFirst fetches authorization server metadata from the first candidate
// issuer that answers, using the given well-known suffix.
func (e *DiscoveryEngine) fetchFirst(ctx context.Context, issuers []string, wellKnown string) *pkgoauth.AuthorizationServerMetadata {
	for _, issuer := range issuers {
		metadataURL := strings.TrimSuffix(issuer, "/") + wellKnown

		var asm pkgoauth.AuthorizationServerMetadata
		if err := e.fetchJSON(ctx, metadataURL, &asm); err != nil {
			logging.Debug("Discovery", "Metadata fetch from %s failed: %v", metadataURL, err)
			continue
		}
		if asm.TokenEndpoint == "" && asm.AuthorizationEndpoint == "" {
			logging.Debug("Discovery", "Metadata at %s carries no endpoints", metadataURL)
			continue
		}
		logging.Debug("Discovery", "Found authorization server metadata at %s", metadataURL)
		return &asm
	}
	return nil
}

// fetchJSON fetches a JSON document into out, failing on any non-200 status.
func (e *DiscoveryEngine) fetchJSON(ctx context.Context, fetchURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse metadata: %w", err)
	}
	return nil
}

// authServerCandidates returns the authorization server issuers to try,
// defaulting to the resource origin when PRM names none.
func authServerCandidates(resourceURL string, prm *pkgoauth.ProtectedResourceMetadata) []string {
	if prm != nil && len(prm.AuthorizationServers) > 0 {
		return prm.AuthorizationServers
	}
	if u, err := url.Parse(resourceURL); err == nil && u.Host != "" {
		return []string{u.Scheme + "://" + u.Host}
	}
	return nil
}

// dedupe removes duplicate candidates while preserving order.
func dedupe(candidates []string) []string {
	var unique []string
	visited := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c == "" || visited[c] {
			continue
		}
		visited[c] = true
		unique = append(unique, c)
	}
	return unique
}

// ResolveScopes applies the scope priority order: user-configured scope,
// WWW-Authenticate scope hint, PRM scopes_supported, dynamic registration
// response scope, ASM scopes_supported, and finally the OIDC fallback set.
func ResolveScopes(userScope string, result *DiscoveryResult, registrationScope string) []string {
	if scopes := pkgoauth.SplitScope(userScope); len(scopes) > 0 {
		return scopes
	}
	if result != nil {
		if scopes := pkgoauth.SplitScope(result.ScopeHint); len(scopes) > 0 {
			return scopes
		}
		if len(result.PRMScopes) > 0 {
			return result.PRMScopes
		}
	}
	if scopes := pkgoauth.SplitScope(registrationScope); len(scopes) > 0 {
		return scopes
	}
	if result != nil && len(result.ASMScopes) > 0 {
		return result.ASMScopes
	}
	return pkgoauth.FallbackScopes
}
