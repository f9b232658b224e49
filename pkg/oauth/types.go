package oauth

import (
	"strings"
	"time"
)

// DefaultExpiryMargin is the margin applied when checking token expiry.
// A token that expires within this window is treated as already expired,
// which accounts for clock skew and network latency.
const DefaultExpiryMargin = 60 * time.Second

// DefaultExpiresIn is assumed when a token response carries no expires_in.
const DefaultExpiresIn = 3600

// FallbackScopes is used when no scope information can be resolved from
// configuration, auth challenges, or discovery metadata.
var FallbackScopes = []string{"openid", "email", "profile"}

// NormalizeServerURL strips transport-specific path suffixes (/mcp, /sse)
// and trailing slashes from a server URL. Discovery keys its metadata
// lookups on the normalized form so the same server resolves to the same
// well-known documents regardless of which endpoint path the descriptor
// uses.
func NormalizeServerURL(serverURL string) string {
	serverURL = strings.TrimSuffix(serverURL, "/")
	serverURL = strings.TrimSuffix(serverURL, "/mcp")
	serverURL = strings.TrimSuffix(serverURL, "/sse")
	return serverURL
}

// TokenResponse represents an OAuth 2.0 token endpoint response.
type TokenResponse struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`
}

// AuthChallenge represents a parsed WWW-Authenticate challenge from a 401
// response of a protected resource.
type AuthChallenge struct {
	// Scheme is the authentication scheme, typically "Bearer".
	Scheme string

	// Realm is the protection realm, if present.
	Realm string

	// ResourceMetadataURL is the resource_metadata parameter (RFC 9728),
	// pointing at the Protected Resource Metadata document.
	ResourceMetadataURL string

	// Scope is the scope hint from the challenge, space-separated.
	Scope string

	// Error and ErrorDescription carry OAuth error parameters, if present.
	Error            string
	ErrorDescription string
}

// ProtectedResourceMetadata represents OAuth 2.0 Protected Resource
// Metadata (RFC 9728).
type ProtectedResourceMetadata struct {
	// Resource is the identifier for the protected resource.
	Resource string `json:"resource"`

	// AuthorizationServers lists the authorization servers that can issue
	// tokens for this resource.
	AuthorizationServers []string `json:"authorization_servers"`

	// ScopesSupported lists the scopes understood by this resource.
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// BearerMethodsSupported lists the ways Bearer tokens can be sent.
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}

// AuthorizationServerMetadata represents OAuth 2.0 Authorization Server
// Metadata (RFC 8414). The same shape covers OpenID Connect discovery
// documents for the fields toolgate consumes.
type AuthorizationServerMetadata struct {
	// Issuer is the authorization server's issuer identifier URL.
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint.
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint.
	TokenEndpoint string `json:"token_endpoint"`

	// RegistrationEndpoint is the URL of the dynamic client registration
	// endpoint (RFC 7591), if the server supports it.
	RegistrationEndpoint string `json:"registration_endpoint,omitempty"`

	// ScopesSupported lists the OAuth scopes supported.
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// GrantTypesSupported lists the OAuth grant types supported.
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE methods supported.
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// ClientRegistrationRequest represents a dynamic client registration
// request (RFC 7591), limited to the fields a public PKCE client needs.
type ClientRegistrationRequest struct {
	// RedirectURIs is the array of redirection URIs for the client.
	RedirectURIs []string `json:"redirect_uris,omitempty"`

	// TokenEndpointAuthMethod is "none" for public clients.
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// GrantTypes is the array of OAuth 2.0 grant types the client will use.
	GrantTypes []string `json:"grant_types,omitempty"`

	// ResponseTypes is the array of OAuth 2.0 response types.
	ResponseTypes []string `json:"response_types,omitempty"`

	// ClientName is the human-readable name of the client.
	ClientName string `json:"client_name,omitempty"`

	// Scope is the space-separated list of requested scope values.
	Scope string `json:"scope,omitempty"`
}

// ClientRegistrationResponse represents a dynamic client registration
// response (RFC 7591).
type ClientRegistrationResponse struct {
	// ClientID is the issued client identifier.
	ClientID string `json:"client_id"`

	// ClientSecret is the client secret, if one was issued.
	ClientSecret string `json:"client_secret,omitempty"`

	// Scope is the granted scope, which may differ from the request.
	Scope string `json:"scope,omitempty"`

	// ClientIDIssuedAt is the time the client_id was issued.
	ClientIDIssuedAt int64 `json:"client_id_issued_at,omitempty"`

	// ClientSecretExpiresAt is when the client_secret expires (0 = never).
	ClientSecretExpiresAt int64 `json:"client_secret_expires_at,omitempty"`
}

// ErrorResponse represents an OAuth error response body.
type ErrorResponse struct {
	// Error is the error code, e.g. "invalid_client".
	Error string `json:"error"`

	// ErrorDescription provides additional information.
	ErrorDescription string `json:"error_description,omitempty"`
}

// SplitScope splits a space-separated scope string into individual scopes.
// Returns nil for an empty string.
func SplitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}

// JoinScopes joins individual scopes into a space-separated scope string.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
