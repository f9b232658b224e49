// Package oauth implements toolgate's credential machinery: the discovery
// cascade that learns how a resource wants to be authenticated, dynamic
// client registration, the token vault with refresh handling, the stateless
// PKCE state codec, and the token endpoint client.
//
// Discovery follows the MCP authorization flow: an unauthenticated probe of
// the resource, Protected Resource Metadata (RFC 9728), Authorization
// Server Metadata (RFC 8414), and finally OpenID Connect discovery, each
// step short-circuiting on first success. Discovery failures are never
// fatal; a connection attempt proceeds without credentials and fails later
// if the server insists.
//
// The state codec removes the need for server-side session storage during
// the authorization redirect: the PKCE verifier travels inside the OAuth
// state parameter, sealed with AES-GCM, so the callback may be handled by a
// different process instance than the one that issued the request.
package oauth
