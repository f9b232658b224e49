// Package oauth provides the shared OAuth 2.1 protocol types and helpers
// used across toolgate: token and discovery document shapes (RFC 8414,
// RFC 9728, RFC 7591), WWW-Authenticate challenge parsing, and PKCE
// generation.
//
// The package is deliberately free of I/O; the HTTP flows that use these
// types live in internal/oauth.
package oauth
