// Package server exposes connection coordination over HTTP.
//
// The surface splits into two groups. Connection management: /connect,
// /disconnect, /status, /tools, /execute, all JSON over POST/GET. OAuth
// support for browser-driven flows: /oauth-authorize seals a PKCE verifier
// into the state parameter, /oauth/callback relays the authorization result
// to the opener window, /oauth-token exchanges the code, /discover-oauth
// runs metadata discovery on demand, and /set-token imports externally
// obtained credentials.
//
// Because the PKCE state is sealed client-side, no session affinity is
// needed: the callback may land on any instance sharing the state secret.
package server
