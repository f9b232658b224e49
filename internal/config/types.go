package config

import (
	"fmt"

	"toolgate/internal/api"
)

const (
	// DefaultListen is the address the HTTP surface binds to.
	DefaultListen = "localhost:8090"

	// DefaultBaseURL is the externally visible base URL, used to build the
	// OAuth redirect URI.
	DefaultBaseURL = "http://localhost:8090"

	// OAuthCallbackPath is the fixed path the authorization server
	// redirects back to.
	OAuthCallbackPath = "/oauth/callback"

	// devStateSecret seals PKCE state envelopes when no secret is
	// configured. Fine for local development, useless for anything else.
	devStateSecret = "toolgate-insecure-dev-secret"
)

// Config is the top-level configuration structure for toolgate.
type Config struct {
	// Listen is the host:port the HTTP surface binds to.
	Listen string `yaml:"listen,omitempty"`

	// BaseURL is the externally visible base URL.
	BaseURL string `yaml:"baseUrl,omitempty"`

	// StateSecret seals the PKCE state envelopes. Every instance behind a
	// load balancer must share it.
	StateSecret string `yaml:"stateSecret,omitempty"`

	// CORSOrigins lists the origins allowed to call the HTTP surface.
	// Empty means same-origin only.
	CORSOrigins []string `yaml:"corsOrigins,omitempty"`

	// Servers are the tool-servers to manage.
	Servers []*api.ServerDescriptor `yaml:"servers,omitempty"`
}

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	return Config{
		Listen:  DefaultListen,
		BaseURL: DefaultBaseURL,
	}
}

// RedirectURI returns the OAuth redirect URI derived from the base URL.
func (c Config) RedirectURI() string {
	return c.BaseURL + OAuthCallbackPath
}

// Validate checks structural invariants: every server needs an id and a
// URL, ids are unique, and the transport type is one of the known kinds.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for _, server := range c.Servers {
		if server.ID == "" {
			return fmt.Errorf("server %q has no id", server.DisplayName())
		}
		if server.URL == "" {
			return fmt.Errorf("server %s has no url", server.ID)
		}
		if seen[server.ID] {
			return fmt.Errorf("duplicate server id %s", server.ID)
		}
		seen[server.ID] = true

		switch server.Type {
		case api.ServerTypeSSE, api.ServerTypeHTTPDirect, "":
		default:
			return fmt.Errorf("server %s has unknown type %q", server.ID, server.Type)
		}
	}
	return nil
}
