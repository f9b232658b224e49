package api

import "strings"

// ServerType declares which transport a tool-server speaks.
type ServerType string

const (
	// ServerTypeSSE connects over a persistent event-stream channel.
	ServerTypeSSE ServerType = "sse"

	// ServerTypeHTTPDirect connects over streaming HTTP without an SSE
	// handshake.
	ServerTypeHTTPDirect ServerType = "http-direct"
)

// ServerDescriptor describes a tool-server as configured by the surrounding
// application. Descriptors are inputs to the coordinator; toolgate never
// persists them.
type ServerDescriptor struct {
	ID      string            `yaml:"id" json:"id"`
	Name    string            `yaml:"name" json:"name"`
	Type    ServerType        `yaml:"type" json:"type"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	OAuth   *OAuthConfig      `yaml:"oauth,omitempty" json:"oauth,omitempty"`
}

// DisplayName returns the human-facing name, falling back to the id.
func (d *ServerDescriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// OAuthConfig carries the OAuth client settings for a server. Fields left
// empty may be filled in by discovery and dynamic registration when
// AutoDiscover is set.
type OAuthConfig struct {
	ClientID        string   `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	ClientSecret    string   `yaml:"clientSecret,omitempty" json:"clientSecret,omitempty"`
	TokenURL        string   `yaml:"tokenUrl,omitempty" json:"tokenUrl,omitempty"`
	AuthURL         string   `yaml:"authUrl,omitempty" json:"authUrl,omitempty"`
	RegistrationURL string   `yaml:"registrationUrl,omitempty" json:"registrationUrl,omitempty"`
	Scope           string   `yaml:"scope,omitempty" json:"scope,omitempty"`
	Scopes          []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	AutoDiscover    bool     `yaml:"autoDiscover,omitempty" json:"autoDiscover,omitempty"`
}

// UserScope returns the operator-configured scope as a single
// space-separated string, preferring Scope over Scopes.
func (c *OAuthConfig) UserScope() string {
	if c == nil {
		return ""
	}
	if c.Scope != "" {
		return c.Scope
	}
	return strings.Join(c.Scopes, " ")
}

// ConnectionStatus is the lifecycle state of a server connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
	StatusAuthRequired ConnectionStatus = "auth_required"
)

// ConnectionState is a point-in-time snapshot of a connection, shaped for
// API responses.
type ConnectionState struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Status     ConnectionStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	ConnectURL string           `json:"connectUrl,omitempty"`
	HasToken   bool             `json:"hasToken"`
}
