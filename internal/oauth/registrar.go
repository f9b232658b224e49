package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	pkgoauth "toolgate/pkg/oauth"
	"toolgate/pkg/logging"
)

// DefaultRegistrationTimeout bounds dynamic client registration requests.
const DefaultRegistrationTimeout = 15 * time.Second

// clientName is the client_name submitted during dynamic registration.
const clientName = "toolgate"

// ClientRegistrar performs dynamic client registration (RFC 7591) for a
// public PKCE client when no client id is configured.
type ClientRegistrar struct {
	httpClient  *http.Client
	redirectURI string
}

// NewClientRegistrar creates a registrar submitting the given redirect URI.
func NewClientRegistrar(redirectURI string, httpClient *http.Client) *ClientRegistrar {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRegistrationTimeout}
	}
	return &ClientRegistrar{
		httpClient:  httpClient,
		redirectURI: redirectURI,
	}
}

// Register submits a public-client registration request and returns the
// issued credentials. Registration failure is never fatal: any error yields
// nil and the caller falls back to requiring manual client configuration.
func (r *ClientRegistrar) Register(ctx context.Context, registrationURL string, scopes []string) *pkgoauth.ClientRegistrationResponse {
	request := pkgoauth.ClientRegistrationRequest{
		RedirectURIs:            []string{r.redirectURI},
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		ClientName:              clientName,
		Scope:                   pkgoauth.JoinScopes(scopes),
	}

	body, err := json.Marshal(request)
	if err != nil {
		logging.Debug("Registrar", "Failed to serialize registration request: %v", err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationURL, bytes.NewReader(body))
	if err != nil {
		logging.Debug("Registrar", "Invalid registration URL %s: %v", registrationURL, err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		logging.Debug("Registrar", "Registration request to %s failed: %v", registrationURL, err)
		return nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		logging.Debug("Registrar", "Failed to read registration response: %v", err)
		return nil
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		logging.Debug("Registrar", "Registration at %s answered status %d", registrationURL, resp.StatusCode)
		return nil
	}

	var registration pkgoauth.ClientRegistrationResponse
	if err := json.Unmarshal(respBody, &registration); err != nil {
		logging.Debug("Registrar", "Failed to parse registration response: %v", err)
		return nil
	}

	if registration.ClientID == "" {
		logging.Debug("Registrar", "Registration response from %s carries no client_id", registrationURL)
		return nil
	}

	logging.Info("Registrar", "Registered client %s at %s", registration.ClientID, registrationURL)
	return &registration
}
