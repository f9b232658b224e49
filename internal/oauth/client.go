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

// DefaultTokenTimeout bounds token endpoint requests.
const DefaultTokenTimeout = 30 * time.Second

// TokenClient performs authorization-code exchange and refresh-token grants
// against a token endpoint.
type TokenClient struct {
	httpClient *http.Client
}

// TokenClientOption configures the token client.
type TokenClientOption func(*TokenClient)

// WithTokenHTTPClient sets a custom HTTP client.
func WithTokenHTTPClient(httpClient *http.Client) TokenClientOption {
	return func(c *TokenClient) {
		c.httpClient = httpClient
	}
}

// NewTokenClient creates a token client.
func NewTokenClient(opts ...TokenClientOption) *TokenClient {
	c := &TokenClient{
		httpClient: &http.Client{Timeout: DefaultTokenTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExchangeRequest carries the parameters for an authorization-code exchange.
type ExchangeRequest struct {
	TokenURL     string
	Code         string
	CodeVerifier string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Exchange trades an authorization code for tokens.
func (c *TokenClient) Exchange(ctx context.Context, req ExchangeRequest) (*pkgoauth.TokenResponse, error) {
	data := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {req.Code},
		"redirect_uri": {req.RedirectURI},
		"client_id":    {req.ClientID},
	}
	if req.CodeVerifier != "" {
		data.Set("code_verifier", req.CodeVerifier)
	}
	if req.ClientSecret != "" {
		data.Set("client_secret", req.ClientSecret)
	}

	token, status, oauthErr, err := c.doTokenRequest(ctx, req.TokenURL, data, "")
	if err != nil {
		return nil, &TokenExchangeError{
			Class:      TokenErrorExchangeFailed,
			StatusCode: status,
			OAuthError: oauthErr,
			Err:        err,
		}
	}
	return token, nil
}

// Refresh obtains a new access token using a refresh token.
//
// When a client secret is configured, the first attempt authenticates with
// HTTP Basic. If the server answers 401 or reports invalid_client, exactly
// one retry is made with the secret moved into the request body; some
// authorization servers only accept one of the two methods.
func (c *TokenClient) Refresh(ctx context.Context, tokenURL, refreshToken, clientID, clientSecret string) (*pkgoauth.TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
	}

	if clientSecret == "" {
		token, status, oauthErr, err := c.doTokenRequest(ctx, tokenURL, data, "")
		if err != nil {
			return nil, &TokenExchangeError{
				Class:      TokenErrorRefreshFailed,
				StatusCode: status,
				OAuthError: oauthErr,
				Err:        err,
			}
		}
		return token, nil
	}

	token, status, oauthErr, err := c.doTokenRequest(ctx, tokenURL, data, clientSecret)
	if err == nil {
		return token, nil
	}

	if status != http.StatusUnauthorized && oauthErr != "invalid_client" {
		return nil, &TokenExchangeError{
			Class:      TokenErrorRefreshFailed,
			StatusCode: status,
			OAuthError: oauthErr,
			Err:        err,
		}
	}

	logging.Debug("TokenClient", "Basic auth rejected by %s, retrying with secret in body", tokenURL)

	bodyData := url.Values{}
	for k, v := range data {
		bodyData[k] = v
	}
	bodyData.Set("client_secret", clientSecret)

	token, status, oauthErr, err = c.doTokenRequest(ctx, tokenURL, bodyData, "")
	if err != nil {
		class := TokenErrorRefreshFailed
		if oauthErr == "invalid_client" {
			class = TokenErrorInvalidClient
		}
		return nil, &TokenExchangeError{
			Class:      class,
			StatusCode: status,
			OAuthError: oauthErr,
			Err:        err,
		}
	}
	return token, nil
}

// doTokenRequest posts form data to the token endpoint. When basicSecret is
// non-empty the client id/secret pair goes into an Authorization header
// instead of the body. It returns the HTTP status and the OAuth error code
// alongside the error so callers can classify the failure.
func (c *TokenClient) doTokenRequest(ctx context.Context, tokenURL string, data url.Values, basicSecret string) (*pkgoauth.TokenResponse, int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if basicSecret != "" {
		req.SetBasicAuth(data.Get("client_id"), basicSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oauthErr pkgoauth.ErrorResponse
		json.Unmarshal(body, &oauthErr)
		logging.Debug("TokenClient", "Token request to %s failed: status=%d error=%s", tokenURL, resp.StatusCode, oauthErr.Error)
		return nil, resp.StatusCode, oauthErr.Error, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var token pkgoauth.TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, resp.StatusCode, "", fmt.Errorf("failed to parse token response: %w", err)
	}

	return &token, resp.StatusCode, "", nil
}
