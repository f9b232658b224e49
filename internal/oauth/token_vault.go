package oauth

import (
	"context"
	"sync"
	"time"

	"toolgate/internal/api"
	pkgoauth "toolgate/pkg/oauth"
	"toolgate/pkg/logging"
)

// TokenRecord is a stored credential for one server.
type TokenRecord struct {
	AccessToken  string
	TokenType    string
	ExpiresAt    time.Time
	RefreshToken string
}

// valid reports whether the access token is still usable with the given
// safety margin.
func (r *TokenRecord) valid(margin time.Duration) bool {
	return r.AccessToken != "" && time.Now().Add(margin).Before(r.ExpiresAt)
}

// TokenVault stores per-server access and refresh tokens and decides
// whether to reuse, refresh, or demand re-authorization. Entries are
// evicted only on disconnect; there is no background sweep.
type TokenVault struct {
	mu     sync.RWMutex
	tokens map[string]*TokenRecord

	tokenClient *TokenClient
}

// NewTokenVault creates a vault using the given token client for refresh.
func NewTokenVault(tokenClient *TokenClient) *TokenVault {
	return &TokenVault{
		tokens:      make(map[string]*TokenRecord),
		tokenClient: tokenClient,
	}
}

// Set stores the token response for a server. Expiry is computed from
// expires_in, defaulting to one hour when the server omits it. A response
// without a refresh token keeps the previously stored one, since many
// authorization servers only issue the refresh token once.
func (v *TokenVault) Set(serverID string, resp *pkgoauth.TokenResponse) {
	v.mu.Lock()
	defer v.mu.Unlock()

	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = pkgoauth.DefaultExpiresIn
	}

	record := &TokenRecord{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
		RefreshToken: resp.RefreshToken,
	}

	if record.RefreshToken == "" {
		if prev, ok := v.tokens[serverID]; ok {
			record.RefreshToken = prev.RefreshToken
		}
	}

	v.tokens[serverID] = record
	logging.Debug("TokenVault", "Stored token for server %s (expires %v)", serverID, record.ExpiresAt)
}

// Import replays an externally persisted token into the vault. This is the
// explicit boundary for restoring credentials after a restart; the vault
// itself never persists anything.
func (v *TokenVault) Import(serverID string, resp *pkgoauth.TokenResponse) {
	v.Set(serverID, resp)
	logging.Info("TokenVault", "Imported token for server %s", serverID)
}

// Get returns a copy of the stored record, or nil.
func (v *TokenVault) Get(serverID string) *TokenRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()

	record, ok := v.tokens[serverID]
	if !ok {
		return nil
	}
	copied := *record
	return &copied
}

// Has reports whether a token is stored for the server.
func (v *TokenVault) Has(serverID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.tokens[serverID]
	return ok
}

// Delete evicts the token for a server.
func (v *TokenVault) Delete(serverID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tokens, serverID)
}

// AuthHeader returns the Authorization header value for a server, refreshing
// the access token when needed.
//
// A cached token valid with at least DefaultExpiryMargin to spare is
// returned immediately. With a refresh token and a configured token
// endpoint, a refresh is attempted (the token client retries once with
// body-based client auth on invalid_client). Otherwise an
// *AuthRequiredError carrying a best-effort authorization URL is returned;
// the vault never hands out an unusable credential.
func (v *TokenVault) AuthHeader(ctx context.Context, serverID string, cfg *api.OAuthConfig) (string, error) {
	record := v.Get(serverID)

	if record != nil && record.valid(pkgoauth.DefaultExpiryMargin) {
		return bearerHeader(record), nil
	}

	if record != nil && record.RefreshToken != "" && cfg != nil && cfg.TokenURL != "" {
		logging.Debug("TokenVault", "Refreshing token for server %s", serverID)
		resp, err := v.tokenClient.Refresh(ctx, cfg.TokenURL, record.RefreshToken, cfg.ClientID, cfg.ClientSecret)
		if err != nil {
			logging.Warn("TokenVault", "Token refresh for server %s failed: %v", serverID, err)
			return "", err
		}
		v.Set(serverID, resp)
		return bearerHeader(v.Get(serverID)), nil
	}

	return "", &AuthRequiredError{
		ServerID:   serverID,
		ConnectURL: bestEffortAuthURL(cfg),
	}
}

// bearerHeader formats the Authorization header for a record, defaulting
// the token type to Bearer.
func bearerHeader(record *TokenRecord) string {
	tokenType := record.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return tokenType + " " + record.AccessToken
}

// bestEffortAuthURL builds an authorization URL from whatever configuration
// exists. The URL carries no PKCE state; the real flow is started through
// the authorize endpoint, this one only points the operator somewhere
// useful.
func bestEffortAuthURL(cfg *api.OAuthConfig) string {
	if cfg == nil || cfg.AuthURL == "" {
		return ""
	}
	return pkgoauth.BuildAuthorizationURL(cfg.AuthURL, cfg.ClientID, "", "", cfg.UserScope(), "")
}
