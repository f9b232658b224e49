package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"toolgate/internal/oauth"
	"toolgate/pkg/logging"
	pkgoauth "toolgate/pkg/oauth"
)

type authorizeRequest struct {
	AuthURL     string `json:"authUrl"`
	ClientID    string `json:"clientId"`
	Scope       string `json:"scope,omitempty"`
	RedirectURI string `json:"redirectUri,omitempty"`
	ServerID    string `json:"serverId"`
}

type authorizeResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
	State            string `json:"state"`
}

// handleOAuthAuthorize starts an authorization flow: it generates a PKCE
// pair, seals the verifier and server id into the state parameter, and
// returns the URL to open. No server-side session is kept; the callback may
// land on any instance sharing the state secret.
func (s *Server) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req authorizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AuthURL == "" || req.ServerID == "" {
		writeError(w, http.StatusBadRequest, "authUrl and serverId are required")
		return
	}

	pkce := pkgoauth.GeneratePKCE()
	state, err := s.codec.Encode(pkce.CodeVerifier, req.ServerID)
	if err != nil {
		logging.Error("Server", err, "Failed to seal authorization state")
		writeError(w, http.StatusInternalServerError, "failed to create authorization state")
		return
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" {
		redirectURI = s.cfg.RedirectURI()
	}

	authorizationURL := pkgoauth.BuildAuthorizationURL(
		req.AuthURL, req.ClientID, redirectURI, state, req.Scope, pkce.CodeVerifier)

	logging.Debug("Server", "Issued authorization URL for server %s", req.ServerID)
	writeJSON(w, http.StatusOK, authorizeResponse{
		AuthorizationURL: authorizationURL,
		State:            state,
	})
}

// callbackPayload is what the callback page relays to the opener window.
type callbackPayload struct {
	Code     string `json:"code,omitempty"`
	State    string `json:"state,omitempty"`
	Verifier string `json:"verifier,omitempty"`
	ServerID string `json:"serverId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleOAuthCallback lands the browser after authorization. It unseals the
// state to recover the PKCE verifier and server id, then serves a page that
// relays everything to the opener window, falling back to a URL redirect
// when no opener exists. Token exchange happens in a follow-up call to
// /oauth-token; the callback itself performs no upstream requests.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	payload := callbackPayload{
		Code:  query.Get("code"),
		State: query.Get("state"),
	}

	if errParam := query.Get("error"); errParam != "" {
		desc := query.Get("error_description")
		if desc == "" {
			desc = errParam
		}
		logging.Warn("Server", "OAuth callback returned error: %s", desc)
		payload.Error = desc
	}

	if payload.State != "" {
		if envelope := s.codec.Decode(payload.State); envelope != nil {
			payload.Verifier = envelope.Verifier
			payload.ServerID = envelope.ServerID
		} else if payload.Error == "" {
			logging.Warn("Server", "OAuth callback with undecodable state")
			payload.Error = oauth.ErrInvalidState.Error()
		}
	} else if payload.Error == "" {
		payload.Error = "missing state parameter"
	}

	s.renderCallbackPage(w, payload)
}

// handleOAuthComplete is the redirect fallback target. The payload travels
// in the URL fragment, which never reaches the server; the page just tells
// the operator the flow finished.
func (s *Server) handleOAuthComplete(w http.ResponseWriter, r *http.Request) {
	s.renderMessagePage(w, http.StatusOK, "Authentication Complete",
		"You can close this window and return to your application.")
}

type tokenRequest struct {
	TokenURL     string `json:"tokenUrl"`
	Code         string `json:"code"`
	Verifier     string `json:"verifier"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"`
	RedirectURI  string `json:"redirectUri,omitempty"`
	ServerID     string `json:"serverId,omitempty"`
}

// handleOAuthToken exchanges an authorization code for tokens. When a
// serverId is supplied the token is also stored, so the next connect can
// use it.
func (s *Server) handleOAuthToken(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TokenURL == "" || req.Code == "" || req.Verifier == "" {
		writeError(w, http.StatusBadRequest, "tokenUrl, code, and verifier are required")
		return
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" {
		redirectURI = s.cfg.RedirectURI()
	}

	resp, err := s.tokens.Exchange(r.Context(), oauth.ExchangeRequest{
		TokenURL:     req.TokenURL,
		Code:         req.Code,
		CodeVerifier: req.Verifier,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		RedirectURI:  redirectURI,
	})
	if err != nil {
		logging.Warn("Server", "Token exchange failed: %v", err)
		writeError(w, http.StatusBadGateway, "%s", err.Error())
		return
	}

	if req.ServerID != "" {
		s.manager.ImportToken(req.ServerID, resp)
	}

	writeJSON(w, http.StatusOK, resp)
}

type discoverRequest struct {
	BaseURL  string `json:"baseUrl,omitempty"`
	ServerID string `json:"serverId,omitempty"`
}

type discoveredMetadata struct {
	TokenEndpoint         string   `json:"tokenEndpoint,omitempty"`
	AuthorizationEndpoint string   `json:"authorizationEndpoint,omitempty"`
	RegistrationURL       string   `json:"registrationUrl,omitempty"`
	ScopesSupported       []string `json:"scopesSupported,omitempty"`
	RequiresAuth          bool     `json:"requiresAuth"`
}

type discoverResponse struct {
	Discovery discoveredMetadata `json:"discovery"`
}

// handleDiscoverOAuth runs the discovery cascade against a resource URL.
// 200 means complete metadata, 206 a partial result (auth is required but
// endpoints are unknown), 404 that the resource needs no auth at all.
func (s *Server) handleDiscoverOAuth(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req discoverRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resourceURL := req.BaseURL
	if resourceURL == "" && req.ServerID != "" {
		desc, ok := s.store.Server(req.ServerID)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown server %s", req.ServerID)
			return
		}
		resourceURL = desc.URL
	}
	if resourceURL == "" {
		writeError(w, http.StatusBadRequest, "baseUrl or serverId is required")
		return
	}

	result, err := s.discovery.Discover(r.Context(), resourceURL)
	if err != nil {
		writeError(w, http.StatusBadGateway, "%s", err.Error())
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "no oauth metadata discovered")
		return
	}

	status := http.StatusOK
	if result.TokenEndpoint == "" && result.AuthorizationEndpoint == "" {
		status = http.StatusPartialContent
	}
	writeJSON(w, status, discoverResponse{Discovery: discoveredMetadata{
		TokenEndpoint:         result.TokenEndpoint,
		AuthorizationEndpoint: result.AuthorizationEndpoint,
		RegistrationURL:       result.RegistrationEndpoint,
		ScopesSupported:       oauth.ResolveScopes("", result, ""),
		RequiresAuth:          result.RequiresAuth,
	}})
}

type tokenData struct {
	AccessToken  string `json:"accessToken"`
	TokenType    string `json:"tokenType,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type setTokenRequest struct {
	ServerID  string    `json:"serverId"`
	TokenData tokenData `json:"tokenData"`
}

// handleSetToken imports an externally obtained token. The token is
// verified best-effort by probing the target server with it; verification
// failure does not reject the import.
func (s *Server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req setTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ServerID == "" || req.TokenData.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "serverId and tokenData.accessToken are required")
		return
	}

	resp := &pkgoauth.TokenResponse{
		AccessToken:  req.TokenData.AccessToken,
		TokenType:    req.TokenData.TokenType,
		ExpiresIn:    req.TokenData.ExpiresIn,
		RefreshToken: req.TokenData.RefreshToken,
	}
	s.manager.ImportToken(req.ServerID, resp)

	verified := s.verifyToken(r, req.ServerID, resp)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "verified": verified})
}

// verifyToken probes the server with the imported token. Anything but an
// explicit auth rejection counts as verified; endpoints that dislike plain
// GETs still prove the credential was accepted.
func (s *Server) verifyToken(r *http.Request, serverID string, token *pkgoauth.TokenResponse) bool {
	desc, ok := s.store.Server(serverID)
	if !ok {
		return false
	}

	probeReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, desc.URL, nil)
	if err != nil {
		return false
	}
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	probeReq.Header.Set("Authorization", tokenType+" "+token.AccessToken)

	resp, err := s.probe.Do(probeReq)
	if err != nil {
		logging.Debug("Server", "Token verification probe for %s failed: %v", serverID, err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden
}

// setSecurityHeaders sets recommended security headers for HTML responses.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; script-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

// renderCallbackPage serves the relay page. The payload is handed to the
// opener window via postMessage; without an opener the page redirects with
// the payload in the URL fragment so it stays out of server logs.
func (s *Server) renderCallbackPage(w http.ResponseWriter, payload callbackPayload) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		s.renderMessagePage(w, http.StatusInternalServerError, "Authentication Failed",
			"Something went wrong while completing the flow. Please try again.")
		return
	}

	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	heading := "Authentication Successful"
	message := "Finishing up... you can close this window once it stops loading."
	if payload.Error != "" {
		heading = "Authentication Failed"
		message = payload.Error
	}

	// json.Marshal escapes <, >, and & so the payload is safe inside the
	// script element.
	fmt.Fprintf(w, callbackPageTemplate,
		html.EscapeString(heading), html.EscapeString(heading), html.EscapeString(message), encoded)
}

const callbackPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s - Toolgate</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #16213e;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            color: #e8e8e8;
        }
        .container {
            text-align: center;
            padding: 3rem;
            background: rgba(255, 255, 255, 0.05);
            border-radius: 16px;
            max-width: 500px;
            margin: 1rem;
        }
        h1 { font-size: 1.5rem; margin-bottom: 0.5rem; color: #fff; }
        p { color: #a0a0a0; line-height: 1.6; margin-top: 1rem; }
    </style>
</head>
<body>
    <div class="container">
        <h1>%s</h1>
        <p>%s</p>
    </div>
    <script>
        (function () {
            var payload = %s;
            if (window.opener) {
                window.opener.postMessage(payload, "*");
                window.close();
                return;
            }
            var params = new URLSearchParams();
            for (var key in payload) {
                if (payload[key]) {
                    params.set(key, payload[key]);
                }
            }
            window.location.replace("/oauth-complete#" + params.toString());
        })();
    </script>
</body>
</html>`

// renderMessagePage serves a minimal static HTML page.
func (s *Server) renderMessagePage(w http.ResponseWriter, status int, heading, message string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	fmt.Fprintf(w, messagePageTemplate,
		html.EscapeString(heading), html.EscapeString(heading), html.EscapeString(message))
}

const messagePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s - Toolgate</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: #16213e;
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            color: #e8e8e8;
        }
        .container {
            text-align: center;
            padding: 3rem;
            background: rgba(255, 255, 255, 0.05);
            border-radius: 16px;
            max-width: 500px;
            margin: 1rem;
        }
        h1 { font-size: 1.5rem; margin-bottom: 0.5rem; color: #fff; }
        p { color: #a0a0a0; line-height: 1.6; margin-top: 1rem; }
    </style>
</head>
<body>
    <div class="container">
        <h1>%s</h1>
        <p>%s</p>
    </div>
</body>
</html>`
