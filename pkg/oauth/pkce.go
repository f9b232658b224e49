package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// stateBytes is the number of random bytes for the OAuth state parameter.
// 32 bytes encodes to 43 base64url characters, satisfying OAuth servers
// that require a minimum of 32 characters.
const stateBytes = 32

// PKCEChallenge holds a PKCE code verifier and its derived challenge.
type PKCEChallenge struct {
	// CodeVerifier is the secret the client keeps across the redirect.
	CodeVerifier string

	// CodeChallenge is the S256 hash of the verifier sent in the
	// authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// GeneratePKCE generates a new PKCE code verifier and challenge.
// The verifier comes from oauth2.GenerateVerifier (43 base64url characters,
// 256 bits of entropy); the challenge is its S256 hash.
func GeneratePKCE() *PKCEChallenge {
	verifier := oauth2.GenerateVerifier()
	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
	}
}

// GenerateState generates a random state parameter for OAuth.
// Returns a base64url-encoded random string.
func GenerateState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// BuildAuthorizationURL constructs an OAuth authorization URL with PKCE.
// The scope is a space-separated string; an empty scope is omitted.
func BuildAuthorizationURL(authEndpoint, clientID, redirectURI, state, scope, codeVerifier string) string {
	cfg := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Scopes:      SplitScope(scope),
		Endpoint: oauth2.Endpoint{
			AuthURL: authEndpoint,
		},
	}

	opts := []oauth2.AuthCodeOption{}
	if codeVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(codeVerifier))
	}

	return cfg.AuthCodeURL(state, opts...)
}
