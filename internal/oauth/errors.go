package oauth

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when an OAuth state parameter fails to decode:
// tampered ciphertext, wrong key, or past its validity window.
var ErrInvalidState = errors.New("invalid or expired state parameter")

// TokenErrorClass classifies a token endpoint failure at the point where it
// happened. Downstream code switches on the class instead of inspecting
// error text.
type TokenErrorClass string

const (
	// TokenErrorExchangeFailed means an authorization-code exchange failed.
	TokenErrorExchangeFailed TokenErrorClass = "exchange_failed"

	// TokenErrorRefreshFailed means a refresh-token grant failed after all
	// permitted attempts.
	TokenErrorRefreshFailed TokenErrorClass = "refresh_failed"

	// TokenErrorInvalidClient means the authorization server rejected the
	// client credentials themselves.
	TokenErrorInvalidClient TokenErrorClass = "invalid_client"
)

// TokenExchangeError reports a failed token endpoint request.
type TokenExchangeError struct {
	Class      TokenErrorClass
	StatusCode int
	OAuthError string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	msg := fmt.Sprintf("token request failed (%s)", e.Class)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.OAuthError != "" {
		msg += fmt.Sprintf(": %s", e.OAuthError)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// AuthRequiredError indicates that no usable credential is available and the
// operator has to complete an authorization flow. ConnectURL, when set, is
// the authorization URL to open.
type AuthRequiredError struct {
	ServerID   string
	ConnectURL string
	Err        error
}

func (e *AuthRequiredError) Error() string {
	if e.ConnectURL != "" {
		return fmt.Sprintf("authorization required for server %s: authenticate at %s", e.ServerID, e.ConnectURL)
	}
	return fmt.Sprintf("authorization required for server %s", e.ServerID)
}

func (e *AuthRequiredError) Unwrap() error {
	return e.Err
}
