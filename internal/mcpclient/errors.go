package mcpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	pkgoauth "toolgate/pkg/oauth"
	"toolgate/pkg/logging"
)

// TransportFailureClass classifies why a transport handshake failed. The
// class is assigned at the point of failure from an explicit probe of the
// endpoint, never reconstructed from error text downstream.
type TransportFailureClass string

const (
	// FailureUnsupported means the endpoint does not speak the attempted
	// transport (404/405/202 answer or a non-conforming stream body). This
	// is the class that permits the stateless fallback.
	FailureUnsupported TransportFailureClass = "unsupported"

	// FailureAuthRejected means the endpoint answered 401.
	FailureAuthRejected TransportFailureClass = "auth_rejected"

	// FailureOther covers everything else: network errors, 5xx answers,
	// protocol violations after an accepted handshake.
	FailureOther TransportFailureClass = "other"
)

// TransportError reports a failed transport handshake with its
// classification.
type TransportError struct {
	Class TransportFailureClass

	// StatusCode is the HTTP status observed by the classification probe,
	// when one was observed.
	StatusCode int

	// Challenge is the parsed WWW-Authenticate challenge for
	// FailureAuthRejected, when the endpoint sent one.
	Challenge *pkgoauth.AuthChallenge

	Err error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport handshake failed (%s, status %d): %v", e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport handshake failed (%s): %v", e.Class, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classifyHandshakeFailure turns a raw handshake error into a classified
// TransportError by probing the endpoint directly. The underlying MCP
// client library does not expose the HTTP status of a failed handshake, so
// the probe re-observes it: one GET with the same headers, classified from
// the status code and, for SSE, the advertised content type.
func classifyHandshakeFailure(ctx context.Context, httpClient *http.Client, endpoint string, headers map[string]string, sse bool, cause error) *TransportError {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &TransportError{Class: FailureOther, Err: cause}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if sse {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		logging.Debug("Transport", "Classification probe of %s failed: %v", endpoint, err)
		return &TransportError{Class: FailureOther, Err: cause}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &TransportError{
			Class:      FailureAuthRejected,
			StatusCode: resp.StatusCode,
			Challenge:  pkgoauth.ParseWWWAuthenticateFromResponse(resp),
			Err:        cause,
		}
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusAccepted:
		// Only the event-stream handshake has a stateless alternative;
		// for streaming HTTP these statuses are ordinary failures.
		if sse {
			return &TransportError{Class: FailureUnsupported, StatusCode: resp.StatusCode, Err: cause}
		}
		return &TransportError{Class: FailureOther, StatusCode: resp.StatusCode, Err: cause}
	case http.StatusOK:
		if sse && !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
			return &TransportError{Class: FailureUnsupported, StatusCode: resp.StatusCode, Err: cause}
		}
		return &TransportError{Class: FailureOther, StatusCode: resp.StatusCode, Err: cause}
	default:
		return &TransportError{Class: FailureOther, StatusCode: resp.StatusCode, Err: cause}
	}
}
