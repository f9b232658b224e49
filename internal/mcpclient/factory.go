package mcpclient

import (
	"context"
	"errors"

	"toolgate/internal/api"
	"toolgate/pkg/logging"
)

// Headers carries the prepared request headers for a connection attempt.
type Headers struct {
	// Values are the HTTP headers, including any Authorization header.
	Values map[string]string

	// SuppressedAuthErr is an auth failure that was swallowed while
	// deriving the Authorization header (the caller chose to attempt an
	// unauthenticated connection anyway). If the transport then rejects
	// the connection with 401, this error is the one surfaced.
	SuppressedAuthErr error
}

// HeaderFunc derives connection headers. The factory calls it again before
// a fallback attempt since time may have passed and a token may have
// expired in between.
type HeaderFunc func(ctx context.Context) (Headers, error)

// ConnectOutcome reports how a connection was established.
type ConnectOutcome struct {
	// Transport is the transport that ended up connected.
	Transport api.ServerType

	// UsedFallback is set when the stateless fallback was taken.
	UsedFallback bool
}

// Factory builds wire channels for declared server types and executes the
// one-shot event-stream to stateless-HTTP fallback.
type Factory struct {
	// Dial hooks, overridable in tests.
	newSSE        func(url string, headers map[string]string) MCPClient
	newStreamable func(url string, headers map[string]string) MCPClient
}

// FactoryOption configures the factory.
type FactoryOption func(*Factory)

// WithDialers overrides the client constructors. Used by tests to observe
// fallback behavior without real servers.
func WithDialers(newSSE, newStreamable func(url string, headers map[string]string) MCPClient) FactoryOption {
	return func(f *Factory) {
		f.newSSE = newSSE
		f.newStreamable = newStreamable
	}
}

// NewFactory creates a transport factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		newSSE: func(url string, headers map[string]string) MCPClient {
			return NewSSEClient(url, headers)
		},
		newStreamable: func(url string, headers map[string]string) MCPClient {
			return NewStreamableHTTPClient(url, headers)
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Connect establishes a wire channel for the descriptor. The declared type
// selects the primary transport: http-direct uses streaming HTTP, anything
// else the event-stream transport.
//
// When the primary handshake fails because the endpoint does not support
// the event-stream transport, exactly one fallback to the stateless HTTP
// transport is attempted, with freshly derived headers. A 401 is never
// masked by a fallback: it propagates as the classified auth error, or as
// the auth error that was suppressed while preparing headers.
func (f *Factory) Connect(ctx context.Context, desc *api.ServerDescriptor, headerFn HeaderFunc) (MCPClient, ConnectOutcome, error) {
	hdrs, err := headerFn(ctx)
	if err != nil {
		return nil, ConnectOutcome{}, err
	}

	primary := api.ServerTypeSSE
	if desc.Type == api.ServerTypeHTTPDirect {
		primary = api.ServerTypeHTTPDirect
	}

	var client MCPClient
	if primary == api.ServerTypeHTTPDirect {
		client = f.newStreamable(desc.URL, merged(desc.Headers, hdrs.Values))
	} else {
		client = f.newSSE(desc.URL, merged(desc.Headers, hdrs.Values))
	}

	err = client.Initialize(ctx)
	if err == nil {
		return client, ConnectOutcome{Transport: primary}, nil
	}
	client.Close()

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		return nil, ConnectOutcome{}, err
	}

	switch transportErr.Class {
	case FailureAuthRejected:
		if hdrs.SuppressedAuthErr != nil {
			return nil, ConnectOutcome{}, hdrs.SuppressedAuthErr
		}
		return nil, ConnectOutcome{}, transportErr

	case FailureUnsupported:
		if primary != api.ServerTypeSSE {
			return nil, ConnectOutcome{}, transportErr
		}

		logging.Info("TransportFactory", "Event-stream transport unsupported by %s (status %d), falling back to stateless HTTP",
			desc.URL, transportErr.StatusCode)

		// Headers are re-derived: the first attempt may have consumed
		// time and the token may need a refresh.
		hdrs, err = headerFn(ctx)
		if err != nil {
			return nil, ConnectOutcome{}, err
		}

		fallback := f.newStreamable(desc.URL, merged(desc.Headers, hdrs.Values))
		if err := fallback.Initialize(ctx); err != nil {
			fallback.Close()

			var fbErr *TransportError
			if errors.As(err, &fbErr) && fbErr.Class == FailureAuthRejected && hdrs.SuppressedAuthErr != nil {
				return nil, ConnectOutcome{}, hdrs.SuppressedAuthErr
			}
			return nil, ConnectOutcome{}, err
		}

		return fallback, ConnectOutcome{Transport: api.ServerTypeHTTPDirect, UsedFallback: true}, nil

	default:
		return nil, ConnectOutcome{}, transportErr
	}
}

// merged overlays derived headers on top of the descriptor's static ones.
func merged(static, derived map[string]string) map[string]string {
	out := make(map[string]string, len(static)+len(derived))
	for k, v := range static {
		out[k] = v
	}
	for k, v := range derived {
		out[k] = v
	}
	return out
}
