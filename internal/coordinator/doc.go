// Package coordinator ties discovery, client registration, the token vault,
// and the transport factory together into a single connection lifecycle per
// tool-server.
//
// The Coordinator is the only entry point the HTTP surface talks to. Connect
// runs the full pipeline (discover missing auth metadata, register a client
// when possible, derive an Authorization header, dial with transport
// fallback) and always terminates in a registry state: Connected,
// AuthRequired with a connect URL, or Error with a message. Tool operations
// against anything but a Connected entry fail fast with *NotConnectedError.
//
// Concurrent Connect calls for the same server id collapse into one attempt;
// different ids proceed independently, and re-connecting one server never
// disturbs the others.
package coordinator
