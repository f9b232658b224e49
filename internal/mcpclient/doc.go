// Package mcpclient provides the wire channels to remote MCP tool-servers.
//
// Two transports are supported, both built on the mcp-go client library:
// a persistent Server-Sent Events channel and streamable HTTP (one POST per
// message). The Factory selects the primary transport from the declared
// server type and performs at most one fallback from the event-stream
// transport to stateless HTTP when the endpoint rejects the SSE handshake
// with a status that indicates the transport is unsupported.
//
// Handshake failures carry a TransportFailureClass assigned at the point
// of failure, so callers never classify by matching error text.
package mcpclient
