// Package api holds the shared types exchanged between toolgate's
// packages: server descriptors, OAuth client configuration, and connection
// state snapshots.
//
// Keeping these in one dependency-free package breaks import cycles between
// the coordinator, the OAuth layer, and the HTTP surface.
package api
