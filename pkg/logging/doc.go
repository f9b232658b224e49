// Package logging provides structured logging for toolgate.
//
// It wraps log/slog with subsystem-tagged helpers so that call sites stay
// terse:
//
//	logging.Info("Coordinator", "Connected to %s", serverID)
//
// Init must be called once at startup to configure the output and the
// minimum level; helpers called before Init fall back to stderr.
package logging
