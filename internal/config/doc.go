// Package config loads and watches the toolgate configuration file.
//
// Configuration is a single YAML file listing the HTTP listen address, the
// externally visible base URL, the state-sealing secret, and the managed
// tool-servers. Environment variables (TOOLGATE_LISTEN, TOOLGATE_BASE_URL,
// TOOLGATE_STATE_SECRET) override the file. The Store keeps the
// configuration fresh via fsnotify; reloads swap the descriptor set without
// disturbing established connections.
package config
