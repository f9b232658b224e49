package coordinator

import (
	"sort"
	"sync"

	"toolgate/internal/api"
	"toolgate/internal/mcpclient"
)

// connectionRecord tracks one server connection. Records are owned
// exclusively by the ConnectionRegistry; every mutation goes through its
// methods.
type connectionRecord struct {
	id         string
	name       string
	status     api.ConnectionStatus
	lastError  string
	connectURL string
	client     mcpclient.MCPClient
}

// ConnectionRegistry holds one connection record per server id and enforces
// the status invariant: a live transport handle exists exactly when the
// status is Connected.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	records map[string]*connectionRecord
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		records: make(map[string]*connectionRecord),
	}
}

// SetStatus upserts the record for id with a non-connected status. Any held
// transport handle reference is dropped; the caller is responsible for
// closing it first (usually via Remove).
func (r *ConnectionRegistry) SetStatus(id, name string, status api.ConnectionStatus, lastError, connectURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		rec = &connectionRecord{id: id}
		r.records[id] = rec
	}
	if name != "" {
		rec.name = name
	}
	rec.status = status
	rec.lastError = lastError
	rec.connectURL = connectURL
	rec.client = nil
}

// SetConnected upserts the record for id as Connected with the given
// transport handle.
func (r *ConnectionRegistry) SetConnected(id, name string, client mcpclient.MCPClient) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		rec = &connectionRecord{id: id}
		r.records[id] = rec
	}
	if name != "" {
		rec.name = name
	}
	rec.status = api.StatusConnected
	rec.lastError = ""
	rec.connectURL = ""
	rec.client = client
}

// Get returns a snapshot of the record for id.
func (r *ConnectionRegistry) Get(id string) (api.ConnectionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return api.ConnectionState{}, false
	}
	return rec.state(), true
}

// Client returns the transport handle for id, but only while the record is
// Connected.
func (r *ConnectionRegistry) Client(id string) (mcpclient.MCPClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok || rec.status != api.StatusConnected || rec.client == nil {
		return nil, false
	}
	return rec.client, true
}

// Snapshot returns the state of every tracked connection, sorted by id.
func (r *ConnectionRegistry) Snapshot() []api.ConnectionState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make([]api.ConnectionState, 0, len(r.records))
	for _, rec := range r.records {
		states = append(states, rec.state())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].ID < states[j].ID
	})
	return states
}

// Disconnect transitions the record for id to the terminal Disconnected
// state, clearing the error, connect URL, and transport handle. The handle,
// if any, is handed back to the caller for closing. Unknown ids stay
// untracked and return false.
func (r *ConnectionRegistry) Disconnect(id string) (mcpclient.MCPClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	client := rec.client
	rec.status = api.StatusDisconnected
	rec.lastError = ""
	rec.connectURL = ""
	rec.client = nil
	return client, true
}

// Remove deletes the record for id and hands the transport handle, if any,
// back to the caller for closing. Removing an unknown id returns nil.
func (r *ConnectionRegistry) Remove(id string) mcpclient.MCPClient {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil
	}
	delete(r.records, id)
	return rec.client
}

func (rec *connectionRecord) state() api.ConnectionState {
	return api.ConnectionState{
		ID:         rec.id,
		Name:       rec.name,
		Status:     rec.status,
		Error:      rec.lastError,
		ConnectURL: rec.connectURL,
	}
}
