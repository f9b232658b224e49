package server

import (
	"errors"
	"net/http"

	"toolgate/internal/api"
	"toolgate/internal/coordinator"
)

type connectRequest struct {
	Servers        []*api.ServerDescriptor `json:"servers"`
	SkipDisconnect bool                    `json:"skipDisconnect,omitempty"`
}

type connectResponse struct {
	Results []api.ConnectionState `json:"results"`
}

// handleConnect connects the requested servers. An empty server list means
// every server from the configuration file.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req connectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	descs := req.Servers
	if len(descs) == 0 {
		descs = s.store.Servers()
	}

	results := s.manager.ConnectAll(r.Context(), descs, req.SkipDisconnect)
	writeJSON(w, http.StatusOK, connectResponse{Results: results})
}

type disconnectRequest struct {
	ServerID string `json:"serverId"`
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req disconnectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ServerID == "" {
		writeError(w, http.StatusBadRequest, "serverId is required")
		return
	}

	s.manager.Disconnect(req.ServerID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method %s not allowed", r.Method)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method %s not allowed", r.Method)
		return
	}

	serverID := r.URL.Query().Get("serverId")
	if serverID == "" {
		writeError(w, http.StatusBadRequest, "serverId is required")
		return
	}

	tools, err := s.manager.ListTools(r.Context(), serverID)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

type executeRequest struct {
	ServerID  string                 `json:"serverId"`
	Tool      string                 `json:"toolName"`
	Arguments map[string]interface{} `json:"args,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req executeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ServerID == "" || req.Tool == "" {
		writeError(w, http.StatusBadRequest, "serverId and tool are required")
		return
	}

	result, err := s.manager.CallTool(r.Context(), req.ServerID, req.Tool, req.Arguments)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeManagerError maps coordinator errors onto HTTP status codes. A
// not-connected server is a conflict the caller resolves by connecting
// first.
func (s *Server) writeManagerError(w http.ResponseWriter, err error) {
	var ncErr *coordinator.NotConnectedError
	if errors.As(err, &ncErr) {
		writeError(w, http.StatusConflict, "%s", err.Error())
		return
	}
	writeError(w, http.StatusBadGateway, "%s", err.Error())
}
