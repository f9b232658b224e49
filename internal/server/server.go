package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/cors"

	"toolgate/internal/api"
	"toolgate/internal/config"
	"toolgate/internal/coordinator"
	"toolgate/internal/oauth"
	"toolgate/pkg/logging"
	pkgoauth "toolgate/pkg/oauth"
)

// ConnectionManager is the coordinator surface the HTTP handlers need.
type ConnectionManager interface {
	ConnectAll(ctx context.Context, descs []*api.ServerDescriptor, skipDisconnect bool) []api.ConnectionState
	Disconnect(id string)
	Status() []api.ConnectionState
	ListTools(ctx context.Context, id string) ([]mcp.Tool, error)
	CallTool(ctx context.Context, id, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	ImportToken(id string, resp *pkgoauth.TokenResponse)
}

var _ ConnectionManager = (*coordinator.Coordinator)(nil)

// Deps are the collaborators the HTTP surface needs. All fields are
// required.
type Deps struct {
	Config    config.Config
	Store     *config.Store
	Manager   ConnectionManager
	Discovery *oauth.DiscoveryEngine
	Tokens    *oauth.TokenClient
	Codec     *oauth.StateCodec
}

func (d Deps) validate() error {
	if d.Store == nil {
		return fmt.Errorf("config store is required")
	}
	if d.Manager == nil {
		return fmt.Errorf("connection manager is required")
	}
	if d.Discovery == nil {
		return fmt.Errorf("discovery engine is required")
	}
	if d.Tokens == nil {
		return fmt.Errorf("token client is required")
	}
	if d.Codec == nil {
		return fmt.Errorf("state codec is required")
	}
	return nil
}

// Server exposes the connection coordination API over HTTP.
type Server struct {
	cfg       config.Config
	store     *config.Store
	manager   ConnectionManager
	discovery *oauth.DiscoveryEngine
	tokens    *oauth.TokenClient
	codec     *oauth.StateCodec

	// probe verifies imported tokens against the target server.
	probe *http.Client

	httpServer *http.Server
}

// New creates the HTTP surface.
func New(deps Deps) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid server dependencies: %w", err)
	}
	return &Server{
		cfg:       deps.Config,
		store:     deps.Store,
		manager:   deps.Manager,
		discovery: deps.Discovery,
		tokens:    deps.Tokens,
		codec:     deps.Codec,
		probe:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Handler builds the complete HTTP handler: routes, request logging, and
// CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	mux.HandleFunc("/connect", s.handleConnect)
	mux.HandleFunc("/disconnect", s.handleDisconnect)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/tools", s.handleTools)
	mux.HandleFunc("/execute", s.handleExecute)

	mux.HandleFunc("/oauth-authorize", s.handleOAuthAuthorize)
	mux.HandleFunc("/oauth-token", s.handleOAuthToken)
	mux.HandleFunc("/discover-oauth", s.handleDiscoverOAuth)
	mux.HandleFunc("/set-token", s.handleSetToken)
	mux.HandleFunc(config.OAuthCallbackPath, s.handleOAuthCallback)
	mux.HandleFunc("/oauth-callback", s.handleOAuthCallback)
	mux.HandleFunc("/oauth-complete", s.handleOAuthComplete)

	var handler http.Handler = s.withRequestLogging(mux)
	if len(s.cfg.CORSOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		})
		handler = c.Handler(handler)
	}
	return handler
}

// Start runs the HTTP server until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.Handler(),
	}

	logging.Info("Server", "Listening on %s", s.cfg.Listen)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// statusRecorder captures the response status for access logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(recorder, r)

		logging.Debug("Server", "%s %s -> %d (%s) request=%s",
			r.Method, r.URL.Path, recorder.status, time.Since(start), requestID)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error("Server", err, "Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return false
	}
	return true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method %s not allowed", r.Method)
		return false
	}
	return true
}
