// Package server exposes the memory service over HTTP and WebSocket.
// Handlers receive the service handle explicitly; nothing is looked up
// from globals.
package server

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/graph-memory-service/internal/config"
	"github.com/graph-memory-service/internal/memory"
)

// Server holds the handler dependencies.
type Server struct {
	svc      *memory.Service
	cfg      config.ServerConfig
	auth     config.AuthConfig
	logger   *zap.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
}

// NewServer creates the HTTP layer over an initialized service.
func NewServer(svc *memory.Service, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(cfg.Server.AllowedOrigins))
	allowAll := false
	for _, o := range cfg.Server.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return &Server{
		svc:      svc,
		cfg:      cfg.Server,
		auth:     cfg.Auth,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// Routes builds the router. Identity middleware wraps everything except
// the health probe.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	protect := s.identityMiddleware
	r.Handle("/memory/text", protect(http.HandlerFunc(s.handleAddText))).Methods(http.MethodPost)
	r.Handle("/memory/upload", protect(http.HandlerFunc(s.handleAddUpload))).Methods(http.MethodPost)
	r.Handle("/memory/recent", protect(http.HandlerFunc(s.handleRecent))).Methods(http.MethodGet)
	r.Handle("/query/rag", protect(http.HandlerFunc(s.handleRAG))).Methods(http.MethodPost)
	r.Handle("/query/visualize", protect(http.HandlerFunc(s.handleVisualize))).Methods(http.MethodGet)
	r.Handle("/graph/updates", protect(http.HandlerFunc(s.handleGraphUpdates)))

	r.Use(s.loggingMiddleware)
	return r
}

// Handler wraps the router with CORS for browser clients.
func (s *Server) Handler() http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(s.cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(s.Routes())
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr))
	})
}
