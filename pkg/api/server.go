package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cbodonnell/rally/pkg/api/handlers"
	"github.com/cbodonnell/rally/pkg/api/middleware"
	"github.com/cbodonnell/rally/pkg/log"
	"github.com/cbodonnell/rally/pkg/sessions"
	"github.com/gorilla/mux"
)

// APIServer serves the administrative boundary used by the orchestrator:
// create session, query session state, and force end.
type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port     int
	TLS      *TLSConfig
	Secret   string
	Registry *sessions.Registry
}

// NewAPIServer creates a new http.Server for handling administrative requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	authMiddleware := middleware.NewAuthMiddleware(opts.Secret)

	router := mux.NewRouter()
	router.Handle("/sessions", authMiddleware(handlers.HandleCreateSession(opts.Registry))).Methods(http.MethodPost)
	router.Handle("/sessions/{sessionID}", authMiddleware(handlers.HandleGetSession(opts.Registry))).Methods(http.MethodGet)
	router.Handle("/sessions/{sessionID}", authMiddleware(handlers.HandleForceEndSession(opts.Registry))).Methods(http.MethodDelete)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// Start starts the APIServer and blocks until the context is done.
func (s *APIServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.server.Shutdown(context.Background())
	}()

	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %v", err)
	}
	log.Info("API server closed")
	return nil
}
