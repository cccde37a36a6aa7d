// Package api provides the read-only status HTTP server for operators.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/profile-validator/internal/cooldown"
	"github.com/profile-validator/internal/logging"
	"github.com/profile-validator/internal/store"
)

// Server exposes store and cooldown state over HTTP
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	checkStore *store.Store
	cooldowns  *cooldown.Controller
	logger     *logging.Logger
}

// ServerConfig holds status server configuration
type ServerConfig struct {
	Host string
	Port string
}

// NewServer creates a status API server
func NewServer(cfg *ServerConfig, checkStore *store.Store, cooldowns *cooldown.Controller, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Server{
		router:     mux.NewRouter(),
		checkStore: checkStore,
		cooldowns:  cooldowns,
		logger:     logger,
	}
	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRouter configures the routes
func (s *Server) setupRouter() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/cooldowns", s.handleCooldowns).Methods(http.MethodGet)
	s.router.HandleFunc("/deferred", s.handleDeferred).Methods(http.MethodGet)
}

// Start begins serving in a goroutine
func (s *Server) Start() {
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("Status API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.ErrorWithErr("Status API server failed", err)
		}
	}()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.ErrorWithErr("Failed to encode response", err)
	}
}

// handleHealth reports the claim admission gate
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.checkStore.IsHealthy(healthReporter(s.cooldowns))

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]interface{}{
		"healthy":       healthy,
		"deferredStats": s.checkStore.DeferredStats(),
	})
}

// healthReporter keeps a nil controller nil at the interface level
func healthReporter(cooldowns *cooldown.Controller) store.AvailabilityReporter {
	if cooldowns == nil {
		return nil
	}
	return cooldowns
}

// handleStats reports store statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.checkStore.Stats())
}

// handleCooldowns reports per-endpoint availability
func (s *Server) handleCooldowns(w http.ResponseWriter, r *http.Request) {
	if s.cooldowns == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"connections": nil})
		return
	}
	s.writeJSON(w, http.StatusOK, s.cooldowns.Status())
}

// handleDeferred lists suspended checks
func (s *Server) handleDeferred(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":  s.checkStore.DeferredStats(),
		"checks": s.checkStore.DeferredChecks(),
	})
}
