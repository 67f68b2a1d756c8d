// Package api is the operator-facing HTTP surface: settings ingestion from
// the back-office, connection tests, manual sync triggers, and status/metrics
// for monitoring. It never exposes credentials: configuration echoed back is
// redacted first.
package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"backoffice-sync/internal/core"
	"backoffice-sync/internal/service"
	"backoffice-sync/internal/settings"
	"backoffice-sync/internal/store"
)

// Server handles HTTP communication with the back-office and operators.
type Server struct {
	*http.Server
	Logger          *zap.SugaredLogger
	SettingsManager *settings.Manager
	SyncManager     *service.SyncManager
	Ledger          *store.Ledger
	Audit           *core.AuditLogger

	startedAt time.Time
}

// NewServer creates and configures the operator API server.
func NewServer(addr string, logger *zap.SugaredLogger, sm *settings.Manager, sync *service.SyncManager, ledger *store.Ledger, audit *core.AuditLogger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: &http.Server{
			Addr:           addr,
			Handler:        mux,
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   60 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		Logger:          logger,
		SettingsManager: sm,
		SyncManager:     sync,
		Ledger:          ledger,
		Audit:           audit,
		startedAt:       time.Now(),
	}

	mux.HandleFunc("/settings", s.settingsHandler)
	mux.HandleFunc("/settings/current", s.currentSettingsHandler)
	mux.HandleFunc("/test_connection", s.testConnectionHandler)
	mux.HandleFunc("/sync", s.syncHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.Logger.Infof("Starting API server on %s", s.Addr)
	return s.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.Logger.Info("Shutting down API server...")
	return s.Shutdown(ctx)
}
