package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"backoffice-sync/internal/api"
	"backoffice-sync/internal/core"
	"backoffice-sync/internal/service"
	"backoffice-sync/internal/settings"
	"backoffice-sync/internal/store"
	"backoffice-sync/internal/vendors"
	_ "backoffice-sync/internal/vendors/genericrest"
	_ "backoffice-sync/internal/vendors/naxml"
)

func main() {
	logger := newLogger()
	defer func() { _ = logger.Sync() }()
	logger.Info("Starting back-office sync service...")

	dataDir := core.GetDataDirectory()
	ledger, err := store.NewLedger(filepath.Join(dataDir, "ledger_db"), logger)
	if err != nil {
		logger.Fatalf("Failed to open sync ledger: %v", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Errorf("Failed to close sync ledger: %v", err)
		}
	}()

	audit := core.NewAuditLogger(filepath.Join(dataDir, "audit"), 50, logger)
	deps := &vendors.Deps{Ledger: ledger, Audit: audit}

	settingsManager := settings.NewManager(logger)
	syncManager := service.NewSyncManager(logger, deps)
	settingsManager.SetUpdateCallback(syncManager.HandleStoreUpdate)

	apiAddr := ":8475"
	if port := os.Getenv("SYNC_SERVICE_PORT"); port != "" {
		apiAddr = ":" + port
	}
	server := api.NewServer(apiAddr, logger, settingsManager, syncManager, ledger, audit)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("API server failed: %v", err)
		}
	}()

	logger.Infof("Registered vendors: %v", vendors.Names())

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Errorf("API server stop failed: %v", err)
	}
	syncManager.Stop()
	logger.Info("Back-office sync service stopped")
}

func newLogger() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if os.Getenv("SYNC_LOG_DEBUG") == "true" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	base, err := cfg.Build()
	if err != nil {
		// No logger to report with yet.
		panic(err)
	}
	return base.Sugar()
}
