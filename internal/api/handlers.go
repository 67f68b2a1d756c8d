package api

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"backoffice-sync/internal/core"
	"backoffice-sync/internal/vendors"
)

// writeJSON serializes a response body. Failures are logged, not surfaced;
// the status line has already gone out.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.Logger.Errorf("Failed to encode response: %v", err)
	}
}

// writeError maps a framework error onto an HTTP response, carrying the
// structured code through for the operator.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := core.CodeUnknown
	message := err.Error()

	if se, ok := core.AsStructured(err); ok {
		code = se.Code
		message = se.Message
		switch {
		case se.Code == core.CodeInvalidConfig:
			status = http.StatusBadRequest
		case se.StatusCode >= 400:
			status = http.StatusBadGateway
		}
	}

	s.writeJSON(w, status, map[string]interface{}{
		"error": message,
		"code":  code,
	})
}

// settingsHandler ingests a store's connector configuration from the
// back-office.
func (s *Server) settingsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	storeID := r.URL.Query().Get("store")
	if storeID == "" {
		http.Error(w, "store parameter required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.Logger.Errorf("Error reading settings body: %v", err)
		http.Error(w, "Error reading request body", http.StatusInternalServerError)
		return
	}

	if err := s.SettingsManager.UpdateSettings(storeID, body); err != nil {
		s.Logger.Errorf("Failed to process settings for store %s: %v", storeID, err)
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// currentSettingsHandler echoes a store's active configuration with all
// credential material redacted.
func (s *Server) currentSettingsHandler(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store")
	if storeID == "" {
		http.Error(w, "store parameter required", http.StatusBadRequest)
		return
	}

	current := s.SettingsManager.GetStore(storeID)
	if current == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]interface{}{})
		return
	}

	// Round-trip through a generic map so the redaction pass sees every
	// field by name.
	raw, err := json.Marshal(current)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, core.RedactFields(tree))
}

// testConnectionHandler runs one adapter's connection test.
func (s *Server) testConnectionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	storeID := r.URL.Query().Get("store")
	vendor := r.URL.Query().Get("vendor")
	if storeID == "" || vendor == "" {
		http.Error(w, "store and vendor parameters required", http.StatusBadRequest)
		return
	}

	result, err := s.SyncManager.TestConnection(r.Context(), storeID, vendor)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if s.Audit != nil {
		_ = s.Audit.Record("test_connection", vendor, result.Success, map[string]interface{}{
			"store":      storeID,
			"latency_ms": result.Latency.Milliseconds(),
			"message":    result.Message,
		})
	}
	s.writeJSON(w, http.StatusOK, result)
}

// syncHandler triggers a sync run for a store, optionally narrowed to one
// vendor.
func (s *Server) syncHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	storeID := r.URL.Query().Get("store")
	if storeID == "" {
		http.Error(w, "store parameter required", http.StatusBadRequest)
		return
	}

	var report interface{}
	var err error
	if vendor := r.URL.Query().Get("vendor"); vendor != "" {
		report, err = s.SyncManager.RunVendor(r.Context(), storeID, vendor)
	} else {
		report, err = s.SyncManager.RunStore(r.Context(), storeID)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// statusHandler reports liveness plus the configured stores and registered
// vendors.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": map[string]interface{}{
			"uptime_seconds": time.Since(s.startedAt).Seconds(),
			"pid":            os.Getpid(),
			"hostname":       hostname,
		},
		"stores":    s.SyncManager.Stores(),
		"vendors":   vendors.Names(),
		"timestamp": time.Now().UTC(),
	})
}

// metricsHandler summarizes ledger and audit state for monitoring.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"timestamp": time.Now().UTC(),
	}

	if s.Ledger != nil {
		response["ledger"] = s.Ledger.GetStats()
	} else {
		response["ledger"] = map[string]interface{}{"status": "not_initialized"}
	}

	if s.Audit != nil {
		response["audit"] = s.Audit.GetStats()
	} else {
		response["audit"] = map[string]interface{}{"status": "not_initialized"}
	}

	s.writeJSON(w, http.StatusOK, response)
	s.Logger.Debug("Served metrics")
}
