package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"backoffice-sync/internal/connector"
	"backoffice-sync/internal/service"
	"backoffice-sync/internal/settings"
	"backoffice-sync/internal/vendors"
)

// stubAdapter serves the API tests; registered once under its own name.
type stubAdapter struct{}

func (stubAdapter) Name() string { return "stub_pos" }
func (stubAdapter) Capabilities() vendors.Capabilities {
	return vendors.Capabilities{Departments: true}
}
func (stubAdapter) TestConnection(ctx context.Context) *vendors.TestResult {
	return &vendors.TestResult{Success: true, Message: "connected", Latency: time.Millisecond}
}
func (stubAdapter) SyncDepartments(ctx context.Context) (*vendors.SyncResult, error) {
	return &vendors.SyncResult{Entity: "departments", Received: 3}, nil
}
func (stubAdapter) SyncTenders(ctx context.Context) (*vendors.SyncResult, error)  { return nil, nil }
func (stubAdapter) SyncCashiers(ctx context.Context) (*vendors.SyncResult, error) { return nil, nil }
func (stubAdapter) SyncTaxRates(ctx context.Context) (*vendors.SyncResult, error) { return nil, nil }

func init() {
	vendors.Register("stub_pos", func(logger *zap.SugaredLogger, config *connector.ConnectionConfig, deps *vendors.Deps) (vendors.Adapter, error) {
		return stubAdapter{}, nil
	})
}

const stubPayload = `{
	"connectors": [{
		"vendor": "stub_pos",
		"connection": {
			"host": "pos.example.com",
			"credentials": {"type": "api_key", "api_key": "k-secret"}
		}
	}]
}`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zap.NewNop().Sugar()

	sm := settings.NewManager(logger)
	sync := service.NewSyncManager(logger, nil)
	sm.SetUpdateCallback(sync.HandleStoreUpdate)

	return NewServer(":0", logger, sm, sync, nil, nil)
}

func postSettings(t *testing.T, server *Server, storeID, payload string) {
	t.Helper()
	req := httptest.NewRequest("POST", "/settings?store="+storeID, strings.NewReader(payload))
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSettingsIngestion(t *testing.T) {
	server := newTestServer(t)
	postSettings(t, server, "store-42", stubPayload)

	assert.NotNil(t, server.SettingsManager.GetStore("store-42"))
	assert.Equal(t, []string{"store-42"}, server.SyncManager.Stores())
}

func TestSettingsRequiresStoreParameter(t *testing.T) {
	server := newTestServer(t)
	req := httptest.NewRequest("POST", "/settings", strings.NewReader(stubPayload))
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsRejectsGet(t *testing.T) {
	server := newTestServer(t)
	req := httptest.NewRequest("GET", "/settings?store=store-42", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSettingsInvalidPayloadIsBadRequest(t *testing.T) {
	server := newTestServer(t)
	req := httptest.NewRequest("POST", "/settings?store=store-42", strings.NewReader(`{"connectors":[{"vendor":""}]}`))
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_CONFIG", body["code"])
}

func TestSettingsRejectedWhenAdapterCannotBeBuilt(t *testing.T) {
	server := newTestServer(t)
	postSettings(t, server, "store-42", stubPayload)

	broken := `{"connectors":[{"vendor":"not_registered","connection":{"host":"pos.example.com"}}]}`
	req := httptest.NewRequest("POST", "/settings?store=store-42", strings.NewReader(broken))
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The previous configuration stays active on both sides.
	current := server.SettingsManager.GetStore("store-42")
	require.NotNil(t, current)
	assert.Equal(t, "stub_pos", current.Connectors[0].Vendor)
	assert.Equal(t, []string{"store-42"}, server.SyncManager.Stores())
}

func TestCurrentSettingsRedactsCredentials(t *testing.T) {
	server := newTestServer(t)
	postSettings(t, server, "store-42", stubPayload)

	req := httptest.NewRequest("GET", "/settings/current?store=store-42", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotContains(t, rec.Body.String(), "k-secret")
	assert.Contains(t, rec.Body.String(), "***")
	assert.Contains(t, rec.Body.String(), "pos.example.com")
}

func TestCurrentSettingsUnknownStore(t *testing.T) {
	server := newTestServer(t)
	req := httptest.NewRequest("GET", "/settings/current?store=nowhere", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTestConnectionEndpoint(t *testing.T) {
	server := newTestServer(t)
	postSettings(t, server, "store-42", stubPayload)

	req := httptest.NewRequest("POST", "/test_connection?store=store-42&vendor=stub_pos", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result vendors.TestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "connected", result.Message)
}

func TestTestConnectionUnknownVendor(t *testing.T) {
	server := newTestServer(t)
	postSettings(t, server, "store-42", stubPayload)

	req := httptest.NewRequest("POST", "/test_connection?store=store-42&vendor=nope", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncEndpoint(t *testing.T) {
	server := newTestServer(t)
	postSettings(t, server, "store-42", stubPayload)

	req := httptest.NewRequest("POST", "/sync?store=store-42", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var report service.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 3, report.Results[0].Received)
}

func TestSyncUnknownStoreFails(t *testing.T) {
	server := newTestServer(t)
	req := httptest.NewRequest("POST", "/sync?store=nowhere", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	server := newTestServer(t)
	postSettings(t, server, "store-42", stubPayload)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "service")
	assert.Contains(t, body["stores"], "store-42")
	assert.Contains(t, body["vendors"], "stub_pos")
}

func TestMetricsEndpointWithoutStores(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	ledger := body["ledger"].(map[string]interface{})
	assert.Equal(t, "not_initialized", ledger["status"])
}
