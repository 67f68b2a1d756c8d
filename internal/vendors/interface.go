package vendors

import (
	"context"
	"time"

	"go.uber.org/zap"

	"backoffice-sync/internal/connector"
	"backoffice-sync/internal/core"
	"backoffice-sync/internal/store"
)

// Capabilities is the fixed descriptor the sync orchestrator queries to
// decide which calls to make against an adapter.
type Capabilities struct {
	Departments          bool `json:"departments"`
	Tenders              bool `json:"tenders"`
	Cashiers             bool `json:"cashiers"`
	TaxRates             bool `json:"tax_rates"`
	Products             bool `json:"products"`
	RealtimeTransactions bool `json:"realtime_transactions"`
	Webhooks             bool `json:"webhooks"`
}

// SyncResult is the framework's half of a per-entity-type sync outcome.
// Create/update/deactivate counts are filled in downstream by the
// persistence layer, never here.
type SyncResult struct {
	RunID    string        `json:"run_id"`
	Entity   string        `json:"entity"`
	Received int           `json:"received"`
	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`

	// Records holds the mapped canonical records for the persistence layer.
	Records []interface{} `json:"-"`
}

// TestResult is the operator-facing "test connection" outcome. It is always
// returned, never thrown past the adapter boundary.
type TestResult struct {
	Success   bool                   `json:"success"`
	Message   string                 `json:"message"`
	Latency   time.Duration          `json:"latency"`
	Version   string                 `json:"version,omitempty"`
	Serial    string                 `json:"serial,omitempty"`
	ErrorCode string                 `json:"error_code,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// TestResultFromError converts a framework error into a failed TestResult.
func TestResultFromError(err error, latency time.Duration) *TestResult {
	result := &TestResult{Message: err.Error(), Latency: latency, ErrorCode: core.CodeUnknown}
	if se, ok := core.AsStructured(err); ok {
		result.Message = se.Message
		result.ErrorCode = se.Code
		result.Detail = se.Detail
	}
	return result
}

// Adapter is the contract every vendor implementation satisfies. Sync calls
// for unsupported entity types must not be made; Capabilities announces what
// the vendor can do.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	TestConnection(ctx context.Context) *TestResult
	SyncDepartments(ctx context.Context) (*SyncResult, error)
	SyncTenders(ctx context.Context) (*SyncResult, error)
	SyncCashiers(ctx context.Context) (*SyncResult, error)
	SyncTaxRates(ctx context.Context) (*SyncResult, error)
}

// Deps carries the shared framework services injected into every adapter.
type Deps struct {
	Ledger *store.Ledger
	Audit  *core.AuditLogger
}

// NewFunc is a function signature for creating a new vendor adapter.
// It is passed the connection configuration and the shared services.
type NewFunc func(logger *zap.SugaredLogger, config *connector.ConnectionConfig, deps *Deps) (Adapter, error)
