// Package naxml is the file-exchange adapter for NAXML-style batch POS
// systems: the POS drops XML maintenance documents into the shared Export
// directory and the adapter imports them, archiving on success and
// quarantining on failure. Mapping from document elements to canonical
// fields is configuration, shared with the REST adapters.
package naxml

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"backoffice-sync/internal/connector"
	"backoffice-sync/internal/core"
	"backoffice-sync/internal/fileexchange"
	"backoffice-sync/internal/mapping"
	"backoffice-sync/internal/vendors"
)

const VendorName = "naxml_fileexchange"

func init() {
	vendors.Register(VendorName, New)
}

const (
	entityDepartments = "departments"
	entityTenders     = "tenders"
	entityCashiers    = "cashiers"
	entityTaxRates    = "tax_rates"
)

type Adapter struct {
	logger   *zap.SugaredLogger
	config   *connector.ConnectionConfig
	engine   *fileexchange.Engine
	xml      *mapping.XMLEngine
	mappings map[string]*mapping.EntityMapping
	deps     *vendors.Deps
	pattern  string

	// roots indexes document root element name -> entity key.
	roots map[string]string

	// mu serializes entity passes over the shared Export directory; a
	// concurrent pass could otherwise read a file the owning pass just
	// archived and report a spurious error.
	mu sync.Mutex
}

func New(logger *zap.SugaredLogger, config *connector.ConnectionConfig, deps *vendors.Deps) (vendors.Adapter, error) {
	baseDir := config.ExtraString("base_dir", "")
	if baseDir == "" {
		return nil, core.NewStructuredError(
			"naxml_fileexchange requires extra.base_dir", 0, core.CodeInvalidConfig, false)
	}
	mappingFile := config.ExtraString("mapping_file", "")
	if mappingFile == "" {
		return nil, core.NewStructuredError(
			"naxml_fileexchange requires extra.mapping_file", 0, core.CodeInvalidConfig, false)
	}
	mappings, err := mapping.LoadMappingFile(mappingFile)
	if err != nil {
		return nil, core.NewStructuredError(err.Error(), 0, core.CodeInvalidConfig, false)
	}

	roots := make(map[string]string, len(mappings))
	for entity, em := range mappings {
		roots[em.Source] = entity
	}

	engine := fileexchange.NewEngine(fileexchange.Config{
		BaseDir:        baseDir,
		DocumentPrefix: config.ExtraString("document_prefix", "NAXML"),
	}, logger)

	return &Adapter{
		logger:   logger,
		config:   config,
		engine:   engine,
		xml:      mapping.NewXMLEngine(logger),
		mappings: mappings,
		deps:     deps,
		pattern:  config.ExtraString("file_pattern", "*.xml"),
		roots:    roots,
	}, nil
}

func (a *Adapter) Name() string { return VendorName }

func (a *Adapter) Capabilities() vendors.Capabilities {
	return vendors.Capabilities{
		Departments: a.mappings[entityDepartments] != nil,
		Tenders:     a.mappings[entityTenders] != nil,
		Cashiers:    a.mappings[entityCashiers] != nil,
		TaxRates:    a.mappings[entityTaxRates] != nil,
	}
}

// TestConnection verifies the exchange directory layout is reachable. The
// primary directories are never created here: their absence means the share
// is not mounted.
func (a *Adapter) TestConnection(ctx context.Context) *vendors.TestResult {
	start := time.Now()
	if err := a.engine.TestDirectories(); err != nil {
		return vendors.TestResultFromError(err, time.Since(start))
	}
	return &vendors.TestResult{
		Success: true,
		Message: "exchange directories accessible",
		Latency: time.Since(start),
	}
}

func (a *Adapter) SyncDepartments(ctx context.Context) (*vendors.SyncResult, error) {
	return a.sync(ctx, entityDepartments)
}

func (a *Adapter) SyncTenders(ctx context.Context) (*vendors.SyncResult, error) {
	return a.sync(ctx, entityTenders)
}

func (a *Adapter) SyncCashiers(ctx context.Context) (*vendors.SyncResult, error) {
	return a.sync(ctx, entityCashiers)
}

func (a *Adapter) SyncTaxRates(ctx context.Context) (*vendors.SyncResult, error) {
	return a.sync(ctx, entityTaxRates)
}

// sync imports every discovered file whose document root belongs to entity.
// Files with a root owned by another mapping are left for that entity's
// pass; files with an unknown root are quarantined. One bad file never
// aborts the run.
func (a *Adapter) sync(ctx context.Context, entity string) (*vendors.SyncResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	em, ok := a.mappings[entity]
	if !ok {
		return nil, core.NewStructuredError(
			fmt.Sprintf("no mapping configured for %s", entity), 0, core.CodeInvalidConfig, false)
	}

	start := time.Now()
	result := &vendors.SyncResult{RunID: uuid.NewString(), Entity: entity}

	paths, err := a.engine.Discover(a.pattern)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result, err
	}

	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}

		data, err := a.engine.ReadFile(path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}

		root, err := mapping.ParseXML(data)
		if err != nil {
			fileResult := a.engine.Process(path, func(string, []byte) (int, error) {
				return 0, fmt.Errorf("malformed document: %w", err)
			})
			a.recordFile(entity, fileResult)
			result.Errors = append(result.Errors, fileResult.Error)
			continue
		}

		owner, known := a.roots[root.Name]
		if known && owner != entity {
			continue // another entity's pass will take it
		}
		if !known {
			fileResult := a.engine.Process(path, func(string, []byte) (int, error) {
				return 0, core.NewStructuredError(
					fmt.Sprintf("unsupported document type %q", root.Name), 0, core.CodeUnsupportedDocument, false)
			})
			a.recordFile(entity, fileResult)
			result.Errors = append(result.Errors, fileResult.Error)
			continue
		}

		fileResult := a.engine.Process(path, func(_ string, data []byte) (int, error) {
			sum := sha256.Sum256(data)
			if a.deps != nil && a.deps.Ledger != nil && a.deps.Ledger.AlreadyProcessed(hex.EncodeToString(sum[:])) {
				a.logger.Infof("Skipping already-imported file %s", path)
				return 0, nil
			}

			records := a.xml.MapTree(root, em, func(fields map[string]interface{}, index int) (interface{}, error) {
				return fields, nil
			})
			result.Records = append(result.Records, records...)
			return len(records), nil
		})

		a.recordFile(entity, fileResult)
		if fileResult.Success {
			result.Received += fileResult.Records
		} else {
			result.Errors = append(result.Errors, fileResult.Error)
		}
	}

	result.Duration = time.Since(start)
	a.logger.Infof("Imported %d %s records from %d files in %s",
		result.Received, entity, len(paths), result.Duration)
	return result, nil
}

// ExportDocument writes an outbound document into the Import directory for
// the POS to consume and returns the audit fields.
func (a *Adapter) ExportDocument(document []byte) (*fileexchange.Result, error) {
	path, size, hash, err := a.engine.Export(document, "xml")
	if err != nil {
		return nil, err
	}
	result := &fileexchange.Result{
		Success:    true,
		SourcePath: path,
		Hash:       hash,
	}
	if a.deps != nil && a.deps.Audit != nil {
		_ = a.deps.Audit.Record("export_document", VendorName, true, map[string]interface{}{
			"path":  path,
			"bytes": size,
			"hash":  hash,
		})
	}
	return result, nil
}

// Watch starts an export-directory watcher that invokes onChange when the
// POS drops a new batch file.
func (a *Adapter) Watch(onChange func()) (*fileexchange.Watcher, error) {
	return fileexchange.NewWatcher(a.engine, a.pattern, onChange, a.logger)
}

func (a *Adapter) recordFile(entity string, fileResult *fileexchange.Result) {
	if a.deps == nil {
		return
	}
	if a.deps.Ledger != nil && fileResult.Hash != "" {
		if err := a.deps.Ledger.MarkProcessed(fileResult); err != nil {
			a.logger.Warnf("Failed to record file in ledger: %v", err)
		}
	}
	if a.deps.Audit != nil {
		_ = a.deps.Audit.Record("import_file", VendorName, fileResult.Success, map[string]interface{}{
			"entity":  entity,
			"source":  fileResult.SourcePath,
			"dest":    fileResult.DestPath,
			"records": fileResult.Records,
			"hash":    fileResult.Hash,
			"error":   fileResult.Error,
		})
	}
}
