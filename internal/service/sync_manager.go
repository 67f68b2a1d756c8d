// Package service orchestrates sync runs across the configured stores: it
// turns settings updates into live vendor adapters and fans a run out over
// every entity type an adapter supports.
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"backoffice-sync/internal/core"
	"backoffice-sync/internal/fileexchange"
	"backoffice-sync/internal/settings"
	"backoffice-sync/internal/vendors"
)

// scheduledRunTimeout bounds one unattended sync run.
const scheduledRunTimeout = 10 * time.Minute

// exportWatcher is implemented by file-exchange adapters that can signal
// when the POS drops a new batch file.
type exportWatcher interface {
	Watch(onChange func()) (*fileexchange.Watcher, error)
}

// RunReport aggregates the per-entity outcomes of one sync run.
type RunReport struct {
	RunID     string                `json:"run_id"`
	StoreID   string                `json:"store_id"`
	StartedAt time.Time             `json:"started_at"`
	Duration  time.Duration         `json:"duration"`
	Results   []*vendors.SyncResult `json:"results"`
	Errors    []string              `json:"errors,omitempty"`
}

// managedConnector is one live adapter plus its entity filter and sync
// interval from settings.
type managedConnector struct {
	vendor   string
	adapter  vendors.Adapter
	entities []string
	interval time.Duration
}

// SyncManager owns the live adapters. It consumes settings updates, runs the
// per-connector interval scheduler and export-directory watchers, and exposes
// run/test operations to the operator API.
type SyncManager struct {
	logger *zap.SugaredLogger
	deps   *vendors.Deps
	tick   func(secs int) time.Duration // swapped in tests

	mu       sync.Mutex
	stores   map[string][]*managedConnector
	stops    map[string]chan struct{}
	watchers map[string][]*fileexchange.Watcher
}

func NewSyncManager(logger *zap.SugaredLogger, deps *vendors.Deps) *SyncManager {
	return &SyncManager{
		logger:   logger,
		deps:     deps,
		tick:     func(secs int) time.Duration { return time.Duration(secs) * time.Second },
		stores:   make(map[string][]*managedConnector),
		stops:    make(map[string]chan struct{}),
		watchers: make(map[string][]*fileexchange.Watcher),
	}
}

// HandleStoreUpdate rebuilds the adapters for one store and restarts its
// scheduler and watchers. A nil settings value deactivates the store.
// Designed to be registered as the settings manager's update callback; any
// error here means the update was not applied.
func (sm *SyncManager) HandleStoreUpdate(storeID string, st *settings.StoreSettings) error {
	if st == nil {
		sm.mu.Lock()
		sm.releaseLocked(storeID)
		delete(sm.stores, storeID)
		sm.mu.Unlock()
		sm.logger.Infof("Store %s deactivated, adapters released", storeID)
		return nil
	}

	connectors := make([]*managedConnector, 0, len(st.Connectors))
	for _, c := range st.Connectors {
		newFunc, err := vendors.Get(c.Vendor)
		if err != nil {
			return core.NewStructuredError(err.Error(), 0, core.CodeInvalidConfig, false)
		}
		adapter, err := newFunc(sm.logger, c.Connection, sm.deps)
		if err != nil {
			return err
		}
		connectors = append(connectors, &managedConnector{
			vendor:   c.Vendor,
			adapter:  adapter,
			entities: c.Entities,
			interval: sm.tick(c.SyncIntervalSecs),
		})
	}

	sm.mu.Lock()
	sm.releaseLocked(storeID)
	sm.stores[storeID] = connectors
	stop := make(chan struct{})
	sm.stops[storeID] = stop
	for _, mc := range connectors {
		if mc.interval > 0 {
			go sm.scheduleLoop(storeID, mc.vendor, mc.interval, stop)
		}
		ew, ok := mc.adapter.(exportWatcher)
		if !ok {
			continue
		}
		vendor := mc.vendor
		w, err := ew.Watch(func() { sm.runUnattended(storeID, vendor) })
		if err != nil {
			sm.logger.Warnf("Export watcher for %s/%s unavailable: %v", storeID, vendor, err)
			continue
		}
		sm.watchers[storeID] = append(sm.watchers[storeID], w)
	}
	sm.mu.Unlock()
	sm.logger.Infof("Store %s now runs %d adapter(s)", storeID, len(connectors))
	return nil
}

// releaseLocked stops the scheduler and watchers of one store. The caller
// holds sm.mu.
func (sm *SyncManager) releaseLocked(storeID string) {
	if stop, ok := sm.stops[storeID]; ok {
		close(stop)
		delete(sm.stops, storeID)
	}
	for _, w := range sm.watchers[storeID] {
		if w != nil {
			_ = w.Close()
		}
	}
	delete(sm.watchers, storeID)
}

// Stop releases every store's adapters, schedulers and watchers. Called on
// service shutdown.
func (sm *SyncManager) Stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for storeID := range sm.stores {
		sm.releaseLocked(storeID)
	}
	sm.stores = make(map[string][]*managedConnector)
}

// scheduleLoop drives one connector's unattended syncs until the store is
// reconfigured or released.
func (sm *SyncManager) scheduleLoop(storeID, vendor string, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sm.runUnattended(storeID, vendor)
		}
	}
}

// runUnattended is the scheduler/watcher entry point. Errors are logged,
// never propagated, so a failing POS cannot kill the loop.
func (sm *SyncManager) runUnattended(storeID, vendor string) {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledRunTimeout)
	defer cancel()

	report, err := sm.RunVendor(ctx, storeID, vendor)
	if err != nil {
		sm.logger.Errorf("Scheduled sync for %s/%s failed: %v", storeID, vendor, err)
		return
	}
	if len(report.Errors) > 0 {
		sm.logger.Warnf("Scheduled sync for %s/%s finished with %d error(s)", storeID, vendor, len(report.Errors))
	}
}

// Stores lists the store ids with active adapters, sorted.
func (sm *SyncManager) Stores() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ids := make([]string, 0, len(sm.stores))
	for id := range sm.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TestConnection runs the named adapter's connection test for one store.
func (sm *SyncManager) TestConnection(ctx context.Context, storeID, vendor string) (*vendors.TestResult, error) {
	mc, err := sm.connector(storeID, vendor)
	if err != nil {
		return nil, err
	}
	return mc.adapter.TestConnection(ctx), nil
}

// RunStore syncs every entity of every adapter configured for storeID. Entity
// syncs run concurrently; one failing entity never aborts the others.
func (sm *SyncManager) RunStore(ctx context.Context, storeID string) (*RunReport, error) {
	sm.mu.Lock()
	connectors := sm.stores[storeID]
	sm.mu.Unlock()
	if len(connectors) == 0 {
		return nil, core.NewStructuredError(
			fmt.Sprintf("store %s has no active connectors", storeID), 0, core.CodeInvalidConfig, false)
	}

	report := &RunReport{
		RunID:     uuid.NewString(),
		StoreID:   storeID,
		StartedAt: time.Now().UTC(),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, mc := range connectors {
		for entity, run := range entityRunners(mc) {
			wg.Add(1)
			go func(vendor, entity string, run func(context.Context) (*vendors.SyncResult, error)) {
				defer wg.Done()
				result, err := run(ctx)
				mu.Lock()
				defer mu.Unlock()
				if result != nil {
					report.Results = append(report.Results, result)
				}
				if err != nil {
					report.Errors = append(report.Errors, fmt.Sprintf("%s/%s: %v", vendor, entity, err))
				}
			}(mc.vendor, entity, run)
		}
	}
	wg.Wait()

	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].Entity < report.Results[j].Entity
	})
	report.Duration = time.Since(report.StartedAt)
	sm.logger.Infof("Run %s for store %s finished: %d entity result(s), %d error(s) in %s",
		report.RunID, storeID, len(report.Results), len(report.Errors), report.Duration)
	return report, nil
}

// RunVendor syncs a single adapter of one store.
func (sm *SyncManager) RunVendor(ctx context.Context, storeID, vendor string) (*RunReport, error) {
	mc, err := sm.connector(storeID, vendor)
	if err != nil {
		return nil, err
	}

	report := &RunReport{
		RunID:     uuid.NewString(),
		StoreID:   storeID,
		StartedAt: time.Now().UTC(),
	}
	for entity, run := range entityRunners(mc) {
		result, runErr := run(ctx)
		if result != nil {
			report.Results = append(report.Results, result)
		}
		if runErr != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s/%s: %v", vendor, entity, runErr))
		}
	}
	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].Entity < report.Results[j].Entity
	})
	report.Duration = time.Since(report.StartedAt)
	return report, nil
}

func (sm *SyncManager) connector(storeID, vendor string) (*managedConnector, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, mc := range sm.stores[storeID] {
		if mc.vendor == vendor {
			return mc, nil
		}
	}
	return nil, core.NewStructuredError(
		fmt.Sprintf("store %s has no connector %s", storeID, vendor), 0, core.CodeInvalidConfig, false)
}

// entityRunners maps each entity the adapter both supports and is configured
// for onto its sync call.
func entityRunners(mc *managedConnector) map[string]func(context.Context) (*vendors.SyncResult, error) {
	caps := mc.adapter.Capabilities()
	runners := make(map[string]func(context.Context) (*vendors.SyncResult, error))
	if caps.Departments && entityEnabled(mc.entities, "departments") {
		runners["departments"] = mc.adapter.SyncDepartments
	}
	if caps.Tenders && entityEnabled(mc.entities, "tenders") {
		runners["tenders"] = mc.adapter.SyncTenders
	}
	if caps.Cashiers && entityEnabled(mc.entities, "cashiers") {
		runners["cashiers"] = mc.adapter.SyncCashiers
	}
	if caps.TaxRates && entityEnabled(mc.entities, "tax_rates") {
		runners["tax_rates"] = mc.adapter.SyncTaxRates
	}
	return runners
}

// entityEnabled applies the settings-level entity filter; an empty filter
// means everything the adapter supports.
func entityEnabled(filter []string, entity string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, e := range filter {
		if e == entity {
			return true
		}
	}
	return false
}
