// Package settings holds the runtime connector configuration pushed by the
// back-office: which vendor adapters each store runs and how to reach them.
// Configuration arrives as JSON payloads per store and can change while the
// service is up; consumers subscribe via Changes or an update callback.
package settings

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"backoffice-sync/internal/connector"
	"backoffice-sync/internal/core"
)

// ConnectorSettings configures one vendor adapter for one store.
type ConnectorSettings struct {
	Vendor           string                      `json:"vendor"`
	Connection       *connector.ConnectionConfig `json:"connection"`
	SyncIntervalSecs int                         `json:"sync_interval_secs,omitempty"`
	Entities         []string                    `json:"entities,omitempty"`
}

// StoreSettings is the full configuration for one store.
type StoreSettings struct {
	StoreID    string               `json:"store_id"`
	Connectors []*ConnectorSettings `json:"connectors"`
}

// payload is the wire shape posted by the back-office per store.
type payload struct {
	Connectors []*ConnectorSettings `json:"connectors"`
}

// Manager stores and validates per-store connector configuration.
type Manager struct {
	sync.RWMutex
	logger         *zap.SugaredLogger
	stores         map[string]*StoreSettings
	changeChan     chan struct{}
	updateCallback func(storeID string, settings *StoreSettings) error
}

func NewManager(logger *zap.SugaredLogger) *Manager {
	return &Manager{
		logger:     logger,
		stores:     make(map[string]*StoreSettings),
		changeChan: make(chan struct{}, 1),
	}
}

// UpdateSettings replaces the configuration for storeID with the posted
// payload. An empty connector list deactivates the store. Validation is
// all-or-nothing: a payload with any invalid connector, or one the update
// callback cannot apply, leaves the previous configuration untouched and
// surfaces the error to the caller.
func (m *Manager) UpdateSettings(storeID string, raw []byte) error {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return core.NewStructuredError(
			fmt.Sprintf("could not parse settings payload: %v", err), 0, core.CodeInvalidConfig, false)
	}

	connectors := deduplicateConnectors(p.Connectors)
	for _, c := range connectors {
		if c.Vendor == "" {
			return core.NewStructuredError("connector entry is missing a vendor", 0, core.CodeInvalidConfig, false)
		}
		if c.Connection == nil {
			return core.NewStructuredError(
				fmt.Sprintf("connector %s is missing its connection config", c.Vendor), 0, core.CodeInvalidConfig, false)
		}
		if err := c.Connection.Validate(); err != nil {
			return err
		}
	}

	m.Lock()
	defer m.Unlock()

	previous, hadPrevious := m.stores[storeID]

	if len(connectors) == 0 {
		delete(m.stores, storeID)
		if m.updateCallback != nil {
			if err := m.updateCallback(storeID, nil); err != nil {
				if hadPrevious {
					m.stores[storeID] = previous
				}
				return err
			}
		}
		m.logger.Infof("Store %s deactivated all connectors", storeID)
		m.notifyChange()
		return nil
	}

	settings := &StoreSettings{StoreID: storeID, Connectors: connectors}
	m.stores[storeID] = settings

	if m.updateCallback != nil {
		if err := m.updateCallback(storeID, settings); err != nil {
			if hadPrevious {
				m.stores[storeID] = previous
			} else {
				delete(m.stores, storeID)
			}
			return err
		}
	}

	m.logger.Infof("Store %s configured with %d connector(s)", storeID, len(connectors))
	m.notifyChange()
	return nil
}

// GetStore returns a copy of the settings for storeID, nil when the store has
// no active configuration.
func (m *Manager) GetStore(storeID string) *StoreSettings {
	m.RLock()
	defer m.RUnlock()

	settings, ok := m.stores[storeID]
	if !ok {
		return nil
	}
	copied := *settings
	copied.Connectors = append([]*ConnectorSettings(nil), settings.Connectors...)
	return &copied
}

// AllStores returns the current configuration of every store, for replaying
// to a consumer that attached late.
func (m *Manager) AllStores() map[string]*StoreSettings {
	m.RLock()
	defer m.RUnlock()

	result := make(map[string]*StoreSettings, len(m.stores))
	for storeID := range m.stores {
		settings := m.stores[storeID]
		copied := *settings
		copied.Connectors = append([]*ConnectorSettings(nil), settings.Connectors...)
		result[storeID] = &copied
	}
	return result
}

// Changes returns a channel that signals when any store's settings change.
// Signals are coalesced; consumers re-read the state they care about.
func (m *Manager) Changes() <-chan struct{} {
	return m.changeChan
}

// SetUpdateCallback registers a function invoked with each store update. A
// nil settings value means the store was deactivated. A callback error
// rejects the update: the previous configuration is restored and the error
// surfaces from UpdateSettings.
func (m *Manager) SetUpdateCallback(callback func(storeID string, settings *StoreSettings) error) {
	m.Lock()
	defer m.Unlock()
	m.updateCallback = callback
}

func (m *Manager) notifyChange() {
	select {
	case m.changeChan <- struct{}{}:
	default:
	}
}

// deduplicateConnectors drops repeated vendor entries, first occurrence wins.
func deduplicateConnectors(connectors []*ConnectorSettings) []*ConnectorSettings {
	seen := make(map[string]bool)
	result := make([]*ConnectorSettings, 0, len(connectors))
	for _, c := range connectors {
		if c == nil || seen[c.Vendor] {
			continue
		}
		seen[c.Vendor] = true
		result = append(result, c)
	}
	return result
}
