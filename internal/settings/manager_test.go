package settings

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func newTestManager() *Manager {
	return NewManager(zap.NewNop().Sugar())
}

const validPayload = `{
	"connectors": [
		{
			"vendor": "generic_rest",
			"connection": {
				"host": "pos.example.com",
				"use_tls": true,
				"credentials": {"type": "api_key", "api_key": "k"}
			},
			"sync_interval_secs": 900,
			"entities": ["departments", "tenders"]
		}
	]
}`

func TestUpdateSettingsStoresConfiguration(t *testing.T) {
	m := newTestManager()

	if err := m.UpdateSettings("store-42", []byte(validPayload)); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	settings := m.GetStore("store-42")
	if settings == nil {
		t.Fatal("expected settings for store-42")
	}
	if len(settings.Connectors) != 1 {
		t.Fatalf("expected 1 connector, got %d", len(settings.Connectors))
	}

	c := settings.Connectors[0]
	if c.Vendor != "generic_rest" {
		t.Errorf("expected vendor generic_rest, got %s", c.Vendor)
	}
	if c.Connection.Host != "pos.example.com" {
		t.Errorf("expected host pos.example.com, got %s", c.Connection.Host)
	}
	if c.SyncIntervalSecs != 900 {
		t.Errorf("expected interval 900, got %d", c.SyncIntervalSecs)
	}
}

func TestUpdateSettingsRejectsBadJSON(t *testing.T) {
	m := newTestManager()
	if err := m.UpdateSettings("store-42", []byte("{not json")); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
	if m.GetStore("store-42") != nil {
		t.Error("malformed payload must not create a configuration")
	}
}

func TestUpdateSettingsRejectsInvalidConnection(t *testing.T) {
	m := newTestManager()

	if err := m.UpdateSettings("store-42", []byte(validPayload)); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	// Hostless connector must not clobber the existing good config.
	bad := `{"connectors":[{"vendor":"generic_rest","connection":{"host":""}}]}`
	if err := m.UpdateSettings("store-42", []byte(bad)); err == nil {
		t.Fatal("expected an error for a connection without a host")
	}
	if m.GetStore("store-42") == nil {
		t.Error("previous configuration was lost on invalid update")
	}
}

func TestUpdateSettingsEmptyDeactivates(t *testing.T) {
	m := newTestManager()

	if err := m.UpdateSettings("store-42", []byte(validPayload)); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if err := m.UpdateSettings("store-42", []byte(`{"connectors":[]}`)); err != nil {
		t.Fatalf("deactivation failed: %v", err)
	}
	if m.GetStore("store-42") != nil {
		t.Error("expected store-42 to be deactivated")
	}
}

func TestUpdateSettingsDeduplicatesVendors(t *testing.T) {
	m := newTestManager()

	payload := `{"connectors":[
		{"vendor":"generic_rest","connection":{"host":"a.example.com"}},
		{"vendor":"generic_rest","connection":{"host":"b.example.com"}}
	]}`
	if err := m.UpdateSettings("store-42", []byte(payload)); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	settings := m.GetStore("store-42")
	if len(settings.Connectors) != 1 {
		t.Fatalf("expected 1 connector after dedupe, got %d", len(settings.Connectors))
	}
	if settings.Connectors[0].Connection.Host != "a.example.com" {
		t.Error("first occurrence must win")
	}
}

func TestUpdateCallbackInvoked(t *testing.T) {
	m := newTestManager()

	var gotStore string
	var gotSettings *StoreSettings
	m.SetUpdateCallback(func(storeID string, settings *StoreSettings) error {
		gotStore = storeID
		gotSettings = settings
		return nil
	})

	if err := m.UpdateSettings("store-42", []byte(validPayload)); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if gotStore != "store-42" || gotSettings == nil {
		t.Fatal("callback not invoked with the new settings")
	}

	if err := m.UpdateSettings("store-42", []byte(`{"connectors":[]}`)); err != nil {
		t.Fatalf("deactivation failed: %v", err)
	}
	if gotSettings != nil {
		t.Error("deactivation must invoke the callback with nil settings")
	}
}

func TestUpdateCallbackFailureRollsBack(t *testing.T) {
	m := newTestManager()

	if err := m.UpdateSettings("store-42", []byte(validPayload)); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	m.SetUpdateCallback(func(string, *StoreSettings) error {
		return errors.New("adapter construction failed")
	})

	next := `{"connectors":[{"vendor":"generic_rest","connection":{"host":"b.example.com"}}]}`
	if err := m.UpdateSettings("store-42", []byte(next)); err == nil {
		t.Fatal("expected the callback error to surface")
	}

	settings := m.GetStore("store-42")
	if settings == nil {
		t.Fatal("previous configuration was lost on a rejected update")
	}
	if settings.Connectors[0].Connection.Host != "pos.example.com" {
		t.Errorf("expected rollback to the previous config, got host %s", settings.Connectors[0].Connection.Host)
	}
}

func TestUpdateCallbackFailureOnFirstConfig(t *testing.T) {
	m := newTestManager()
	m.SetUpdateCallback(func(string, *StoreSettings) error {
		return errors.New("adapter construction failed")
	})

	if err := m.UpdateSettings("store-42", []byte(validPayload)); err == nil {
		t.Fatal("expected the callback error to surface")
	}
	if m.GetStore("store-42") != nil {
		t.Error("a configuration that never applied must not be retained")
	}
}

func TestChangesSignalCoalesces(t *testing.T) {
	m := newTestManager()

	for i := 0; i < 3; i++ {
		if err := m.UpdateSettings("store-42", []byte(validPayload)); err != nil {
			t.Fatalf("UpdateSettings failed: %v", err)
		}
	}

	select {
	case <-m.Changes():
	default:
		t.Fatal("expected a pending change signal")
	}
	select {
	case <-m.Changes():
		t.Fatal("signals must coalesce")
	default:
	}
}

func TestAllStores(t *testing.T) {
	m := newTestManager()

	if err := m.UpdateSettings("store-1", []byte(validPayload)); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateSettings("store-2", []byte(validPayload)); err != nil {
		t.Fatal(err)
	}

	all := m.AllStores()
	if len(all) != 2 {
		t.Fatalf("expected 2 stores, got %d", len(all))
	}
	if all["store-1"].StoreID != "store-1" {
		t.Error("store id not carried through")
	}
}
