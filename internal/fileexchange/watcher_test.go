package fileexchange

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherFiresOnMatchingFile(t *testing.T) {
	engine, base := newTestEngine(t)

	fired := make(chan struct{}, 1)
	watcher, err := NewWatcher(engine, "*.xml", func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, testLogger())
	require.NoError(t, err)
	defer func() { _ = watcher.Close() }()
	watcher.debounce = 50 * time.Millisecond

	require.NoError(t, os.WriteFile(filepath.Join(base, "Export", "drop.xml"), []byte("<X/>"), 0o644))

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not fire for a matching file")
	}
}

func TestWatcherIgnoresNonMatchingFile(t *testing.T) {
	engine, base := newTestEngine(t)

	fired := make(chan struct{}, 1)
	watcher, err := NewWatcher(engine, "*.xml", func() {
		fired <- struct{}{}
	}, testLogger())
	require.NoError(t, err)
	defer func() { _ = watcher.Close() }()
	watcher.debounce = 50 * time.Millisecond

	require.NoError(t, os.WriteFile(filepath.Join(base, "Export", "notes.txt"), []byte("x"), 0o644))

	select {
	case <-fired:
		t.Fatal("watcher fired for a non-matching file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherRequiresExistingDirectory(t *testing.T) {
	engine := NewEngine(Config{BaseDir: filepath.Join(t.TempDir(), "missing")}, testLogger())
	_, err := NewWatcher(engine, "*.xml", func() {}, testLogger())
	assert.Error(t, err)
}
