// Package store persists the bridge's local sync state: the processed-file
// ledger that makes redelivered batch files idempotent within one instance,
// and per-connector pagination/sync cursors. Ledger entries expire after the
// retention window, so state never outlives its usefulness.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"backoffice-sync/internal/fileexchange"
)

// Retention window for processed-file entries (business rule).
const ledgerTTL = 72 * time.Hour

const (
	filePrefix   = "file_"
	cursorPrefix = "cursor_"
)

// fileEntry is the persisted ledger record for one processed file.
type fileEntry struct {
	Hash        string `json:"hash"`
	SourcePath  string `json:"source_path"`
	Records     int    `json:"records"`
	Success     bool   `json:"success"`
	ProcessedAt string `json:"processed_at"`
}

// Ledger is the badger-backed sync state store. One instance owns one
// database directory for the process lifetime.
type Ledger struct {
	db     *badger.DB
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.SugaredLogger
}

func NewLedger(dir string, logger *zap.SugaredLogger) (*Ledger, error) {
	// Check for stale lock file and attempt cleanup
	if err := cleanupStaleLock(dir, logger); err != nil {
		logger.Warnf("Failed to cleanup potential stale lock: %v", err)
	}

	opts := badger.DefaultOptions(dir).
		WithValueLogFileSize(1 << 20). // 1MB value log files
		WithMemTableSize(16 << 20).
		WithNumMemtables(2).
		WithSyncWrites(false).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	ledger := &Ledger{
		db:     db,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	go ledger.maintenanceWorker()

	return ledger, nil
}

// MarkProcessed records the outcome of one exchanged file, keyed by content
// hash. Entries carry the retention TTL so replays eventually age out.
func (l *Ledger) MarkProcessed(result *fileexchange.Result) error {
	if result.Hash == "" {
		return fmt.Errorf("cannot record a file without a content hash")
	}

	entry := fileEntry{
		Hash:        result.Hash,
		SourcePath:  result.SourcePath,
		Records:     result.Records,
		Success:     result.Success,
		ProcessedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(filePrefix+result.Hash), data).WithTTL(ledgerTTL)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("failed to store ledger entry: %w", err)
	}

	l.logger.Debugf("Recorded file %s (%d records)", result.Hash, result.Records)
	return nil
}

// AlreadyProcessed reports whether a file with this content hash was
// successfully imported within the retention window.
func (l *Ledger) AlreadyProcessed(hash string) bool {
	var processed bool
	_ = l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(filePrefix + hash))
		if err != nil {
			return nil
		}
		return item.Value(func(val []byte) error {
			var entry fileEntry
			if json.Unmarshal(val, &entry) == nil {
				processed = entry.Success
			}
			return nil
		})
	})
	return processed
}

// SetCursor persists a pagination/sync cursor for (connector, entity).
func (l *Ledger) SetCursor(connector, entity, cursor string) error {
	key := []byte(cursorPrefix + connector + "_" + entity)
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte(cursor))
	})
}

// GetCursor returns the stored cursor, empty when none exists.
func (l *Ledger) GetCursor(connector, entity string) string {
	var cursor string
	_ = l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cursorPrefix + connector + "_" + entity))
		if err != nil {
			return nil
		}
		return item.Value(func(val []byte) error {
			cursor = string(val)
			return nil
		})
	})
	return cursor
}

// GetStats summarizes ledger contents for the metrics endpoint.
func (l *Ledger) GetStats() map[string]interface{} {
	var files, cursors int
	_ = l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			switch {
			case len(key) > len(filePrefix) && string(key[:len(filePrefix)]) == filePrefix:
				files++
			case len(key) > len(cursorPrefix) && string(key[:len(cursorPrefix)]) == cursorPrefix:
				cursors++
			}
		}
		return nil
	})

	lsm, vlog := l.db.Size()
	return map[string]interface{}{
		"processed_files": files,
		"cursors":         cursors,
		"size_bytes":      lsm + vlog,
	}
}

func (l *Ledger) maintenanceWorker() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.db.RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
				l.logger.Errorf("Ledger value log GC failed: %v", err)
			}
		}
	}
}

func (l *Ledger) Close() error {
	l.cancel()
	return l.db.Close()
}

// cleanupStaleLock attempts to remove stale BadgerDB lock files
// This is safe because we're checking if the process is actually running
func cleanupStaleLock(dir string, logger *zap.SugaredLogger) error {
	lockFile := filepath.Join(dir, "LOCK")

	// Check if lock file exists
	if _, err := os.Stat(lockFile); os.IsNotExist(err) {
		return nil // No lock file, nothing to clean
	}

	// If a previous instance died ungracefully the lock stays behind; if
	// another process really holds it, Open() fails regardless.
	logger.Infof("Found potential stale lock file, attempting cleanup: %s", lockFile)

	if err := os.Remove(lockFile); err != nil {
		return fmt.Errorf("failed to remove stale lock file: %w", err)
	}

	return nil
}
