package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditLogger records one JSONL entry per sync run and per exchanged file.
// Files roll hourly and rotate by size so they can be tarred off the box.
type AuditLogger struct {
	logDir    string
	maxSizeMB int64
	mutex     sync.Mutex
	logger    *zap.SugaredLogger
}

// AuditEntry is the persisted audit record. Detail passes through RedactFields
// before serialization so credentials never reach disk.
type AuditEntry struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Operation string                 `json:"operation"`
	Connector string                 `json:"connector"`
	Success   bool                   `json:"success"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

func NewAuditLogger(logDir string, maxSizeMB int64, logger *zap.SugaredLogger) *AuditLogger {
	_ = os.MkdirAll(logDir, 0o755)
	return &AuditLogger{
		logDir:    logDir,
		maxSizeMB: maxSizeMB,
		logger:    logger,
	}
}

// Record appends one audit entry for an operation against a connector.
func (a *AuditLogger) Record(operation, connector string, success bool, detail map[string]interface{}) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	entry := AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: operation,
		Connector: connector,
		Success:   success,
		Detail:    RedactFields(detail),
	}

	entryBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	entryBytes = append(entryBytes, '\n')

	filename := a.getCurrentLogFile()
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err = file.Write(entryBytes); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	// Check if rotation is needed
	if err := a.checkRotation(filename); err != nil {
		a.logger.Warnf("Audit rotation error: %v", err)
	}

	return nil
}

func (a *AuditLogger) getCurrentLogFile() string {
	return filepath.Join(a.logDir, fmt.Sprintf("audit_%s.jsonl", time.Now().Format("20060102_15")))
}

func (a *AuditLogger) checkRotation(filename string) error {
	stat, err := os.Stat(filename)
	if err != nil {
		return err
	}

	sizeMB := stat.Size() / (1024 * 1024)
	if sizeMB >= a.maxSizeMB {
		return a.rotateLog(filename)
	}

	return nil
}

func (a *AuditLogger) rotateLog(filename string) error {
	timestamp := time.Now().Format("20060102_150405")

	rotatedFile := fmt.Sprintf("%s.rotated_%s", filename, timestamp)

	if err := os.Rename(filename, rotatedFile); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	a.logger.Infof("Rotated audit log: %s -> %s", filename, rotatedFile)

	return nil
}

func (a *AuditLogger) GetStats() map[string]interface{} {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	currentFile := a.getCurrentLogFile()
	var currentSize int64
	if stat, err := os.Stat(currentFile); err == nil {
		currentSize = stat.Size()
	}

	return map[string]interface{}{
		"current_file":    currentFile,
		"current_size_mb": currentSize / (1024 * 1024),
		"max_size_mb":     a.maxSizeMB,
		"rotation_needed": currentSize >= (a.maxSizeMB * 1024 * 1024),
	}
}
