// Package fileexchange turns a shared filesystem directory into a reliable,
// replayable batch transport. The layout is fixed: the framework writes
// outbound documents into <base>/Import (the POS reads them) and reads
// inbound documents from <base>/Export (the POS writes them); processed
// files move to Export/Processed, failed ones to Export/Error.
//
// Per file the state machine is DISCOVERED -> READ -> {IMPORTED, REJECTED}.
// A single engine instance owns a base directory; two instances pointed at
// the same directory may double-process a file (documented limitation, no
// cross-process locking).
package fileexchange

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"backoffice-sync/internal/core"
)

// Config fixes the directory layout for one exchange point.
type Config struct {
	BaseDir        string `yaml:"base_dir" json:"base_dir"`
	ImportDir      string `yaml:"import_dir,omitempty" json:"import_dir,omitempty"`
	ExportDir      string `yaml:"export_dir,omitempty" json:"export_dir,omitempty"`
	ProcessedDir   string `yaml:"processed_dir,omitempty" json:"processed_dir,omitempty"`
	ErrorDir       string `yaml:"error_dir,omitempty" json:"error_dir,omitempty"`
	DocumentPrefix string `yaml:"document_prefix,omitempty" json:"document_prefix,omitempty"`
}

func (c *Config) importDir() string    { return c.resolve(c.ImportDir, "Import") }
func (c *Config) exportDir() string    { return c.resolve(c.ExportDir, "Export") }
func (c *Config) processedDir() string { return c.resolve(c.ProcessedDir, "Export/Processed") }
func (c *Config) errorDir() string     { return c.resolve(c.ErrorDir, "Export/Error") }

func (c *Config) resolve(configured, fallback string) string {
	if configured != "" {
		if filepath.IsAbs(configured) {
			return configured
		}
		return filepath.Join(c.BaseDir, configured)
	}
	return filepath.Join(c.BaseDir, filepath.FromSlash(fallback))
}

// Result records the outcome of processing one file. Immutable once returned.
type Result struct {
	Success    bool   `json:"success"`
	Records    int    `json:"records"`
	SourcePath string `json:"source_path"`
	Archived   bool   `json:"archived"`
	DestPath   string `json:"dest_path,omitempty"`
	Hash       string `json:"hash,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ImportFunc parses and imports one discovered file, returning the number of
// records it yielded.
type ImportFunc func(path string, data []byte) (int, error)

// Engine implements the directory-convention transport.
type Engine struct {
	cfg    Config
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewEngine(cfg Config, logger *zap.SugaredLogger) *Engine {
	return &Engine{cfg: cfg, logger: logger, now: time.Now}
}

// TestDirectories verifies the primary exchange directories exist. They are
// never created implicitly: their absence is a connectivity failure the
// operator must fix, not something to auto-remediate.
func (e *Engine) TestDirectories() error {
	for _, dir := range []string{e.cfg.importDir(), e.cfg.exportDir()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return core.NewStructuredError(
				fmt.Sprintf("exchange directory %s is not accessible", dir), 0, core.CodeInvalidConfig, false)
		}
	}
	return nil
}

// Discover lists the export directory and returns paths matching the
// glob-style pattern, sorted by name for deterministic processing order.
func (e *Engine) Discover(pattern string) ([]string, error) {
	matcher, err := CompilePattern(pattern)
	if err != nil {
		return nil, core.NewStructuredError(
			fmt.Sprintf("invalid file pattern %q: %v", pattern, err), 0, core.CodeInvalidConfig, false)
	}

	dir := e.cfg.exportDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, core.NewStructuredError(
			fmt.Sprintf("cannot list exchange directory %s: %v", dir, err), 0, core.CodeInvalidConfig, false)
	}

	var matches []string
	for _, entry := range entries {
		if entry.IsDir() || !matcher.MatchString(entry.Name()) {
			continue
		}
		path, err := securePath(dir, entry.Name())
		if err != nil {
			return nil, err
		}
		matches = append(matches, path)
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadFile reads a discovered file after validating it resolves under the
// export directory.
func (e *Engine) ReadFile(path string) ([]byte, error) {
	safe, err := e.verifyExportPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(safe)
	if err != nil {
		return nil, core.NewStructuredError(
			fmt.Sprintf("read failed: %v", err), 0, core.CodeUnknown, false)
	}
	return data, nil
}

// Process runs one discovered file through read -> import -> archive (or
// quarantine). The returned Result always carries the content hash when the
// file was readable, so callers can dedupe replays.
func (e *Engine) Process(path string, fn ImportFunc) *Result {
	result := &Result{SourcePath: path}

	safe, err := e.verifyExportPath(path)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	path = safe

	data, err := os.ReadFile(path)
	if err != nil {
		result.Error = fmt.Sprintf("read failed: %v", err)
		e.quarantine(path, result)
		return result
	}

	sum := sha256.Sum256(data)
	result.Hash = hex.EncodeToString(sum[:])

	records, err := fn(path, data)
	if err != nil {
		result.Error = err.Error()
		e.quarantine(path, result)
		return result
	}

	result.Records = records
	result.Success = true
	e.archive(path, result)
	return result
}

// Export writes a document into the import directory under a generated
// timestamped name and returns its path, size and content hash for audit.
func (e *Engine) Export(document []byte, extension string) (string, int64, string, error) {
	dir := e.cfg.importDir()
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", 0, "", core.NewStructuredError(
			fmt.Sprintf("import directory %s is not accessible", dir), 0, core.CodeInvalidConfig, false)
	}

	prefix := e.cfg.DocumentPrefix
	if prefix == "" {
		prefix = "DOC"
	}
	if extension == "" {
		extension = "xml"
	}
	name := fmt.Sprintf("%s_%s.%s", prefix, e.timestamp(), extension)

	path, err := securePath(dir, name)
	if err != nil {
		return "", 0, "", err
	}

	if err := os.WriteFile(path, document, 0o644); err != nil {
		return "", 0, "", core.NewStructuredError(
			fmt.Sprintf("export write failed: %v", err), 0, core.CodeUnknown, false)
	}

	sum := sha256.Sum256(document)
	e.logger.Infof("Exported %d bytes to %s", len(document), path)
	return path, int64(len(document)), hex.EncodeToString(sum[:]), nil
}

// archive moves a successfully imported file into the processed directory
// with a timestamp-prefixed name.
func (e *Engine) archive(path string, result *Result) {
	dest, err := e.moveTo(path, e.cfg.processedDir(), e.timestamp()+"_"+filepath.Base(path))
	if err != nil {
		e.logger.Errorf("Failed to archive %s: %v", path, err)
		result.Error = err.Error()
		return
	}
	result.Archived = true
	result.DestPath = dest
}

// quarantine moves a failed file into the error directory with an ERROR_
// tagged, timestamp-prefixed name so the run can continue with the next file.
func (e *Engine) quarantine(path string, result *Result) {
	dest, err := e.moveTo(path, e.cfg.errorDir(), "ERROR_"+e.timestamp()+"_"+filepath.Base(path))
	if err != nil {
		e.logger.Errorf("Failed to quarantine %s: %v", path, err)
		return
	}
	result.DestPath = dest
}

// moveTo relocates a file, creating the archive-side directory on demand.
// Rename is attempted first; a copy+delete fallback covers cross-volume moves.
func (e *Engine) moveTo(path, dir, name string) (string, error) {
	dest, err := securePath(dir, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}

	if err := os.Rename(path, dest); err == nil {
		return dest, nil
	}

	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	_ = src.Close()
	return dest, os.Remove(path)
}

// timestamp renders an ISO-ish instant with colons and periods replaced so
// it is filename-safe on every platform.
func (e *Engine) timestamp() string {
	ts := e.now().UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.ReplaceAll(ts, ":", "-")
	return strings.ReplaceAll(ts, ".", "-")
}

// verifyExportPath resolves an already-discovered path and verifies it still
// sits under the export directory, rejecting absolute or relative escapes.
func (e *Engine) verifyExportPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	base, err := filepath.Abs(e.cfg.exportDir())
	if err != nil {
		return "", err
	}
	resolved := filepath.Clean(abs)
	if !strings.HasPrefix(resolved, base+string(filepath.Separator)) {
		return "", core.NewStructuredError(
			fmt.Sprintf("path %q escapes exchange directory %s", path, base), 0, core.CodePathTraversal, false)
	}
	return resolved, nil
}

// securePath joins name under base and verifies the resolved path cannot
// escape it. Any traversal attempt aborts the operation before the
// filesystem is touched.
func securePath(base, name string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	resolved := filepath.Clean(filepath.Join(absBase, name))
	if resolved != absBase && !strings.HasPrefix(resolved, absBase+string(filepath.Separator)) {
		return "", core.NewStructuredError(
			fmt.Sprintf("path %q escapes base directory %s", name, base), 0, core.CodePathTraversal, false)
	}
	return resolved, nil
}
