package fileexchange

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher triggers an import pass when the POS drops a new file into the
// export directory, so batches are picked up between polling intervals.
// Events are debounced because writers create then repeatedly write.
type Watcher struct {
	watcher  *fsnotify.Watcher
	matcher  *regexp.Regexp
	onChange func()
	logger   *zap.SugaredLogger
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// NewWatcher watches the engine's export directory for files matching
// pattern and invokes onChange (debounced) when one appears.
func NewWatcher(engine *Engine, pattern string, onChange func(), logger *zap.SugaredLogger) (*Watcher, error) {
	matcher, err := CompilePattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid watch pattern %q: %w", pattern, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create directory watcher: %w", err)
	}
	if err := fsWatcher.Add(engine.cfg.exportDir()); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", engine.cfg.exportDir(), err)
	}

	w := &Watcher{
		watcher:  fsWatcher,
		matcher:  matcher,
		onChange: onChange,
		logger:   logger,
		debounce: 2 * time.Second,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.matcher.MatchString(baseName(event.Name)) {
				continue
			}
			w.logger.Debugf("Exchange directory event: %s", event)
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("Directory watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

// Close stops watching. Pending debounced callbacks are cancelled.
func (w *Watcher) Close() error {
	close(w.done)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
