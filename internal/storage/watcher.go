package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses the burst of events an editor or a rename-based
// save produces into one reload.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reports external changes to a user's session file. Saves made by
// the same FileBackend are ignored.
type Watcher struct {
	backend  *FileBackend
	userID   string
	onChange func()
	logger   *zap.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for userID's session file. onChange runs on
// the watcher goroutine.
func NewWatcher(backend *FileBackend, userID string, onChange func(), logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		backend:  backend,
		userID:   userID,
		onChange: onChange,
		logger:   logger,
		debounce: DefaultDebounce,
	}
}

// Run watches until ctx is cancelled. The session directory is watched rather
// than the file so atomic replacements are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	dir := w.backend.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	path := w.backend.Path(w.userID)
	w.logger.Debug("watching session file", zap.String("path", path))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.check(path)
			})
			mu.Unlock()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) check(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if w.backend.OwnWrite(w.userID, data) {
		return
	}
	w.logger.Info("session file changed externally", zap.String("path", path))
	w.onChange()
}
