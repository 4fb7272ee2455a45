package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"gosupervisor/internal/supervisor"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// socketWatch reports the removal of the supervision socket file.
type socketWatch struct {
	path    string
	watcher *fsnotify.Watcher
}

// watchSocket starts watching the directory holding path. The watch is
// armed when it returns, so later unlinks are never missed.
func watchSocket(path string) (*socketWatch, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	if _, err := os.Stat(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("%w: %v", supervisor.ErrRendezvousLost, err)
	}
	return &socketWatch{path: path, watcher: watcher}, nil
}

// run returns an error wrapping supervisor.ErrRendezvousLost when the
// socket file is removed or renamed, and nil once sctx stops.
func (w *socketWatch) run(sctx *stopper.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-sctx.Stopping():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return fmt.Errorf("%w: %s was unlinked", supervisor.ErrRendezvousLost, w.path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				return fmt.Errorf("watch %s: %w", w.path, err)
			}
		}
	}
}
