package rpc

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/yllada/vpnd-client/common"
)

// SocketWatcher signals when the daemon socket is created, so a reconnect
// backoff can be cut short when the daemon restarts.
type SocketWatcher struct {
	socketPath string
	watcher    *fsnotify.Watcher
	logger     common.Logger
	ready      chan struct{}
	stopChan   chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewSocketWatcher watches the directory holding socketPath.
func NewSocketWatcher(socketPath string, logger common.Logger) (*SocketWatcher, error) {
	if logger == nil {
		logger = common.GetLogger()
	}

	absPath, err := filepath.Abs(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve socket path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// The socket itself disappears with the daemon, so watch its directory.
	socketDir := filepath.Dir(absPath)
	if err := watcher.Add(socketDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch socket directory %s: %w", socketDir, err)
	}

	w := &SocketWatcher{
		socketPath: absPath,
		watcher:    watcher,
		logger:     logger,
		ready:      make(chan struct{}, 1),
		stopChan:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.watchLoop()
	return w, nil
}

// Ready delivers a value each time the socket is (re)created. Signals
// coalesce: at most one is pending.
func (w *SocketWatcher) Ready() <-chan struct{} {
	return w.ready
}

func (w *SocketWatcher) watchLoop() {
	defer w.wg.Done()
	socketName := filepath.Base(w.socketPath)

	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != socketName {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				w.logger.Debug("Daemon socket created: %s", event.Name)
				w.trigger()
			} else if event.Op&fsnotify.Remove == fsnotify.Remove {
				w.logger.Debug("Daemon socket removed: %s", event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Socket watcher error: %v", err)
		}
	}
}

func (w *SocketWatcher) trigger() {
	select {
	case w.ready <- struct{}{}:
	default:
	}
}

// Close stops watching and waits for the watch goroutine to exit.
func (w *SocketWatcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopChan)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
