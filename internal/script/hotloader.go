package script

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zot/codata/internal/config"
)

// HotLoader watches one script and calls reload when it changes. It watches
// the script's directory, since editors often replace files by renaming, and
// the target directory too when the script is a symlink.
type HotLoader struct {
	config  *config.Config
	path    string
	watcher *fsnotify.Watcher
	reload  func(path string)

	target      string // resolved symlink target, "" if not a symlink
	watchedDirs map[string]bool
	mu          sync.Mutex

	// Debouncing
	pendingSince  time.Time
	debounceMu    sync.Mutex
	debounceDelay time.Duration

	done chan struct{}
	once sync.Once
}

// NewHotLoader creates a hot loader for the script at path.
func NewHotLoader(cfg *config.Config, path string, reload func(path string)) (*HotLoader, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &HotLoader{
		config:        cfg,
		path:          abs,
		watcher:       watcher,
		reload:        reload,
		watchedDirs:   make(map[string]bool),
		debounceDelay: 100 * time.Millisecond,
		done:          make(chan struct{}),
	}, nil
}

// Start begins watching for changes.
func (h *HotLoader) Start() error {
	if err := h.addWatch(filepath.Dir(h.path)); err != nil {
		return err
	}
	h.updateSymlinkWatch()

	go h.eventLoop()
	go h.debounceLoop()

	h.config.Log(1, "HotLoader: watching %s for changes", h.path)
	return nil
}

// Stop stops the hot loader.
func (h *HotLoader) Stop() error {
	var err error
	h.once.Do(func() {
		close(h.done)
		err = h.watcher.Close()
	})
	return err
}

func (h *HotLoader) addWatch(dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchedDirs[dir] {
		return nil
	}
	if err := h.watcher.Add(dir); err != nil {
		return err
	}
	h.watchedDirs[dir] = true
	h.config.Log(2, "HotLoader: added watch for %s", dir)
	return nil
}

// updateSymlinkWatch follows the script if it is a symlink.
func (h *HotLoader) updateSymlinkWatch() {
	info, err := os.Lstat(h.path)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		h.mu.Lock()
		h.target = ""
		h.mu.Unlock()
		return
	}
	target, err := filepath.EvalSymlinks(h.path)
	if err != nil {
		h.config.Log(2, "HotLoader: cannot resolve symlink %s: %v", h.path, err)
		return
	}
	h.mu.Lock()
	h.target = target
	h.mu.Unlock()
	if err := h.addWatch(filepath.Dir(target)); err != nil {
		h.config.Log(1, "HotLoader: cannot watch %s: %v", filepath.Dir(target), err)
	}
}

// eventLoop processes file system events.
func (h *HotLoader) eventLoop() {
	for {
		select {
		case <-h.done:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			h.handleEvent(event)
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.config.Log(1, "HotLoader: watcher error: %v", err)
		}
	}
}

// handleEvent queues a reload for writes and creations of the script or its
// symlink target.
func (h *HotLoader) handleEvent(event fsnotify.Event) {
	h.mu.Lock()
	target := h.target
	h.mu.Unlock()

	if event.Name != h.path && (target == "" || event.Name != target) {
		return
	}
	h.config.Log(3, "HotLoader: event %s on %s", event.Op, event.Name)
	if event.Name == h.path && event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
		h.updateSymlinkWatch()
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
		h.debounceMu.Lock()
		h.pendingSince = time.Now()
		h.debounceMu.Unlock()
	}
}

// debounceLoop reloads once changes have been quiet for debounceDelay.
func (h *HotLoader) debounceLoop() {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.processPendingReload()
		}
	}
}

func (h *HotLoader) processPendingReload() {
	h.debounceMu.Lock()
	due := !h.pendingSince.IsZero() && time.Since(h.pendingSince) >= h.debounceDelay
	if due {
		h.pendingSince = time.Time{}
	}
	h.debounceMu.Unlock()

	if due {
		h.reloadFile()
	}
}

// reloadFile runs the reload callback with panic recovery.
func (h *HotLoader) reloadFile() {
	if _, err := os.Stat(h.path); err != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.config.Log(0, "HotLoader: PANIC reloading %s: %v", h.path, r)
		}
	}()
	h.config.Log(1, "HotLoader: reloading %s", h.path)
	h.reload(h.path)
}
