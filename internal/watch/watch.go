// Package watch turns bursts of file system events under a set of save
// paths into single debounced change notifications.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"savesync/internal/paths"
	"savesync/internal/saves"
)

// Watcher calls onChange once the watched trees have been quiet for the
// debounce period. Directories created while running are watched too.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onChange func()
	logger   saves.Logger

	// Events are only relevant at or under a directory root, or on a file
	// root itself.
	dirRoots  []string
	fileRoots map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
	stopErr  error
	wg       sync.WaitGroup

	mu     sync.Mutex
	events int
}

// New watches every directory under roots. A root that is a file is watched
// through its parent directory, ignoring its siblings; missing roots are an
// error.
func New(roots []string, debounce time.Duration, onChange func(), logger saves.Logger) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange cannot be nil")
	}
	if logger == nil {
		logger = saves.NewNopLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		fsw:       fsw,
		debounce:  debounce,
		onChange:  onChange,
		logger:    logger,
		fileRoots: map[string]bool{},
		stopCh:    make(chan struct{}),
	}
	for _, root := range roots {
		root = filepath.Clean(root)
		info, err := os.Stat(root)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", root, err)
		}
		if !info.IsDir() {
			w.fileRoots[root] = true
			err = fsw.Add(filepath.Dir(root))
		} else {
			w.dirRoots = append(w.dirRoots, root)
			err = w.add(root)
		}
		if err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) add(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fsw.Add(p); err != nil {
				return fmt.Errorf("watching %s: %w", p, err)
			}
		}
		return nil
	})
}

// Start begins delivering notifications.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
}

// Events returns how many relevant events have been seen.
func (w *Watcher) Events() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events
}

func (w *Watcher) run() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.add(ev.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			w.mu.Lock()
			w.events++
			w.mu.Unlock()

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-fire:
			fire = nil
			w.onChange()

		case <-w.stopCh:
			// flush a change that was still settling
			if fire != nil {
				timer.Stop()
				w.onChange()
			}
			return
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".tmp-") || strings.HasSuffix(base, "~") {
		return false
	}
	name := filepath.Clean(ev.Name)
	if w.fileRoots[name] {
		return true
	}
	for _, root := range w.dirRoots {
		if paths.IsWithin(root, name) {
			return true
		}
	}
	return false
}

// Stop halts the watcher, delivering any pending notification first. Later
// calls return the result of the first.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.stopErr = w.fsw.Close()
	})
	return w.stopErr
}
