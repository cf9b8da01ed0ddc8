// Package watcher reports debounced changes to template files so a session
// can reload its configuration.
package watcher

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

var watchLog = log.New(os.Stderr, "[sheetqa:watcher] ", log.Ltime)

// DefaultDebounceDelay coalesces the burst of events one editor save emits.
const DefaultDebounceDelay = 500 * time.Millisecond

// DefaultPatterns select template files by base name inside watched
// directories.
var DefaultPatterns = []string{"*.{yml,yaml}", "*.json"}

// DefaultSkipDirs are never descended into by a recursive watch.
var DefaultSkipDirs = map[string]bool{
	".git": true, ".svn": true, ".hg": true,
	".sheetqa":     true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
}

type Config struct {
	// Paths are template files or directories holding templates.
	Paths []string
	// Patterns filter files inside watched directories. Explicitly named
	// files always pass.
	Patterns      []string
	Recursive     bool
	DebounceDelay time.Duration
	SkipDirs      []string
}

type FileChangeHandler interface {
	OnChanges(files map[string]fsnotify.Op)
}

type FileChangeHandlerFunc func(files map[string]fsnotify.Op)

func (f FileChangeHandlerFunc) OnChanges(files map[string]fsnotify.Op) {
	f(files)
}

type Watcher struct {
	fsnotify  *fsnotify.Watcher
	config    Config
	skip      map[string]bool
	handlers  []FileChangeHandler
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	startTime time.Time

	mu           sync.Mutex
	pending      map[string]fsnotify.Op
	debounceOnce sync.Once
	files        map[string]bool // explicitly watched files
	dirs         map[string]bool // directories whose matching files are watched
	watched      map[string]bool // directories registered with fsnotify
}

func New(config Config, handlers ...FileChangeHandler) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if config.DebounceDelay == 0 {
		config.DebounceDelay = DefaultDebounceDelay
	}
	if len(config.Patterns) == 0 {
		config.Patterns = DefaultPatterns
	}
	for _, p := range config.Patterns {
		if !doublestar.ValidatePattern(p) {
			fsWatcher.Close()
			return nil, fmt.Errorf("invalid watch pattern %q", p)
		}
	}

	skipSet := make(map[string]bool)
	for k, v := range DefaultSkipDirs {
		skipSet[k] = v
	}
	for _, d := range config.SkipDirs {
		skipSet[d] = true
	}

	return &Watcher{
		fsnotify: fsWatcher,
		config:   config,
		skip:     skipSet,
		handlers: handlers,
		stop:     make(chan struct{}),
		pending:  make(map[string]fsnotify.Op),
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
		watched:  make(map[string]bool),
	}, nil
}

func (w *Watcher) AddHandler(h FileChangeHandler) {
	w.handlers = append(w.handlers, h)
}

// Start registers every path and begins delivering changes. A file is
// watched through its directory so editors that save by rename keep
// reporting.
func (w *Watcher) Start() error {
	if len(w.config.Paths) == 0 {
		return fmt.Errorf("no paths to watch")
	}

	for _, p := range w.config.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		if !info.IsDir() {
			w.files[abs] = true
			if err := w.addDir(filepath.Dir(abs)); err != nil {
				return err
			}
			continue
		}
		if !w.config.Recursive {
			w.dirs[abs] = true
			if err := w.addDir(abs); err != nil {
				return err
			}
			continue
		}
		err = filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if path != abs && w.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			w.dirs[path] = true
			return w.addDir(path)
		})
		if err != nil {
			return err
		}
	}

	w.startTime = time.Now()
	w.wg.Add(1)
	go w.processEvents()

	watchLog.Printf("watching %d files and %d directories (debounce: %v)", len(w.files), len(w.dirs), w.config.DebounceDelay)
	return nil
}

func (w *Watcher) addDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[dir] {
		return nil
	}
	if err := w.fsnotify.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.watched[dir] = true
	return nil
}

func (w *Watcher) skipDir(name string) bool {
	return w.skip[name] || (len(name) > 1 && name[0] == '.')
}

func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
	return w.fsnotify.Close()
}

func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	files := make([]string, 0, len(w.files))
	for f := range w.files {
		files = append(files, f)
	}
	sort.Strings(files)

	return WatcherStats{
		Files:        files,
		DirsWatched:  len(w.watched),
		Debounce:     w.config.DebounceDelay,
		PendingFiles: len(w.pending),
		Uptime:       time.Since(w.startTime),
	}
}

type WatcherStats struct {
	Files        []string
	DirsWatched  int
	Debounce     time.Duration
	PendingFiles int
	Uptime       time.Duration
}

// accept reports whether a changed path is a template this watcher serves.
func (w *Watcher) accept(path string) bool {
	name := filepath.Base(path)
	if strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") || strings.HasSuffix(name, ".tmp") {
		return false
	}

	w.mu.Lock()
	explicit := w.files[path]
	inDir := w.dirs[filepath.Dir(path)]
	w.mu.Unlock()

	if explicit {
		return true
	}
	if !inDir || strings.HasPrefix(name, ".") {
		return false
	}
	for _, p := range w.config.Patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}

			if w.config.Recursive && event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.mu.Lock()
					parentWatched := w.dirs[filepath.Dir(event.Name)]
					w.mu.Unlock()
					if parentWatched && !w.skipDir(info.Name()) {
						w.mu.Lock()
						w.dirs[event.Name] = true
						w.mu.Unlock()
						if err := w.addDir(event.Name); err == nil {
							watchLog.Printf("watching new directory: %s", event.Name)
						}
					}
					continue
				}
			}

			if !w.accept(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.queueChange(event.Name, event.Op)
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			watchLog.Printf("error: %v", err)
		}
	}
}

func (w *Watcher) queueChange(path string, op fsnotify.Op) {
	w.mu.Lock()
	w.pending[path] |= op
	w.debounceOnce.Do(func() {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			select {
			case <-time.After(w.config.DebounceDelay):
				w.flushPending()
			case <-w.stop:
				return
			}
		}()
	})
	w.mu.Unlock()
}

func (w *Watcher) flushPending() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.debounceOnce = sync.Once{}
	w.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	watchLog.Printf("processing %d template changes", len(pending))

	for _, h := range w.handlers {
		h.OnChanges(pending)
	}
}

// IsRemove reports whether op removed or renamed the file away.
func IsRemove(op fsnotify.Op) bool {
	return op&(fsnotify.Remove|fsnotify.Rename) != 0
}
