package backend

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherClosed is returned by Watch after Close
var ErrWatcherClosed = errors.New("plugin watcher is closed")

// WatchEvent reports the outcome of loading a plugin that appeared in a
// watched directory
type WatchEvent struct {
	Path string
	Err  error
}

// Watcher adds plugins to a registry as they appear in the plugin
// directories. Plugins are never unloaded when their files go away.
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	registry *Registry
	loaded   map[string]bool
	roots    map[string]bool
	events   chan WatchEvent
	closed   bool
	done     sync.WaitGroup
}

// NewWatcher starts watching for new plugins on behalf of registry
func NewWatcher(registry *Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		registry: registry,
		loaded:   make(map[string]bool),
		roots:    make(map[string]bool),
		events:   make(chan WatchEvent, 16),
	}
	for _, e := range registry.Entries() {
		if e.Path != "" {
			w.loaded[loadKey(e.Path)] = true
		}
	}

	w.done.Add(1)
	go w.loop()
	return w, nil
}

// Events delivers one WatchEvent per plugin the watcher tried to load. The
// channel is closed by Close.
func (w *Watcher) Events() <-chan WatchEvent {
	return w.events
}

// Watch adds a plugin search directory
func (w *Watcher) Watch(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := w.fsw.Add(abs); err != nil {
		return err
	}
	w.roots[abs] = true
	return nil
}

// Close stops the watcher and waits for its goroutine to exit
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	err := w.fsw.Close()
	w.done.Wait()
	close(w.events)
	return err
}

func (w *Watcher) loop() {
	defer w.done.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.handle(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.registry.logf("watch error: %v", err)
		}
	}
}

func (w *Watcher) handle(path string) {
	isDir := false
	target := path

	switch {
	case strings.EqualFold(filepath.Base(path), ManifestFileName):
		// manifest written into a plugin directory
		target = filepath.Dir(path)
	case w.isRoot(filepath.Dir(path)) && isDirectory(path):
		// a new plugin directory, its manifest may not exist yet
		if err := w.fsw.Add(path); err != nil {
			w.registry.logf("cannot watch %s: %v", path, err)
		}
		isDir = true
	}

	key := loadKey(target)
	w.mu.Lock()
	done := w.loaded[key]
	w.mu.Unlock()
	if done || !IsCandidate(target, isDir || target != path) {
		return
	}

	err := w.registry.AddPlugin(target)
	if IsLoadError(err, LoadErrorDuplicate) {
		// a second write event for a file that is already loaded
		return
	}
	if err == nil {
		w.mu.Lock()
		w.loaded[key] = true
		w.mu.Unlock()
	}

	select {
	case w.events <- WatchEvent{Path: target, Err: err}:
	default:
		w.registry.logf("watch event for %s dropped", target)
	}
}

func (w *Watcher) isRoot(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.roots[dir]
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// loadKey identifies a plugin by its directory when it has a manifest
func loadKey(path string) string {
	if strings.EqualFold(filepath.Base(path), ManifestFileName) {
		path = filepath.Dir(path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
