package backend

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Factory creates a statically linked plugin named by a builtin manifest
type Factory func() Plugin

// Entry is one registered plugin and where it came from
type Entry struct {
	Plugin   Plugin
	Path     string    // empty for plugins registered in code
	Manifest *Manifest // nil unless loaded through backend.json
}

// Registry holds the loaded backend plugins, indexed by their self-reported
// name. Plugins are only ever added; a plugin handed out by FindPlugin stays
// valid for the life of the registry.
type Registry struct {
	mu        sync.RWMutex
	entries   []Entry
	byName    map[string]int
	factories map[string]Factory
	out       io.Writer
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryLog sets where the registry writes its log lines
func WithRegistryLog(w io.Writer) RegistryOption {
	return func(r *Registry) {
		r.out = w
	}
}

// WithFactory makes a builtin factory available to manifests
func WithFactory(name string, f Factory) RegistryOption {
	return func(r *Registry) {
		r.factories[name] = f
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byName:    make(map[string]int),
		factories: make(map[string]Factory),
		out:       os.Stderr,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) logf(format string, args ...any) {
	fmt.Fprintf(r.out, "[Registry] "+format+"\n", args...)
}

// RegisterFactory makes a builtin factory available to manifests of type
// builtin under name
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Register adds a statically linked plugin
func (r *Registry) Register(p Plugin) error {
	return r.add(Entry{Plugin: p})
}

func (r *Registry) add(e Entry) error {
	name := e.Plugin.Name()
	if name == "" {
		return NewMissingSymbolError(e.Path, "name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[name]; taken {
		return NewDuplicateError(e.Path, name)
	}
	r.byName[name] = len(r.entries)
	r.entries = append(r.entries, e)

	if e.Path != "" {
		r.logf("added %q from %s", name, e.Path)
	} else {
		r.logf("registered %q", name)
	}
	return nil
}

// AddPlugin loads the plugin at path and adds it under the name it reports.
// path may be a plugin directory holding a backend.json, a backend.json, a
// Lua script or a Go shared object. A LoadError leaves the registry unchanged.
func (r *Registry) AddPlugin(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewNotFoundError(path, err)
		}
		return NewOpenError(path, err)
	}

	if info.IsDir() {
		return r.addManifest(filepath.Join(path, ManifestFileName))
	}

	switch {
	case strings.EqualFold(filepath.Base(path), ManifestFileName):
		return r.addManifest(path)
	case isScript(path):
		p, err := LoadLuaPlugin(path)
		if err != nil {
			return err
		}
		return r.add(Entry{Plugin: p, Path: path})
	case isSharedObject(path):
		p, err := LoadSharedPlugin(path)
		if err != nil {
			return err
		}
		return r.add(Entry{Plugin: p, Path: path})
	default:
		return NewUnsupportedError(path, "not a plugin directory, backend.json, .lua script or shared object")
	}
}

func (r *Registry) addManifest(path string) error {
	m, err := ReadManifest(path)
	if err != nil {
		return err
	}

	var p Plugin
	switch m.Type {
	case ManifestTypeBuiltin:
		r.mu.RLock()
		f, ok := r.factories[m.Factory]
		r.mu.RUnlock()
		if !ok {
			return NewMissingSymbolError(path, m.Factory)
		}
		p = f()
	case ManifestTypeLua:
		p, err = LoadLuaPlugin(m.MainPath())
	case ManifestTypeShared:
		p, err = LoadSharedPlugin(m.MainPath())
	default:
		// the schema only admits the types above
		return NewManifestError(path, fmt.Sprintf("unsupported type %q", m.Type))
	}
	if err != nil {
		return err
	}
	if p == nil {
		return NewMissingSymbolError(path, m.Factory)
	}

	if p.Name() != m.Name {
		return NewManifestError(path, fmt.Sprintf("manifest names %q but the plugin reports %q", m.Name, p.Name()))
	}
	return r.add(Entry{Plugin: p, Path: path, Manifest: m})
}

// FindPlugin returns the plugin whose reported name is exactly name
func (r *Registry) FindPlugin(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.entries[i].Plugin, true
}

// Entries returns the registered plugins in registration order
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Names returns the registered plugin names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered plugins
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Discover adds every plugin found directly inside the given directories.
// Failures are logged and collected; they never stop the scan.
func (r *Registry) Discover(dirs ...string) (added int, errs []error) {
	for _, dir := range dirs {
		items, err := os.ReadDir(dir)
		if err != nil {
			r.logf("cannot scan %s: %v", dir, err)
			errs = append(errs, NewOpenError(dir, err))
			continue
		}
		for _, item := range items {
			path := filepath.Join(dir, item.Name())
			if !IsCandidate(path, item.IsDir()) {
				continue
			}
			if err := r.AddPlugin(path); err != nil {
				r.logf("skipping %s: %v", path, err)
				errs = append(errs, err)
				continue
			}
			added++
		}
	}
	return added, errs
}

// IsCandidate reports whether a directory entry may hold a plugin
func IsCandidate(path string, isDir bool) bool {
	if isDir {
		_, err := os.Stat(filepath.Join(path, ManifestFileName))
		return err == nil
	}
	return isScript(path) || isSharedObject(path)
}

func isSharedObject(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".so", ".dylib", ".dll":
		return true
	}
	return false
}
