package prodbg

import (
	"io"

	"github.com/machinefabric/prodbg-go/backend"
	"github.com/machinefabric/prodbg-go/backend/dummy"
)

// LoadPlugins returns a registry with every plugin found on cfg.PluginPaths.
// The dummy backend is always available: a builtin manifest may declare it,
// otherwise it is registered directly. Plugins that fail to load are logged
// to out and returned; the registry is usable regardless.
func LoadPlugins(cfg Config, out io.Writer) (*backend.Registry, []error) {
	r := backend.NewRegistry(
		backend.WithRegistryLog(out),
		backend.WithFactory(dummy.FactoryName, dummy.Factory),
	)
	_, errs := r.Discover(cfg.PluginPaths...)
	if _, ok := r.FindPlugin(dummy.Name); !ok {
		if err := r.Register(dummy.New()); err != nil {
			errs = append(errs, err)
		}
	}
	return r, errs
}

// WatchPlugins starts a watcher over cfg.PluginPaths. Directories that cannot
// be watched are skipped and reported in the returned slice.
func WatchPlugins(r *backend.Registry, cfg Config) (*backend.Watcher, []error) {
	w, err := backend.NewWatcher(r)
	if err != nil {
		return nil, []error{err}
	}
	var errs []error
	for _, dir := range cfg.PluginPaths {
		if err := w.Watch(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return w, errs
}
