package backend

import (
	"plugin"
)

// InitSymbol is the entry point a shared object backend must export. Its
// type must be func() backend.Plugin.
const InitSymbol = "InitPlugin"

// LoadSharedPlugin opens a Go plugin built with -buildmode=plugin and calls
// its InitPlugin entry point
func LoadSharedPlugin(path string) (Plugin, error) {
	so, err := plugin.Open(path)
	if err != nil {
		return nil, NewOpenError(path, err)
	}

	sym, err := so.Lookup(InitSymbol)
	if err != nil {
		return nil, NewMissingSymbolError(path, InitSymbol)
	}

	initFn, ok := sym.(func() Plugin)
	if !ok {
		return nil, &LoadError{Kind: LoadErrorMissingSymbol, Path: path, Message: InitSymbol + " has the wrong signature"}
	}

	p := initFn()
	if p == nil || p.Name() == "" {
		return nil, NewMissingSymbolError(path, "Name")
	}
	return p, nil
}
