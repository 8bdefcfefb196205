package backend

import (
	"errors"
	"fmt"
)

// LoadError reports a plugin that could not be added to the registry. The
// front-end keeps running without it.
type LoadError struct {
	Kind    string
	Path    string
	Message string
	Err     error
}

// LoadError kinds
const (
	LoadErrorNotFound        = "NotFound"
	LoadErrorUnsupported     = "Unsupported"
	LoadErrorOpen            = "OpenError"
	LoadErrorMissingSymbol   = "MissingSymbol"
	LoadErrorInvalidManifest = "InvalidManifest"
	LoadErrorScript          = "ScriptError"
	LoadErrorDuplicate       = "Duplicate"
)

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates an error for a missing plugin file
func NewNotFoundError(path string, err error) *LoadError {
	return &LoadError{Kind: LoadErrorNotFound, Path: path, Message: "plugin file does not exist", Err: err}
}

// NewUnsupportedError creates an error for a file type no loader handles
func NewUnsupportedError(path, msg string) *LoadError {
	return &LoadError{Kind: LoadErrorUnsupported, Path: path, Message: msg}
}

// NewOpenError creates an error for a plugin file that exists but cannot be opened
func NewOpenError(path string, err error) *LoadError {
	return &LoadError{Kind: LoadErrorOpen, Path: path, Message: err.Error(), Err: err}
}

// NewMissingSymbolError creates an error for a plugin lacking a required entry point
func NewMissingSymbolError(path, symbol string) *LoadError {
	return &LoadError{Kind: LoadErrorMissingSymbol, Path: path, Message: fmt.Sprintf("required symbol %q not found", symbol)}
}

// NewManifestError creates an error for an invalid backend.json
func NewManifestError(path, msg string) *LoadError {
	return &LoadError{Kind: LoadErrorInvalidManifest, Path: path, Message: msg}
}

// NewScriptError creates an error for a script that fails to load
func NewScriptError(path string, err error) *LoadError {
	return &LoadError{Kind: LoadErrorScript, Path: path, Message: err.Error(), Err: err}
}

// NewDuplicateError creates an error for a second plugin reporting a taken name
func NewDuplicateError(path, name string) *LoadError {
	return &LoadError{Kind: LoadErrorDuplicate, Path: path, Message: fmt.Sprintf("a backend named %q is already registered", name)}
}

// IsLoadError reports whether err is (or wraps) a LoadError of the given
// kind. An empty kind matches every LoadError.
func IsLoadError(err error, kind string) bool {
	var le *LoadError
	if !errors.As(err, &le) {
		return false
	}
	return kind == "" || le.Kind == kind
}
