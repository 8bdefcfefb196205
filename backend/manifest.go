package backend

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ManifestFileName is the descriptor looked up inside plugin directories
const ManifestFileName = "backend.json"

// Manifest types
const (
	ManifestTypeLua     = "lua"
	ManifestTypeBuiltin = "builtin"
	ManifestTypeShared  = "shared"
)

// Manifest describes a backend plugin on disk
type Manifest struct {
	// Display name, must match the name the plugin reports
	Name string `json:"name"`

	Version string `json:"version"`

	Description string `json:"description,omitempty"`

	// One of lua, builtin or shared
	Type string `json:"type"`

	// Script or shared object, relative to the manifest (lua and shared)
	Main string `json:"main,omitempty"`

	// Registered factory name (builtin)
	Factory string `json:"factory,omitempty"`

	Author *string `json:"author,omitempty"`

	// Directory the manifest was read from
	Dir string `json:"-"`
}

const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "version", "type"],
  "additionalProperties": false,
  "properties": {
    "name":        {"type": "string", "minLength": 1},
    "version":     {"type": "string", "pattern": "^[0-9]+\\.[0-9]+(\\.[0-9]+)?$"},
    "description": {"type": "string"},
    "type":        {"enum": ["lua", "builtin", "shared"]},
    "main":        {"type": "string", "minLength": 1},
    "factory":     {"type": "string", "minLength": 1},
    "author":      {"type": "string"}
  },
  "allOf": [
    {"if": {"properties": {"type": {"const": "builtin"}}}, "then": {"required": ["factory"]}},
    {"if": {"properties": {"type": {"enum": ["lua", "shared"]}}}, "then": {"required": ["main"]}}
  ]
}`

var manifestSchemaLoader = gojsonschema.NewStringLoader(manifestSchema)

// ParseManifest validates data against the manifest schema and decodes it
func ParseManifest(path string, data []byte) (*Manifest, error) {
	result, err := gojsonschema.Validate(manifestSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, NewManifestError(path, fmt.Sprintf("not valid JSON: %v", err))
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, NewManifestError(path, strings.Join(details, "; "))
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, NewManifestError(path, err.Error())
	}
	m.Dir = filepath.Dir(path)
	return &m, nil
}

// ReadManifest reads and validates the manifest at path
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewNotFoundError(path, err)
		}
		return nil, NewOpenError(path, err)
	}
	return ParseManifest(path, data)
}

// MainPath returns the absolute location of the manifest's main file
func (m *Manifest) MainPath() string {
	if filepath.IsAbs(m.Main) {
		return m.Main
	}
	return filepath.Join(m.Dir, m.Main)
}
