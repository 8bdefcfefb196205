package prodbg

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/machinefabric/prodbg-go/bifaci"
)

const (
	// DefaultBackend is the backend a session starts when none is configured
	DefaultBackend = "Dummy Backend"

	// DefaultConfigFile is looked up in the user config directory
	DefaultConfigFile = "prodbg.toml"
)

// Config holds the driver settings
type Config struct {
	// Backend is the display name of the plugin to start
	Backend string `toml:"backend"`

	// PluginPaths are searched for plugins at startup and watched afterwards
	PluginPaths []string `toml:"plugin_paths"`

	// Channel sizes the message channel arena
	Channel bifaci.Limits `toml:"channel"`

	// Watch enables picking up plugins added while running
	Watch bool `toml:"watch"`

	// Target is loaded with a file_target_request once the session starts
	Target string `toml:"target"`
}

// ConfigError reports a config file that could not be used
type ConfigError struct {
	Path    string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Path, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// DefaultConfig returns the built-in settings with environment overrides
// applied
//
// Environment variables:
//   - PRODBG_BACKEND: backend display name (default: Dummy Backend)
//   - PRODBG_PLUGIN_PATH: plugin search paths, separated like PATH
//   - PRODBG_CHANNEL_CAPACITY: channel arena size in bytes (default: 2 MiB)
func DefaultConfig() Config {
	c := Config{
		Backend: DefaultBackend,
		Channel: bifaci.DefaultLimits(),
	}
	c.applyEnv()
	return c
}

func (c *Config) applyEnv() {
	if name := os.Getenv("PRODBG_BACKEND"); name != "" {
		c.Backend = name
	}
	if paths := os.Getenv("PRODBG_PLUGIN_PATH"); paths != "" {
		c.PluginPaths = filepath.SplitList(paths)
	}
	if capacity := os.Getenv("PRODBG_CHANNEL_CAPACITY"); capacity != "" {
		if n, err := strconv.Atoi(capacity); err == nil {
			c.Channel.Capacity = n
		}
	}
}

// ConfigOption is a functional option applied after file and environment
type ConfigOption func(*Config)

// WithBackend selects the backend by display name
func WithBackend(name string) ConfigOption {
	return func(c *Config) {
		c.Backend = name
	}
}

// WithPluginPaths replaces the plugin search paths
func WithPluginPaths(paths ...string) ConfigOption {
	return func(c *Config) {
		c.PluginPaths = paths
	}
}

// WithChannelCapacity sets the channel arena size
func WithChannelCapacity(n int) ConfigOption {
	return func(c *Config) {
		c.Channel.Capacity = n
	}
}

// WithTarget sets the file loaded at startup
func WithTarget(path string) ConfigOption {
	return func(c *Config) {
		c.Target = path
	}
}

// LoadConfig reads path over the defaults, then applies the environment and
// opts. A missing file is not an error. An empty path uses DefaultConfigPath.
func LoadConfig(path string, opts ...ConfigOption) (Config, error) {
	c := Config{
		Backend: DefaultBackend,
		Channel: bifaci.DefaultLimits(),
	}

	if path == "" {
		path = DefaultConfigPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, &ConfigError{Path: path, Message: "cannot read file", Err: err}
		default:
			if err := ParseConfig(path, data, &c); err != nil {
				return Config{}, err
			}
		}
	}

	c.applyEnv()
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ParseConfig decodes TOML data into c. Unknown keys are rejected.
func ParseConfig(path string, data []byte, c *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return &ConfigError{Path: path, Message: strict.String(), Err: err}
		}
		return &ConfigError{Path: path, Message: err.Error(), Err: err}
	}
	return nil
}

// Validate checks the settings a session cannot start without
func (c Config) Validate() error {
	if c.Backend == "" {
		return &ConfigError{Path: "", Message: "backend name is empty"}
	}
	if err := c.Channel.Validate(); err != nil {
		return &ConfigError{Message: err.Error(), Err: err}
	}
	return nil
}

// DefaultConfigPath returns the config file in the user config directory, or
// an empty string when that directory is unknown
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "prodbg", DefaultConfigFile)
}
