// =============================================================================
// CLI CONFIGURATION - CONFIG FILE AND CONTEXT MANAGEMENT
// =============================================================================
//
// WHAT IS THIS?
// Configuration for kafkalite-cli:
//   - Named broker contexts (like kubectl contexts)
//   - Config file (~/.kafkalite/config.yaml)
//   - Environment variable overrides
//
// PRECEDENCE (highest to lowest):
//   1. Command-line flags (--server, --context, --timeout)
//   2. Environment variables (KAFKALITE_SERVER, KAFKALITE_CONTEXT, KAFKALITE_TIMEOUT)
//   3. Config file (current-context selects the broker)
//   4. Default (localhost:9092)
//
// CONFIG FILE FORMAT (~/.kafkalite/config.yaml):
//
//   current-context: local
//   contexts:
//     local:
//       server: localhost:9092
//     follower:
//       server: 10.0.0.2:9092
//       timeout: 10
//
// =============================================================================

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultServer is the broker used when nothing else is configured.
const DefaultServer = "localhost:9092"

// DefaultTimeout bounds each CLI request.
const DefaultTimeout = 5 * time.Second

// =============================================================================
// CONFIGURATION STRUCTURES
// =============================================================================

// Config represents the CLI configuration file.
type Config struct {
	// CurrentContext is the name of the active context
	CurrentContext string `yaml:"current-context"`

	// Contexts maps context names to broker settings
	Contexts map[string]*ContextConfig `yaml:"contexts"`
}

// ContextConfig is one named broker.
type ContextConfig struct {
	// Server is the broker address (host:port or http URL)
	Server string `yaml:"server"`

	// Timeout in seconds (optional)
	Timeout int `yaml:"timeout,omitempty"`
}

// =============================================================================
// DEFAULT PATHS
// =============================================================================

// DefaultConfigDir returns the default config directory (~/.kafkalite).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kafkalite"
	}
	return filepath.Join(home, ".kafkalite")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// =============================================================================
// LOADING AND SAVING
// =============================================================================

// LoadConfig loads configuration from the default path.
func LoadConfig() (*Config, error) {
	return LoadConfigFromPath(DefaultConfigPath())
}

// LoadConfigFromPath loads configuration from path. A missing file yields DefaultConfig.
func LoadConfigFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.Contexts == nil {
		config.Contexts = make(map[string]*ContextConfig)
	}
	return &config, nil
}

// DefaultConfig returns a configuration with a single local context.
func DefaultConfig() *Config {
	return &Config{
		CurrentContext: "local",
		Contexts: map[string]*ContextConfig{
			"local": {Server: DefaultServer},
		},
	}
}

// Save saves the configuration to the default path.
func (c *Config) Save() error {
	return c.SaveToPath(DefaultConfigPath())
}

// SaveToPath writes the configuration to path, creating its directory.
func (c *Config) SaveToPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// CONTEXT OPERATIONS
// =============================================================================

// GetContext returns a context by name.
func (c *Config) GetContext(name string) (*ContextConfig, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q not found", name)
	}
	return ctx, nil
}

// GetCurrentContext returns the active context.
func (c *Config) GetCurrentContext() (*ContextConfig, error) {
	if c.CurrentContext == "" {
		return nil, errors.New("no current context set")
	}
	return c.GetContext(c.CurrentContext)
}

// SetContext adds or replaces a context.
func (c *Config) SetContext(name string, ctx *ContextConfig) {
	if c.Contexts == nil {
		c.Contexts = make(map[string]*ContextConfig)
	}
	c.Contexts[name] = ctx
}

// DeleteContext removes a context, clearing current-context if it pointed there.
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return nil
}

// UseContext sets the current context.
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return nil
}

// ListContexts returns all context names, sorted.
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Environment variable names
const (
	EnvServer  = "KAFKALITE_SERVER"
	EnvContext = "KAFKALITE_CONTEXT"
	EnvTimeout = "KAFKALITE_TIMEOUT"
)

// activeContext picks the context named by flag, then env, then current-context.
func activeContext(contextFlag string, config *Config) *ContextConfig {
	if config == nil {
		return nil
	}
	name := contextFlag
	if name == "" {
		name = os.Getenv(EnvContext)
	}
	if name == "" {
		name = config.CurrentContext
	}
	ctx, ok := config.Contexts[name]
	if !ok {
		return nil
	}
	return ctx
}

// ResolveServer returns the broker address. Precedence: flag > env > context > default.
func ResolveServer(flagValue, contextFlag string, config *Config) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvServer); env != "" {
		return env
	}
	if ctx := activeContext(contextFlag, config); ctx != nil && ctx.Server != "" {
		return ctx.Server
	}
	return DefaultServer
}

// ResolveTimeout returns the request timeout with the same precedence as ResolveServer.
func ResolveTimeout(flagValue time.Duration, contextFlag string, config *Config) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(EnvTimeout); env != "" {
		if d, err := time.ParseDuration(env); err == nil && d > 0 {
			return d
		}
		if secs, err := strconv.Atoi(env); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if ctx := activeContext(contextFlag, config); ctx != nil && ctx.Timeout > 0 {
		return time.Duration(ctx.Timeout) * time.Second
	}
	return DefaultTimeout
}
