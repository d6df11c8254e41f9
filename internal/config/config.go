// Package config handles template-agent configuration loading.
//
// Settings come from an optional YAML file (see [DefaultSearchPaths]) with
// ${VAR} expansion, and are then overridden by well-known environment
// variables so the agent can be configured purely from the environment in
// containers.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before the config file and environment are read.
const (
	DefaultMCPURL        = "http://localhost:5001/mcp/"
	DefaultMCPTimeout    = 30 * time.Second
	DefaultProvider      = "gemini"
	DefaultModel         = "gemini-2.5-flash"
	DefaultDatabaseURI   = "sqlite://checkpoints.db"
	DefaultMaxIterations = 25
)

// ErrNoConfigFile is returned by [FindConfig] when no explicit path was
// given and none of the search paths exist.
var ErrNoConfigFile = errors.New("no config file found")

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./config.yaml, ~/.config/template-agent/config.yaml, /etc/template-agent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "template-agent", "config.yaml"))
	}

	paths = append(paths, "/etc/template-agent/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns [ErrNoConfigFile] (wrapped) if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfigFile, DefaultSearchPaths())
}

// Config holds all template-agent configuration. It is loaded once at
// startup and treated as read-only afterwards.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text (default) or json

	// UseInMemorySaver selects the process-wide in-memory checkpoint
	// backend instead of the database. It also marks the process as a
	// local/development deployment, which relaxes the MCP connection
	// policy: an unreachable tool server is tolerated.
	UseInMemorySaver bool `yaml:"use_inmemory_saver"`

	// inMemoryEnv holds a USE_INMEMORY_SAVER value that did not parse,
	// for Validate to reject.
	inMemoryEnv string

	Database DatabaseConfig `yaml:"database"`
	MCP      MCPConfig      `yaml:"mcp"`
	Model    ModelConfig    `yaml:"model"`
	Agent    AgentConfig    `yaml:"agent"`
}

// DatabaseConfig defines the relational checkpoint backend.
type DatabaseConfig struct {
	// URI is handed verbatim to the checkpoint package. Supported schemes
	// are sqlite:// and sqlite3://.
	URI string `yaml:"uri"`
}

// MCPConfig defines the remote tool server.
type MCPConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ModelConfig defines the hosted language model.
type ModelConfig struct {
	Provider string `yaml:"provider"` // gemini, openai, anthropic
	Name     string `yaml:"name"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // optional endpoint override
}

// AgentConfig tunes the agent execution engine.
type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

// Default returns a configuration with every default applied and no
// file or environment input.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Database:  DatabaseConfig{URI: DefaultDatabaseURI},
		MCP: MCPConfig{
			URL:     DefaultMCPURL,
			Timeout: DefaultMCPTimeout,
		},
		Model: ModelConfig{
			Provider: DefaultProvider,
			Name:     DefaultModel,
		},
		Agent: AgentConfig{MaxIterations: DefaultMaxIterations},
	}
}

// Load reads configuration from a YAML file on top of [Default], then
// applies environment overrides from the process environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// Parse decodes YAML configuration on top of [Default]. Environment
// variables referenced as ${VAR} are expanded first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. lookup is
// normally [os.LookupEnv]; tests pass a map-backed function.
//
// Recognized variables: LOG_LEVEL, LOG_FORMAT, USE_INMEMORY_SAVER,
// DATABASE_URI, MCP_URL, MODEL_PROVIDER, MODEL_NAME, MODEL_BASE_URL and
// the provider key (GOOGLE_API_KEY, OPENAI_API_KEY or ANTHROPIC_API_KEY,
// whichever matches the configured provider).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		c.LogFormat = v
	}
	if v, ok := lookup("USE_INMEMORY_SAVER"); ok {
		if b, ok := parseFlag(v); ok {
			c.UseInMemorySaver = b
			c.inMemoryEnv = ""
		} else {
			c.inMemoryEnv = v
		}
	}
	if v, ok := lookup("DATABASE_URI"); ok {
		c.Database.URI = v
	}
	if v, ok := lookup("MCP_URL"); ok {
		c.MCP.URL = v
	}
	if v, ok := lookup("MODEL_PROVIDER"); ok {
		c.Model.Provider = v
	}
	if v, ok := lookup("MODEL_NAME"); ok {
		c.Model.Name = v
	}
	if v, ok := lookup("MODEL_BASE_URL"); ok {
		c.Model.BaseURL = v
	}
	if c.Model.APIKey == "" {
		if v, ok := lookup(apiKeyEnv(c.Model.Provider)); ok {
			c.Model.APIKey = v
		}
	}
	c.applyDefaults()
}

// Validate reports configuration values that can never work.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.inMemoryEnv != "" {
		return fmt.Errorf("invalid USE_INMEMORY_SAVER %q (valid: true, false, 1, 0, yes, no, on, off)", c.inMemoryEnv)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	switch c.Model.Provider {
	case "gemini", "openai", "anthropic":
	default:
		return fmt.Errorf("unknown model.provider %q (valid: gemini, openai, anthropic)", c.Model.Provider)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1, got %d", c.Agent.MaxIterations)
	}
	if c.MCP.URL == "" {
		return errors.New("mcp.url must not be empty")
	}
	return nil
}

// applyDefaults fills fields an explicit empty value would otherwise break.
func (c *Config) applyDefaults() {
	if c.MCP.URL == "" {
		c.MCP.URL = DefaultMCPURL
	}
	if c.MCP.Timeout <= 0 {
		c.MCP.Timeout = DefaultMCPTimeout
	}
	if c.Model.Provider == "" {
		c.Model.Provider = DefaultProvider
	}
	if c.Model.Name == "" {
		c.Model.Name = DefaultModel
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = DefaultMaxIterations
	}
}

// parseFlag accepts the usual spellings of a boolean environment flag.
func parseFlag(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "on":
		return true, true
	case "no", "n", "off":
		return false, true
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return b, err == nil
}

func apiKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return "GOOGLE_API_KEY"
	}
}
