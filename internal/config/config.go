// ABOUTME: Configuration loading and parsing for parley
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied to unset fields.
const (
	DefaultHTTPAddr      = "127.0.0.1:8420"
	DefaultDriver        = "sqlite"
	DefaultHostedBaseURL = "https://api.dify.ai/v1"
	DefaultHostedUser    = "user-123"
	DefaultModel         = "gpt-3.5-turbo"
	DefaultTimeout       = 30 * time.Second
	DefaultTitleTimeout  = 20 * time.Second
)

// Config represents the complete parley configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Hosted   HostedConfig   `yaml:"hosted" toml:"hosted"`
	Model    ModelConfig    `yaml:"model" toml:"model"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Apps     []AppConfig    `yaml:"apps" toml:"apps"`
}

// ServerConfig holds the HTTP API listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// HostedConfig configures the Dify-style hosted backend
type HostedConfig struct {
	BaseURL string        `yaml:"base_url" toml:"base_url"`
	User    string        `yaml:"user" toml:"user"`
	Timeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// ModelConfig configures the OpenAI-style direct-model backend
type ModelConfig struct {
	BaseURL      string `yaml:"base_url" toml:"base_url"`
	APIKey       string `yaml:"api_key" toml:"api_key"`
	DefaultModel string `yaml:"default_model" toml:"default_model"`
	TitleModel   string `yaml:"title_model" toml:"title_model"`

	TitleTimeout time.Duration `yaml:"-" toml:"-"`

	TitleTimeoutRaw string `yaml:"title_timeout" toml:"title_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// AppConfig seeds an App on startup. Seeds whose ID already exists are skipped.
// A missing ID is derived from the name.
type AppConfig struct {
	ID           string `yaml:"id" toml:"id"`
	Name         string `yaml:"name" toml:"name"`
	Icon         string `yaml:"icon" toml:"icon"`
	Kind         string `yaml:"kind" toml:"kind"`
	Credential   string `yaml:"credential" toml:"credential"`
	Model        string `yaml:"model" toml:"model"`
	SystemPrompt string `yaml:"system_prompt" toml:"system_prompt"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and the
// database under dataDir. Used when no config file exists.
func Default(dataDir string) *Config {
	cfg := &Config{Database: DatabaseConfig{Path: filepath.Join(dataDir, "parley.db")}}
	cfg.applyDefaults()
	return cfg
}

// Path returns the config file location.
// Priority: PARLEY_CONFIG env var > XDG_CONFIG_HOME/parley/config.yaml > ~/.config/parley/config.yaml
func Path() string {
	if envPath := os.Getenv("PARLEY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "parley.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "parley", "config.yaml")
}

// DataDir returns the parley data directory.
// Priority: XDG_DATA_HOME/parley > ~/.local/share/parley
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "parley")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Hosted.BaseURL == "" {
		c.Hosted.BaseURL = DefaultHostedBaseURL
	}
	if c.Hosted.User == "" {
		c.Hosted.User = DefaultHostedUser
	}
	if c.Hosted.Timeout == 0 {
		c.Hosted.Timeout = DefaultTimeout
	}
	if c.Model.DefaultModel == "" {
		c.Model.DefaultModel = DefaultModel
	}
	if c.Model.TitleTimeout == 0 {
		c.Model.TitleTimeout = DefaultTitleTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	for i := range c.Apps {
		if c.Apps[i].ID == "" {
			c.Apps[i].ID = slugify(c.Apps[i].Name)
		}
	}
}

// slugify derives a stable app ID from its name so seeds match across restarts.
func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if err := validateURL("hosted.base_url", c.Hosted.BaseURL); err != nil {
		return err
	}
	if c.Model.BaseURL != "" {
		if err := validateURL("model.base_url", c.Model.BaseURL); err != nil {
			return err
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Apps))
	for i, app := range c.Apps {
		if app.Name == "" {
			return fmt.Errorf("apps[%d].name is required", i)
		}
		switch app.Kind {
		case "hosted":
			if app.Credential == "" {
				return fmt.Errorf("apps[%d].credential is required for hosted apps", i)
			}
		case "direct-model":
			if app.Credential == "" && c.Model.APIKey == "" {
				return fmt.Errorf("apps[%d].credential is required when model.api_key is unset", i)
			}
		default:
			return fmt.Errorf("apps[%d].kind must be hosted or direct-model, got %q", i, app.Kind)
		}
		if app.ID != "" {
			if seen[app.ID] {
				return fmt.Errorf("apps[%d].id %q is duplicated", i, app.ID)
			}
			seen[app.ID] = true
		}
	}

	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Hosted.TimeoutRaw != "" {
		cfg.Hosted.Timeout, err = time.ParseDuration(cfg.Hosted.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing hosted.timeout %q: %w", cfg.Hosted.TimeoutRaw, err)
		}
	}

	if cfg.Model.TitleTimeoutRaw != "" {
		cfg.Model.TitleTimeout, err = time.ParseDuration(cfg.Model.TitleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing model.title_timeout %q: %w", cfg.Model.TitleTimeoutRaw, err)
		}
	}

	return nil
}
