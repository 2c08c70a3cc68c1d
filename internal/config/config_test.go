// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, durations, validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:9000"

database:
  driver: "sqlite3"
  path: "./test.db"

hosted:
  base_url: "http://localhost:5001/v1"
  user: "alice"
  timeout: "45s"

model:
  base_url: "http://localhost:11434/v1"
  api_key: "sk-server"
  default_model: "gpt-4o-mini"
  title_model: "gpt-4o-mini"
  title_timeout: "5s"

logging:
  level: "debug"
  format: "json"

apps:
  - id: "support"
    name: "Support"
    kind: "hosted"
    credential: "app-123"
  - id: "gpt"
    name: "GPT"
    icon: "✨"
    kind: "direct-model"
    model: "gpt-4o"
    system_prompt: "Be brief."
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9000")
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "sqlite3")
	}
	if cfg.Hosted.User != "alice" {
		t.Errorf("Hosted.User = %q, want %q", cfg.Hosted.User, "alice")
	}
	if cfg.Hosted.Timeout != 45*time.Second {
		t.Errorf("Hosted.Timeout = %v, want 45s", cfg.Hosted.Timeout)
	}
	if cfg.Model.TitleTimeout != 5*time.Second {
		t.Errorf("Model.TitleTimeout = %v, want 5s", cfg.Model.TitleTimeout)
	}
	if cfg.Model.DefaultModel != "gpt-4o-mini" {
		t.Errorf("Model.DefaultModel = %q, want %q", cfg.Model.DefaultModel, "gpt-4o-mini")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
	if len(cfg.Apps) != 2 {
		t.Fatalf("Apps len = %d, want 2", len(cfg.Apps))
	}
	if cfg.Apps[1].SystemPrompt != "Be brief." {
		t.Errorf("Apps[1].SystemPrompt = %q, want %q", cfg.Apps[1].SystemPrompt, "Be brief.")
	}
	if cfg.Apps[1].Icon != "✨" {
		t.Errorf("Apps[1].Icon = %q, want %q", cfg.Apps[1].Icon, "✨")
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[database]
path = "./test.db"

[model]
api_key = "sk-server"
title_timeout = "7s"

[[apps]]
id = "gpt"
name = "GPT"
kind = "direct-model"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Model.TitleTimeout != 7*time.Second {
		t.Errorf("Model.TitleTimeout = %v, want 7s", cfg.Model.TitleTimeout)
	}
	if len(cfg.Apps) != 1 || cfg.Apps[0].Kind != "direct-model" {
		t.Errorf("Apps = %+v, want one direct-model app", cfg.Apps)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.Database.Driver != DefaultDriver {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DefaultDriver)
	}
	if cfg.Hosted.BaseURL != DefaultHostedBaseURL {
		t.Errorf("Hosted.BaseURL = %q, want %q", cfg.Hosted.BaseURL, DefaultHostedBaseURL)
	}
	if cfg.Hosted.User != DefaultHostedUser {
		t.Errorf("Hosted.User = %q, want %q", cfg.Hosted.User, DefaultHostedUser)
	}
	if cfg.Hosted.Timeout != DefaultTimeout {
		t.Errorf("Hosted.Timeout = %v, want %v", cfg.Hosted.Timeout, DefaultTimeout)
	}
	if cfg.Model.DefaultModel != DefaultModel {
		t.Errorf("Model.DefaultModel = %q, want %q", cfg.Model.DefaultModel, DefaultModel)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
}

func TestLoad_AppIDDerivedFromName(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
apps:
  - name: "Customer Support!"
    kind: "hosted"
    credential: "app-key"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Apps[0].ID != "customer-support" {
		t.Errorf("Apps[0].ID = %q, want %q", cfg.Apps[0].ID, "customer-support")
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"GPT":              "gpt",
		"  Team  Helper  ": "team-helper",
		"gpt-4o (fast)":    "gpt-4o-fast",
		"--":               "",
	}
	for in, want := range tests {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDefault(t *testing.T) {
	cfg := Default("/tmp/parley-data")
	if cfg.Database.Path != filepath.Join("/tmp/parley-data", "parley.db") {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")
	t.Setenv("TEST_DIFY_KEY", "app-from-env")

	path := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
model:
  api_key: "${TEST_OPENAI_KEY}"
apps:
  - name: "Support"
    kind: "hosted"
    credential: "${TEST_DIFY_KEY}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.APIKey != "sk-from-env" {
		t.Errorf("Model.APIKey = %q, want %q", cfg.Model.APIKey, "sk-from-env")
	}
	if cfg.Apps[0].Credential != "app-from-env" {
		t.Errorf("Apps[0].Credential = %q, want %q", cfg.Apps[0].Credential, "app-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
model:
  api_key: "${PARLEY_TEST_DEFINITELY_UNSET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.APIKey != "" {
		t.Errorf("Model.APIKey = %q, want empty", cfg.Model.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidSyntax(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "config.yaml", "database: [unclosed"},
		{"toml", "config.toml", "[database\npath = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil || !strings.Contains(err.Error(), "parsing config file") {
				t.Errorf("Load() error = %v, want parsing error", err)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
hosted:
  timeout: "soon"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "hosted.timeout") {
		t.Errorf("Load() error = %v, want hosted.timeout error", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default(t.TempDir())
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, "database.driver"},
		{"bad hosted url", func(c *Config) { c.Hosted.BaseURL = "ftp://x" }, "hosted.base_url"},
		{"bad model url", func(c *Config) { c.Model.BaseURL = "nope" }, "model.base_url"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"app without name", func(c *Config) {
			c.Apps = []AppConfig{{Kind: "hosted", Credential: "k"}}
		}, "apps[0].name"},
		{"unknown kind", func(c *Config) {
			c.Apps = []AppConfig{{Name: "x", Kind: "carrier-pigeon"}}
		}, "apps[0].kind"},
		{"hosted without credential", func(c *Config) {
			c.Apps = []AppConfig{{Name: "x", Kind: "hosted"}}
		}, "apps[0].credential"},
		{"model app without any key", func(c *Config) {
			c.Apps = []AppConfig{{Name: "x", Kind: "direct-model"}}
		}, "apps[0].credential"},
		{"model app with server key", func(c *Config) {
			c.Model.APIKey = "sk"
			c.Apps = []AppConfig{{Name: "x", Kind: "direct-model"}}
		}, ""},
		{"duplicate app ids", func(c *Config) {
			c.Apps = []AppConfig{
				{ID: "a", Name: "x", Kind: "hosted", Credential: "k"},
				{ID: "a", Name: "y", Kind: "hosted", Credential: "k"},
			}
		}, "duplicated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("PARLEY_TEST_A", "alpha")

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${PARLEY_TEST_A}", "alpha"},
		{"x-${PARLEY_TEST_A}-y", "x-alpha-y"},
		{"${PARLEY_TEST_UNSET_VAR}", ""},
		{"$PARLEY_TEST_A", "$PARLEY_TEST_A"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPath(t *testing.T) {
	t.Setenv("PARLEY_CONFIG", "/etc/parley.toml")
	if got := Path(); got != "/etc/parley.toml" {
		t.Errorf("Path() = %q, want PARLEY_CONFIG value", got)
	}

	t.Setenv("PARLEY_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := Path(); got != filepath.Join("/xdg", "parley", "config.yaml") {
		t.Errorf("Path() = %q", got)
	}
}

func TestDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	if got := DataDir(); got != filepath.Join("/data", "parley") {
		t.Errorf("DataDir() = %q", got)
	}
}
