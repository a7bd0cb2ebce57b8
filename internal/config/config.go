// ABOUTME: Configuration loading and parsing for toolgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete toolgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Providers ProvidersConfig `yaml:"providers"`
	Model     ModelConfig     `yaml:"model"`
	Loop      LoopConfig      `yaml:"loop"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the session store location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProvidersConfig holds per-pack provider configuration. Prefix fields
// control where each pack is mounted; an empty prefix disables the pack.
type ProvidersConfig struct {
	Storage  StorageConfig  `yaml:"storage"`
	Files    FilesConfig    `yaml:"files"`
	Identity IdentityConfig `yaml:"identity"`
	Mail     MailConfig     `yaml:"mail"`
}

// StorageConfig configures the SQL pack
type StorageConfig struct {
	Prefix string `yaml:"prefix"`
	Path   string `yaml:"path"`
}

// FilesConfig configures the filesystem pack
type FilesConfig struct {
	Prefix     string `yaml:"prefix"`
	AllowedDir string `yaml:"allowed_dir"`
}

// IdentityConfig configures the directory pack
type IdentityConfig struct {
	Prefix string `yaml:"prefix"`
	Path   string `yaml:"path"`
}

// MailConfig configures the mailbox pack
type MailConfig struct {
	Prefix   string `yaml:"prefix"`
	Path     string `yaml:"path"`
	SMTPAddr string `yaml:"smtp_addr"`
	SMTPFrom string `yaml:"smtp_from"`
	SMTPUser string `yaml:"smtp_user"`
	SMTPPass string `yaml:"smtp_pass"`
}

// ModelConfig selects and configures the upstream model
type ModelConfig struct {
	Provider     string `yaml:"provider"` // "anthropic", "openai", or "scripted"
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	SystemPrompt string `yaml:"system_prompt"`
}

// LoopConfig holds agent loop tuning
type LoopConfig struct {
	MaxToolCycles int           `yaml:"max_tool_cycles"`
	CallTimeout   time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	CallTimeoutRaw string `yaml:"call_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with workable local defaults.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: ":8787"},
		Database: DatabaseConfig{Path: "toolgate.db"},
		Providers: ProvidersConfig{
			Storage:  StorageConfig{Prefix: "storage", Path: "storage.db"},
			Files:    FilesConfig{Prefix: "files", AllowedDir: "."},
			Identity: IdentityConfig{Prefix: "identity", Path: "identity.db"},
			Mail:     MailConfig{Prefix: "mail", Path: "mailbox.db"},
		},
		Model: ModelConfig{Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
		Loop: LoopConfig{
			MaxToolCycles: 10,
			CallTimeout:   30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Providers.Storage.Prefix != "" && c.Providers.Storage.Path == "" {
		return fmt.Errorf("providers.storage.path is required when the storage pack is enabled")
	}
	if c.Providers.Files.Prefix != "" && c.Providers.Files.AllowedDir == "" {
		return fmt.Errorf("providers.files.allowed_dir is required when the files pack is enabled")
	}
	if c.Providers.Identity.Prefix != "" && c.Providers.Identity.Path == "" {
		return fmt.Errorf("providers.identity.path is required when the identity pack is enabled")
	}
	if c.Providers.Mail.Prefix != "" && c.Providers.Mail.Path == "" {
		return fmt.Errorf("providers.mail.path is required when the mail pack is enabled")
	}

	switch c.Model.Provider {
	case "anthropic", "openai", "scripted", "":
	default:
		return fmt.Errorf("model.provider must be one of anthropic, openai, scripted (got %q)", c.Model.Provider)
	}

	if c.Loop.MaxToolCycles < 0 {
		return fmt.Errorf("loop.max_tool_cycles must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Loop.CallTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Loop.CallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing call_timeout %q: %w", cfg.Loop.CallTimeoutRaw, err)
		}
		cfg.Loop.CallTimeout = d
	}
	return nil
}
