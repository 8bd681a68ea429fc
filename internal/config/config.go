// Package config loads and validates the gateway configuration from YAML
// with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for finagent.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Session SessionConfig `yaml:"session"`
	Storage StorageConfig `yaml:"storage"`
	Data    DataConfig    `yaml:"data"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

type SessionConfig struct {
	// DefaultAgentType is used when a client creates a session without
	// naming one.
	DefaultAgentType string `yaml:"default_agent_type"`

	// DefaultProfile selects the assistant profile for LLM-backed agents.
	DefaultProfile string `yaml:"default_profile"`

	// MaxTurns bounds model invocations per worker run.
	MaxTurns int `yaml:"max_turns"`

	// ResponseTimeout bounds how long the polling transport waits for the
	// first substantive reply.
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// DrainTimeout bounds how long the streaming transport waits for each
	// subsequent message before going back to reading client frames.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// IdleTTL evicts sessions with no activity for this long; zero
	// disables eviction.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

type StorageConfig struct {
	// Path is the SQLite database file; empty keeps transcripts in memory
	// only.
	Path string `yaml:"path"`
}

type DataConfig struct {
	// FMPAPIKey authenticates Financial Modeling Prep requests.
	FMPAPIKey string `yaml:"fmp_api_key"`

	// CacheTTL bounds how long connector responses are reused.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// ReportDir is where sessions write generated artifacts.
	ReportDir string `yaml:"report_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with sensible defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8000},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Providers:       map[string]LLMProviderConfig{},
		},
		Session: SessionConfig{
			DefaultAgentType: "Basic",
			DefaultProfile:   "Expert_Investor",
			MaxTurns:         50,
			ResponseTimeout:  30 * time.Second,
			DrainTimeout:     time.Second,
		},
		Data:    DataConfig{CacheTTL: 5 * time.Minute, ReportDir: "report"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path, expands ${ENV} references, and merges it
// over the defaults. A missing file yields the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks invariants that would otherwise surface as confusing
// failures deep in the stack.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Session.MaxTurns <= 0 {
		return fmt.Errorf("session.max_turns must be positive")
	}
	if c.Session.ResponseTimeout <= 0 {
		return fmt.Errorf("session.response_timeout must be positive")
	}
	if c.Session.DrainTimeout <= 0 {
		return fmt.Errorf("session.drain_timeout must be positive")
	}
	return nil
}

// Provider returns the configuration for the named provider, falling back to
// environment variables for API keys the file omits.
func (c *Config) Provider(name string) LLMProviderConfig {
	p := c.LLM.Providers[name]
	if p.APIKey == "" {
		switch name {
		case "openai":
			p.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			p.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	return p
}

// FMPKey returns the Financial Modeling Prep key, falling back to the
// FMP_API_KEY environment variable.
func (c *Config) FMPKey() string {
	if c.Data.FMPAPIKey != "" {
		return c.Data.FMPAPIKey
	}
	return os.Getenv("FMP_API_KEY")
}
