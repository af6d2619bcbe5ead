// Package config handles engine configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file leaves a field unset.
const (
	DefaultAPIBase        = "https://api.openai.com/v1"
	DefaultModel          = "gpt-4o-mini"
	DefaultTemperature    = 0.8
	DefaultMaxTokens      = 512
	DefaultTimeoutSeconds = 30
	DefaultMemoryWindow   = 8
	DefaultResponseTokens = 512
	DefaultDataDir        = "data"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/mrp/config.yaml, /etc/mrp/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mrp", "config.yaml"))
	}

	paths = append(paths, "/etc/mrp/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
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

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all engine configuration.
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	LogLevel     string             `yaml:"log_level"`
	Providers    ProviderSettings   `yaml:"providers"`
	Conversation ConversationConfig `yaml:"conversation"`
	Prompt       PromptConfig       `yaml:"prompt"`
}

// ProviderSettings names the configured backends and which one is the default.
type ProviderSettings struct {
	Default string                    `yaml:"default"`
	List    map[string]ProviderConfig `yaml:"list"`
}

// Provider returns the named provider config, or false if absent.
func (s ProviderSettings) Provider(name string) (ProviderConfig, bool) {
	cfg, ok := s.List[name]
	return cfg, ok
}

// ProviderConfig defines a single LLM backend.
type ProviderConfig struct {
	Name           string  `yaml:"-"` // filled from the map key
	Type           string  `yaml:"type"`
	APIBase        string  `yaml:"api_base"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// ConversationConfig tunes session memory and reply length.
type ConversationConfig struct {
	// MemoryWindow is how many recent turns are sent to the provider.
	MemoryWindow int `yaml:"memory_window"`
	// MaxResponseTokens caps the length of generated replies.
	MaxResponseTokens int `yaml:"max_response_tokens"`
}

// PromptConfig holds the global system prompt template and shared notes.
type PromptConfig struct {
	SystemTemplate string   `yaml:"system_template"`
	ExtraNotes     []string `yaml:"extra_notes"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file body are expanded before parsing, so secrets can be kept
// out of the file itself (api_key: ${OPENAI_API_KEY}).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Conversation.MemoryWindow <= 0 {
		c.Conversation.MemoryWindow = DefaultMemoryWindow
	}
	if c.Conversation.MaxResponseTokens <= 0 {
		c.Conversation.MaxResponseTokens = DefaultResponseTokens
	}

	for name, p := range c.Providers.List {
		p.Name = name
		if p.Type == "" {
			p.Type = "openai"
		}
		if p.APIBase == "" {
			p.APIBase = DefaultAPIBase
		}
		if p.Model == "" {
			p.Model = DefaultModel
		}
		if p.Temperature == 0 {
			p.Temperature = DefaultTemperature
		}
		if p.MaxTokens <= 0 {
			p.MaxTokens = DefaultMaxTokens
		}
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = DefaultTimeoutSeconds
		}
		c.Providers.List[name] = p
	}
}

// ConversationsDir is where durable history files live.
func (c *Config) ConversationsDir() string {
	return filepath.Join(c.DataDir, "conversations")
}

// CharactersDir is where character profile files live.
func (c *Config) CharactersDir() string {
	return filepath.Join(c.DataDir, "characters")
}

// TranscriptsDir is where conversation transcript logs live.
func (c *Config) TranscriptsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// UsageDBPath is the token usage database location.
func (c *Config) UsageDBPath() string {
	return filepath.Join(c.DataDir, "usage.db")
}
