// Package config loads the council configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/registry"
	"github.com/hupe1980/agentcouncil/retry"
)

// DefaultPath is read when AGENTCOUNCIL_CONFIG is unset.
const DefaultPath = "config/agentcouncil.yaml"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Agents    AgentsConfig    `yaml:"agents"`
	Retry     RetryConfig     `yaml:"retry"`
	Providers ProvidersConfig `yaml:"providers"`
	Store     StoreConfig     `yaml:"store"`
	NATS      NATSConfig      `yaml:"nats"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type AgentsConfig struct {
	Bindings []core.AgentBinding `yaml:"bindings"`
	Default  core.AgentBinding   `yaml:"default"`
	Panel    []core.AgentBinding `yaml:"panel"`
}

// MaxRetryAttempts bounds retry.max_attempts.
const MaxRetryAttempts = 10

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	// Classify is "all" (retry every failure) or "provider" (skip
	// non-retryable provider errors).
	Classify string `yaml:"classify"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type ProvidersConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Gemini    ProviderConfig `yaml:"gemini"`
	// CallTimeout bounds a single provider call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type StoreConfig struct {
	Path          string        `yaml:"path"`
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

type NATSConfig struct {
	// URL connects to an external server; when empty and Embedded is set an
	// in-process server is started.
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	Port     int    `yaml:"port"`
	DataDir  string `yaml:"data_dir"`
}

type DispatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8000",
			AllowedOrigins: []string{"*"},
			RequestTimeout: 10 * time.Minute,
		},
		Agents: AgentsConfig{
			Bindings: []core.AgentBinding{
				{Role: core.RoleArchitect, Provider: core.ProviderAnthropic, Model: "claude-3-5-sonnet-20241022"},
				{Role: core.RoleCoder, Provider: core.ProviderOpenAI, Model: "gpt-4-turbo"},
				{Role: core.RoleReviewer, Provider: core.ProviderAnthropic, Model: "claude-3-opus-20240229"},
				{Role: core.RoleExplainer, Provider: core.ProviderGemini, Model: "gemini-1.5-pro"},
				{Role: core.RoleDebugger, Provider: core.ProviderOpenAI, Model: "gpt-4-turbo"},
				{Role: core.RoleOptimizer, Provider: core.ProviderAnthropic, Model: "claude-3-5-sonnet-20241022"},
			},
			Default: core.AgentBinding{Provider: core.ProviderAnthropic, Model: "claude-3-5-sonnet-20241022"},
			Panel: []core.AgentBinding{
				{Provider: core.ProviderAnthropic, Model: "claude-3-5-sonnet-20241022"},
				{Provider: core.ProviderOpenAI, Model: "gpt-4-turbo"},
				{Provider: core.ProviderGemini, Model: "gemini-1.5-pro"},
			},
		},
		Retry: RetryConfig{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   retry.DefaultBaseDelay,
			MaxDelay:    retry.DefaultMaxDelay,
			Classify:    "all",
		},
		Providers: ProvidersConfig{
			CallTimeout: 2 * time.Minute,
		},
		Store: StoreConfig{
			Path:          "data/agentcouncil.db",
			Retention:     30 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "",
		},
		Dispatch: DispatchConfig{
			Concurrency: 8,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file named by AGENTCOUNCIL_CONFIG (or DefaultPath), applies
// environment overrides and validates the result. A missing file is not an
// error.
func Load() (*Config, error) {
	path := os.Getenv("AGENTCOUNCIL_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.Providers.Gemini.APIKey = v
	}
	if v := os.Getenv("AGENTCOUNCIL_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AGENTCOUNCIL_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("AGENTCOUNCIL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("AGENTCOUNCIL_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("AGENTCOUNCIL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks bindings and tunables.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Agents.Default.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("agents.default: %w", err))
	}
	for i, b := range c.Agents.Bindings {
		if b.Role == "" {
			errs = append(errs, fmt.Errorf("agents.bindings[%d]: role is required", i))
			continue
		}
		if err := b.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("agents.bindings[%d]: %w", i, err))
		}
	}
	for i, b := range c.Agents.Panel {
		if err := b.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("agents.panel[%d]: %w", i, err))
		}
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > MaxRetryAttempts {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be between 1 and %d", MaxRetryAttempts))
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, errors.New("retry.base_delay must not be negative"))
	}
	if c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry.max_delay must not be negative"))
	}
	switch strings.ToLower(c.Retry.Classify) {
	case "", "all", "provider":
	default:
		errs = append(errs, fmt.Errorf("retry.classify: unknown value %q", c.Retry.Classify))
	}
	if c.Dispatch.Concurrency < 0 {
		errs = append(errs, errors.New("dispatch.concurrency must not be negative"))
	}
	if c.Store.Retention > 0 && c.Store.PruneInterval <= 0 {
		errs = append(errs, errors.New("store.prune_interval must be positive when retention is set"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown value %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Registry builds the agent registry from the agents section.
func (c *Config) Registry() (*registry.Registry, error) {
	return registry.New(c.Agents.Bindings, c.Agents.Default, func(o *registry.Options) {
		o.Panel = c.Agents.Panel
	})
}

// RetryPolicy builds the resilient call policy from the retry section.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
	}
	if strings.EqualFold(c.Retry.Classify, "provider") {
		p.Classifier = retry.ProviderClassifier
	}
	return p
}

// ProviderKeyMissing lists the providers used by a binding whose API key is empty.
func (c *Config) ProviderKeyMissing() []core.Provider {
	used := map[core.Provider]bool{c.Agents.Default.Provider: true}
	for _, b := range c.Agents.Bindings {
		used[b.Provider] = true
	}
	for _, b := range c.Agents.Panel {
		used[b.Provider] = true
	}

	var missing []core.Provider
	for _, p := range core.Providers() {
		if used[p] && c.Providers.For(p).APIKey == "" {
			missing = append(missing, p)
		}
	}
	return missing
}

// For returns the settings for provider p.
func (p ProvidersConfig) For(provider core.Provider) ProviderConfig {
	switch provider {
	case core.ProviderAnthropic:
		return p.Anthropic
	case core.ProviderOpenAI:
		return p.OpenAI
	case core.ProviderGemini:
		return p.Gemini
	default:
		return ProviderConfig{}
	}
}
