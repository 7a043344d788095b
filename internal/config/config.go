package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models crm.yml.
type Config struct {
	App struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"app" json:"app"`
	Log struct {
		Mode  string `yaml:"mode" json:"mode"`
		Level string `yaml:"level" json:"level"`
	} `yaml:"log" json:"log"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Assistant AssistantConfig `yaml:"assistant" json:"assistant"`
	Notifier  NotifierConfig  `yaml:"notifier" json:"notifier"`
	Webhooks  []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	BasePath string `yaml:"base_path" json:"base_path"`
	// AllowUserHeader accepts an unauthenticated X-User-Id header (local development).
	AllowUserHeader bool          `yaml:"allow_user_header" json:"allow_user_header"`
	TokenTTL        time.Duration `yaml:"token_ttl" json:"token_ttl"`
	SessionIdle     time.Duration `yaml:"session_idle" json:"session_idle"`
}

type AssistantConfig struct {
	Model          string        `yaml:"model" json:"model"`
	APIKeyEnv      string        `yaml:"api_key_env" json:"api_key_env"`
	BaseURL        string        `yaml:"base_url" json:"base_url,omitempty"`
	ExtractTimeout time.Duration `yaml:"extract_timeout" json:"extract_timeout"`
	ExecuteTimeout time.Duration `yaml:"execute_timeout" json:"execute_timeout"`
}

// APIKey reads the key from the configured environment variable.
func (a AssistantConfig) APIKey() string {
	return strings.TrimSpace(os.Getenv(a.APIKeyEnv))
}

type NotifierConfig struct {
	Kind      string `yaml:"kind" json:"kind"`
	RedisAddr string `yaml:"redis_addr" json:"redis_addr,omitempty"`
	Channel   string `yaml:"channel" json:"channel,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with crm config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.App.ID) == "" {
		return fmt.Errorf("config.app.id is required")
	}
	if strings.ContainsAny(c.App.ID, "/ ") {
		return fmt.Errorf("config.app.id must not contain '/' or spaces")
	}
	switch strings.ToLower(c.Log.Mode) {
	case "", "dev", "development", "prod", "production":
	default:
		return fmt.Errorf("config.log.mode must be development or production")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with '/'")
	}
	if c.Server.TokenTTL < 0 || c.Server.SessionIdle < 0 {
		return fmt.Errorf("config.server durations must not be negative")
	}
	if c.Assistant.Model == "" {
		return fmt.Errorf("config.assistant.model is required")
	}
	if c.Assistant.APIKeyEnv == "" {
		return fmt.Errorf("config.assistant.api_key_env is required")
	}
	if c.Assistant.ExtractTimeout <= 0 || c.Assistant.ExecuteTimeout <= 0 {
		return fmt.Errorf("config.assistant timeouts must be positive")
	}
	switch c.Notifier.Kind {
	case "", "memory":
	case "redis":
		if c.Notifier.RedisAddr == "" {
			return fmt.Errorf("config.notifier.redis_addr is required for kind redis")
		}
	default:
		return fmt.Errorf("config.notifier.kind must be memory or redis")
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url is invalid", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "crm.yml")
}

// GenerateDefault returns default config YAML for an app id.
func GenerateDefault(appID string) string {
	if appID == "" {
		appID = DefaultAppID
	}
	return fmt.Sprintf(defaultTemplate, appID)
}

const DefaultAppID = "default-app-id"

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(DefaultAppID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `app:
  id: %s

log:
  mode: development
  level: info

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  allow_user_header: false
  token_ttl: 720h
  session_idle: 30m

assistant:
  model: gemini-2.0-flash
  api_key_env: GEMINI_API_KEY
  extract_timeout: 30s
  execute_timeout: 10s

notifier:
  kind: memory
  channel: crm:changes

# webhooks:
#   - url: https://example.com/hooks/crm
#     events: [record.created, record.updated]
#     secret: change-me
#     timeout_seconds: 5
`
