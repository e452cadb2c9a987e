// Package config provides configuration management for RelayDesk.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for RelayDesk.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	NATS       NATSConfig       `mapstructure:"nats"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"rateLimit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP/WebSocket server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// StoreConfig holds document-store access configuration.
// Backend selects the implementation: "sqlite" (embedded, default) or "postgres".
type StoreConfig struct {
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"` // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// DSN builds a PostgreSQL connection string from the store configuration.
func (s *StoreConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.DBName, s.SSLMode)
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LLMConfig holds defaults for the LLM gateway. The active provider, model
// and API key live in the store (llm_settings collection); these values are
// the bootstrap fallbacks and operational knobs.
type LLMConfig struct {
	Provider       string   `mapstructure:"provider"`
	Model          string   `mapstructure:"model"`
	APIKey         string   `mapstructure:"apiKey"`
	BaseURL        string   `mapstructure:"baseUrl"`
	TimeoutSeconds int      `mapstructure:"timeoutSeconds"`
	MaxTokens      int      `mapstructure:"maxTokens"`
	Temperature    float32  `mapstructure:"temperature"`
	FallbackModels []string `mapstructure:"fallbackModels"`
}

// Timeout returns the per-call wall-clock budget as a time.Duration.
func (l *LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// ChatConfig holds runtime-editable conversation text and the context window.
type ChatConfig struct {
	WelcomeMessage  string `mapstructure:"welcomeMessage"`
	SystemPrompt    string `mapstructure:"systemPrompt"`
	FallbackMessage string `mapstructure:"fallbackMessage"`
	ContextLimit    int    `mapstructure:"contextLimit"` // LLM history window size
}

// EncryptionConfig holds at-rest encryption settings for message payloads.
type EncryptionConfig struct {
	MasterKey string `mapstructure:"masterKey"` // base64, 32 bytes when decoded
	RedactPII bool   `mapstructure:"redactPii"` // clear plaintext columns after encrypting
}

// MasterKeyBytes decodes the configured master key. Returns nil when
// encryption is not configured.
func (e *EncryptionConfig) MasterKeyBytes() ([]byte, error) {
	if e.MasterKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(e.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// AdminSecret is the well-known shared secret accepted in development;
	// it resolves to a synthetic admin principal.
	AdminSecret string `mapstructure:"adminSecret"`
}

// RateLimitConfig holds the per-session escalation rate limit.
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"windowSeconds"`
	MaxRequests   int `mapstructure:"maxRequests"`
}

// Window returns the rolling window as a time.Duration.
func (r *RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("RELAYDESK_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Store defaults - embedded sqlite unless postgres is configured
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.path", "./relaydesk.db")
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 5432)
	v.SetDefault("store.user", "relaydesk")
	v.SetDefault("store.password", "")
	v.SetDefault("store.dbName", "relaydesk")
	v.SetDefault("store.sslMode", "disable")
	v.SetDefault("store.maxConns", 25)
	v.SetDefault("store.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "relaydesk")
	v.SetDefault("nats.maxReconnects", 10)

	// LLM defaults
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseUrl", "")
	v.SetDefault("llm.timeoutSeconds", 30)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.fallbackModels", []string{
		"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini", "gpt-3.5-turbo",
	})

	// Chat defaults
	v.SetDefault("chat.welcomeMessage", "Hi! How can I help you today?")
	v.SetDefault("chat.systemPrompt", "You are a helpful support assistant. Answer concisely and accurately.")
	v.SetDefault("chat.fallbackMessage", "Sorry, I'm having trouble answering right now. A human agent will follow up shortly.")
	v.SetDefault("chat.contextLimit", 10)

	// Encryption defaults - disabled unless a master key is supplied
	v.SetDefault("encryption.masterKey", "")
	v.SetDefault("encryption.redactPii", false)

	// Auth defaults
	v.SetDefault("auth.adminSecret", "")

	// Rate limit defaults (request_agent throttle window)
	v.SetDefault("rateLimit.windowSeconds", 60)
	v.SetDefault("rateLimit.maxRequests", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix RELAYDESK_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/relaydesk/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("RELAYDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("store.dbName", "RELAYDESK_STORE_DB_NAME")
	_ = v.BindEnv("encryption.masterKey", "RELAYDESK_ENCRYPTION_MASTER_KEY")
	_ = v.BindEnv("encryption.redactPii", "RELAYDESK_ENCRYPTION_REDACT_PII")
	_ = v.BindEnv("auth.adminSecret", "RELAYDESK_AUTH_ADMIN_SECRET")
	_ = v.BindEnv("llm.apiKey", "RELAYDESK_LLM_API_KEY")
	_ = v.BindEnv("llm.baseUrl", "RELAYDESK_LLM_BASE_URL")
	_ = v.BindEnv("chat.contextLimit", "RELAYDESK_CHAT_CONTEXT_LIMIT")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/relaydesk/")
	}

	// Read config file if present; defaults and env cover the rest
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
