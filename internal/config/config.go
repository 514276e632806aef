package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maxr0ssi/llm-router/internal/providers/anthropic"
	"github.com/maxr0ssi/llm-router/internal/providers/openai"
	"github.com/maxr0ssi/llm-router/internal/types"
)

// Config is the complete application configuration. Precedence, lowest
// to highest: built-in defaults, YAML file, environment variables.
type Config struct {
	Server    ServerConfig        `yaml:"server"`
	Router    RouterConfig        `yaml:"router"`
	Retry     RetryConfig         `yaml:"retry"`
	Breaker   BreakerConfig       `yaml:"circuit_breaker"`
	Stream    StreamConfig        `yaml:"streaming"`
	Providers ProvidersConfig     `yaml:"providers"`
	Models    []types.ModelConfig `yaml:"models"`
	Logging   LoggingConfig       `yaml:"logging"`
	Security  SecurityConfig      `yaml:"security"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// RouterConfig holds routing defaults.
type RouterConfig struct {
	BypassAvailability bool          `yaml:"bypass_availability"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// RetryConfig holds the default retry policy for synchronous requests.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	BackoffFactor     float64       `yaml:"backoff_factor"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	RespectRetryAfter bool          `yaml:"respect_retry_after"`
}

// BreakerConfig holds the per-provider circuit breaker defaults.
type BreakerConfig struct {
	FailureThreshold     int           `yaml:"failure_threshold"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold"`
	SuccessThreshold     int           `yaml:"success_threshold"`
	Timeout              time.Duration `yaml:"timeout"`
	WindowSize           int           `yaml:"window_size"`
}

// StreamConfig holds the streaming reconnect defaults.
type StreamConfig struct {
	MaxConnectionAttempts   int           `yaml:"max_connection_attempts"`
	ConnectionTimeout       time.Duration `yaml:"connection_timeout"`
	ReadTimeout             time.Duration `yaml:"read_timeout"`
	ReconnectOnError        bool          `yaml:"reconnect_on_error"`
	PreservePartialResponse bool          `yaml:"preserve_partial_response"`
}

// ProvidersConfig holds per-provider connection settings. A nil entry
// disables the provider.
type ProvidersConfig struct {
	OpenAI    *openai.Config    `yaml:"openai"`
	Anthropic *anthropic.Config `yaml:"anthropic"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// SecurityConfig holds the inbound request protections.
type SecurityConfig struct {
	APIKeys      []string        `yaml:"api_keys"`
	JWTSecret    string          `yaml:"jwt_secret"`
	RateLimiting RateLimitConfig `yaml:"rate_limiting"`
	CORS         CORSConfig      `yaml:"cors"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled        bool          `yaml:"enabled"`
	RequestsPerMin int           `yaml:"requests_per_minute"`
	BurstSize      int           `yaml:"burst_size"`
	WindowDuration time.Duration `yaml:"window_duration"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// Load builds configuration from defaults, an optional YAML file, and
// environment variables, then validates the result.
func Load(configPath string) (*Config, error) {
	config := &Config{}
	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	config.loadFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// setDefaults sets built-in configuration values.
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   300 * time.Second, // streaming responses run long
		MaxHeaderBytes: 1 << 20,           // 1MB
	}

	c.Router = RouterConfig{
		BypassAvailability: false,
		RequestTimeout:     120 * time.Second,
	}

	c.Retry = RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		BackoffFactor:     2.0,
		MaxDelay:          30 * time.Second,
		RespectRetryAfter: true,
	}

	c.Breaker = BreakerConfig{
		FailureThreshold:     5,
		FailureRateThreshold: 0.5,
		SuccessThreshold:     2,
		Timeout:              30 * time.Second,
		WindowSize:           20,
	}

	c.Stream = StreamConfig{
		MaxConnectionAttempts:   3,
		ConnectionTimeout:       10 * time.Second,
		ReadTimeout:             30 * time.Second,
		ReconnectOnError:        true,
		PreservePartialResponse: true,
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Security = SecurityConfig{
		APIKeys: []string{},
		RateLimiting: RateLimitConfig{
			Enabled:        false,
			RequestsPerMin: 60,
			BurstSize:      10,
			WindowDuration: time.Minute,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
		},
	}

	c.Providers = ProvidersConfig{
		OpenAI:    &openai.Config{Timeout: 120 * time.Second},
		Anthropic: &anthropic.Config{Timeout: 120 * time.Second},
	}

	c.Models = []types.ModelConfig{
		{
			ModelID:          "gpt-4o",
			Provider:         "openai",
			Temperature:      0.7,
			MaxTokens:        4096,
			TopP:             1.0,
			InputCostPer1K:   0.005,
			OutputCostPer1K:  0.015,
			MaxContextWindow: 128000,
		},
		{
			ModelID:          "gpt-4o-mini",
			Provider:         "openai",
			Temperature:      0.7,
			MaxTokens:        16384,
			TopP:             1.0,
			InputCostPer1K:   0.00015,
			OutputCostPer1K:  0.0006,
			MaxContextWindow: 128000,
		},
		{
			ModelID:          "claude-3-5-sonnet-20241022",
			Provider:         "anthropic",
			Temperature:      0.7,
			MaxTokens:        8192,
			TopP:             1.0,
			InputCostPer1K:   0.003,
			OutputCostPer1K:  0.015,
			MaxContextWindow: 200000,
		},
		{
			ModelID:          "claude-3-haiku-20240307",
			Provider:         "anthropic",
			Temperature:      0.7,
			MaxTokens:        4096,
			TopP:             1.0,
			InputCostPer1K:   0.00025,
			OutputCostPer1K:  0.00125,
			MaxContextWindow: 200000,
		},
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnv applies environment overrides.
func (c *Config) loadFromEnv() {
	if port := os.Getenv("LLM_ROUTER_PORT"); port != "" {
		c.Server.Port = port
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Providers.OpenAI != nil {
		c.Providers.OpenAI.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.Providers.Anthropic != nil {
		c.Providers.Anthropic.APIKey = key
	}

	if level := os.Getenv("LLM_ROUTER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LLM_ROUTER_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if v, ok := envBool("LLM_ROUTER_BYPASS_AVAILABILITY"); ok {
		c.Router.BypassAvailability = v
	}

	if v, ok := envInt("LLM_ROUTER_STREAM_MAX_RECONNECTS"); ok {
		c.Stream.MaxConnectionAttempts = v
	}
	if v, ok := envDuration("LLM_ROUTER_STREAM_CONNECT_TIMEOUT"); ok {
		c.Stream.ConnectionTimeout = v
	}
	if v, ok := envDuration("LLM_ROUTER_STREAM_READ_TIMEOUT"); ok {
		c.Stream.ReadTimeout = v
	}
	if v, ok := envBool("LLM_ROUTER_STREAM_RECONNECT"); ok {
		c.Stream.ReconnectOnError = v
	}
	if v, ok := envBool("LLM_ROUTER_STREAM_PRESERVE_PARTIAL"); ok {
		c.Stream.PreservePartialResponse = v
	}

	if secret := os.Getenv("LLM_ROUTER_JWT_SECRET"); secret != "" {
		c.Security.JWTSecret = secret
	}
}

func envBool(name string) (bool, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(name string) (time.Duration, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// validate rejects configurations that cannot work.
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry backoff_factor must be at least 1")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit breaker failure_threshold must be at least 1")
	}
	if c.Breaker.FailureRateThreshold <= 0 || c.Breaker.FailureRateThreshold > 1 {
		return fmt.Errorf("circuit breaker failure_rate_threshold must be in (0, 1]")
	}
	if c.Stream.MaxConnectionAttempts < 1 {
		return fmt.Errorf("streaming max_connection_attempts must be at least 1")
	}

	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.ModelID == "" {
			return fmt.Errorf("model entry missing model_id")
		}
		if seen[m.ModelID] {
			return fmt.Errorf("duplicate model id: %s", m.ModelID)
		}
		seen[m.ModelID] = true
		switch m.Provider {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("model %s references unknown provider: %s", m.ModelID, m.Provider)
		}
	}
	return nil
}

// EnabledProviders returns the provider names that have credentials.
func (c *Config) EnabledProviders() []string {
	var names []string
	if c.Providers.OpenAI != nil && c.Providers.OpenAI.APIKey != "" {
		names = append(names, "openai")
	}
	if c.Providers.Anthropic != nil && c.Providers.Anthropic.APIKey != "" {
		names = append(names, "anthropic")
	}
	return names
}

// SaveToFile writes the current configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
