package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/esg-extract/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Health     HealthConfig     `yaml:"health" mapstructure:"health"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings for extraction.
type AnthropicConfig struct {
	Key                string  `yaml:"key" mapstructure:"key"`
	BaseURL            string  `yaml:"base_url" mapstructure:"base_url"`
	Model              string  `yaml:"model" mapstructure:"model"`
	MaxTokens          int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature        float64 `yaml:"temperature" mapstructure:"temperature"`
	AttemptTimeoutSecs int     `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
	MaxInputChars      int     `yaml:"max_input_chars" mapstructure:"max_input_chars"`
}

// RetryConfig configures the AI call retry policy.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the AI circuit breaker. A zero threshold disables it.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// HealthConfig configures the AI availability probe.
type HealthConfig struct {
	Enabled      bool `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSecs  int  `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CacheTTLSecs int  `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// ExtractConfig configures document handling.
type ExtractConfig struct {
	PDFMaxPages     int   `yaml:"pdf_max_pages" mapstructure:"pdf_max_pages"`
	MaxUploadBytes  int64 `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	FallbackEnabled bool  `yaml:"fallback_enabled" mapstructure:"fallback_enabled"`
	// FallbackReserveSecs is cut from a request's deadline for the AI
	// strategy so the fallback still has time to run.
	FallbackReserveSecs int `yaml:"fallback_reserve_secs" mapstructure:"fallback_reserve_secs"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	UploadRPS          float64  `yaml:"upload_rps" mapstructure:"upload_rps"`
	UploadBurst        int      `yaml:"upload_burst" mapstructure:"upload_burst"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// MonitoringConfig configures outcome monitoring and alerting.
type MonitoringConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FallbackRateThreshold float64 `yaml:"fallback_rate_threshold" mapstructure:"fallback_rate_threshold"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD      float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// PricingConfig holds per-model token pricing.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ESG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.temperature", 0.1)
	v.SetDefault("anthropic.attempt_timeout_secs", 45)
	v.SetDefault("anthropic.max_input_chars", 30000)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff_ms", 2000)
	v.SetDefault("retry.max_backoff_ms", 60000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.0)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("health.enabled", true)
	v.SetDefault("health.timeout_secs", 10)
	v.SetDefault("health.cache_ttl_secs", 30)
	v.SetDefault("extract.pdf_max_pages", 2)
	v.SetDefault("extract.max_upload_bytes", 10<<20)
	v.SetDefault("extract.fallback_enabled", true)
	v.SetDefault("extract.fallback_reserve_secs", 15)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "esg.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.upload_rps", 1.0)
	v.SetDefault("server.upload_burst", 5)
	v.SetDefault("server.request_timeout_secs", 300)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.fallback_rate_threshold", 0.5)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("pricing.anthropic", map[string]any{
		"claude-haiku-4-5-20251001":  map[string]any{"input": 1.00, "output": 5.00},
		"claude-sonnet-4-5-20250929": map[string]any{"input": 3.00, "output": 15.00},
	})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return eris.Errorf("config: retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Extract.PDFMaxPages < 1 {
		return eris.Errorf("config: extract.pdf_max_pages must be >= 1, got %d", c.Extract.PDFMaxPages)
	}
	if c.Anthropic.MaxInputChars < 1 {
		return eris.Errorf("config: anthropic.max_input_chars must be >= 1, got %d", c.Anthropic.MaxInputChars)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Server.RequestTimeoutSecs > 0 {
		budget := c.AICeiling() + time.Duration(c.Extract.FallbackReserveSecs)*time.Second
		if timeout := time.Duration(c.Server.RequestTimeoutSecs) * time.Second; budget >= timeout {
			return eris.Errorf("config: AI retry ceiling %s plus fallback reserve %ds must be below server.request_timeout_secs (%s)",
				c.AICeiling(), c.Extract.FallbackReserveSecs, timeout)
		}
	}
	return nil
}

// AICeiling is the longest the AI retry loop can run: every attempt hitting
// its timeout plus the worst-case backoff between them. Zero when attempts
// have no timeout.
func (c *Config) AICeiling() time.Duration {
	if c.Anthropic.AttemptTimeoutSecs <= 0 {
		return 0
	}
	retry := resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs, c.Retry.Multiplier, 0)
	ceiling := time.Duration(retry.MaxAttempts) * time.Duration(c.Anthropic.AttemptTimeoutSecs) * time.Second
	for _, d := range resilience.Schedule(retry, retry.MaxAttempts-1) {
		ceiling += d
		if c.Retry.JitterFraction > 0 {
			ceiling += time.Duration(float64(d) * c.Retry.JitterFraction)
		}
	}
	return ceiling
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
