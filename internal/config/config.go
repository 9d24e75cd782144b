package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Import    ImportConfig    `yaml:"import" mapstructure:"import"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // postgres or sqlite
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	ExtractModel   string `yaml:"extract_model" mapstructure:"extract_model"`
	DocumentModel  string `yaml:"document_model" mapstructure:"document_model"`
	MaxOutputToken int64  `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
}

// ImportConfig configures the BOQ import pipeline.
type ImportConfig struct {
	ChunkSize         int `yaml:"chunk_size" mapstructure:"chunk_size"`
	MaxFileBytes      int `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
	SamplePerCategory int `yaml:"sample_per_category" mapstructure:"sample_per_category"`
	ChunkDelayMillis  int `yaml:"chunk_delay_millis" mapstructure:"chunk_delay_millis"`
	MinPDFTextChars   int `yaml:"min_pdf_text_chars" mapstructure:"min_pdf_text_chars"`
}

// RateLimitConfig configures the per-user fixed-window limiter on imports.
type RateLimitConfig struct {
	WindowSecs  int `yaml:"window_secs" mapstructure:"window_secs"`
	MaxRequests int `yaml:"max_requests" mapstructure:"max_requests"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	APITokens      []string `yaml:"api_tokens" mapstructure:"api_tokens"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CARBON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.document_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_output_tokens", 4096)
	v.SetDefault("import.chunk_size", 12000)
	v.SetDefault("import.max_file_bytes", 20*1024*1024)
	v.SetDefault("import.sample_per_category", 8)
	v.SetDefault("import.chunk_delay_millis", 500)
	v.SetDefault("import.min_pdf_text_chars", 100)
	v.SetDefault("rate_limit.window_secs", 60)
	v.SetDefault("rate_limit.max_requests", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
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
