package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. Components receive the
// sections they need through their constructors; nothing reads ambient
// global state.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Escalator EscalatorConfig `yaml:"escalator" mapstructure:"escalator"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Counties  CountiesConfig  `yaml:"counties" mapstructure:"counties"`
	History   HistoryConfig   `yaml:"history" mapstructure:"history"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Intake    IntakeConfig    `yaml:"intake" mapstructure:"intake"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Sweep     SweepConfig     `yaml:"sweep" mapstructure:"sweep"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings for the risk oracle.
type AnthropicConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	Model     string  `yaml:"model" mapstructure:"model"`
	MaxTokens int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RPS       float64 `yaml:"rps" mapstructure:"rps"`
}

// EscalatorConfig bounds the risk-assessment oracle call.
type EscalatorConfig struct {
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxInputChars int `yaml:"max_input_chars" mapstructure:"max_input_chars"`
}

// ScoringConfig configures the deterministic scorer bucket thresholds.
type ScoringConfig struct {
	HotThreshold  int `yaml:"hot_threshold" mapstructure:"hot_threshold"`
	WarmThreshold int `yaml:"warm_threshold" mapstructure:"warm_threshold"`
}

// CountiesConfig points at the jurisdiction registry file.
type CountiesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// HistoryConfig configures the historical bond-book cross-reference.
type HistoryConfig struct {
	BondBookPath string `yaml:"bond_book_path" mapstructure:"bond_book_path"`
}

// NotifyConfig configures the notification dispatcher.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// IntakeConfig configures the external intake-queue sink.
type IntakeConfig struct {
	NotionToken string `yaml:"notion_token" mapstructure:"notion_token"`
	QueueDB     string `yaml:"queue_db" mapstructure:"queue_db"`
}

// IngestConfig configures batch ingestion behavior.
type IngestConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// SweepConfig configures the staleness sweep.
type SweepConfig struct {
	StaleAfterHours int `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Timeout returns the oracle call budget as a duration.
func (c EscalatorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// StaleAfter returns the staleness window as a duration.
func (c SweepConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterHours) * time.Hour
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SHAMROCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leads.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.rps", 2.0)
	v.SetDefault("escalator.timeout_secs", 8)
	v.SetDefault("escalator.max_input_chars", 300000)
	v.SetDefault("scoring.hot_threshold", 70)
	v.SetDefault("scoring.warm_threshold", 40)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("ingest.max_concurrent", 4)
	v.SetDefault("sweep.stale_after_hours", 48)

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
