// Package config loads application configuration from file and environment
// and wires the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Circuit  CircuitConfig  `yaml:"circuit" mapstructure:"circuit"`
	Resolver ResolverConfig `yaml:"resolver" mapstructure:"resolver"`
	Sources  SourcesConfig  `yaml:"sources" mapstructure:"sources"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	// Driver selects the store implementation: "sqlite" or "postgres".
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CircuitConfig configures the circuit breaker thresholds.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold" mapstructure:"success_threshold"`
	TimeoutMinutes   int `yaml:"timeout_minutes" mapstructure:"timeout_minutes"`
}

// OpenTimeout returns the open-circuit cooldown as a duration.
func (c CircuitConfig) OpenTimeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// ResolverConfig configures team name resolution.
type ResolverConfig struct {
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	AutoCreate     bool    `yaml:"auto_create" mapstructure:"auto_create"`
}

// SourcesConfig configures the stats sources.
type SourcesConfig struct {
	JobsFile  string          `yaml:"jobs_file" mapstructure:"jobs_file"`
	UserAgent string          `yaml:"user_agent" mapstructure:"user_agent"`
	Statsfeed StatsfeedConfig `yaml:"statsfeed" mapstructure:"statsfeed"`
	ESPN      ESPNConfig      `yaml:"espn" mapstructure:"espn"`
}

// StatsfeedConfig holds the statsfeed API settings.
type StatsfeedConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// ESPNConfig holds the ESPN API settings.
type ESPNConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("STATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "statsync.db")
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.success_threshold", 2)
	v.SetDefault("circuit.timeout_minutes", 30)
	v.SetDefault("resolver.fuzzy_threshold", 0.85)
	v.SetDefault("resolver.auto_create", true)
	v.SetDefault("sources.jobs_file", "jobs.yaml")
	v.SetDefault("sources.user_agent", "statsync/1.0")
	v.SetDefault("sources.statsfeed.base_url", "https://api.statsfeed.example.com/v1")
	v.SetDefault("sources.espn.base_url", "https://site.api.espn.com/apis/site/v2")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
