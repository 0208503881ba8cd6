// Package config holds the process-level configuration (data directories,
// server ports, logging) loaded through viper, and the per-job Settings
// document validation that backs Configuration.settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-level configuration: where things live on disk and
// how the process talks about itself, as opposed to the per-job Settings
// document a user edits in the UI.
type Config struct {
	DataDir  DataDirConfig `mapstructure:"data_dir"`
	Server   ServerConfig  `mapstructure:"server"`
	Log      LogConfig     `mapstructure:"log"`
	Worker   WorkerConfig  `mapstructure:"worker"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// ProvidersConfig carries the base URLs each provider client is built
// against. API keys never live here — those are resolved per job through
// the SecretsVault and injected at client-construction time.
type ProvidersConfig struct {
	OpenAIBaseURL       string        `mapstructure:"openai_base_url"`
	OpenAIVisionBaseURL string        `mapstructure:"openai_vision_base_url"`
	PiAPIBaseURL        string        `mapstructure:"piapi_base_url"`
	RunwareBaseURL      string        `mapstructure:"runware_base_url"`
	RemoveBgBaseURL     string        `mapstructure:"removebg_base_url"`
	RemoveBgTimeout     time.Duration `mapstructure:"removebg_timeout"`
}

// DataDirConfig locates the single data directory described in spec §6:
// catalog.sqlite, legacy-db-backups/, and pictures/{toupload,generated}/.
type DataDirConfig struct {
	Root              string `mapstructure:"root"`
	LegacyBackupsName string `mapstructure:"legacy_backups_name"`
	PicturesName      string `mapstructure:"pictures_name"`
}

// ServerConfig configures the optional admin/monitoring HTTP surface
// (cmd/genimagefactory-web). The core CLI never reads this.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig mirrors the rotation knobs internal/logging wires into
// lumberjack when Output is "file" and Filename is set.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// WorkerConfig carries worker tuning knobs. MaxPoolSize sizes the provider
// clients' rate limiters (internal/wiring); JobRunner's pool uses its own
// fixed cap. GracefulStopGrace and IdleTeardown are loaded but not read by
// any component.
type WorkerConfig struct {
	MaxPoolSize       int           `mapstructure:"max_pool_size"`
	GracefulStopGrace time.Duration `mapstructure:"graceful_stop_grace"`
	IdleTeardown      time.Duration `mapstructure:"idle_teardown"`
}

// MetricsConfig toggles the prometheus registry exposed by the admin
// surface.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from an optional file plus environment
// variables (GENIMAGEFACTORY_* prefix, underscores for nesting).
func Load(configPath string) (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("genimagefactory")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("data_dir.root", "")
	viper.SetDefault("data_dir.legacy_backups_name", "legacy-db-backups")
	viper.SetDefault("data_dir.pictures_name", "pictures")

	viper.SetDefault("server.port", 8787)
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("worker.max_pool_size", 4)
	viper.SetDefault("worker.graceful_stop_grace", "10s")
	viper.SetDefault("worker.idle_teardown", "2s")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("providers.openai_base_url", "https://api.openai.com")
	viper.SetDefault("providers.openai_vision_base_url", "https://api.openai.com")
	viper.SetDefault("providers.piapi_base_url", "https://api.piapi.ai")
	viper.SetDefault("providers.runware_base_url", "https://api.runware.ai")
	viper.SetDefault("providers.removebg_base_url", "https://api.remove.bg")
	viper.SetDefault("providers.removebg_timeout", "30s")
}

// Validate checks structural invariants of the process config.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if c.Worker.MaxPoolSize <= 0 {
		return fmt.Errorf("worker.max_pool_size must be positive")
	}
	return nil
}

// IsDebug reports whether the log level is "debug". It does not affect
// rotation, which depends only on log.output and log.filename.
func (c *Config) IsDebug() bool {
	return strings.EqualFold(c.Log.Level, "debug")
}
