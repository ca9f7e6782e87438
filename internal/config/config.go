package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"qubic-netstats/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sampling  SamplingConfig  `mapstructure:"sampling"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Qubic     QubicConfig     `mapstructure:"qubic"`
	Cache     CacheConfig     `mapstructure:"cache"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout"`
}

// SamplingConfig tunes the sampling engine and period aggregator.
type SamplingConfig struct {
	MinInterval    time.Duration `mapstructure:"min_interval"`
	RecoveryWindow time.Duration `mapstructure:"recovery_window"`
	Threshold      float64       `mapstructure:"threshold"`
	WindowSize     int           `mapstructure:"window_size"`
	QLIHistory     int           `mapstructure:"qli_history"`
	AnchorWeekday  string        `mapstructure:"anchor_weekday"`
	AnchorHour     int           `mapstructure:"anchor_hour"`
}

// SourcesConfig lists upstream telemetry endpoints.
type SourcesConfig struct {
	QubicBaseURL     string        `mapstructure:"qubic_base_url"`
	ApoolBaseURL     string        `mapstructure:"apool_base_url"`
	SolutionsBaseURL string        `mapstructure:"solutions_base_url"`
	MinerlabBaseURL  string        `mapstructure:"minerlab_base_url"`
	ExchangeRateURL  string        `mapstructure:"exchange_rate_url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	Concurrency      int           `mapstructure:"concurrency"`
}

// QubicConfig carries credentials for the Qubic API.
type QubicConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	LoginRetries int           `mapstructure:"login_retries"`
	LoginBackoff time.Duration `mapstructure:"login_backoff"`
}

// CacheConfig controls the snapshot cache.
type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("NETSTATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "netstats")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x71756263))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.cycle_timeout", "2m")

	v.SetDefault("sampling.min_interval", "5m")
	v.SetDefault("sampling.recovery_window", "5m")
	v.SetDefault("sampling.threshold", 0.5)
	v.SetDefault("sampling.window_size", 5)
	v.SetDefault("sampling.qli_history", 5)
	v.SetDefault("sampling.anchor_weekday", "wednesday")
	v.SetDefault("sampling.anchor_hour", 12)

	v.SetDefault("sources.qubic_base_url", "https://api.qubic.li")
	v.SetDefault("sources.apool_base_url", "https://client.apool.io")
	v.SetDefault("sources.solutions_base_url", "https://pool.qubic.solutions")
	v.SetDefault("sources.minerlab_base_url", "https://minerlab-qubic.azure-api.net/rest/v1")
	v.SetDefault("sources.exchange_rate_url", "https://open.er-api.com/v6/latest/USD")
	v.SetDefault("sources.request_timeout", "10s")
	v.SetDefault("sources.user_agent", "")
	v.SetDefault("sources.concurrency", 4)

	v.SetDefault("qubic.login_retries", 3)
	v.SetDefault("qubic.login_backoff", "2s")

	v.SetDefault("cache.ttl", "5m")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.cors_origins", []string{"https://tool.qubic.site", "http://localhost:3000"})

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 5000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Sampling.MinInterval <= 0 {
		return fmt.Errorf("sampling.min_interval must be greater than zero")
	}
	if c.Sampling.Threshold <= 0 {
		return fmt.Errorf("sampling.threshold must be greater than zero")
	}
	if c.Sampling.WindowSize < 2 {
		return fmt.Errorf("sampling.window_size must be at least 2")
	}
	if c.Sampling.AnchorHour < 0 || c.Sampling.AnchorHour > 23 {
		return fmt.Errorf("sampling.anchor_hour must be between 0 and 23")
	}
	if c.Sources.Concurrency <= 0 {
		return fmt.Errorf("sources.concurrency must be greater than zero")
	}
	if c.Qubic.LoginRetries <= 0 {
		return fmt.Errorf("qubic.login_retries must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
