package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"spot-price-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Server     ServerConfig     `mapstructure:"server"`
	Prices     PricesConfig     `mapstructure:"prices"`
	Prediction PredictionConfig `mapstructure:"prediction"`
	Weather    WeatherConfig    `mapstructure:"weather"`
	Push       PushConfig       `mapstructure:"push"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
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
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ServerConfig covers the HTTP API surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CronSecret      string        `mapstructure:"cron_secret"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PricesConfig captures spot price source connectivity.
type PricesConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// PredictionConfig captures the forecast curve source.
type PredictionConfig struct {
	URL               string        `mapstructure:"url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	SnapshotOnTick    bool          `mapstructure:"snapshot_on_tick"`
	SnapshotRetention time.Duration `mapstructure:"snapshot_retention"`
}

// WeatherConfig captures the temperature source.
type WeatherConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Latitude       float64       `mapstructure:"latitude"`
	Longitude      float64       `mapstructure:"longitude"`
	Timezone       string        `mapstructure:"timezone"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PushConfig holds VAPID material for web push delivery.
type PushConfig struct {
	VAPIDPublicKey  string        `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string        `mapstructure:"vapid_private_key"`
	Subject         string        `mapstructure:"subject"`
	TTL             int           `mapstructure:"ttl"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines thresholds and throttling.
type AlertingConfig struct {
	DefaultLowThreshold  float64       `mapstructure:"default_low_threshold"`
	DefaultHighThreshold float64       `mapstructure:"default_high_threshold"`
	MinInterval          time.Duration `mapstructure:"min_interval"`
	MinPriceChange       float64       `mapstructure:"min_price_change"`
	MaxParallel          int           `mapstructure:"max_parallel"`
	ClickURL             string        `mapstructure:"click_url"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPOTWATCHER")
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
	v.SetDefault("app.name", "spotwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x73706f74))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("prices.base_url", "https://sahkotin.fi")
	v.SetDefault("prices.request_timeout", "10s")
	v.SetDefault("prices.user_agent", "spotwatcher/1.0")
	v.SetDefault("prices.max_retries", 3)

	v.SetDefault("prediction.url", "https://raw.githubusercontent.com/vividfog/nordpool-predict-fi/main/deploy/prediction.json")
	v.SetDefault("prediction.request_timeout", "10s")
	v.SetDefault("prediction.snapshot_on_tick", true)
	v.SetDefault("prediction.snapshot_retention", "2160h")

	v.SetDefault("weather.base_url", "https://api.open-meteo.com")
	v.SetDefault("weather.latitude", 60.17)
	v.SetDefault("weather.longitude", 24.94)
	v.SetDefault("weather.timezone", "Europe/Helsinki")
	v.SetDefault("weather.request_timeout", "10s")

	v.SetDefault("push.subject", "mailto:admin@spothinta.app")
	v.SetDefault("push.ttl", 3600)
	v.SetDefault("push.request_timeout", "10s")

	v.SetDefault("alerting.default_low_threshold", 3.0)
	v.SetDefault("alerting.default_high_threshold", 15.0)
	v.SetDefault("alerting.min_interval", "1h")
	v.SetDefault("alerting.min_price_change", 0.5)
	v.SetDefault("alerting.max_parallel", 8)
	v.SetDefault("alerting.click_url", "/")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Alerting.MinInterval <= 0 {
		return fmt.Errorf("alerting.min_interval must be greater than zero")
	}
	if c.Alerting.MinPriceChange < 0 {
		return fmt.Errorf("alerting.min_price_change cannot be negative")
	}
	if c.Alerting.DefaultLowThreshold >= c.Alerting.DefaultHighThreshold {
		return fmt.Errorf("alerting.default_low_threshold must be below default_high_threshold")
	}
	if c.Alerting.MaxParallel <= 0 {
		return fmt.Errorf("alerting.max_parallel must be greater than zero")
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("push.vapid_public_key 与 push.vapid_private_key 必须成对配置")
	}
	return nil
}

// PushConfigured reports whether the VAPID keypair is present.
func (c *Config) PushConfigured() bool {
	return c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != ""
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
