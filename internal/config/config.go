package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"btcalert/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Price    PriceConfig    `mapstructure:"price"`
	Polling  PollingConfig  `mapstructure:"polling"`
	Platform PlatformConfig `mapstructure:"platform"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Server   ServerConfig   `mapstructure:"server"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// PriceConfig points the price client at the upstream API.
type PriceConfig struct {
	URL               string        `mapstructure:"url"`
	Asset             string        `mapstructure:"asset"`
	Currency          string        `mapstructure:"currency"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
}

// PollingConfig holds the interval table and retry policy.
type PollingConfig struct {
	StandardInterval      time.Duration `mapstructure:"standard_interval"`
	RestrictiveForeground time.Duration `mapstructure:"restrictive_foreground"`
	RestrictiveBackground time.Duration `mapstructure:"restrictive_background"`
	Staleness             time.Duration `mapstructure:"staleness"`
	RetryDelay            time.Duration `mapstructure:"retry_delay"`
}

// PlatformConfig selects the platform profile and screen-retention lock.
type PlatformConfig struct {
	// Profile is one of auto, restrictive, standard.
	Profile      string `mapstructure:"profile"`
	WakeLockPath string `mapstructure:"wake_lock_path"`
}

// StorageConfig selects the settings/cache backend.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	DataDir         string        `mapstructure:"data_dir"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// NotifyConfig defines the notification surface and permission prompt.
type NotifyConfig struct {
	Surface  string         `mapstructure:"surface"`
	Prompt   string         `mapstructure:"prompt"`
	Locale   string         `mapstructure:"locale"`
	Icon     string         `mapstructure:"icon"`
	Badge    string         `mapstructure:"badge"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Ntfy     NtfyConfig     `mapstructure:"ntfy"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// NtfyConfig publishes notifications to an ntfy topic URL.
type NtfyConfig struct {
	Topic string `mapstructure:"topic"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// WorkerConfig governs the background worker.
type WorkerConfig struct {
	CacheName        string        `mapstructure:"cache_name"`
	AssetRoot        string        `mapstructure:"asset_root"`
	ShellAssets      []string      `mapstructure:"shell_assets"`
	BackgroundSync   bool          `mapstructure:"background_sync"`
	SyncDelay        time.Duration `mapstructure:"sync_delay"`
	PeriodicInterval time.Duration `mapstructure:"periodic_interval"`
	OpenCommand      string        `mapstructure:"open_command"`
}

// ServerConfig exposes the UI surface.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// TracingConfig toggles OpenTelemetry.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Stdout  bool `mapstructure:"stdout"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetEnvPrefix("BTCALERT")
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

// DefaultShellAssets is the ordered manifest cached at worker install.
var DefaultShellAssets = []string{
	"./",
	"./index.html",
	"./main.js",
	"./manifest.webmanifest",
	"./icon-192.png",
	"./icon-512.png",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "btcalert")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")

	v.SetDefault("price.url", "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=eur")
	v.SetDefault("price.asset", "bitcoin")
	v.SetDefault("price.currency", "eur")
	v.SetDefault("price.request_timeout", "10s")
	v.SetDefault("price.requests_per_minute", 20)
	v.SetDefault("price.burst", 3)

	v.SetDefault("polling.standard_interval", "60s")
	v.SetDefault("polling.restrictive_foreground", "30s")
	v.SetDefault("polling.restrictive_background", "60s")
	v.SetDefault("polling.staleness", "60s")
	v.SetDefault("polling.retry_delay", "30s")

	v.SetDefault("platform.profile", "auto")
	v.SetDefault("platform.wake_lock_path", "")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.max_open_conns", 4)
	v.SetDefault("storage.max_idle_conns", 1)
	v.SetDefault("storage.conn_max_lifetime", "30m")

	v.SetDefault("notify.surface", "log")
	v.SetDefault("notify.prompt", "terminal")
	v.SetDefault("notify.locale", "de")
	v.SetDefault("notify.icon", "icon-192.png")
	v.SetDefault("notify.badge", "icon-192.png")
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("worker.cache_name", "btc-alert-v1")
	v.SetDefault("worker.asset_root", "")
	v.SetDefault("worker.shell_assets", DefaultShellAssets)
	v.SetDefault("worker.background_sync", true)
	v.SetDefault("worker.sync_delay", "60s")
	v.SetDefault("worker.periodic_interval", "15m")

	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.cors_origins", []string{"http://127.0.0.1:8080", "http://localhost:8080"})

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.stdout", false)
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
	if c.Price.URL == "" {
		return fmt.Errorf("price.url is required")
	}
	if c.Price.Asset == "" || c.Price.Currency == "" {
		return fmt.Errorf("price.asset and price.currency are required")
	}
	if c.Polling.StandardInterval <= 0 || c.Polling.RestrictiveForeground <= 0 || c.Polling.RestrictiveBackground <= 0 {
		return fmt.Errorf("polling intervals must be greater than zero")
	}
	if c.Polling.Staleness < 0 || c.Polling.RetryDelay < 0 {
		return fmt.Errorf("polling.staleness and polling.retry_delay cannot be negative")
	}

	switch strings.ToLower(c.Platform.Profile) {
	case "auto", "restrictive", "standard":
	default:
		return fmt.Errorf("platform.profile must be one of auto, restrictive, standard")
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for sqlite")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, postgres, memory")
	}

	switch strings.ToLower(c.Notify.Surface) {
	case "log", "none":
	case "ntfy":
		if c.Notify.Ntfy.Topic == "" {
			return fmt.Errorf("notify.ntfy.topic must be set when notify.surface=ntfy")
		}
	case "telegram":
		if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.bot_token and notify.telegram.chat_id must be set when notify.surface=telegram")
		}
	default:
		return fmt.Errorf("notify.surface must be one of log, ntfy, telegram, none")
	}

	switch strings.ToLower(c.Notify.Prompt) {
	case "auto-grant", "deny", "terminal":
	default:
		return fmt.Errorf("notify.prompt must be one of auto-grant, deny, terminal")
	}

	if c.Worker.CacheName == "" {
		return fmt.Errorf("worker.cache_name is required")
	}
	if len(c.Worker.ShellAssets) == 0 {
		return fmt.Errorf("worker.shell_assets cannot be empty")
	}
	if c.Worker.PeriodicInterval < 0 || c.Worker.SyncDelay < 0 {
		return fmt.Errorf("worker.sync_delay and worker.periodic_interval cannot be negative")
	}
	return nil
}
