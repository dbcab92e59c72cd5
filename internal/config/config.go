// Package config loads zbxrelay settings through Viper and builds the logger.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the typed view of all settings.
type Config struct {
	Zabbix   ZabbixConfig   `mapstructure:"zabbix"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Format   FormatConfig   `mapstructure:"format"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ZabbixConfig struct {
	URL          string        `mapstructure:"url"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ProblemLimit int           `mapstructure:"problem_limit"`
	BearerAuth   bool          `mapstructure:"bearer_auth"`
}

type TelegramConfig struct {
	Token         string        `mapstructure:"token"`
	ChatID        string        `mapstructure:"chat_id"`
	APIURL        string        `mapstructure:"api_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	MinLength     int           `mapstructure:"min_length"`
}

// RelayConfig holds the poll loop timings. Intervals are whole seconds to
// match the historical environment variables.
type RelayConfig struct {
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	StartupDelaySeconds int    `mapstructure:"startup_delay_seconds"`
	ProbeAttempts       int    `mapstructure:"probe_attempts"`
	ProbeDelaySeconds   int    `mapstructure:"probe_delay_seconds"`
	MonotonicWatermark  bool   `mapstructure:"monotonic_watermark"`
	StateFile           string `mapstructure:"state_file"`
}

type FormatConfig struct {
	Title     string `mapstructure:"title"`
	Timezone  string `mapstructure:"timezone"`
	MinLength int    `mapstructure:"min_length"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// legacyEnv maps keys to the environment variable names deployments
// already use. The ZBXRELAY_ prefixed form is always accepted too.
var legacyEnv = map[string]string{
	"zabbix.url":                  "ZABBIX_URL",
	"zabbix.user":                 "ZABBIX_USER",
	"zabbix.password":             "ZABBIX_PASSWORD",
	"zabbix.timeout":              "ZABBIX_TIMEOUT",
	"telegram.token":              "TELEGRAM_TOKEN",
	"telegram.chat_id":            "TELEGRAM_CHAT_ID",
	"relay.poll_interval_seconds": "POLL_INTERVAL",
	"relay.startup_delay_seconds": "STARTUP_DELAY",
	"format.timezone":             "TZ_DISPLAY",
}

const envPrefix = "ZBXRELAY"

// Load reads configuration from defaults, an optional YAML file and the
// environment. A missing config file is not an error.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("zbxrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/zbxrelay")
	}

	// ZBXRELAY_RELAY_POLL_INTERVAL_SECONDS=60
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("zabbix.url", "http://zabbix-web:8080/zabbix/api_jsonrpc.php")
	v.SetDefault("zabbix.user", "Admin")
	v.SetDefault("zabbix.password", "zabbix")
	v.SetDefault("zabbix.timeout", "10s")
	v.SetDefault("zabbix.problem_limit", 10)
	v.SetDefault("zabbix.bearer_auth", false)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", "10s")
	v.SetDefault("telegram.rate_per_second", 1.0)
	v.SetDefault("telegram.min_length", 10)

	v.SetDefault("relay.poll_interval_seconds", 300)
	v.SetDefault("relay.startup_delay_seconds", 60)
	v.SetDefault("relay.probe_attempts", 30)
	v.SetDefault("relay.probe_delay_seconds", 10)
	v.SetDefault("relay.monotonic_watermark", false)
	v.SetDefault("relay.state_file", "")

	v.SetDefault("format.title", "Zabbix Alert")
	v.SetDefault("format.timezone", "Local")
	v.SetDefault("format.min_length", 20)

	v.SetDefault("server.addr", "127.0.0.1:9810")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings for values the relay cannot run with.
// Missing Telegram credentials are allowed: delivery then degrades to a
// logged no-op.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Zabbix.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("zabbix.url %q must be an absolute URL", c.Zabbix.URL))
	}
	if c.Zabbix.Timeout <= 0 {
		errs = append(errs, errors.New("zabbix.timeout must be positive"))
	}
	if c.Zabbix.ProblemLimit <= 0 {
		errs = append(errs, errors.New("zabbix.problem_limit must be positive"))
	}
	if c.Telegram.Timeout <= 0 {
		errs = append(errs, errors.New("telegram.timeout must be positive"))
	}
	if c.Telegram.RatePerSecond < 0 {
		errs = append(errs, errors.New("telegram.rate_per_second must not be negative"))
	}
	if c.Relay.PollIntervalSeconds <= 0 {
		errs = append(errs, errors.New("relay.poll_interval_seconds must be positive"))
	}
	if c.Relay.StartupDelaySeconds < 0 {
		errs = append(errs, errors.New("relay.startup_delay_seconds must not be negative"))
	}
	if c.Relay.ProbeAttempts < 1 {
		errs = append(errs, errors.New("relay.probe_attempts must be at least 1"))
	}
	if c.Relay.ProbeDelaySeconds < 0 {
		errs = append(errs, errors.New("relay.probe_delay_seconds must not be negative"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Relay.PollIntervalSeconds) * time.Second
}

func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.Relay.StartupDelaySeconds) * time.Second
}

func (c *Config) ProbeDelay() time.Duration {
	return time.Duration(c.Relay.ProbeDelaySeconds) * time.Second
}

// Location resolves format.timezone. "" and "Local" mean the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Format.Timezone == "" || c.Format.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Format.Timezone)
	if err != nil {
		return nil, fmt.Errorf("format.timezone %q: %w", c.Format.Timezone, err)
	}
	return loc, nil
}

// LogFields summarizes the settings for the startup log. Secrets are
// reported only as present or absent.
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("zabbix_url", c.Zabbix.URL),
		zap.String("zabbix_user", c.Zabbix.User),
		zap.Bool("telegram_token_set", c.Telegram.Token != ""),
		zap.Bool("telegram_chat_id_set", c.Telegram.ChatID != ""),
		zap.Duration("poll_interval", c.PollInterval()),
		zap.Duration("startup_delay", c.StartupDelay()),
		zap.Int("probe_attempts", c.Relay.ProbeAttempts),
		zap.Bool("persistent_watermark", c.Relay.StateFile != ""),
		zap.String("server_addr", c.Server.Addr),
	}
}
