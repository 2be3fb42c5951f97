package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a string ("60s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents ~/.shopchat/config.toml.
type Config struct {
	User   UserConfig   `toml:"user"`
	Hub    HubConfig    `toml:"hub"`
	Server ServerConfig `toml:"server"`
	Chat   ChatConfig   `toml:"chat"`
	Log    LogConfig    `toml:"log"`
}

type UserConfig struct {
	ID          string `toml:"id"`
	DisplayName string `toml:"display_name"`
}

type HubConfig struct {
	URL string `toml:"url"`
}

type ServerConfig struct {
	Listen            string         `toml:"listen"`
	AdminToken        string         `toml:"admin_token"`
	EnforceEditWindow bool           `toml:"enforce_edit_window"`
	RateLimit         float64        `toml:"rate_limit"`
	RateBurst         int            `toml:"rate_burst"`
	DataDir           string         `toml:"data_dir"`
	Database          DatabaseConfig `toml:"database"`
	Redis             RedisConfig    `toml:"redis"`
	AMQP              AMQPConfig     `toml:"amqp"`
	Tracing           TracingConfig  `toml:"tracing"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type RedisConfig struct {
	Addr   string `toml:"addr"`
	Prefix string `toml:"prefix"`
}

type AMQPConfig struct {
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

type TracingConfig struct {
	Endpoint    string  `toml:"endpoint"`
	SampleRatio float64 `toml:"sample_ratio"`
}

type ChatConfig struct {
	TypingInterval    Duration `toml:"typing_interval"`
	TypingExpiry      Duration `toml:"typing_expiry"`
	OnlineThreshold   Duration `toml:"online_threshold"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	HistoryLimit      int      `toml:"history_limit"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Default returns the settings used for anything a file leaves out.
func Default() *Config {
	return &Config{
		Hub: HubConfig{URL: "http://127.0.0.1:8420"},
		Server: ServerConfig{
			Listen:    "127.0.0.1:8420",
			RateLimit: 20,
			RateBurst: 40,
			Database:  DatabaseConfig{Driver: "sqlite3"},
			Redis:     RedisConfig{Prefix: "shopchat:"},
			AMQP:      AMQPConfig{Exchange: "shopchat.audit"},
			Tracing:   TracingConfig{SampleRatio: 1},
		},
		Chat: ChatConfig{
			TypingInterval:    Duration{time.Second},
			TypingExpiry:      Duration{3 * time.Second},
			OnlineThreshold:   Duration{5 * time.Minute},
			HeartbeatInterval: Duration{time.Minute},
			HistoryLimit:      200,
		},
		Log: LogConfig{Level: "info", MaxSizeMB: 20, MaxBackups: 5},
	}
}

// Load reads config from path over Default. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ApplyEnv overrides file values with SHOPCHAT_* variables from getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("SHOPCHAT_USER", &cfg.User.ID)
	str("SHOPCHAT_DISPLAY_NAME", &cfg.User.DisplayName)
	str("SHOPCHAT_HUB_URL", &cfg.Hub.URL)
	str("SHOPCHAT_LISTEN", &cfg.Server.Listen)
	str("SHOPCHAT_ADMIN_TOKEN", &cfg.Server.AdminToken)
	str("SHOPCHAT_DATA_DIR", &cfg.Server.DataDir)
	str("SHOPCHAT_DB_DRIVER", &cfg.Server.Database.Driver)
	str("SHOPCHAT_DB_DSN", &cfg.Server.Database.DSN)
	str("SHOPCHAT_REDIS_ADDR", &cfg.Server.Redis.Addr)
	str("SHOPCHAT_AMQP_URL", &cfg.Server.AMQP.URL)
	str("SHOPCHAT_OTLP_ENDPOINT", &cfg.Server.Tracing.Endpoint)
	str("SHOPCHAT_LOG_LEVEL", &cfg.Log.Level)

	if v := getenv("SHOPCHAT_ENFORCE_EDIT_WINDOW"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SHOPCHAT_ENFORCE_EDIT_WINDOW: %w", err)
		}
		cfg.Server.EnforceEditWindow = b
	}
	if v := getenv("SHOPCHAT_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SHOPCHAT_RATE_LIMIT: %w", err)
		}
		cfg.Server.RateLimit = f
	}
	return nil
}
