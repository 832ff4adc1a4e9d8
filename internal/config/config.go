package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Sensor     SensorConfig     `mapstructure:"sensor" yaml:"sensor"`
	Permission PermissionConfig `mapstructure:"permission" yaml:"permission"`
	Tracking   TrackingConfig   `mapstructure:"tracking" yaml:"tracking"`
	API        APIConfig        `mapstructure:"api" yaml:"api"`
}

// ServerConfig defines listener addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`
	APIPort     int    `mapstructure:"api_port" yaml:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port" yaml:"metrics_port"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type            string      `mapstructure:"type" yaml:"type"` // "bolt", "redis" or "sqlite"
	Path            string      `mapstructure:"path" yaml:"path"`
	PreferencesName string      `mapstructure:"preferences_name" yaml:"preferences_name"`
	Redis           RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Password     string `mapstructure:"password" yaml:"password"`
	DB           int    `mapstructure:"db" yaml:"db"`
	PoolSize     int    `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SensorConfig defines where step-counter events come from
type SensorConfig struct {
	Source        string `mapstructure:"source" yaml:"source"` // "redis" or "replay"
	ReplayPath    string `mapstructure:"replay_path" yaml:"replay_path"`
	ChannelPrefix string `mapstructure:"channel_prefix" yaml:"channel_prefix"`
}

// PermissionConfig defines the permission gate
type PermissionConfig struct {
	PolicyDir     string   `mapstructure:"policy_dir" yaml:"policy_dir"`
	PlatformLevel int      `mapstructure:"platform_level" yaml:"platform_level"`
	Granted       []string `mapstructure:"granted" yaml:"granted"`
	Prompt        bool     `mapstructure:"prompt" yaml:"prompt"`
}

// TrackingConfig defines bucketing and background tracking
type TrackingConfig struct {
	Timezone           string `mapstructure:"timezone" yaml:"timezone"`
	BackgroundEnabled  bool   `mapstructure:"background_enabled" yaml:"background_enabled"`
	BackgroundInterval string `mapstructure:"background_interval" yaml:"background_interval"`
	NotificationTitle  string `mapstructure:"notification_title" yaml:"notification_title"`
	NotificationText   string `mapstructure:"notification_text" yaml:"notification_text"`
	NotificationIcon   string `mapstructure:"notification_icon" yaml:"notification_icon"`
	RangeCacheSize     int    `mapstructure:"range_cache_size" yaml:"range_cache_size"`
}

// APIConfig defines the query API
type APIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("PEDOMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration built from defaults alone
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.api_port", 8085)
	v.SetDefault("server.metrics_port", 9090)

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/pedometer/pedometer.bolt")
	v.SetDefault("storage.preferences_name", "io.github.lokarzz.pedometer")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Sensor defaults
	v.SetDefault("sensor.source", "redis")
	v.SetDefault("sensor.replay_path", "")
	v.SetDefault("sensor.channel_prefix", "pedometer:sensor")

	// Permission defaults
	v.SetDefault("permission.policy_dir", "")
	v.SetDefault("permission.platform_level", 29)
	v.SetDefault("permission.granted", []string{})
	v.SetDefault("permission.prompt", false)

	// Tracking defaults
	v.SetDefault("tracking.timezone", "Local")
	v.SetDefault("tracking.background_enabled", true)
	v.SetDefault("tracking.background_interval", "15m")
	v.SetDefault("tracking.notification_title", "Pedometer")
	v.SetDefault("tracking.notification_text", "Counting steps")
	v.SetDefault("tracking.notification_icon", "ic_walk")
	v.SetDefault("tracking.range_cache_size", 256)

	// API defaults
	v.SetDefault("api.enabled", true)
}

// Location resolves the configured bucketing time zone
func (c TrackingConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}
	switch cfg.Storage.Type {
	case "bolt", "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.Storage.PreferencesName == "" {
		return fmt.Errorf("storage preferences_name is required")
	}

	switch cfg.Sensor.Source {
	case "redis":
	case "replay":
		if cfg.Sensor.ReplayPath == "" {
			return fmt.Errorf("sensor replay_path is required for the replay source")
		}
	default:
		return fmt.Errorf("unsupported sensor source: %s", cfg.Sensor.Source)
	}

	if _, err := cfg.Tracking.Location(); err != nil {
		return fmt.Errorf("invalid tracking timezone: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Tracking.BackgroundInterval); err != nil {
		return fmt.Errorf("invalid background_interval: %w", err)
	}

	return nil
}
