package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goodtune/pedometer/internal/config"
	"github.com/goodtune/pedometer/internal/pedometer"
	"github.com/goodtune/pedometer/internal/permission"
	"github.com/goodtune/pedometer/internal/sensor"
	"github.com/goodtune/pedometer/internal/sensor/redisbus"
	"github.com/goodtune/pedometer/internal/storage"
	"github.com/goodtune/pedometer/internal/storage/bolt"
	"github.com/goodtune/pedometer/internal/storage/redis"
	"github.com/goodtune/pedometer/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

// permissionsFileSuffix names the preference file holding permission grants.
const permissionsFileSuffix = ".permissions"

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path)
	case "sqlite":
		return sqlite.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// openSensors builds the configured sensor manager. The Redis bus reuses the
// store's client when storage is Redis too.
func openSensors(cfg *config.Config, store storage.Store, logger zerolog.Logger) (sensor.Manager, io.Closer, error) {
	switch cfg.Sensor.Source {
	case "replay":
		replay, err := sensor.OpenReplay(cfg.Sensor.ReplayPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return replay, replay, nil

	case "redis", "":
		if rs, ok := store.(*redis.Store); ok {
			bus := redisbus.New(rs.Client(), cfg.Sensor.ChannelPrefix, logger)
			return bus, bus, nil
		}
		client, err := redis.NewClient(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		bus := redisbus.New(client, cfg.Sensor.ChannelPrefix, logger)
		return bus, closerFunc(func() error {
			_ = bus.Close()
			return client.Close()
		}), nil

	default:
		return nil, nil, fmt.Errorf("unsupported sensor source: %s", cfg.Sensor.Source)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// newPedometer wires the permission gate and the pedometer on top of an
// opened store.
func newPedometer(cfg *config.Config, store storage.Store, sensors sensor.Manager, scheduler pedometer.BackgroundScheduler, clock pedometer.Clock, logger zerolog.Logger) (*pedometer.Pedometer, *permission.Policy, error) {
	policy, err := permission.NewPolicy(cfg.Permission.PolicyDir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize permission policy: %w", err)
	}

	checker := permission.NewStoreChecker(
		store.Preferences(cfg.Storage.PreferencesName+permissionsFileSuffix),
		cfg.Permission.Granted,
		logger,
	)
	gate := permission.NewGate(policy, checker, cfg.Permission.PlatformLevel, logger)

	loc, err := cfg.Tracking.Location()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid tracking timezone: %w", err)
	}

	p := pedometer.New(pedometer.Config{
		Location:           loc,
		BackgroundInterval: parseDuration(cfg.Tracking.BackgroundInterval, pedometer.DefaultBackgroundInterval),
		RangeCacheSize:     cfg.Tracking.RangeCacheSize,
	}, pedometer.Deps{
		Preferences: store.Preferences(cfg.Storage.PreferencesName),
		Sensors:     sensors,
		Gate:        gate,
		Scheduler:   scheduler,
		Clock:       clock,
	}, logger)

	return p, policy, nil
}

// loadCommandConfig loads configuration for the one-shot commands, which log
// errors only.
func loadCommandConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
	return cfg, logger, nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
