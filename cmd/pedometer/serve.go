package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/pedometer/internal/api"
	"github.com/goodtune/pedometer/internal/background"
	"github.com/goodtune/pedometer/internal/config"
	"github.com/goodtune/pedometer/internal/metrics"
	"github.com/goodtune/pedometer/internal/pedometer"
	"github.com/goodtune/pedometer/internal/permission"
	"github.com/goodtune/pedometer/internal/sensor"
	"github.com/goodtune/pedometer/internal/systemd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pedometer service",
	Long:  `Start step tracking, background re-registration, the query API and the metrics endpoint.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting pedometer")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("preferences", cfg.Storage.PreferencesName).
		Msg("Storage initialized")

	// Initialize sensor source
	sensors, sensorCloser, err := openSensors(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize sensor source: %w", err)
	}
	defer func() {
		if err := sensorCloser.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close sensor source")
		}
	}()

	logger.Info().Str("source", cfg.Sensor.Source).Msg("Sensor source initialized")

	// Initialize background scheduler
	var notifier background.Notifier = background.LogNotifier{Logger: logger}
	if systemd.IsSystemdService() {
		notifier = systemd.StatusNotifier{}
	}
	scheduler := background.NewScheduler(logger)
	tracking := background.NewTracking(scheduler, background.NewTrackingWorker(nil, notifier, logger))

	// Initialize pedometer
	p, policy, err := newPedometer(cfg, store, sensors, tracking, pedometer.RealClock{}, logger)
	if err != nil {
		return err
	}
	var launcher permission.Launcher = permission.StaticLauncher{Allow: cfg.Permission.Granted}
	if cfg.Permission.Prompt {
		launcher = permission.PromptLauncher{In: os.Stdin, Out: os.Stdout}
	}
	p.Register(launcher)
	pedometer.Initialize(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	granted := p.IsGranted(ctx)
	if !granted {
		granted, err = p.RequestPermission(ctx)
		if err != nil {
			return fmt.Errorf("failed to request step counter permission: %w", err)
		}
	}

	if granted {
		if err := p.StartStepsTracking(ctx); err != nil {
			return fmt.Errorf("failed to start step tracking: %w", err)
		}
		if cfg.Tracking.BackgroundEnabled {
			if err := p.StartBackgroundTracking(ctx, pedometer.Notification{
				Title:       cfg.Tracking.NotificationTitle,
				ContextText: cfg.Tracking.NotificationText,
				SmallIcon:   cfg.Tracking.NotificationIcon,
			}); err != nil {
				return err
			}
		}
	} else {
		logger.Warn().
			Str("permission", permission.ActivityRecognition).
			Msg("Step counter permission not granted, tracking disabled")
	}

	// Play back a capture when the sensor source is a replay
	if replay, ok := sensors.(*sensor.Replay); ok {
		go func() {
			count, err := replay.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Sensor replay failed")
				return
			}
			logger.Info().Int("events", count).Msg("Sensor replay complete")
		}()
	}

	// Initialize API Server
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
		apiServer = api.NewServer(api.Config{ListenAddr: apiAddr}, p, logger)
		if sdListeners.API != nil {
			apiServer.SetListener(sdListeners.API)
		}
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// Log startup complete
	logger.Info().Msg("pedometer startup complete")
	if cfg.API.Enabled {
		logger.Info().Msgf("API: http://%s:%d/v1/steps", cfg.Server.BindAddress, cfg.Server.APIPort)
	}
	logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	go systemd.RunWatchdog(ctx, logger)

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	// Signal handling loop
	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, reloading permission policy...")
			if err := policy.Reload(); err != nil {
				logger.Error().Err(err).Msg("Failed to reload permission policy")
			} else {
				logger.Info().Msg("Permission policy reloaded successfully")
			}
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	cancel()
	scheduler.Stop()

	if err := p.Close(); err != nil {
		logger.Error().Err(err).Msg("Error stopping step tracking")
	}

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error stopping API server")
		}
		shutdownCancel()
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("pedometer stopped")

	return nil
}
