package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/pedometer/internal/pedometer"
	"github.com/goodtune/pedometer/internal/permission"
	"github.com/goodtune/pedometer/internal/storage"
	"github.com/spf13/cobra"
)

var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Inspect or request the step counter permission",
}

var permissionCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Show whether step counting is permitted",
	RunE:  runPermissionCheck,
}

var permissionRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Ask for the step counter permission on this terminal",
	RunE:  runPermissionRequest,
}

func init() {
	permissionCmd.AddCommand(permissionCheckCmd)
	permissionCmd.AddCommand(permissionRequestCmd)
	rootCmd.AddCommand(permissionCmd)
}

func runPermissionCheck(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadCommandConfig()
	if err != nil {
		return err
	}

	return withStore(cfg, logger, func(store storage.Store) error {
		p, _, err := newPedometer(cfg, store, nil, nil, pedometer.RealClock{}, logger)
		if err != nil {
			return err
		}
		printPermission(p.IsGranted(context.Background()), cfg.Permission.PlatformLevel)
		return nil
	})
}

func runPermissionRequest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadCommandConfig()
	if err != nil {
		return err
	}

	return withStore(cfg, logger, func(store storage.Store) error {
		p, _, err := newPedometer(cfg, store, nil, nil, pedometer.RealClock{}, logger)
		if err != nil {
			return err
		}

		granted, err := p.
			Register(permission.PromptLauncher{In: os.Stdin, Out: os.Stdout}).
			RequestPermission(context.Background())
		if err != nil {
			return fmt.Errorf("permission request failed: %w", err)
		}
		printPermission(granted, cfg.Permission.PlatformLevel)
		return nil
	})
}

func printPermission(granted bool, platformLevel int) {
	bold := color.New(color.Bold)
	_, _ = bold.Printf("%s (platform level %d): ", permission.ActivityRecognition, platformLevel)
	if granted {
		_, _ = color.New(color.FgGreen, color.Bold).Println("GRANTED")
		return
	}
	_, _ = color.New(color.FgRed, color.Bold).Println("DENIED")
}
