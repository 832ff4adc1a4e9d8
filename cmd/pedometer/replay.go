package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goodtune/pedometer/internal/pedometer"
	"github.com/goodtune/pedometer/internal/sensor"
	"github.com/goodtune/pedometer/internal/storage"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Record a sensor capture into the store",
	Long: `Feed a JSON-lines step counter capture through the step reconciler and
persist the result, exactly as live tracking would.`,
	Example: `  pedometer -c config.yaml replay capture.jsonl`,
	Args:    cobra.ExactArgs(1),
	RunE:    runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadCommandConfig()
	if err != nil {
		return err
	}

	replay, err := sensor.OpenReplay(args[0], logger)
	if err != nil {
		return err
	}
	defer func() { _ = replay.Close() }()

	return withStore(cfg, logger, func(store storage.Store) error {
		p, _, err := newPedometer(cfg, store, replay, nil, pedometer.RealClock{}, logger)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()

		ctx := context.Background()
		if err := p.StartStepsTracking(ctx); err != nil {
			return err
		}

		before := p.Revision()
		count, err := replay.Run(ctx)
		if err != nil {
			return fmt.Errorf("replay failed: %w", err)
		}

		buckets, err := p.GetSteps(ctx, 0, 1<<62)
		if err != nil {
			return err
		}
		state := storage.TrackingState{Buckets: buckets}

		_, _ = color.New(color.FgGreen).Fprintf(os.Stdout, "Replayed %s events (%s writes)\n",
			humanize.Comma(int64(count)), humanize.Comma(int64(p.Revision()-before)))
		_, _ = fmt.Fprintf(os.Stdout, "Store now holds %s hourly buckets, %s steps in total\n",
			humanize.Comma(int64(len(buckets))), humanize.Comma(int64(state.Total())))
		return nil
	})
}
